package process

// ProcessID represents a unique identifier for a process
type ProcessID int

// ProcessInfo contains basic information about a process
type ProcessInfo struct {
	PID     ProcessID // Process ID
	PPID    ProcessID // Parent Process ID
	Name    string    // Process name from /proc/[pid]/comm
	Exe     string    // Path to the executable
	Cmdline []string  // Command line arguments
	Threads int       // Number of threads
}

// ModuleInfo describes an image mapped into a process.
type ModuleInfo struct {
	Name string               // Base name of the backing file
	Path string               // Full path of the backing file
	Base ProcessMemoryAddress // Lowest mapped address of the image
	Size ProcessMemorySize    // Span from Base to the end of the last mapping
}

// Range returns the span the module occupies.
func (m ModuleInfo) Range() Range {
	return Range{Address: m.Base, Size: m.Size}
}
