//go:build linux

package process_linux

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gosig/process"
)

// LinuxProcessFinder implements the process.ProcessFinder interface
type LinuxProcessFinder struct{}

// NewProcessFinder creates a new LinuxProcessFinder
func NewProcessFinder() process.ProcessFinder {
	return &LinuxProcessFinder{}
}

// FindProcessByPID finds a process by its PID
func (f *LinuxProcessFinder) FindProcessByPID(pid process.ProcessID) (*process.ProcessInfo, error) {
	procPath := fmt.Sprintf("/proc/%d", pid)

	if _, err := os.Stat(procPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("process with PID %d does not exist", pid)
	}

	return getProcessInfo(pid)
}

// FindProcessByName finds processes by their name (exact match)
func (f *LinuxProcessFinder) FindProcessByName(name string) ([]process.ProcessInfo, error) {
	return findProcessesByNamePattern("^" + regexp.QuoteMeta(name) + "$")
}

// FindProcessByNamePattern finds processes by their name (pattern match)
func (f *LinuxProcessFinder) FindProcessByNamePattern(pattern string) ([]process.ProcessInfo, error) {
	return findProcessesByNamePattern(pattern)
}

func findProcessesByNamePattern(pattern string) ([]process.ProcessInfo, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("failed to read /proc: %w", err)
	}

	var results []process.ProcessInfo

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		info, err := getProcessInfo(process.ProcessID(pid))
		if err != nil {
			// Process may have terminated while we were reading
			continue
		}

		// Wine names processes after the PE but the exe link points at the loader
		if re.MatchString(info.Name) || (len(info.Cmdline) > 0 && re.MatchString(filepath.Base(info.Cmdline[0]))) {
			results = append(results, *info)
		}
	}

	return results, nil
}

func getProcessInfo(pid process.ProcessID) (*process.ProcessInfo, error) {
	procPath := fmt.Sprintf("/proc/%d", pid)

	nameBytes, err := os.ReadFile(filepath.Join(procPath, "comm"))
	if err != nil {
		return nil, fmt.Errorf("failed to read process name: %w", err)
	}
	name := strings.TrimSpace(string(nameBytes))

	// Some processes don't have an exe (e.g., kernel threads)
	exe, _ := os.Readlink(filepath.Join(procPath, "exe"))

	cmdlineBytes, err := os.ReadFile(filepath.Join(procPath, "cmdline"))
	if err != nil {
		return nil, fmt.Errorf("failed to read process cmdline: %w", err)
	}

	var cmdline []string
	cmdlineBytes = bytes.TrimRight(cmdlineBytes, "\x00")
	if len(cmdlineBytes) > 0 {
		for _, arg := range bytes.Split(cmdlineBytes, []byte{0}) {
			cmdline = append(cmdline, string(arg))
		}
	}

	info := &process.ProcessInfo{
		PID:     pid,
		Name:    name,
		Exe:     exe,
		Cmdline: cmdline,
	}

	statusBytes, err := os.ReadFile(filepath.Join(procPath, "status"))
	if err != nil {
		return info, nil
	}

	for _, line := range strings.Split(string(statusBytes), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "PPid":
			if v, err := strconv.Atoi(value); err == nil {
				info.PPID = process.ProcessID(v)
			}
		case "Threads":
			if v, err := strconv.Atoi(value); err == nil {
				info.Threads = v
			}
		}
	}

	return info, nil
}
