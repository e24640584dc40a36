//go:build linux

package process_linux

import (
	"fmt"

	"gosig/module_image"
	"gosig/process"
)

// OpenProcessByName opens the lowest-PID process with the given name.
func OpenProcessByName(name string) (*LinuxProcess, error) {
	processes, err := NewProcessFinder().FindProcessByName(name)
	if err != nil {
		return nil, err
	}

	if len(processes) == 0 {
		return nil, fmt.Errorf("no process found with name '%s'", name)
	}

	lowest := processes[0]
	for _, info := range processes[1:] {
		if info.PID < lowest.PID {
			lowest = info
		}
	}

	return NewWithPID(lowest.PID)
}

// OpenModule builds a search space over a module mapped into p. Remote
// memory is slow to read piecewise, so the module is snapshotted once up front.
func OpenModule(p process.Process, name string, options ...module_image.Option) (*module_image.SearchSpace, error) {
	module, err := p.FindModule(name)
	if err != nil {
		return nil, err
	}

	options = append([]module_image.Option{module_image.WithIsolation()}, options...)
	return module_image.NewSearchSpace(p, module.Base, 0, options...)
}
