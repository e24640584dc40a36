package main

import (
	"fmt"

	"gosig/process"
	"gosig/process_windows"
)

func getProcess(pid int, name string) (process.Process, error) {
	if pid == 0 {
		return nil, fmt.Errorf("attaching by name is not supported here, use --pid")
	}
	return process_windows.NewWithPID(process.ProcessID(pid))
}
