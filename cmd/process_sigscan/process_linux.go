package main

import (
	"gosig/process"
	"gosig/process_linux"
)

func getProcess(pid int, name string) (process.Process, error) {
	if pid == 0 {
		return process_linux.OpenProcessByName(name)
	}
	return process_linux.NewWithPID(process.ProcessID(pid))
}
