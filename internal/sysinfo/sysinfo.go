package sysinfo

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

type MemoryInfo struct {
	Total     uint64 `json:"total"`
	Available uint64 `json:"available"`
	Used      uint64 `json:"used"`
	Free      uint64 `json:"free"`
}

type DiskInfo struct {
	Path  string `json:"path"`
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
	Used  uint64 `json:"used"`
}

// Report is the memory and data-disk snapshot served to the shell.
type Report struct {
	Memory MemoryInfo `json:"memory"`
	Disk   DiskInfo   `json:"disk"`
}

// Collect gathers host memory statistics and disk usage of the data
// directory.
func Collect(dataDir string) (Report, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Report{}, fmt.Errorf("read memory stats: %w", err)
	}
	usage, err := disk.Usage(dataDir)
	if err != nil {
		return Report{}, fmt.Errorf("read disk usage: %w", err)
	}
	return Report{
		Memory: MemoryInfo{
			Total:     vm.Total,
			Available: vm.Available,
			Used:      vm.Used,
			Free:      vm.Free,
		},
		Disk: DiskInfo{
			Path:  dataDir,
			Total: usage.Total,
			Free:  usage.Free,
			Used:  usage.Used,
		},
	}, nil
}
