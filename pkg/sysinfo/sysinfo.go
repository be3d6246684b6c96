// Package sysinfo describes the test-bench host a run executed on.
package sysinfo

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Info is a flat description of the host.
type Info struct {
	Hostname           string  `json:"hostname"`
	OS                 string  `json:"os"`
	Platform           string  `json:"platform"`
	PlatformVersion    string  `json:"platform_version"`
	KernelVersion      string  `json:"kernel_version"`
	Arch               string  `json:"arch"`
	Virtualization     string  `json:"virtualization,omitempty"`
	VirtualizationRole string  `json:"virtualization_role,omitempty"`
	CPUVendor          string  `json:"cpu_vendor,omitempty"`
	CPUModel           string  `json:"cpu_model,omitempty"`
	CPUCores           int     `json:"cpu_cores"`
	CPUMhz             float64 `json:"cpu_mhz,omitempty"`
	MemoryTotalGB      float64 `json:"memory_total_gb"`
}

// Collect gathers host information. Host and memory data are required; CPU
// model details are best-effort since some platforms do not expose them.
func Collect(ctx context.Context) (*Info, error) {
	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading host info: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading memory info: %w", err)
	}

	info := &Info{
		Hostname:           hostInfo.Hostname,
		OS:                 hostInfo.OS,
		Platform:           hostInfo.Platform,
		PlatformVersion:    hostInfo.PlatformVersion,
		KernelVersion:      hostInfo.KernelVersion,
		Arch:               hostInfo.KernelArch,
		Virtualization:     hostInfo.VirtualizationSystem,
		VirtualizationRole: hostInfo.VirtualizationRole,
		CPUCores:           runtime.NumCPU(),
		MemoryTotalGB:      float64(vm.Total) / (1 << 30),
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil && cores > 0 {
		info.CPUCores = cores
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUVendor = cpus[0].VendorID
		info.CPUModel = cpus[0].ModelName
		info.CPUMhz = cpus[0].Mhz
	}

	return info, nil
}
