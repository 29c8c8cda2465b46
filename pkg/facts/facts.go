// Package facts collects host system facts into an explicit HostContext.
// The context is constructed once at the start of a run and passed down;
// nothing is ever read back out of process-global state.
package facts

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostContext is the write-once snapshot of the host and the reported
// identity for one run. After Collect returns it is read-only.
type HostContext struct {
	// InstallID is the per-invocation installation identifier.
	InstallID string `json:"install_id"`

	// ReportedIP, ReportedPort, ReportedType echo the caller-supplied
	// target identity.
	ReportedIP   string `json:"reported_ip"`
	ReportedPort int    `json:"reported_port"`
	ReportedType string `json:"reported_type"`

	// Hostname is the kernel hostname.
	Hostname string `json:"hostname"`

	// OS identification.
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	Architecture    string `json:"architecture"`

	// Virtualization describes the detected hypervisor or container system,
	// empty on bare metal.
	Virtualization     string `json:"virtualization,omitempty"`
	VirtualizationRole string `json:"virtualization_role,omitempty"`

	// Containerized is true when the process itself runs inside a container.
	Containerized bool `json:"containerized"`

	// CPU facts.
	CPUCount int    `json:"cpu_count"`
	CPUModel string `json:"cpu_model,omitempty"`

	// Memory and root disk totals in bytes.
	MemoryTotal   uint64 `json:"memory_total"`
	RootDiskTotal uint64 `json:"root_disk_total"`

	// CollectedAt is when collection finished.
	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers host facts. Probe functions are injectable for tests.
type Collector struct {
	logger zerolog.Logger

	hostInfo   func(ctx context.Context) (*host.InfoStat, error)
	cpuCounts  func(ctx context.Context) (int, error)
	cpuInfo    func(ctx context.Context) ([]cpu.InfoStat, error)
	memInfo    func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	diskUsage  func(ctx context.Context, path string) (*disk.UsageStat, error)
	cgroupFile string
}

// NewCollector creates a collector backed by live system probes.
func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		logger:     logger.With().Str("component", "facts").Logger(),
		hostInfo:   host.InfoWithContext,
		cpuCounts:  func(ctx context.Context) (int, error) { return cpu.CountsWithContext(ctx, true) },
		cpuInfo:    cpu.InfoWithContext,
		memInfo:    mem.VirtualMemoryWithContext,
		diskUsage:  disk.UsageWithContext,
		cgroupFile: "/proc/1/cgroup",
	}
}

// Collect builds the HostContext for this run. Individual probe failures
// degrade to empty fields rather than failing collection: a host that cannot
// report its CPU model can still be deployed to.
func (c *Collector) Collect(ctx context.Context, installID, ip string, port int, hostType string) (*HostContext, error) {
	hc := &HostContext{
		InstallID:    installID,
		ReportedIP:   ip,
		ReportedPort: port,
		ReportedType: hostType,
	}

	info, err := c.hostInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read host information: %w", err)
	}
	hc.Hostname = info.Hostname
	hc.OS = info.OS
	hc.Platform = info.Platform
	hc.PlatformVersion = info.PlatformVersion
	hc.KernelVersion = info.KernelVersion
	hc.Architecture = info.KernelArch
	hc.Virtualization = info.VirtualizationSystem
	hc.VirtualizationRole = info.VirtualizationRole
	hc.Containerized = c.detectContainer(info)

	if count, err := c.cpuCounts(ctx); err == nil {
		hc.CPUCount = count
	} else {
		c.logger.Warn().Err(err).Msg("CPU count probe failed")
	}
	if infos, err := c.cpuInfo(ctx); err == nil && len(infos) > 0 {
		hc.CPUModel = infos[0].ModelName
	}
	if vm, err := c.memInfo(ctx); err == nil {
		hc.MemoryTotal = vm.Total
	} else {
		c.logger.Warn().Err(err).Msg("Memory probe failed")
	}
	if usage, err := c.diskUsage(ctx, "/"); err == nil {
		hc.RootDiskTotal = usage.Total
	} else {
		c.logger.Warn().Err(err).Msg("Root disk probe failed")
	}

	hc.CollectedAt = time.Now()
	return hc, nil
}

// detectContainer combines the virtualization probe with a cgroup check,
// since a guest role alone does not distinguish a VM from a container.
func (c *Collector) detectContainer(info *host.InfoStat) bool {
	switch info.VirtualizationSystem {
	case "docker", "lxc", "podman", "containerd":
		if info.VirtualizationRole == "guest" {
			return true
		}
	}
	data, err := os.ReadFile(c.cgroupFile)
	if err != nil {
		return false
	}
	content := string(data)
	return strings.Contains(content, "docker") ||
		strings.Contains(content, "kubepods") ||
		strings.Contains(content, "containerd")
}
