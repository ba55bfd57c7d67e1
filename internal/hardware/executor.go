// internal/hardware/executor.go
package hardware

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/pbnjay/memory"

	"github.com/xkilldash9x/lancelot/internal/hal"
)

// Probe is the raw hardware reading an Executor reports from.
type Probe struct {
	Brand          string
	Vendor         string
	PhysicalCores  int
	LogicalCores   int
	ThreadsPerCore int
	Features       []string
	L1DataCache    int
	L2Cache        int
	L3Cache        int
	TotalMemory    uint64
	FreeMemory     uint64
}

// HostProbe reads the CPU through cpuid and physical memory through the OS.
func HostProbe() Probe {
	return Probe{
		Brand:          cpuid.CPU.BrandName,
		Vendor:         cpuid.CPU.VendorString,
		PhysicalCores:  cpuid.CPU.PhysicalCores,
		LogicalCores:   cpuid.CPU.LogicalCores,
		ThreadsPerCore: cpuid.CPU.ThreadsPerCore,
		Features:       cpuid.CPU.FeatureSet(),
		L1DataCache:    cpuid.CPU.Cache.L1D,
		L2Cache:        cpuid.CPU.Cache.L2,
		L3Cache:        cpuid.CPU.Cache.L3,
		TotalMemory:    memory.TotalMemory(),
		FreeMemory:     memory.FreeMemory(),
	}
}

// Executor answers hardware queries from a Probe.
type Executor struct {
	probe func() Probe
}

var _ hal.Executor = (*Executor)(nil)

// NewExecutor reads the host on every call.
func NewExecutor() *Executor {
	return &Executor{probe: HostProbe}
}

// NewExecutorWithProbe is used where the host must not be read, e.g. tests.
func NewExecutorWithProbe(probe func() Probe) *Executor {
	return &Executor{probe: probe}
}

func (e *Executor) Execute(ctx context.Context, op hal.Operation) (hal.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return hal.Outcome{}, err
	}
	p := e.probe()

	switch op {
	case hal.QueryCapabilities:
		logical := p.LogicalCores
		if logical <= 0 {
			logical = runtime.NumCPU()
		}
		brand := p.Brand
		if brand == "" {
			brand = runtime.GOARCH
		}
		return hal.Outcome{
			Operation: op,
			Summary:   fmt.Sprintf("%s, %d physical / %d logical cores", brand, p.PhysicalCores, logical),
			Properties: map[string]string{
				"brand":            brand,
				"vendor":           p.Vendor,
				"arch":             runtime.GOARCH,
				"physical_cores":   strconv.Itoa(p.PhysicalCores),
				"logical_cores":    strconv.Itoa(logical),
				"threads_per_core": strconv.Itoa(p.ThreadsPerCore),
				"cache_l1d":        strconv.Itoa(p.L1DataCache),
				"cache_l2":         strconv.Itoa(p.L2Cache),
				"cache_l3":         strconv.Itoa(p.L3Cache),
				"features":         strings.Join(p.Features, ","),
			},
		}, nil

	case hal.QueryMemory:
		if p.TotalMemory == 0 {
			return hal.Outcome{}, fmt.Errorf("total memory unavailable on %s", runtime.GOOS)
		}
		return hal.Outcome{
			Operation: op,
			Summary:   fmt.Sprintf("%d MiB total, %d MiB free", p.TotalMemory>>20, p.FreeMemory>>20),
			Properties: map[string]string{
				"total_bytes": strconv.FormatUint(p.TotalMemory, 10),
				"free_bytes":  strconv.FormatUint(p.FreeMemory, 10),
			},
		}, nil

	default:
		return hal.Outcome{}, fmt.Errorf("unsupported hardware operation %q", op)
	}
}
