// Package device reports the CPU the training loop runs on. Models execute
// on loom's CPU path, so the report is logged once per run and shown by the
// status command.
package device

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Report summarizes the host CPU.
type Report struct {
	Brand         string
	Vendor        string
	PhysicalCores int
	LogicalCores  int
	GOMAXPROCS    int
	Features      []string
}

// tracked lists the vector extensions worth surfacing for dense math.
var tracked = []struct {
	name string
	id   cpuid.FeatureID
}{
	{"SSE4.2", cpuid.SSE42},
	{"AVX", cpuid.AVX},
	{"AVX2", cpuid.AVX2},
	{"FMA3", cpuid.FMA3},
	{"AVX512F", cpuid.AVX512F},
	{"ASIMD", cpuid.ASIMD},
}

// Detect inspects the running CPU.
func Detect() Report {
	return fromCPU(cpuid.CPU)
}

func fromCPU(cpu cpuid.CPUInfo) Report {
	r := Report{
		Brand:         strings.TrimSpace(cpu.BrandName),
		Vendor:        cpu.VendorString,
		PhysicalCores: cpu.PhysicalCores,
		LogicalCores:  cpu.LogicalCores,
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
	}
	if r.Brand == "" {
		r.Brand = "unknown cpu"
	}
	if r.LogicalCores == 0 {
		r.LogicalCores = runtime.NumCPU()
	}
	for _, f := range tracked {
		if cpu.Supports(f.id) {
			r.Features = append(r.Features, f.name)
		}
	}
	return r
}

// Supports reports whether the named feature was detected.
func (r Report) Supports(name string) bool {
	for _, f := range r.Features {
		if strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}

// Workers caps a requested loader worker count at the logical core count.
func (r Report) Workers(requested int) int {
	if requested <= 0 {
		return 1
	}
	if r.LogicalCores > 0 && requested > r.LogicalCores {
		return r.LogicalCores
	}
	return requested
}

func (r Report) String() string {
	features := "none"
	if len(r.Features) > 0 {
		features = strings.Join(r.Features, ",")
	}
	return fmt.Sprintf("%s (%d cores, %d threads, gomaxprocs %d, simd %s)",
		r.Brand, r.PhysicalCores, r.LogicalCores, r.GOMAXPROCS, features)
}
