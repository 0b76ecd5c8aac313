package accel

import (
	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sys/cpu"
)

// Probe reads the CPU feature flags.
func Probe() Features {
	return Features{
		SSE42:  cpuid.CPU.Supports(cpuid.SSE4, cpuid.SSE42),
		AVX:    cpuid.CPU.Supports(cpuid.AVX),
		AVX2:   cpuid.CPU.Supports(cpuid.AVX, cpuid.AVX2),
		AVX512: cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512BW),
		NEON:   cpu.ARM64.HasASIMD,
	}
}

// CPUName returns the brand string of the processor.
func CPUName() string {
	return cpuid.CPU.BrandName
}
