package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/23skdu/longbow-anvil/internal/accel"
)

func printCPUInfo(w io.Writer, noSIMD bool) error {
	f := accel.Default().Features()
	if noSIMD {
		f.Disabled = true
	}
	det := accel.NewDetector(f)

	var features []string
	for _, c := range []struct {
		name string
		on   bool
	}{
		{"sse4.2", f.SSE42},
		{"avx", f.AVX},
		{"avx2", f.AVX2},
		{"avx512", f.AVX512},
	} {
		if c.on {
			features = append(features, c.name)
		}
	}
	modes := make([]string, 0, len(det.Supported()))
	for _, m := range det.Supported() {
		modes = append(modes, m.String())
	}

	cpu := accel.CPUName()
	if cpu == "" {
		cpu = "unknown"
	}
	_, err := fmt.Fprintf(w, "cpu:       %s\nfeatures:  %s\nsimd:      %t\nmodes:     %s\nbest:      %s\n",
		cpu, strings.Join(features, " "), !f.Disabled, strings.Join(modes, " "), det.Best())
	return err
}
