// Package accel ranks the acceleration modes the current CPU supports and
// tracks whether hardware off-load is enabled.
package accel

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Tier is an execution tier, ordered from slowest to fastest.
type Tier int

const (
	TierGeneric Tier = iota
	TierSSE4_2
	TierAVX1
	TierAVX2
	TierAVX512
	TierHardware
)

var tierNames = map[Tier]string{
	TierGeneric:  "generic",
	TierSSE4_2:   "sse4_2",
	TierAVX1:     "avx1",
	TierAVX2:     "avx2",
	TierAVX512:   "avx512",
	TierHardware: "hardware",
}

func (t Tier) String() string {
	if n, ok := tierNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// Lanes returns how many 16-bit elements one vector of the tier holds.
// AVX1 has no 256-bit integer arithmetic, so it shares the 128-bit width.
func (t Tier) Lanes() int {
	switch t {
	case TierSSE4_2, TierAVX1:
		return 8
	case TierAVX2:
		return 16
	case TierAVX512:
		return 32
	default:
		return 1
	}
}

// Mode is a tier plus its saturating or fast variant.
type Mode struct {
	Tier       Tier
	Saturating bool
}

// ModeAuto requests the fastest mode available for a kernel table.
var ModeAuto = Mode{Tier: -1}

// ModeHardware is the off-load mode.
var ModeHardware = Mode{Tier: TierHardware}

// Rank orders modes: by tier, the saturating variant above the fast one.
func (m Mode) Rank() int {
	r := int(m.Tier) * 2
	if m.Saturating {
		r++
	}
	return r
}

// Less reports whether m is slower than o.
func (m Mode) Less(o Mode) bool {
	return m.Rank() < o.Rank()
}

func (m Mode) String() string {
	switch {
	case m == ModeAuto:
		return "auto"
	case m.Tier == TierHardware:
		return m.Tier.String()
	case m.Saturating:
		return m.Tier.String() + "_sat"
	default:
		return m.Tier.String() + "_fast"
	}
}

// ParseMode parses the String form of a mode.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "auto" || s == "" {
		return ModeAuto, nil
	}
	if s == TierHardware.String() {
		return ModeHardware, nil
	}
	for _, m := range SoftwareModes() {
		if m.String() == s {
			return m, nil
		}
	}
	return ModeAuto, fmt.Errorf("unknown acceleration mode %q", s)
}

// SoftwareModes lists every CPU mode in ascending rank.
func SoftwareModes() []Mode {
	out := make([]Mode, 0, 10)
	for t := TierGeneric; t < TierHardware; t++ {
		out = append(out, Mode{Tier: t}, Mode{Tier: t, Saturating: true})
	}
	return out
}

// Features are the CPU capabilities relevant to tier selection.
type Features struct {
	SSE42    bool
	AVX      bool
	AVX2     bool
	AVX512   bool
	NEON     bool
	Disabled bool // SIMD explicitly disabled
}

// Detector holds the supported modes, sorted slowest to fastest.
type Detector struct {
	features Features
	modes    []Mode
	offload  atomic.Bool
}

// NewDetector builds a detector for f.
func NewDetector(f Features) *Detector {
	tiers := []Tier{TierGeneric}
	if !f.Disabled {
		// NEON is a 128-bit unit and runs the 128-bit tier kernels.
		if f.SSE42 || f.NEON {
			tiers = append(tiers, TierSSE4_2)
		}
		if f.AVX {
			tiers = append(tiers, TierAVX1)
		}
		if f.AVX2 {
			tiers = append(tiers, TierAVX2)
		}
		if f.AVX512 {
			tiers = append(tiers, TierAVX512)
		}
	}
	modes := make([]Mode, 0, len(tiers)*2)
	for _, t := range tiers {
		modes = append(modes, Mode{Tier: t}, Mode{Tier: t, Saturating: true})
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i].Less(modes[j]) })
	return &Detector{features: f, modes: modes}
}

var (
	defaultOnce     sync.Once
	defaultDetector *Detector
)

// NoSimdEnv reports whether ANVIL_NO_SIMD requests generic kernels only.
func NoSimdEnv() bool {
	v := os.Getenv("ANVIL_NO_SIMD")
	return v != "" && v != "0"
}

// Default probes the CPU once and returns the shared detector.
func Default() *Detector {
	defaultOnce.Do(func() {
		f := Probe()
		f.Disabled = NoSimdEnv()
		defaultDetector = NewDetector(f)
		log.Debug().
			Str("best", defaultDetector.Best().String()).
			Int("modes", len(defaultDetector.modes)).
			Bool("no_simd", f.Disabled).
			Msg("Acceleration modes detected")
	})
	return defaultDetector
}

// Features returns the probed features.
func (d *Detector) Features() Features {
	return d.features
}

// Supported returns the usable modes, slowest first. When off-load is
// enabled the hardware mode is appended as the fastest entry.
func (d *Detector) Supported() []Mode {
	out := make([]Mode, len(d.modes), len(d.modes)+1)
	copy(out, d.modes)
	if d.offload.Load() {
		out = append(out, ModeHardware)
	}
	return out
}

// Best returns the fastest supported mode.
func (d *Detector) Best() Mode {
	modes := d.Supported()
	return modes[len(modes)-1]
}

// IsSupported reports whether m is usable.
func (d *Detector) IsSupported(m Mode) bool {
	for _, s := range d.Supported() {
		if s == m {
			return true
		}
	}
	return false
}

// SetOffload enables or disables hardware off-load.
func (d *Detector) SetOffload(on bool) {
	d.offload.Store(on)
	log.Debug().Bool("offload", on).Msg("Hardware off-load toggled")
}

// Offload reports whether hardware off-load is enabled.
func (d *Detector) Offload() bool {
	return d.offload.Load()
}
