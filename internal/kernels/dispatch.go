package kernels

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-anvil/internal/accel"
	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/dtype"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
)

// Table is the kernel set of one (kind, signature), keyed by mode.
type Table struct {
	Kind      catalog.Kind
	Signature Signature
	Kernels   map[accel.Mode]Kernel
}

// Modes returns the modes present in the table, slowest first.
func (t *Table) Modes() []accel.Mode {
	out := make([]accel.Mode, 0, len(t.Kernels))
	for m := range t.Kernels {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (t *Table) kernel(m accel.Mode) (Kernel, error) {
	k, ok := t.Kernels[m]
	if !ok {
		return nil, fmt.Errorf("%s %s mode %s: %w", t.Kind, t.Signature, m, modelerr.ErrLookupMiss)
	}
	return k, nil
}

// Dispatch maps kind and coalesced signature to a kernel table.
type Dispatch struct {
	tables map[catalog.Kind]map[Signature]*Table
}

// NewDispatch returns an empty dispatch table.
func NewDispatch() *Dispatch {
	return &Dispatch{tables: make(map[catalog.Kind]map[Signature]*Table)}
}

// Register installs kernels for kind and the coalesced form of sig.
func (d *Dispatch) Register(kind catalog.Kind, sig Signature, kernels map[accel.Mode]Kernel) {
	sig = Coalesce(kind, sig)
	if d.tables[kind] == nil {
		d.tables[kind] = make(map[Signature]*Table)
	}
	d.tables[kind][sig] = &Table{Kind: kind, Signature: sig, Kernels: kernels}
}

var (
	defaultOnce     sync.Once
	defaultDispatch *Dispatch
)

// Default returns the built-in dispatch table, building it on first use.
func Default() *Dispatch {
	defaultOnce.Do(func() {
		defaultDispatch = buildDispatch()
		n := 0
		for _, byKind := range defaultDispatch.tables {
			n += len(byKind)
		}
		log.Debug().Int("tables", n).Msg("Kernel dispatch table built")
	})
	return defaultDispatch
}

// Lookup returns the kernel table for kind and sig. A miss is reported as
// an unsupported operand type combination.
func (d *Dispatch) Lookup(kind catalog.Kind, sig Signature) (*Table, error) {
	t, ok := d.tables[kind][Coalesce(kind, sig)]
	if !ok {
		lookupMisses.WithLabelValues(kind.String()).Inc()
		return nil, modelerr.Invalid(modelerr.StatusDataTypeUnsupported, modelerr.ItemOperandType,
			modelerr.ErrorNotInSet, int64(sig))
	}
	return t, nil
}

// Signatures lists the coalesced signatures registered for kind.
func (d *Dispatch) Signatures(kind catalog.Kind) []Signature {
	out := make([]Signature, 0, len(d.tables[kind]))
	for s := range d.tables[kind] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Select picks the kernel for requested. With accel.ModeAuto it takes the
// fastest supported mode present in the table.
func Select(t *Table, requested accel.Mode, det *accel.Detector) (Kernel, accel.Mode, error) {
	if requested != accel.ModeAuto {
		if !det.IsSupported(requested) {
			return nil, requested, modelerr.NewStatus(modelerr.StatusNotImplemented, "mode %s not supported on this processor", requested)
		}
		k, err := t.kernel(requested)
		return k, requested, modelerr.TranslateLookupMiss(err)
	}
	supported := det.Supported()
	for i := len(supported) - 1; i >= 0; i-- {
		if k, ok := t.Kernels[supported[i]]; ok {
			return k, supported[i], nil
		}
	}
	err := fmt.Errorf("%s %s: no kernel for any supported mode: %w", t.Kind, t.Signature, modelerr.ErrLookupMiss)
	return nil, requested, modelerr.TranslateLookupMiss(err)
}

// Execute selects a kernel from t and runs job with it. It returns the mode used.
func Execute(t *Table, requested accel.Mode, det *accel.Detector, job *Job) (accel.Mode, error) {
	k, mode, err := Select(t, requested, det)
	if err != nil {
		return mode, err
	}
	start := time.Now()
	before := job.Saturations
	if err := k.Run(job); err != nil {
		return mode, fmt.Errorf("%s kernel (%s): %w", t.Kind, mode, err)
	}
	stageCompute.WithLabelValues(t.Kind.String(), mode.String()).Observe(time.Since(start).Seconds())
	if n := job.Saturations - before; n > 0 {
		saturations.WithLabelValues(t.Kind.String()).Add(float64(n))
	}
	return mode, nil
}

// family builds a kernel set: generic kernels plus one vector kernel per tier.
func family(generic func(sat bool) Kernel, vector func(lanes int, sat bool) Kernel, tiers ...accel.Tier) map[accel.Mode]Kernel {
	ks := map[accel.Mode]Kernel{
		{Tier: accel.TierGeneric}:                   generic(false),
		{Tier: accel.TierGeneric, Saturating: true}: generic(true),
	}
	for _, t := range tiers {
		ks[accel.Mode{Tier: t}] = vector(t.Lanes(), false)
		ks[accel.Mode{Tier: t, Saturating: true}] = vector(t.Lanes(), true)
	}
	return ks
}

var (
	dotTiers  = []accel.Tier{accel.TierSSE4_2, accel.TierAVX1, accel.TierAVX2}
	convTiers = []accel.Tier{accel.TierSSE4_2, accel.TierAVX2}
)

func buildDispatch() *Dispatch {
	const (
		none = dtype.TypeNone
		i8   = dtype.TypeInt8
		i16  = dtype.TypeInt16
		i32  = dtype.TypeInt32
		u8   = dtype.TypeUint8
		u16  = dtype.TypeUint16
		cb   = dtype.TypeCompoundBias
	)
	d := NewDispatch()

	affine := family(
		func(sat bool) Kernel { return genericAffine{sat: sat} },
		func(lanes int, sat bool) Kernel { return vectorAffine{lanes: lanes, sat: sat} },
		dotTiers...)
	multibias := family(
		func(sat bool) Kernel { return genericAffine{sat: sat, multibias: true} },
		func(lanes int, sat bool) Kernel { return vectorAffine{lanes: lanes, sat: sat, multibias: true} },
		dotTiers...)
	diagonal := family(
		func(sat bool) Kernel { return genericDiagonal{sat: sat} },
		func(lanes int, sat bool) Kernel { return vectorDiagonal{lanes: lanes, sat: sat} },
		dotTiers...)
	recurrent := family(
		func(sat bool) Kernel { return genericRecurrent{sat: sat} },
		func(lanes int, sat bool) Kernel { return vectorRecurrent{lanes: lanes, sat: sat} },
		dotTiers...)
	convolution := family(
		func(sat bool) Kernel { return genericConvolution{sat: sat} },
		func(lanes int, sat bool) Kernel { return vectorConvolution{lanes: lanes, sat: sat} },
		convTiers...)
	gmm := family(
		func(sat bool) Kernel { return genericGmm{sat: sat} },
		func(lanes int, sat bool) Kernel { return vectorGmm{lanes: lanes, sat: sat} },
		dotTiers...)

	for _, in := range []dtype.DataType{i8, i16} {
		for _, w := range []dtype.DataType{i8, i16} {
			d.Register(catalog.KindAffine, Pack(in, w, i32), affine)
			d.Register(catalog.KindAffine, Pack(in, w, cb), affine)
			d.Register(catalog.KindAffineMultibias, Pack(in, w, i32), multibias)
			d.Register(catalog.KindAffineDiagonal, Pack(in, w, i32), diagonal)
			d.Register(catalog.KindAffineDiagonal, Pack(in, w, cb), diagonal)
			d.Register(catalog.KindRecurrent, Pack(in, w, i32), recurrent)
			d.Register(catalog.KindRecurrent, Pack(in, w, cb), recurrent)
			d.Register(catalog.KindConvolution, Pack(in, w, i32), convolution)
			d.Register(catalog.KindConvolution, Pack(in, w, none), convolution)
		}
		d.Register(catalog.KindCopy, Pack(in, none, none), generic(copyKernel{}))
		d.Register(catalog.KindTranspose, Pack(in, none, none), generic(transposeKernel{}))
	}
	d.Register(catalog.KindGmm, Pack(u8, u8, none), gmm)
	d.Register(catalog.KindGmm, Pack(u8, u16, none), gmm)
	d.Register(catalog.KindActivation, Pack(i32, none, none), map[accel.Mode]Kernel{
		{Tier: accel.TierGeneric}:                   activation{},
		{Tier: accel.TierGeneric, Saturating: true}: activation{sat: true},
	})
	d.Register(catalog.KindPooling, Pack(i32, none, none), map[accel.Mode]Kernel{
		{Tier: accel.TierGeneric}:                   pooling{},
		{Tier: accel.TierGeneric, Saturating: true}: pooling{sat: true},
	})
	return d
}

// generic registers one kernel for both generic modes.
func generic(k Kernel) map[accel.Mode]Kernel {
	return map[accel.Mode]Kernel{
		{Tier: accel.TierGeneric}:                   k,
		{Tier: accel.TierGeneric, Saturating: true}: k,
	}
}
