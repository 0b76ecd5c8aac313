// Package catalog encodes, as data, which tensor shapes, element types and
// alignments are legal for every transform kind on every device generation.
package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-anvil/internal/modelerr"
)

// BufferAlignment is the byte alignment required of every operand buffer.
const BufferAlignment = 64

// Generation is an ordered device capability tier, major*10+minor.
type Generation int

const (
	Gen0_9 Generation = 9
	Gen1_0 Generation = 10
	Gen2_0 Generation = 20
	Gen3_0 Generation = 30
	Gen3_5 Generation = 35
	Gen3_6 Generation = 36
)

// Generations lists every known generation in ascending order.
var Generations = []Generation{Gen0_9, Gen1_0, Gen2_0, Gen3_0, Gen3_5, Gen3_6}

func (g Generation) String() string {
	return fmt.Sprintf("%d.%d", int(g)/10, int(g)%10)
}

// ParseGeneration parses "major.minor".
func ParseGeneration(s string) (Generation, error) {
	major, minor, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return 0, fmt.Errorf("invalid device generation %q", s)
	}
	hi, err := strconv.Atoi(major)
	if err != nil {
		return 0, fmt.Errorf("invalid device generation %q: %w", s, err)
	}
	lo, err := strconv.Atoi(minor)
	if err != nil || lo < 0 || lo > 9 {
		return 0, fmt.Errorf("invalid device generation %q", s)
	}
	return Generation(hi*10 + lo), nil
}

// Kind is a transform kind with its own capability table.
type Kind int

const (
	KindAffine Kind = iota
	KindAffineMultibias
	KindAffineDiagonal
	KindActivation
	KindRecurrent
	KindConvolution
	KindPooling
	KindCopy
	KindTranspose
	KindGmm

	kindCount
)

var kindNames = [kindCount]string{
	KindAffine:          "affine",
	KindAffineMultibias: "affine_multibias",
	KindAffineDiagonal:  "affine_diagonal",
	KindActivation:      "activation",
	KindRecurrent:       "recurrent",
	KindConvolution:     "convolution",
	KindPooling:         "pooling",
	KindCopy:            "copy",
	KindTranspose:       "transpose",
	KindGmm:             "gmm",
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, kindCount)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// Operand roles. Several names share an index: which one applies depends on
// the operation kind.
const (
	OperandInput              = 0
	OperandOutput             = 1
	OperandWeights            = 2
	OperandFilters            = 2
	OperandMeans              = 2
	OperandBias               = 3
	OperandInverseCovariances = 3
	OperandActivation         = 4
	OperandConstants          = 4
	OperandWeightScaleFactors = 5
	OperandScratch            = 6
)

// Parameter roles.
const (
	ParamBiasMode        = 0
	ParamBiasVectorIndex = 1
	ParamDelay           = 0
	ParamConvStride      = 0
	ParamConvBiasMode    = 1
	ParamPoolingMode     = 2
	ParamPoolingWindow   = 3
	ParamPoolingStride   = 4
	ParamZeroPadding     = 5
	ParamCopyShape       = 0
	ParamMaximumScore    = 0
)

// Table maps a kind to its per-generation capabilities.
type Table map[Kind]map[Generation]*Capabilities

// Catalog resolves capabilities by kind and device generation.
type Catalog struct {
	tables Table
	gens   map[Kind][]Generation
}

// New builds a catalog over tables. The tables must not be modified afterwards.
func New(tables Table) *Catalog {
	c := &Catalog{tables: tables, gens: make(map[Kind][]Generation, len(tables))}
	for kind, byGen := range tables {
		gens := make([]Generation, 0, len(byGen))
		for g := range byGen {
			gens = append(gens, g)
		}
		sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
		c.gens[kind] = gens
	}
	return c
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the built-in catalog, building it on first use.
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog = New(buildTables())
		log.Debug().Int("kinds", len(defaultCatalog.tables)).Msg("Capability catalog built")
	})
	return defaultCatalog
}

// Resolve returns the entry with the greatest generation not above gen.
func (c *Catalog) Resolve(kind Kind, gen Generation) (*Capabilities, Generation, error) {
	gens := c.gens[kind]
	i := sort.Search(len(gens), func(i int) bool { return gens[i] > gen })
	if i == 0 {
		e := modelerr.Invalid(modelerr.StatusDeviceVersionUnsupported, modelerr.ItemOperationType,
			modelerr.ErrorNotInSet, int64(gen))
		return nil, 0, e
	}
	g := gens[i-1]
	return c.tables[kind][g], g, nil
}

// Generations returns the generations that carry an entry for kind.
func (c *Catalog) Generations(kind Kind) []Generation {
	out := make([]Generation, len(c.gens[kind]))
	copy(out, c.gens[kind])
	return out
}
