package lowering

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/23skdu/longbow-anvil/internal/kernels"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/shape"
	"github.com/23skdu/longbow-anvil/internal/transform"
)

var folder = cases.Fold()

// canonical folds case and width and drops separators so "PerStride",
// "per-stride" and "PER_STRIDE" compare equal.
func canonical(s string) string {
	s = folder.String(norm.NFKC.String(strings.TrimSpace(s)))
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ':
			return -1
		}
		return r
	}, s)
}

func invalidParam(value int64) error {
	return modelerr.Invalid(modelerr.StatusLayerConfig, modelerr.ItemParameters, modelerr.ErrorArgumentInvalid, value)
}

// scalarParam accepts any integer type, and floats holding an integer,
// within the uint32 range.
func scalarParam(v any) (uint32, error) {
	var n int64
	switch x := v.(type) {
	case uint32:
		return x, nil
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint:
		if x > math.MaxUint32 {
			return 0, modelerr.Invalid(modelerr.StatusLayerConfig, modelerr.ItemParameters, modelerr.ErrorAboveRange, math.MaxInt64)
		}
		n = int64(x)
	case uint64:
		if x > math.MaxUint32 {
			return 0, modelerr.Invalid(modelerr.StatusLayerConfig, modelerr.ItemParameters, modelerr.ErrorAboveRange, math.MaxInt64)
		}
		n = int64(x)
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case float64:
		if x != math.Trunc(x) {
			return 0, invalidParam(int64(x))
		}
		n = int64(x)
	default:
		return 0, invalidParam(0)
	}
	if err := modelerr.ExpectInRange(n, 0, math.MaxUint32, modelerr.StatusLayerConfig, modelerr.ItemParameters); err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// shapeParam accepts a shape, a kernels.HW, or a two element list read as
// height and width.
func shapeParam(v any) (shape.Shape, error) {
	var extents []uint32
	switch x := v.(type) {
	case shape.Shape:
		return x, nil
	case kernels.HW:
		return shape.New("HW", x.H, x.W)
	case []uint32:
		extents = x
	case []int:
		for _, e := range x {
			n, err := scalarParam(e)
			if err != nil {
				return shape.Shape{}, err
			}
			extents = append(extents, n)
		}
	case []any:
		for _, e := range x {
			n, err := scalarParam(e)
			if err != nil {
				return shape.Shape{}, err
			}
			extents = append(extents, n)
		}
	default:
		return shape.Shape{}, invalidParam(0)
	}
	if len(extents) != 2 {
		return shape.Shape{}, modelerr.Invalid(modelerr.StatusLayerConfig, modelerr.ItemShapeRank, modelerr.ErrorNotEqual, int64(len(extents)))
	}
	return shape.New("HW", extents...)
}

var biasModes = []transform.BiasMode{transform.BiasDefault, transform.BiasPerStride, transform.BiasGrouping}

// biasModeParam accepts a BiasMode, its name, or its ordinal. Range
// checks are left to the operation, which reports them as StatusBiasMode.
func biasModeParam(v any) (transform.BiasMode, error) {
	switch x := v.(type) {
	case transform.BiasMode:
		return x, nil
	case string:
		for _, m := range biasModes {
			if canonical(m.String()) == canonical(x) {
				return m, nil
			}
		}
		return 0, modelerr.Invalid(modelerr.StatusBiasMode, modelerr.ItemParameters, modelerr.ErrorNotInSet, -1)
	}
	n, err := scalarParam(v)
	return transform.BiasMode(n), err
}

var poolingModes = []kernels.PoolingMode{kernels.PoolingNone, kernels.PoolingMax, kernels.PoolingSum}

func poolingParam(v any) (kernels.PoolingMode, error) {
	switch x := v.(type) {
	case kernels.PoolingMode:
		return x, nil
	case string:
		for _, m := range poolingModes {
			if canonical(m.String()) == canonical(x) {
				return m, nil
			}
		}
		return 0, modelerr.Invalid(modelerr.StatusPoolType, modelerr.ItemParameters, modelerr.ErrorNotInSet, -1)
	}
	n, err := scalarParam(v)
	return kernels.PoolingMode(n), err
}
