package kernels

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-anvil/internal/accel"
	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/dtype"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
)

type mockKernel struct {
	mock.Mock
}

func (m *mockKernel) Run(job *Job) error {
	args := m.Called(job)
	job.Saturations += uint64(args.Int(1))
	return args.Error(0)
}

func TestDefaultBuiltOnce(t *testing.T) {
	require.Same(t, Default(), Default())
	for _, kind := range catalog.Kinds() {
		assert.NotEmpty(t, Default().Signatures(kind), kind.String())
	}
}

func TestLookupCoalescesBias(t *testing.T) {
	d := Default()
	a, err := d.Lookup(catalog.KindAffine, Pack(dtype.TypeInt16, dtype.TypeInt8, dtype.TypeInt16))
	require.NoError(t, err)
	b, err := d.Lookup(catalog.KindAffine, Pack(dtype.TypeInt16, dtype.TypeInt8, dtype.TypeNone))
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := d.Lookup(catalog.KindAffine, Pack(dtype.TypeInt16, dtype.TypeInt8, dtype.TypeCompoundBias))
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestLookupMiss(t *testing.T) {
	before := getMetricValue(lookupMisses.WithLabelValues("affine_diagonal"))
	_, err := Default().Lookup(catalog.KindAffineDiagonal, Pack(dtype.TypeInt16, dtype.TypeInt8, dtype.TypeNone))
	require.Error(t, err)
	assert.Equal(t, modelerr.StatusDataTypeUnsupported, modelerr.StatusOf(err))
	m, ok := modelerr.AsModelError(err)
	require.True(t, ok)
	assert.Equal(t, modelerr.ItemOperandType, m.Item)
	assert.Equal(t, before+1, getMetricValue(lookupMisses.WithLabelValues("affine_diagonal")))
}

func TestSelectAutoPicksFastestPresent(t *testing.T) {
	table, err := Default().Lookup(catalog.KindAffine, Pack(dtype.TypeInt16, dtype.TypeInt16, dtype.TypeInt32))
	require.NoError(t, err)

	// AVX-512 is supported but the affine table stops at AVX2.
	det := accel.NewDetector(accel.Features{SSE42: true, AVX: true, AVX2: true, AVX512: true})
	_, mode, err := Select(table, accel.ModeAuto, det)
	require.NoError(t, err)
	assert.Equal(t, accel.Mode{Tier: accel.TierAVX2, Saturating: true}, mode)

	conv, err := Default().Lookup(catalog.KindConvolution, Pack(dtype.TypeInt16, dtype.TypeInt16, dtype.TypeInt32))
	require.NoError(t, err)
	det = accel.NewDetector(accel.Features{SSE42: true, AVX: true})
	_, mode, err = Select(conv, accel.ModeAuto, det)
	require.NoError(t, err)
	assert.Equal(t, accel.Mode{Tier: accel.TierSSE4_2, Saturating: true}, mode)
}

func TestSelectMissIsNotImplemented(t *testing.T) {
	table := &Table{
		Kind:    catalog.KindCopy,
		Kernels: map[accel.Mode]Kernel{{Tier: accel.TierAVX512}: &mockKernel{}},
	}
	det := accel.NewDetector(accel.Features{Disabled: true})

	_, _, err := Select(table, accel.ModeAuto, det)
	require.Error(t, err)
	assert.Equal(t, modelerr.StatusNotImplemented, modelerr.StatusOf(err))

	det.SetOffload(true)
	_, _, err = Select(table, accel.ModeHardware, det)
	assert.Equal(t, modelerr.StatusNotImplemented, modelerr.StatusOf(err))
}

func TestSelectUnsupportedMode(t *testing.T) {
	table, err := Default().Lookup(catalog.KindCopy, Pack(dtype.TypeInt16, dtype.TypeNone, dtype.TypeNone))
	require.NoError(t, err)
	det := accel.NewDetector(accel.Features{})
	_, _, err = Select(table, accel.Mode{Tier: accel.TierAVX2}, det)
	assert.Equal(t, modelerr.StatusNotImplemented, modelerr.StatusOf(err))

	k, mode, err := Select(table, accel.Mode{Tier: accel.TierGeneric, Saturating: true}, det)
	require.NoError(t, err)
	assert.NotNil(t, k)
	assert.Equal(t, accel.Mode{Tier: accel.TierGeneric, Saturating: true}, mode)
}

func TestExecuteRunsSelectedKernel(t *testing.T) {
	fast, sat := &mockKernel{}, &mockKernel{}
	table := &Table{
		Kind: catalog.KindPooling,
		Kernels: map[accel.Mode]Kernel{
			{Tier: accel.TierGeneric}:                   fast,
			{Tier: accel.TierGeneric, Saturating: true}: sat,
		},
	}
	job := &Job{}
	sat.On("Run", job).Return(nil, 3)

	before := getMetricValue(saturations.WithLabelValues("pooling"))
	mode, err := Execute(table, accel.ModeAuto, accel.NewDetector(accel.Features{}), job)
	require.NoError(t, err)
	assert.True(t, mode.Saturating)
	assert.Equal(t, uint64(3), job.Saturations)
	assert.Equal(t, before+3, getMetricValue(saturations.WithLabelValues("pooling")))
	sat.AssertExpectations(t)
	fast.AssertNotCalled(t, "Run", mock.Anything)
}

func TestExecuteWrapsKernelError(t *testing.T) {
	k := &mockKernel{}
	boom := errors.New("boom")
	k.On("Run", mock.Anything).Return(boom, 0)
	table := &Table{Kind: catalog.KindCopy, Kernels: map[accel.Mode]Kernel{{Tier: accel.TierGeneric}: k}}

	_, err := Execute(table, accel.Mode{Tier: accel.TierGeneric}, accel.NewDetector(accel.Features{}), &Job{})
	require.ErrorIs(t, err, boom)
}

func TestTableModesSorted(t *testing.T) {
	table, err := Default().Lookup(catalog.KindGmm, Pack(dtype.TypeUint8, dtype.TypeUint16, dtype.TypeUint32))
	require.NoError(t, err)
	modes := table.Modes()
	require.Len(t, modes, 8)
	assert.Equal(t, accel.Mode{Tier: accel.TierGeneric}, modes[0])
	assert.Equal(t, accel.Mode{Tier: accel.TierAVX2, Saturating: true}, modes[7])
}
