package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-anvil/internal/accel"
	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/dtype"
	"github.com/23skdu/longbow-anvil/internal/lowering"
	"github.com/23skdu/longbow-anvil/internal/shape"
	"github.com/23skdu/longbow-anvil/internal/tensor"
	"github.com/23skdu/longbow-anvil/internal/transform"
)

// copyOp copies the first copyRows rows of a 2x16 int16 matrix.
func copyOp(copyRows uint32) lowering.Operation {
	in := tensor.AlignedBuffer(64, catalog.BufferAlignment)
	vals := tensor.View[int16](in)
	for i := range vals {
		vals[i] = int16(i)
	}
	return lowering.Operation{
		Kind: transform.OpCopy,
		Operands: []*tensor.Descriptor{
			{Shape: shape.Must("HW", 2, 16), Type: dtype.TypeInt16, Data: in},
			{Shape: shape.Must("HW", 2, 16), Type: dtype.TypeInt16},
		},
		Parameters: []any{[]uint32{copyRows, 8}},
	}
}

func writeOp(t *testing.T, dir, name string, op lowering.Operation) string {
	t.Helper()
	data, err := lowering.EncodeOperation(op)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLowerCommandText(t *testing.T) {
	dir := t.TempDir()
	a := writeOp(t, dir, "a.cbor", copyOp(1))
	b := writeOp(t, dir, "b.cbor", copyOp(1))

	var out bytes.Buffer
	err := run(context.Background(), []string{"-log-level", "error", "-run", "lower", a, b}, &out)
	require.NoError(t, err)
	assert.Zero(t, out.Len())
}

func TestLowerCommandReportsRejections(t *testing.T) {
	dir := t.TempDir()
	good := writeOp(t, dir, "good.cbor", copyOp(1))
	bad := writeOp(t, dir, "bad.cbor", copyOp(3))
	garbage := filepath.Join(dir, "garbage.cbor")
	require.NoError(t, os.WriteFile(garbage, []byte{0xff}, 0o644))

	err := run(context.Background(), []string{"-log-level", "error", "lower", good, bad, garbage}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 operations rejected")
}

func TestLowerCommandArrow(t *testing.T) {
	dir := t.TempDir()
	a := writeOp(t, dir, "a.cbor", copyOp(1))
	bad := writeOp(t, dir, "bad.cbor", copyOp(3))

	var out bytes.Buffer
	err := run(context.Background(), []string{"-log-level", "error", "-format", "arrow", "lower", a, bad}, &out)
	require.Error(t, err)

	reader, err := ipc.NewReader(&out)
	require.NoError(t, err)
	defer reader.Release()
	require.True(t, reader.Next())
	rec := reader.Record()
	require.EqualValues(t, 1, rec.NumRows())
	assert.Equal(t, "copy", rec.Column(0).(*array.String).Value(0))
	assert.EqualValues(t, 64, rec.Column(7).(*array.Uint64).Value(0))
}

func TestRunArguments(t *testing.T) {
	ctx := context.Background()
	assert.Error(t, run(ctx, []string{"lower"}, &bytes.Buffer{}))
	assert.Error(t, run(ctx, []string{"frobnicate"}, &bytes.Buffer{}))
	assert.Error(t, run(ctx, []string{"-format", "csv", "cpuinfo"}, &bytes.Buffer{}))
	assert.Error(t, run(ctx, []string{"-generation", "2.5", "lower", "x.cbor"}, &bytes.Buffer{}))
	assert.Error(t, run(ctx, []string{"-mode", "avx9", "lower", "x.cbor"}, &bytes.Buffer{}))
}

func TestModeNames(t *testing.T) {
	names := modeNames()
	assert.Equal(t, "auto", names[0])
	assert.Contains(t, names, "sse4_2_fast")
	assert.Contains(t, names, "hardware")
	for _, name := range names {
		m, err := accel.ParseMode(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, m.String())
	}

	var help bytes.Buffer
	_, _, err := parseFlags([]string{"-h"}, &help)
	require.Error(t, err)
	assert.Contains(t, help.String(), "sse4_2_sat")
	assert.NotContains(t, help.String(), "sse4.2,")

	o, _, err := parseFlags([]string{"-mode", "avx2_sat", "lower"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "avx2_sat", o.mode)
}

func TestRunMemoryLimit(t *testing.T) {
	dir := t.TempDir()
	a := writeOp(t, dir, "a.cbor", copyOp(1))
	err := run(context.Background(), []string{"-log-level", "error", "-run", "-max-scratch", "16", "lower", a}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1")
}

func TestCPUInfo(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-no-simd", "cpuinfo"}, &out))
	assert.Contains(t, out.String(), "modes:     generic_fast generic_sat")
	assert.Contains(t, out.String(), "simd:      false")
}

func TestParseBytes(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want int64
		err  bool
	}{
		{"0", 0, false},
		{"1024", 1024, false},
		{"64KB", 64 << 10, false},
		{"256mb", 256 << 20, false},
		{"4G", 4 << 30, false},
		{"", 0, true},
		{"MB", 0, true},
		{"12XB", 0, true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseBytes(tc.in)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
