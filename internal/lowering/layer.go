package lowering

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-anvil/internal/accel"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/shape"
	"github.com/23skdu/longbow-anvil/internal/tensor"
	"github.com/23skdu/longbow-anvil/internal/transform"
)

// ErrNotConfigured is returned for an operand role the layer does not have.
var ErrNotConfigured = errors.New("operand not configured")

// Layer is a lowered operation ready to run.
//
// Compute may be called concurrently when every call brings its own output
// and scratch buffers. UpdateKernelConfigs rewires the layer itself and must
// not race with any other call.
type Layer struct {
	kind     transform.OpKind
	engine   *Engine
	pipeline *transform.Pipeline
}

// Kind returns the operation kind.
func (l *Layer) Kind() transform.OpKind {
	return l.kind
}

// Operand returns the tensor bound to an operand role.
func (l *Layer) Operand(index int) (*tensor.Tensor, error) {
	t, ok := l.pipeline.Operand(index)
	if !ok || t == nil {
		return nil, fmt.Errorf("%s operand %d: %w", l.kind, index, ErrNotConfigured)
	}
	return t, nil
}

// Stages returns the stage list in execution order.
func (l *Layer) Stages() []*transform.Stage {
	out := make([]*transform.Stage, len(l.pipeline.Stages))
	copy(out, l.pipeline.Stages)
	return out
}

// ScratchSize is the scratch buffer size needed to hold every
// intermediate stage output.
func (l *Layer) ScratchSize() int {
	return l.pipeline.ScratchSize()
}

// UpdateKernelConfigs rebinds the input, output and scratch buffers.
// Weights and other owned operands are never touched.
func (l *Layer) UpdateKernelConfigs(buffers map[int][]byte) error {
	err := l.pipeline.UpdateBuffers(transform.Buffers(buffers))
	if err != nil {
		l.engine.env.LastError.Record(err)
	}
	return err
}

// Compute is ComputeContext with a background context.
func (l *Layer) Compute(mode accel.Mode, activeList []uint32, cfg *transform.ExecConfig) error {
	return l.ComputeContext(context.Background(), mode, activeList, cfg)
}

// ComputeContext runs every stage. Buffers in cfg apply to this call
// only. A non-nil activeList restricts the computed output rows and is only
// accepted by affine and GMM layers.
func (l *Layer) ComputeContext(ctx context.Context, mode accel.Mode, activeList []uint32, cfg *transform.ExecConfig) error {
	_, span := tracer.Start(ctx, "Compute", trace.WithAttributes(
		attribute.String("op", l.kind.String()),
		attribute.String("mode", mode.String()),
		attribute.Int("active", len(activeList)),
	))
	defer span.End()

	err := l.checkActiveList(activeList)
	if err == nil {
		err = l.pipeline.Run(mode, activeList, cfg)
	}
	return l.finish(span, err)
}

// ComputeHidden runs every stage on the buffers wired by
// UpdateKernelConfigs.
func (l *Layer) ComputeHidden(mode accel.Mode, cfg *transform.ExecConfig) error {
	_, span := tracer.Start(context.Background(), "ComputeHidden", trace.WithAttributes(
		attribute.String("op", l.kind.String()),
		attribute.String("mode", mode.String()),
	))
	defer span.End()
	return l.finish(span, l.pipeline.RunHidden(mode, cfg))
}

func (l *Layer) finish(span trace.Span, err error) error {
	layerComputes.WithLabelValues(l.kind.String(), modelerr.StatusOf(err).String()).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (l *Layer) checkActiveList(active []uint32) error {
	if active == nil {
		return nil
	}
	switch l.kind {
	case transform.OpFullyConnectedAffine, transform.OpGmm:
	default:
		return modelerr.Invalid(modelerr.StatusActiveListIndices, modelerr.ItemActiveList, modelerr.ErrorNullRequired, int64(len(active)))
	}
	rows := l.pipeline.Output().Dim(shape.H)
	return modelerr.ExpectActiveList(len(active), int(rows))
}
