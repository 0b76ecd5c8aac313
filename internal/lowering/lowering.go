// Package lowering is the entry point of the engine: it turns an abstract
// operation descriptor into a ready-to-run Layer for one device generation.
package lowering

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-anvil/internal/accel"
	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/kernels"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/tensor"
	"github.com/23skdu/longbow-anvil/internal/transform"
)

var tracer = otel.Tracer("anvil-lowering")

// Config selects the target and the validation behaviour of an Engine.
type Config struct {
	Generation catalog.Generation

	// AlignmentOverride replaces every catalog alignment when non-zero.
	AlignmentOverride uint32

	// BoundaryCheck requires operand buffers to lie inside Regions.
	BoundaryCheck bool
	Regions       [][]byte

	// NoSIMD restricts execution to the generic tier.
	NoSIMD bool
}

// Engine lowers operations for one device generation. Lowering is
// synchronous; an Engine may be shared but Lower calls record into one
// last-error slot.
type Engine struct {
	cfg Config
	env *tensor.Env
	ctx *transform.Context
}

// NewEngine validates cfg and prepares the shared catalog, dispatch table
// and a detector of its own.
func NewEngine(cfg Config) (*Engine, error) {
	if !slices.Contains(catalog.Generations, cfg.Generation) {
		return nil, modelerr.NewStatus(modelerr.StatusDeviceVersionUnsupported, "unknown device generation %s", cfg.Generation)
	}
	env := tensor.NewEnv()
	if cfg.AlignmentOverride != 0 {
		env.SetAlignmentOverride(cfg.AlignmentOverride)
	}
	for _, r := range cfg.Regions {
		env.AddRegion(r)
	}
	env.SetBoundaryCheck(cfg.BoundaryCheck)

	f := accel.Default().Features()
	if cfg.NoSIMD {
		f.Disabled = true
	}
	det := accel.NewDetector(f)

	log.Debug().
		Stringer("generation", cfg.Generation).
		Stringer("best_mode", det.Best()).
		Bool("boundary_check", cfg.BoundaryCheck).
		Uint32("alignment_override", cfg.AlignmentOverride).
		Msg("Engine created")

	return &Engine{
		cfg: cfg,
		env: env,
		ctx: &transform.Context{
			Env:        env,
			Catalog:    catalog.Default(),
			Dispatch:   kernels.Default(),
			Detector:   det,
			Generation: cfg.Generation,
		},
	}, nil
}

// Generation returns the target device generation.
func (e *Engine) Generation() catalog.Generation {
	return e.cfg.Generation
}

// Detector returns the engine's acceleration mode detector.
func (e *Engine) Detector() *accel.Detector {
	return e.ctx.Detector
}

// SetOffload enables hardware off-load for layers of this engine.
func (e *Engine) SetOffload(on bool) {
	e.ctx.Detector.SetOffload(on)
}

// AddRegion declares caller memory for boundary checking.
func (e *Engine) AddRegion(region []byte) {
	e.env.AddRegion(region)
}

// LastError returns the most specific failure of the latest rejected
// operation and clears it.
func (e *Engine) LastError() (modelerr.ModelError, bool) {
	return e.env.LastError.Take()
}

// Lower is LowerContext with a background context.
func (e *Engine) Lower(op Operation) (*Layer, error) {
	return e.LowerContext(context.Background(), op)
}

// LowerContext validates op and assembles its layer. On failure no layer
// is returned and the structured error is kept for LastError.
func (e *Engine) LowerContext(ctx context.Context, op Operation) (*Layer, error) {
	_, span := tracer.Start(ctx, "Lower", trace.WithAttributes(
		attribute.String("op", op.Kind.String()),
		attribute.String("generation", e.cfg.Generation.String()),
		attribute.Int("operands", len(op.Operands)),
	))
	defer span.End()

	start := time.Now()
	l, err := e.lower(op)
	loweringDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		e.fail(span, err)
		log.Warn().Err(err).Str("op", op.Kind.String()).Msg("Operation rejected")
		return nil, err
	}
	span.SetAttributes(attribute.Int("stages", len(l.pipeline.Stages)))
	layersLowered.WithLabelValues(op.Kind.String()).Inc()
	return l, nil
}

// LowerModel lowers ops in order. The first failure aborts and is tagged
// with the index of the failing operation.
func (e *Engine) LowerModel(ctx context.Context, ops []Operation) ([]*Layer, error) {
	ctx, span := tracer.Start(ctx, "LowerModel", trace.WithAttributes(attribute.Int("operations", len(ops))))
	defer span.End()

	layers := make([]*Layer, 0, len(ops))
	for i, op := range ops {
		err := modelerr.ForOperation(i, func() error {
			l, err := e.LowerContext(ctx, op)
			if err != nil {
				return err
			}
			layers = append(layers, l)
			return nil
		})
		if err != nil {
			e.env.LastError.Record(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
	return layers, nil
}

func (e *Engine) fail(span trace.Span, err error) {
	e.env.LastError.Record(err)
	loweringFailures.WithLabelValues(modelerr.StatusOf(err).String()).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (e *Engine) lower(op Operation) (*Layer, error) {
	meta, ok := Metadata[op.Kind]
	if !ok {
		return nil, modelerr.Invalid(modelerr.StatusLayerKind, modelerr.ItemOperationType, modelerr.ErrorNotInSet, int64(op.Kind))
	}
	if err := meta.checkCounts(len(op.Operands), len(op.Parameters)); err != nil {
		return nil, err
	}
	cfg, err := meta.config(op.Parameters)
	if err != nil {
		return nil, err
	}
	p, err := transform.NewPipeline(e.ctx, op.Kind, op.Operands, cfg)
	if err != nil {
		return nil, err
	}
	return &Layer{kind: op.Kind, engine: e, pipeline: p}, nil
}

func (e *Engine) String() string {
	return fmt.Sprintf("engine(%s, %s)", e.cfg.Generation, e.ctx.Detector.Best())
}
