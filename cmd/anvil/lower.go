package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-anvil/internal/accel"
	"github.com/23skdu/longbow-anvil/internal/cache"
	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/lowering"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/tensor"
	"github.com/23skdu/longbow-anvil/internal/transform"
)

type result struct {
	path   string
	layer  *lowering.Layer
	cached bool
	err    error

	// Filled in when the layer was executed.
	executed    bool
	saturations uint64
	modes       []accel.Mode
}

// batch lowers descriptor files concurrently. Files with identical content
// share one layer.
type batch struct {
	engine  *lowering.Engine
	layers  *cache.MapCache[uint64, *lowering.Layer]
	memory  *semaphore.Weighted
	limit   int64
	workers int
	run     bool
	mode    accel.Mode
}

func newBatch(engine *lowering.Engine, o *options) (*batch, error) {
	limit, err := parseBytes(o.maxScratch)
	if err != nil {
		return nil, err
	}
	mode, err := accel.ParseMode(o.mode)
	if err != nil {
		return nil, err
	}
	return &batch{
		engine:  engine,
		layers:  cache.NewMapCache[uint64, *lowering.Layer](),
		memory:  semaphore.NewWeighted(limit),
		limit:   limit,
		workers: o.workers,
		run:     o.run,
		mode:    mode,
	}, nil
}

func (b *batch) lowerFiles(ctx context.Context, paths []string) []result {
	results := make([]result, len(paths))
	var g errgroup.Group
	g.SetLimit(b.workers)
	for i, path := range paths {
		g.Go(func() error {
			results[i] = b.lowerFile(ctx, path)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (b *batch) lowerFile(ctx context.Context, path string) result {
	res := result{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		res.err = err
		return res
	}
	res.layer, res.cached, res.err = b.layers.GetOrCompute(cache.Key(data), func() (*lowering.Layer, error) {
		op, err := lowering.DecodeOperation(data)
		if err != nil {
			return nil, err
		}
		return b.engine.LowerContext(ctx, op)
	})
	if res.err != nil || !b.run {
		return res
	}
	res.err = b.execute(ctx, &res)
	return res
}

// execute runs the layer once on zeroed input and fresh output and scratch
// memory. The memory semaphore bounds what concurrent runs hold.
func (b *batch) execute(ctx context.Context, res *result) error {
	out, err := res.layer.Operand(catalog.OperandOutput)
	if err != nil {
		return err
	}
	in, err := res.layer.Operand(catalog.OperandInput)
	if err != nil {
		return err
	}
	weight := int64(out.Size) + int64(res.layer.ScratchSize())
	if in.Buffer == nil {
		weight += int64(in.Size)
	}
	if weight > b.limit {
		return fmt.Errorf("execution needs %d bytes, limit is %d", weight, b.limit)
	}
	if err := b.memory.Acquire(ctx, weight); err != nil {
		return err
	}
	defer b.memory.Release(weight)

	buffers := transform.Buffers{
		catalog.OperandOutput: tensor.AlignedBuffer(int(out.Size), catalog.BufferAlignment),
	}
	if in.Buffer == nil {
		buffers[catalog.OperandInput] = tensor.AlignedBuffer(int(in.Size), catalog.BufferAlignment)
	}
	if n := res.layer.ScratchSize(); n > 0 {
		buffers[catalog.OperandScratch] = tensor.AlignedBuffer(n, catalog.BufferAlignment)
	}
	cfg := &transform.ExecConfig{Buffers: buffers}
	if err := res.layer.ComputeContext(ctx, b.mode, nil, cfg); err != nil {
		return err
	}
	res.executed = true
	res.saturations = cfg.Saturations
	res.modes = cfg.Modes
	return nil
}

func lowerCommand(ctx context.Context, o *options, paths []string, stdout io.Writer) error {
	cfg, err := o.engineConfig()
	if err != nil {
		return err
	}
	engine, err := lowering.NewEngine(cfg)
	if err != nil {
		return err
	}
	engine.SetOffload(o.offload)

	b, err := newBatch(engine, o)
	if err != nil {
		return err
	}
	results := b.lowerFiles(ctx, paths)

	failed := report(results)
	if o.format == "arrow" {
		if err := writePlan(stdout, results); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d operations rejected", failed, len(results))
	}
	return nil
}

func report(results []result) int {
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			ev := log.Error().Err(r.err).Str("file", r.path).Stringer("status", modelerr.StatusOf(r.err))
			if me, ok := modelerr.AsModelError(r.err); ok {
				ev = ev.Stringer("where", me)
			}
			ev.Msg("Operation rejected")
			continue
		}
		stages := make([]string, 0, len(r.layer.Stages()))
		for _, s := range r.layer.Stages() {
			stages = append(stages, s.String())
		}
		ev := log.Info().
			Str("file", r.path).
			Stringer("op", r.layer.Kind()).
			Str("stages", strings.Join(stages, " | ")).
			Int("scratch_bytes", r.layer.ScratchSize()).
			Bool("cached", r.cached)
		if r.executed {
			modes := make([]string, len(r.modes))
			for i, m := range r.modes {
				modes[i] = m.String()
			}
			ev = ev.Strs("modes", modes).Uint64("saturations", r.saturations)
		}
		ev.Msg("Operation lowered")
	}
	return failed
}

func writePlan(w io.Writer, results []result) error {
	layers := make([]*lowering.Layer, 0, len(results))
	for _, r := range results {
		if r.err == nil {
			layers = append(layers, r.layer)
		}
	}
	pool := memory.NewGoAllocator()
	rec := lowering.PlanRecord(pool, layers...)
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(pool))
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("write plan: %w", err)
	}
	return writer.Close()
}
