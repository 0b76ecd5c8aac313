package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-anvil/internal/lowering"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
)

const maxDescriptorBytes = 64 << 20

var (
	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "anvil_request_duration_seconds",
		Help:    "Time spent processing lower requests",
		Buckets: prometheus.DefBuckets,
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anvil_requests_total",
		Help: "Lower requests by HTTP status code",
	}, []string{"code"})
)

var tracer = otel.Tracer("anvil-server")

// Lowerer turns a decoded operation into a layer.
type Lowerer interface {
	LowerContext(ctx context.Context, op lowering.Operation) (*lowering.Layer, error)
}

// rejection is the CBOR body returned for an operation the engine refused.
type rejection struct {
	Status  string `cbor:"status"`
	Where   string `cbor:"where,omitempty"`
	Message string `cbor:"message"`
}

type Server struct {
	lowerer Lowerer
	alloc   memory.Allocator
	sem     *semaphore.Weighted
}

func NewServer(lowerer Lowerer, maxConcurrent int) *Server {
	return &Server{
		lowerer: lowerer,
		alloc:   memory.NewGoAllocator(),
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/lower", s.handleLower)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func serve(ctx context.Context, o *options) error {
	cfg, err := o.engineConfig()
	if err != nil {
		return err
	}
	engine, err := lowering.NewEngine(cfg)
	if err != nil {
		return err
	}
	engine.SetOffload(o.offload)

	srv := &http.Server{Addr: o.listen, Handler: NewServer(engine, o.workers).routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", o.listen).Stringer("generation", cfg.Generation).Msg("Starting Anvil Server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleLower decodes one CBOR operation descriptor and answers with the
// stage plan as an Arrow IPC stream.
func (s *Server) handleLower(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleLower")
	defer span.End()

	start := time.Now()
	code := http.StatusOK
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
		requestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	}()
	fail := func(c int, msg string) {
		code = c
		http.Error(w, msg, c)
	}

	if r.Method != http.MethodPost {
		fail(http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxDescriptorBytes))
	if err != nil {
		fail(http.StatusBadRequest, fmt.Sprintf("Bad Request (read): %v", err))
		return
	}
	op, err := lowering.DecodeOperation(data)
	if err != nil {
		span.RecordError(err)
		fail(http.StatusBadRequest, fmt.Sprintf("Bad Request (CBOR decode): %v", err))
		return
	}
	span.SetAttributes(attribute.String("op", op.Kind.String()), attribute.Int("operands", len(op.Operands)))

	if err := s.sem.Acquire(ctx, 1); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		fail(http.StatusServiceUnavailable, "Server busy")
		return
	}
	layer, err := s.lowerer.LowerContext(ctx, op)
	s.sem.Release(1)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		code = http.StatusUnprocessableEntity
		writeRejection(w, err)
		return
	}

	rec := lowering.PlanRecord(s.alloc, layer)
	defer rec.Release()
	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(s.alloc))
	if err := writer.Write(rec); err != nil {
		log.Error().Err(err).Msg("Failed to write plan")
	}
	if err := writer.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close plan stream")
	}
}

func writeRejection(w http.ResponseWriter, err error) {
	rej := rejection{Status: modelerr.StatusOf(err).String(), Message: err.Error()}
	if me, ok := modelerr.AsModelError(err); ok {
		rej.Where = me.String()
	}
	body, merr := cbor.Marshal(rej)
	if merr != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusUnprocessableEntity)
	_, _ = w.Write(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
