package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-anvil/internal/accel"
	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/lowering"
)

const usage = `usage: anvil [flags] <command> [args]

commands:
  lower FILE...   lower CBOR operation descriptors and report the plans
  serve           accept descriptors over HTTP (POST /lower)
  cpuinfo         print the detected CPU features and acceleration modes
`

type options struct {
	generation  string
	logLevel    string
	format      string
	mode        string
	run         bool
	noSIMD      bool
	offload     bool
	alignment   uint
	workers     int
	maxScratch  string
	listen      string
	metricsAddr string
	enableOTel  bool
	cpuProfile  string
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	o := &options{}
	fs := flag.NewFlagSet("anvil", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&o.generation, "generation", catalog.Gen3_0.String(), "Target device generation (0.9, 1.0, 2.0, 3.0, 3.5, 3.6)")
	fs.StringVar(&o.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&o.format, "format", "text", "Report format for lower: 'text' (log lines) or 'arrow' (IPC stream on stdout)")
	fs.StringVar(&o.mode, "mode", "auto", "Acceleration mode used with -run ("+strings.Join(modeNames(), ", ")+")")
	fs.BoolVar(&o.run, "run", false, "Execute every lowered layer once on zeroed buffers")
	fs.BoolVar(&o.noSIMD, "no-simd", accel.NoSimdEnv(), "Restrict execution to the generic tier")
	fs.BoolVar(&o.offload, "offload", false, "Prefer hardware off-load where kernels provide it")
	fs.UintVar(&o.alignment, "alignment", 0, "Override every buffer alignment requirement (0 keeps the catalog values)")
	fs.IntVar(&o.workers, "workers", runtime.GOMAXPROCS(0), "Maximum number of descriptors lowered concurrently")
	fs.StringVar(&o.maxScratch, "max-scratch", "256MB", "Maximum output and scratch memory held by concurrent -run executions (e.g. 64MB)")
	fs.StringVar(&o.listen, "listen", ":8080", "Address the serve command listens on")
	fs.StringVar(&o.metricsAddr, "metrics", "", "Address to expose Prometheus metrics on (e.g. :9100)")
	fs.BoolVar(&o.enableOTel, "otel", false, "Enable OpenTelemetry tracing (stdout)")
	fs.StringVar(&o.cpuProfile, "cpuprofile", "", "Write cpu profile to file")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if o.format != "text" && o.format != "arrow" {
		return nil, nil, fmt.Errorf("unknown report format %q", o.format)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	return o, fs.Args(), nil
}

// modeNames lists every name accepted by accel.ParseMode.
func modeNames() []string {
	names := []string{accel.ModeAuto.String()}
	for _, m := range accel.SoftwareModes() {
		names = append(names, m.String())
	}
	return append(names, accel.ModeHardware.String())
}

func parseBytes(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	split := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if split < 0 {
		split = len(s)
	}
	if split == 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	val, err := strconv.ParseInt(s[:split], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	switch strings.TrimSpace(s[split:]) {
	case "GB", "G":
		return val << 30, nil
	case "MB", "M":
		return val << 20, nil
	case "KB", "K":
		return val << 10, nil
	case "", "B":
		return val, nil
	default:
		return 0, fmt.Errorf("invalid size unit in %q", s)
	}
}

func (o *options) engineConfig() (lowering.Config, error) {
	gen, err := catalog.ParseGeneration(o.generation)
	if err != nil {
		return lowering.Config{}, err
	}
	return lowering.Config{
		Generation:        gen,
		AlignmentOverride: uint32(o.alignment),
		NoSIMD:            o.noSIMD,
	}, nil
}

func initLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
	return nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	o, rest, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	if err := initLogging(o.logLevel); err != nil {
		return err
	}

	if o.enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			return fmt.Errorf("initialize tracer: %w", err)
		}
		defer shutdown(context.Background())
	}

	if o.cpuProfile != "" {
		f, err := os.Create(o.cpuProfile)
		if err != nil {
			return fmt.Errorf("create CPU profile file: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	if o.metricsAddr != "" {
		go serveMetrics(o.metricsAddr)
	}

	cmd := "lower"
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}
	switch cmd {
	case "cpuinfo":
		return printCPUInfo(stdout, o.noSIMD)
	case "serve":
		return serve(ctx, o)
	case "lower":
		if len(rest) == 0 {
			return errors.New("lower: no descriptor files given")
		}
		return lowerCommand(ctx, o, rest, stdout)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics server failed")
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("anvil failed")
	}
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("anvil"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}
