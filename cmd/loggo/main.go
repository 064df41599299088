// loggo: drives the logging engine from the command line. It loads a
// configuration (file, environment or flags), emits records from concurrent
// workers and optionally keeps running while watching the configuration file.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/LixenWraith/loggo"
)

type options struct {
	configPath  string
	watch       bool
	records     int
	workers     int
	messageSize int
	level       string
	format      string
	file        string
	maxSize     int64
	maxBackups  int
	interval    string
	compress    string
	scope       bool
	traceback   bool
	metricsAddr string
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := pflag.NewFlagSet("loggo", pflag.ContinueOnError)
	fs.StringVarP(&o.configPath, "config", "c", "", "configuration file (YAML or JSON)")
	fs.BoolVarP(&o.watch, "watch", "w", false, "keep running and reload the configuration file on change")
	fs.IntVarP(&o.records, "records", "n", 1000, "records per worker")
	fs.IntVarP(&o.workers, "workers", "g", 10, "concurrent workers")
	fs.IntVar(&o.messageSize, "message-size", 64, "random message length")
	fs.StringVarP(&o.level, "level", "l", "info", "minimum level when no configuration file is given")
	fs.StringVarP(&o.format, "format", "f", "text", "text or json when no configuration file is given")
	fs.StringVar(&o.file, "file", "", "log file path; stdout when empty")
	fs.Int64Var(&o.maxSize, "max-size-bytes", 0, "rotate the log file beyond this size")
	fs.IntVar(&o.maxBackups, "max-backups", 0, "rotated backups to keep, 0 keeps all")
	fs.StringVar(&o.interval, "interval", "", "time rotation: day, week or month")
	fs.StringVar(&o.compress, "compress", "", "backup compression: gz")
	fs.BoolVar(&o.scope, "scope", false, "attach caller scope to records")
	fs.BoolVar(&o.traceback, "traceback", false, "attach tracebacks to error records")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.watch && o.configPath == "" {
		return nil, errors.New("--watch requires --config")
	}
	return o, nil
}

// flagConfig builds a single-route configuration from flags.
func (o *options) flagConfig() *loggo.Config {
	cfg := loggo.DefaultConfig()
	cfg.Formatters = map[string]loggo.FormatterConfig{
		"main": {Type: o.format, Style: "default"},
	}
	writer := loggo.WriterConfig{Type: "stdout"}
	if o.file != "" {
		writer = loggo.WriterConfig{
			Type:         "file",
			Path:         o.file,
			MaxSizeBytes: o.maxSize,
			MaxBackups:   o.maxBackups,
			Interval:     o.interval,
			Compress:     o.compress,
		}
	}
	cfg.Writers = map[string]loggo.WriterConfig{"main": writer}
	cfg.Routes = []loggo.RouteConfig{{Level: o.level, Formatter: "main", Writer: "main"}}
	cfg.Capture.Scope = o.scope
	cfg.Capture.Traceback = o.traceback
	return cfg
}

func (o *options) loadConfig() (*loggo.Config, error) {
	if o.configPath != "" {
		return loggo.LoadConfig(o.configPath)
	}
	cfg := o.flagConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var levels = []loggo.Level{
	loggo.LevelTrace,
	loggo.LevelDebug,
	loggo.LevelInfo,
	loggo.LevelWarning,
	loggo.LevelError,
	loggo.LevelException,
}

func generateRandomMessage(rng *rand.Rand, size int) string {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 "
	var sb strings.Builder
	sb.Grow(size)
	for i := 0; i < size; i++ {
		sb.WriteByte(chars[rng.Intn(len(chars))])
	}
	return sb.String()
}

func worker(ctx context.Context, m *loggo.Manager, id int, o *options, emitted *atomic.Int64) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	for i := 0; i < o.records; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.Log(levels[rng.Intn(len(levels))], generateRandomMessage(rng, o.messageSize),
			loggo.F("worker_id", id),
			loggo.F("log_number", i),
			loggo.F("random_value", rng.Int63()),
			loggo.Group("request",
				loggo.F("path", "/api/v1/items"),
				loggo.F("duration", time.Duration(rng.Intn(5000))*time.Microsecond),
			),
		)
		emitted.Add(1)
	}
}

func run(args []string) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := o.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	core, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	m := loggo.NewManager(core)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if o.metricsAddr != "" {
		srv := &http.Server{Addr: o.metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		defer srv.Close()
	}

	if o.watch {
		w, err := loggo.NewWatcher(o.configPath, m)
		if err != nil {
			return fmt.Errorf("failed to watch configuration: %w", err)
		}
		defer w.Close()
	}

	start := time.Now()
	var emitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker(ctx, m, id, o, &emitted)
		}(i)
	}
	wg.Wait()
	duration := time.Since(start)
	fmt.Fprintf(os.Stderr, "emitted %d records in %v\n", emitted.Load(), duration)

	if o.watch {
		fmt.Fprintln(os.Stderr, "watching configuration, press Ctrl+C to stop")
		<-ctx.Done()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during logger shutdown: %w", err)
	}
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "loggo: %v\n", err)
		os.Exit(1)
	}
}
