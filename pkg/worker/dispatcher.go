package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/ocrworker/internal/utils"
	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
	"github.com/lehigh-university-libraries/ocrworker/pkg/hocr"
	"github.com/lehigh-university-libraries/ocrworker/pkg/imageprep"
	"github.com/lehigh-university-libraries/ocrworker/pkg/quality"
)

// ErrWarmupFailed is returned by Run when strict startup warmup fails.
var ErrWarmupFailed = errors.New("startup warmup failed")

// maxErrorLen bounds error messages sent over the wire.
const maxErrorLen = 500

// ImageSource captures an image for source=clipboard requests.
type ImageSource interface {
	Capture(ctx context.Context) (engine.Image, error)
}

// Options configures a Dispatcher.
type Options struct {
	Version       string
	EngineVersion string
	// WarmupLanguages are warmed at startup and by warmup requests that name
	// no language.
	WarmupLanguages []string
	// StrictWarmup makes Run fail when startup warmup fails. Otherwise the
	// worker keeps serving with cold engines.
	StrictWarmup   bool
	PrimaryTimeout time.Duration
	Quality        quality.Config
	Prepare        imageprep.Options
	Merge          hocr.MergeOptions
	// Clipboard may be nil, in which case clipboard requests fail.
	Clipboard ImageSource
}

// Dispatcher answers line-delimited JSON requests. It handles one request at
// a time and writes each response before reading the next line.
type Dispatcher struct {
	registry *engine.Registry
	opts     Options
	started  time.Time
	perf     *perfMonitor
}

// New creates a dispatcher around registry.
func New(registry *engine.Registry, opts Options) *Dispatcher {
	if opts.PrimaryTimeout <= 0 {
		opts.PrimaryTimeout = 5 * time.Second
	}
	if opts.Merge == (hocr.MergeOptions{}) {
		opts.Merge = hocr.DefaultMergeOptions()
	}
	return &Dispatcher{
		registry: registry,
		opts:     opts,
		started:  time.Now(),
		perf:     newPerfMonitor(),
	}
}

// Run announces the worker, warms the startup languages and serves requests
// from in until EOF.
func (d *Dispatcher) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	w := bufio.NewWriter(out)

	if err := writeValue(w, bootLine{Boot: "ocrworker", Version: d.opts.Version, PID: os.Getpid()}); err != nil {
		return err
	}
	slog.Info("OCR worker started", "version", d.opts.Version, "pid", os.Getpid())

	langs, err := d.registry.WarmLanguages(ctx, d.opts.WarmupLanguages, true)
	if err != nil {
		slog.Error("Initial warmup failed", "langs", langs, "err", utils.MaskSensitiveError(err))
		if werr := writeValue(w, warmupLine{Warmup: "failed", Langs: langs, Error: utils.ErrorMessage(err, maxErrorLen)}); werr != nil {
			return werr
		}
		if d.opts.StrictWarmup {
			return fmt.Errorf("%w: %w", ErrWarmupFailed, utils.MaskSensitiveError(err))
		}
	} else {
		slog.Info("Warmup completed", "langs", strings.Join(langs, ", "))
		if err := writeValue(w, warmupLine{Warmup: "complete", Langs: langs}); err != nil {
			return err
		}
	}

	return d.serve(ctx, in, w)
}

// Serve answers requests from in until EOF without the startup sequence.
func (d *Dispatcher) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return d.serve(ctx, in, bufio.NewWriter(out))
}

type readLine struct {
	line string
	err  error
}

// readLines feeds lines from in to the returned channel until a read fails
// or done is closed. A read blocked on in outlives done.
func readLines(in io.Reader, done <-chan struct{}) <-chan readLine {
	lines := make(chan readLine)
	go func() {
		defer close(lines)
		r := bufio.NewReader(in)
		for {
			line, err := r.ReadString('\n')
			select {
			case lines <- readLine{line: line, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return lines
}

func (d *Dispatcher) serve(ctx context.Context, in io.Reader, w *bufio.Writer) error {
	done := make(chan struct{})
	defer close(done)
	lines := readLines(in, done)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var next readLine
		select {
		case <-ctx.Done():
			slog.Info("Shutdown requested while waiting for input")
			return ctx.Err()
		case next = <-lines:
		}
		if next.err != nil && !errors.Is(next.err, io.EOF) {
			return fmt.Errorf("failed to read request: %w", next.err)
		}

		if strings.TrimSpace(next.line) != "" {
			if err := writeLine(w, d.Handle(ctx, []byte(next.line))); err != nil {
				return err
			}
		}

		if next.err != nil {
			slog.Info("Input closed, shutting down")
			return nil
		}
	}
}

// Handle answers a single request line and returns the encoded response,
// without the trailing newline. It never panics.
func (d *Dispatcher) Handle(ctx context.Context, line []byte) []byte {
	resp := d.respond(ctx, line)
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("Failed to encode response", "type", resp.Type, "err", err)
		data, _ = json.Marshal(response{
			ID:      resp.ID,
			Type:    resp.Type,
			Payload: ErrorPayload{Error: "failed to encode response: " + err.Error(), Code: CodeException},
		})
	}
	return data
}

func (d *Dispatcher) respond(ctx context.Context, line []byte) response {
	env, err := parseEnvelope(line)
	if err != nil {
		slog.Error("Invalid request line", "err", err)
		return response{ID: env.ID, Type: TypeError, Payload: ErrorPayload{Error: err.Error(), Code: CodeInvalidJSON}}
	}

	if env.Type == TypePing {
		slog.Debug("Heartbeat ping received", "id", string(env.ID))
	} else {
		slog.Info("Request", "id", string(env.ID), "type", env.Type)
	}

	start := time.Now()
	resp := d.dispatch(ctx, env)
	elapsed := time.Since(start)
	d.perf.record(elapsed)

	if env.Type != TypePing {
		slog.Info("Response", "id", string(env.ID), "type", resp.Type, "elapsed_ms", elapsed.Milliseconds())
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, env Envelope) (resp response) {
	resp = response{ID: env.ID, Type: env.Type}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("Handler panicked", "type", env.Type, "panic", p)
			resp.Payload = ErrorPayload{Error: utils.MaskSensitiveData(fmt.Sprint(p)), Code: CodeException}
		}
	}()

	var (
		payload any
		err     error
	)
	switch env.Type {
	case TypeHealthCheck, TypeHealthCheckDot:
		payload = healthResponse{Message: "ok"}
	case TypePing:
		resp.Type = TypePong
		payload = d.ping()
	case TypeWarmup, TypeWarmupDot:
		payload, err = d.warmup(ctx, env.Payload)
	case TypePerform, TypePerformDot:
		payload, err = d.perform(ctx, env.Payload)
	default:
		resp.Payload = ErrorPayload{Error: "Unknown type: " + env.Type, Code: CodeUnknownType}
		return resp
	}

	if err != nil {
		slog.Error("Handler error", "type", env.Type, "err", utils.MaskSensitiveError(err))
		resp.Payload = ErrorPayload{Error: utils.ErrorMessage(err, maxErrorLen), Code: CodeException}
		return resp
	}
	resp.Payload = payload
	return resp
}

func writeValue(w *bufio.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode boot line: %w", err)
	}
	return writeLine(w, data)
}

// writeLine writes one line and flushes it so the parent sees it at once.
func writeLine(w *bufio.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}
