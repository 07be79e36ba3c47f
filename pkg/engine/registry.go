package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Status classifies one recognition attempt.
type Status string

const (
	StatusSuccess             Status = "success"
	StatusEmpty               Status = "empty"
	StatusTimeout             Status = "timeout"
	StatusConstructionFailure Status = "construction_failure"
	StatusInferenceFailure    Status = "inference_failure"
	StatusSkipped             Status = "skipped"
)

// Attempt records what happened when one engine tier ran.
type Attempt struct {
	Kind    Kind          `json:"kind"`
	Engine  string        `json:"engine"`
	Status  Status        `json:"status"`
	Elapsed time.Duration `json:"-"`
	Err     error         `json:"-"`
}

// Outcome describes how RecognizeWithFallback arrived at its result.
type Outcome struct {
	Language string    `json:"language"`
	Attempts []Attempt `json:"attempts"`
}

// Succeeded reports whether any attempt produced text.
func (o Outcome) Succeeded() bool {
	for _, a := range o.Attempts {
		if a.Status == StatusSuccess {
			return true
		}
	}
	return false
}

// Options configures a Registry.
type Options struct {
	// DefaultLanguage is used for "auto" and empty hints.
	DefaultLanguage string
	// Orientation enables orientation detection on the primary engine.
	Orientation bool
	// PrimaryParams and SecondaryParams fingerprint backend parameters so a
	// change of settings yields a distinct handle.
	PrimaryParams   string
	SecondaryParams string
	// SecondaryDefaultConfidence is reported for secondary fragments that
	// carry no confidence of their own.
	SecondaryDefaultConfidence float64
	// WarmupImage is run through each engine by Warm. A zero image makes Warm
	// construct engines without running them.
	WarmupImage Image
	// BusyTimeout bounds how long Warm and Close wait for a handle held by a
	// call abandoned at its deadline. Defaults to 5s.
	BusyTimeout time.Duration
}

type handle struct {
	engine Engine
	// busy holds a token while a call is in flight, including calls that
	// were abandoned at the deadline and have not returned yet.
	busy chan struct{}
}

func (h *handle) acquire(ctx context.Context) error {
	select {
	case h.busy <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *handle) release() {
	<-h.busy
}

// Registry owns every engine handle for the life of the process.
type Registry struct {
	primary   Backend
	secondary Backend
	opts      Options

	mu      sync.Mutex
	handles map[Key]*handle
	warmed  map[Key]bool
}

// NewRegistry builds a registry. secondary may be nil to disable fallback.
func NewRegistry(primary, secondary Backend, opts Options) *Registry {
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "ja"
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	return &Registry{
		primary:   primary,
		secondary: secondary,
		opts:      opts,
		handles:   make(map[Key]*handle),
		warmed:    make(map[Key]bool),
	}
}

// NormalizeLanguage resolves a hint against the registry's default language.
func (r *Registry) NormalizeLanguage(hint string) string {
	return NormalizeLanguage(hint, r.opts.DefaultLanguage)
}

// PrimaryKey is the key the primary tier uses for lang.
func (r *Registry) PrimaryKey(lang string) Key {
	return Key{Kind: KindPrimary, Language: r.NormalizeLanguage(lang), Orientation: r.opts.Orientation, Params: r.opts.PrimaryParams}
}

// SecondaryKey is the key the secondary tier uses for lang. The secondary
// always runs without orientation detection.
func (r *Registry) SecondaryKey(lang string) Key {
	return Key{Kind: KindSecondary, Language: r.NormalizeLanguage(lang), Params: r.opts.SecondaryParams}
}

// HasSecondary reports whether a fallback tier is configured.
func (r *Registry) HasSecondary() bool {
	return r.secondary != nil
}

func (r *Registry) backend(kind Kind) (Backend, error) {
	switch kind {
	case KindPrimary:
		if r.primary != nil {
			return r.primary, nil
		}
	case KindSecondary:
		if r.secondary != nil {
			return r.secondary, nil
		}
	}
	return nil, fmt.Errorf("no %s engine configured", kind)
}

// GetOrCreate returns the engine for key, constructing it on first use.
// Failures are returned as *ConstructionError and are not cached.
func (r *Registry) GetOrCreate(ctx context.Context, key Key) (Engine, error) {
	h, err := r.handle(ctx, key)
	if err != nil {
		return nil, err
	}
	return h.engine, nil
}

func (r *Registry) handle(ctx context.Context, key Key) (*handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[key]; ok {
		return h, nil
	}

	b, err := r.backend(key.Kind)
	if err != nil {
		return nil, &ConstructionError{Key: key, Err: err}
	}

	start := time.Now()
	e, err := b.Open(ctx, key)
	if err != nil {
		return nil, &ConstructionError{Key: key, Err: err}
	}
	slog.Info("Constructed OCR engine", "engine", b.Name(), "key", key.String(), "init_ms", time.Since(start).Milliseconds())

	h := &handle{engine: e, busy: make(chan struct{}, 1)}
	r.handles[key] = h
	return h, nil
}

// Constructed returns how many engine handles exist.
func (r *Registry) Constructed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Warm constructs the engine for each key and runs it once on the warmup
// image. Keys already warmed are skipped unless force is set. It returns every
// warmed key and the joined errors of the keys that failed.
func (r *Registry) Warm(ctx context.Context, keys []Key, force bool) ([]Key, error) {
	var errs []error
	for _, key := range keys {
		r.mu.Lock()
		done := r.warmed[key]
		r.mu.Unlock()
		if done && !force {
			continue
		}

		start := time.Now()
		h, err := r.handle(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(r.opts.WarmupImage.Data) > 0 {
			actx, cancel := context.WithTimeout(ctx, r.opts.BusyTimeout)
			err = h.acquire(actx)
			cancel()
			if err != nil {
				errs = append(errs, fmt.Errorf("warmup %s: engine still busy: %w", key, err))
				continue
			}
			_, err = invoke(ctx, h.engine, r.opts.WarmupImage)
			h.release()
			if err != nil {
				errs = append(errs, fmt.Errorf("warmup %s: %w", key, err))
				continue
			}
		}

		r.mu.Lock()
		r.warmed[key] = true
		r.mu.Unlock()
		slog.Info("Warmed OCR engine", "key", key.String(), "warm_ms", time.Since(start).Milliseconds())
	}

	return r.WarmedKeys(), errors.Join(errs...)
}

// WarmLanguages warms the primary engine of each language.
func (r *Registry) WarmLanguages(ctx context.Context, langs []string, force bool) ([]string, error) {
	keys := make([]Key, 0, len(langs))
	for _, l := range langs {
		keys = append(keys, r.PrimaryKey(l))
	}
	_, err := r.Warm(ctx, keys, force)
	return r.WarmedLanguages(), err
}

// WarmedKeys lists warmed keys in a stable order.
func (r *Registry) WarmedKeys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]Key, 0, len(r.warmed))
	for k := range r.warmed {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b Key) int {
		return strings.Compare(a.String(), b.String())
	})
	return keys
}

// WarmedLanguages lists the distinct languages of warmed keys.
func (r *Registry) WarmedLanguages() []string {
	langs := []string{}
	for _, k := range r.WarmedKeys() {
		if !slices.Contains(langs, k.Language) {
			langs = append(langs, k.Language)
		}
	}
	slices.Sort(langs)
	return langs
}

// RecognizeWithFallback runs the primary engine under deadline and falls back
// to the secondary engine when the primary times out, fails or reads nothing.
// It never returns an error: when both tiers fail the result is empty and the
// outcome explains why.
func (r *Registry) RecognizeWithFallback(ctx context.Context, img Image, languageHint string, deadline time.Duration) (Result, Outcome) {
	lang := r.NormalizeLanguage(languageHint)
	outcome := Outcome{Language: lang}

	res, att := r.runPrimary(ctx, img, r.PrimaryKey(lang), deadline)
	outcome.Attempts = append(outcome.Attempts, att)
	if att.Status == StatusSuccess {
		return res, outcome
	}
	slog.Warn("Primary OCR engine did not produce text", "status", att.Status, "language", lang, "err", att.Err)

	if r.secondary == nil {
		outcome.Attempts = append(outcome.Attempts, Attempt{Kind: KindSecondary, Status: StatusSkipped})
		return Result{}, outcome
	}

	res, att = r.runSecondary(ctx, img, r.SecondaryKey(lang))
	outcome.Attempts = append(outcome.Attempts, att)
	if att.Status == StatusSuccess {
		return res, outcome
	}
	slog.Warn("Secondary OCR engine did not produce text", "status", att.Status, "language", lang, "err", att.Err)

	return Result{}, outcome
}

type recognition struct {
	res Result
	err error
}

func (r *Registry) runPrimary(ctx context.Context, img Image, key Key, deadline time.Duration) (Result, Attempt) {
	att := Attempt{Kind: KindPrimary}
	if r.primary != nil {
		att.Engine = r.primary.Name()
	}
	start := time.Now()

	h, err := r.handle(ctx, key)
	if err != nil {
		att.Status, att.Err, att.Elapsed = StatusConstructionFailure, err, time.Since(start)
		return Result{}, att
	}

	pctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := h.acquire(pctx); err != nil {
		att.Status, att.Err, att.Elapsed = StatusTimeout, fmt.Errorf("primary engine still busy: %w", err), time.Since(start)
		return Result{}, att
	}

	done := make(chan recognition, 1)
	go func() {
		defer h.release()
		res, err := invoke(pctx, h.engine, img)
		done <- recognition{res: res, err: err}
	}()

	select {
	case out := <-done:
		att.Elapsed = time.Since(start)
		if out.err != nil {
			att.Status, att.Err = StatusInferenceFailure, out.err
			return Result{}, att
		}
		out.res.Kind, out.res.Engine, out.res.Elapsed = KindPrimary, att.Engine, att.Elapsed
		if out.res.Empty() {
			att.Status = StatusEmpty
			return Result{}, att
		}
		att.Status = StatusSuccess
		logRecognition(out.res)
		return out.res, att
	case <-pctx.Done():
		att.Status, att.Err, att.Elapsed = StatusTimeout, pctx.Err(), time.Since(start)
		return Result{}, att
	}
}

func (r *Registry) runSecondary(ctx context.Context, img Image, key Key) (Result, Attempt) {
	att := Attempt{Kind: KindSecondary, Engine: r.secondary.Name()}
	start := time.Now()

	h, err := r.handle(ctx, key)
	if err != nil {
		att.Status, att.Err, att.Elapsed = StatusConstructionFailure, err, time.Since(start)
		return Result{}, att
	}
	if err := h.acquire(ctx); err != nil {
		att.Status, att.Err, att.Elapsed = StatusInferenceFailure, err, time.Since(start)
		return Result{}, att
	}
	res, err := invoke(ctx, h.engine, img)
	h.release()
	att.Elapsed = time.Since(start)

	if err != nil {
		att.Status, att.Err = StatusInferenceFailure, err
		return Result{}, att
	}
	if res.Empty() {
		att.Status = StatusEmpty
		return Result{}, att
	}

	for i := range res.Fragments {
		if res.Fragments[i].Confidence == nil {
			res.Fragments[i].Confidence = Float(r.opts.SecondaryDefaultConfidence)
		}
	}
	res.Kind, res.Engine, res.Elapsed = KindSecondary, att.Engine, att.Elapsed
	att.Status = StatusSuccess
	logRecognition(res)
	return res, att
}

// invoke turns an engine panic into an error.
func invoke(ctx context.Context, e Engine, img Image) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("engine panicked: %v", p)
		}
	}()
	return e.Recognize(ctx, img)
}

func logRecognition(res Result) {
	mean, _ := res.MeanConfidence()
	slog.Info("[PERF] ocr",
		"engine", res.Engine,
		"kind", res.Kind,
		"infer_ms", res.Elapsed.Milliseconds(),
		"fragments", len(res.Fragments),
		"mean_conf", mean,
	)
}

// Close releases every engine. It waits up to BusyTimeout for a call
// abandoned at its deadline to return, and leaves that engine open otherwise.
func (r *Registry) Close() error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[Key]*handle)
	r.warmed = make(map[Key]bool)
	r.mu.Unlock()

	var errs []error
	for key, h := range handles {
		timer := time.NewTimer(r.opts.BusyTimeout)
		select {
		case h.busy <- struct{}{}:
			timer.Stop()
		case <-timer.C:
			slog.Warn("Engine still busy, skipping close", "key", key.String())
			continue
		}
		if err := h.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
