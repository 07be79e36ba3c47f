package cmd

import (
	"fmt"
	"log/slog"

	"github.com/lehigh-university-libraries/ocrworker/internal/config"
	"github.com/lehigh-university-libraries/ocrworker/pkg/azure"
	"github.com/lehigh-university-libraries/ocrworker/pkg/claude"
	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
	"github.com/lehigh-university-libraries/ocrworker/pkg/gemini"
	"github.com/lehigh-university-libraries/ocrworker/pkg/imageprep"
	"github.com/lehigh-university-libraries/ocrworker/pkg/ollama"
	"github.com/lehigh-university-libraries/ocrworker/pkg/openai"
	"github.com/lehigh-university-libraries/ocrworker/pkg/tesseract"
	"github.com/lehigh-university-libraries/ocrworker/pkg/vision"
	"github.com/lehigh-university-libraries/ocrworker/pkg/worker"
)

type fingerprinter interface {
	Fingerprint() string
}

// newBackends registers every engine backend the worker can be configured
// with.
func newBackends(cfg config.Config) *engine.Backends {
	backends := engine.NewBackends()
	backends.Register(tesseract.New(tesseract.Options{
		PageSegMode:    cfg.Tesseract.PageSegMode,
		TessdataPrefix: cfg.Tesseract.TessdataPrefix,
		Variables:      cfg.Tesseract.Variables,
	}))
	backends.Register(ollama.New(ollama.Config{
		URL:         cfg.Ollama.URL,
		Model:       cfg.Ollama.Model,
		Temperature: cfg.Ollama.Temperature,
		Timeout:     cfg.Ollama.Timeout,
	}))
	backends.Register(gemini.New(gemini.Config{
		APIKey: cfg.Gemini.APIKey,
		Model:  cfg.Gemini.Model,
	}))
	backends.Register(vision.New(vision.Config{
		CredentialsFile: cfg.Vision.CredentialsFile,
	}))
	backends.Register(openai.New(openai.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
	}))
	backends.Register(claude.New(claude.Config{
		APIKey:  cfg.Claude.APIKey,
		BaseURL: cfg.Claude.BaseURL,
		Model:   cfg.Claude.Model,
	}))
	backends.Register(azure.New(azure.Config{
		Endpoint: cfg.Azure.Endpoint,
		APIKey:   cfg.Azure.APIKey,
	}))
	return backends
}

func fingerprint(b engine.Backend) string {
	if f, ok := b.(fingerprinter); ok {
		return f.Fingerprint()
	}
	return ""
}

// newRegistry resolves the configured primary and secondary backends.
func newRegistry(cfg config.Config, backends *engine.Backends) (*engine.Registry, error) {
	primary, err := backends.Get(cfg.PrimaryEngine)
	if err != nil {
		return nil, fmt.Errorf("primary engine: %w", err)
	}

	var secondary engine.Backend
	if !cfg.DisableSecondary {
		secondary, err = backends.Get(cfg.SecondaryEngine)
		if err != nil {
			return nil, fmt.Errorf("secondary engine: %w", err)
		}
	}

	opts := engine.Options{
		DefaultLanguage:            cfg.DefaultLanguage,
		Orientation:                cfg.UseOrientation,
		PrimaryParams:              fingerprint(primary),
		SecondaryDefaultConfidence: cfg.SecondaryDefaultConfidence,
		WarmupImage:                imageprep.Blank(256, 64),
		BusyTimeout:                cfg.PrimaryTimeout,
	}
	if secondary != nil {
		opts.SecondaryParams = fingerprint(secondary)
	}

	secondaryName := "disabled"
	if secondary != nil {
		secondaryName = secondary.Name()
	}
	slog.Info("Engines configured",
		"primary", primary.Name(),
		"secondary", secondaryName,
		"primary_timeout", cfg.PrimaryTimeout,
		"default_language", cfg.DefaultLanguage,
	)

	return engine.NewRegistry(primary, secondary, opts), nil
}

func engineVersion(cfg config.Config) string {
	if cfg.PrimaryEngine == "tesseract" {
		return "tesseract " + tesseract.Version()
	}
	return cfg.PrimaryEngine
}

func workerOptions(cfg config.Config) worker.Options {
	prep := imageprep.DefaultOptions()
	prep.MinHeight = cfg.UpscaleMinHeight
	prep.Grayscale = cfg.Grayscale

	return worker.Options{
		Version:         Version,
		EngineVersion:   engineVersion(cfg),
		WarmupLanguages: cfg.WarmupLanguages,
		StrictWarmup:    cfg.StrictWarmup,
		PrimaryTimeout:  cfg.PrimaryTimeout,
		Quality:         cfg.Quality,
		Prepare:         prep,
	}
}
