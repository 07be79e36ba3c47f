package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/ocrworker/internal/config"
)

func TestNewBackendsRegistersEveryEngine(t *testing.T) {
	backends := newBackends(config.Default())
	want := []string{"azure", "claude", "gemini", "ollama", "openai", "tesseract", "vision"}
	got := backends.List()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestNewRegistry(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*config.Config)
		wantSecondary bool
		errContains   string
	}{
		{
			name:          "defaults",
			mutate:        func(*config.Config) {},
			wantSecondary: true,
		},
		{
			name:   "secondary disabled",
			mutate: func(c *config.Config) { c.DisableSecondary = true; c.SecondaryEngine = "" },
		},
		{
			name:        "unknown primary",
			mutate:      func(c *config.Config) { c.PrimaryEngine = "abbyy" },
			errContains: "primary engine",
		},
		{
			name:        "unknown secondary",
			mutate:      func(c *config.Config) { c.SecondaryEngine = "abbyy" },
			errContains: "secondary engine",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)

			registry, err := newRegistry(cfg, newBackends(cfg))
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("newRegistry() error = %v, want %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("newRegistry() error = %v", err)
			}
			defer registry.Close()

			if registry.HasSecondary() != tt.wantSecondary {
				t.Errorf("HasSecondary() = %v, want %v", registry.HasSecondary(), tt.wantSecondary)
			}
			if len(registry.WarmedKeys()) != 0 {
				t.Error("building the registry must not construct engines")
			}
		})
	}
}

func TestWorkerOptions(t *testing.T) {
	cfg := config.Default()
	cfg.PrimaryEngine = "gemini"
	cfg.PrimaryTimeout = 2 * time.Second
	cfg.UpscaleMinHeight = 96
	cfg.Grayscale = true
	cfg.StrictWarmup = true

	opts := workerOptions(cfg)
	if opts.EngineVersion != "gemini" {
		t.Errorf("EngineVersion = %q", opts.EngineVersion)
	}
	if opts.PrimaryTimeout != 2*time.Second || !opts.StrictWarmup {
		t.Errorf("timeout/strict not carried: %+v", opts)
	}
	if opts.Prepare.MinHeight != 96 || !opts.Prepare.Grayscale {
		t.Errorf("Prepare = %+v", opts.Prepare)
	}
	if strings.Join(opts.WarmupLanguages, ",") != "ja,en" {
		t.Errorf("WarmupLanguages = %v", opts.WarmupLanguages)
	}
}
