package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/lehigh-university-libraries/ocrworker/pkg/quality"
)

// Config is the worker configuration. It is built once at startup from
// defaults, an optional YAML file and the environment, in that order.
type Config struct {
	DefaultLanguage            string        `yaml:"default_language"`
	WarmupLanguages            []string      `yaml:"warmup_languages"`
	PrimaryEngine              string        `yaml:"primary_engine"`
	SecondaryEngine            string        `yaml:"secondary_engine"`
	DisableSecondary           bool          `yaml:"disable_secondary"`
	PrimaryTimeout             time.Duration `yaml:"primary_timeout"`
	SecondaryDefaultConfidence float64       `yaml:"secondary_default_confidence"`
	UseOrientation             bool          `yaml:"use_orientation"`
	StrictWarmup               bool          `yaml:"strict_warmup"`
	UpscaleMinHeight           int           `yaml:"upscale_min_height"`
	Grayscale                  bool          `yaml:"grayscale"`

	Tesseract TesseractConfig `yaml:"tesseract"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Vision    VisionConfig    `yaml:"vision"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Claude    ClaudeConfig    `yaml:"claude"`
	Azure     AzureConfig     `yaml:"azure"`

	// Quality is only read from the environment.
	Quality quality.Config `yaml:"-"`
}

type TesseractConfig struct {
	PageSegMode    int               `yaml:"psm"`
	TessdataPrefix string            `yaml:"tessdata_prefix"`
	Variables      map[string]string `yaml:"variables"`
}

type OllamaConfig struct {
	URL         string        `yaml:"url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type VisionConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type ClaudeConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type AzureConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DefaultLanguage:            "ja",
		WarmupLanguages:            []string{"ja", "en"},
		PrimaryEngine:              "tesseract",
		SecondaryEngine:            "ollama",
		PrimaryTimeout:             5 * time.Second,
		SecondaryDefaultConfidence: 0.8,
		UpscaleMinHeight:           64,
		Tesseract: TesseractConfig{
			Variables: map[string]string{"preserve_interword_spaces": "1"},
		},
		Ollama: OllamaConfig{
			URL:   "http://localhost:11434",
			Model: "llava",
		},
		Quality: quality.DefaultConfig(),
	}
}

// Load builds the configuration. path may be empty. A nil lookup reads the
// process environment.
func Load(path string, lookup quality.LookupFunc) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv(lookup)
	cfg.Quality = quality.LoadConfig(lookup)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup quality.LookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			*dst = quality.ParseBool(v)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				*dst = int(f)
			}
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				*dst = f
			}
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			if d, err := ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("OCR_DEFAULT_LANGUAGE", &c.DefaultLanguage)
	if v, ok := lookup("OCR_WARMUP_LANGS"); ok {
		c.WarmupLanguages = SplitList(v)
	}
	str("OCR_PRIMARY_ENGINE", &c.PrimaryEngine)
	str("OCR_SECONDARY_ENGINE", &c.SecondaryEngine)
	boolean("OCR_DISABLE_SECONDARY", &c.DisableSecondary)
	duration("OCR_PRIMARY_TIMEOUT", &c.PrimaryTimeout)
	float("OCR_SECONDARY_DEFAULT_CONFIDENCE", &c.SecondaryDefaultConfidence)
	boolean("OCR_USE_ORIENTATION", &c.UseOrientation)
	boolean("OCR_STRICT_WARMUP", &c.StrictWarmup)
	integer("OCR_UPSCALE_MIN_HEIGHT", &c.UpscaleMinHeight)
	boolean("OCR_GRAYSCALE", &c.Grayscale)

	integer("OCR_TESSERACT_PSM", &c.Tesseract.PageSegMode)
	str("OCR_TESSDATA_PREFIX", &c.Tesseract.TessdataPrefix)

	str("OLLAMA_URL", &c.Ollama.URL)
	str("OLLAMA_MODEL", &c.Ollama.Model)

	str("GEMINI_API_KEY", &c.Gemini.APIKey)
	str("GEMINI_MODEL", &c.Gemini.Model)

	str("GOOGLE_APPLICATION_CREDENTIALS", &c.Vision.CredentialsFile)

	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str("OPENAI_MODEL", &c.OpenAI.Model)

	str("ANTHROPIC_API_KEY", &c.Claude.APIKey)
	str("ANTHROPIC_BASE_URL", &c.Claude.BaseURL)
	str("CLAUDE_MODEL", &c.Claude.Model)

	str("AZURE_OCR_ENDPOINT", &c.Azure.Endpoint)
	str("AZURE_OCR_API_KEY", &c.Azure.APIKey)
}

// Validate reports settings the worker cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.PrimaryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("primary timeout must be positive, got %s", c.PrimaryTimeout))
	}
	if c.SecondaryDefaultConfidence < 0 || c.SecondaryDefaultConfidence > 1 {
		errs = append(errs, fmt.Errorf("secondary default confidence must be within [0,1], got %g", c.SecondaryDefaultConfidence))
	}
	if c.PrimaryEngine == "" {
		errs = append(errs, errors.New("primary engine is not set"))
	}
	if !c.DisableSecondary && c.SecondaryEngine == "" {
		errs = append(errs, errors.New("secondary engine is not set"))
	}
	return errors.Join(errs...)
}

// ParseDuration accepts Go durations ("1500ms") and plain seconds ("2.5").
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
