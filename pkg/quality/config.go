package quality

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables read by LoadConfig.
const (
	EnvMaxAbsEdit     = "OCR_MAX_ABS_EDIT"
	EnvMaxRelEdit     = "OCR_MAX_REL_EDIT"
	EnvBaseErrorFloor = "OCR_BASE_ERROR_FLOOR"
	EnvMinConfidence  = "OCR_MIN_CONFIDENCE"
	EnvMinConfLength  = "OCR_MIN_CONF_LENGTH"
	EnvMinAlphaRatio  = "OCR_MIN_ALPHA_RATIO"
	EnvMinLengthRatio = "OCR_MIN_LENGTH_RATIO"
	EnvNormalizeNFKC  = "OCR_NORMALIZE_NFKC"
	EnvIgnoreCase     = "OCR_IGNORE_CASE"
)

// Config holds the thresholds of the accept/reject policy. A Config is a
// value with no setters; build one with DefaultConfig, NewConfig or LoadConfig.
type Config struct {
	maxAbsEdit     int
	maxRelEdit     float64
	baseErrorFloor int
	minConfidence  float64
	minConfLength  int
	minAlphaRatio  float64
	minLengthRatio float64
	normalizeNFKC  bool
	ignoreCase     bool
}

// Option adjusts a Config while it is being built.
type Option func(*Config)

func WithMaxAbsEdit(n int) Option         { return func(c *Config) { c.maxAbsEdit = n } }
func WithMaxRelEdit(r float64) Option     { return func(c *Config) { c.maxRelEdit = r } }
func WithBaseErrorFloor(n int) Option     { return func(c *Config) { c.baseErrorFloor = n } }
func WithMinConfidence(f float64) Option  { return func(c *Config) { c.minConfidence = f } }
func WithMinConfLength(n int) Option      { return func(c *Config) { c.minConfLength = n } }
func WithMinAlphaRatio(f float64) Option  { return func(c *Config) { c.minAlphaRatio = f } }
func WithMinLengthRatio(f float64) Option { return func(c *Config) { c.minLengthRatio = f } }
func WithNormalizeNFKC(b bool) Option     { return func(c *Config) { c.normalizeNFKC = b } }
func WithIgnoreCase(b bool) Option        { return func(c *Config) { c.ignoreCase = b } }

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return Config{
		maxAbsEdit:     20,
		maxRelEdit:     0.25,
		baseErrorFloor: 5,
		minConfidence:  0.70,
		minConfLength:  5,
		minAlphaRatio:  0.5,
		minLengthRatio: 0.25,
		normalizeNFKC:  true,
		ignoreCase:     true,
	}
}

// NewConfig applies opts on top of DefaultConfig.
func NewConfig(opts ...Option) Config {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// LookupFunc matches the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadConfig overlays environment values on the defaults. Unparsable values
// keep the default. A nil lookup reads the process environment.
func LoadConfig(lookup LookupFunc) Config {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	c := DefaultConfig()
	c.maxAbsEdit = envInt(lookup, EnvMaxAbsEdit, c.maxAbsEdit)
	c.maxRelEdit = envFloat(lookup, EnvMaxRelEdit, c.maxRelEdit)
	c.baseErrorFloor = envInt(lookup, EnvBaseErrorFloor, c.baseErrorFloor)
	c.minConfidence = envFloat(lookup, EnvMinConfidence, c.minConfidence)
	c.minConfLength = envInt(lookup, EnvMinConfLength, c.minConfLength)
	c.minAlphaRatio = envFloat(lookup, EnvMinAlphaRatio, c.minAlphaRatio)
	c.minLengthRatio = envFloat(lookup, EnvMinLengthRatio, c.minLengthRatio)
	c.normalizeNFKC = envBool(lookup, EnvNormalizeNFKC, c.normalizeNFKC)
	c.ignoreCase = envBool(lookup, EnvIgnoreCase, c.ignoreCase)
	return c
}

func (c Config) MaxAbsEdit() int         { return c.maxAbsEdit }
func (c Config) MaxRelEdit() float64     { return c.maxRelEdit }
func (c Config) BaseErrorFloor() int     { return c.baseErrorFloor }
func (c Config) MinConfidence() float64  { return c.minConfidence }
func (c Config) MinConfLength() int      { return c.minConfLength }
func (c Config) MinAlphaRatio() float64  { return c.minAlphaRatio }
func (c Config) MinLengthRatio() float64 { return c.minLengthRatio }
func (c Config) NormalizeNFKC() bool     { return c.normalizeNFKC }
func (c Config) IgnoreCase() bool        { return c.ignoreCase }

func (c Config) String() string {
	return fmt.Sprintf("maxAbsEdit=%d maxRelEdit=%g baseErrorFloor=%d minConfidence=%g minConfLength=%d minAlphaRatio=%g minLengthRatio=%g nfkc=%t ignoreCase=%t",
		c.maxAbsEdit, c.maxRelEdit, c.baseErrorFloor, c.minConfidence, c.minConfLength,
		c.minAlphaRatio, c.minLengthRatio, c.normalizeNFKC, c.ignoreCase)
}

// envInt accepts float text and truncates it ("7.9" is 7).
func envInt(lookup LookupFunc, key string, def int) int {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return int(f)
}

func envFloat(lookup LookupFunc, key string, def float64) float64 {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// envBool treats any set value outside 1/true/yes/on as false.
func envBool(lookup LookupFunc, key string, def bool) bool {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	return ParseBool(v)
}

// ParseBool reports whether v is one of 1, true, yes, on (case-insensitive).
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
