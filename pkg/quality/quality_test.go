package quality

import (
	"testing"
)

func TestJudgeQuality(t *testing.T) {
	tests := []struct {
		name       string
		expected   string
		actual     string
		confidence float64
		cfg        Config
		accept     bool
		reason     string
	}{
		{
			name:       "exact match",
			expected:   "hello",
			actual:     "hello",
			confidence: 1.0,
			cfg:        DefaultConfig(),
			accept:     true,
		},
		{
			name:       "one typo above confidence threshold",
			expected:   "hello world",
			actual:     "helo world",
			confidence: 0.72,
			cfg:        DefaultConfig(),
			accept:     true,
		},
		{
			name:       "exact text but low confidence",
			expected:   "hello world",
			actual:     "hello world",
			confidence: 0.65,
			cfg:        DefaultConfig(),
			reason:     ReasonLowConfidence,
		},
		{
			name:       "unrelated short reading",
			expected:   "long expected text",
			actual:     "tiny",
			confidence: 0.95,
			cfg:        DefaultConfig(),
			reason:     ReasonTooManyEdits,
		},
		{
			name:       "symbol noise",
			expected:   "signal text",
			actual:     "@@@@####$$$$",
			confidence: 0.95,
			cfg:        DefaultConfig(),
			reason:     ReasonLowAlpha,
		},
		{
			name:       "empty actual",
			expected:   "hello",
			actual:     "   ",
			confidence: 1.0,
			cfg:        DefaultConfig(),
			reason:     ReasonTooShort,
		},
		{
			name:       "below minimum length ratio",
			expected:   "abcdefghijklmnopqrst",
			actual:     "abc",
			confidence: 1.0,
			cfg:        DefaultConfig(),
			reason:     ReasonTooShort,
		},
		{
			name:       "short text skips confidence check",
			expected:   "abc",
			actual:     "abc",
			confidence: 0.1,
			cfg:        DefaultConfig(),
			accept:     true,
		},
		{
			name:       "fullwidth and case differences are folded",
			expected:   "ABC DEF",
			actual:     "ａｂｃ  ｄｅｆ",
			confidence: 0.9,
			cfg:        DefaultConfig(),
			accept:     true,
		},
		{
			name:       "relaxed thresholds accept partial read",
			expected:   "hello",
			actual:     "he",
			confidence: 0.25,
			cfg:        NewConfig(WithMinConfidence(0.2), WithMaxAbsEdit(50), WithMaxRelEdit(1.0)),
			accept:     true,
		},
		{
			name:       "zero floor rejects two edits on short text",
			expected:   "hello",
			actual:     "hxxlo",
			confidence: 1.0,
			cfg:        NewConfig(WithBaseErrorFloor(0)),
			reason:     ReasonTooManyEdits,
		},
		{
			name:       "case sensitive comparison counts edits",
			expected:   "ABCDEFGHIJ",
			actual:     "abcdefghij",
			confidence: 1.0,
			cfg:        NewConfig(WithIgnoreCase(false), WithBaseErrorFloor(0), WithMaxRelEdit(0.1)),
			reason:     ReasonTooManyEdits,
		},
		{
			name:       "fullwidth is not folded without NFKC",
			expected:   "ABC",
			actual:     "ＡＢＣ",
			confidence: 1.0,
			cfg:        NewConfig(WithNormalizeNFKC(false), WithBaseErrorFloor(0)),
			reason:     ReasonTooManyEdits,
		},
		{
			name:       "symbols pass with alpha check disabled",
			expected:   "----",
			actual:     "----",
			confidence: 1.0,
			cfg:        NewConfig(WithMinAlphaRatio(0)),
			accept:     true,
		},
		{
			name:       "lower confidence length threshold",
			expected:   "abc",
			actual:     "abc",
			confidence: 0.1,
			cfg:        NewConfig(WithMinConfLength(3)),
			reason:     ReasonLowConfidence,
		},
		{
			name:       "length ratio disabled",
			expected:   "abcdefghijklmnopqrst",
			actual:     "abc",
			confidence: 1.0,
			cfg:        NewConfig(WithMinLengthRatio(0), WithMaxRelEdit(1.0)),
			accept:     true,
		},
		{
			name:       "japanese text counts as letters",
			expected:   "日本語のテキスト",
			actual:     "日本語のテキスト",
			confidence: 0.9,
			cfg:        DefaultConfig(),
			accept:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Judge(tt.expected, tt.actual, tt.confidence, tt.cfg)
			if v.Accepted != tt.accept {
				t.Errorf("Judge() accepted = %v, want %v (verdict %+v)", v.Accepted, tt.accept, v)
			}
			if v.Reason != tt.reason {
				t.Errorf("Judge() reason = %q, want %q", v.Reason, tt.reason)
			}
			if got := JudgeQuality(tt.expected, tt.actual, tt.confidence, tt.cfg); got != tt.accept {
				t.Errorf("JudgeQuality() = %v, want %v", got, tt.accept)
			}
		})
	}
}

func TestJudgeReportsDistance(t *testing.T) {
	v := Judge("hello world", "helo world", 0.9, DefaultConfig())
	if v.EditDistance != 1 {
		t.Errorf("EditDistance = %d, want 1", v.EditDistance)
	}
	if v.AllowedEdits != 5 {
		t.Errorf("AllowedEdits = %d, want 5", v.AllowedEdits)
	}
	if v.NormalizedActual != "helo world" {
		t.Errorf("NormalizedActual = %q", v.NormalizedActual)
	}

	rejected := Judge("hello", "", 1.0, DefaultConfig())
	if rejected.EditDistance != -1 {
		t.Errorf("EditDistance on early rejection = %d, want -1", rejected.EditDistance)
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, c Config)
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			check: func(t *testing.T, c Config) {
				if c != DefaultConfig() {
					t.Errorf("LoadConfig() = %v, want defaults %v", c, DefaultConfig())
				}
			},
		},
		{
			name: "numeric overrides",
			env: map[string]string{
				EnvMaxAbsEdit:     "7.9",
				EnvMaxRelEdit:     "0.5",
				EnvBaseErrorFloor: "2",
				EnvMinConfidence:  "0.2",
				EnvMinConfLength:  "10",
				EnvMinAlphaRatio:  "0.1",
				EnvMinLengthRatio: "0.75",
			},
			check: func(t *testing.T, c Config) {
				if c.MaxAbsEdit() != 7 {
					t.Errorf("MaxAbsEdit = %d, want 7", c.MaxAbsEdit())
				}
				if c.MaxRelEdit() != 0.5 {
					t.Errorf("MaxRelEdit = %v, want 0.5", c.MaxRelEdit())
				}
				if c.BaseErrorFloor() != 2 {
					t.Errorf("BaseErrorFloor = %d, want 2", c.BaseErrorFloor())
				}
				if c.MinConfidence() != 0.2 {
					t.Errorf("MinConfidence = %v, want 0.2", c.MinConfidence())
				}
				if c.MinConfLength() != 10 {
					t.Errorf("MinConfLength = %d, want 10", c.MinConfLength())
				}
				if c.MinAlphaRatio() != 0.1 {
					t.Errorf("MinAlphaRatio = %v, want 0.1", c.MinAlphaRatio())
				}
				if c.MinLengthRatio() != 0.75 {
					t.Errorf("MinLengthRatio = %v, want 0.75", c.MinLengthRatio())
				}
			},
		},
		{
			name: "unparsable values keep defaults",
			env: map[string]string{
				EnvMaxAbsEdit:    "lots",
				EnvMinConfidence: "",
			},
			check: func(t *testing.T, c Config) {
				if c.MaxAbsEdit() != 20 {
					t.Errorf("MaxAbsEdit = %d, want 20", c.MaxAbsEdit())
				}
				if c.MinConfidence() != 0.70 {
					t.Errorf("MinConfidence = %v, want 0.70", c.MinConfidence())
				}
			},
		},
		{
			name: "boolean spellings",
			env: map[string]string{
				EnvNormalizeNFKC: "off",
				EnvIgnoreCase:    " YES ",
			},
			check: func(t *testing.T, c Config) {
				if c.NormalizeNFKC() {
					t.Error("NormalizeNFKC should be false for 'off'")
				}
				if !c.IgnoreCase() {
					t.Error("IgnoreCase should be true for 'YES'")
				}
			},
		},
		{
			name: "unknown boolean is false",
			env: map[string]string{
				EnvIgnoreCase: "maybe",
			},
			check: func(t *testing.T, c Config) {
				if c.IgnoreCase() {
					t.Error("IgnoreCase should be false for 'maybe'")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := func(key string) (string, bool) {
				v, ok := tt.env[key]
				return v, ok
			}
			tt.check(t, LoadConfig(lookup))
		})
	}
}

func TestLoadConfigFromProcessEnv(t *testing.T) {
	t.Setenv(EnvMinConfidence, "0.2")
	t.Setenv(EnvMaxAbsEdit, "50")
	t.Setenv(EnvMaxRelEdit, "1.0")

	cfg := LoadConfig(nil)
	if !JudgeQuality("hello", "he", 0.25, cfg) {
		t.Errorf("expected acceptance with relaxed env config %v", cfg)
	}
	if cfg.MaxAbsEdit() != 50 || cfg.MaxRelEdit() != 1.0 {
		t.Errorf("LoadConfig(nil) ignored the process environment: %v", cfg)
	}
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "On", " on "} {
		if !ParseBool(v) {
			t.Errorf("ParseBool(%q) = false, want true", v)
		}
	}
	for _, v := range []string{"", "0", "false", "no", "off", "y", "2"} {
		if ParseBool(v) {
			t.Errorf("ParseBool(%q) = true, want false", v)
		}
	}
}
