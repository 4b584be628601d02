package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-analyzer/algorithms/temporal"
	"github.com/RyanBlaney/sonido-analyzer/logging"
	"github.com/RyanBlaney/sonido-analyzer/transcode"
	"github.com/joho/godotenv"
)

// MaxKeyExcerpt is the longest leading excerpt used for key estimation
const MaxKeyExcerpt = 30 * time.Second

// AnalyzerConfig holds every tunable of the tempo and key analysis
type AnalyzerConfig struct {
	SampleRate int `json:"sample_rate"`
	HopSize    int `json:"hop_size"`

	// Onset envelope
	OnsetFFTSize int `json:"onset_fft_size"`
	MelBands     int `json:"mel_bands"`

	// Tempo
	TempogramWindow  int       `json:"tempogram_window"`
	TempoSeeds       []float64 `json:"tempo_seeds"`
	ClusterTolerance float64   `json:"cluster_tolerance"`
	MinTempo         float64   `json:"min_tempo"`
	MaxTempo         float64   `json:"max_tempo"`
	DefaultTempo     float64   `json:"default_tempo"`

	// Key
	KeyExcerpt      time.Duration `json:"key_excerpt"`
	ChromaFFTSize   int           `json:"chroma_fft_size"`
	TuningFrequency float64       `json:"tuning_frequency"`

	// Loading
	AllowedExtensions []string      `json:"allowed_extensions"`
	FFmpegPath        string        `json:"ffmpeg_path"`
	FFprobePath       string        `json:"ffprobe_path"`
	DecodeTimeout     time.Duration `json:"decode_timeout"`

	LogLevel string `json:"log_level"`
}

// DefaultAnalyzerConfig returns the standard analysis settings
func DefaultAnalyzerConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		SampleRate:        22050,
		HopSize:           512,
		OnsetFFTSize:      2048,
		MelBands:          128,
		TempogramWindow:   384,
		TempoSeeds:        []float64{60, 90, 120, 140, 180},
		ClusterTolerance:  3.0,
		MinTempo:          30,
		MaxTempo:          320,
		DefaultTempo:      120,
		KeyExcerpt:        MaxKeyExcerpt,
		ChromaFFTSize:     4096,
		TuningFrequency:   440.0,
		AllowedExtensions: []string{".mp3", ".wav", ".flac", ".ogg", ".m4a", ".aac", ".opus"},
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		DecodeTimeout:     5 * time.Minute,
		LogLevel:          "info",
	}
}

// Load reads the given .env files (missing files are skipped; with no
// arguments ./.env is tried) and applies SONIDO_* environment overrides on
// top of the defaults. Variables already set in the environment win over
// .env values.
func Load(envFiles ...string) (*AnalyzerConfig, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return nil, fmt.Errorf("loading %s: %w", file, err)
		}
	}

	cfg := DefaultAnalyzerConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SONIDO_* environment variables
func (c *AnalyzerConfig) ApplyEnv() error {
	if v, ok := lookup("SONIDO_SAMPLE_RATE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SONIDO_SAMPLE_RATE: %w", err)
		}
		c.SampleRate = n
	}

	if v, ok := lookup("SONIDO_HOP_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SONIDO_HOP_SIZE: %w", err)
		}
		c.HopSize = n
	}

	if v, ok := lookup("SONIDO_TEMPO_SEEDS"); ok {
		seeds, err := parseFloatList(v)
		if err != nil {
			return fmt.Errorf("SONIDO_TEMPO_SEEDS: %w", err)
		}
		c.TempoSeeds = seeds
	}

	if v, ok := lookup("SONIDO_KEY_EXCERPT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SONIDO_KEY_EXCERPT: %w", err)
		}
		c.KeyExcerpt = d
	}

	if v, ok := os.LookupEnv("SONIDO_ALLOWED_EXTENSIONS"); ok {
		c.AllowedExtensions = parseExtensions(v)
	}

	if v, ok := lookup("SONIDO_FFMPEG"); ok {
		c.FFmpegPath = v
	}

	if v, ok := lookup("SONIDO_FFPROBE"); ok {
		c.FFprobePath = v
	}

	if v, ok := lookup("SONIDO_DECODE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SONIDO_DECODE_TIMEOUT: %w", err)
		}
		c.DecodeTimeout = d
	}

	if v, ok := lookup("SONIDO_LOG_LEVEL"); ok {
		c.LogLevel = v
	}

	return nil
}

// lookup returns a trimmed, non-empty environment value
func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func parseFloatList(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// parseExtensions accepts "mp3,.WAV flac" style lists; an empty list
// disables the extension check
func parseExtensions(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})

	exts := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(f)
		if !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		exts = append(exts, f)
	}
	return exts
}

// Validate checks the configuration for values the analysis cannot run with
func (c *AnalyzerConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive: %d", c.SampleRate)
	}
	if c.HopSize <= 0 {
		return fmt.Errorf("hop size must be positive: %d", c.HopSize)
	}
	if c.OnsetFFTSize <= 0 || c.ChromaFFTSize <= 0 {
		return fmt.Errorf("fft sizes must be positive: onset %d, chroma %d", c.OnsetFFTSize, c.ChromaFFTSize)
	}
	if c.MelBands <= 0 {
		return fmt.Errorf("mel bands must be positive: %d", c.MelBands)
	}
	if c.TempogramWindow < 4 {
		return fmt.Errorf("tempogram window too short: %d", c.TempogramWindow)
	}
	if len(c.TempoSeeds) == 0 {
		return fmt.Errorf("at least one tempo seed is required")
	}
	for _, s := range c.TempoSeeds {
		if s <= 0 {
			return fmt.Errorf("tempo seeds must be positive: %v", s)
		}
	}
	if c.ClusterTolerance <= 0 {
		return fmt.Errorf("cluster tolerance must be positive: %v", c.ClusterTolerance)
	}
	if c.MinTempo <= 0 || c.MaxTempo <= c.MinTempo {
		return fmt.Errorf("invalid tempo range: %v-%v", c.MinTempo, c.MaxTempo)
	}
	if c.DefaultTempo <= 0 {
		return fmt.Errorf("default tempo must be positive: %v", c.DefaultTempo)
	}
	if c.KeyExcerpt <= 0 || c.KeyExcerpt > MaxKeyExcerpt {
		return fmt.Errorf("key excerpt must be in (0, %v]: %v", MaxKeyExcerpt, c.KeyExcerpt)
	}
	if c.TuningFrequency <= 0 {
		return fmt.Errorf("tuning frequency must be positive: %v", c.TuningFrequency)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// OnsetParams returns the onset envelope parameters
func (c *AnalyzerConfig) OnsetParams() temporal.OnsetStrengthParams {
	params := temporal.DefaultOnsetStrengthParams()
	params.FFTSize = c.OnsetFFTSize
	params.HopSize = c.HopSize
	params.MelBands = c.MelBands
	return params
}

// TempoParams returns the tempo estimation parameters
func (c *AnalyzerConfig) TempoParams() temporal.TempoParams {
	params := temporal.DefaultTempoParams()
	params.Seeds = append([]float64(nil), c.TempoSeeds...)
	params.MinBPM = c.MinTempo
	params.MaxBPM = c.MaxTempo
	params.ClusterTolerance = c.ClusterTolerance
	params.DefaultBPM = c.DefaultTempo
	params.WindowLength = c.TempogramWindow
	return params
}

// DecoderConfig returns a mono decoder configuration at the analysis rate
func (c *AnalyzerConfig) DecoderConfig() *transcode.DecoderConfig {
	dc := transcode.DefaultDecoderConfig()
	dc.TargetSampleRate = c.SampleRate
	dc.TargetChannels = 1
	dc.FFmpegPath = c.FFmpegPath
	dc.FFprobePath = c.FFprobePath
	dc.Timeout = c.DecodeTimeout
	return dc
}

// Level returns the parsed log level, defaulting to info
func (c *AnalyzerConfig) Level() logging.Level {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return logging.InfoLevel
	}
	return level
}
