package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RyanBlaney/sonido-analyzer/algorithms/chroma"
	"github.com/RyanBlaney/sonido-analyzer/algorithms/common"
	"github.com/RyanBlaney/sonido-analyzer/algorithms/temporal"
	"github.com/RyanBlaney/sonido-analyzer/algorithms/tonal"
	"github.com/RyanBlaney/sonido-analyzer/analyzer/config"
	"github.com/RyanBlaney/sonido-analyzer/logging"
	"github.com/google/uuid"
)

// silenceThreshold is the peak amplitude below which a decoded file is
// reported as silent (about -96 dBFS)
const silenceThreshold = 1.0 / 65536

// Analyzer estimates the tempo and key of audio files.
//
// Every call builds its own DSP state, so one Analyzer may serve concurrent
// callers as long as its Decoder does.
type Analyzer struct {
	cfg     *config.AnalyzerConfig
	decoder Decoder
	logger  logging.Logger
}

// New creates an analyzer. A nil cfg uses the defaults and a nil logger uses
// the global logger.
func New(cfg *config.AnalyzerConfig, decoder Decoder, logger logging.Logger) *Analyzer {
	if cfg == nil {
		cfg = config.DefaultAnalyzerConfig()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Analyzer{
		cfg:     cfg,
		decoder: decoder,
		logger:  logger,
	}
}

// Analyze returns the tempo and key of the file at path. It never panics on
// bad input; failures are reported in the result.
func (a *Analyzer) Analyze(ctx context.Context, path string) AnalysisResult {
	return a.AnalyzeDetailed(ctx, path).Result
}

// AnalyzeDetailed is Analyze plus candidate lists and stage timings
func (a *Analyzer) AnalyzeDetailed(ctx context.Context, path string) Report {
	report := a.newReport(path)
	logger := a.logger.WithFields(logging.Fields{
		"component":  "audio_analyzer",
		"request_id": report.RequestID,
		"path":       path,
	})
	defer func() { logger.Debug("Stage timings", logging.Fields(timingFields(report.Timings))) }()

	logger.Debug("Starting analysis")
	start := time.Now()

	if err := a.cfg.Validate(); err != nil {
		report.Result = failure(stageError(ErrLoad, fmt.Errorf("invalid configuration: %w", err)))
		logger.Error(err, "Analysis configuration rejected")
		return *report
	}
	if a.decoder == nil {
		report.Result = failure(stageError(ErrLoad, errors.New("no decoder configured")))
		logger.Error(nil, "Analyzer has no decoder")
		return *report
	}

	if err := a.checkFile(path); err != nil {
		report.Result = failure(stageError(ErrLoad, err))
		logger.Error(err, "Input file rejected")
		return *report
	}

	full, err := timed(report, "load", func() (Signal, error) {
		return a.load(ctx, path, 0)
	})
	if err != nil {
		report.Result = failure(stageError(ErrLoad, err))
		logger.Error(err, "Failed to load audio")
		return *report
	}
	report.Duration = full.Duration().Seconds()
	report.SampleRate = full.SampleRate

	logger.Debug("Audio loaded", logging.Fields{
		"samples":     len(full.Samples),
		"duration":    report.Duration,
		"sample_rate": full.SampleRate,
	})
	if common.IsSilent(full.Samples, silenceThreshold) {
		logger.Warn("Decoded audio is silent, tempo will fall back to the default")
	}

	tempo := a.tempoStage(report, full)
	full = Signal{}
	if !tempo.OK() {
		report.Result = failure(tempo.Err)
		logger.Error(tempo.Err, "Tempo stage failed")
		return *report
	}

	key := a.loadAndEstimateKey(ctx, report, path)

	a.finish(report, tempo, key, logger)
	logger.Info("Analysis complete", logging.Fields{
		"tempo":   report.Result.Tempo,
		"key":     report.Result.Key,
		"elapsed": time.Since(start).Seconds(),
	})
	return *report
}

// AnalyzeSignal runs the tempo stage on full and the key stage on excerpt,
// skipping all file handling. The excerpt is truncated to the configured key
// excerpt length.
func (a *Analyzer) AnalyzeSignal(full, excerpt Signal) Report {
	report := a.newReport("")
	logger := a.logger.WithFields(logging.Fields{
		"component":  "audio_analyzer",
		"request_id": report.RequestID,
	})

	if err := a.cfg.Validate(); err != nil {
		report.Result = failure(stageError(ErrLoad, fmt.Errorf("invalid configuration: %w", err)))
		return *report
	}
	if len(full.Samples) == 0 || full.SampleRate != a.cfg.SampleRate {
		report.Result = failure(stageError(ErrLoad,
			fmt.Errorf("signal must be non-empty at %d Hz (got %d samples at %d Hz)", a.cfg.SampleRate, len(full.Samples), full.SampleRate)))
		return *report
	}
	report.Duration = full.Duration().Seconds()
	report.SampleRate = full.SampleRate

	tempo := a.tempoStage(report, full)
	if !tempo.OK() {
		report.Result = failure(tempo.Err)
		logger.Error(tempo.Err, "Tempo stage failed")
		return *report
	}

	var key Outcome[*tonal.KeyEstimationResult]
	if excerpt.SampleRate != a.cfg.SampleRate {
		key = Failed[*tonal.KeyEstimationResult](stageError(ErrKey,
			fmt.Errorf("excerpt sample rate %d does not match %d", excerpt.SampleRate, a.cfg.SampleRate)))
	} else {
		if limit := int(a.cfg.KeyExcerpt.Seconds() * float64(a.cfg.SampleRate)); len(excerpt.Samples) > limit {
			excerpt.Samples = excerpt.Samples[:limit]
		}
		key = a.keyStage(report, excerpt)
	}

	a.finish(report, tempo, key, logger)
	return *report
}

func (a *Analyzer) newReport(path string) *Report {
	return &Report{
		RequestID: uuid.New().String(),
		Path:      path,
		Timings:   make(map[string]float64),
	}
}

// tempoStage computes the onset envelope of the full signal, then the tempo
func (a *Analyzer) tempoStage(report *Report, full Signal) Outcome[*temporal.TempoResult] {
	onset := temporal.NewOnsetStrength(a.cfg.OnsetParams())

	envelope, err := timed(report, "onset", func() ([]float64, error) {
		return onset.Compute(full.Samples, full.SampleRate)
	})
	if err != nil {
		return Failed[*temporal.TempoResult](stageError(ErrEnvelope, err))
	}

	result, err := timed(report, "tempo", func() (*temporal.TempoResult, error) {
		return temporal.NewTempoEstimation(a.cfg.TempoParams()).EstimateFromEnvelope(envelope, onset.FrameRate(full.SampleRate))
	})
	if err != nil {
		return Failed[*temporal.TempoResult](stageError(ErrTempo, err))
	}
	return Succeeded(result)
}

// loadAndEstimateKey re-decodes the leading excerpt and estimates its key.
// Any failure here is a key failure, never an analysis failure.
func (a *Analyzer) loadAndEstimateKey(ctx context.Context, report *Report, path string) Outcome[*tonal.KeyEstimationResult] {
	excerpt, err := timed(report, "excerpt_load", func() (Signal, error) {
		return a.load(ctx, path, a.cfg.KeyExcerpt)
	})
	if err != nil {
		return Failed[*tonal.KeyEstimationResult](stageError(ErrKey, fmt.Errorf("loading excerpt: %w", err)))
	}
	return a.keyStage(report, excerpt)
}

// keyStage folds the excerpt into a mean chroma profile and correlates it
// with the key templates
func (a *Analyzer) keyStage(report *Report, excerpt Signal) Outcome[*tonal.KeyEstimationResult] {
	result, err := timed(report, "key", func() (*tonal.KeyEstimationResult, error) {
		cs := chroma.NewChromaSTFT(excerpt.SampleRate, a.cfg.TuningFrequency)
		chromagram, err := cs.ComputeChroma(excerpt.Samples, a.cfg.ChromaFFTSize, a.cfg.HopSize)
		if err != nil {
			return nil, err
		}

		profile, err := chroma.MeanProfile(chromagram)
		if err != nil {
			return nil, err
		}

		return tonal.NewKeyEstimator().EstimateKey(profile)
	})
	if err != nil {
		return Failed[*tonal.KeyEstimationResult](stageError(ErrKey, err))
	}
	return Succeeded(result)
}

// finish assembles the result from a successful tempo stage and any key outcome
func (a *Analyzer) finish(report *Report, tempo Outcome[*temporal.TempoResult], key Outcome[*tonal.KeyEstimationResult], logger logging.Logger) {
	report.Tempo = newTempoDetail(tempo.Value)
	if tempo.Value.Defaulted {
		logger.Warn("No tempo candidates found, using default", logging.Fields{
			"default_tempo": tempo.Value.BPM,
		})
	}

	keyLabel := tonal.UnknownKey
	if key.OK() {
		keyLabel = key.Value.Key
		report.Key = newKeyDetail(key.Value)
	} else {
		report.KeyError = key.Err.Error()
		logger.Warn("Key estimation failed, reporting unknown key", logging.Fields{
			"error": key.Err.Error(),
		})
	}

	report.Result = AnalysisResult{
		Success: true,
		Tempo:   tempo.Value.Rounded(),
		Key:     keyLabel,
	}
}

func timingFields(timings map[string]float64) map[string]any {
	fields := make(map[string]any, len(timings))
	for name, ms := range timings {
		fields[name+"_ms"] = ms
	}
	return fields
}

// timed runs fn and records its wall time in milliseconds under name
func timed[T any](report *Report, name string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	report.Timings[name] = float64(time.Since(start).Microseconds()) / 1000
	return v, err
}
