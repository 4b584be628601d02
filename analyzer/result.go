package analyzer

import (
	"encoding/json"
	"fmt"

	"github.com/RyanBlaney/sonido-analyzer/algorithms/temporal"
	"github.com/RyanBlaney/sonido-analyzer/algorithms/tonal"
)

// AnalysisResult is the outcome of one analysis. On success Tempo and Key are
// set; on failure only Error is.
type AnalysisResult struct {
	Success bool
	Tempo   int
	Key     string
	Error   string
}

// MarshalJSON renders {"success":true,"tempo":...,"key":...} or
// {"success":false,"error":...}
func (r AnalysisResult) MarshalJSON() ([]byte, error) {
	if r.Success {
		return json.Marshal(struct {
			Success bool   `json:"success"`
			Tempo   int    `json:"tempo"`
			Key     string `json:"key"`
		}{true, r.Tempo, r.Key})
	}
	return json.Marshal(struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}{false, r.Error})
}

func failure(err error) AnalysisResult {
	return AnalysisResult{Success: false, Error: err.Error()}
}

// Outcome is the explicit result of one analysis stage
type Outcome[T any] struct {
	Value T
	Err   error
}

// Succeeded wraps a stage value
func Succeeded[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

// Failed wraps a stage error
func Failed[T any](err error) Outcome[T] {
	return Outcome[T]{Err: err}
}

// OK reports whether the stage succeeded
func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

// maxReportedCandidates caps candidate lists in reports
const maxReportedCandidates = 5

// TempoDetail describes how the tempo was chosen
type TempoDetail struct {
	BPM        float64                   `json:"bpm"`
	Defaulted  bool                      `json:"defaulted"`
	Estimates  int                       `json:"estimates"`
	Candidates []temporal.TempoCandidate `json:"candidates"`
}

// KeyDetail describes how the key was chosen
type KeyDetail struct {
	Key         string               `json:"key"`
	Correlation float64              `json:"correlation"`
	Clarity     float64              `json:"clarity"`
	RelativeKey string               `json:"relative_key"`
	Candidates  []tonal.KeyCandidate `json:"candidates"`
}

// Report is an AnalysisResult with diagnostics for one analysis
type Report struct {
	RequestID  string             `json:"request_id"`
	Path       string             `json:"path,omitempty"`
	Result     AnalysisResult     `json:"result"`
	Duration   float64            `json:"duration_seconds,omitempty"`
	SampleRate int                `json:"sample_rate,omitempty"`
	Tempo      *TempoDetail       `json:"tempo,omitempty"`
	Key        *KeyDetail         `json:"key,omitempty"`
	KeyError   string             `json:"key_error,omitempty"`
	Timings    map[string]float64 `json:"timings_ms"`
}

func newTempoDetail(r *temporal.TempoResult) *TempoDetail {
	return &TempoDetail{
		BPM:        r.BPM,
		Defaulted:  r.Defaulted,
		Estimates:  r.Estimates,
		Candidates: r.Candidates[:min(maxReportedCandidates, len(r.Candidates))],
	}
}

func newKeyDetail(r *tonal.KeyEstimationResult) *KeyDetail {
	relTonic, relMode := tonal.GetRelativeKey(r.Tonic, r.Mode)
	return &KeyDetail{
		Key:         r.Key,
		Correlation: r.Correlation,
		Clarity:     r.Clarity,
		RelativeKey: tonal.GetKeyName(relTonic, relMode),
		Candidates:  r.Candidates[:min(maxReportedCandidates, len(r.Candidates))],
	}
}

// String renders a one-line summary
func (r AnalysisResult) String() string {
	if !r.Success {
		return "failed: " + r.Error
	}
	return fmt.Sprintf("%d BPM, %s", r.Tempo, r.Key)
}
