package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RyanBlaney/sonido-analyzer/algorithms/tonal"
	"github.com/RyanBlaney/sonido-analyzer/analyzer/config"
	"github.com/RyanBlaney/sonido-analyzer/logging"
	"github.com/RyanBlaney/sonido-analyzer/transcode"
)

const testRate = 22050

// fakeDecoder serves fixed PCM and records the requested durations
type fakeDecoder struct {
	data       *transcode.AudioData
	err        error
	excerptErr error

	mu        sync.Mutex
	durations []time.Duration
}

func (f *fakeDecoder) DecodeFile(_ context.Context, _ string, maxDuration time.Duration) (*transcode.AudioData, error) {
	f.mu.Lock()
	f.durations = append(f.durations, maxDuration)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if maxDuration > 0 && f.excerptErr != nil {
		return nil, f.excerptErr
	}
	return f.data, nil
}

func clickTrain(bpm, seconds float64, sampleRate int) []float64 {
	n := int(seconds * float64(sampleRate))
	signal := make([]float64, n)
	sr := float64(sampleRate)
	burst := int(0.02 * sr)

	for beat := 0.0; beat < seconds; beat += 60 / bpm {
		start := int(math.Round(beat * sr))
		for i := 0; i < burst && start+i < n; i++ {
			decay := math.Exp(-float64(i) / (0.005 * sr))
			signal[start+i] += 0.8 * math.Sin(2*math.Pi*1000*float64(i)/sr) * decay
		}
	}
	return signal
}

func chord(seconds float64, sampleRate int, freqs ...float64) []float64 {
	signal := make([]float64, int(seconds*float64(sampleRate)))
	for i := range signal {
		for _, f := range freqs {
			signal[i] += 0.25 * math.Sin(2*math.Pi*f*float64(i)/float64(sampleRate))
		}
	}
	return signal
}

// touch creates an empty file that passes the readability checks
func touch(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestAnalyzer(decoder Decoder) *Analyzer {
	return New(config.DefaultAnalyzerConfig(), decoder, &logging.NoOpLogger{})
}

func TestAnalyzeWAVClickTrain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clicks.wav")
	if err := transcode.WriteWAV(path, clickTrain(120, 20, testRate), testRate); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}

	cfg := config.DefaultAnalyzerConfig()
	dc := cfg.DecoderConfig()
	dc.FFmpegPath = "/nonexistent/ffmpeg"
	dc.FFprobePath = "/nonexistent/ffprobe"
	decoder, err := transcode.NewAutoDecoder(dc)
	if err != nil {
		t.Fatalf("NewAutoDecoder: %v", err)
	}

	report := New(cfg, decoder, &logging.NoOpLogger{}).AnalyzeDetailed(context.Background(), path)

	if !report.Result.Success {
		t.Fatalf("analysis failed: %s", report.Result.Error)
	}
	if report.Result.Tempo != 120 {
		t.Errorf("tempo = %d, want 120 (candidates %+v)", report.Result.Tempo, report.Tempo.Candidates)
	}
	if report.Result.Key == "" || report.Result.Key == tonal.UnknownKey {
		t.Errorf("key = %q, want a concrete key (key error %q)", report.Result.Key, report.KeyError)
	}
	if math.Abs(report.Duration-20) > 0.01 {
		t.Errorf("duration = %v, want 20s", report.Duration)
	}
	for _, stage := range []string{"load", "onset", "tempo", "excerpt_load", "key"} {
		if _, ok := report.Timings[stage]; !ok {
			t.Errorf("missing timing for %s", stage)
		}
	}
}

func TestAnalyzeRequestsFullThenExcerpt(t *testing.T) {
	decoder := &fakeDecoder{data: &transcode.AudioData{
		PCM:        clickTrain(100, 8, testRate),
		SampleRate: testRate,
		Channels:   1,
	}}

	result := newTestAnalyzer(decoder).Analyze(context.Background(), touch(t, "song.mp3"))
	if !result.Success {
		t.Fatalf("analysis failed: %s", result.Error)
	}

	if len(decoder.durations) != 2 || decoder.durations[0] != 0 || decoder.durations[1] != config.MaxKeyExcerpt {
		t.Errorf("decode durations = %v, want [0 %v]", decoder.durations, config.MaxKeyExcerpt)
	}
}

func TestAnalyzeFailures(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		decoder Decoder
		want    string
	}{
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.mp3") },
			decoder: &fakeDecoder{},
			want:    "file not found",
		},
		{
			name:    "directory",
			path:    func(t *testing.T) string { return t.TempDir() },
			decoder: &fakeDecoder{},
			want:    "file is not readable",
		},
		{
			name:    "unsupported extension",
			path:    func(t *testing.T) string { return touch(t, "notes.txt") },
			decoder: &fakeDecoder{},
			want:    "unsupported file type",
		},
		{
			name:    "decoder error",
			path:    func(t *testing.T) string { return touch(t, "broken.flac") },
			decoder: &fakeDecoder{err: errors.New("moov atom not found")},
			want:    "moov atom not found",
		},
		{
			name:    "empty audio",
			path:    func(t *testing.T) string { return touch(t, "empty.wav") },
			decoder: &fakeDecoder{data: &transcode.AudioData{SampleRate: testRate, Channels: 1}},
			want:    "decoded audio is empty",
		},
		{
			name:    "no decoder",
			path:    func(t *testing.T) string { return touch(t, "song.wav") },
			decoder: nil,
			want:    "no decoder configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := newTestAnalyzer(tt.decoder).Analyze(context.Background(), tt.path(t))

			if result.Success {
				t.Fatal("expected failure")
			}
			if !strings.Contains(result.Error, tt.want) {
				t.Errorf("error = %q, want it to mention %q", result.Error, tt.want)
			}
			if !strings.HasPrefix(result.Error, "load audio: ") {
				t.Errorf("error = %q, want load stage prefix", result.Error)
			}
			if result.Tempo != 0 || result.Key != "" {
				t.Errorf("failed result carries tempo/key: %+v", result)
			}
		})
	}
}

func TestAnalyzeInvalidConfig(t *testing.T) {
	cfg := config.DefaultAnalyzerConfig()
	cfg.HopSize = 0

	result := New(cfg, &fakeDecoder{}, &logging.NoOpLogger{}).Analyze(context.Background(), touch(t, "a.wav"))
	if result.Success || !strings.Contains(result.Error, "invalid configuration") {
		t.Errorf("result = %+v, want configuration failure", result)
	}
}

func TestEmptyExtensionListAcceptsAnything(t *testing.T) {
	cfg := config.DefaultAnalyzerConfig()
	cfg.AllowedExtensions = nil
	decoder := &fakeDecoder{data: &transcode.AudioData{
		PCM:        clickTrain(120, 5, testRate),
		SampleRate: testRate,
		Channels:   1,
	}}

	result := New(cfg, decoder, &logging.NoOpLogger{}).Analyze(context.Background(), touch(t, "take1.raw"))
	if !result.Success {
		t.Fatalf("analysis failed: %s", result.Error)
	}
}

func TestExcerptFailureOnlyLosesKey(t *testing.T) {
	decoder := &fakeDecoder{
		data: &transcode.AudioData{
			PCM:        clickTrain(120, 10, testRate),
			SampleRate: testRate,
			Channels:   1,
		},
		excerptErr: errors.New("decoder crashed"),
	}

	report := newTestAnalyzer(decoder).AnalyzeDetailed(context.Background(), touch(t, "song.ogg"))

	if !report.Result.Success {
		t.Fatalf("analysis failed: %s", report.Result.Error)
	}
	if report.Result.Key != tonal.UnknownKey {
		t.Errorf("key = %q, want %q", report.Result.Key, tonal.UnknownKey)
	}
	if !strings.Contains(report.KeyError, "decoder crashed") {
		t.Errorf("key error = %q", report.KeyError)
	}
	if report.Result.Tempo <= 0 {
		t.Errorf("tempo = %d, want positive", report.Result.Tempo)
	}
}

func TestLoadDownmixesAndResamples(t *testing.T) {
	mono := clickTrain(120, 4, 44100)
	stereo := make([]float64, 0, 2*len(mono))
	for _, v := range mono {
		stereo = append(stereo, v, v)
	}
	decoder := &fakeDecoder{data: &transcode.AudioData{PCM: stereo, SampleRate: 44100, Channels: 2}}

	report := newTestAnalyzer(decoder).AnalyzeDetailed(context.Background(), touch(t, "stereo.wav"))

	if !report.Result.Success {
		t.Fatalf("analysis failed: %s", report.Result.Error)
	}
	if report.SampleRate != testRate {
		t.Errorf("sample rate = %d, want %d", report.SampleRate, testRate)
	}
	if math.Abs(report.Duration-4) > 0.01 {
		t.Errorf("duration = %v, want 4s", report.Duration)
	}
}

func TestAnalyzeSignalShortExcerpt(t *testing.T) {
	full := Signal{Samples: clickTrain(120, 10, testRate), SampleRate: testRate}
	excerpt := Signal{Samples: full.Samples[:1000], SampleRate: testRate}

	report := newTestAnalyzer(nil).AnalyzeSignal(full, excerpt)

	if !report.Result.Success {
		t.Fatalf("analysis failed: %s", report.Result.Error)
	}
	if report.Result.Key != tonal.UnknownKey || report.Key != nil {
		t.Errorf("key = %q detail %+v, want unknown", report.Result.Key, report.Key)
	}
	if !strings.HasPrefix(report.KeyError, "key estimation: ") {
		t.Errorf("key error = %q", report.KeyError)
	}
}

func TestAnalyzeSignalSilence(t *testing.T) {
	silence := Signal{Samples: make([]float64, 5*testRate), SampleRate: testRate}

	report := newTestAnalyzer(nil).AnalyzeSignal(silence, silence)

	if !report.Result.Success {
		t.Fatalf("analysis failed: %s", report.Result.Error)
	}
	if report.Result.Tempo != 120 || !report.Tempo.Defaulted {
		t.Errorf("tempo = %d defaulted=%v, want default 120", report.Result.Tempo, report.Tempo.Defaulted)
	}
	if report.Result.Key != tonal.UnknownKey {
		t.Errorf("key = %q, want unknown for silence", report.Result.Key)
	}
}

func TestAnalyzeSignalKey(t *testing.T) {
	full := Signal{Samples: clickTrain(120, 6, testRate), SampleRate: testRate}
	// A minor triad: A4, C5, E5
	excerpt := Signal{Samples: chord(8, testRate, 440, 523.25, 659.26), SampleRate: testRate}

	report := newTestAnalyzer(nil).AnalyzeSignal(full, excerpt)

	if !report.Result.Success {
		t.Fatalf("analysis failed: %s", report.Result.Error)
	}
	if report.Key == nil {
		t.Fatalf("no key detail (key error %q)", report.KeyError)
	}
	if report.Result.Key != report.Key.Key {
		t.Errorf("result key %q differs from detail %q", report.Result.Key, report.Key.Key)
	}
	if len(report.Key.Candidates) != maxReportedCandidates {
		t.Errorf("got %d key candidates, want %d", len(report.Key.Candidates), maxReportedCandidates)
	}
	if report.Key.RelativeKey == "" {
		t.Error("missing relative key")
	}
}

func TestAnalyzeSignalRejectsWrongRate(t *testing.T) {
	sig := Signal{Samples: make([]float64, 1000), SampleRate: 44100}

	result := newTestAnalyzer(nil).AnalyzeSignal(sig, sig).Result
	if result.Success {
		t.Fatal("expected failure for mismatched sample rate")
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	full := Signal{Samples: clickTrain(97, 12, testRate), SampleRate: testRate}
	a := newTestAnalyzer(nil)

	first := a.AnalyzeSignal(full, full)
	second := a.AnalyzeSignal(full, full)

	if first.Result != second.Result {
		t.Errorf("results differ: %+v vs %+v", first.Result, second.Result)
	}
	if first.RequestID == second.RequestID {
		t.Error("request IDs should be unique per analysis")
	}
}

func TestResultJSON(t *testing.T) {
	tests := []struct {
		name   string
		result AnalysisResult
		want   string
	}{
		{
			name:   "success",
			result: AnalysisResult{Success: true, Tempo: 128, Key: "F#m"},
			want:   `{"success":true,"tempo":128,"key":"F#m"}`,
		},
		{
			name:   "failure",
			result: AnalysisResult{Success: false, Error: "load audio: file not found: x.mp3", Tempo: 5},
			want:   `{"success":false,"error":"load audio: file not found: x.mp3"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.result)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResultString(t *testing.T) {
	if got := (AnalysisResult{Success: true, Tempo: 90, Key: "D"}).String(); got != "90 BPM, D" {
		t.Errorf("String() = %q", got)
	}
	if got := (AnalysisResult{Error: "boom"}).String(); got != "failed: boom" {
		t.Errorf("String() = %q", got)
	}
}

func TestStageErrorMatching(t *testing.T) {
	err := error(stageError(ErrLoad, io.ErrUnexpectedEOF))

	if !errors.Is(err, ErrLoad) {
		t.Error("stage error should match its kind")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("stage error should match its cause")
	}
	if errors.Is(err, ErrKey) {
		t.Error("stage error should not match other kinds")
	}
	if got := err.Error(); got != "load audio: unexpected EOF" {
		t.Errorf("Error() = %q", got)
	}

	var se *StageError
	if !errors.As(err, &se) || se.Kind != ErrLoad {
		t.Errorf("errors.As failed: %v", se)
	}
}

func TestSignalDuration(t *testing.T) {
	if d := (Signal{Samples: make([]float64, 11025), SampleRate: testRate}).Duration(); d != 500*time.Millisecond {
		t.Errorf("Duration = %v", d)
	}
	if d := (Signal{Samples: make([]float64, 10)}).Duration(); d != 0 {
		t.Errorf("Duration with no rate = %v", d)
	}
}
