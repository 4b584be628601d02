package tonal

import (
	"math"
	"testing"

	"github.com/RyanBlaney/sonido-analyzer/algorithms/chroma"
)

func TestTemplates(t *testing.T) {
	templates := Templates()

	for i, tmpl := range templates {
		sum := 0.0
		for _, w := range tmpl.Weights {
			sum += w
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("%s sums to %v", tmpl.Label, sum)
		}

		// tonic carries the largest weight in both profiles
		for pc, w := range tmpl.Weights {
			if pc != tmpl.Tonic && w >= tmpl.Weights[tmpl.Tonic] {
				t.Errorf("%s: pitch class %d outweighs the tonic", tmpl.Label, pc)
			}
		}

		if i < 12 && tmpl.Mode != KeyModeMajor || i >= 12 && tmpl.Mode != KeyModeMinor {
			t.Errorf("template %d (%s) has mode %v", i, tmpl.Label, tmpl.Mode)
		}
	}

	if templates[1].Label != "C#" || templates[12].Label != "Cm" || templates[23].Label != "Bm" {
		t.Errorf("unexpected labels: %s %s %s", templates[1].Label, templates[12].Label, templates[23].Label)
	}
}

func TestExactTemplateMatches(t *testing.T) {
	ke := NewKeyEstimator()

	for _, tmpl := range Templates() {
		result, err := ke.EstimateKey(chroma.Profile(tmpl.Weights))
		if err != nil {
			t.Fatalf("%s: %v", tmpl.Label, err)
		}
		if result.Key != tmpl.Label {
			t.Errorf("template %s estimated as %s", tmpl.Label, result.Key)
		}
		if math.Abs(result.Correlation-1) > 1e-9 {
			t.Errorf("%s correlation = %v, want 1", tmpl.Label, result.Correlation)
		}
	}
}

func TestTriads(t *testing.T) {
	tests := []struct {
		name    string
		classes []int
		want    string
	}{
		{"C major triad", []int{0, 4, 7}, "C"},
		{"G major triad", []int{7, 11, 2}, "G"},
		{"A minor triad", []int{9, 0, 4}, "Am"},
	}

	ke := NewKeyEstimator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var profile chroma.Profile
			for _, pc := range tt.classes {
				profile[pc] = 1
			}
			result, err := ke.EstimateKey(profile)
			if err != nil {
				t.Fatalf("EstimateKey: %v", err)
			}
			if result.Key != tt.want {
				t.Errorf("got %s, want %s", result.Key, tt.want)
			}
			if result.Clarity <= 0 {
				t.Errorf("clarity = %v, want > 0", result.Clarity)
			}
			if len(result.Candidates) != 24 || result.Candidates[0].Label != tt.want {
				t.Errorf("candidates not ranked: %+v", result.Candidates[:2])
			}
		})
	}
}

func TestFlatProfileFails(t *testing.T) {
	ke := NewKeyEstimator()

	if _, err := ke.EstimateKey(chroma.Profile{}); err == nil {
		t.Error("expected error for zero profile")
	}

	var constant chroma.Profile
	for i := range constant {
		constant[i] = 0.3
	}
	if _, err := ke.EstimateKey(constant); err == nil {
		t.Error("expected error for constant profile")
	}

	if _, err := ke.EstimateKey(chroma.Profile{0: math.NaN()}); err == nil {
		t.Error("expected error for NaN profile")
	}
}

func TestGetKeyName(t *testing.T) {
	if got := GetKeyName(1, KeyModeMinor); got != "C#m" {
		t.Errorf("GetKeyName(1, minor) = %q", got)
	}
	if got := GetKeyName(11, KeyModeMajor); got != "B" {
		t.Errorf("GetKeyName(11, major) = %q", got)
	}
}

func TestGetRelativeKey(t *testing.T) {
	if tonic, mode := GetRelativeKey(0, KeyModeMajor); tonic != 9 || mode != KeyModeMinor {
		t.Errorf("relative of C = %d %v, want Am", tonic, mode)
	}
	if tonic, mode := GetRelativeKey(9, KeyModeMinor); tonic != 0 || mode != KeyModeMajor {
		t.Errorf("relative of Am = %d %v, want C", tonic, mode)
	}
}
