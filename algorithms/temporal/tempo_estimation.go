package temporal

import (
	"fmt"
	"math"
	"sort"

	"github.com/RyanBlaney/sonido-analyzer/algorithms/common"
)

// TempoParams controls multi-seed tempo estimation
type TempoParams struct {
	Seeds            []float64 `json:"seeds"`
	MinBPM           float64   `json:"min_bpm"`
	MaxBPM           float64   `json:"max_bpm"`
	ClusterTolerance float64   `json:"cluster_tolerance"`
	DefaultBPM       float64   `json:"default_bpm"`
	WindowLength     int       `json:"window_length"`
	// PriorStdOctaves is the width of the log-normal prior around each seed
	PriorStdOctaves float64 `json:"prior_std_octaves"`
}

// DefaultTempoParams returns the standard seeds and search range
func DefaultTempoParams() TempoParams {
	return TempoParams{
		Seeds:            []float64{60, 90, 120, 140, 180},
		MinBPM:           30,
		MaxBPM:           320,
		ClusterTolerance: 3.0,
		DefaultBPM:       120,
		WindowLength:     384,
		PriorStdOctaves:  1.0,
	}
}

// TempoCandidate is one cluster of per-frame tempo estimates
type TempoCandidate struct {
	BPM    float64 `json:"bpm"`
	Weight float64 `json:"weight"`
	Count  int     `json:"count"`
}

// TempoResult holds the winning tempo and the ranked clusters behind it
type TempoResult struct {
	BPM        float64          `json:"bpm"`
	Candidates []TempoCandidate `json:"candidates"`
	Estimates  int              `json:"estimates"`
	Defaulted  bool             `json:"defaulted"`
}

// Rounded returns the tempo rounded half away from zero
func (r *TempoResult) Rounded() int {
	return int(math.Round(r.BPM))
}

// TempoEstimation estimates a global tempo from an onset envelope
type TempoEstimation struct {
	params TempoParams
}

// NewTempoEstimation creates a new tempo estimator
func NewTempoEstimation(params TempoParams) *TempoEstimation {
	return &TempoEstimation{params: params}
}

// EstimateFromEnvelope probes every envelope frame from every seed, pools the
// per-frame estimates, clusters them and picks the best supported cluster.
func (te *TempoEstimation) EstimateFromEnvelope(envelope []float64, frameRate float64) (*TempoResult, error) {
	if len(envelope) == 0 {
		return nil, fmt.Errorf("empty onset envelope")
	}
	if frameRate <= 0 {
		return nil, fmt.Errorf("invalid frame rate: %v", frameRate)
	}
	if len(te.params.Seeds) == 0 {
		return nil, fmt.Errorf("no tempo seeds")
	}

	tg, err := NewTempogram(te.params.WindowLength)
	if err != nil {
		return nil, err
	}

	minLag, maxLag := te.lagRange(frameRate)
	if minLag > maxLag {
		return nil, fmt.Errorf("tempo range %v-%v BPM does not fit a %d frame window",
			te.params.MinBPM, te.params.MaxBPM, te.params.WindowLength)
	}

	perSeed := make([][]float64, len(te.params.Seeds))
	for t := range envelope {
		acf, ok := tg.Frame(envelope, t)
		if !ok {
			continue
		}
		for s, seed := range te.params.Seeds {
			if bpm, ok := te.probe(acf, seed, frameRate, minLag, maxLag); ok {
				perSeed[s] = append(perSeed[s], bpm)
			}
		}
	}

	// Pool seed by seed so cluster formation order is fixed
	var pool []float64
	for _, estimates := range perSeed {
		pool = append(pool, estimates...)
	}

	candidates := RankTempoCandidates(ClusterTempi(pool, te.params.ClusterTolerance), te.params.ClusterTolerance)

	result := &TempoResult{
		BPM:        te.params.DefaultBPM,
		Candidates: candidates,
		Estimates:  len(pool),
		Defaulted:  true,
	}
	if len(candidates) > 0 {
		result.BPM = candidates[0].BPM
		result.Defaulted = false
	}

	return result, nil
}

// lagRange converts the BPM search range to autocorrelation lags. The upper
// lag leaves one neighbour for parabolic refinement.
func (te *TempoEstimation) lagRange(frameRate float64) (int, int) {
	minLag := max(1, int(math.Ceil(60*frameRate/te.params.MaxBPM)))
	maxLag := min(te.params.WindowLength-2, int(math.Floor(60*frameRate/te.params.MinBPM)))
	return minLag, maxLag
}

// probe picks the local autocorrelation peak that best balances strength
// against distance (in octaves) from the seed
func (te *TempoEstimation) probe(acf []float64, seed, frameRate float64, minLag, maxLag int) (float64, bool) {
	std := te.params.PriorStdOctaves
	if std <= 0 {
		std = 1
	}
	logSeed := math.Log2(seed)

	bestScore := math.Inf(-1)
	bestBPM := 0.0
	found := false

	for lag := minLag; lag <= maxLag; lag++ {
		a, b, c := acf[lag-1], acf[lag], acf[lag+1]
		if b <= 0 || b <= a || b < c {
			continue
		}

		offset, height := common.ParabolicPeak(a, b, c)
		bpm := 60 * frameRate / (float64(lag) + offset)

		d := (math.Log2(bpm) - logSeed) / std
		score := math.Log1p(1e6*height) - 0.5*d*d
		if score > bestScore {
			bestScore = score
			bestBPM = bpm
			found = true
		}
	}

	return bestBPM, found
}

// ClusterTempi groups estimates greedily in input order: each value joins the
// first cluster whose running mean is strictly within tolerance, otherwise it
// opens a new one.
func ClusterTempi(tempi []float64, tolerance float64) []TempoCandidate {
	var clusters []TempoCandidate

	for _, t := range tempi {
		joined := false
		for i := range clusters {
			c := &clusters[i]
			if math.Abs(t-c.BPM) < tolerance {
				c.BPM = (c.BPM*float64(c.Count) + t) / float64(c.Count+1)
				c.Count++
				joined = true
				break
			}
		}
		if !joined {
			clusters = append(clusters, TempoCandidate{BPM: t, Count: 1})
		}
	}

	return clusters
}

// RankTempoCandidates orders clusters by count, adds the counts of clusters at
// half or double tempo to each weight, and orders by weight. Both sorts are
// stable, so weight ties go to the larger count and then the earlier cluster.
func RankTempoCandidates(clusters []TempoCandidate, tolerance float64) []TempoCandidate {
	ranked := make([]TempoCandidate, len(clusters))
	copy(ranked, clusters)

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})

	for i := range ranked {
		weight := float64(ranked[i].Count)
		for j := range ranked {
			if i == j {
				continue
			}
			m := ranked[i].BPM
			other := ranked[j].BPM
			if math.Abs(other-m/2) < tolerance || math.Abs(other-m*2) < tolerance {
				weight += float64(ranked[j].Count)
			}
		}
		ranked[i].Weight = weight
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Weight > ranked[j].Weight
	})

	return ranked
}
