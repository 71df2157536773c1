package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/fleetfuel/fleetfuel360/internal/models"
)

// Config controls training. Zero values are replaced by defaults in Fit.
type Config struct {
	Trees         int     // number of isolation trees
	SubSampleSize int     // rows per tree
	MaxDepth      int     // tree depth cap
	Seed          int64   // RNG seed; same seed + same input = same model
	Contamination float64 // expected anomaly fraction, (0, 0.5]
	MinSamples    int     // training refuses below this row count
}

// DefaultConfig mirrors the production training parameters.
func DefaultConfig() Config {
	return Config{
		Trees:         100,
		SubSampleSize: 256,
		MaxDepth:      12,
		Seed:          42,
		Contamination: 0.05,
		MinSamples:    10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Trees <= 0 {
		c.Trees = d.Trees
	}
	if c.SubSampleSize <= 0 {
		c.SubSampleSize = d.SubSampleSize
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.Contamination <= 0 || c.Contamination > 0.5 {
		c.Contamination = d.Contamination
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	return c
}

// ModelState is a complete trained model: the forest plus everything
// needed to reproduce scoring exactly on another process — the feature
// schema it was trained against, the per-feature standardization
// parameters, and the frozen decision threshold.
type ModelState struct {
	VersionID     string
	TrainedAt     time.Time
	FeatureSchema []string
	Contamination float64
	SampleCount   int
	Seed          int64
	Threshold     float64

	scalerMean []float64
	scalerStd  []float64
	forest     *forest
}

// Fit trains a model on a row-per-record feature matrix. Rows must all
// match the schema width. The decision threshold is fixed at the
// contamination quantile of the training scores, so labels on unseen
// data are comparable to the training distribution.
func Fit(matrix [][]float64, schema []string, cfg Config) (*ModelState, error) {
	cfg = cfg.withDefaults()

	if len(matrix) < cfg.MinSamples {
		return nil, &models.InsufficientDataError{Have: len(matrix), Need: cfg.MinSamples}
	}
	width := len(schema)
	for i, row := range matrix {
		if len(row) != width {
			return nil, fmt.Errorf("ml: row %d has %d features, schema has %d", i, len(row), width)
		}
	}

	mean, std := fitScaler(matrix, width)
	scaled := applyScaler(matrix, mean, std)

	subSample := cfg.SubSampleSize
	if subSample > len(scaled) {
		subSample = len(scaled)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	f := buildForest(scaled, cfg.Trees, subSample, cfg.MaxDepth, rng)

	trainScores := make([]float64, len(scaled))
	for i, row := range scaled {
		trainScores[i] = decisionScore(f, row)
	}
	threshold := quantile(trainScores, cfg.Contamination)

	state := &ModelState{
		TrainedAt:     time.Now().UTC(),
		FeatureSchema: append([]string(nil), schema...),
		Contamination: cfg.Contamination,
		SampleCount:   len(matrix),
		Seed:          cfg.Seed,
		Threshold:     threshold,
		scalerMean:    mean,
		scalerStd:     std,
		forest:        f,
	}
	return state, nil
}

// Score evaluates rows against the trained model. The schema must match
// the training schema exactly (names and order); drift is an error, not
// a silent re-mapping. Returned scores follow the decision-function
// convention: lower = more anomalous. A row is labeled anomalous when
// its score falls strictly below the frozen threshold.
func (s *ModelState) Score(matrix [][]float64, schema []string) ([]float64, []bool, error) {
	if !schemaEqual(s.FeatureSchema, schema) {
		return nil, nil, &models.SchemaMismatchError{Want: s.FeatureSchema, Got: schema}
	}
	width := len(schema)
	for i, row := range matrix {
		if len(row) != width {
			return nil, nil, fmt.Errorf("ml: row %d has %d features, schema has %d", i, len(row), width)
		}
	}

	scaled := applyScaler(matrix, s.scalerMean, s.scalerStd)
	scores := make([]float64, len(scaled))
	labels := make([]bool, len(scaled))
	for i, row := range scaled {
		sc := decisionScore(s.forest, row)
		if !models.Finite(sc) {
			return nil, nil, &models.InvalidNumericResultError{Stage: "score", Field: "decision_score", Value: sc}
		}
		scores[i] = sc
		labels[i] = sc < s.Threshold
	}
	return scores, labels, nil
}

// decisionScore converts the isolation score in (0,1) into the
// decision-function convention: 0.5 - isolationScore, so typical points
// land near zero or above and anomalies go negative.
func decisionScore(f *forest, row []float64) float64 {
	return 0.5 - f.isolationScore(row)
}

func schemaEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// fitScaler computes per-column mean and population stddev. A constant
// column keeps std 1 so standardization maps it to zero instead of Inf.
func fitScaler(matrix [][]float64, width int) ([]float64, []float64) {
	mean := make([]float64, width)
	std := make([]float64, width)
	n := float64(len(matrix))

	for _, row := range matrix {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= n
	}
	for _, row := range matrix {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
		if std[j] == 0 {
			std[j] = 1
		}
	}
	return mean, std
}

func applyScaler(matrix [][]float64, mean, std []float64) [][]float64 {
	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - mean[j]) / std[j]
		}
		out[i] = scaled
	}
	return out
}

// Serialized form. Tree nodes use short keys to keep persisted models
// compact; a 100-tree forest serializes to a few hundred KB.

type treeJSON struct {
	F    int       `json:"f,omitempty"`
	V    float64   `json:"v,omitempty"`
	L    *treeJSON `json:"l,omitempty"`
	R    *treeJSON `json:"r,omitempty"`
	N    int       `json:"n"`
	Leaf bool      `json:"leaf,omitempty"`
}

type stateJSON struct {
	VersionID     string      `json:"version_id"`
	TrainedAt     time.Time   `json:"trained_at"`
	FeatureSchema []string    `json:"feature_schema"`
	Contamination float64     `json:"contamination"`
	SampleCount   int         `json:"sample_count"`
	Seed          int64       `json:"seed"`
	Threshold     float64     `json:"threshold"`
	ScalerMean    []float64   `json:"scaler_mean"`
	ScalerStd     []float64   `json:"scaler_std"`
	SubSampleSize int         `json:"sub_sample_size"`
	Trees         []*treeJSON `json:"trees"`
}

func encodeTree(t *node) *treeJSON {
	if t == nil {
		return nil
	}
	return &treeJSON{
		F:    t.splitFeature,
		V:    t.splitValue,
		L:    encodeTree(t.left),
		R:    encodeTree(t.right),
		N:    t.size,
		Leaf: t.leaf,
	}
}

func decodeTree(t *treeJSON) *node {
	if t == nil {
		return nil
	}
	return &node{
		splitFeature: t.F,
		splitValue:   t.V,
		left:         decodeTree(t.L),
		right:        decodeTree(t.R),
		size:         t.N,
		leaf:         t.Leaf,
	}
}

// Marshal serializes the full model state, trees included.
func (s *ModelState) Marshal() ([]byte, error) {
	trees := make([]*treeJSON, len(s.forest.trees))
	for i, t := range s.forest.trees {
		trees[i] = encodeTree(t)
	}
	return json.Marshal(stateJSON{
		VersionID:     s.VersionID,
		TrainedAt:     s.TrainedAt,
		FeatureSchema: s.FeatureSchema,
		Contamination: s.Contamination,
		SampleCount:   s.SampleCount,
		Seed:          s.Seed,
		Threshold:     s.Threshold,
		ScalerMean:    s.scalerMean,
		ScalerStd:     s.scalerStd,
		SubSampleSize: s.forest.subSampleSize,
		Trees:         trees,
	})
}

// UnmarshalModelState restores a model serialized with Marshal.
func UnmarshalModelState(data []byte) (*ModelState, error) {
	var raw stateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ml: decode model state: %w", err)
	}
	if len(raw.Trees) == 0 {
		return nil, fmt.Errorf("ml: model state has no trees")
	}
	if len(raw.ScalerMean) != len(raw.FeatureSchema) || len(raw.ScalerStd) != len(raw.FeatureSchema) {
		return nil, fmt.Errorf("ml: scaler width %d/%d does not match schema width %d",
			len(raw.ScalerMean), len(raw.ScalerStd), len(raw.FeatureSchema))
	}

	f := &forest{
		trees:         make([]*node, len(raw.Trees)),
		subSampleSize: raw.SubSampleSize,
	}
	for i, t := range raw.Trees {
		f.trees[i] = decodeTree(t)
	}
	return &ModelState{
		VersionID:     raw.VersionID,
		TrainedAt:     raw.TrainedAt,
		FeatureSchema: raw.FeatureSchema,
		Contamination: raw.Contamination,
		SampleCount:   raw.SampleCount,
		Seed:          raw.Seed,
		Threshold:     raw.Threshold,
		scalerMean:    raw.ScalerMean,
		scalerStd:     raw.ScalerStd,
		forest:        f,
	}, nil
}
