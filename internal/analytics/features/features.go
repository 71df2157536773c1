package features

// Package features turns raw fuel records into the fixed-width engineered
// vectors the anomaly model trains and scores on. Vectors are recomputed on
// demand and never cached: the underlying records may have changed between
// calls, and the computation is cheap relative to the correctness risk of a
// stale cache.

import (
	"github.com/fleetfuel/fleetfuel360/internal/models"
)

// Feature indices into Vector.Values, in schema order.
const (
	FeatEfficiency = iota
	FeatFuelUsed
	FeatDistance
	FeatFuelPerKM
	FeatHour
	FeatDayOfWeek
	FeatIsWeekend
	FeatRollEffMean
	FeatRollEffStd
	FeatEffZScore
	FeatRollFuelMean
	FeatRollDistMean
	FeatFuelRateChange
	FeatDistRateChange
	FeatTrendSlope
	FeatFleetDeviation

	featureCount
)

// schema is the canonical ordered feature list. Training and scoring both
// carry this list and must agree on it exactly; any drift is a
// SchemaMismatchError, never a silent reshape.
var schema = []string{
	"efficiency",
	"fuel_used",
	"distance",
	"fuel_per_km",
	"hour",
	"day_of_week",
	"is_weekend",
	"roll_eff_mean",
	"roll_eff_std",
	"eff_zscore",
	"roll_fuel_mean",
	"roll_dist_mean",
	"fuel_rate_change",
	"dist_rate_change",
	"trend_slope",
	"fleet_deviation",
}

// Schema returns a copy of the ordered feature names.
func Schema() []string {
	out := make([]string, len(schema))
	copy(out, schema)
	return out
}

// SchemaEqual reports whether two feature schemas are identical in names
// and order.
func SchemaEqual(a, b []string) bool {
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

// Vector is one record's engineered features. Degenerate marks records
// whose fuel_used was zero: their raw efficiency is the sentinel and they
// were excluded from every rolling window, so neighbouring vectors are
// unaffected by them.
type Vector struct {
	RecordID   int64
	VehicleID  string
	Values     []float64
	Degenerate bool
}

// Engineer computes feature vectors over batches of fuel records.
type Engineer struct {
	window int
}

// DefaultWindow is the rolling-window size used when none is configured.
const DefaultWindow = 5

// NewEngineer returns an Engineer with the given rolling-window size.
// Sizes below one fall back to DefaultWindow.
func NewEngineer(window int) *Engineer {
	if window < 1 {
		window = DefaultWindow
	}
	return &Engineer{window: window}
}

// Window returns the configured rolling-window size.
func (e *Engineer) Window() int { return e.window }

// Schema returns the ordered feature names this engineer emits.
func (e *Engineer) Schema() []string { return Schema() }

// vehicleState carries the per-vehicle accumulators threaded through a
// batch computation.
type vehicleState struct {
	eff  *rollingWindow
	fuel *rollingWindow
	dist *rollingWindow

	prevFuel float64
	prevDist float64
	hasPrev  bool
}

// Compute produces one Vector per record. Records must be sorted ascending
// by timestamp; a record preceding its predecessor (per vehicle or across
// the batch) fails with DataOrderError rather than being silently
// reordered. The batch may span vehicles: the fleet-deviation feature is
// derived from a point-in-time index over every vehicle seen so far, so it
// uses only observations at or before each record's own timestamp.
func (e *Engineer) Compute(records []models.FuelRecord) ([]Vector, error) {
	states := make(map[string]*vehicleState)
	fleet := &fleetIndex{}
	out := make([]Vector, 0, len(records))

	var lastBatchTS int64
	for i, rec := range records {
		ts := rec.Timestamp.UnixNano()
		if i > 0 && ts < lastBatchTS {
			return nil, &models.DataOrderError{
				VehicleID: rec.VehicleID,
				Index:     i,
				Prev:      records[i-1].Timestamp,
				Curr:      rec.Timestamp,
			}
		}
		lastBatchTS = ts

		st := states[rec.VehicleID]
		if st == nil {
			st = &vehicleState{
				eff:  newRollingWindow(e.window),
				fuel: newRollingWindow(e.window),
				dist: newRollingWindow(e.window),
			}
			states[rec.VehicleID] = st
		}
		vec, err := e.compute(rec, st, fleet)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)

		// Degenerate records never enter the rolling windows, the fleet
		// index, or the rate-of-change baseline: a zero-fuel record must
		// not corrupt its neighbours' statistics.
		if !rec.Degenerate() {
			eff, _ := rec.Efficiency()
			st.eff.push(eff)
			st.fuel.push(rec.FuelUsedL)
			st.dist.push(rec.DistanceKM)
			st.prevFuel = rec.FuelUsedL
			st.prevDist = rec.DistanceKM
			st.hasPrev = true
			fleet.observe(rec.DistanceKM, rec.FuelUsedL)
		}
	}
	return out, nil
}

// compute derives a single record's vector from the state accumulated
// before this record was folded in.
func (e *Engineer) compute(rec models.FuelRecord, st *vehicleState, fleet *fleetIndex) (Vector, error) {
	v := make([]float64, featureCount)
	degenerate := rec.Degenerate()

	eff, ok := rec.Efficiency()
	if !ok {
		eff = models.EfficiencyUndefined
	}
	v[FeatEfficiency] = eff
	v[FeatFuelUsed] = rec.FuelUsedL
	v[FeatDistance] = rec.DistanceKM
	if rec.DistanceKM > 0 {
		v[FeatFuelPerKM] = rec.FuelUsedL / rec.DistanceKM
	}

	t := rec.Timestamp
	v[FeatHour] = float64(t.Hour())
	wd := int(t.Weekday())
	v[FeatDayOfWeek] = float64(wd)
	if wd == 0 || wd == 6 {
		v[FeatIsWeekend] = 1
	}

	// Rolling statistics over the current record plus up to window-1 prior
	// non-degenerate observations. Below capacity the window shrinks to
	// the available history.
	if degenerate {
		// Prior-only view for a record that contributes no observation.
		v[FeatRollEffMean] = st.eff.mean()
		v[FeatRollEffStd] = st.eff.stddev()
	} else {
		withCurr := newRollingWindow(st.eff.cap)
		for _, prior := range st.eff.values {
			withCurr.push(prior)
		}
		withCurr.push(eff)
		v[FeatRollEffMean] = withCurr.mean()
		v[FeatRollEffStd] = withCurr.stddev()
		v[FeatTrendSlope] = withCurr.slope()
		if sd := v[FeatRollEffStd]; sd > 0 {
			v[FeatEffZScore] = (eff - v[FeatRollEffMean]) / sd
		}
	}
	v[FeatRollFuelMean] = st.fuel.mean()
	v[FeatRollDistMean] = st.dist.mean()

	if st.hasPrev && !degenerate {
		if st.prevFuel > 0 {
			v[FeatFuelRateChange] = (rec.FuelUsedL - st.prevFuel) / st.prevFuel
		}
		if st.prevDist > 0 {
			v[FeatDistRateChange] = (rec.DistanceKM - st.prevDist) / st.prevDist
		}
	}

	if fleetMean, ok := fleet.mean(); ok && !degenerate {
		v[FeatFleetDeviation] = eff - fleetMean
	}

	for i, val := range v {
		if !models.Finite(val) {
			return Vector{}, &models.InvalidNumericResultError{
				Stage:     "feature_engineering",
				VehicleID: rec.VehicleID,
				Field:     schema[i],
				Value:     val,
			}
		}
	}

	return Vector{
		RecordID:   rec.ID,
		VehicleID:  rec.VehicleID,
		Values:     v,
		Degenerate: degenerate,
	}, nil
}

// Matrix flattens vectors into a row-major feature matrix, excluding
// nothing: callers that want to drop degenerate rows filter first.
func Matrix(vectors []Vector) [][]float64 {
	rows := make([][]float64, len(vectors))
	for i, vec := range vectors {
		rows[i] = vec.Values
	}
	return rows
}

// FilterTrainable returns the subset of vectors usable for model fitting:
// finite, non-degenerate observations.
func FilterTrainable(vectors []Vector) []Vector {
	out := make([]Vector, 0, len(vectors))
	for _, vec := range vectors {
		if vec.Degenerate {
			continue
		}
		out = append(out, vec)
	}
	return out
}

// sanity guard: the index block and the schema list must stay in lockstep.
var _ = func() struct{} {
	if len(schema) != featureCount {
		panic("feature schema out of sync with indices")
	}
	if featureCount != 16 {
		panic("feature count drifted")
	}
	return struct{}{}
}()
