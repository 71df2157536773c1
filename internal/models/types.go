package models

// Package models defines the core data types shared across the FleetFuel360
// analytics engine: fuel records, anomaly results, aggregate statistics, and
// recommendations. It is a leaf package with no internal dependencies so the
// store, feature, model, and advisory layers can all share one vocabulary.

import (
	"math"
	"time"
)

// EfficiencyUndefined is the sentinel used where km/L cannot be derived
// (fuel_used == 0). It is a plain 0.0 on the wire but records carrying it
// are flagged degenerate so they never pollute rolling statistics.
const EfficiencyUndefined = 0.0

// Severity classifies recommendations and alerts.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// rank orders severities for comparisons; higher is more urgent.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// MoreSevere reports whether s outranks other.
func (s Severity) MoreSevere(other Severity) bool { return s.rank() > other.rank() }

// FuelRecord is one fuel-log entry for a vehicle. Immutable once created;
// owned by the record store.
type FuelRecord struct {
	ID        int64     `json:"id"`
	VehicleID string    `json:"vehicle_id"`
	Timestamp time.Time `json:"timestamp"`
	// DistanceKM is the distance driven on this fill, in kilometres.
	DistanceKM float64 `json:"km_driven"`
	// FuelUsedL is the fuel consumed, in litres.
	FuelUsedL float64 `json:"fuel_used"`
	// CostUSD is optional; 0 means not recorded.
	CostUSD float64 `json:"cost,omitempty"`

	// Anomaly annotations written back by the scorer. Score is only
	// meaningful when Scored is true.
	IsAnomaly bool    `json:"is_anomaly"`
	Score     float64 `json:"anomaly_score"`
	Scored    bool    `json:"scored"`
}

// Efficiency returns km/L and whether it is defined. A record with zero
// fuel cannot have an efficiency; callers must treat the second return as
// authoritative rather than testing the value against zero.
func (r FuelRecord) Efficiency() (float64, bool) {
	if r.FuelUsedL > 0 {
		return r.DistanceKM / r.FuelUsedL, true
	}
	return EfficiencyUndefined, false
}

// Degenerate reports whether the record cannot contribute an efficiency
// observation (zero or negative fuel).
func (r FuelRecord) Degenerate() bool { return r.FuelUsedL <= 0 }

// Vehicle is the registry entry a FuelRecord belongs to.
type Vehicle struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// AnomalyResult annotates one scored FuelRecord. Lower scores are more
// anomalous; IsAnomaly is the label at the model's decision threshold.
type AnomalyResult struct {
	RecordID  int64   `json:"record_id"`
	VehicleID string  `json:"vehicle_id"`
	Score     float64 `json:"anomaly_score"`
	IsAnomaly bool    `json:"is_anomaly"`
}

// Window is a closed time interval [Since, Until]. A zero Since or Until
// leaves that side unbounded.
type Window struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// Contains reports whether t falls inside the window, boundaries included.
func (w Window) Contains(t time.Time) bool {
	if !w.Since.IsZero() && t.Before(w.Since) {
		return false
	}
	if !w.Until.IsZero() && t.After(w.Until) {
		return false
	}
	return true
}

// VehicleStats are per-vehicle aggregates over a window. AvgEfficiency is
// the ratio of sums (total km over total fuel), never a mean of per-record
// ratios.
type VehicleStats struct {
	VehicleID      string  `json:"vehicle_id"`
	Records        int     `json:"records"`
	TotalKM        float64 `json:"total_km"`
	TotalFuelL     float64 `json:"total_fuel"`
	TotalCostUSD   float64 `json:"total_cost"`
	AvgEfficiency  float64 `json:"avg_efficiency"`
	EfficiencyOK   bool    `json:"efficiency_defined"`
	CostPerKM      float64 `json:"cost_per_km"`
	Anomalies      int     `json:"anomalies"`
	AnomalyRate    float64 `json:"anomaly_rate"`
	WorstScore     float64 `json:"worst_anomaly_score"`
	MedianEff      float64 `json:"median_efficiency"`
	EfficiencyP95  float64 `json:"efficiency_p95"`
	EfficiencyStdD float64 `json:"efficiency_std"`
}

// FleetStats are fleet-wide aggregates over a window.
type FleetStats struct {
	Window        Window  `json:"window"`
	Vehicles      int     `json:"vehicles"`
	Records       int     `json:"records"`
	TotalKM       float64 `json:"total_km"`
	TotalFuelL    float64 `json:"total_fuel"`
	TotalCostUSD  float64 `json:"total_cost"`
	AvgEfficiency float64 `json:"avg_efficiency"`
	EfficiencyOK  bool    `json:"efficiency_defined"`
	CostPerKM     float64 `json:"cost_per_km"`
	Anomalies     int     `json:"anomalies"`
	AnomalyRate   float64 `json:"anomaly_rate"`
}

// Recommendation is a threshold-rule advisory. VehicleID is empty for
// fleet-wide advisories. Generated fresh on every evaluation; has no
// stored identity beyond the ephemeral ID used by the alert stream.
type Recommendation struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Severity        Severity  `json:"severity"`
	VehicleID       string    `json:"vehicle_id,omitempty"`
	Message         string    `json:"message"`
	SuggestedAction string    `json:"suggested_action"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Finite reports whether v is a usable IEEE-754 double. NaN and the
// infinities must never cross the engine boundary.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
