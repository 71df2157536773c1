package stats

// Package stats computes per-vehicle and fleet-wide aggregates over fuel
// records. Efficiency aggregates are always the ratio of sums (total km
// over total fuel): averaging per-record ratios would let short trips
// dominate, and the two disagree whenever trip sizes vary.

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/fleetfuel/fleetfuel360/internal/models"
)

// Aggregator computes windowed statistics. Stateless; safe for concurrent
// use.
type Aggregator struct{}

// New returns a ready Aggregator.
func New() *Aggregator { return &Aggregator{} }

// VehicleStats aggregates the records belonging to one vehicle, filtered
// to the window (boundaries inclusive). An empty selection yields zeroed
// stats with EfficiencyOK false, not an error.
func (a *Aggregator) VehicleStats(vehicleID string, records []models.FuelRecord, window models.Window) models.VehicleStats {
	vs := models.VehicleStats{VehicleID: vehicleID}
	var efficiencies []float64

	for _, r := range records {
		if r.VehicleID != vehicleID || !window.Contains(r.Timestamp) {
			continue
		}
		vs.Records++
		vs.TotalKM += r.DistanceKM
		vs.TotalFuelL += r.FuelUsedL
		vs.TotalCostUSD += r.CostUSD
		if eff, ok := r.Efficiency(); ok {
			efficiencies = append(efficiencies, eff)
		}
		if r.Scored && r.IsAnomaly {
			vs.Anomalies++
			if vs.Anomalies == 1 || r.Score < vs.WorstScore {
				vs.WorstScore = r.Score
			}
		}
	}

	if vs.TotalFuelL > 0 {
		vs.AvgEfficiency = vs.TotalKM / vs.TotalFuelL
		vs.EfficiencyOK = true
	}
	if vs.TotalKM > 0 {
		vs.CostPerKM = vs.TotalCostUSD / vs.TotalKM
	}
	if vs.Records > 0 {
		vs.AnomalyRate = float64(vs.Anomalies) / float64(vs.Records)
	}

	if len(efficiencies) > 0 {
		sort.Float64s(efficiencies)
		vs.MedianEff = stat.Quantile(0.5, stat.Empirical, efficiencies, nil)
		vs.EfficiencyP95 = stat.Quantile(0.95, stat.Empirical, efficiencies, nil)
		if len(efficiencies) > 1 {
			vs.EfficiencyStdD = stat.StdDev(efficiencies, nil)
		}
	}
	return vs
}

// FleetStats aggregates across all vehicles in the window and returns the
// fleet totals plus the per-vehicle breakdown, sorted by vehicle ID for
// stable output.
func (a *Aggregator) FleetStats(records []models.FuelRecord, window models.Window) (models.FleetStats, []models.VehicleStats) {
	fs := models.FleetStats{Window: window}

	byVehicle := make(map[string][]models.FuelRecord)
	for _, r := range records {
		if !window.Contains(r.Timestamp) {
			continue
		}
		byVehicle[r.VehicleID] = append(byVehicle[r.VehicleID], r)
	}

	ids := make([]string, 0, len(byVehicle))
	for id := range byVehicle {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	perVehicle := make([]models.VehicleStats, 0, len(ids))
	for _, id := range ids {
		vs := a.VehicleStats(id, byVehicle[id], window)
		perVehicle = append(perVehicle, vs)

		fs.Vehicles++
		fs.Records += vs.Records
		fs.TotalKM += vs.TotalKM
		fs.TotalFuelL += vs.TotalFuelL
		fs.TotalCostUSD += vs.TotalCostUSD
		fs.Anomalies += vs.Anomalies
	}

	if fs.TotalFuelL > 0 {
		fs.AvgEfficiency = fs.TotalKM / fs.TotalFuelL
		fs.EfficiencyOK = true
	}
	if fs.TotalKM > 0 {
		fs.CostPerKM = fs.TotalCostUSD / fs.TotalKM
	}
	if fs.Records > 0 {
		fs.AnomalyRate = float64(fs.Anomalies) / float64(fs.Records)
	}
	return fs, perVehicle
}
