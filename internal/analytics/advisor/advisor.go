package advisor

// Package advisor turns windowed statistics into threshold-rule
// recommendations. Evaluation is pure: rules fire off the supplied
// aggregates only, in a fixed documented order, so the same inputs always
// produce the same advisories in the same sequence.

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetfuel/fleetfuel360/internal/models"
)

// Rule type identifiers, in evaluation order.
const (
	RuleFuelLeak           = "fuel_leak_suspected"
	RuleAnomalyCluster     = "anomaly_cluster"
	RuleEfficiencyDecline  = "efficiency_decline"
	RulePoorPerformer      = "poor_performer"
	RuleLowFleetEfficiency = "low_fleet_efficiency"
	RuleHighOperatingCost  = "high_operating_cost"
)

// Thresholds configure when rules fire.
type Thresholds struct {
	// FuelLeakLPer100KM is the rise in fuel per 100 km over a vehicle's
	// baseline that suggests a leak.
	FuelLeakLPer100KM float64
	// AnomalyRate is the per-vehicle anomaly fraction above which the
	// window counts as a cluster.
	AnomalyRate float64
	// EfficiencyDecline is the fractional drop of recent fleet efficiency
	// against the baseline window.
	EfficiencyDecline float64
	// PoorPerformerRatio flags vehicles below this fraction of fleet
	// efficiency.
	PoorPerformerRatio float64
	// FleetEfficiencyFloor is the absolute fleet km/L minimum.
	FleetEfficiencyFloor float64
	// CostPerKM flags vehicles spending more than this per kilometre.
	CostPerKM float64
}

// DefaultThresholds mirror the production rule configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FuelLeakLPer100KM:    5.0,
		AnomalyRate:          0.20,
		EfficiencyDecline:    0.10,
		PoorPerformerRatio:   0.80,
		FleetEfficiencyFloor: 8.0,
		CostPerKM:            0.50,
	}
}

// Input is everything a rule evaluation may look at. Baseline aggregates
// cover a longer trailing window than the recent ones; rules that compare
// recent against baseline skip silently when the baseline is undefined.
type Input struct {
	Fleet            models.FleetStats
	Vehicles         []models.VehicleStats
	BaselineFleet    models.FleetStats
	BaselineVehicles []models.VehicleStats
	Now              time.Time
}

// Engine evaluates the rule set.
type Engine struct {
	thresholds Thresholds
	newID      func() string
}

// New returns an Engine with the given thresholds.
func New(th Thresholds) *Engine {
	return &Engine{thresholds: th, newID: uuid.NewString}
}

// Evaluate runs every rule in order and returns the advisories that
// fired. Per-vehicle rules visit vehicles in the order given, so sorted
// input yields stable output. Evaluation never mutates its input and
// never errs: a rule that cannot be computed from the aggregates at hand
// simply does not fire.
func (e *Engine) Evaluate(in Input) []models.Recommendation {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	baselines := make(map[string]models.VehicleStats, len(in.BaselineVehicles))
	for _, vs := range in.BaselineVehicles {
		baselines[vs.VehicleID] = vs
	}

	var out []models.Recommendation
	add := func(ruleType string, sev models.Severity, vehicleID, msg, action string) {
		out = append(out, models.Recommendation{
			ID:              e.newID(),
			Type:            ruleType,
			Severity:        sev,
			VehicleID:       vehicleID,
			Message:         msg,
			SuggestedAction: action,
			GeneratedAt:     now,
		})
	}

	// 1. fuel_leak_suspected
	for _, vs := range in.Vehicles {
		base, ok := baselines[vs.VehicleID]
		if !ok {
			continue
		}
		recent, rok := fuelPer100KM(vs)
		baseline, bok := fuelPer100KM(base)
		if !rok || !bok {
			continue
		}
		rise := recent - baseline
		if rise > e.thresholds.FuelLeakLPer100KM {
			add(RuleFuelLeak, models.SeverityCritical, vs.VehicleID,
				fmt.Sprintf("Vehicle %s consumption rose to %.1f L/100km from a %.1f L/100km baseline (+%.1f)",
					vs.VehicleID, recent, baseline, rise),
				"Inspect for fuel leaks, check fuel lines and tank integrity immediately")
		}
	}

	// 2. anomaly_cluster
	for _, vs := range in.Vehicles {
		if vs.Records > 0 && vs.AnomalyRate > e.thresholds.AnomalyRate {
			add(RuleAnomalyCluster, models.SeverityHigh, vs.VehicleID,
				fmt.Sprintf("Vehicle %s has %d anomalous readings out of %d (%.0f%%)",
					vs.VehicleID, vs.Anomalies, vs.Records, vs.AnomalyRate*100),
				"Schedule a diagnostic inspection and review recent routes and driver behavior")
		}
	}

	// 3. efficiency_decline
	if in.Fleet.EfficiencyOK && in.BaselineFleet.EfficiencyOK && in.BaselineFleet.AvgEfficiency > 0 {
		drop := 1 - in.Fleet.AvgEfficiency/in.BaselineFleet.AvgEfficiency
		if drop > e.thresholds.EfficiencyDecline {
			add(RuleEfficiencyDecline, models.SeverityHigh, "",
				fmt.Sprintf("Fleet efficiency declined %.0f%%: %.2f km/L recently vs %.2f km/L baseline",
					drop*100, in.Fleet.AvgEfficiency, in.BaselineFleet.AvgEfficiency),
				"Review fleet-wide changes: routes, loads, fuel supplier, seasonal factors")
		}
	}

	// 4. poor_performer
	if in.Fleet.EfficiencyOK {
		floor := in.Fleet.AvgEfficiency * e.thresholds.PoorPerformerRatio
		for _, vs := range in.Vehicles {
			if vs.EfficiencyOK && vs.AvgEfficiency < floor {
				add(RulePoorPerformer, models.SeverityMedium, vs.VehicleID,
					fmt.Sprintf("Vehicle %s averages %.2f km/L, below %.0f%% of the fleet's %.2f km/L",
						vs.VehicleID, vs.AvgEfficiency, e.thresholds.PoorPerformerRatio*100, in.Fleet.AvgEfficiency),
					"Check tire pressure, engine tuning, and driving patterns for this vehicle")
			}
		}
	}

	// 5. low_fleet_efficiency
	if in.Fleet.EfficiencyOK && in.Fleet.AvgEfficiency < e.thresholds.FleetEfficiencyFloor {
		add(RuleLowFleetEfficiency, models.SeverityMedium, "",
			fmt.Sprintf("Fleet efficiency is %.2f km/L, below the %.1f km/L target",
				in.Fleet.AvgEfficiency, e.thresholds.FleetEfficiencyFloor),
			"Consider fleet-wide maintenance, driver training, or route optimization")
	}

	// 6. high_operating_cost
	for _, vs := range in.Vehicles {
		if vs.TotalCostUSD > 0 && vs.TotalKM > 0 && vs.CostPerKM > e.thresholds.CostPerKM {
			add(RuleHighOperatingCost, models.SeverityLow, vs.VehicleID,
				fmt.Sprintf("Vehicle %s operating cost is %.2f USD/km over the window", vs.VehicleID, vs.CostPerKM),
				"Audit fuel purchases and consider reassigning this vehicle to shorter routes")
		}
	}

	return out
}

// fuelPer100KM derives litres per 100 km from windowed totals.
func fuelPer100KM(vs models.VehicleStats) (float64, bool) {
	if vs.TotalKM <= 0 || vs.TotalFuelL <= 0 {
		return 0, false
	}
	return 100 * vs.TotalFuelL / vs.TotalKM, true
}
