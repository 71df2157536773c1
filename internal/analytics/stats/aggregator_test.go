package stats

import (
	"math"
	"testing"
	"time"

	"github.com/fleetfuel/fleetfuel360/internal/models"
)

func rec(vehicle string, ts time.Time, km, fuel, cost float64) models.FuelRecord {
	return models.FuelRecord{
		VehicleID:  vehicle,
		Timestamp:  ts,
		DistanceKM: km,
		FuelUsedL:  fuel,
		CostUSD:    cost,
	}
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestAvgEfficiencyIsRatioOfSums(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	records := []models.FuelRecord{
		rec("V1", base, 100, 5, 0),               // ratio 20
		rec("V1", base.Add(time.Hour), 50, 15, 0), // ratio 3.33
	}

	vs := New().VehicleStats("V1", records, models.Window{})

	// 150 km / 20 L = 7.5, not the 11.67 a mean of ratios would give.
	approx(t, "avg efficiency", vs.AvgEfficiency, 7.5)
	if !vs.EfficiencyOK {
		t.Error("efficiency should be defined")
	}
}

func TestVehicleStatsAggregates(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	records := []models.FuelRecord{
		rec("V1", base, 100, 10, 30),
		rec("V1", base.Add(time.Hour), 200, 20, 60),
		rec("V2", base, 500, 25, 90), // other vehicle, excluded
	}
	records[1].Scored = true
	records[1].IsAnomaly = true
	records[1].Score = -0.12

	vs := New().VehicleStats("V1", records, models.Window{})

	if vs.Records != 2 {
		t.Fatalf("records = %d, want 2", vs.Records)
	}
	approx(t, "total km", vs.TotalKM, 300)
	approx(t, "total fuel", vs.TotalFuelL, 30)
	approx(t, "total cost", vs.TotalCostUSD, 90)
	approx(t, "cost per km", vs.CostPerKM, 0.3)
	if vs.Anomalies != 1 {
		t.Errorf("anomalies = %d, want 1", vs.Anomalies)
	}
	approx(t, "anomaly rate", vs.AnomalyRate, 0.5)
	approx(t, "worst score", vs.WorstScore, -0.12)
}

func TestWindowBoundariesInclusive(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	records := []models.FuelRecord{
		rec("V1", base.Add(-time.Second), 100, 10, 0), // before
		rec("V1", base, 100, 10, 0),                   // at since
		rec("V1", base.Add(time.Hour), 100, 10, 0),    // inside
		rec("V1", base.Add(2*time.Hour), 100, 10, 0),  // at until
		rec("V1", base.Add(3*time.Hour), 100, 10, 0),  // after
	}
	w := models.Window{Since: base, Until: base.Add(2 * time.Hour)}

	vs := New().VehicleStats("V1", records, w)
	if vs.Records != 3 {
		t.Errorf("records = %d, want 3 (boundaries inclusive)", vs.Records)
	}
}

func TestEmptyWindowIsWellDefined(t *testing.T) {
	vs := New().VehicleStats("V1", nil, models.Window{})
	if vs.Records != 0 || vs.EfficiencyOK || vs.AvgEfficiency != 0 || vs.AnomalyRate != 0 {
		t.Errorf("empty stats not zeroed: %+v", vs)
	}

	fs, perVehicle := New().FleetStats(nil, models.Window{})
	if fs.Vehicles != 0 || fs.EfficiencyOK || len(perVehicle) != 0 {
		t.Errorf("empty fleet stats not zeroed: %+v", fs)
	}
}

func TestDegenerateRecordsCountButDefineNoEfficiency(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	records := []models.FuelRecord{
		rec("V1", base, 100, 0, 10), // zero fuel
		rec("V1", base.Add(time.Hour), 0, 0, 0),
	}

	vs := New().VehicleStats("V1", records, models.Window{})
	if vs.Records != 2 {
		t.Errorf("records = %d, want 2", vs.Records)
	}
	if vs.EfficiencyOK {
		t.Error("efficiency must be undefined with zero total fuel")
	}
	approx(t, "avg efficiency", vs.AvgEfficiency, 0)
}

func TestFleetStatsAcrossVehicles(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	records := []models.FuelRecord{
		rec("V2", base, 100, 10, 20),
		rec("V1", base.Add(time.Minute), 200, 20, 40),
		rec("V1", base.Add(time.Hour), 100, 20, 30),
	}

	fs, perVehicle := New().FleetStats(records, models.Window{})

	if fs.Vehicles != 2 || fs.Records != 3 {
		t.Fatalf("vehicles=%d records=%d, want 2/3", fs.Vehicles, fs.Records)
	}
	approx(t, "fleet avg", fs.AvgEfficiency, 400.0/50.0)
	approx(t, "fleet cost per km", fs.CostPerKM, 90.0/400.0)

	// Breakdown is ordered by vehicle ID.
	if len(perVehicle) != 2 || perVehicle[0].VehicleID != "V1" || perVehicle[1].VehicleID != "V2" {
		t.Fatalf("breakdown order wrong: %+v", perVehicle)
	}
	approx(t, "V1 avg", perVehicle[0].AvgEfficiency, 300.0/40.0)
}
