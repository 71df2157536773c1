package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/fleetfuel/fleetfuel360/internal/models"
)

func rec(vehicle string, ts time.Time, km, fuel float64) models.FuelRecord {
	return models.FuelRecord{
		VehicleID:  vehicle,
		Timestamp:  ts,
		DistanceKM: km,
		FuelUsedL:  fuel,
	}
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestSchemaWidth(t *testing.T) {
	if len(Schema()) != 16 {
		t.Fatalf("schema has %d features, want 16", len(Schema()))
	}
	if !SchemaEqual(Schema(), NewEngineer(0).Schema()) {
		t.Error("engineer schema differs from package schema")
	}
}

func TestComputeBasicFeatures(t *testing.T) {
	ts := time.Date(2026, 3, 7, 14, 0, 0, 0, time.UTC) // a Saturday
	e := NewEngineer(3)

	vectors, err := e.Compute([]models.FuelRecord{rec("TRUCK001", ts, 150, 20)})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	v := vectors[0].Values

	approx(t, "efficiency", v[FeatEfficiency], 7.5)
	approx(t, "fuel_used", v[FeatFuelUsed], 20)
	approx(t, "distance", v[FeatDistance], 150)
	approx(t, "fuel_per_km", v[FeatFuelPerKM], 20.0/150.0)
	approx(t, "hour", v[FeatHour], 14)
	approx(t, "day_of_week", v[FeatDayOfWeek], 6)
	approx(t, "is_weekend", v[FeatIsWeekend], 1)
}

func TestColdWindowShrinksToHistory(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	e := NewEngineer(5)

	records := []models.FuelRecord{
		rec("V1", base, 100, 10),                    // eff 10
		rec("V1", base.Add(time.Hour), 120, 10),     // eff 12
		rec("V1", base.Add(2*time.Hour), 140, 10),   // eff 14
	}
	vectors, err := e.Compute(records)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	// First record: window is just itself.
	approx(t, "first roll mean", vectors[0].Values[FeatRollEffMean], 10)
	approx(t, "first roll std", vectors[0].Values[FeatRollEffStd], 0)
	approx(t, "first zscore", vectors[0].Values[FeatEffZScore], 0)

	// Second record: window {10, 12}.
	approx(t, "second roll mean", vectors[1].Values[FeatRollEffMean], 11)

	// Third record: window {10, 12, 14}, population stddev.
	approx(t, "third roll mean", vectors[2].Values[FeatRollEffMean], 12)
	wantStd := math.Sqrt((4.0 + 0 + 4.0) / 3.0)
	approx(t, "third roll std", vectors[2].Values[FeatRollEffStd], wantStd)
	approx(t, "third zscore", vectors[2].Values[FeatEffZScore], (14-12)/wantStd)
}

func TestWindowEvictsOldest(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	e := NewEngineer(2)

	records := []models.FuelRecord{
		rec("V1", base, 100, 10),                  // eff 10
		rec("V1", base.Add(time.Hour), 200, 10),   // eff 20
		rec("V1", base.Add(2*time.Hour), 300, 10), // eff 30
	}
	vectors, err := e.Compute(records)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// Third record's window is {20, 30}; the eff-10 record has been evicted.
	approx(t, "evicted mean", vectors[2].Values[FeatRollEffMean], 25)
}

func TestDegenerateRecordDoesNotPerturbNeighbours(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	e := NewEngineer(5)

	clean := []models.FuelRecord{
		rec("V1", base, 100, 10),
		rec("V1", base.Add(2*time.Hour), 120, 10),
	}
	withZero := []models.FuelRecord{
		rec("V1", base, 100, 10),
		rec("V1", base.Add(time.Hour), 50, 0), // fuel_used == 0
		rec("V1", base.Add(2*time.Hour), 120, 10),
	}

	cleanVecs, err := e.Compute(clean)
	if err != nil {
		t.Fatalf("clean compute: %v", err)
	}
	zeroVecs, err := e.Compute(withZero)
	if err != nil {
		t.Fatalf("zero compute: %v", err)
	}

	if !zeroVecs[1].Degenerate {
		t.Error("zero-fuel record not marked degenerate")
	}
	if zeroVecs[0].Degenerate || zeroVecs[2].Degenerate {
		t.Error("normal records marked degenerate")
	}

	// The last record's rolling features must be identical whether or not
	// the degenerate record sat between them.
	last := zeroVecs[2].Values
	want := cleanVecs[1].Values
	for _, idx := range []int{FeatRollEffMean, FeatRollEffStd, FeatEffZScore, FeatRollFuelMean, FeatRollDistMean, FeatFuelRateChange, FeatDistRateChange, FeatTrendSlope} {
		approx(t, Schema()[idx], last[idx], want[idx])
	}

	// The degenerate record itself: sentinel efficiency, no z-score, no
	// rate change, no fleet deviation.
	dv := zeroVecs[1].Values
	approx(t, "degenerate efficiency", dv[FeatEfficiency], models.EfficiencyUndefined)
	approx(t, "degenerate zscore", dv[FeatEffZScore], 0)
	approx(t, "degenerate fuel rate", dv[FeatFuelRateChange], 0)
	approx(t, "degenerate fleet dev", dv[FeatFleetDeviation], 0)
}

func TestUnsortedBatchFails(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	e := NewEngineer(5)

	records := []models.FuelRecord{
		rec("V1", base.Add(time.Hour), 100, 10),
		rec("V1", base, 100, 10),
	}
	_, err := e.Compute(records)
	var orderErr *models.DataOrderError
	if !errors.As(err, &orderErr) {
		t.Fatalf("expected DataOrderError, got %v", err)
	}
	if orderErr.VehicleID != "V1" || orderErr.Index != 1 {
		t.Errorf("error reports vehicle=%q index=%d", orderErr.VehicleID, orderErr.Index)
	}
	if !orderErr.Prev.Equal(base.Add(time.Hour)) || !orderErr.Curr.Equal(base) {
		t.Errorf("error cites prev=%v curr=%v, want the adjacent batch records",
			orderErr.Prev, orderErr.Curr)
	}
}

func TestInterleavedVehiclesStaySorted(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	e := NewEngineer(5)

	// Two vehicles interleaved in one globally-sorted batch is fine.
	records := []models.FuelRecord{
		rec("V1", base, 100, 10),
		rec("V2", base.Add(30*time.Minute), 100, 10),
		rec("V1", base.Add(time.Hour), 100, 10),
		rec("V2", base.Add(90*time.Minute), 100, 10),
	}
	vectors, err := e.Compute(records)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if len(vectors) != len(records) {
		t.Fatalf("expected %d vectors, got %d", len(records), len(vectors))
	}
}

func TestFleetDeviationUsesNoLookahead(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	e := NewEngineer(5)

	records := []models.FuelRecord{
		rec("A", base, 100, 10),                  // eff 10; fleet index empty before it
		rec("B", base.Add(time.Hour), 100, 5),    // eff 20; fleet so far = 100/10 = 10
		rec("A", base.Add(2*time.Hour), 100, 10), // fleet so far = 200/15
	}
	vectors, err := e.Compute(records)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	// First record in the whole batch has no fleet baseline yet.
	approx(t, "first fleet dev", vectors[0].Values[FeatFleetDeviation], 0)
	// Second sees only the first: 20 - 10.
	approx(t, "second fleet dev", vectors[1].Values[FeatFleetDeviation], 10)
	// Third sees both prior records via ratio of sums: 10 - 200/15.
	approx(t, "third fleet dev", vectors[2].Values[FeatFleetDeviation], 10-200.0/15.0)
}

func TestRateOfChangeSkipsDegenerateBaseline(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	e := NewEngineer(5)

	records := []models.FuelRecord{
		rec("V1", base, 100, 10),
		rec("V1", base.Add(time.Hour), 80, 0), // degenerate
		rec("V1", base.Add(2*time.Hour), 100, 15),
	}
	vectors, err := e.Compute(records)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// Baseline for the third record is the first record, not the
	// degenerate one: (15-10)/10.
	approx(t, "fuel rate change", vectors[2].Values[FeatFuelRateChange], 0.5)
	approx(t, "dist rate change", vectors[2].Values[FeatDistRateChange], 0)
}

func TestFilterTrainableDropsDegenerate(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	e := NewEngineer(5)

	records := []models.FuelRecord{
		rec("V1", base, 100, 10),
		rec("V1", base.Add(time.Hour), 80, 0),
		rec("V1", base.Add(2*time.Hour), 100, 15),
	}
	vectors, err := e.Compute(records)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	trainable := FilterTrainable(vectors)
	if len(trainable) != 2 {
		t.Fatalf("trainable rows = %d, want 2", len(trainable))
	}
	matrix := Matrix(trainable)
	if len(matrix) != 2 || len(matrix[0]) != 16 {
		t.Fatalf("matrix shape %dx%d, want 2x16", len(matrix), len(matrix[0]))
	}
}

func TestRollingWindowSlope(t *testing.T) {
	w := newRollingWindow(5)
	for _, v := range []float64{1, 2, 3, 4} {
		w.push(v)
	}
	approx(t, "slope", w.slope(), 1)

	flat := newRollingWindow(5)
	flat.push(3)
	flat.push(3)
	approx(t, "flat slope", flat.slope(), 0)

	single := newRollingWindow(5)
	single.push(9)
	approx(t, "single slope", single.slope(), 0)
}
