package models

import (
	"fmt"
	"time"
)

// Error taxonomy for the analytics engine. All four are typed so callers
// can branch with errors.As and distinguish "not enough data yet" (soft,
// retry later) from schema or numeric defects (hard, need intervention).

// DataOrderError reports out-of-order input records. This is a caller bug:
// the engine never sorts on the caller's behalf.
type DataOrderError struct {
	VehicleID string
	Index     int
	Prev      time.Time
	Curr      time.Time
}

func (e *DataOrderError) Error() string {
	return fmt.Sprintf("records for vehicle %q out of order at index %d: %s precedes %s",
		e.VehicleID, e.Index, e.Curr.Format(time.RFC3339), e.Prev.Format(time.RFC3339))
}

// InsufficientDataError reports too few records to train. Recoverable:
// callers should retry once more data has accumulated.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient training data: have %d records, need at least %d", e.Have, e.Need)
}

// SchemaMismatchError reports feature/model schema drift. Requires an
// explicit retrain; the engine never pads or truncates feature vectors.
type SchemaMismatchError struct {
	Want []string
	Got  []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("feature schema mismatch: model expects %d features %v, got %d features %v",
		len(e.Want), e.Want, len(e.Got), e.Got)
}

// InvalidNumericResultError reports a NaN or infinity produced inside the
// engine. Treated as a defect and surfaced loudly with the stage and
// subject that produced it.
type InvalidNumericResultError struct {
	Stage     string // e.g. "feature_engineering", "scoring", "aggregation"
	VehicleID string
	Field     string
	Value     float64
}

func (e *InvalidNumericResultError) Error() string {
	return fmt.Sprintf("non-finite value %v for %s of vehicle %q during %s",
		e.Value, e.Field, e.VehicleID, e.Stage)
}
