// Package features turns tables of physiological readings into the fixed
// numeric feature matrix consumed by every detector.
package features

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Column names of a readings table.
const (
	ColTimestamp   = "timestamp"
	ColHeartRate   = "heart_rate"
	ColBloodOxygen = "blood_oxygen"
	ColActivity    = "activity_level"
	ColDeviceID    = "device_id"
)

// Activity levels recognised in the activity_level column.
const (
	ActivityLow      = "low"
	ActivityModerate = "moderate"
	ActivityHigh     = "high"
)

// Reading is one physiological sample. Missing vitals are NaN, a missing
// timestamp is the zero time and a missing activity level is "".
type Reading struct {
	Timestamp   time.Time
	HeartRate   float64
	BloodOxygen float64
	Activity    string
	DeviceID    string
}

// Frame is a columnar table of readings. A nil column is absent from the
// table; present columns must all have the same length.
type Frame struct {
	Timestamp   []time.Time
	HeartRate   []float64
	BloodOxygen []float64
	Activity    []string
	DeviceID    []string
}

// FromReadings builds a frame holding every vital column. The timestamp,
// activity and device columns are only present when at least one reading
// carries a value for them.
func FromReadings(readings []Reading) *Frame {
	f := &Frame{
		HeartRate:   make([]float64, len(readings)),
		BloodOxygen: make([]float64, len(readings)),
	}
	var hasTime, hasActivity, hasDevice bool
	for _, r := range readings {
		hasTime = hasTime || !r.Timestamp.IsZero()
		hasActivity = hasActivity || r.Activity != ""
		hasDevice = hasDevice || r.DeviceID != ""
	}
	if hasTime {
		f.Timestamp = make([]time.Time, len(readings))
	}
	if hasActivity {
		f.Activity = make([]string, len(readings))
	}
	if hasDevice {
		f.DeviceID = make([]string, len(readings))
	}

	for i, r := range readings {
		f.HeartRate[i] = r.HeartRate
		f.BloodOxygen[i] = r.BloodOxygen
		if hasTime {
			f.Timestamp[i] = r.Timestamp
		}
		if hasActivity {
			f.Activity[i] = r.Activity
		}
		if hasDevice {
			f.DeviceID[i] = r.DeviceID
		}
	}
	return f
}

// NewFrame returns an empty frame holding the named columns. Unknown names
// are ignored.
func NewFrame(columns ...string) *Frame {
	f := &Frame{}
	for _, c := range columns {
		switch c {
		case ColTimestamp:
			f.Timestamp = []time.Time{}
		case ColHeartRate:
			f.HeartRate = []float64{}
		case ColBloodOxygen:
			f.BloodOxygen = []float64{}
		case ColActivity:
			f.Activity = []string{}
		case ColDeviceID:
			f.DeviceID = []string{}
		}
	}
	return f
}

// Append adds r as a new row. Fields of r whose column is absent from the
// frame are dropped.
func (f *Frame) Append(r Reading) {
	if f.Timestamp != nil {
		f.Timestamp = append(f.Timestamp, r.Timestamp)
	}
	if f.HeartRate != nil {
		f.HeartRate = append(f.HeartRate, r.HeartRate)
	}
	if f.BloodOxygen != nil {
		f.BloodOxygen = append(f.BloodOxygen, r.BloodOxygen)
	}
	if f.Activity != nil {
		f.Activity = append(f.Activity, r.Activity)
	}
	if f.DeviceID != nil {
		f.DeviceID = append(f.DeviceID, r.DeviceID)
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	switch {
	case f.HeartRate != nil:
		return len(f.HeartRate)
	case f.BloodOxygen != nil:
		return len(f.BloodOxygen)
	case f.Timestamp != nil:
		return len(f.Timestamp)
	case f.Activity != nil:
		return len(f.Activity)
	}
	return len(f.DeviceID)
}

// Has reports whether the named column is present.
func (f *Frame) Has(column string) bool {
	if f == nil {
		return false
	}
	switch column {
	case ColTimestamp:
		return f.Timestamp != nil
	case ColHeartRate:
		return f.HeartRate != nil
	case ColBloodOxygen:
		return f.BloodOxygen != nil
	case ColActivity:
		return f.Activity != nil
	case ColDeviceID:
		return f.DeviceID != nil
	}
	return false
}

// Row returns the i-th row as a Reading. Absent columns yield missing values.
func (f *Frame) Row(i int) Reading {
	r := Reading{HeartRate: math.NaN(), BloodOxygen: math.NaN()}
	if f.HeartRate != nil {
		r.HeartRate = f.HeartRate[i]
	}
	if f.BloodOxygen != nil {
		r.BloodOxygen = f.BloodOxygen[i]
	}
	if f.Timestamp != nil {
		r.Timestamp = f.Timestamp[i]
	}
	if f.Activity != nil {
		r.Activity = f.Activity[i]
	}
	if f.DeviceID != nil {
		r.DeviceID = f.DeviceID[i]
	}
	return r
}

// Validate checks that the required vital columns are present and that all
// present columns agree on length.
func (f *Frame) Validate() error {
	if f == nil {
		return &Error{Reason: "nil table"}
	}
	var missing []string
	if f.HeartRate == nil {
		missing = append(missing, ColHeartRate)
	}
	if f.BloodOxygen == nil {
		missing = append(missing, ColBloodOxygen)
	}
	if len(missing) > 0 {
		return &Error{Column: strings.Join(missing, ","), Reason: "required column absent"}
	}

	n := len(f.HeartRate)
	lengths := map[string]int{
		ColBloodOxygen: len(f.BloodOxygen),
	}
	if f.Timestamp != nil {
		lengths[ColTimestamp] = len(f.Timestamp)
	}
	if f.Activity != nil {
		lengths[ColActivity] = len(f.Activity)
	}
	if f.DeviceID != nil {
		lengths[ColDeviceID] = len(f.DeviceID)
	}
	for col, l := range lengths {
		if l != n {
			return &Error{Column: col, Reason: fmt.Sprintf("has %d rows, heart_rate has %d", l, n)}
		}
	}
	return nil
}

// Error reports a table that cannot be turned into features.
type Error struct {
	Column string
	Reason string
}

func (e *Error) Error() string {
	if e.Column == "" {
		return "feature error: " + e.Reason
	}
	return fmt.Sprintf("feature error: %s: %s", e.Column, e.Reason)
}
