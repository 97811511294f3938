package csv

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hed1ad/vitalguard/pkg/detectors"
	"github.com/hed1ad/vitalguard/pkg/features"
)

// ColLabel is the optional ground-truth column: 1 normal, 0 anomaly.
const ColLabel = "label"

// DefaultColumns is the column order assumed for headerless input.
var DefaultColumns = []string{
	features.ColTimestamp,
	features.ColHeartRate,
	features.ColBloodOxygen,
	features.ColActivity,
	features.ColDeviceID,
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Schema maps header names to record positions. It implements io.Decoder.
type Schema struct {
	columns []string
	index   map[string]int
}

// NewSchema builds a schema from a header row. Names are matched case
// insensitively; unknown columns are ignored.
func NewSchema(header []string) (*Schema, error) {
	s := &Schema{index: make(map[string]int)}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch name {
		case features.ColTimestamp, features.ColHeartRate, features.ColBloodOxygen,
			features.ColActivity, features.ColDeviceID, ColLabel:
		default:
			continue
		}
		if _, dup := s.index[name]; dup {
			return nil, errors.Errorf("duplicate column %q", name)
		}
		s.index[name] = i
		if name != ColLabel {
			s.columns = append(s.columns, name)
		}
	}
	return s, nil
}

// DefaultSchema is the schema of headerless input in DefaultColumns order.
func DefaultSchema() *Schema {
	s, _ := NewSchema(DefaultColumns)
	return s
}

// Columns returns the reading columns present in the header.
func (s *Schema) Columns() []string {
	return append([]string(nil), s.columns...)
}

// HasLabel reports whether the header carries a label column.
func (s *Schema) HasLabel() bool {
	_, ok := s.index[ColLabel]
	return ok
}

func (s *Schema) field(record []string, column string) (string, bool) {
	i, ok := s.index[column]
	if !ok || i >= len(record) {
		return "", false
	}
	v := strings.TrimSpace(record[i])
	return v, v != ""
}

// Decode parses one record.
func (s *Schema) Decode(record []string) (features.Reading, error) {
	r := features.Reading{HeartRate: math.NaN(), BloodOxygen: math.NaN()}

	var err error
	if v, ok := s.field(record, features.ColHeartRate); ok {
		if r.HeartRate, err = strconv.ParseFloat(v, 64); err != nil {
			return r, errors.Wrap(err, features.ColHeartRate)
		}
	}
	if v, ok := s.field(record, features.ColBloodOxygen); ok {
		if r.BloodOxygen, err = strconv.ParseFloat(v, 64); err != nil {
			return r, errors.Wrap(err, features.ColBloodOxygen)
		}
	}
	if v, ok := s.field(record, features.ColTimestamp); ok {
		if r.Timestamp, err = ParseTimestamp(v); err != nil {
			return r, err
		}
	}
	r.Activity, _ = s.field(record, features.ColActivity)
	r.DeviceID, _ = s.field(record, features.ColDeviceID)
	return r, nil
}

// Label parses the label field of a record.
func (s *Schema) Label(record []string) (int, error) {
	v, ok := s.field(record, ColLabel)
	if !ok {
		return 0, errors.New("missing label")
	}
	switch strings.ToLower(v) {
	case "1", "normal":
		return detectors.Normal, nil
	case "0", "anomaly":
		return detectors.Anomaly, nil
	}
	return 0, errors.Errorf("invalid label %q", v)
}

// ParseTimestamp accepts RFC 3339, common date-time layouts and Unix
// seconds. Times without a zone are UTC.
func ParseTimestamp(v string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts, nil
		}
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	}
	return time.Time{}, errors.Errorf("unrecognised timestamp %q", v)
}
