// Package csv reads tables of readings from CSV files.
package csv

import (
	"context"
	"encoding/csv"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hed1ad/vitalguard/pkg/features"
)

var log = logrus.WithField("component", "io.CSV")

// Reader reads readings from CSV input. Malformed rows are skipped.
type Reader struct {
	closer    io.Closer
	reader    *csv.Reader
	hasHeader bool
	schema    *Schema
	labels    []int
	skipped   int
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row. Without one, records are
// read in DefaultColumns order.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithComma sets the field delimiter.
func WithComma(comma rune) Option {
	return func(r *Reader) {
		r.reader.Comma = comma
	}
}

// NewReader opens filename for reading.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filename)
	}
	r, err := NewReaderFrom(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewReaderFrom reads CSV from src. Close does not close src.
func NewReaderFrom(src io.Reader, opts ...Option) (*Reader, error) {
	r := &Reader{
		reader:    csv.NewReader(src),
		hasHeader: true,
	}
	r.reader.FieldsPerRecord = -1

	for _, opt := range opts {
		opt(r)
	}

	if !r.hasHeader {
		r.schema = DefaultSchema()
		return r, nil
	}
	headers, err := r.reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	if r.schema, err = NewSchema(headers); err != nil {
		return nil, err
	}
	return r, nil
}

// Schema returns the column layout in use.
func (r *Reader) Schema() *Schema {
	return r.schema
}

// Read returns every remaining row. Only columns named in the header are
// present in the frame.
func (r *Reader) Read() (*features.Frame, error) {
	frame := features.NewFrame(r.schema.Columns()...)
	labeled := r.schema.HasLabel()
	if labeled {
		r.labels = r.labels[:0]
	}

	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read csv")
		}

		reading, err := r.schema.Decode(record)
		if err != nil {
			r.skip(record, err)
			continue
		}
		if labeled {
			label, err := r.schema.Label(record)
			if err != nil {
				r.skip(record, err)
				continue
			}
			r.labels = append(r.labels, label)
		}
		frame.Append(reading)
	}

	if r.skipped > 0 {
		log.WithField("skipped", r.skipped).Warn("skipped malformed rows")
	}
	return frame, nil
}

// Labels returns the ground truth read by Read, or nil when the input has
// no label column.
func (r *Reader) Labels() []int {
	if !r.schema.HasLabel() {
		return nil
	}
	return r.labels
}

// Skipped returns how many malformed rows were dropped.
func (r *Reader) Skipped() int {
	return r.skipped
}

func (r *Reader) skip(record []string, err error) {
	r.skipped++
	log.WithError(err).WithField("record", record).Debug("skipping row")
}

// Stream returns a channel of readings for one-by-one processing.
func (r *Reader) Stream(ctx context.Context) (<-chan features.Reading, error) {
	out := make(chan features.Reading, 100)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				record, err := r.reader.Read()
				if err == io.EOF {
					return
				}
				if err != nil {
					continue
				}

				reading, err := r.schema.Decode(record)
				if err != nil {
					r.skip(record, err)
					continue
				}

				select {
				case out <- reading:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
