// Package jsonl writes detection results as JSON lines.
package jsonl

import (
	"bufio"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	vgio "github.com/hed1ad/vitalguard/pkg/io"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Writer writes one JSON object per line.
type Writer struct {
	buf    *bufio.Writer
	stream *jsoniter.Stream
	closer io.Closer
}

// NewWriter writes to w. Close flushes but does not close w.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	return &Writer{
		buf:    buf,
		stream: jsoniter.NewStream(json, buf, 4096),
	}
}

// Create truncates or creates path and writes to it.
func Create(path string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	w := NewWriter(file)
	w.closer = file
	return w, nil
}

// Write outputs a single result.
func (w *Writer) Write(result vgio.Result) error {
	w.stream.WriteVal(result)
	w.stream.WriteRaw("\n")
	if w.stream.Error != nil {
		return errors.Wrap(w.stream.Error, "encode result")
	}
	return errors.Wrap(w.stream.Flush(), "write result")
}

// WriteAll outputs multiple results.
func (w *Writer) WriteAll(results []vgio.Result) error {
	for _, r := range results {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes buffered output and releases resources.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		return errors.Wrap(err, "flush results")
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
