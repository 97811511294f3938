package main

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/hed1ad/vitalguard/pkg/detectors"
	"github.com/hed1ad/vitalguard/pkg/features"
	vgio "github.com/hed1ad/vitalguard/pkg/io"
	"github.com/hed1ad/vitalguard/pkg/io/csv"
	"github.com/hed1ad/vitalguard/pkg/io/pcap"
	"github.com/hed1ad/vitalguard/pkg/persist"
)

// openReader picks a reader from the file extension: .pcap and .pcapng
// are captures, anything else is CSV.
func openReader(path string, port uint16) (vgio.Reader, error) {
	if path == "" {
		return nil, errors.New("an input file is required (--in)")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcap", ".pcapng":
		var opts []pcap.Option
		if port != 0 {
			opts = append(opts, pcap.WithPort(port))
		}
		return pcap.NewFileReader(path, opts...)
	}
	return csv.NewReader(path)
}

// readTable loads path and returns its readings and, for labeled CSV
// input, the ground truth.
func readTable(path string, port uint16) (*features.Frame, []int, error) {
	r, err := openReader(path, port)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	frame, err := r.Read()
	if err != nil {
		return nil, nil, err
	}
	var labels []int
	if lr, ok := r.(interface{ Labels() []int }); ok {
		labels = lr.Labels()
	}
	return frame, labels, nil
}

func loadModel(path string) (detectors.Strategy, error) {
	if path == "" {
		return nil, errors.New("a model file is required (--model)")
	}
	return persist.LoadFile(path)
}
