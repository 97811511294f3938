// Package persist stores trained detectors as self-describing artifacts.
//
// An artifact is a 4-byte magic, a format version byte and a
// snappy-compressed gob envelope holding the strategy tag and the
// detector's own serialized state. Loading picks the concrete strategy
// from the tag.
package persist

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hed1ad/vitalguard/pkg/detectors"
	_ "github.com/hed1ad/vitalguard/pkg/detectors/builtin"
)

var log = logrus.WithField("component", "persist")

const (
	magic   = "VGDM"
	version = byte(1)
)

type envelope struct {
	Kind    detectors.Kind
	Payload []byte
}

// Marshal encodes a trained detector into an artifact.
func Marshal(d detectors.Detector) ([]byte, error) {
	if !d.Trained() {
		return nil, detectors.NotTrained(d.Kind())
	}
	payload, err := d.Save()
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(envelope{Kind: d.Kind(), Payload: payload}); err != nil {
		return nil, errors.Wrap(err, "encode artifact envelope")
	}

	out := make([]byte, 0, len(magic)+1+snappy.MaxEncodedLen(body.Len()))
	out = append(out, magic...)
	out = append(out, version)
	return append(out, snappy.Encode(nil, body.Bytes())...), nil
}

// Unmarshal restores a detector from an artifact produced by Marshal.
func Unmarshal(data []byte) (detectors.Strategy, error) {
	env, err := open(data)
	if err != nil {
		return nil, err
	}
	d, err := detectors.New(string(env.Kind), nil)
	if err != nil {
		return nil, detectors.Corrupt("unknown strategy tag "+string(env.Kind), err)
	}
	if err := d.Load(env.Payload); err != nil {
		return nil, err
	}
	return d, nil
}

// UnmarshalInto restores an artifact into an existing detector. The
// artifact's tag must match the detector's kind.
func UnmarshalInto(d detectors.Detector, data []byte) error {
	env, err := open(data)
	if err != nil {
		return err
	}
	if env.Kind != d.Kind() {
		return detectors.Corrupt("artifact holds a "+string(env.Kind)+" detector, not "+string(d.Kind()), nil)
	}
	return d.Load(env.Payload)
}

func open(data []byte) (*envelope, error) {
	if len(data) < len(magic)+1 || string(data[:len(magic)]) != magic {
		return nil, detectors.Corrupt("not a detector artifact", nil)
	}
	if v := data[len(magic)]; v != version {
		return nil, detectors.Corrupt("unsupported artifact version "+strconv.Itoa(int(v)), nil)
	}
	body, err := snappy.Decode(nil, data[len(magic)+1:])
	if err != nil {
		return nil, detectors.Corrupt("decompress artifact", err)
	}
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&env); err != nil {
		return nil, detectors.Corrupt("decode artifact envelope", err)
	}
	return &env, nil
}

// Save writes a trained detector to w.
func Save(d detectors.Detector, w io.Writer) error {
	data, err := Marshal(d)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "write artifact")
	}
	return nil
}

// Load reads an artifact from r and restores the detector it holds.
func Load(r io.Reader) (detectors.Strategy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read artifact")
	}
	return Unmarshal(data)
}

// SaveFile writes a trained detector to path. The file is replaced
// atomically.
func SaveFile(d detectors.Detector, path string) error {
	data, err := Marshal(d)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "create artifact %s", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write artifact %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "write artifact %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "write artifact %s", path)
	}
	log.WithFields(logrus.Fields{"kind": d.Kind(), "path": path, "bytes": len(data)}).Info("detector saved")
	return nil
}

// LoadFile restores the detector stored at path.
func LoadFile(path string) (detectors.Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read artifact %s", path)
	}
	d, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"kind": d.Kind(), "path": path}).Info("detector loaded")
	return d, nil
}
