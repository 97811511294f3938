// Package pcap reads readings from packet captures taken on the link
// between wearables and their gateway. Each UDP datagram carries one or
// more CSV reading lines.
package pcap

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hed1ad/vitalguard/pkg/features"
	vgio "github.com/hed1ad/vitalguard/pkg/io"
	vgcsv "github.com/hed1ad/vitalguard/pkg/io/csv"
)

var log = logrus.WithField("component", "io.PCAP")

var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Reader extracts readings from a pcap or pcapng capture.
type Reader struct {
	closer    io.Closer
	source    packetSource
	extractor *Extractor
}

// Option configures a Reader.
type Option func(*Extractor)

// WithPort keeps only datagrams sent from or to port.
func WithPort(port uint16) Option {
	return func(e *Extractor) { e.port = layers.UDPPort(port) }
}

// WithDecoder sets how payload records become readings. The default is
// the headerless CSV layout.
func WithDecoder(d vgio.Decoder) Option {
	return func(e *Extractor) { e.decoder = d }
}

// NewFileReader opens a capture file.
func NewFileReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filename)
	}
	r, err := NewReader(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewReader reads a capture from src, detecting pcap and pcapng.
func NewReader(src io.Reader, opts ...Option) (*Reader, error) {
	buffered := bufio.NewReader(src)
	head, err := buffered.Peek(4)
	if err != nil {
		return nil, errors.Wrap(err, "read capture header")
	}

	var source packetSource
	if bytes.Equal(head, ngMagic) {
		source, err = pcapgo.NewNgReader(buffered, pcapgo.DefaultNgReaderOptions)
	} else {
		source, err = pcapgo.NewReader(buffered)
	}
	if err != nil {
		return nil, errors.Wrap(err, "open capture")
	}

	return &Reader{
		source:    source,
		extractor: NewExtractor(opts...),
	}, nil
}

// Read returns the readings of every remaining packet.
func (r *Reader) Read() (*features.Frame, error) {
	if r.source == nil {
		return nil, errors.New("reader not initialized")
	}

	frame := features.NewFrame(append(r.extractor.decoder.Columns(), features.ColTimestamp)...)
	packetSource := gopacket.NewPacketSource(r.source, r.source.LinkType())

	for packet := range packetSource.Packets() {
		for _, reading := range r.extractor.Extract(packet) {
			frame.Append(reading)
		}
	}
	if skipped := r.extractor.Skipped(); skipped > 0 {
		log.WithField("skipped", skipped).Warn("skipped malformed payload records")
	}

	return frame, nil
}

// Stream returns a channel of readings for one-by-one processing.
func (r *Reader) Stream(ctx context.Context) (<-chan features.Reading, error) {
	if r.source == nil {
		return nil, errors.New("reader not initialized")
	}

	out := make(chan features.Reading, 1000)
	packetSource := gopacket.NewPacketSource(r.source, r.source.LinkType())

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-packetSource.Packets():
				if !ok {
					return
				}
				for _, reading := range r.extractor.Extract(packet) {
					select {
					case out <- reading:
					case <-ctx.Done():
						return
					}
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

// Extractor turns UDP datagrams into readings.
type Extractor struct {
	decoder vgio.Decoder
	port    layers.UDPPort
	skipped int
}

// NewExtractor creates an extractor decoding headerless CSV payloads.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{decoder: vgcsv.DefaultSchema()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the readings carried by packet. Non-UDP packets and
// datagrams on other ports yield nothing. Readings without a timestamp
// take the capture time.
func (e *Extractor) Extract(packet gopacket.Packet) []features.Reading {
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil
	}
	udp := udpLayer.(*layers.UDP)
	if e.port != 0 && udp.SrcPort != e.port && udp.DstPort != e.port {
		return nil
	}

	var captured time.Time
	if md := packet.Metadata(); md != nil {
		captured = md.Timestamp
	}

	cr := csv.NewReader(bytes.NewReader(udp.Payload))
	cr.FieldsPerRecord = -1
	var out []features.Reading
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			e.skipped++
			break
		}
		reading, err := e.decoder.Decode(record)
		if err != nil {
			e.skipped++
			log.WithError(err).Debug("skipping payload record")
			continue
		}
		if reading.Timestamp.IsZero() {
			reading.Timestamp = captured.UTC()
		}
		out = append(out, reading)
	}
	return out
}

// Skipped returns how many payload records could not be decoded.
func (e *Extractor) Skipped() int {
	return e.skipped
}
