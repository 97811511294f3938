package pcap

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/vitalguard/pkg/features"
	vgio "github.com/hed1ad/vitalguard/pkg/io"
	vgcsv "github.com/hed1ad/vitalguard/pkg/io/csv"
)

var _ vgio.Reader = (*Reader)(nil)

var captureStart = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

func udpPacket(t *testing.T, dstPort uint16, payload string) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{10, 0, 0, 7},
		DstIP:    net.IP{10, 0, 0, 1},
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func tcpPacket(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: net.IP{10, 0, 0, 7}, DstIP: net.IP{10, 0, 0, 1}}
	tcp := &layers.TCP{SrcPort: 40001, DstPort: 5140, SYN: true}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(",72,98,low,w-1")))
	return buf.Bytes()
}

func capture(t *testing.T, packets ...[]byte) []byte {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, data := range packets {
		ci := gopacket.CaptureInfo{
			Timestamp:     captureStart.Add(time.Duration(i) * time.Second),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return out.Bytes()
}

func TestRead(t *testing.T) {
	data := capture(t,
		udpPacket(t, 5140, ",72,98,low,w-1\n"),
		udpPacket(t, 5140, "2024-02-01T11:00:00Z,150,85,high,w-2\n,68,,moderate,w-1"),
		tcpPacket(t),
		udpPacket(t, 5140, ",not-a-number,97,low,w-1"),
	)

	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer r.Close()

	frame, err := r.Read()
	require.NoError(t, err)
	require.Equal(t, 3, frame.Len())
	assert.Equal(t, 1, r.extractor.Skipped())

	assert.Equal(t, []float64{72, 150, 68}, frame.HeartRate)
	assert.Equal(t, captureStart, frame.Timestamp[0])
	assert.Equal(t, time.Date(2024, 2, 1, 11, 0, 0, 0, time.UTC), frame.Timestamp[1])
	assert.Equal(t, captureStart.Add(time.Second), frame.Timestamp[2])
	assert.Equal(t, []string{"w-1", "w-2", "w-1"}, frame.DeviceID)

	matrix, err := features.Prepare(frame)
	require.NoError(t, err)
	assert.InDelta(t, (98.0+85.0)/2, matrix[2][features.BloodOxygen], 1e-9)
}

func TestPortFilter(t *testing.T) {
	data := capture(t,
		udpPacket(t, 5140, ",72,98,low,w-1"),
		udpPacket(t, 53, ",90,95,low,w-3"),
	)

	r, err := NewReader(bytes.NewReader(data), WithPort(5140))
	require.NoError(t, err)

	frame, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, []float64{72}, frame.HeartRate)
}

func TestCustomDecoder(t *testing.T) {
	schema, err := vgcsv.NewSchema([]string{"device_id", "blood_oxygen", "heart_rate"})
	require.NoError(t, err)

	data := capture(t, udpPacket(t, 5140, "w-5,99,61"))
	r, err := NewReader(bytes.NewReader(data), WithDecoder(schema))
	require.NoError(t, err)

	frame, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, []float64{61}, frame.HeartRate)
	assert.Equal(t, []float64{99}, frame.BloodOxygen)
	assert.False(t, frame.Has(features.ColActivity))
	assert.Equal(t, []time.Time{captureStart}, frame.Timestamp)
}

func TestFileAndStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.pcap")
	require.NoError(t, os.WriteFile(path, capture(t,
		udpPacket(t, 5140, ",72,98,low,w-1"),
		udpPacket(t, 5140, ",74,97,low,w-1"),
	), 0o600))

	r, err := NewFileReader(path)
	require.NoError(t, err)
	defer r.Close()

	ch, err := r.Stream(context.Background())
	require.NoError(t, err)
	var got []features.Reading
	for reading := range ch {
		got = append(got, reading)
	}
	require.Len(t, got, 2)
	assert.Equal(t, 74.0, got[1].HeartRate)
}

func TestNewReaderInvalid(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("not a capture file at all")))
	assert.Error(t, err)

	_, err = NewReader(bytes.NewReader(nil))
	assert.Error(t, err)
}
