package capture

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/require"
)

const fixtureFrames = 10

var fixtureStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// httpFrame builds an Ethernet/IPv6/TCP frame carrying an HTTP request.
// The TCP source port encodes seq so tests can check ordering.
func httpFrame(t testing.TB, seq int, marker string) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolTCP,
		HopLimit:   64,
		SrcIP:      net.ParseIP("2001:db8::1"),
		DstIP:      net.ParseIP("2001:db8::2"),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(40000 + seq),
		DstPort: 80,
		Seq:     uint32(1000 + seq),
		Ack:     1,
		PSH:     true,
		ACK:     true,
		Window:  65535,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip6))
	body := fmt.Sprintf("GET /%s/%d HTTP/1.1\r\nHost: example.com\r\n\r\n", marker, seq)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip6, tcp, gopacket.Payload(body)))
	return append([]byte(nil), buf.Bytes()...)
}

// arpFrame is a broadcast ARP request.
func arpFrame(t testing.TB) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   eth.SrcMAC,
		SourceProtAddress: net.IPv4(192, 0, 2, 1).To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    net.IPv4(192, 0, 2, 2).To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp))
	return append([]byte(nil), buf.Bytes()...)
}

// fixturePcap renders n HTTP frames 1ms apart as a pcap file image.
func fixturePcap(t testing.TB, n int) []byte {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for i := 0; i < n; i++ {
		data := httpFrame(t, i, "fixture")
		ci := gopacket.CaptureInfo{
			Timestamp:     fixtureStart.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return out.Bytes()
}

func fixtureFile(t testing.TB, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "http6.pcap")
	require.NoError(t, os.WriteFile(path, fixturePcap(t, n), 0644))
	return path
}

func openFixture(t testing.TB) *Handle {
	t.Helper()
	h, err := OpenReader(bytes.NewReader(fixturePcap(t, fixtureFrames)), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Dispose() })
	return h
}

// openLoopback opens a handle on an in-memory segment private to the test.
func openLoopback(t testing.TB, segment string) *Handle {
	t.Helper()
	h, err := Open(Options{
		Source:      segment,
		Kind:        KindLoopback,
		ReadTimeout: 20 * time.Millisecond,
		PollTimeout: 20 * time.Millisecond,
		JoinTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Dispose() })
	return h
}

func srcPort(t testing.TB, f interface{ Packet() gopacket.Packet }) int {
	t.Helper()
	tcp, ok := f.Packet().Layer(layers.LayerTypeTCP).(*layers.TCP)
	require.True(t, ok, "frame has no TCP layer")
	return int(tcp.SrcPort) - 40000
}
