package driver

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"":          KindLive,
		"PCAP":      KindLive,
		"file":      KindOffline,
		"stream":    KindReader,
		"af_packet": KindAFPacket,
		"raw":       KindRawSocket,
		"memory":    KindLoopback,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("token-ring")
	assert.ErrorIs(t, err, ErrUnknownKind)

	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("offline")))
	assert.True(t, k.Finite())
	assert.False(t, KindLoopback.Finite())
}

func TestOpenUnregisteredKind(t *testing.T) {
	_, err := Open(Options{Kind: Kind("nope")})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.False(t, IsSupported(Kind("nope")))
}

func TestOpenAppliesDefaults(t *testing.T) {
	var seen Options
	Register(Kind("defaults-probe"), func(opts Options) (Driver, error) {
		seen = opts
		return nil, nil
	})
	_, err := Open(Options{Kind: Kind("defaults-probe")})
	require.NoError(t, err)
	assert.Equal(t, DefaultSnapLen, seen.SnapLen)
	assert.Equal(t, DefaultReadTimeout, seen.ReadTimeout)
}

func TestSupportedKinds(t *testing.T) {
	kinds := SupportedKinds()
	assert.Contains(t, kinds, KindReader)
	assert.Contains(t, kinds, KindLoopback)
	assert.Contains(t, kinds, KindOffline)
	assert.True(t, sort.SliceIsSorted(kinds, func(i, j int) bool { return kinds[i] < kinds[j] }))
}

func TestDevicesSnapshot(t *testing.T) {
	first, err := Devices()
	if err != nil {
		t.Skipf("device enumeration unavailable: %v", err)
	}
	second, err := Devices()
	require.NoError(t, err)
	assert.Equal(t, len(first), len(second))
	if len(first) > 0 {
		first[0].Name = "mutated"
		assert.NotEqual(t, "mutated", second[0].Name, "each call returns a fresh list")
	}
}
