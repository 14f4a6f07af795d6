package capture

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/framecap/internal/config"
	"firestige.xyz/framecap/internal/filter"
	"firestige.xyz/framecap/pkg/models"
)

func TestOpenReaderCachesLinkType(t *testing.T) {
	h := openFixture(t)

	assert.True(t, h.IsOpen())
	assert.Equal(t, layers.LinkTypeEthernet, h.LinkType())
	assert.Equal(t, KindReader, h.Kind())
	assert.Equal(t, 65535, h.SnapLen())
	assert.Equal(t, "idle", h.LoopState())
}

func TestOpenUnknownKind(t *testing.T) {
	_, err := Open(Options{Source: "x", Kind: SourceKind("carrier-pigeon")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDriverOpen)

	var openErr *DriverOpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, "x", openErr.Source)
}

func TestOpenReaderWithoutReader(t *testing.T) {
	_, err := Open(Options{Kind: KindReader})
	assert.ErrorIs(t, err, ErrDriverOpen)
}

func TestOpenOfflineFile(t *testing.T) {
	h, err := OpenOffline(fixtureFile(t, 3))
	require.NoError(t, err)
	defer h.Dispose()

	for i := 0; i < 3; i++ {
		f, err := h.GetNextFrame()
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, i, srcPort(t, f))
	}
	_, err = h.GetNextFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestGetNextFrameDecodesHeader(t *testing.T) {
	h := openFixture(t)

	f, err := h.GetNextFrame()
	require.NoError(t, err)
	require.NotNil(t, f)

	assert.Equal(t, layers.LinkTypeEthernet, f.LinkType)
	assert.Equal(t, fixtureStart.Unix(), f.Timestamp.Seconds)
	assert.Equal(t, uint32(0), f.Timestamp.Fraction)
	assert.Equal(t, int(f.CaptureLength), len(f.Data))
	assert.Equal(t, f.CaptureLength, f.OriginalLength)
	assert.NotNil(t, f.Packet().Layer(layers.LayerTypeIPv6))

	f, err = h.GetNextFrame()
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), f.Timestamp.Fraction, "second frame is 1ms later")
}

func TestCloseIsIdempotent(t *testing.T) {
	h, err := OpenReader(bytes.NewReader(fixturePcap(t, 1)), false)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.False(t, h.IsOpen())
}

func TestOperationsAfterClose(t *testing.T) {
	h := openLoopback(t, t.Name())
	h.OnArrival(func(*Handle, *models.CapturedFrame) {})
	require.NoError(t, h.Close())

	_, err := h.GetNextFrame()
	assert.ErrorIs(t, err, ErrNotOpen)

	assert.ErrorIs(t, h.SetFilter("tcp"), ErrNotOpen)

	_, err = h.Statistics()
	assert.ErrorIs(t, err, ErrNotOpen)

	assert.ErrorIs(t, h.Send([]byte{1, 2, 3}), ErrNotOpen)
	assert.ErrorIs(t, h.StartCapture(), ErrNotOpen)

	var notOpen *NotOpenError
	require.True(t, errors.As(h.SetFilter("tcp"), &notOpen))
	assert.Equal(t, "set filter", notOpen.Op)
}

func TestDisposeClosesOwnedReader(t *testing.T) {
	rc := &closeRecorder{Reader: bytes.NewReader(fixturePcap(t, 1))}
	h, err := OpenReader(rc, true)
	require.NoError(t, err)

	require.NoError(t, h.Dispose())
	require.NoError(t, h.Dispose())
	assert.Equal(t, 1, rc.closed)
	assert.False(t, h.IsOpen())
}

func TestDisposeLeavesBorrowedReader(t *testing.T) {
	rc := &closeRecorder{Reader: bytes.NewReader(fixturePcap(t, 1))}
	h, err := OpenReader(rc, false)
	require.NoError(t, err)

	require.NoError(t, h.Dispose())
	assert.Equal(t, 0, rc.closed)
}

func TestStatisticsUnsupportedOnReader(t *testing.T) {
	h := openFixture(t)

	_, err := h.Statistics()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupported)

	var unsupported *UnsupportedError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, KindReader, unsupported.Kind)
}

func TestStatisticsOnLoopback(t *testing.T) {
	seg := t.Name()
	rx := openLoopback(t, seg)
	tx := openLoopback(t, seg)

	for i := 0; i < 3; i++ {
		require.NoError(t, tx.Send(httpFrame(t, i, "stats")))
	}
	st, err := rx.Statistics()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), st.Received)
	assert.Equal(t, uint32(0), st.Dropped)
}

func TestSendUnsupportedOnReader(t *testing.T) {
	h := openFixture(t)
	assert.ErrorIs(t, h.Send([]byte{0}), ErrUnsupported)
}

func TestSetFilterRecordsExpression(t *testing.T) {
	h := openLoopback(t, t.Name())

	require.NoError(t, h.SetFilter("ip6"))
	assert.Equal(t, "ip6", h.Filter())
}

func TestSetFilterReleasesProgram(t *testing.T) {
	h := openLoopback(t, t.Name())
	before := filter.Outstanding()

	for i := 0; i < 200; i++ {
		require.NoError(t, h.SetFilter("ip6"))
		require.ErrorIs(t, h.SetFilter("tcp port 80 and and ("), ErrFilterCompile)
	}
	assert.Equal(t, before, filter.Outstanding())
	assert.Equal(t, "ip6", h.Filter(), "a failed compile keeps the installed filter")
}

func TestSetFilterReleasesProgramWhenInstallFails(t *testing.T) {
	m := &mockDriver{}
	h := openMock(t, m)
	m.On("SetBPF", mock.Anything).Return(errors.New("filter rejected by kernel"))
	before := filter.Outstanding()

	for i := 0; i < 10; i++ {
		err := h.SetFilter("ip6")
		require.ErrorIs(t, err, ErrFilterCompile)
	}
	assert.Equal(t, before, filter.Outstanding())
	assert.Empty(t, h.Filter())
	m.AssertNumberOfCalls(t, "SetBPF", 10)
}

func TestSetFilterAppliesToDelivery(t *testing.T) {
	seg := t.Name()
	rx := openLoopback(t, seg)
	tx := openLoopback(t, seg)
	require.NoError(t, rx.SetFilter("ip6"))

	require.NoError(t, tx.Send(httpFrame(t, 1, "kept")))
	require.NoError(t, tx.Send([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0, 0, 1, 0x08, 0x06}))

	f, err := rx.GetNextFrame()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, 1, srcPort(t, f))

	f, err = rx.GetNextFrame()
	require.NoError(t, err)
	assert.Nil(t, f, "the ARP frame is filtered out and the read times out")
}

func TestOpenWithFilterOption(t *testing.T) {
	h, err := Open(Options{Source: t.Name(), Kind: KindLoopback, Filter: "ip6"})
	require.NoError(t, err)
	defer h.Dispose()
	assert.Equal(t, "ip6", h.Filter())
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.Source = t.Name()
	cfg.Capture.Kind = KindLoopback
	cfg.Capture.Driver = map[string]interface{}{"backlog": 8}

	h, err := FromConfig(cfg.Capture)
	require.NoError(t, err)
	defer h.Dispose()

	assert.Equal(t, KindLoopback, h.Kind())
	assert.Equal(t, cfg.Capture.SnapLen, h.SnapLen())
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}
	o.applyDefaults()

	assert.Equal(t, 65535, o.SnapLen)
	assert.Equal(t, DefaultJoinTimeout, o.JoinTimeout)
	assert.Greater(t, o.JoinTimeout, 2*o.ReadTimeout)
	assert.Equal(t, DefaultPollTimeout, o.PollTimeout)
	assert.Positive(t, o.DispatchBatch)
}

func TestOptionsJoinTimeoutFollowsReadTimeout(t *testing.T) {
	o := Options{ReadTimeout: 3 * DefaultJoinTimeout}
	o.applyDefaults()
	assert.Greater(t, o.JoinTimeout, 2*o.ReadTimeout)
}

type closeRecorder struct {
	io.Reader
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}
