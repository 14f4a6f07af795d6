package capture

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"

	"firestige.xyz/framecap/internal/driver"
	"firestige.xyz/framecap/pkg/models"
)

// mockDriver is a scripted driver. SetBPF, Send, Stats and Dispatch go
// through the mock; the rest are fixed.
type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (m *mockDriver) SetBPF(insns []bpf.RawInstruction) error {
	return m.Called(insns).Error(0)
}

func (m *mockDriver) Dispatch(max int, fn driver.Handler) (int, error) {
	args := m.Called(max)
	return args.Int(0), args.Error(1)
}

func (m *mockDriver) Next() ([]byte, gopacket.CaptureInfo, error) {
	return nil, gopacket.CaptureInfo{}, driver.ErrTimeout
}

func (m *mockDriver) Send(data []byte) error {
	return m.Called(data).Error(0)
}

func (m *mockDriver) Stats() (models.Statistics, error) {
	args := m.Called()
	return args.Get(0).(models.Statistics), args.Error(1)
}

func (m *mockDriver) BreakLoop() {}

func (m *mockDriver) Close() error { return nil }

// openMock registers m under a kind private to the test and opens it.
func openMock(t *testing.T, m *mockDriver) *Handle {
	t.Helper()
	kind := SourceKind("mock-" + t.Name())
	driver.Register(kind, func(driver.Options) (driver.Driver, error) { return m, nil })
	h, err := Open(Options{Source: t.Name(), Kind: kind})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Dispose() })
	return h
}
