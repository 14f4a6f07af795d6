package driver

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"golang.org/x/net/bpf"

	"firestige.xyz/framecap/internal/filter"
	"firestige.xyz/framecap/pkg/models"
)

func init() {
	Register(KindReader, openReader)
}

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// readerDriver reads pcap or pcapng records from a stream with pcapgo and
// filters them in process.
type readerDriver struct {
	dispatcher
	src    packetSource
	closer io.Closer
}

var _ Driver = (*readerDriver)(nil)

func openReader(opts Options) (Driver, error) {
	if opts.Reader == nil {
		return nil, fmt.Errorf("reader source %q: no io.Reader given", opts.Source)
	}
	return newReaderDriver(opts.Reader, nil)
}

// newReaderDriver detects the file format from the magic number. closer, if
// not nil, is closed with the driver.
func newReaderDriver(r io.Reader, closer io.Closer) (*readerDriver, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read file header: %w", err)
	}

	var src packetSource
	if bytes.Equal(magic, pcapngMagic) {
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, err
	}

	d := &readerDriver{src: src, closer: closer}
	d.read = src.ReadPacketData
	return d, nil
}

func (d *readerDriver) LinkType() layers.LinkType {
	return d.src.LinkType()
}

func (d *readerDriver) SetBPF(insns []bpf.RawInstruction) error {
	m, err := filter.NewMatcher(insns)
	if err != nil {
		return err
	}
	d.setMatcher(m)
	return nil
}

func (d *readerDriver) Send([]byte) error {
	return ErrUnsupported
}

func (d *readerDriver) Stats() (models.Statistics, error) {
	return models.Statistics{}, ErrUnsupported
}

func (d *readerDriver) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
