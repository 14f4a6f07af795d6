//go:build linux && cgo

package driver

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/net/bpf"

	"firestige.xyz/framecap/pkg/models"
)

func init() {
	Register(KindAFPacket, openAFPacket)
}

// AFPacketParams are the "driver" settings understood by the afpacket backend.
type AFPacketParams struct {
	BufferSizeMB int    `mapstructure:"buffer_size_mb"`
	FanoutID     uint16 `mapstructure:"fanout_id"`
	FanoutType   string `mapstructure:"fanout_type"`
}

// afPacketDriver reads a TPACKET_V3 ring. The ring's own poll timeout bounds
// each read.
type afPacketDriver struct {
	dispatcher
	tp *afpacket.TPacket
}

var _ Driver = (*afPacketDriver)(nil)

func openAFPacket(opts Options) (Driver, error) {
	params := AFPacketParams{BufferSizeMB: 8}
	if err := mapstructure.Decode(opts.Params, &params); err != nil {
		return nil, fmt.Errorf("afpacket params: %w", err)
	}
	frameSize, blockSize, numBlocks, err := recomputeSize(params.BufferSizeMB, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	tpOpts := []interface{}{
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(opts.ReadTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	}
	if opts.Source != "" && opts.Source != "any" {
		tpOpts = append(tpOpts, afpacket.OptInterface(opts.Source))
	}
	tp, err := afpacket.NewTPacket(tpOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create TPacket handle: %w", err)
	}

	if params.FanoutID > 0 {
		fanoutType, err := parseFanoutType(params.FanoutType)
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetFanout(fanoutType, params.FanoutID); err != nil {
			tp.Close()
			return nil, fmt.Errorf("failed to set fanout: %w", err)
		}
	}
	if err := tp.InitSocketStats(); err != nil {
		tp.Close()
		return nil, fmt.Errorf("failed to init socket stats: %w", err)
	}

	d := &afPacketDriver{tp: tp}
	d.read = d.readPacket
	return d, nil
}

func (d *afPacketDriver) readPacket() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := d.tp.ZeroCopyReadPacketData()
	if err != nil {
		if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll) {
			return nil, ci, ErrTimeout
		}
		return nil, ci, err
	}
	return data, ci, nil
}

func (d *afPacketDriver) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (d *afPacketDriver) SetBPF(insns []bpf.RawInstruction) error {
	return d.tp.SetBPF(insns)
}

func (d *afPacketDriver) Send(data []byte) error {
	return d.tp.WritePacketData(data)
}

// ConcurrentSend is true: writes go straight to the socket and never touch
// the receive ring.
func (d *afPacketDriver) ConcurrentSend() bool { return true }

func (d *afPacketDriver) Stats() (models.Statistics, error) {
	_, v3, err := d.tp.SocketStats()
	if err != nil {
		return models.Statistics{}, err
	}
	return models.Statistics{
		Received:         uint32(v3.Packets()),
		Dropped:          uint32(v3.Drops()),
		InterfaceDropped: uint32(v3.QueueFreezes()),
	}, nil
}

func (d *afPacketDriver) Close() error {
	d.tp.Close()
	return nil
}

// parseFanoutType maps the configured fanout mode. "hash_defrag" reassembles
// IP fragments before hashing so all fragments land on the same socket.
func parseFanoutType(ft string) (afpacket.FanoutType, error) {
	switch strings.ToLower(ft) {
	case "", "hash":
		return afpacket.FanoutHash, nil
	case "hash_defrag", "defrag":
		return afpacket.FanoutHashWithDefrag, nil
	default:
		return 0, fmt.Errorf("unknown fanout type: %q (want hash or hash_defrag)", ft)
	}
}
