// Package filter compiles tcpdump-style expressions into BPF programs and
// tracks ownership of the compiled programs.
package filter

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"
)

var (
	ErrCompile  = errors.New("framecap: filter compile failed")
	ErrReleased = errors.New("framecap: filter program already released")
)

// outstanding counts programs that were compiled and not yet released.
var outstanding atomic.Int64

// Outstanding returns the number of live programs in this process.
func Outstanding() int64 {
	return outstanding.Load()
}

// Program is a compiled filter. It owns its instructions until Release.
type Program struct {
	Expression string
	LinkType   layers.LinkType
	SnapLen    int

	insns    []bpf.RawInstruction
	released atomic.Bool
}

// Compile compiles expr against the given link type and snapshot length.
// An empty expression compiles to a program accepting every frame.
func Compile(expr string, linkType layers.LinkType, snapLen int) (*Program, error) {
	if snapLen <= 0 {
		snapLen = 65535
	}
	var (
		insns []bpf.RawInstruction
		err   error
	)
	if strings.TrimSpace(expr) == "" {
		insns, err = bpf.Assemble([]bpf.Instruction{bpf.RetConstant{Val: uint32(snapLen)}})
	} else {
		insns, err = compile(expr, linkType, snapLen)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %q on %s: %v", ErrCompile, expr, linkType, err)
	}
	outstanding.Add(1)
	return &Program{
		Expression: expr,
		LinkType:   linkType,
		SnapLen:    snapLen,
		insns:      insns,
	}, nil
}

// Validate reports whether expr compiles, releasing the program immediately.
func Validate(expr string, linkType layers.LinkType, snapLen int) error {
	p, err := Compile(expr, linkType, snapLen)
	if err != nil {
		return err
	}
	p.Release()
	return nil
}

// Instructions returns a copy of the raw program.
func (p *Program) Instructions() ([]bpf.RawInstruction, error) {
	if p.released.Load() {
		return nil, ErrReleased
	}
	out := make([]bpf.RawInstruction, len(p.insns))
	copy(out, p.insns)
	return out, nil
}

// Release frees the program. Only the first call has an effect.
func (p *Program) Release() {
	if p == nil || !p.released.CompareAndSwap(false, true) {
		return
	}
	p.insns = nil
	outstanding.Add(-1)
}

// Released reports whether Release has been called.
func (p *Program) Released() bool {
	return p.released.Load()
}

// Len is the number of instructions.
func (p *Program) Len() int {
	return len(p.insns)
}

// String renders the program one instruction per line.
func (p *Program) String() string {
	if p.released.Load() {
		return "<released>"
	}
	var b strings.Builder
	for i, raw := range p.insns {
		fmt.Fprintf(&b, "(%03d) %v\n", i, raw.Disassemble())
	}
	return b.String()
}
