//go:build !cgo

package filter

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/packetcap/go-pcap/filter"
	"golang.org/x/net/bpf"
)

func compile(expr string, linkType layers.LinkType, snapLen int) ([]bpf.RawInstruction, error) {
	if linkType != layers.LinkTypeEthernet {
		return nil, fmt.Errorf("link type %s needs the cgo compiler", linkType)
	}
	f := filter.NewExpression(expr).Compile()
	if f == nil {
		return nil, fmt.Errorf("cannot parse %q", expr)
	}
	insts, err := f.Compile()
	if err != nil {
		return nil, err
	}
	insts, err = padReturns(insts)
	if err != nil {
		return nil, err
	}
	if _, err := bpf.NewVM(insts); err != nil {
		return nil, err
	}
	return bpf.Assemble(insts)
}

// padReturns fixes programs whose jumps were computed for more instructions
// than were emitted. Such jumps aim past the trailing keep/drop pair by the
// same distance, so repeating the keep return that many times puts the drop
// return and every success target back where the jumps expect them.
func padReturns(insts []bpf.Instruction) ([]bpf.Instruction, error) {
	over := -1
	for i, in := range insts {
		for _, t := range jumpTargets(i, in) {
			if d := t - (len(insts) - 1); d > over {
				over = d
			}
		}
	}
	if over <= 0 {
		return insts, nil
	}
	n := len(insts)
	if n < 2 {
		return nil, fmt.Errorf("jump %d past the end of a %d instruction program", over, n)
	}
	keep, okKeep := insts[n-2].(bpf.RetConstant)
	_, okDrop := insts[n-1].(bpf.RetConstant)
	if !okKeep || !okDrop {
		return nil, fmt.Errorf("jump %d past the end of the program", over)
	}
	out := make([]bpf.Instruction, 0, n+over)
	out = append(out, insts[:n-1]...)
	for i := 0; i < over; i++ {
		out = append(out, keep)
	}
	return append(out, insts[n-1]), nil
}

func jumpTargets(i int, in bpf.Instruction) []int {
	switch j := in.(type) {
	case bpf.Jump:
		return []int{i + 1 + int(j.Skip)}
	case bpf.JumpIf:
		return []int{i + 1 + int(j.SkipTrue), i + 1 + int(j.SkipFalse)}
	case bpf.JumpIfX:
		return []int{i + 1 + int(j.SkipTrue), i + 1 + int(j.SkipFalse)}
	}
	return nil
}
