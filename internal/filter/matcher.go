package filter

import "golang.org/x/net/bpf"

// Matcher evaluates a program in process, for sources without a kernel filter.
type Matcher struct {
	vm *bpf.VM
}

// NewMatcher builds a VM from raw instructions.
func NewMatcher(insns []bpf.RawInstruction) (*Matcher, error) {
	prog := make([]bpf.Instruction, len(insns))
	for i, raw := range insns {
		prog[i] = raw.Disassemble()
	}
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, err
	}
	return &Matcher{vm: vm}, nil
}

// Match reports whether the program accepts data.
func (m *Matcher) Match(data []byte) bool {
	if m == nil {
		return true
	}
	n, err := m.vm.Run(data)
	return err == nil && n > 0
}
