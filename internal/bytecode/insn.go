package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrBadInstruction is returned for undefined opcodes, truncated
	// operands and branches that do not land on an instruction boundary.
	ErrBadInstruction = errors.New("bytecode: malformed instruction")
	// ErrBranchOverflow is returned when a 16-bit branch offset no longer
	// fits after layout.
	ErrBranchOverflow = errors.New("bytecode: branch offset exceeds 16 bits")
	// ErrCodeTooLarge is returned when a method body exceeds 65535 bytes.
	ErrCodeTooLarge = errors.New("bytecode: code length exceeds 65535 bytes")
)

// MaxCodeLength is the largest legal Code attribute body.
const MaxCodeLength = 65535

// Insn is one decoded instruction.
//
// Operands holds the raw bytes following the opcode for every
// instruction that is not a branch or a switch. For a wide-prefixed
// instruction Wide is set and Operands follows the inner opcode.
type Insn struct {
	Op       Opcode
	Wide     bool
	Operands []byte

	// Target is set for branches.
	Target *Insn

	// Switch fields.
	Default *Insn
	Low     int32
	High    int32
	Keys    []int32
	Targets []*Insn

	// Offset is the byte offset assigned by Decode or the last Layout.
	Offset int
}

// Size returns the encoded size of the instruction at the given offset.
func (in *Insn) Size(offset int) int {
	switch opcodeTable[in.Op].kind {
	case kindBranch:
		return 3
	case kindBranchWide:
		return 5
	case kindTableswitch:
		return 1 + pad(offset) + 12 + 4*len(in.Targets)
	case kindLookupswitch:
		return 1 + pad(offset) + 8 + 8*len(in.Keys)
	}
	if in.Wide {
		return 2 + len(in.Operands)
	}
	return 1 + len(in.Operands)
}

func pad(offset int) int {
	return (4 - (offset+1)%4) % 4
}

// LocalIndex returns the local variable slot read or written by a load,
// store, iinc or ret instruction.
func (in *Insn) LocalIndex() (int, bool) {
	op := in.Op
	switch {
	case op >= OpIload && op <= OpAload, op >= OpIstore && op <= OpAstore, op == OpIinc, op == OpRet:
		if in.Wide {
			return int(binary.BigEndian.Uint16(in.Operands)), true
		}
		return int(in.Operands[0]), true
	case op >= OpIload0 && op <= OpAload0+3:
		return int(op-OpIload0) % 4, true
	case op >= OpIstore0 && op <= OpAstore0+3:
		return int(op-OpIstore0) % 4, true
	}
	return 0, false
}

// WritesLocal reports whether the instruction assigns a local variable.
func (in *Insn) WritesLocal() bool {
	op := in.Op
	return (op >= OpIstore && op <= OpAstore) || (op >= OpIstore0 && op <= OpAstore0+3) || op == OpIinc
}

// String renders the instruction for diagnostics.
func (in *Insn) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d: ", in.Offset)
	if in.Wide {
		b.WriteString("wide ")
	}
	b.WriteString(in.Op.String())
	switch {
	case in.Target != nil:
		fmt.Fprintf(&b, " -> %d", in.Target.Offset)
	case in.Op.IsSwitch():
		fmt.Fprintf(&b, " default -> %d, %d cases", in.Default.Offset, len(in.Targets))
	case len(in.Operands) > 0:
		fmt.Fprintf(&b, " %x", in.Operands)
	}
	return b.String()
}

// pending records an unresolved branch while decoding.
type pending struct {
	insn    *Insn
	target  int
	deflt   int
	targets []int
}

// Decode splits a method body into instructions and resolves branch and
// switch targets to *Insn references.
func Decode(code []byte) ([]*Insn, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: empty code", ErrBadInstruction)
	}
	if len(code) > MaxCodeLength {
		return nil, ErrCodeTooLarge
	}
	var insns []*Insn
	var refs []pending
	at := make(map[int]*Insn)

	for pc := 0; pc < len(code); {
		op := Opcode(code[pc])
		info := opcodeTable[op]
		in := &Insn{Op: op, Offset: pc}
		fail := func(msg string) error {
			return fmt.Errorf("%w: %s %s at offset %d", ErrBadInstruction, op, msg, pc)
		}
		switch info.kind {
		case kindInvalid:
			return nil, fmt.Errorf("%w: undefined opcode 0x%02x at offset %d", ErrBadInstruction, uint8(op), pc)

		case kindFixed:
			if pc+info.size > len(code) {
				return nil, fail("truncated")
			}
			in.Operands = clone(code[pc+1 : pc+info.size])

		case kindBranch, kindBranchWide:
			if pc+info.size > len(code) {
				return nil, fail("truncated")
			}
			var rel int
			if info.kind == kindBranch {
				rel = int(int16(binary.BigEndian.Uint16(code[pc+1:])))
			} else {
				rel = int(int32(binary.BigEndian.Uint32(code[pc+1:])))
			}
			refs = append(refs, pending{insn: in, target: pc + rel})

		case kindTableswitch, kindLookupswitch:
			p := pc + 1 + pad(pc)
			if p+8 > len(code) {
				return nil, fail("truncated")
			}
			ref := pending{insn: in, deflt: pc + int(int32(binary.BigEndian.Uint32(code[p:])))}
			if info.kind == kindTableswitch {
				if p+12 > len(code) {
					return nil, fail("truncated")
				}
				in.Low = int32(binary.BigEndian.Uint32(code[p+4:]))
				in.High = int32(binary.BigEndian.Uint32(code[p+8:]))
				n := int64(in.High) - int64(in.Low) + 1
				if n <= 0 || int64(p)+12+4*n > int64(len(code)) {
					return nil, fail("has invalid bounds")
				}
				in.Targets = make([]*Insn, n)
				for k := 0; k < int(n); k++ {
					rel := int(int32(binary.BigEndian.Uint32(code[p+12+4*k:])))
					ref.targets = append(ref.targets, pc+rel)
				}
			} else {
				n := int64(int32(binary.BigEndian.Uint32(code[p+4:])))
				if n < 0 || int64(p)+8+8*n > int64(len(code)) {
					return nil, fail("has invalid pair count")
				}
				in.Targets = make([]*Insn, n)
				for k := 0; k < int(n); k++ {
					q := p + 8 + 8*k
					in.Keys = append(in.Keys, int32(binary.BigEndian.Uint32(code[q:])))
					rel := int(int32(binary.BigEndian.Uint32(code[q+4:])))
					ref.targets = append(ref.targets, pc+rel)
				}
			}
			refs = append(refs, ref)

		case kindWide:
			if pc+2 > len(code) {
				return nil, fail("truncated")
			}
			inner := Opcode(code[pc+1])
			n := 2
			switch {
			case inner == OpIinc:
				n = 4
			case inner >= OpIload && inner <= OpAload, inner >= OpIstore && inner <= OpAstore, inner == OpRet:
			default:
				return nil, fail(fmt.Sprintf("prefixes non-widenable %s", inner))
			}
			if pc+2+n > len(code) {
				return nil, fail("truncated")
			}
			in.Op = inner
			in.Wide = true
			in.Operands = clone(code[pc+2 : pc+2+n])
		}

		insns = append(insns, in)
		at[pc] = in
		pc += in.Size(pc)
	}

	resolve := func(from *Insn, target int) (*Insn, error) {
		t, ok := at[target]
		if !ok {
			return nil, fmt.Errorf("%w: %s at offset %d targets %d, not an instruction boundary",
				ErrBadInstruction, from.Op, from.Offset, target)
		}
		return t, nil
	}
	for _, ref := range refs {
		var err error
		if ref.insn.Op.IsBranch() {
			if ref.insn.Target, err = resolve(ref.insn, ref.target); err != nil {
				return nil, err
			}
			continue
		}
		if ref.insn.Default, err = resolve(ref.insn, ref.deflt); err != nil {
			return nil, err
		}
		for k, t := range ref.targets {
			if ref.insn.Targets[k], err = resolve(ref.insn, t); err != nil {
				return nil, err
			}
		}
	}
	return insns, nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Layout assigns offsets to every instruction and returns the code length.
func Layout(insns []*Insn) (int, error) {
	pc := 0
	for _, in := range insns {
		in.Offset = pc
		pc += in.Size(pc)
	}
	if pc > MaxCodeLength {
		return pc, fmt.Errorf("%w (%d bytes)", ErrCodeTooLarge, pc)
	}
	return pc, nil
}

// Encode lays out insns and serialises them.
func Encode(insns []*Insn) ([]byte, error) {
	size, err := Layout(insns)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, size)
	for _, in := range insns {
		if in.Wide {
			buf = append(buf, byte(OpWide))
		}
		buf = append(buf, byte(in.Op))
		switch opcodeTable[in.Op].kind {
		case kindBranch:
			rel := in.Target.Offset - in.Offset
			if rel < math.MinInt16 || rel > math.MaxInt16 {
				return nil, fmt.Errorf("%w: %s at offset %d to %d", ErrBranchOverflow, in.Op, in.Offset, in.Target.Offset)
			}
			buf = binary.BigEndian.AppendUint16(buf, uint16(int16(rel)))
		case kindBranchWide:
			buf = binary.BigEndian.AppendUint32(buf, uint32(int32(in.Target.Offset-in.Offset)))
		case kindTableswitch, kindLookupswitch:
			for k := 0; k < pad(in.Offset); k++ {
				buf = append(buf, 0)
			}
			buf = binary.BigEndian.AppendUint32(buf, uint32(int32(in.Default.Offset-in.Offset)))
			if in.Op == OpTableswitch {
				buf = binary.BigEndian.AppendUint32(buf, uint32(in.Low))
				buf = binary.BigEndian.AppendUint32(buf, uint32(in.High))
				for _, t := range in.Targets {
					buf = binary.BigEndian.AppendUint32(buf, uint32(int32(t.Offset-in.Offset)))
				}
			} else {
				buf = binary.BigEndian.AppendUint32(buf, uint32(len(in.Keys)))
				for k, key := range in.Keys {
					buf = binary.BigEndian.AppendUint32(buf, uint32(key))
					buf = binary.BigEndian.AppendUint32(buf, uint32(int32(in.Targets[k].Offset-in.Offset)))
				}
			}
		default:
			buf = append(buf, in.Operands...)
		}
	}
	return buf, nil
}

// Retarget rewrites every branch and switch reference found in repl to
// its replacement.
func Retarget(insns []*Insn, repl map[*Insn]*Insn) {
	swap := func(t *Insn) *Insn {
		if r, ok := repl[t]; ok {
			return r
		}
		return t
	}
	for _, in := range insns {
		if in.Target != nil {
			in.Target = swap(in.Target)
		}
		if in.Default != nil {
			in.Default = swap(in.Default)
		}
		for k, t := range in.Targets {
			in.Targets[k] = swap(t)
		}
	}
}
