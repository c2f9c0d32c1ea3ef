// Package bytecode decodes JVM method bodies into an index-based
// instruction list and lays them back out as bytes.
//
// Branch and switch targets are *Insn references rather than offsets, so
// code can be spliced anywhere in the list and Layout recomputes every
// offset afterwards.
package bytecode

import "fmt"

// Opcode is a JVM instruction opcode.
type Opcode uint8

// Opcodes referenced by name. The full table is opcodeTable.
const (
	OpNop          Opcode = 0x00
	OpAconstNull   Opcode = 0x01
	OpIconstM1     Opcode = 0x02
	OpIconst0      Opcode = 0x03
	OpIconst1      Opcode = 0x04
	OpIconst5      Opcode = 0x08
	OpLconst0      Opcode = 0x09
	OpBipush       Opcode = 0x10
	OpSipush       Opcode = 0x11
	OpLdc          Opcode = 0x12
	OpLdcW         Opcode = 0x13
	OpLdc2W        Opcode = 0x14
	OpIload        Opcode = 0x15
	OpLload        Opcode = 0x16
	OpAload        Opcode = 0x19
	OpIload0       Opcode = 0x1a
	OpLload0       Opcode = 0x1e
	OpAload0       Opcode = 0x2a
	OpIstore       Opcode = 0x36
	OpLstore       Opcode = 0x37
	OpFstore       Opcode = 0x38
	OpDstore       Opcode = 0x39
	OpAstore       Opcode = 0x3a
	OpIstore0      Opcode = 0x3b
	OpLstore0      Opcode = 0x3f
	OpFstore0      Opcode = 0x43
	OpDstore0      Opcode = 0x47
	OpAstore0      Opcode = 0x4b
	OpPop          Opcode = 0x57
	OpDup          Opcode = 0x59
	OpIadd         Opcode = 0x60
	OpLsub         Opcode = 0x65
	OpLdiv         Opcode = 0x6d
	OpIinc         Opcode = 0x84
	OpIfeq         Opcode = 0x99
	OpIfne         Opcode = 0x9a
	OpIfAcmpne     Opcode = 0xa6
	OpGoto         Opcode = 0xa7
	OpJsr          Opcode = 0xa8
	OpRet          Opcode = 0xa9
	OpTableswitch  Opcode = 0xaa
	OpLookupswitch Opcode = 0xab
	OpIreturn      Opcode = 0xac
	OpLreturn      Opcode = 0xad
	OpFreturn      Opcode = 0xae
	OpDreturn      Opcode = 0xaf
	OpAreturn      Opcode = 0xb0
	OpReturn       Opcode = 0xb1
	OpGetstatic    Opcode = 0xb2
	OpInvokestatic Opcode = 0xb8
	OpNew          Opcode = 0xbb
	OpAthrow       Opcode = 0xbf
	OpWide         Opcode = 0xc4
	OpIfnull       Opcode = 0xc6
	OpIfnonnull    Opcode = 0xc7
	OpGotoW        Opcode = 0xc8
	OpJsrW         Opcode = 0xc9
)

type opKind uint8

const (
	kindInvalid opKind = iota
	kindFixed
	kindBranch
	kindBranchWide
	kindTableswitch
	kindLookupswitch
	kindWide
)

type opInfo struct {
	name string
	size int // total encoded size for kindFixed
	kind opKind
}

var opcodeTable [256]opInfo

func def(op Opcode, name string, size int, kind opKind) {
	opcodeTable[op] = opInfo{name: name, size: size, kind: kind}
}

func init() {
	simple := []string{
		"nop", "aconst_null", "iconst_m1", "iconst_0", "iconst_1", "iconst_2", "iconst_3",
		"iconst_4", "iconst_5", "lconst_0", "lconst_1", "fconst_0", "fconst_1", "fconst_2",
		"dconst_0", "dconst_1",
	}
	for i, n := range simple {
		def(Opcode(i), n, 1, kindFixed)
	}
	def(0x10, "bipush", 2, kindFixed)
	def(0x11, "sipush", 3, kindFixed)
	def(0x12, "ldc", 2, kindFixed)
	def(0x13, "ldc_w", 3, kindFixed)
	def(0x14, "ldc2_w", 3, kindFixed)

	types := []string{"i", "l", "f", "d", "a"}
	for i, t := range types {
		def(Opcode(0x15+i), t+"load", 2, kindFixed)
		def(Opcode(0x36+i), t+"store", 2, kindFixed)
		for n := 0; n < 4; n++ {
			def(Opcode(0x1a+i*4+n), fmt.Sprintf("%sload_%d", t, n), 1, kindFixed)
			def(Opcode(0x3b+i*4+n), fmt.Sprintf("%sstore_%d", t, n), 1, kindFixed)
		}
	}
	for i, n := range []string{"iaload", "laload", "faload", "daload", "aaload", "baload", "caload", "saload"} {
		def(Opcode(0x2e+i), n, 1, kindFixed)
	}
	for i, n := range []string{"iastore", "lastore", "fastore", "dastore", "aastore", "bastore", "castore", "sastore"} {
		def(Opcode(0x4f+i), n, 1, kindFixed)
	}
	for i, n := range []string{"pop", "pop2", "dup", "dup_x1", "dup_x2", "dup2", "dup2_x1", "dup2_x2", "swap"} {
		def(Opcode(0x57+i), n, 1, kindFixed)
	}
	arith := []string{
		"iadd", "ladd", "fadd", "dadd", "isub", "lsub", "fsub", "dsub",
		"imul", "lmul", "fmul", "dmul", "idiv", "ldiv", "fdiv", "ddiv",
		"irem", "lrem", "frem", "drem", "ineg", "lneg", "fneg", "dneg",
		"ishl", "lshl", "ishr", "lshr", "iushr", "lushr", "iand", "land",
		"ior", "lor", "ixor", "lxor",
	}
	for i, n := range arith {
		def(Opcode(0x60+i), n, 1, kindFixed)
	}
	def(0x84, "iinc", 3, kindFixed)
	conv := []string{
		"i2l", "i2f", "i2d", "l2i", "l2f", "l2d", "f2i", "f2l", "f2d", "d2i", "d2l", "d2f",
		"i2b", "i2c", "i2s", "lcmp", "fcmpl", "fcmpg", "dcmpl", "dcmpg",
	}
	for i, n := range conv {
		def(Opcode(0x85+i), n, 1, kindFixed)
	}
	branches := []string{
		"ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle", "if_icmpeq", "if_icmpne",
		"if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple", "if_acmpeq", "if_acmpne",
		"goto", "jsr",
	}
	for i, n := range branches {
		def(Opcode(0x99+i), n, 3, kindBranch)
	}
	def(0xa9, "ret", 2, kindFixed)
	def(0xaa, "tableswitch", 0, kindTableswitch)
	def(0xab, "lookupswitch", 0, kindLookupswitch)
	for i, n := range []string{"ireturn", "lreturn", "freturn", "dreturn", "areturn", "return"} {
		def(Opcode(0xac+i), n, 1, kindFixed)
	}
	for i, n := range []string{"getstatic", "putstatic", "getfield", "putfield", "invokevirtual", "invokespecial", "invokestatic"} {
		def(Opcode(0xb2+i), n, 3, kindFixed)
	}
	def(0xb9, "invokeinterface", 5, kindFixed)
	def(0xba, "invokedynamic", 5, kindFixed)
	def(0xbb, "new", 3, kindFixed)
	def(0xbc, "newarray", 2, kindFixed)
	def(0xbd, "anewarray", 3, kindFixed)
	def(0xbe, "arraylength", 1, kindFixed)
	def(0xbf, "athrow", 1, kindFixed)
	def(0xc0, "checkcast", 3, kindFixed)
	def(0xc1, "instanceof", 3, kindFixed)
	def(0xc2, "monitorenter", 1, kindFixed)
	def(0xc3, "monitorexit", 1, kindFixed)
	def(0xc4, "wide", 0, kindWide)
	def(0xc5, "multianewarray", 4, kindFixed)
	def(0xc6, "ifnull", 3, kindBranch)
	def(0xc7, "ifnonnull", 3, kindBranch)
	def(0xc8, "goto_w", 5, kindBranchWide)
	def(0xc9, "jsr_w", 5, kindBranchWide)
}

// String returns the mnemonic.
func (op Opcode) String() string {
	if n := opcodeTable[op].name; n != "" {
		return n
	}
	return fmt.Sprintf("invalid_%02x", uint8(op))
}

// Valid reports whether op is a defined instruction.
func (op Opcode) Valid() bool {
	return opcodeTable[op].kind != kindInvalid
}

// IsReturn reports whether op returns from the method.
func (op Opcode) IsReturn() bool {
	return op >= OpIreturn && op <= OpReturn
}

// IsSubroutine reports whether op is part of the legacy jsr/ret mechanism.
func (op Opcode) IsSubroutine() bool {
	return op == OpJsr || op == OpJsrW || op == OpRet
}

// IsBranch reports whether op carries a single relative branch target.
func (op Opcode) IsBranch() bool {
	k := opcodeTable[op].kind
	return k == kindBranch || k == kindBranchWide
}

// IsSwitch reports whether op is tableswitch or lookupswitch.
func (op Opcode) IsSwitch() bool {
	return op == OpTableswitch || op == OpLookupswitch
}

// ReturnSlots is the operand stack size of the value returned by op.
func (op Opcode) ReturnSlots() int {
	switch op {
	case OpLreturn, OpDreturn:
		return 2
	case OpReturn:
		return 0
	default:
		return 1
	}
}
