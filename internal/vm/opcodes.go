package vm

// -----------------------------
// Instruction encoding
// -----------------------------

// Opcode is the high byte of an instruction word.
type Opcode uint8

const (
	OpNop Opcode = iota

	// constants & stack
	OpConst // push consts[imm]
	OpPush  // push sign-extended 24-bit imm
	OpPop
	OpDup
	OpSwap
	OpOver // a b -> a b a

	// integer arithmetic (int64, wrapping)
	OpAdd
	OpSub
	OpMul
	OpDiv // traps on zero divisor
	OpMod
	OpNeg

	// compare (push 1 or 0) & bitwise
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpNot // logical
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr // arithmetic

	// float64 arithmetic on raw bits; NaN results are canonicalised
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFNeg
	OpFLt
	OpFEq
	OpIToF
	OpFToI // traps on NaN and out-of-range values
	OpF32  // round to float32 precision

	// control flow; imm = code address
	OpJump
	OpJz
	OpJnz
	OpCall
	OpReturn

	// globals; imm = global index
	OpGLoad
	OpGStore

	// linear memory; imm = static offset added to the popped address
	OpLoad8
	OpLoad32
	OpLoad64
	OpLoadF32
	OpStore8
	OpStore32
	OpStore64
	OpStoreF32
	OpCopy // dst src n ->

	// host interface
	OpRegister // imm = entry address; init code only
	OpYield    // reason ->
	OpSubmit   // ptr len -> respLen
	OpRetrieve // ptr ->
	OpHalt
	OpTrap // imm = guest-defined code

	opCount
)

var opNames = [...]string{
	OpNop: "nop", OpConst: "const", OpPush: "push", OpPop: "pop", OpDup: "dup", OpSwap: "swap", OpOver: "over",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod", OpNeg: "neg",
	OpEq: "eq", OpNe: "ne", OpLt: "lt", OpLe: "le", OpGt: "gt", OpGe: "ge",
	OpNot: "not", OpAnd: "and", OpOr: "or", OpXor: "xor", OpShl: "shl", OpShr: "shr",
	OpFAdd: "fadd", OpFSub: "fsub", OpFMul: "fmul", OpFDiv: "fdiv", OpFNeg: "fneg",
	OpFLt: "flt", OpFEq: "feq", OpIToF: "itof", OpFToI: "ftoi", OpF32: "f32",
	OpJump: "jump", OpJz: "jz", OpJnz: "jnz", OpCall: "call", OpReturn: "ret",
	OpGLoad: "gload", OpGStore: "gstore",
	OpLoad8: "load8", OpLoad32: "load32", OpLoad64: "load64", OpLoadF32: "loadf32",
	OpStore8: "store8", OpStore32: "store32", OpStore64: "store64", OpStoreF32: "storef32",
	OpCopy:     "copy",
	OpRegister: "register", OpYield: "yield", OpSubmit: "submit", OpRetrieve: "retrieve",
	OpHalt: "halt", OpTrap: "trap",
}

func (op Opcode) String() string {
	if op < opCount {
		return opNames[op]
	}
	return "invalid"
}

// operand describes what an instruction's immediate refers to.
type operand uint8

const (
	argNone operand = iota
	argConst
	argInt    // signed 24-bit
	argOffset // unsigned 24-bit
	argCode
	argGlobal
)

func (op Opcode) operand() operand {
	switch op {
	case OpConst:
		return argConst
	case OpPush, OpTrap:
		return argInt
	case OpLoad8, OpLoad32, OpLoad64, OpLoadF32, OpStore8, OpStore32, OpStore64, OpStoreF32:
		return argOffset
	case OpJump, OpJz, OpJnz, OpCall, OpRegister:
		return argCode
	case OpGLoad, OpGStore:
		return argGlobal
	}
	return argNone
}

// MaxImm is the largest unsigned immediate.
const MaxImm = 1<<24 - 1

// Encode packs an instruction word.
func Encode(op Opcode, imm uint32) uint32 { return uint32(op)<<24 | (imm & MaxImm) }

func uop(i uint32) Opcode  { return Opcode(i >> 24) }
func uimm(i uint32) uint32 { return i & MaxImm }

// simm sign-extends a 24-bit immediate.
func simm(i uint32) int64 { return int64(int32(i<<8) >> 8) }
