package il

import "fmt"

// OperandType describes how an opcode's operand is encoded in a method body.
type OperandType uint8

const (
	InlineNone OperandType = iota
	ShortInlineI
	InlineI
	InlineI8
	ShortInlineR
	InlineR
	InlineString
	InlineField
	InlineMethod
	InlineType
	ShortInlineBrTarget
	InlineBrTarget
	InlineSwitch
	ShortInlineVar
	InlineVar
	ShortInlineArg
	InlineArg
)

// FlowControl describes how an opcode transfers control.
type FlowControl uint8

const (
	FlowNext FlowControl = iota
	FlowBranch
	FlowCondBranch
	FlowCall
	FlowReturn
	FlowThrow
)

// OpCode is a CIL opcode value. Two byte opcodes carry the 0xfe prefix in the high byte.
type OpCode uint16

type opInfo struct {
	name    string
	operand OperandType
	flow    FlowControl
}

const (
	Nop        OpCode = 0x00
	Ldarg0     OpCode = 0x02
	Ldarg1     OpCode = 0x03
	Ldarg2     OpCode = 0x04
	Ldarg3     OpCode = 0x05
	Ldloc0     OpCode = 0x06
	Ldloc1     OpCode = 0x07
	Ldloc2     OpCode = 0x08
	Ldloc3     OpCode = 0x09
	Stloc0     OpCode = 0x0a
	Stloc1     OpCode = 0x0b
	Stloc2     OpCode = 0x0c
	Stloc3     OpCode = 0x0d
	LdargS     OpCode = 0x0e
	LdargaS    OpCode = 0x0f
	StargS     OpCode = 0x10
	LdlocS     OpCode = 0x11
	LdlocaS    OpCode = 0x12
	StlocS     OpCode = 0x13
	Ldnull     OpCode = 0x14
	LdcI4M1    OpCode = 0x15
	LdcI40     OpCode = 0x16
	LdcI41     OpCode = 0x17
	LdcI42     OpCode = 0x18
	LdcI43     OpCode = 0x19
	LdcI44     OpCode = 0x1a
	LdcI45     OpCode = 0x1b
	LdcI46     OpCode = 0x1c
	LdcI47     OpCode = 0x1d
	LdcI48     OpCode = 0x1e
	LdcI4S     OpCode = 0x1f
	LdcI4      OpCode = 0x20
	LdcI8      OpCode = 0x21
	LdcR4      OpCode = 0x22
	LdcR8      OpCode = 0x23
	Dup        OpCode = 0x25
	Pop        OpCode = 0x26
	Call       OpCode = 0x28
	Ret        OpCode = 0x2a
	BrS        OpCode = 0x2b
	BrfalseS   OpCode = 0x2c
	BrtrueS    OpCode = 0x2d
	BeqS       OpCode = 0x2e
	BgeS       OpCode = 0x2f
	BgtS       OpCode = 0x30
	BleS       OpCode = 0x31
	BltS       OpCode = 0x32
	BneUnS     OpCode = 0x33
	BgeUnS     OpCode = 0x34
	BgtUnS     OpCode = 0x35
	BleUnS     OpCode = 0x36
	BltUnS     OpCode = 0x37
	Br         OpCode = 0x38
	Brfalse    OpCode = 0x39
	Brtrue     OpCode = 0x3a
	Beq        OpCode = 0x3b
	Bge        OpCode = 0x3c
	Bgt        OpCode = 0x3d
	Ble        OpCode = 0x3e
	Blt        OpCode = 0x3f
	BneUn      OpCode = 0x40
	BgeUn      OpCode = 0x41
	BgtUn      OpCode = 0x42
	BleUn      OpCode = 0x43
	BltUn      OpCode = 0x44
	Switch     OpCode = 0x45
	LdindI4    OpCode = 0x4a
	LdindRef   OpCode = 0x50
	StindRef   OpCode = 0x51
	StindI4    OpCode = 0x54
	Add        OpCode = 0x58
	Sub        OpCode = 0x59
	Mul        OpCode = 0x5a
	Div        OpCode = 0x5b
	Rem        OpCode = 0x5d
	And        OpCode = 0x5f
	Or         OpCode = 0x60
	Xor        OpCode = 0x61
	Shl        OpCode = 0x62
	Shr        OpCode = 0x63
	Neg        OpCode = 0x65
	Not        OpCode = 0x66
	ConvI4     OpCode = 0x69
	ConvI8     OpCode = 0x6a
	Callvirt   OpCode = 0x6f
	Ldstr      OpCode = 0x72
	Newobj     OpCode = 0x73
	Castclass  OpCode = 0x74
	Isinst     OpCode = 0x75
	Throw      OpCode = 0x7a
	Ldfld      OpCode = 0x7b
	Stfld      OpCode = 0x7d
	Ldsfld     OpCode = 0x7e
	Stsfld     OpCode = 0x80
	Box        OpCode = 0x8c
	Newarr     OpCode = 0x8d
	Ldlen      OpCode = 0x8e
	Ldelema    OpCode = 0x8f
	LdelemI4   OpCode = 0x94
	LdelemRef  OpCode = 0x9a
	StelemI4   OpCode = 0x9e
	StelemRef  OpCode = 0xa2
	UnboxAny   OpCode = 0xa5
	Endfinally OpCode = 0xdc
	Leave      OpCode = 0xdd
	LeaveS     OpCode = 0xde
	Ceq        OpCode = 0xfe01
	Cgt        OpCode = 0xfe02
	CgtUn      OpCode = 0xfe03
	Clt        OpCode = 0xfe04
	CltUn      OpCode = 0xfe05
	Ldarg      OpCode = 0xfe09
	Ldarga     OpCode = 0xfe0a
	Starg      OpCode = 0xfe0b
	Ldloc      OpCode = 0xfe0c
	Ldloca     OpCode = 0xfe0d
	Stloc      OpCode = 0xfe0e
	Endfilter  OpCode = 0xfe11
	Rethrow    OpCode = 0xfe1a
)

var opcodes = map[OpCode]opInfo{
	Nop:        {"nop", InlineNone, FlowNext},
	Ldarg0:     {"ldarg.0", InlineNone, FlowNext},
	Ldarg1:     {"ldarg.1", InlineNone, FlowNext},
	Ldarg2:     {"ldarg.2", InlineNone, FlowNext},
	Ldarg3:     {"ldarg.3", InlineNone, FlowNext},
	Ldloc0:     {"ldloc.0", InlineNone, FlowNext},
	Ldloc1:     {"ldloc.1", InlineNone, FlowNext},
	Ldloc2:     {"ldloc.2", InlineNone, FlowNext},
	Ldloc3:     {"ldloc.3", InlineNone, FlowNext},
	Stloc0:     {"stloc.0", InlineNone, FlowNext},
	Stloc1:     {"stloc.1", InlineNone, FlowNext},
	Stloc2:     {"stloc.2", InlineNone, FlowNext},
	Stloc3:     {"stloc.3", InlineNone, FlowNext},
	LdargS:     {"ldarg.s", ShortInlineArg, FlowNext},
	LdargaS:    {"ldarga.s", ShortInlineArg, FlowNext},
	StargS:     {"starg.s", ShortInlineArg, FlowNext},
	LdlocS:     {"ldloc.s", ShortInlineVar, FlowNext},
	LdlocaS:    {"ldloca.s", ShortInlineVar, FlowNext},
	StlocS:     {"stloc.s", ShortInlineVar, FlowNext},
	Ldnull:     {"ldnull", InlineNone, FlowNext},
	LdcI4M1:    {"ldc.i4.m1", InlineNone, FlowNext},
	LdcI40:     {"ldc.i4.0", InlineNone, FlowNext},
	LdcI41:     {"ldc.i4.1", InlineNone, FlowNext},
	LdcI42:     {"ldc.i4.2", InlineNone, FlowNext},
	LdcI43:     {"ldc.i4.3", InlineNone, FlowNext},
	LdcI44:     {"ldc.i4.4", InlineNone, FlowNext},
	LdcI45:     {"ldc.i4.5", InlineNone, FlowNext},
	LdcI46:     {"ldc.i4.6", InlineNone, FlowNext},
	LdcI47:     {"ldc.i4.7", InlineNone, FlowNext},
	LdcI48:     {"ldc.i4.8", InlineNone, FlowNext},
	LdcI4S:     {"ldc.i4.s", ShortInlineI, FlowNext},
	LdcI4:      {"ldc.i4", InlineI, FlowNext},
	LdcI8:      {"ldc.i8", InlineI8, FlowNext},
	LdcR4:      {"ldc.r4", ShortInlineR, FlowNext},
	LdcR8:      {"ldc.r8", InlineR, FlowNext},
	Dup:        {"dup", InlineNone, FlowNext},
	Pop:        {"pop", InlineNone, FlowNext},
	Call:       {"call", InlineMethod, FlowCall},
	Ret:        {"ret", InlineNone, FlowReturn},
	BrS:        {"br.s", ShortInlineBrTarget, FlowBranch},
	BrfalseS:   {"brfalse.s", ShortInlineBrTarget, FlowCondBranch},
	BrtrueS:    {"brtrue.s", ShortInlineBrTarget, FlowCondBranch},
	BeqS:       {"beq.s", ShortInlineBrTarget, FlowCondBranch},
	BgeS:       {"bge.s", ShortInlineBrTarget, FlowCondBranch},
	BgtS:       {"bgt.s", ShortInlineBrTarget, FlowCondBranch},
	BleS:       {"ble.s", ShortInlineBrTarget, FlowCondBranch},
	BltS:       {"blt.s", ShortInlineBrTarget, FlowCondBranch},
	BneUnS:     {"bne.un.s", ShortInlineBrTarget, FlowCondBranch},
	BgeUnS:     {"bge.un.s", ShortInlineBrTarget, FlowCondBranch},
	BgtUnS:     {"bgt.un.s", ShortInlineBrTarget, FlowCondBranch},
	BleUnS:     {"ble.un.s", ShortInlineBrTarget, FlowCondBranch},
	BltUnS:     {"blt.un.s", ShortInlineBrTarget, FlowCondBranch},
	Br:         {"br", InlineBrTarget, FlowBranch},
	Brfalse:    {"brfalse", InlineBrTarget, FlowCondBranch},
	Brtrue:     {"brtrue", InlineBrTarget, FlowCondBranch},
	Beq:        {"beq", InlineBrTarget, FlowCondBranch},
	Bge:        {"bge", InlineBrTarget, FlowCondBranch},
	Bgt:        {"bgt", InlineBrTarget, FlowCondBranch},
	Ble:        {"ble", InlineBrTarget, FlowCondBranch},
	Blt:        {"blt", InlineBrTarget, FlowCondBranch},
	BneUn:      {"bne.un", InlineBrTarget, FlowCondBranch},
	BgeUn:      {"bge.un", InlineBrTarget, FlowCondBranch},
	BgtUn:      {"bgt.un", InlineBrTarget, FlowCondBranch},
	BleUn:      {"ble.un", InlineBrTarget, FlowCondBranch},
	BltUn:      {"blt.un", InlineBrTarget, FlowCondBranch},
	Switch:     {"switch", InlineSwitch, FlowCondBranch},
	LdindI4:    {"ldind.i4", InlineNone, FlowNext},
	LdindRef:   {"ldind.ref", InlineNone, FlowNext},
	StindRef:   {"stind.ref", InlineNone, FlowNext},
	StindI4:    {"stind.i4", InlineNone, FlowNext},
	Add:        {"add", InlineNone, FlowNext},
	Sub:        {"sub", InlineNone, FlowNext},
	Mul:        {"mul", InlineNone, FlowNext},
	Div:        {"div", InlineNone, FlowNext},
	Rem:        {"rem", InlineNone, FlowNext},
	And:        {"and", InlineNone, FlowNext},
	Or:         {"or", InlineNone, FlowNext},
	Xor:        {"xor", InlineNone, FlowNext},
	Shl:        {"shl", InlineNone, FlowNext},
	Shr:        {"shr", InlineNone, FlowNext},
	Neg:        {"neg", InlineNone, FlowNext},
	Not:        {"not", InlineNone, FlowNext},
	ConvI4:     {"conv.i4", InlineNone, FlowNext},
	ConvI8:     {"conv.i8", InlineNone, FlowNext},
	Callvirt:   {"callvirt", InlineMethod, FlowCall},
	Ldstr:      {"ldstr", InlineString, FlowNext},
	Newobj:     {"newobj", InlineMethod, FlowCall},
	Castclass:  {"castclass", InlineType, FlowNext},
	Isinst:     {"isinst", InlineType, FlowNext},
	Throw:      {"throw", InlineNone, FlowThrow},
	Ldfld:      {"ldfld", InlineField, FlowNext},
	Stfld:      {"stfld", InlineField, FlowNext},
	Ldsfld:     {"ldsfld", InlineField, FlowNext},
	Stsfld:     {"stsfld", InlineField, FlowNext},
	Box:        {"box", InlineType, FlowNext},
	Newarr:     {"newarr", InlineType, FlowNext},
	Ldlen:      {"ldlen", InlineNone, FlowNext},
	Ldelema:    {"ldelema", InlineType, FlowNext},
	LdelemI4:   {"ldelem.i4", InlineNone, FlowNext},
	LdelemRef:  {"ldelem.ref", InlineNone, FlowNext},
	StelemI4:   {"stelem.i4", InlineNone, FlowNext},
	StelemRef:  {"stelem.ref", InlineNone, FlowNext},
	UnboxAny:   {"unbox.any", InlineType, FlowNext},
	Endfinally: {"endfinally", InlineNone, FlowReturn},
	Leave:      {"leave", InlineBrTarget, FlowBranch},
	LeaveS:     {"leave.s", ShortInlineBrTarget, FlowBranch},
	Ceq:        {"ceq", InlineNone, FlowNext},
	Cgt:        {"cgt", InlineNone, FlowNext},
	CgtUn:      {"cgt.un", InlineNone, FlowNext},
	Clt:        {"clt", InlineNone, FlowNext},
	CltUn:      {"clt.un", InlineNone, FlowNext},
	Ldarg:      {"ldarg", InlineArg, FlowNext},
	Ldarga:     {"ldarga", InlineArg, FlowNext},
	Starg:      {"starg", InlineArg, FlowNext},
	Ldloc:      {"ldloc", InlineVar, FlowNext},
	Ldloca:     {"ldloca", InlineVar, FlowNext},
	Stloc:      {"stloc", InlineVar, FlowNext},
	Endfilter:  {"endfilter", InlineNone, FlowReturn},
	Rethrow:    {"rethrow", InlineNone, FlowThrow},
}

// short branch form -> long branch form
var longForms = map[OpCode]OpCode{
	BrS:      Br,
	BrfalseS: Brfalse,
	BrtrueS:  Brtrue,
	LeaveS:   Leave,
	BltS:     Blt,
	BltUnS:   BltUn,
	BleS:     Ble,
	BleUnS:   BleUn,
	BgtS:     Bgt,
	BgtUnS:   BgtUn,
	BgeS:     Bge,
	BgeUnS:   BgeUn,
	BeqS:     Beq,
	BneUnS:   BneUn,
}

// Valid reports whether op is a known opcode.
func (op OpCode) Valid() bool {
	_, ok := opcodes[op]
	return ok
}

func (op OpCode) String() string {
	if info, ok := opcodes[op]; ok {
		return info.name
	}
	return fmt.Sprintf("op(%#x)", uint16(op))
}

// OperandType returns the operand encoding of op.
func (op OpCode) OperandType() OperandType {
	return opcodes[op].operand
}

// FlowControl returns the control transfer kind of op.
func (op OpCode) FlowControl() FlowControl {
	return opcodes[op].flow
}

// Size returns the encoded size of the opcode itself (without operand).
func (op OpCode) Size() int {
	if op > 0xff {
		return 2
	}
	return 1
}

// IsShortBranch reports whether op uses an int8 branch displacement.
func (op OpCode) IsShortBranch() bool {
	return op.OperandType() == ShortInlineBrTarget
}

// Long returns the full width equivalent of a short branch opcode, or op itself.
func (op OpCode) Long() OpCode {
	if l, ok := longForms[op]; ok {
		return l
	}
	return op
}

func operandSize(op OpCode, operand any) int {
	switch op.OperandType() {
	case InlineNone:
		return 0
	case ShortInlineI, ShortInlineBrTarget, ShortInlineVar, ShortInlineArg:
		return 1
	case InlineVar, InlineArg:
		return 2
	case InlineI8, InlineR:
		return 8
	case InlineSwitch:
		if targets, ok := operand.(Targets); ok {
			return 4 + 4*len(targets)
		}
		return 4
	default:
		return 4
	}
}
