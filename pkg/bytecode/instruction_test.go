package bytecode

import (
	"errors"
	"testing"
)

func TestOpcodeNames(t *testing.T) {
	tests := []struct {
		op    Opcode
		name  string
		width int
	}{
		{OpNop, "nop", 0},
		{OpIconstM1, "iconst_m1", 0},
		{OpBipush, "bipush", 1},
		{OpSipush, "sipush", 2},
		{OpLdc2W, "ldc2_w", 2},
		{OpIinc, "iinc", 2},
		{OpIfIcmpge, "if_icmpge", 2},
		{OpInvokeinterface, "invokeinterface", 4},
		{OpMultianewarray, "multianewarray", 3},
		{OpGotoW, "goto_w", 4},
		{OpTableswitch, "tableswitch", Variable},
		{OpWide, "wide", Variable},
	}
	for _, tt := range tests {
		if tt.op.String() != tt.name || tt.op.OperandWidth() != tt.width {
			t.Errorf("0x%02x: got %s/%d, want %s/%d", uint8(tt.op), tt.op, tt.op.OperandWidth(), tt.name, tt.width)
		}
	}
	if Opcode(0xCA).Known() {
		t.Error("breakpoint should not be a known opcode")
	}
}

func TestDecodeFixedWidth(t *testing.T) {
	code := []byte{
		byte(OpBipush), 0xFE,
		byte(OpSipush), 0x01, 0x00,
		byte(OpIinc), 0x02, 0xFF,
		byte(OpGoto), 0xFF, 0xF8,
	}
	pcs := []struct {
		pc   int
		op   Opcode
		size int
	}{{0, OpBipush, 2}, {2, OpSipush, 3}, {5, OpIinc, 3}, {8, OpGoto, 3}}
	for _, want := range pcs {
		ins, err := Decode(code, want.pc)
		if err != nil {
			t.Fatalf("pc %d: %v", want.pc, err)
		}
		if ins.Op != want.op || ins.Len != want.size {
			t.Errorf("pc %d: got %s/%d, want %s/%d", want.pc, ins.Op, ins.Len, want.op, want.size)
		}
	}

	ins, _ := Decode(code, 0)
	if ins.I8(0) != -2 {
		t.Errorf("bipush operand: got %d", ins.I8(0))
	}
	ins, _ = Decode(code, 2)
	if ins.I16(0) != 256 {
		t.Errorf("sipush operand: got %d", ins.I16(0))
	}
	ins, _ = Decode(code, 8)
	if ins.I16(0) != -8 {
		t.Errorf("goto offset: got %d", ins.I16(0))
	}
}

func TestDecodeTableSwitch(t *testing.T) {
	// pc 1: opcode, then 2 bytes padding to reach offset 4
	code := []byte{
		byte(OpNop),
		byte(OpTableswitch), 0, 0,
		0, 0, 0, 40, // default
		0, 0, 0, 1, // low
		0, 0, 0, 3, // high
		0, 0, 0, 10,
		0, 0, 0, 20,
		0, 0, 0, 30,
	}
	ins, err := Decode(code, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ins.Len != len(code)-1 {
		t.Errorf("len: got %d, want %d", ins.Len, len(code)-1)
	}
	def, low, offsets := ins.TableSwitch()
	if def != 40 || low != 1 || len(offsets) != 3 || offsets[2] != 30 {
		t.Errorf("got def=%d low=%d offsets=%v", def, low, offsets)
	}

	if _, err := Decode(code[:len(code)-1], 1); !errors.Is(err, ErrTruncated) {
		t.Errorf("truncated: got %v", err)
	}
}

func TestDecodeLookupSwitch(t *testing.T) {
	code := []byte{
		byte(OpLookupswitch), 0, 0, 0,
		0xFF, 0xFF, 0xFF, 0xFC, // default -4
		0, 0, 0, 2, // npairs
		0, 0, 0, 5, 0, 0, 0, 8,
		0, 0, 1, 0, 0, 0, 0, 12,
	}
	ins, err := Decode(code, 0)
	if err != nil {
		t.Fatal(err)
	}
	def, keys, offsets := ins.LookupSwitch()
	if def != -4 || len(keys) != 2 || keys[1] != 256 || offsets[1] != 12 {
		t.Errorf("got def=%d keys=%v offsets=%v", def, keys, offsets)
	}
}

func TestDecodeWide(t *testing.T) {
	code := []byte{
		byte(OpWide), byte(OpIinc), 0x01, 0x00, 0xFF, 0x9C,
		byte(OpWide), byte(OpAload), 0x01, 0x02,
	}
	ins, err := Decode(code, 0)
	if err != nil {
		t.Fatal(err)
	}
	op, idx, delta := ins.Wide()
	if ins.Len != 6 || op != OpIinc || idx != 256 || delta != -100 {
		t.Errorf("wide iinc: got len=%d %s %d %d", ins.Len, op, idx, delta)
	}
	ins, err = Decode(code, 6)
	if err != nil {
		t.Fatal(err)
	}
	op, idx, _ = ins.Wide()
	if ins.Len != 4 || op != OpAload || idx != 258 {
		t.Errorf("wide aload: got len=%d %s %d", ins.Len, op, idx)
	}
	if _, err := Decode([]byte{byte(OpWide), byte(OpNop)}, 0); !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("wide nop: got %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		pc   int
		want error
	}{
		{"pc past end", []byte{byte(OpNop)}, 1, ErrTruncated},
		{"negative pc", []byte{byte(OpNop)}, -1, ErrTruncated},
		{"missing operand", []byte{byte(OpSipush), 0x01}, 0, ErrTruncated},
		{"unknown opcode", []byte{0xFE}, 0, ErrUnknownOpcode},
		{"inverted tableswitch", []byte{byte(OpTableswitch), 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 5, 0, 0, 0, 1}, 0, ErrBadSwitch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.code, tt.pc); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}
