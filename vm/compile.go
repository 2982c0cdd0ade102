package vm

import "fmt"

// Compiler appends bytes/words/floats to the CODE segment and tracks two
// cursors: BCP (base code pointer, the start of the current top-level
// unit) and CP (current code pointer, the write head). A REPL line
// compiles at CP, and on success BCP catches up to CP (the "preserve"
// flag); on failure CP rewinds to BCP so a bad line leaves no
// half-compiled bytecode behind.
type Compiler struct {
	mem      *Memory
	bcp      int
	cp       int
	preserve bool
}

const maxCodeAddress = 1 << 15

func NewCompiler(mem *Memory) *Compiler {
	return &Compiler{mem: mem}
}

func (c *Compiler) CP() int  { return c.cp }
func (c *Compiler) BCP() int { return c.bcp }

// SetPreserve marks whether Reset should advance BCP to CP (keep what was
// just compiled) or rewind CP back to BCP (discard it).
func (c *Compiler) SetPreserve(p bool) { c.preserve = p }

// Reset applies the preserve flag and clears it.
func (c *Compiler) Reset() {
	if c.preserve {
		c.bcp = c.cp
	} else {
		c.cp = c.bcp
	}
	c.preserve = false
}

// Mark returns the current CP, used by control structures to remember
// branch-origin positions.
func (c *Compiler) Mark() int { return c.cp }

func (c *Compiler) EmitU8(b byte) error {
	if err := c.mem.Write8(SegCode, c.cp, b); err != nil {
		return err
	}
	c.cp++
	return nil
}

func (c *Compiler) EmitU16(w uint16) error {
	if err := c.mem.Write16(SegCode, c.cp, w); err != nil {
		return err
	}
	c.cp += 2
	return nil
}

func (c *Compiler) EmitF32(f float32) error {
	if err := c.mem.WriteFloat32(SegCode, c.cp, f); err != nil {
		return err
	}
	c.cp += 4
	return nil
}

// EmitTaggedAddress emits a tagged CODE value pointing at addr.
func (c *Compiler) EmitTaggedAddress(addr uint16, isBlock bool) error {
	return c.EmitF32(MakeCode(addr, isBlock))
}

// EmitOpcode writes the 1-byte form for opcodes below 128, else a 2-byte
// extended form: 0x80|hi, lo.
func (c *Compiler) EmitOpcode(op Opcode) error {
	if OpcodeByteWidth(op) == 1 {
		return c.EmitU8(byte(op))
	}
	if int(op) >= maxCodeAddress {
		return fmt.Errorf("%w: opcode %d", errInvalidOpcodeAddress, op)
	}
	if err := c.EmitU8(byte(extendedOpcodeBase | (int(op) >> 8))); err != nil {
		return err
	}
	return c.EmitU8(byte(op))
}

// PatchU16 overwrites a previously reserved 16-bit slot, used to back-patch
// forward branches.
func (c *Compiler) PatchU16(pos int, v uint16) error {
	return c.mem.Write16(SegCode, pos, v)
}

// DecodeOpcode reads the opcode at ip, returning it and the number of
// bytes consumed.
func (c *Compiler) DecodeOpcode(ip int) (Opcode, int, error) {
	b, err := c.mem.Read8(SegCode, ip)
	if err != nil {
		return 0, 0, err
	}
	if b < extendedOpcodeBase {
		return Opcode(b), 1, nil
	}
	b2, err := c.mem.Read8(SegCode, ip+1)
	if err != nil {
		return 0, 0, err
	}
	return Opcode(b2), 2, nil
}

// CheckAddress validates a branch/call target lies in [0, maxCodeAddress),
// i.e. below 2^15.
func (c *Compiler) CheckAddress(addr int) error {
	if addr < 0 || addr >= maxCodeAddress {
		return errInvalidOpcodeAddress
	}
	return nil
}
