package vm

import "fmt"

// Digest is the append-only, length-prefixed interned string table living
// in the STRING segment: a flat byte buffer with manual encode/decode
// rather than a map-backed intern pool.
const maxInternedStringLen = 255

type Digest struct {
	mem    *Memory
	cursor int // next free byte offset within SegString
}

func NewDigest(mem *Memory) *Digest {
	return &Digest{mem: mem}
}

// Intern returns the byte offset of s within the digest, appending it if
// not already present. A linear scan is used to find duplicates.
func (d *Digest) Intern(s string) (uint16, error) {
	if len(s) > maxInternedStringLen {
		return 0, fmt.Errorf("%w: string longer than %d bytes", errSyntaxError, maxInternedStringLen)
	}

	for offset := 0; offset < d.cursor; {
		n, err := d.mem.Read8(SegString, offset)
		if err != nil {
			return 0, err
		}
		length := int(n)
		existing, err := d.readAt(offset)
		if err != nil {
			return 0, err
		}
		if existing == s {
			return uint16(offset), nil
		}
		offset += 1 + length
	}

	start := d.cursor
	if start+1+len(s) > d.mem.size[SegString] {
		return 0, fmt.Errorf("%w: string digest exhausted", errMemoryAccess)
	}

	if err := d.mem.Write8(SegString, start, byte(len(s))); err != nil {
		return 0, err
	}
	for i := 0; i < len(s); i++ {
		if err := d.mem.Write8(SegString, start+1+i, s[i]); err != nil {
			return 0, err
		}
	}
	d.cursor = start + 1 + len(s)
	return uint16(start), nil
}

// Get returns the string stored at the given digest offset.
func (d *Digest) Get(offset uint16) (string, error) {
	return d.readAt(int(offset))
}

func (d *Digest) readAt(offset int) (string, error) {
	n, err := d.mem.Read8(SegString, offset)
	if err != nil {
		return "", err
	}
	length := int(n)
	buf := make([]byte, length)
	for i := 0; i < length; i++ {
		b, err := d.mem.Read8(SegString, offset+1+i)
		if err != nil {
			return "", err
		}
		buf[i] = b
	}
	return string(buf), nil
}
