package ncm

import "fmt"

// KeyBox is the per-file 256-entry permutation that drives the keystream.
type KeyBox [256]byte

// BuildKeyBox runs the key schedule over the decrypted key material.
func BuildKeyBox(material []byte) (KeyBox, error) {
	var box KeyBox
	if len(material) == 0 {
		return box, fmt.Errorf("%w: empty key material", ErrCipher)
	}

	for i := range box {
		box[i] = byte(i)
	}

	var lastByte, offset int
	for i := 0; i < 256; i++ {
		swap := box[i]
		c := (int(swap) + lastByte + int(material[offset])) & 0xff
		offset++
		if offset >= len(material) {
			offset = 0
		}
		box[i] = box[c]
		box[c] = swap
		lastByte = c
	}

	return box, nil
}

// Keystream XORs payload bytes with the stream derived from a KeyBox. The
// stream byte at payload position p only depends on p mod 256, so the whole
// cycle is computed once.
type Keystream struct {
	cycle [256]byte
}

// NewKeystream precomputes the keystream cycle of box.
func NewKeystream(box KeyBox) *Keystream {
	ks := &Keystream{}
	for p := range ks.cycle {
		ks.cycle[p] = streamByte(&box, p)
	}
	return ks
}

func streamByte(box *KeyBox, p int) byte {
	j := (p + 1) & 0xff
	k := (int(box[j]) + int(box[(int(box[j])+j)&0xff])) & 0xff
	return box[k]
}

// XORKeyStreamAt writes src XOR keystream to dst, where src[0] sits at
// absolute payload position pos. dst and src may overlap exactly.
func (ks *Keystream) XORKeyStreamAt(dst, src []byte, pos int64) {
	if len(dst) < len(src) {
		panic("ncm: output smaller than input")
	}
	start := int(pos & 0xff)
	for i, b := range src {
		dst[i] = b ^ ks.cycle[(start+i)&0xff]
	}
}
