package item

// Felts splits the first bitCount bits of b into consecutive field elements
// of width bits each. Bits are read little endian within and across bytes,
// the last felt holds what remains.
func Felts(b []byte, bitCount, width int) []uint64 {
	n := (bitCount + width - 1) / width
	felts := make([]uint64, n)
	for i := range felts {
		lo := i * width
		w := width
		if lo+w > bitCount {
			w = bitCount - lo
		}
		felts[i] = readBits(b, lo, w)
	}
	return felts
}

// FromFelts is the inverse of Felts, writing into a buffer of byteCount bytes.
// Felt bits beyond width are ignored.
func FromFelts(felts []uint64, bitCount, width, byteCount int) []byte {
	out := make([]byte, byteCount)
	for i, felt := range felts {
		lo := i * width
		w := width
		if lo+w > bitCount {
			w = bitCount - lo
		}
		if w <= 0 {
			break
		}
		writeBits(out, lo, w, felt)
	}
	return out
}

// Felts of a hashed item
func (h HashedItem) Felts(bitCount, width int) []uint64 {
	return Felts(h[:], bitCount, width)
}

func readBits(b []byte, lo, w int) uint64 {
	var v uint64
	for k := 0; k < w; k++ {
		pos := lo + k
		if pos/8 >= len(b) {
			break
		}
		if b[pos/8]>>(uint(pos)%8)&1 == 1 {
			v |= 1 << uint(k)
		}
	}
	return v
}

func writeBits(b []byte, lo, w int, v uint64) {
	for k := 0; k < w; k++ {
		pos := lo + k
		if pos/8 >= len(b) {
			return
		}
		if v>>uint(k)&1 == 1 {
			b[pos/8] |= 1 << (uint(pos) % 8)
		}
	}
}
