package lifecycle

import (
	"encoding/binary"
	"fmt"
)

const wordSize = 32

// EncodeClearValues packs values as 32-byte big-endian words, in order.
func EncodeClearValues(values []uint64) []byte {
	out := make([]byte, len(values)*wordSize)
	for i, v := range values {
		binary.BigEndian.PutUint64(out[(i+1)*wordSize-8:(i+1)*wordSize], v)
	}
	return out
}

// DecodeClearValues reverses EncodeClearValues. Words whose value does not fit
// in 64 bits are rejected.
func DecodeClearValues(data []byte) ([]uint64, error) {
	if len(data)%wordSize != 0 {
		return nil, fmt.Errorf("clear values length %d is not a multiple of %d", len(data), wordSize)
	}
	out := make([]uint64, 0, len(data)/wordSize)
	for off := 0; off < len(data); off += wordSize {
		word := data[off : off+wordSize]
		for _, b := range word[:wordSize-8] {
			if b != 0 {
				return nil, fmt.Errorf("clear value %d overflows uint64", off/wordSize)
			}
		}
		out = append(out, binary.BigEndian.Uint64(word[wordSize-8:]))
	}
	return out, nil
}
