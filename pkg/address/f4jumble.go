package address

import (
	"encoding/binary"
	"fmt"

	blake2b "github.com/minio/blake2b-simd"
)

// F4Jumble is the unkeyed 4-round Feistel permutation of ZIP 316 that
// makes every character of a unified address depend on every receiver.

const (
	f4MinLen  = 48
	f4MaxLen  = 4194368
	f4HashLen = 64
)

func f4Hash(i byte, lenL int, u []byte) []byte {
	person := append([]byte("UA_F4Jumble_H"), i, 0, 0)
	h, err := blake2b.New(&blake2b.Config{Size: uint8(lenL), Person: person})
	if err != nil {
		panic(err)
	}
	h.Write(u)
	return h.Sum(nil)
}

func f4Expand(i byte, lenR int, u []byte) []byte {
	out := make([]byte, 0, lenR+f4HashLen)
	for j := 0; len(out) < lenR; j++ {
		person := append([]byte("UA_F4Jumble_G"), i)
		person = binary.LittleEndian.AppendUint16(person, uint16(j))
		h, err := blake2b.New(&blake2b.Config{Size: f4HashLen, Person: person})
		if err != nil {
			panic(err)
		}
		h.Write(u)
		out = h.Sum(out)
	}
	return out[:lenR]
}

func xorInto(dst, mask []byte) {
	for i := range dst {
		dst[i] ^= mask[i]
	}
}

func f4Split(m []byte) (int, error) {
	if len(m) < f4MinLen || len(m) > f4MaxLen {
		return 0, fmt.Errorf("f4jumble: message length %d out of range", len(m))
	}
	return min(f4HashLen, len(m)/2), nil
}

// F4Jumble permutes m.
func F4Jumble(m []byte) ([]byte, error) {
	lenL, err := f4Split(m)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), m...)
	a, b := out[:lenL], out[lenL:]

	xorInto(b, f4Expand(0, len(b), a)) // x
	xorInto(a, f4Hash(0, lenL, b))     // y
	xorInto(b, f4Expand(1, len(b), a)) // d
	xorInto(a, f4Hash(1, lenL, b))     // c
	return out, nil
}

// F4JumbleInv inverts F4Jumble.
func F4JumbleInv(m []byte) ([]byte, error) {
	lenL, err := f4Split(m)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), m...)
	c, d := out[:lenL], out[lenL:]

	xorInto(c, f4Hash(1, lenL, d))     // y
	xorInto(d, f4Expand(1, len(d), c)) // x
	xorInto(c, f4Hash(0, lenL, d))     // a
	xorInto(d, f4Expand(0, len(d), c)) // b
	return out, nil
}
