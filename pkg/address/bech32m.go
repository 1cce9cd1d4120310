package address

import (
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// bech32m (BIP 350) without the 90 character limit: unified addresses are
// routinely longer. Bit regrouping is delegated to the bech32 package.

const (
	bech32Charset    = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	bech32mConstant  = 0x2bc830a3
	bech32ChecksumLn = 6
)

var bech32Generator = [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

func bech32Polymod(values []byte) uint32 {
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i, g := range bech32Generator {
			if (top>>uint(i))&1 == 1 {
				chk ^= g
			}
		}
	}
	return chk
}

func hrpExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]>>5)
	}
	out = append(out, 0)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]&31)
	}
	return out
}

func bech32mChecksum(hrp string, data []byte) []byte {
	values := append(hrpExpand(hrp), data...)
	values = append(values, make([]byte, bech32ChecksumLn)...)
	mod := bech32Polymod(values) ^ bech32mConstant
	out := make([]byte, bech32ChecksumLn)
	for i := range out {
		out[i] = byte(mod>>uint(5*(5-i))) & 31
	}
	return out
}

// encodeBech32m encodes 8-bit data under hrp.
func encodeBech32m(hrp string, data []byte) (string, error) {
	conv, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.Grow(len(hrp) + 1 + len(conv) + bech32ChecksumLn)
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, v := range append(conv, bech32mChecksum(hrp, conv)...) {
		sb.WriteByte(bech32Charset[v])
	}
	return sb.String(), nil
}

// decodeBech32m returns the hrp and 8-bit payload of s.
func decodeBech32m(s string) (string, []byte, error) {
	lower := strings.ToLower(s)
	if lower != s && strings.ToUpper(s) != s {
		return "", nil, invalid("mixed case")
	}
	s = lower

	sep := strings.LastIndexByte(s, '1')
	if sep < 1 || sep+1+bech32ChecksumLn > len(s) {
		return "", nil, invalid("missing separator or checksum")
	}
	hrp := s[:sep]
	for i := 0; i < len(hrp); i++ {
		if hrp[i] < 33 || hrp[i] > 126 {
			return "", nil, invalid("invalid hrp character")
		}
	}

	data := make([]byte, 0, len(s)-sep-1)
	for _, c := range s[sep+1:] {
		idx := strings.IndexRune(bech32Charset, c)
		if idx < 0 {
			return "", nil, invalid("invalid character %q", c)
		}
		data = append(data, byte(idx))
	}
	if bech32Polymod(append(hrpExpand(hrp), data...)) != bech32mConstant {
		return "", nil, invalid("bech32m checksum mismatch")
	}

	conv, err := bech32.ConvertBits(data[:len(data)-bech32ChecksumLn], 5, 8, false)
	if err != nil {
		return "", nil, invalid("regroup bits: %v", err)
	}
	return hrp, conv, nil
}
