package address

import (
	"encoding/binary"

	"github.com/suffix-labs/zcash-pct/pkg/params"
)

// Receiver typecodes (ZIP 316).
const (
	TypecodeP2PKH   = 0x00
	TypecodeP2SH    = 0x01
	TypecodeSapling = 0x02
	TypecodeOrchard = 0x03
)

// OrchardReceiverSize is the raw size of an Orchard receiver: an 11-byte
// diversifier followed by the 32-byte diversified transmission key.
const OrchardReceiverSize = 43

const uaPaddingLen = 16

var unifiedHRPs = map[params.Network]string{
	params.Mainnet: "u",
	params.Testnet: "utest",
	params.Regtest: "uregtest",
}

// Unified is a decoded unified address. Only the Orchard receiver is used
// for payments; the others are kept so the address re-encodes unchanged.
type Unified struct {
	Net         params.Network
	Orchard     *[OrchardReceiverSize]byte
	Sapling     []byte
	Transparent *Transparent
	Unknown     []Receiver
}

// Receiver is a typecode-tagged receiver not interpreted by this package.
type Receiver struct {
	Typecode uint64
	Data     []byte
}

// DecodeUnified parses a unified address for net.
func DecodeUnified(s string, net params.Network) (*Unified, error) {
	hrp, raw, err := decodeBech32m(s)
	if err != nil {
		return nil, err
	}
	if hrp != unifiedHRPs[net] {
		for other, h := range unifiedHRPs {
			if h == hrp {
				return nil, invalid("unified address is for %s, expected %s", other, net)
			}
		}
		return nil, invalid("unknown unified address prefix %q", hrp)
	}

	plain, err := F4JumbleInv(raw)
	if err != nil {
		return nil, invalid("%v", err)
	}
	body, padding := plain[:len(plain)-uaPaddingLen], plain[len(plain)-uaPaddingLen:]
	if string(padding) != string(uaPadding(hrp)) {
		return nil, invalid("bad padding")
	}

	ua := &Unified{Net: net}
	var prev uint64
	for first := true; len(body) > 0; first = false {
		typecode, n := readCompactSize(body)
		if n == 0 {
			return nil, invalid("truncated typecode")
		}
		body = body[n:]
		length, n := readCompactSize(body)
		if n == 0 || uint64(len(body)-n) < length {
			return nil, invalid("truncated receiver")
		}
		value := body[n : n+int(length)]
		body = body[n+int(length):]

		if !first && typecode <= prev {
			return nil, invalid("receivers out of order")
		}
		prev = typecode
		if err := ua.setReceiver(typecode, value); err != nil {
			return nil, err
		}
	}

	if ua.Orchard == nil && ua.Sapling == nil {
		return nil, invalid("no shielded receiver")
	}
	return ua, nil
}

func (u *Unified) setReceiver(typecode uint64, value []byte) error {
	switch typecode {
	case TypecodeP2PKH, TypecodeP2SH:
		if u.Transparent != nil {
			return invalid("more than one transparent receiver")
		}
		kind := P2PKH
		if typecode == TypecodeP2SH {
			kind = P2SH
		}
		t, err := NewTransparent(kind, value, u.Net)
		if err != nil {
			return err
		}
		u.Transparent = t
	case TypecodeSapling:
		if len(value) != 43 {
			return invalid("sapling receiver must be 43 bytes")
		}
		u.Sapling = append([]byte(nil), value...)
	case TypecodeOrchard:
		if len(value) != OrchardReceiverSize {
			return invalid("orchard receiver must be %d bytes", OrchardReceiverSize)
		}
		var r [OrchardReceiverSize]byte
		copy(r[:], value)
		u.Orchard = &r
	default:
		u.Unknown = append(u.Unknown, Receiver{Typecode: typecode, Data: append([]byte(nil), value...)})
	}
	return nil
}

func (u *Unified) Network() params.Network { return u.Net }

// String encodes the address. Encoding errors are impossible for receivers
// produced by DecodeUnified or NewOrchardUnified.
func (u *Unified) String() string {
	s, err := u.Encode()
	if err != nil {
		return ""
	}
	return s
}

// Encode serializes the receivers in typecode order and applies F4Jumble
// and bech32m.
func (u *Unified) Encode() (string, error) {
	var body []byte
	add := func(tc uint64, data []byte) {
		body = appendCompactSize(body, tc)
		body = appendCompactSize(body, uint64(len(data)))
		body = append(body, data...)
	}
	if u.Transparent != nil {
		tc := uint64(TypecodeP2PKH)
		if u.Transparent.Kind == P2SH {
			tc = TypecodeP2SH
		}
		add(tc, u.Transparent.Hash[:])
	}
	if u.Sapling != nil {
		add(TypecodeSapling, u.Sapling)
	}
	if u.Orchard != nil {
		add(TypecodeOrchard, u.Orchard[:])
	}
	for _, r := range u.Unknown {
		add(r.Typecode, r.Data)
	}

	hrp := unifiedHRPs[u.Net]
	jumbled, err := F4Jumble(append(body, uaPadding(hrp)...))
	if err != nil {
		return "", err
	}
	return encodeBech32m(hrp, jumbled)
}

// NewOrchardUnified builds an Orchard-only unified address.
func NewOrchardUnified(receiver [OrchardReceiverSize]byte, net params.Network) *Unified {
	return &Unified{Net: net, Orchard: &receiver}
}

func uaPadding(hrp string) []byte {
	p := make([]byte, uaPaddingLen)
	copy(p, hrp)
	return p
}

func appendCompactSize(b []byte, n uint64) []byte {
	switch {
	case n < 0xfd:
		return append(b, byte(n))
	case n <= 0xffff:
		return binary.LittleEndian.AppendUint16(append(b, 0xfd), uint16(n))
	case n <= 0xffffffff:
		return binary.LittleEndian.AppendUint32(append(b, 0xfe), uint32(n))
	default:
		return binary.LittleEndian.AppendUint64(append(b, 0xff), n)
	}
}

// readCompactSize returns the value and the number of bytes consumed, or
// zero bytes when b is truncated or the encoding is not minimal.
func readCompactSize(b []byte) (uint64, int) {
	if len(b) == 0 {
		return 0, 0
	}
	var v uint64
	var n int
	switch b[0] {
	case 0xfd:
		if len(b) < 3 {
			return 0, 0
		}
		v, n = uint64(binary.LittleEndian.Uint16(b[1:])), 3
		if v < 0xfd {
			return 0, 0
		}
	case 0xfe:
		if len(b) < 5 {
			return 0, 0
		}
		v, n = uint64(binary.LittleEndian.Uint32(b[1:])), 5
		if v <= 0xffff {
			return 0, 0
		}
	case 0xff:
		if len(b) < 9 {
			return 0, 0
		}
		v, n = binary.LittleEndian.Uint64(b[1:]), 9
		if v <= 0xffffffff {
			return 0, 0
		}
	default:
		v, n = uint64(b[0]), 1
	}
	return v, n
}
