// Package pczt serialization implements the container encoding.
//
//	File format: "PCZT" (4 bytes) || version (u32le) || body
//
// The body uses a postcard-style wire format: LEB128 lengths, 0x00/0x01
// option tags, little-endian fixed-width integers. Map entries are written
// in ascending key order and the decoder rejects anything it would not
// write itself (unsorted maps, non-canonical varints, trailing bytes), so
// Serialize(Parse(b)) reproduces b exactly.
package pczt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/suffix-labs/zcash-pct/pkg/params"
)

const (
	MagicBytes   = "PCZT"
	PCZTVersion1 = uint32(1)

	headerSize = 8
)

// Serialize encodes a PCZT to bytes.
func Serialize(p *PCZT) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("serialize: nil PCZT")
	}
	e := &encoder{}
	e.buf.WriteString(MagicBytes)
	e.u32(PCZTVersion1)
	e.global(&p.Global)
	e.transparent(&p.Transparent)
	e.orchard(&p.Orchard)
	return e.buf.Bytes(), nil
}

// Parse decodes a PCZT from bytes.
func Parse(data []byte) (*PCZT, error) {
	if len(data) < headerSize {
		return nil, &ParseError{Message: "data too short", Offset: len(data)}
	}
	if string(data[:4]) != MagicBytes {
		return nil, &ParseError{Message: "invalid magic bytes", Offset: 0}
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != PCZTVersion1 {
		return nil, &ParseError{Message: fmt.Sprintf("unsupported version %d", v), Offset: 4}
	}

	d := &decoder{data: data, off: headerSize}
	p := &PCZT{}
	d.global(&p.Global)
	d.transparent(&p.Transparent)
	d.orchard(&p.Orchard)
	if d.err == nil && d.off != len(d.data) {
		d.fail("%d trailing bytes", len(d.data)-d.off)
	}
	if d.err != nil {
		return nil, d.err
	}
	return p, nil
}

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) u8(v uint8) { e.buf.WriteByte(v) }

func (e *encoder) u32(v uint32) {
	e.buf.Write(binary.LittleEndian.AppendUint32(nil, v))
}

func (e *encoder) u64(v uint64) {
	e.buf.Write(binary.LittleEndian.AppendUint64(nil, v))
}

func (e *encoder) boolean(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) varint(n uint64) {
	e.buf.Write(binary.AppendUvarint(nil, n))
}

func (e *encoder) raw(b []byte) { e.buf.Write(b) }

func (e *encoder) bytes(b []byte) {
	e.varint(uint64(len(b)))
	e.buf.Write(b)
}

func (e *encoder) str(s string) {
	e.varint(uint64(len(s)))
	e.buf.WriteString(s)
}

// optBytes treats an empty slice as absent.
func (e *encoder) optBytes(b []byte) {
	e.boolean(len(b) > 0)
	if len(b) > 0 {
		e.bytes(b)
	}
}

func (e *encoder) optU32(v *uint32) {
	e.boolean(v != nil)
	if v != nil {
		e.u32(*v)
	}
}

func (e *encoder) optU64(v *uint64) {
	e.boolean(v != nil)
	if v != nil {
		e.u64(*v)
	}
}

func (e *encoder) optStr(s *string) {
	e.boolean(s != nil)
	if s != nil {
		e.str(*s)
	}
}

func (e *encoder) opt32(v *[32]byte) {
	e.boolean(v != nil)
	if v != nil {
		e.raw(v[:])
	}
}

func (e *encoder) opt43(v *[43]byte) {
	e.boolean(v != nil)
	if v != nil {
		e.raw(v[:])
	}
}

func (e *encoder) opt64(v *[64]byte) {
	e.boolean(v != nil)
	if v != nil {
		e.raw(v[:])
	}
}

func (e *encoder) proprietary(m map[string][]byte) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	e.varint(uint64(len(keys)))
	for _, k := range keys {
		e.str(k)
		e.bytes(m[k])
	}
}

func sortedKeys33[V any](m map[[33]byte]V) [][33]byte {
	keys := make([][33]byte, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b [33]byte) int { return bytes.Compare(a[:], b[:]) })
	return keys
}

func (e *encoder) derivations(m map[[33]byte]Zip32Derivation) {
	keys := sortedKeys33(m)
	e.varint(uint64(len(keys)))
	for _, k := range keys {
		e.raw(k[:])
		d := m[k]
		e.raw(d.SeedFingerprint[:])
		e.varint(uint64(len(d.DerivationPath)))
		for _, idx := range d.DerivationPath {
			e.u32(idx)
		}
	}
}

func (e *encoder) global(g *Global) {
	e.u32(g.TxVersion)
	e.u32(g.VersionGroupID)
	e.u32(g.ConsensusBranchID)
	e.optU32(g.FallbackLockTime)
	e.u32(g.ExpiryHeight)
	e.u32(g.CoinType)
	e.u8(uint8(g.Network))
	e.u8(g.TxModifiable)
	e.proprietary(g.Proprietary)
}

func (e *encoder) transparent(tb *TransparentBundle) {
	e.varint(uint64(len(tb.Inputs)))
	for i := range tb.Inputs {
		in := &tb.Inputs[i]
		e.raw(in.PrevoutTxID[:])
		e.u32(in.PrevoutIndex)
		e.optU32(in.Sequence)
		e.u64(in.Value)
		e.bytes(in.ScriptPubKey)
		e.optBytes(in.RedeemScript)
		e.u8(in.SighashType)
		e.optBytes(in.ScriptSig)

		keys := sortedKeys33(in.PartialSignatures)
		e.varint(uint64(len(keys)))
		for _, k := range keys {
			e.raw(k[:])
			e.bytes(in.PartialSignatures[k])
		}
		e.derivations(in.Bip32Derivation)
		e.proprietary(in.Proprietary)
	}

	e.varint(uint64(len(tb.Outputs)))
	for i := range tb.Outputs {
		out := &tb.Outputs[i]
		e.u64(out.Value)
		e.bytes(out.ScriptPubKey)
		e.optStr(out.UserAddress)
		e.boolean(out.Change)
		e.derivations(out.Bip32Derivation)
		e.proprietary(out.Proprietary)
	}
}

func (e *encoder) orchard(ob *OrchardBundle) {
	e.varint(uint64(len(ob.Actions)))
	for i := range ob.Actions {
		a := &ob.Actions[i]
		e.raw(a.CvNet[:])

		e.raw(a.Spend.Nullifier[:])
		e.raw(a.Spend.Rk[:])
		e.opt64(a.Spend.SpendAuthSig)
		e.optU64(a.Spend.Value)
		e.opt32(a.Spend.DummySk)
		e.proprietary(a.Spend.Proprietary)

		e.raw(a.Output.Cmx[:])
		e.raw(a.Output.EphemeralKey[:])
		e.bytes(a.Output.EncCiphertext)
		e.bytes(a.Output.OutCiphertext)
		e.opt43(a.Output.Recipient)
		e.optU64(a.Output.Value)
		e.opt32(a.Output.Rseed)
		e.optStr(a.Output.UserAddress)
		e.proprietary(a.Output.Proprietary)

		e.opt32(a.Rcv)
		e.optBytes(a.Proof)
	}
	e.u8(ob.Flags)
	e.u64(uint64(ob.ValueBalance))
	e.raw(ob.Anchor[:])
	e.opt32(ob.Bsk)
	e.opt64(ob.BindingSig)
}

// decoder reads the body with a sticky error: once a read fails every later
// read is a no-op and the first failure is reported.
type decoder struct {
	data []byte
	off  int
	err  *ParseError
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = &ParseError{Message: fmt.Sprintf(format, args...), Offset: d.off}
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > len(d.data)-d.off {
		d.fail("unexpected end of data reading %d bytes", n)
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) boolean() bool {
	switch v := d.u8(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		d.off--
		d.fail("invalid bool/option tag 0x%02x", v)
		return false
	}
}

func (d *decoder) varint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.data[d.off:])
	if n <= 0 {
		d.fail("invalid varint")
		return 0
	}
	if n > 1 && d.data[d.off+n-1] == 0 {
		d.fail("non-canonical varint")
		return 0
	}
	d.off += n
	return v
}

// length reads a collection length and bounds it by the remaining input,
// given that every element occupies at least minElem bytes.
func (d *decoder) length(minElem int) int {
	n := d.varint()
	if d.err != nil {
		return 0
	}
	if n > uint64(len(d.data)-d.off)/uint64(minElem) {
		d.fail("length %d exceeds remaining data", n)
		return 0
	}
	return int(n)
}

func (d *decoder) array(dst []byte) {
	if b := d.take(len(dst)); b != nil {
		copy(dst, b)
	}
}

func (d *decoder) bytes() []byte {
	n := d.length(1)
	b := d.take(n)
	if b == nil {
		return []byte{}
	}
	return append([]byte{}, b...)
}

func (d *decoder) str() string {
	return string(d.bytes())
}

func (d *decoder) optBytes() []byte {
	if !d.boolean() {
		return nil
	}
	b := d.bytes()
	if d.err == nil && len(b) == 0 {
		d.fail("present optional byte string is empty")
	}
	return b
}

func (d *decoder) optU32() *uint32 {
	if !d.boolean() {
		return nil
	}
	v := d.u32()
	return &v
}

func (d *decoder) optU64() *uint64 {
	if !d.boolean() {
		return nil
	}
	v := d.u64()
	return &v
}

func (d *decoder) optStr() *string {
	if !d.boolean() {
		return nil
	}
	s := d.str()
	return &s
}

func (d *decoder) opt32() *[32]byte {
	if !d.boolean() {
		return nil
	}
	var v [32]byte
	d.array(v[:])
	return &v
}

func (d *decoder) opt43() *[43]byte {
	if !d.boolean() {
		return nil
	}
	var v [43]byte
	d.array(v[:])
	return &v
}

func (d *decoder) opt64() *[64]byte {
	if !d.boolean() {
		return nil
	}
	var v [64]byte
	d.array(v[:])
	return &v
}

func (d *decoder) proprietary() map[string][]byte {
	n := d.length(2)
	m := make(map[string][]byte, n)
	prev := ""
	for i := 0; i < n && d.err == nil; i++ {
		k := d.str()
		if i > 0 && k <= prev {
			d.fail("proprietary keys not in ascending order")
			return m
		}
		m[k] = d.bytes()
		prev = k
	}
	return m
}

func (d *decoder) key33(prev *[33]byte, first bool) [33]byte {
	var k [33]byte
	d.array(k[:])
	if !first && bytes.Compare(k[:], prev[:]) <= 0 {
		d.fail("map keys not in ascending order")
	}
	*prev = k
	return k
}

func (d *decoder) derivations() map[[33]byte]Zip32Derivation {
	n := d.length(33 + 32 + 1)
	m := make(map[[33]byte]Zip32Derivation, n)
	var prev [33]byte
	for i := 0; i < n && d.err == nil; i++ {
		k := d.key33(&prev, i == 0)
		var z Zip32Derivation
		d.array(z.SeedFingerprint[:])
		pathLen := d.length(4)
		z.DerivationPath = make([]uint32, pathLen)
		for j := range z.DerivationPath {
			z.DerivationPath[j] = d.u32()
		}
		m[k] = z
	}
	return m
}

func (d *decoder) global(g *Global) {
	g.TxVersion = d.u32()
	g.VersionGroupID = d.u32()
	g.ConsensusBranchID = d.u32()
	g.FallbackLockTime = d.optU32()
	g.ExpiryHeight = d.u32()
	g.CoinType = d.u32()
	g.Network = params.Network(d.u8())
	if d.err == nil && !g.Network.Valid() {
		d.fail("unknown network %d", g.Network)
	}
	g.TxModifiable = d.u8()
	g.Proprietary = d.proprietary()
}

func (d *decoder) transparent(tb *TransparentBundle) {
	n := d.length(32 + 4 + 1 + 8 + 1 + 1 + 1 + 1 + 1 + 1 + 1)
	tb.Inputs = make([]TransparentInput, n)
	for i := 0; i < n && d.err == nil; i++ {
		in := &tb.Inputs[i]
		d.array(in.PrevoutTxID[:])
		in.PrevoutIndex = d.u32()
		in.Sequence = d.optU32()
		in.Value = d.u64()
		in.ScriptPubKey = d.bytes()
		in.RedeemScript = d.optBytes()
		in.SighashType = d.u8()
		in.ScriptSig = d.optBytes()

		sigs := d.length(33 + 1)
		in.PartialSignatures = make(map[[33]byte][]byte, sigs)
		var prev [33]byte
		for j := 0; j < sigs && d.err == nil; j++ {
			k := d.key33(&prev, j == 0)
			in.PartialSignatures[k] = d.bytes()
		}
		in.Bip32Derivation = d.derivations()
		in.Proprietary = d.proprietary()
	}

	n = d.length(8 + 1 + 1 + 1 + 1 + 1)
	tb.Outputs = make([]TransparentOutput, n)
	for i := 0; i < n && d.err == nil; i++ {
		out := &tb.Outputs[i]
		out.Value = d.u64()
		out.ScriptPubKey = d.bytes()
		out.UserAddress = d.optStr()
		out.Change = d.boolean()
		out.Bip32Derivation = d.derivations()
		out.Proprietary = d.proprietary()
	}
}

func (d *decoder) orchard(ob *OrchardBundle) {
	n := d.length(33 + 32 + 33 + 32 + 32)
	ob.Actions = make([]OrchardAction, n)
	for i := 0; i < n && d.err == nil; i++ {
		a := &ob.Actions[i]
		d.array(a.CvNet[:])

		d.array(a.Spend.Nullifier[:])
		d.array(a.Spend.Rk[:])
		a.Spend.SpendAuthSig = d.opt64()
		a.Spend.Value = d.optU64()
		a.Spend.DummySk = d.opt32()
		a.Spend.Proprietary = d.proprietary()

		d.array(a.Output.Cmx[:])
		d.array(a.Output.EphemeralKey[:])
		a.Output.EncCiphertext = d.bytes()
		a.Output.OutCiphertext = d.bytes()
		a.Output.Recipient = d.opt43()
		a.Output.Value = d.optU64()
		a.Output.Rseed = d.opt32()
		a.Output.UserAddress = d.optStr()
		a.Output.Proprietary = d.proprietary()

		a.Rcv = d.opt32()
		a.Proof = d.optBytes()
	}
	ob.Flags = d.u8()
	ob.ValueBalance = int64(d.u64())
	d.array(ob.Anchor[:])
	ob.Bsk = d.opt32()
	ob.BindingSig = d.opt64()
}
