// Package crypto implements the ZIP 244 transaction digests and the
// secp256k1 operations used by transparent inputs.
//
// ZIP 244 commits to a v5 transaction through four component digests
// (header, transparent, sapling, orchard). The txid hashes them together
// under a branch-specific personalization; signature digests replace the
// transparent component with a per-input variant.
//
// References:
//   - ZIP 244: https://zips.z.cash/zip-0244
package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"

	blake2b "github.com/minio/blake2b-simd"

	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

// BLAKE2b-256 personalizations (16 bytes each).
const (
	TxHashPersonalizationPrefix = "ZcashTxHash_" // followed by LE32 branch ID

	HeaderDigestPersonalization      = "ZTxIdHeadersHash"
	TransparentDigestPersonalization = "ZTxIdTranspaHash"
	SaplingDigestPersonalization     = "ZTxIdSaplingHash"
	OrchardDigestPersonalization     = "ZTxIdOrchardHash"

	PrevoutDigestPersonalization  = "ZTxIdPrevoutHash"
	SequenceDigestPersonalization = "ZTxIdSequencHash"
	OutputsDigestPersonalization  = "ZTxIdOutputsHash"
	AmountsDigestPersonalization  = "ZTxTrAmountsHash"
	ScriptsDigestPersonalization  = "ZTxTrScriptsHash"
	TxInDigestPersonalization     = "Zcash___TxInHash"

	OrchardActionsCompactPersonalization    = "ZTxIdOrcActCHash"
	OrchardActionsMemosPersonalization      = "ZTxIdOrcActMHash"
	OrchardActionsNoncompactPersonalization = "ZTxIdOrcActNHash"
)

// Split points of the note ciphertext used by the Orchard digests.
const (
	compactCiphertextSize = 52
	memoCiphertextEnd     = compactCiphertextSize + pczt.MemoSize
)

// Digests are the four ZIP 244 component digests of a transaction.
type Digests struct {
	Header      [32]byte
	Transparent [32]byte
	Sapling     [32]byte
	Orchard     [32]byte
}

type digestWriter struct {
	hash.Hash
}

func newDigest(person string) digestWriter {
	h, err := blake2b.New(&blake2b.Config{Size: 32, Person: []byte(person)})
	if err != nil {
		// Only reachable with an invalid static configuration.
		panic(err)
	}
	return digestWriter{h}
}

func (w digestWriter) u32(v uint32) { w.Write(binary.LittleEndian.AppendUint32(nil, v)) }
func (w digestWriter) u64(v uint64) { w.Write(binary.LittleEndian.AppendUint64(nil, v)) }

func (w digestWriter) script(s []byte) {
	w.Write(AppendCompactSize(nil, uint64(len(s))))
	w.Write(s)
}

func (w digestWriter) sum() (d [32]byte) {
	copy(d[:], w.Sum(nil))
	return d
}

func txHashPersonalization(branchID uint32) string {
	b := []byte(TxHashPersonalizationPrefix)
	return string(binary.LittleEndian.AppendUint32(b, branchID))
}

// ComputeDigests computes the txid component digests of p.
func ComputeDigests(p *pczt.PCZT) Digests {
	return Digests{
		Header:      headerDigest(&p.Global),
		Transparent: transparentTxIDDigest(&p.Transparent),
		Sapling:     newDigest(SaplingDigestPersonalization).sum(),
		Orchard:     orchardDigest(&p.Orchard),
	}
}

// TxID returns the ZIP 244 transaction identifier in internal byte order.
func TxID(p *pczt.PCZT) [32]byte {
	d := ComputeDigests(p)
	return rootDigest(p.Global.ConsensusBranchID, d.Header, d.Transparent, d.Sapling, d.Orchard)
}

// FormatTxID renders a txid the way block explorers do (byte-reversed hex).
func FormatTxID(txid [32]byte) string {
	var rev [32]byte
	for i := range txid {
		rev[i] = txid[31-i]
	}
	return hex.EncodeToString(rev[:])
}

// ParseTxID reverses FormatTxID.
func ParseTxID(s string) ([32]byte, error) {
	var txid [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return txid, fmt.Errorf("txid: %w", err)
	}
	if len(b) != 32 {
		return txid, fmt.Errorf("txid must be 32 bytes, got %d", len(b))
	}
	for i := range txid {
		txid[i] = b[31-i]
	}
	return txid, nil
}

// ShieldedSighash is the digest signed by spend authorization and binding
// signatures. It commits to all transparent data through the txid digest.
func ShieldedSighash(p *pczt.PCZT) [32]byte {
	return TxID(p)
}

// TransparentSighash computes the signature digest for one transparent
// input under the given hash type.
func TransparentSighash(p *pczt.PCZT, inputIndex uint32, hashType uint8) ([32]byte, error) {
	if int(inputIndex) >= len(p.Transparent.Inputs) {
		return [32]byte{}, &pczt.SighashError{
			Code:       pczt.ErrIndexOutOfRange,
			InputIndex: inputIndex,
			Message:    "input index out of bounds",
		}
	}
	if !pczt.ValidSighashType(hashType) {
		return [32]byte{}, &pczt.SighashError{
			Code:       pczt.ErrInvalidSighashType,
			InputIndex: inputIndex,
			Message:    "unsupported sighash type " + hex.EncodeToString([]byte{hashType}),
		}
	}
	d := ComputeDigests(p)
	t := transparentSigDigest(&p.Transparent, inputIndex, hashType)
	return rootDigest(p.Global.ConsensusBranchID, d.Header, t, d.Sapling, d.Orchard), nil
}

func rootDigest(branchID uint32, parts ...[32]byte) [32]byte {
	w := newDigest(txHashPersonalization(branchID))
	for _, part := range parts {
		w.Write(part[:])
	}
	return w.sum()
}

func headerDigest(g *pczt.Global) [32]byte {
	w := newDigest(HeaderDigestPersonalization)
	w.u32(g.TxVersion | 1<<31) // overwintered
	w.u32(g.VersionGroupID)
	w.u32(g.ConsensusBranchID)
	w.u32(g.LockTime())
	w.u32(g.ExpiryHeight)
	return w.sum()
}

func transparentTxIDDigest(tb *pczt.TransparentBundle) [32]byte {
	w := newDigest(TransparentDigestPersonalization)
	if len(tb.Inputs) == 0 && len(tb.Outputs) == 0 {
		return w.sum()
	}
	prevouts := prevoutsDigest(tb.Inputs)
	sequences := sequenceDigest(tb.Inputs)
	outputs := outputsDigest(tb.Outputs)
	w.Write(prevouts[:])
	w.Write(sequences[:])
	w.Write(outputs[:])
	return w.sum()
}

func transparentSigDigest(tb *pczt.TransparentBundle, index uint32, hashType uint8) [32]byte {
	anyoneCanPay := hashType&pczt.SighashAnyoneCanPay != 0
	base := hashType &^ pczt.SighashAnyoneCanPay

	var prevouts, amounts, scripts, sequences [32]byte
	if anyoneCanPay {
		prevouts = newDigest(PrevoutDigestPersonalization).sum()
		amounts = newDigest(AmountsDigestPersonalization).sum()
		scripts = newDigest(ScriptsDigestPersonalization).sum()
		sequences = newDigest(SequenceDigestPersonalization).sum()
	} else {
		prevouts = prevoutsDigest(tb.Inputs)
		amounts = amountsDigest(tb.Inputs)
		scripts = scriptsDigest(tb.Inputs)
		sequences = sequenceDigest(tb.Inputs)
	}

	var outputs [32]byte
	switch {
	case base == pczt.SighashAll:
		outputs = outputsDigest(tb.Outputs)
	case base == pczt.SighashSingle && int(index) < len(tb.Outputs):
		outputs = outputsDigest(tb.Outputs[index : index+1])
	default:
		outputs = newDigest(OutputsDigestPersonalization).sum()
	}

	txin := txInDigest(&tb.Inputs[index])

	w := newDigest(TransparentDigestPersonalization)
	w.Write([]byte{hashType})
	for _, d := range [][32]byte{prevouts, amounts, scripts, sequences, outputs, txin} {
		w.Write(d[:])
	}
	return w.sum()
}

func prevoutsDigest(inputs []pczt.TransparentInput) [32]byte {
	w := newDigest(PrevoutDigestPersonalization)
	for i := range inputs {
		w.Write(inputs[i].PrevoutTxID[:])
		w.u32(inputs[i].PrevoutIndex)
	}
	return w.sum()
}

func amountsDigest(inputs []pczt.TransparentInput) [32]byte {
	w := newDigest(AmountsDigestPersonalization)
	for i := range inputs {
		w.u64(inputs[i].Value)
	}
	return w.sum()
}

func scriptsDigest(inputs []pczt.TransparentInput) [32]byte {
	w := newDigest(ScriptsDigestPersonalization)
	for i := range inputs {
		w.script(inputs[i].ScriptPubKey)
	}
	return w.sum()
}

func sequenceDigest(inputs []pczt.TransparentInput) [32]byte {
	w := newDigest(SequenceDigestPersonalization)
	for i := range inputs {
		w.u32(inputs[i].SequenceOrDefault())
	}
	return w.sum()
}

func outputsDigest(outputs []pczt.TransparentOutput) [32]byte {
	w := newDigest(OutputsDigestPersonalization)
	for i := range outputs {
		w.u64(outputs[i].Value)
		w.script(outputs[i].ScriptPubKey)
	}
	return w.sum()
}

func txInDigest(in *pczt.TransparentInput) [32]byte {
	w := newDigest(TxInDigestPersonalization)
	w.Write(in.PrevoutTxID[:])
	w.u32(in.PrevoutIndex)
	w.u64(in.Value)
	w.script(in.ScriptPubKey)
	w.u32(in.SequenceOrDefault())
	return w.sum()
}

func orchardDigest(ob *pczt.OrchardBundle) [32]byte {
	w := newDigest(OrchardDigestPersonalization)
	if len(ob.Actions) == 0 {
		return w.sum()
	}

	compact := newDigest(OrchardActionsCompactPersonalization)
	memos := newDigest(OrchardActionsMemosPersonalization)
	noncompact := newDigest(OrchardActionsNoncompactPersonalization)
	for i := range ob.Actions {
		a := &ob.Actions[i]
		enc := a.Output.EncCiphertext

		compact.Write(a.Spend.Nullifier[:])
		compact.Write(a.Output.Cmx[:])
		compact.Write(a.Output.EphemeralKey[:])
		compact.Write(ciphertextPart(enc, 0, compactCiphertextSize))

		memos.Write(ciphertextPart(enc, compactCiphertextSize, memoCiphertextEnd))

		noncompact.Write(a.CvNet[:])
		noncompact.Write(a.Spend.Rk[:])
		noncompact.Write(ciphertextPart(enc, memoCiphertextEnd, len(enc)))
		noncompact.Write(a.Output.OutCiphertext)
	}

	for _, d := range [][32]byte{compact.sum(), memos.sum(), noncompact.sum()} {
		w.Write(d[:])
	}
	w.Write([]byte{ob.Flags})
	w.u64(uint64(ob.ValueBalance))
	w.Write(ob.Anchor[:])
	return w.sum()
}

// ciphertextPart returns enc[from:to] clamped to the slice length, so a
// malformed ciphertext still produces a (different) digest.
func ciphertextPart(enc []byte, from, to int) []byte {
	if from > len(enc) {
		return nil
	}
	if to > len(enc) {
		to = len(enc)
	}
	return enc[from:to]
}

// AppendCompactSize appends a Bitcoin-style CompactSize length.
func AppendCompactSize(b []byte, n uint64) []byte {
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
