package engine

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/minio/blake2b-simd"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

const (
	notePlaintextLead = 0x02
	notePlaintextSize = 1 + 11 + 8 + 32 + pczt.MemoSize
	outPlaintextSize  = 32 + 32

	// noMemo marks an empty memo field (ZIP 302).
	noMemo = 0xF6
)

var (
	noteKeyPersonal = []byte("PCT_NoteSealKey_")
	outKeyPersonal  = []byte("PCT_OutCipherKey")
	nullifierDomain = fr.NewElement(0x6e66)
)

// padMemo expands a memo to the fixed field size.
func padMemo(memo []byte) ([pczt.MemoSize]byte, error) {
	var out [pczt.MemoSize]byte
	if len(memo) > pczt.MemoSize {
		return out, fmt.Errorf("memo is %d bytes, maximum is %d", len(memo), pczt.MemoSize)
	}
	if len(memo) == 0 {
		out[0] = noMemo
		return out, nil
	}
	copy(out[:], memo)
	return out, nil
}

// noteCommitment returns the extracted commitment to a note.
func noteCommitment(recipient [RecipientSize]byte, value uint64, rho, rseed [32]byte) [32]byte {
	o := openNote(recipient, value, rho, rseed)
	return o.cmx.Bytes()
}

// dummyNullifier derives the nullifier of a dummy spend from its key.
func dummyNullifier(sk [32]byte) [32]byte {
	var k fr.Element
	k.SetBytes(sk[:])
	n := mimcElements(k, nullifierDomain)
	return n.Bytes()
}

func blakeKey(personal []byte, parts ...[]byte) [32]byte {
	h, err := blake2b.New(&blake2b.Config{Size: 32, Person: personal})
	if err != nil {
		panic(err)
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Each key is used for exactly one message.
var zeroNonce [chacha20poly1305.NonceSize]byte

func seal(key [32]byte, plaintext []byte) []byte {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		panic(err)
	}
	return aead.Seal(nil, zeroNonce[:], plaintext, nil)
}

func open(key [32]byte, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, zeroNonce[:], ciphertext, nil)
}

func encryptNote(n *Note, epk [32]byte) []byte {
	pt := make([]byte, 0, notePlaintextSize)
	pt = append(pt, notePlaintextLead)
	pt = append(pt, n.Recipient[:11]...)
	pt = binary.LittleEndian.AppendUint64(pt, n.Value)
	pt = append(pt, n.Rseed[:]...)
	pt = append(pt, n.Memo[:]...)
	return seal(blakeKey(noteKeyPersonal, n.Recipient[:], epk[:]), pt)
}

// encryptOut seals the recovery data for the sender. Without an outgoing
// viewing key the ciphertext is sealed under a random key and is
// unrecoverable.
func encryptOut(ovk *[32]byte, cv [33]byte, cmx, epk [32]byte, n *Note) ([]byte, error) {
	var key [32]byte
	if ovk != nil {
		key = blakeKey(outKeyPersonal, ovk[:], cv[:], cmx[:], epk[:])
	} else if _, err := rand.Read(key[:]); err != nil {
		return nil, err
	}
	pt := make([]byte, 0, outPlaintextSize)
	pt = append(pt, n.Recipient[11:]...)
	pt = append(pt, n.Rseed[:]...)
	return seal(key, pt), nil
}

// decryptNote opens an action's note for a known recipient and checks it
// against the commitment.
func decryptNote(a *pczt.OrchardAction, recipient [RecipientSize]byte) (*Note, error) {
	if len(a.Output.EncCiphertext) != pczt.NoteCiphertextSize {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes", ErrDecryption, len(a.Output.EncCiphertext))
	}
	key := blakeKey(noteKeyPersonal, recipient[:], a.Output.EphemeralKey[:])
	pt, err := open(key, a.Output.EncCiphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if len(pt) != notePlaintextSize || pt[0] != notePlaintextLead {
		return nil, fmt.Errorf("%w: malformed plaintext", ErrDecryption)
	}
	if string(pt[1:12]) != string(recipient[:11]) {
		return nil, fmt.Errorf("%w: diversifier mismatch", ErrDecryption)
	}

	n := &Note{Recipient: recipient, Value: binary.LittleEndian.Uint64(pt[12:20])}
	copy(n.Rseed[:], pt[20:52])
	copy(n.Memo[:], pt[52:])

	if noteCommitment(recipient, n.Value, a.Spend.Nullifier, n.Rseed) != a.Output.Cmx {
		return nil, fmt.Errorf("%w: note does not match commitment", ErrDecryption)
	}
	return n, nil
}
