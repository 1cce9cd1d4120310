package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"

	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

var errIdentity = errors.New("point at infinity")

// valueBase is the generator values are committed against. It is derived
// by hashing to the curve so that its discrete log relative to G is
// unknown.
var valueBase = sync.OnceValue(func() secp256k1.JacobianPoint {
	tag := []byte("zcash-pct:value-commitment-base")
	for ctr := uint32(0); ; ctr++ {
		x := sha256.Sum256(binary.LittleEndian.AppendUint32(tag, ctr))
		pub, err := secp256k1.ParsePubKey(append([]byte{0x02}, x[:]...))
		if err != nil {
			continue
		}
		var p secp256k1.JacobianPoint
		pub.AsJacobian(&p)
		return p
	}
})

func scalarFromValue(v uint64) secp256k1.ModNScalar {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	var s secp256k1.ModNScalar
	s.SetByteSlice(b[:])
	return s
}

func scalarFromBalance(v int64) secp256k1.ModNScalar {
	if v >= 0 {
		return scalarFromValue(uint64(v))
	}
	s := scalarFromValue(uint64(-v))
	s.Negate()
	return s
}

// commitValue computes v*V + rcv*G.
func commitValue(v, rcv *secp256k1.ModNScalar) secp256k1.JacobianPoint {
	base := valueBase()
	var vv, rg, sum secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(v, &base, &vv)
	secp256k1.ScalarBaseMultNonConst(rcv, &rg)
	secp256k1.AddNonConst(&vv, &rg, &sum)
	return sum
}

func serializePoint(p secp256k1.JacobianPoint) ([33]byte, error) {
	var out [33]byte
	if isInfinity(&p) {
		return out, errIdentity
	}
	p.ToAffine()
	copy(out[:], secp256k1.NewPublicKey(&p.X, &p.Y).SerializeCompressed())
	return out, nil
}

func isInfinity(p *secp256k1.JacobianPoint) bool {
	p.Z.Normalize()
	return p.Z.IsZero()
}

func parsePoint(b []byte) (secp256k1.JacobianPoint, error) {
	var p secp256k1.JacobianPoint
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return p, err
	}
	pub.AsJacobian(&p)
	return p, nil
}

// bindingKey sums the value commitment randomness of every action.
func bindingKey(actions []pczt.OrchardAction) (secp256k1.ModNScalar, error) {
	var bsk secp256k1.ModNScalar
	for i := range actions {
		rcv := actions[i].Rcv
		if rcv == nil {
			return bsk, fmt.Errorf("action %d: %w: value commitment randomness", i, ErrMissingWitness)
		}
		var r secp256k1.ModNScalar
		if overflow := r.SetBytes(rcv); overflow != 0 {
			return bsk, fmt.Errorf("action %d: randomness out of range", i)
		}
		bsk.Add(&r)
	}
	return bsk, nil
}

// bindingValidatingKey is the sum of the value commitments with the value
// balance removed, leaving a commitment to zero under bsk.
func bindingValidatingKey(b *pczt.OrchardBundle) (*secp256k1.PublicKey, error) {
	var sum secp256k1.JacobianPoint
	for i := range b.Actions {
		cv, err := parsePoint(b.Actions[i].CvNet[:])
		if err != nil {
			return nil, fmt.Errorf("action %d: value commitment: %w", i, err)
		}
		var next secp256k1.JacobianPoint
		secp256k1.AddNonConst(&sum, &cv, &next)
		sum = next
	}

	vb := scalarFromBalance(b.ValueBalance)
	vb.Negate()
	base := valueBase()
	var balance, bvk secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&vb, &base, &balance)
	secp256k1.AddNonConst(&sum, &balance, &bvk)

	if isInfinity(&bvk) {
		return nil, errIdentity
	}
	bvk.ToAffine()
	return secp256k1.NewPublicKey(&bvk.X, &bvk.Y), nil
}

func schnorrSign(key *secp256k1.PrivateKey, hash [32]byte) ([64]byte, error) {
	var out [64]byte
	sig, err := schnorr.Sign(key, hash[:])
	if err != nil {
		return out, err
	}
	copy(out[:], sig.Serialize())
	return out, nil
}

func schnorrVerify(pub *secp256k1.PublicKey, hash [32]byte, sig []byte) error {
	s, err := schnorr.ParseSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !s.Verify(hash[:], pub) {
		return ErrBadSignature
	}
	return nil
}
