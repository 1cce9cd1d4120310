package engine

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	stdmimc "github.com/consensys/gnark/std/hash/mimc"
)

// noteCircuit proves knowledge of a note opening the public commitment.
// Rho is the nullifier of the action's spend, which ties each output to
// the action it was laid out in.
type noteCircuit struct {
	Cmx frontend.Variable `gnark:",public"`
	Rho frontend.Variable `gnark:",public"`

	Diversifier frontend.Variable
	Pkd         frontend.Variable
	Value       frontend.Variable
	Rseed       frontend.Variable
}

func (c *noteCircuit) Define(api frontend.API) error {
	api.ToBinary(c.Value, 64)

	h, err := stdmimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Diversifier, c.Pkd, c.Value, c.Rho, c.Rseed)
	api.AssertIsEqual(c.Cmx, h.Sum())
	return nil
}

// noteOpening holds the circuit inputs as field elements.
type noteOpening struct {
	cmx, rho, diversifier, pkd, value, rseed fr.Element
}

func openNote(recipient [RecipientSize]byte, value uint64, rho, rseed [32]byte) noteOpening {
	var o noteOpening
	o.diversifier.SetBytes(recipient[:11])
	o.pkd.SetBytes(recipient[11:])
	o.value.SetUint64(value)
	o.rho.SetBytes(rho[:])
	o.rseed.SetBytes(rseed[:])
	o.cmx = mimcElements(o.diversifier, o.pkd, o.value, o.rho, o.rseed)
	return o
}

func (o *noteOpening) assignment() *noteCircuit {
	return &noteCircuit{
		Cmx:         bigInt(o.cmx),
		Rho:         bigInt(o.rho),
		Diversifier: bigInt(o.diversifier),
		Pkd:         bigInt(o.pkd),
		Value:       bigInt(o.value),
		Rseed:       bigInt(o.rseed),
	}
}

func publicAssignment(cmx, rho [32]byte) *noteCircuit {
	var c, r fr.Element
	c.SetBytes(cmx[:])
	r.SetBytes(rho[:])
	return &noteCircuit{Cmx: bigInt(c), Rho: bigInt(r)}
}

func bigInt(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}

// mimcElements hashes canonical field elements, one 32-byte block each.
func mimcElements(elems ...fr.Element) fr.Element {
	h := mimc.NewMiMC()
	for i := range elems {
		b := elems[i].Bytes()
		h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// ============================================================================
// Proving material
// ============================================================================

type material struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

const (
	provingKeyFile   = "note.pk"
	verifyingKeyFile = "note.vk"
)

func compileCircuit() (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &noteCircuit{})
	if err != nil {
		return nil, fmt.Errorf("compile note circuit: %w", err)
	}
	return ccs, nil
}

// loadMaterial compiles the circuit and reads the keys from dir, running
// the setup and persisting its output when they are absent.
func loadMaterial(dir string) (*material, error) {
	ccs, err := compileCircuit()
	if err != nil {
		return nil, err
	}
	m := &material{ccs: ccs}

	if dir != "" {
		m.pk = groth16.NewProvingKey(ecc.BN254)
		m.vk = groth16.NewVerifyingKey(ecc.BN254)
		errPK := readKey(filepath.Join(dir, provingKeyFile), m.pk)
		errVK := readKey(filepath.Join(dir, verifyingKeyFile), m.vk)
		if errPK == nil && errVK == nil {
			return m, nil
		}
		if !errors.Is(errPK, os.ErrNotExist) && errPK != nil {
			return nil, fmt.Errorf("read proving key: %w", errPK)
		}
		if !errors.Is(errVK, os.ErrNotExist) && errVK != nil {
			return nil, fmt.Errorf("read verifying key: %w", errVK)
		}
	}

	m.pk, m.vk, err = groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup: %w", err)
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
		if err := writeKey(filepath.Join(dir, provingKeyFile), m.pk); err != nil {
			return nil, fmt.Errorf("write proving key: %w", err)
		}
		if err := writeKey(filepath.Join(dir, verifyingKeyFile), m.vk); err != nil {
			return nil, fmt.Errorf("write verifying key: %w", err)
		}
	}
	return m, nil
}

func readKey(path string, key io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = key.ReadFrom(f)
	return err
}

// writeKey writes through a temporary file so a crash never leaves a
// truncated key behind.
func writeKey(path string, key io.WriterTo) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := key.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
