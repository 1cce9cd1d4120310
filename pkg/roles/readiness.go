package roles

import (
	"fmt"

	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

// Readiness reports whether a PCZT can be finalized and, if not, what it
// is still waiting on.
type Readiness struct {
	Ready   bool     `json:"ready"`
	Missing []string `json:"missing"`
}

// CheckReadiness lists every missing signature and proof. Items are named
// so they can be shown to a user as is.
func CheckReadiness(p *pczt.PCZT) Readiness {
	missing := []string{}
	for i := range p.Transparent.Inputs {
		in := &p.Transparent.Inputs[i]
		switch {
		case in.IsSigned():
		case in.RequiredSignatures() > 1:
			missing = append(missing, fmt.Sprintf("transparent input %d: %d of %d signatures",
				i, len(in.PartialSignatures), in.RequiredSignatures()))
		default:
			missing = append(missing, fmt.Sprintf("transparent input %d: signature", i))
		}
	}
	for i := range p.Orchard.Actions {
		a := &p.Orchard.Actions[i]
		if !a.HasProof() {
			missing = append(missing, fmt.Sprintf("orchard action %d: proof", i))
		}
		if a.Spend.SpendAuthSig == nil {
			missing = append(missing, fmt.Sprintf("orchard action %d: spend authorization", i))
		}
	}
	if len(p.Orchard.Actions) > 0 && p.Orchard.Bsk == nil && p.Orchard.BindingSig == nil {
		missing = append(missing, "orchard bundle: binding key")
	}
	return Readiness{Ready: len(missing) == 0, Missing: missing}
}
