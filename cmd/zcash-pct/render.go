package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/suffix-labs/zcash-pct/pkg/api"
	"github.com/suffix-labs/zcash-pct/pkg/roles"
	"github.com/suffix-labs/zcash-pct/pkg/zip321"
)

func zec(zat uint64) string {
	return zip321.FormatAmount(zat) + " ZEC"
}

func renderSummary(s *api.Summary) error {
	rows := pterm.TableData{
		{"Field", "Value"},
		{"TxID", s.TxID},
		{"Network", s.Network},
		{"Branch ID", fmt.Sprintf("0x%08x", s.BranchID)},
		{"Expiry height", strconv.FormatUint(uint64(s.ExpiryHeight), 10)},
		{"Inputs", fmt.Sprintf("%d (%s)", s.Inputs, zec(s.TotalInput))},
		{"Transparent outputs", fmt.Sprintf("%d (%s)", s.TransparentOutputs, zec(s.TotalTransparentOutput))},
		{"Orchard actions", fmt.Sprintf("%d (%s)", s.Actions, zec(s.TotalShieldedOutput))},
		{"Change", zec(s.Change)},
		{"Fee", fmt.Sprintf("%d zat", s.Fee)},
		{"Signatures", fmt.Sprintf("%d/%d", s.SignaturesPresent, s.Inputs)},
		{"Proofs", fmt.Sprintf("%d/%d", s.ProofsPresent, s.Actions)},
		{"Ready", strconv.FormatBool(s.Ready)},
	}
	if s.RecordedFee != nil && int64(*s.RecordedFee) != s.Fee {
		rows = append(rows, []string{"Recorded fee", fmt.Sprintf("%d zat (does not match)", *s.RecordedFee)})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}
	renderMissing(s.Missing)
	return nil
}

func renderMissing(missing []string) {
	if len(missing) == 0 {
		return
	}
	items := make([]pterm.BulletListItem, 0, len(missing))
	for _, m := range missing {
		items = append(items, pterm.BulletListItem{Level: 0, Text: m})
	}
	pterm.Warning.Println("Missing:")
	_ = pterm.DefaultBulletList.WithItems(items).Render()
}

func renderReport(r *roles.VerificationReport) error {
	rows := pterm.TableData{{"Check", "Result", "Reason"}}
	for _, c := range r.Checks {
		result := pterm.Green("pass")
		if !c.Passed {
			result = pterm.Red("FAIL")
		}
		rows = append(rows, []string{c.Name, result, c.Reason})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}
	for _, w := range r.Warnings {
		pterm.Warning.Println(w)
	}
	if r.Valid {
		pterm.Success.Println("PCZT matches the payment request")
	} else {
		pterm.Error.Println("PCZT does not match the payment request, do not sign it")
	}
	return nil
}

func renderPaymentRequest(req *zip321.PaymentRequest) error {
	rows := pterm.TableData{{"#", "Address", "Amount", "Memo", "Label", "Message"}}
	for i, p := range req.Payments {
		memo := ""
		if p.Memo != nil {
			memo = strings.ToValidUTF8(strings.TrimRight(string(p.Memo), "\x00"), "?")
		}
		rows = append(rows, []string{
			strconv.Itoa(i), p.Address, zec(p.Amount), memo, p.Label, p.Message,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
