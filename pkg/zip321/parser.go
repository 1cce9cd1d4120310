// Package zip321 implements the ZIP 321 payment request URI format.
//
// URI Format:
//
//	zcash:<address>?amount=<amount>&memo=<memo>&message=<message>
//
// Multiple recipients use indexed parameters; the unindexed form is
// payment 0:
//
//	zcash:?address=<addr0>&amount=<amt0>&address.1=<addr1>&amount.1=<amt1>
//
// Amounts are decimal ZEC with at most 8 fractional digits and are held as
// exact zatoshi values. Memos travel as unpadded base64url.
//
// See: https://zips.z.cash/zip-0321
package zip321

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	Scheme        = "zcash:"
	ZatoshiPerZEC = 100_000_000
	MaxMemoSize   = 512
	maxIndex      = 9999
)

// MaxAmount is the total money supply in zatoshis.
const MaxAmount uint64 = 21_000_000 * ZatoshiPerZEC

var ErrInvalidURI = errors.New("invalid payment request")

// PaymentRequest is an ordered list of payments.
type PaymentRequest struct {
	Payments []Payment
}

// Payment is one recipient of a payment request.
type Payment struct {
	Address string
	Amount  uint64 // zatoshis
	Memo    []byte // Raw memo bytes, at most MaxMemoSize
	Label   string
	Message string
}

// Total sums the payment amounts.
func (r *PaymentRequest) Total() (uint64, error) {
	var total uint64
	for i, p := range r.Payments {
		if p.Amount > MaxAmount-total {
			return 0, fmt.Errorf("payment %d: total exceeds maximum money", i)
		}
		total += p.Amount
	}
	return total, nil
}

// Parse parses a ZIP 321 payment request URI.
func Parse(uri string) (*PaymentRequest, error) {
	rest, ok := strings.CutPrefix(uri, Scheme)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q scheme", ErrInvalidURI, Scheme)
	}
	base, query, _ := strings.Cut(rest, "?")

	byIndex := map[int]*Payment{}
	get := func(i int) *Payment {
		if byIndex[i] == nil {
			byIndex[i] = &Payment{}
		}
		return byIndex[i]
	}
	if base != "" {
		addr, err := url.PathUnescape(base)
		if err != nil {
			return nil, fmt.Errorf("%w: address: %v", ErrInvalidURI, err)
		}
		get(0).Address = addr
	}

	seen := map[string]bool{}
	if query != "" {
		for _, pair := range strings.Split(query, "&") {
			rawKey, rawValue, _ := strings.Cut(pair, "=")
			if seen[rawKey] {
				return nil, fmt.Errorf("%w: duplicate parameter %q", ErrInvalidURI, rawKey)
			}
			seen[rawKey] = true

			name, idx, err := splitParam(rawKey)
			if err != nil {
				return nil, err
			}
			value, err := url.QueryUnescape(rawValue)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidURI, rawKey, err)
			}
			if err := setParam(get(idx), name, value, base != "" && idx == 0); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidURI, rawKey, err)
			}
		}
	}

	if len(byIndex) == 0 {
		return nil, fmt.Errorf("%w: no payments", ErrInvalidURI)
	}
	indices := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	req := &PaymentRequest{Payments: make([]Payment, 0, len(indices))}
	for _, i := range indices {
		p := byIndex[i]
		if p.Address == "" {
			return nil, fmt.Errorf("%w: payment %d has no address", ErrInvalidURI, i)
		}
		req.Payments = append(req.Payments, *p)
	}
	if _, err := req.Total(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	return req, nil
}

// splitParam separates "name.N" into name and index. Indices have no
// leading zeros and payment 0 is written without a suffix.
func splitParam(key string) (string, int, error) {
	name, suffix, indexed := strings.Cut(key, ".")
	if !indexed {
		return name, 0, nil
	}
	if suffix == "" || len(suffix) > 4 || suffix[0] == '0' {
		return "", 0, fmt.Errorf("%w: bad parameter index in %q", ErrInvalidURI, key)
	}
	idx, err := strconv.Atoi(suffix)
	if err != nil || idx > maxIndex {
		return "", 0, fmt.Errorf("%w: bad parameter index in %q", ErrInvalidURI, key)
	}
	return name, idx, nil
}

func setParam(p *Payment, name, value string, hasBaseAddress bool) error {
	switch name {
	case "address":
		if hasBaseAddress {
			return errors.New("address given twice")
		}
		p.Address = value
	case "amount":
		amount, err := ParseAmount(value)
		if err != nil {
			return err
		}
		p.Amount = amount
	case "memo":
		memo, err := DecodeMemo(value)
		if err != nil {
			return err
		}
		p.Memo = memo
	case "label":
		p.Label = value
	case "message":
		p.Message = value
	default:
		if strings.HasPrefix(name, "req-") {
			return fmt.Errorf("unsupported required parameter %q", name)
		}
	}
	return nil
}

// ParseAmount converts a decimal ZEC string to zatoshis without floating
// point.
func ParseAmount(s string) (uint64, error) {
	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" || (hasDot && (frac == "" || len(frac) > 8)) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	for _, part := range []string{whole, frac} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("invalid amount %q", s)
			}
		}
	}
	zec, err := strconv.ParseUint(whole, 10, 64)
	if err != nil || zec > MaxAmount/ZatoshiPerZEC {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	var zat uint64
	if frac != "" {
		frac += strings.Repeat("0", 8-len(frac))
		zat, _ = strconv.ParseUint(frac, 10, 64)
	}
	total := zec*ZatoshiPerZEC + zat
	if total > MaxAmount {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return total, nil
}

// FormatAmount renders zatoshis as decimal ZEC without trailing zeros.
func FormatAmount(zat uint64) string {
	s := fmt.Sprintf("%d.%08d", zat/ZatoshiPerZEC, zat%ZatoshiPerZEC)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// DecodeMemo decodes an unpadded base64url memo.
func DecodeMemo(s string) ([]byte, error) {
	memo, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("memo is not base64url: %w", err)
	}
	if len(memo) > MaxMemoSize {
		return nil, fmt.Errorf("memo is %d bytes, maximum is %d", len(memo), MaxMemoSize)
	}
	return memo, nil
}

// EncodeMemo encodes memo bytes for a URI.
func EncodeMemo(memo []byte) string {
	return base64.RawURLEncoding.EncodeToString(memo)
}

// ============================================================================
// Encoding
// ============================================================================

// Encode creates a ZIP 321 URI. A single payment uses the address-in-path
// form; several payments use indexed parameters.
func (r *PaymentRequest) Encode() string {
	if len(r.Payments) == 1 {
		p := r.Payments[0]
		uri := Scheme + p.Address
		if q := encodeParams(p, ""); q != "" {
			uri += "?" + q
		}
		return uri
	}

	parts := make([]string, 0, len(r.Payments))
	for i, p := range r.Payments {
		suffix := ""
		if i > 0 {
			suffix = "." + strconv.Itoa(i)
		}
		part := "address" + suffix + "=" + url.QueryEscape(p.Address)
		if q := encodeParams(p, suffix); q != "" {
			part += "&" + q
		}
		parts = append(parts, part)
	}
	return Scheme + "?" + strings.Join(parts, "&")
}

func encodeParams(p Payment, suffix string) string {
	var parts []string
	if p.Amount > 0 {
		parts = append(parts, "amount"+suffix+"="+FormatAmount(p.Amount))
	}
	if len(p.Memo) > 0 {
		parts = append(parts, "memo"+suffix+"="+EncodeMemo(p.Memo))
	}
	if p.Label != "" {
		parts = append(parts, "label"+suffix+"="+url.QueryEscape(p.Label))
	}
	if p.Message != "" {
		parts = append(parts, "message"+suffix+"="+url.QueryEscape(p.Message))
	}
	return strings.Join(parts, "&")
}
