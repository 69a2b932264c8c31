package utxo

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Ghost-Capital/lendex-catalyst/internal/plutusdata"
)

// Hash28 is a payment credential hash.
type Hash28 [28]byte

func ParseHash28(s string) (Hash28, error) {
	var h Hash28
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return h, ErrInvalidLoan.Withf("credential hash is not hex")
	}
	if len(raw) != len(h) {
		return h, ErrInvalidLoan.Withf("credential hash must be 28 bytes, got %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func (h Hash28) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash28) IsZero() bool {
	return h == Hash28{}
}

// Fee is the rational multiplier n/d applied to the principal on repayment.
type Fee struct {
	N int64 `json:"n"`
	D int64 `json:"d"`
}

func (f Fee) Validate() error {
	if f.D <= 0 || f.N < 0 {
		return ErrInvalidLoan.Withf("fee must satisfy n >= 0 and d > 0, got %d/%d", f.N, f.D)
	}
	return nil
}

// Settlement is the amount owed to the lender: amount + ceil(amount * n / d),
// computed exactly. A settlement that does not fit in int64 lovelace is refused.
func Settlement(amount int64, fee Fee) (int64, error) {
	if err := fee.Validate(); err != nil {
		return 0, err
	}
	principal := decimal.NewFromInt(amount)
	q, r := principal.Mul(decimal.NewFromInt(fee.N)).QuoRem(decimal.NewFromInt(fee.D), 0)
	if r.Sign() > 0 {
		q = q.Add(decimal.NewFromInt(1))
	}
	total := principal.Add(q)
	if total.GreaterThan(maxLovelace) {
		return 0, ErrInvalidLoan.Withf("settlement of %d at %d/%d exceeds the lovelace range", amount, fee.N, fee.D)
	}
	return total.IntPart(), nil
}

var maxLovelace = decimal.NewFromInt(math.MaxInt64)

// Datum is the loan record carried inline by the locked output.
type Datum struct {
	Lender   Hash28
	Borrower Hash28
	Amount   int64
	Deadline int64
	Fee      Fee
}

func (d Datum) Encode() ([]byte, error) {
	return plutusdata.Encode(plutusdata.Constr{Fields: []any{
		d.Lender[:],
		d.Borrower[:],
		d.Amount,
		d.Deadline,
		plutusdata.Constr{Fields: []any{d.Fee.N, d.Fee.D}},
	}})
}

func DecodeDatum(raw []byte) (Datum, error) {
	tree, err := plutusdata.Decode(raw)
	if err != nil {
		return Datum{}, err
	}
	fields, ok := plutusdata.List(tree)
	if !ok || len(fields) != 5 {
		return Datum{}, plutusdata.ErrMalformedRecord.Withf("loan datum must have 5 fields")
	}

	var d Datum
	for i, dst := range []*Hash28{&d.Lender, &d.Borrower} {
		s, ok := plutusdata.Bytes(fields[i])
		if !ok {
			return Datum{}, plutusdata.ErrMalformedRecord.Withf("field %d is not a byte string", i)
		}
		h, err := ParseHash28(s)
		if err != nil {
			return Datum{}, plutusdata.ErrMalformedRecord.With(err)
		}
		*dst = h
	}
	if d.Amount, err = int64Field(fields[2], "amount"); err != nil {
		return Datum{}, err
	}
	if d.Deadline, err = int64Field(fields[3], "deadline"); err != nil {
		return Datum{}, err
	}
	fee, ok := plutusdata.List(fields[4])
	if !ok || len(fee) != 2 {
		return Datum{}, plutusdata.ErrMalformedRecord.Withf("fee must be {n, d}")
	}
	if d.Fee.N, err = int64Field(fee[0], "fee.n"); err != nil {
		return Datum{}, err
	}
	if d.Fee.D, err = int64Field(fee[1], "fee.d"); err != nil {
		return Datum{}, err
	}
	return d, nil
}

func int64Field(v any, name string) (int64, error) {
	i, ok := plutusdata.Int(v)
	if !ok || !i.IsInt64() {
		return 0, plutusdata.ErrMalformedRecord.Withf("%s is not a 64-bit integer", name)
	}
	return i.Int64(), nil
}

// Redeemers of the lending validators.
var (
	RedeemerBorrow = mustEncode(plutusdata.Constr{Index: 0})
	RedeemerPay    = mustEncode(plutusdata.Constr{Index: 1})
)

func mustEncode(v any) []byte {
	raw, err := plutusdata.Encode(v)
	if err != nil {
		panic(fmt.Sprintf("utxo: encode redeemer: %v", err))
	}
	return raw
}
