package oracle

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Fact is the verified loan record returned to the requesting contract.
type Fact struct {
	LenderIdentity string
	DebtAmount     *big.Int
	Payload        []byte
}

var factArgs = func() abi.Arguments {
	stringT, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	intT, err := abi.NewType("int256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: stringT}, {Type: intT}}
}()

// EncodeFact packs (lenderIdentity, debtAmount) as an ABI (string, int256) tuple.
func EncodeFact(lender string, debt *big.Int) ([]byte, error) {
	if debt == nil {
		return nil, fmt.Errorf("debt amount is required")
	}
	return factArgs.Pack(lender, debt)
}

// DecodeFact parses a fulfillment payload produced by EncodeFact.
func DecodeFact(payload []byte) (Fact, error) {
	values, err := factArgs.Unpack(payload)
	if err != nil {
		return Fact{}, fmt.Errorf("unpack fact: %w", err)
	}
	lender, ok := values[0].(string)
	if !ok {
		return Fact{}, fmt.Errorf("unexpected lender type %T", values[0])
	}
	debt, ok := values[1].(*big.Int)
	if !ok {
		return Fact{}, fmt.Errorf("unexpected debt type %T", values[1])
	}
	return Fact{LenderIdentity: lender, DebtAmount: debt, Payload: payload}, nil
}
