package plutusdata

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// Constr is a tagged constructor application, the Plutus encoding of sum and
// product types. Fields may hold []byte, int64, *big.Int, Constr or []any.
type Constr struct {
	Index  uint64
	Fields []any
}

func (c Constr) MarshalCBOR() ([]byte, error) {
	fields := c.Fields
	if fields == nil {
		fields = []any{}
	}
	switch {
	case c.Index <= 6:
		return cbor.Marshal(cbor.Tag{Number: tagConstrBase + c.Index, Content: fields})
	case c.Index <= 127:
		return cbor.Marshal(cbor.Tag{Number: tagConstrExtended + c.Index - 7, Content: fields})
	default:
		return cbor.Marshal(cbor.Tag{Number: tagConstrGeneral, Content: []any{c.Index, fields}})
	}
}

// Encode serialises a Plutus data value.
func Encode(v any) ([]byte, error) {
	if err := checkEncodable(v); err != nil {
		return nil, err
	}
	return cbor.Marshal(v)
}

func checkEncodable(v any) error {
	switch node := v.(type) {
	case Constr:
		for i, f := range node.Fields {
			if err := checkEncodable(f); err != nil {
				return fmt.Errorf("field %d: %w", i, err)
			}
		}
		return nil
	case []any:
		for i, item := range node {
			if err := checkEncodable(item); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		return nil
	case []byte, int64, *big.Int:
		return nil
	default:
		return fmt.Errorf("plutusdata: cannot encode %T", v)
	}
}
