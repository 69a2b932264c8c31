// Package plutusdata decodes and encodes the tagged CBOR records (Plutus data)
// stored as inline datums on the UTxO ledger.
package plutusdata

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/Ghost-Capital/lendex-catalyst/internal/apperr"
)

// ErrMalformedRecord is returned for any input that is not a single well-formed
// Plutus data item.
var ErrMalformedRecord = apperr.Validation("MalformedRecord", "malformed plutus data record")

const (
	tagConstrBase     = 121
	tagConstrExtended = 1280
	tagConstrGeneral  = 102
)

var decMode = func() cbor.DecMode {
	mode, err := cbor.DecOptions{
		BigIntDec:       cbor.BigIntDecodePointer,
		IndefLength:     cbor.IndefLengthAllowed,
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 64,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("plutusdata: decode mode: %v", err))
	}
	return mode
}()

// Decode parses raw CBOR into a value tree made of []any (sequences), string
// (byte strings as lowercase hex), *big.Int (integers) and map[string]any
// (maps and non-zero constructors). A constructor 0 wrapper is replaced by its
// field list.
func Decode(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, ErrMalformedRecord.Withf("empty input")
	}
	var v any
	if err := decMode.Unmarshal(raw, &v); err != nil {
		return nil, ErrMalformedRecord.With(err)
	}
	return convert(v, 0)
}

// DecodeHex is Decode over a hex-encoded record, as returned by indexers.
func DecodeHex(s string) (any, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, ErrMalformedRecord.With(err)
	}
	return Decode(raw)
}

func convert(v any, depth int) (any, error) {
	if depth > 64 {
		return nil, ErrMalformedRecord.Withf("nesting too deep")
	}
	switch node := v.(type) {
	case []any:
		return convertSeq(node, depth)
	case []byte:
		return hex.EncodeToString(node), nil
	case cbor.ByteString:
		// byte strings used as map keys
		return hex.EncodeToString([]byte(node)), nil
	case cbor.Tag:
		return convertTag(node, depth)
	case map[any]any:
		return convertMap(node, depth)
	case uint64:
		return new(big.Int).SetUint64(node), nil
	case int64:
		return big.NewInt(node), nil
	case *big.Int:
		return new(big.Int).Set(node), nil
	case big.Int:
		return new(big.Int).Set(&node), nil
	case string:
		return node, nil
	default:
		return nil, ErrMalformedRecord.Withf("unsupported node %T", v)
	}
}

func convertSeq(items []any, depth int) ([]any, error) {
	out := make([]any, 0, len(items))
	for i, item := range items {
		c, err := convert(item, depth+1)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func convertTag(tag cbor.Tag, depth int) (any, error) {
	index, fields, err := constrParts(tag)
	if err != nil {
		return nil, err
	}
	// the field list sits one level below its tag
	converted, err := convertSeq(fields, depth+1)
	if err != nil {
		return nil, err
	}
	if index == 0 {
		return converted, nil
	}
	return map[string]any{
		"constructor": new(big.Int).SetUint64(index),
		"fields":      converted,
	}, nil
}

func constrParts(tag cbor.Tag) (uint64, []any, error) {
	switch {
	case tag.Number >= tagConstrBase && tag.Number <= tagConstrBase+6:
		fields, ok := tag.Content.([]any)
		if !ok {
			return 0, nil, ErrMalformedRecord.Withf("constructor %d without field list", tag.Number)
		}
		return tag.Number - tagConstrBase, fields, nil
	case tag.Number >= tagConstrExtended && tag.Number <= tagConstrExtended+120:
		fields, ok := tag.Content.([]any)
		if !ok {
			return 0, nil, ErrMalformedRecord.Withf("constructor %d without field list", tag.Number)
		}
		return tag.Number - tagConstrExtended + 7, fields, nil
	case tag.Number == tagConstrGeneral:
		pair, ok := tag.Content.([]any)
		if !ok || len(pair) != 2 {
			return 0, nil, ErrMalformedRecord.Withf("general constructor must be [index, fields]")
		}
		index, ok := pair[0].(uint64)
		if !ok {
			return 0, nil, ErrMalformedRecord.Withf("general constructor index must be unsigned")
		}
		fields, ok := pair[1].([]any)
		if !ok {
			return 0, nil, ErrMalformedRecord.Withf("general constructor without field list")
		}
		return index, fields, nil
	default:
		return 0, nil, ErrMalformedRecord.Withf("unexpected tag %d", tag.Number)
	}
}

func convertMap(m map[any]any, depth int) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		key, err := convert(k, depth+1)
		if err != nil {
			return nil, err
		}
		var name string
		switch kk := key.(type) {
		case string:
			name = kk
		case *big.Int:
			name = kk.String()
		default:
			return nil, ErrMalformedRecord.Withf("unsupported map key %T", k)
		}
		val, err := convert(v, depth+1)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		out[name] = val
	}
	return out, nil
}
