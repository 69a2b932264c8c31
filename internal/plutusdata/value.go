package plutusdata

import "math/big"

// List returns v as a decoded sequence.
func List(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}

// Bytes returns v as a hex-encoded byte string.
func Bytes(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// Int returns v as an integer.
func Int(v any) (*big.Int, bool) {
	i, ok := v.(*big.Int)
	return i, ok
}
