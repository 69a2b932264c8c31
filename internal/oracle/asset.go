package oracle

import (
	"encoding/hex"
	"strings"
)

// TokenLabelPrefix prefixes the loan sequence number in every loan asset name.
const TokenLabelPrefix = "Lendex#"

// AssetIdentity names the single minted unit that represents one loan on the
// UTxO ledger.
type AssetIdentity struct {
	PolicyID string
	Sequence string
}

func (a AssetIdentity) Label() string {
	return TokenLabelPrefix + a.Sequence
}

// Fingerprint is the indexer unit: policy id followed by the hex asset name.
func (a AssetIdentity) Fingerprint() string {
	return strings.ToLower(strings.TrimSpace(a.PolicyID)) + hex.EncodeToString([]byte(a.Label()))
}

func (a AssetIdentity) validate() error {
	if strings.TrimSpace(a.PolicyID) == "" || strings.TrimSpace(a.Sequence) == "" {
		return ErrInvalidAsset
	}
	if _, err := hex.DecodeString(strings.TrimSpace(a.PolicyID)); err != nil {
		return ErrInvalidAsset.Withf("policy id is not hex")
	}
	return nil
}
