package utxo

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Script is a compiled validator from the blueprint.
type Script struct {
	Title        string
	CompiledCode []byte
	// Hash is the script hash the blueprint records, if any.
	Hash []byte
	// Parameters lists the titles of parameters still to be applied. A
	// validator emitted by `aiken blueprint apply` has none left.
	Parameters []string
}

// Parameterized reports whether the script still expects parameters.
func (s Script) Parameterized() bool {
	return len(s.Parameters) > 0
}

// Catalog indexes the validators of a compiled Plutus blueprint by title.
type Catalog struct {
	scripts map[string]Script
}

type blueprint struct {
	Validators []struct {
		Title        string `json:"title"`
		CompiledCode string `json:"compiledCode"`
		Hash         string `json:"hash"`
		Parameters   []struct {
			Title string `json:"title"`
		} `json:"parameters"`
	} `json:"validators"`
}

func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blueprint: %w", err)
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (*Catalog, error) {
	var bp blueprint
	if err := json.Unmarshal(raw, &bp); err != nil {
		return nil, fmt.Errorf("parse blueprint: %w", err)
	}
	c := &Catalog{scripts: make(map[string]Script, len(bp.Validators))}
	for _, v := range bp.Validators {
		code, err := hex.DecodeString(strings.TrimSpace(v.CompiledCode))
		if err != nil {
			return nil, fmt.Errorf("validator %s: compiled code is not hex: %w", v.Title, err)
		}
		if len(code) == 0 {
			return nil, fmt.Errorf("validator %s: empty compiled code", v.Title)
		}
		script := Script{Title: v.Title, CompiledCode: code}
		if h := strings.TrimSpace(v.Hash); h != "" {
			hash, err := hex.DecodeString(h)
			if err != nil || len(hash) != 28 {
				return nil, fmt.Errorf("validator %s: hash must be 28 hex-encoded bytes", v.Title)
			}
			script.Hash = hash
		}
		for i, p := range v.Parameters {
			name := p.Title
			if name == "" {
				name = fmt.Sprintf("param%d", i)
			}
			script.Parameters = append(script.Parameters, name)
		}
		c.scripts[v.Title] = script
	}
	return c, nil
}

// Preapply replaces a validator with code that already has its parameters
// applied, such as the compiledCode printed by `aiken blueprint apply`.
func (c *Catalog) Preapply(title string, code []byte) error {
	if _, ok := c.scripts[title]; !ok {
		return ErrValidatorNotFound.Withf("title %s", title)
	}
	if len(code) == 0 {
		return ErrBadValidator.Withf("%s: empty applied code", title)
	}
	c.scripts[title] = Script{Title: title, CompiledCode: code}
	return nil
}

// Lookup finds a validator by its logical title, e.g. "lendex.pay".
func (c *Catalog) Lookup(title string) (Script, error) {
	s, ok := c.scripts[title]
	if !ok {
		return Script{}, ErrValidatorNotFound.Withf("title %s", title)
	}
	return s, nil
}
