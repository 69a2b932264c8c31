// Package blockfrost adapts the Blockfrost Cardano indexer SDK to the narrow
// shapes the oracle bridge and the loan ledger consume.
package blockfrost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	bf "github.com/blockfrost/blockfrost-go"
)

// ErrNotFound is returned when the indexer answers 404.
var ErrNotFound = errors.New("blockfrost: not found")

// StatusError carries a non-2xx indexer response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("blockfrost: status %d: %s", e.Code, e.Message)
}

// pageSize is the largest page the indexer serves.
const pageSize = 100

type Client struct {
	api bf.APIClient
}

func NewClient(baseURL, projectID string) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("missing blockfrost api url")
	}
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("missing blockfrost project id")
	}
	api := bf.NewAPIClient(bf.APIClientOptions{
		ProjectID: strings.TrimSpace(projectID),
		Server:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	})
	return &Client{api: api}, nil
}

type AssetHistoryEntry struct {
	TxHash string
	Action string
	Amount string
}

type Amount struct {
	Unit     string
	Quantity string
}

type TxOutput struct {
	Address     string
	Amount      []Amount
	OutputIndex uint32
	DataHash    *string
	InlineDatum *string
}

type TxUTxOs struct {
	Hash    string
	Inputs  []TxOutput
	Outputs []TxOutput
}

type AddressUTxO struct {
	TxHash      string
	OutputIndex uint32
	Address     string
	Amount      []Amount
	InlineDatum *string
}

type Transaction struct {
	Hash        string
	Block       string
	BlockHeight int64
	BlockTime   int64
}

// AssetHistory lists mint and burn events of an asset, newest first.
func (c *Client) AssetHistory(ctx context.Context, unit string) ([]AssetHistoryEntry, error) {
	history, err := c.api.AssetHistory(ctx, unit)
	if err != nil {
		return nil, translate(err)
	}
	out := make([]AssetHistoryEntry, 0, len(history))
	for _, h := range history {
		out = append(out, AssetHistoryEntry{TxHash: h.TxHash, Action: h.Action, Amount: h.Amount})
	}
	// the indexer answers oldest first
	slices.Reverse(out)
	return out, nil
}

func (c *Client) TxUTxOs(ctx context.Context, txHash string) (*TxUTxOs, error) {
	tx, err := c.api.TransactionUTXOs(ctx, txHash)
	if err != nil {
		return nil, translate(err)
	}
	out := &TxUTxOs{Hash: tx.Hash}
	for _, in := range tx.Inputs {
		amounts := make([]Amount, 0, len(in.Amount))
		for _, a := range in.Amount {
			amounts = append(amounts, Amount{Unit: a.Unit, Quantity: a.Quantity})
		}
		out.Inputs = append(out.Inputs, TxOutput{
			Address:     in.Address,
			Amount:      amounts,
			OutputIndex: uint32(in.OutputIndex),
			DataHash:    optional(in.DataHash),
			InlineDatum: optional(in.InlineDatum),
		})
	}
	for _, o := range tx.Outputs {
		amounts := make([]Amount, 0, len(o.Amount))
		for _, a := range o.Amount {
			amounts = append(amounts, Amount{Unit: a.Unit, Quantity: a.Quantity})
		}
		out.Outputs = append(out.Outputs, TxOutput{
			Address:     o.Address,
			Amount:      amounts,
			OutputIndex: uint32(o.OutputIndex),
			DataHash:    optional(o.DataHash),
			InlineDatum: optional(o.InlineDatum),
		})
	}
	return out, nil
}

// AddressUTxOs lists every unspent output at an address, walking pages until
// the indexer runs dry. An address without history yields an empty list.
func (c *Client) AddressUTxOs(ctx context.Context, address string) ([]AddressUTxO, error) {
	out := []AddressUTxO{}
	for page := 1; ; page++ {
		batch, err := c.api.AddressUTXOs(ctx, address, bf.APIQueryParams{Count: pageSize, Page: page})
		if err != nil {
			err = translate(err)
			if errors.Is(err, ErrNotFound) {
				return out, nil
			}
			return nil, err
		}
		for _, u := range batch {
			amounts := make([]Amount, 0, len(u.Amount))
			for _, a := range u.Amount {
				amounts = append(amounts, Amount{Unit: a.Unit, Quantity: a.Quantity})
			}
			out = append(out, AddressUTxO{
				TxHash:      u.TxHash,
				OutputIndex: uint32(u.OutputIndex),
				Address:     address,
				Amount:      amounts,
				InlineDatum: optional(u.InlineDatum),
			})
		}
		if len(batch) < pageSize {
			return out, nil
		}
	}
}

func (c *Client) Tx(ctx context.Context, txHash string) (*Transaction, error) {
	tx, err := c.api.Transaction(ctx, txHash)
	if err != nil {
		return nil, translate(err)
	}
	return &Transaction{
		Hash:        tx.Hash,
		Block:       tx.Block,
		BlockHeight: int64(tx.BlockHeight),
		BlockTime:   int64(tx.BlockTime),
	}, nil
}

// SubmitTx posts a signed transaction in CBOR form and returns its hash.
func (c *Client) SubmitTx(ctx context.Context, signed []byte) (string, error) {
	hash, err := c.api.TransactionSubmit(ctx, signed)
	if err != nil {
		return "", translate(err)
	}
	return hash, nil
}

// translate maps SDK failures onto ErrNotFound and StatusError.
func translate(err error) error {
	var apiErr *bf.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	var resp bf.ErrorResponse
	switch r := any(apiErr.Response).(type) {
	case bf.ErrorResponse:
		resp = r
	case *bf.ErrorResponse:
		if r != nil {
			resp = *r
		}
	default:
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	msg := resp.Message
	if msg == "" {
		msg = resp.Error
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}

// optional normalises SDK fields that are either plain or nullable strings.
func optional[T string | *string](v T) *string {
	switch s := any(v).(type) {
	case *string:
		if s == nil || *s == "" {
			return nil
		}
		return s
	case string:
		if s == "" {
			return nil
		}
		return &s
	}
	return nil
}
