package server

import (
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/Ghost-Capital/lendex-catalyst/internal/escrow"
	"github.com/Ghost-Capital/lendex-catalyst/internal/oracle"
)

type custodyRequest struct {
	Depositor  string `json:"depositor" validate:"required,eth_addr"`
	Collection string `json:"collection" validate:"required,eth_addr"`
	TokenID    string `json:"tokenId" validate:"required,tokenid"`
	// Data is the 0x-prefixed ABI lock payload.
	Data string `json:"data" validate:"required,hexadecimal"`
}

type tokenRequest struct {
	Caller     string        `json:"caller" validate:"required,eth_addr"`
	Collection string        `json:"collection" validate:"required,eth_addr"`
	TokenID    string        `json:"tokenId" validate:"required,tokenid"`
	Lender     string        `json:"lender,omitempty" validate:"omitempty,eth_addr"`
	Asset      *assetRequest `json:"asset,omitempty"`
}

type assetRequest struct {
	PolicyID string `json:"policyId" validate:"omitempty,hexadecimal,len=56"`
	Sequence string `json:"sequence"`
}

type factResponse struct {
	LenderIdentity string `json:"lenderIdentity"`
	DebtAmount     string `json:"debtAmount"`
	Payload        string `json:"payload"`
}

type tokenResponse struct {
	Key       string        `json:"key"`
	Status    string        `json:"status"`
	Depositor string        `json:"depositor,omitempty"`
	Lender    string        `json:"lender,omitempty"`
	Recipient string        `json:"recipient,omitempty"`
	Fact      *factResponse `json:"fact,omitempty"`
}

type positionResponse struct {
	Key        string          `json:"key"`
	Owner      string          `json:"owner"`
	Status     string          `json:"status"`
	StatusCode uint8           `json:"statusCode"`
	Position   escrow.Position `json:"position"`
	// Display is Amount scaled by Decimals.
	Display string `json:"display"`
}

func (s *Server) handleCustody(w http.ResponseWriter, r *http.Request) {
	s.idempotent(w, r, "custody", func(body []byte) (int, any, error) {
		var req custodyRequest
		if err := s.bind(body, &req); err != nil {
			return 0, nil, err
		}
		depositor, err := parseAddress("depositor", req.Depositor)
		if err != nil {
			return 0, nil, err
		}
		key, err := parseKey(req.Collection, req.TokenID)
		if err != nil {
			return 0, nil, err
		}
		data, err := hexutil.Decode(req.Data)
		if err != nil {
			return 0, nil, errInvalidRequest.Withf("data: %v", err)
		}

		err = s.escrow.OnCustodyReceived(r.Context(), depositor, key, data)
		s.metrics.incEscrow("lock", err)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, tokenResponse{
			Key:       key.String(),
			Status:    escrow.StatusLocked.String(),
			Depositor: depositor.Hex(),
		}, nil
	})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := s.decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, key, err := req.target()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lender, err := parseAddress("lender", req.Lender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := tokenResponse{
		Key:    key.String(),
		Status: escrow.StatusWaitingPayment.String(),
		Lender: lender.Hex(),
	}

	if s.oracle == nil {
		err = s.escrow.BorrowToken(r.Context(), caller, key, lender)
		s.metrics.incEscrow("borrow", err)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	asset, err := s.assetFor(req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fact, err := escrow.VerifiedBorrow(r.Context(), s.escrow, s.oracle, escrow.BorrowRequest{
		Caller: caller,
		Key:    key,
		Lender: lender,
		Asset:  asset,
	})
	s.metrics.incEscrow("borrow", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp.Fact = newFactResponse(fact)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) assetFor(req *assetRequest) (oracle.AssetIdentity, error) {
	if req == nil || strings.TrimSpace(req.Sequence) == "" {
		return oracle.AssetIdentity{}, errInvalidRequest.Withf("asset.sequence is required when the oracle is enabled")
	}
	asset := oracle.AssetIdentity{PolicyID: req.PolicyID, Sequence: req.Sequence}
	if strings.TrimSpace(asset.PolicyID) == "" {
		asset.PolicyID = s.policyID
	}
	if asset.PolicyID == "" {
		return oracle.AssetIdentity{}, errInvalidRequest.Withf("asset.policyId is required")
	}
	return asset, nil
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := s.decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, key, err := req.target()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	err = s.escrow.PayTokenDebt(r.Context(), caller, key)
	s.metrics.incEscrow("pay", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Key: key.String(), Status: escrow.StatusDebtPaid.String()})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := s.decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, key, err := req.target()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	recipient, err := s.escrow.ClaimToken(r.Context(), caller, key)
	s.metrics.incEscrow("claim", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Key:       key.String(),
		Status:    escrow.StatusUnknown.String(),
		Recipient: recipient.Hex(),
	})
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(r.PathValue("collection"), r.PathValue("tokenId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, err := parseAddress("caller", r.URL.Query().Get("caller"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	owner, err := s.escrow.GetTokenOwner(ctx, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pos, status, err := s.escrow.GetToken(ctx, caller, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, positionResponse{
		Key:        key.String(),
		Owner:      owner.Hex(),
		Status:     status.String(),
		StatusCode: uint8(status),
		Position:   pos,
		Display:    displayAmount(pos),
	})
}

func (req tokenRequest) target() (common.Address, escrow.Key, error) {
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		return common.Address{}, escrow.Key{}, err
	}
	key, err := parseKey(req.Collection, req.TokenID)
	if err != nil {
		return common.Address{}, escrow.Key{}, err
	}
	return caller, key, nil
}

func parseAddress(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, errInvalidRequest.Withf("%s must be a hex address", field)
	}
	return common.HexToAddress(value), nil
}

func parseKey(collection, tokenID string) (escrow.Key, error) {
	addr, err := parseAddress("collection", collection)
	if err != nil {
		return escrow.Key{}, err
	}
	id, ok := new(big.Int).SetString(strings.TrimSpace(tokenID), 10)
	if !ok || id.Sign() < 0 {
		return escrow.Key{}, errInvalidRequest.Withf("tokenId must be a non-negative decimal integer")
	}
	return escrow.NewKey(addr, id), nil
}

func displayAmount(pos escrow.Position) string {
	if pos.Decimals <= 0 {
		return decimal.NewFromInt(pos.Amount).String()
	}
	amount := decimal.NewFromInt(pos.Amount).Div(decimal.NewFromInt(pos.Decimals))
	return amount.String() + " " + pos.CurrencyCode
}

func newFactResponse(f oracle.Fact) *factResponse {
	debt := "0"
	if f.DebtAmount != nil {
		debt = f.DebtAmount.String()
	}
	return &factResponse{
		LenderIdentity: f.LenderIdentity,
		DebtAmount:     debt,
		Payload:        hexutil.Encode(f.Payload),
	}
}
