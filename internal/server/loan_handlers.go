package server

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/Ghost-Capital/lendex-catalyst/internal/oracle"
	"github.com/Ghost-Capital/lendex-catalyst/internal/utxo"
)

type oracleRequest struct {
	Args []string `json:"args" validate:"required,min=1"`
}

type openLoanRequest struct {
	Sequence string `json:"sequence" validate:"required"`
	// Lender and Borrower are 28-byte payment key hashes, hex encoded.
	Lender          string   `json:"lender" validate:"required,hexadecimal,len=56"`
	Borrower        string   `json:"borrower" validate:"required,hexadecimal,len=56"`
	Amount          int64    `json:"amount" validate:"gt=0"`
	Deadline        int64    `json:"deadline" validate:"gt=0"`
	Fee             utxo.Fee `json:"fee" validate:"required"`
	BorrowerAddress string   `json:"borrowerAddress" validate:"required"`
}

type closeLoanRequest struct {
	Sequence      string   `json:"sequence" validate:"required"`
	LenderAddress string   `json:"lenderAddress" validate:"required"`
	Fee           utxo.Fee `json:"fee" validate:"required"`
}

type loanResponse struct {
	TxHash string `json:"txHash"`
	Unit   string `json:"unit"`
	// Paid is lovelace; PaidAda is the same amount in ADA.
	Paid    int64  `json:"paid"`
	PaidAda string `json:"paidAda"`
}

func newLoanResponse(r utxo.Receipt) loanResponse {
	return loanResponse{
		TxHash:  r.TxHash,
		Unit:    r.Unit,
		Paid:    r.Paid,
		PaidAda: decimal.New(r.Paid, -6).String(),
	}
}

func (s *Server) handleOracleRequest(w http.ResponseWriter, r *http.Request) {
	var req oracleRequest
	if err := s.decodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	payload, err := s.oracle.Handle(r.Context(), req.Args)
	s.metrics.incOracle(err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fact, err := oracle.DecodeFact(payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fact.Payload = payload
	writeJSON(w, http.StatusOK, newFactResponse(fact))
}

func (s *Server) handleOpenLoan(w http.ResponseWriter, r *http.Request) {
	s.idempotent(w, r, "loans_open", func(body []byte) (int, any, error) {
		var req openLoanRequest
		if err := s.bind(body, &req); err != nil {
			return 0, nil, err
		}
		lender, err := utxo.ParseHash28(req.Lender)
		if err != nil {
			return 0, nil, err
		}
		borrower, err := utxo.ParseHash28(req.Borrower)
		if err != nil {
			return 0, nil, err
		}

		receipt, err := s.loans.OpenLoan(r.Context(), utxo.OpenLoanRequest{
			Sequence:        req.Sequence,
			Lender:          lender,
			Borrower:        borrower,
			Amount:          req.Amount,
			Deadline:        req.Deadline,
			Fee:             req.Fee,
			BorrowerAddress: req.BorrowerAddress,
		})
		s.metrics.incUTxO("open", err)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, newLoanResponse(receipt), nil
	})
}

func (s *Server) handleCloseLoan(w http.ResponseWriter, r *http.Request) {
	s.idempotent(w, r, "loans_close", func(body []byte) (int, any, error) {
		var req closeLoanRequest
		if err := s.bind(body, &req); err != nil {
			return 0, nil, err
		}

		receipt, err := s.loans.CloseLoan(r.Context(), utxo.CloseLoanRequest{
			Sequence:      req.Sequence,
			LenderAddress: req.LenderAddress,
			Fee:           req.Fee,
		})
		s.metrics.incUTxO("close", err)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, newLoanResponse(receipt), nil
	})
}
