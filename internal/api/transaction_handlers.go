package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"voltledger/internal/apperr"
	"voltledger/internal/models"
	"voltledger/internal/utils"
)

const ipnSecretHeader = "X-IPN-Secret"

type transactionResponse struct {
	Message     string              `json:"message"`
	Transaction *models.Transaction `json:"transaction"`
}

type taskRewardRequest struct {
	UserID   int64           `json:"userId"`
	Amount   decimal.Decimal `json:"amount"`
	TaskName string          `json:"taskName"`
}

func (s *Server) getUserBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.IDParam(r, "id")
	if err != nil {
		s.writeError(w, r, apperr.Validation("invalid user id"))
		return
	}

	balance, err := s.wallet.Balance(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.wallet.ListTransactions(r.Context(), claims(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) requestDeposit(w http.ResponseWriter, r *http.Request) {
	var req models.AmountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	tx, err := s.wallet.RequestDeposit(r.Context(), claims(r).UserID, req.Amount, req.Reference)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, transactionResponse{Message: "deposit request submitted", Transaction: tx})
}

func (s *Server) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req models.AmountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	tx, err := s.wallet.RequestWithdrawal(r.Context(), claims(r).UserID, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, transactionResponse{Message: "withdrawal request submitted", Transaction: tx})
}

func (s *Server) creditTaskReward(w http.ResponseWriter, r *http.Request) {
	var req taskRewardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.UserID == 0 {
		req.UserID = claims(r).UserID
	}

	tx, err := s.wallet.CreditTaskReward(r.Context(), req.UserID, req.Amount, req.TaskName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse{Message: "task reward credited", Transaction: tx})
}

func (s *Server) mobileMoneyIPN(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(ipnSecretHeader)
	if s.ipnSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.ipnSecret)) != 1 {
		s.writeError(w, r, apperr.Unauthorized("invalid notification signature"))
		return
	}

	var ipn models.MobileMoneyIPN
	if err := decodeJSON(w, r, &ipn); err != nil {
		s.writeError(w, r, err)
		return
	}
	if ipn.Reference == "" {
		s.writeError(w, r, apperr.Validation("reference is required"))
		return
	}

	tx, err := s.wallet.ReconcilePayment(r.Context(), ipn)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse{Message: "notification processed", Transaction: tx})
}

func (s *Server) paymentStatus(w http.ResponseWriter, r *http.Request) {
	c := claims(r)
	st, err := s.wallet.PaymentStatus(r.Context(), c.UserID, c.IsAdmin, chi.URLParam(r, "reference"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
