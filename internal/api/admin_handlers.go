package api

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"voltledger/internal/apperr"
	"voltledger/internal/models"
	"voltledger/internal/utils"
)

type balanceUpdateResponse struct {
	Message     string              `json:"message"`
	NewBalance  decimal.Decimal     `json:"newBalance"`
	Transaction *models.Transaction `json:"transaction"`
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) myTeam(w http.ResponseWriter, r *http.Request) {
	team, err := s.users.Team(r.Context(), claims(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (s *Server) userAction(w http.ResponseWriter, r *http.Request, msg string, fn func(ctx context.Context, id int64) error) {
	id, err := utils.IDParam(r, "id")
	if err != nil {
		s.writeError(w, r, apperr.Validation("invalid user id"))
		return
	}
	if err := fn(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (s *Server) blockUser(w http.ResponseWriter, r *http.Request) {
	s.userAction(w, r, "user blocked", func(ctx context.Context, id int64) error {
		return s.users.SetBlocked(ctx, id, true)
	})
}

func (s *Server) unblockUser(w http.ResponseWriter, r *http.Request) {
	s.userAction(w, r, "user unblocked", func(ctx context.Context, id int64) error {
		return s.users.SetBlocked(ctx, id, false)
	})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	s.userAction(w, r, "user deleted", s.users.DeleteUser)
}

func (s *Server) clearResetToken(w http.ResponseWriter, r *http.Request) {
	s.userAction(w, r, "reset token deleted", s.users.ClearResetToken)
}

func (s *Server) listResetTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.users.ListResetTokens(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) creditCommission(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.IDParam(r, "id")
	if err != nil {
		s.writeError(w, r, apperr.Validation("invalid user id"))
		return
	}
	var req models.AmountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	tx, err := s.wallet.CreditCommission(r.Context(), claims(r).UserID, userID, req.Amount, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse{Message: "commission credited", Transaction: tx})
}

func (s *Server) updateBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.IDParam(r, "id")
	if err != nil {
		s.writeError(w, r, apperr.Validation("invalid user id"))
		return
	}
	var req models.BalanceAdjustment
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	tx, err := s.wallet.AdjustBalance(r.Context(), claims(r).UserID, userID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceUpdateResponse{
		Message:     "balance updated",
		NewBalance:  tx.BalanceAfter,
		Transaction: tx,
	})
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request, typ models.TxType) {
	pending, err := s.wallet.ListPending(r.Context(), typ)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) pendingDeposits(w http.ResponseWriter, r *http.Request) {
	s.listPending(w, r, models.TxDeposit)
}

func (s *Server) pendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	s.listPending(w, r, models.TxWithdrawal)
}

type transitionFunc func(ctx context.Context, adminID, txID int64) (*models.Transaction, error)

func (s *Server) transition(w http.ResponseWriter, r *http.Request, msg string, fn transitionFunc) {
	txID, err := utils.IDParam(r, "id")
	if err != nil {
		s.writeError(w, r, apperr.Validation("invalid transaction id"))
		return
	}

	tx, err := fn(r.Context(), claims(r).UserID, txID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse{Message: msg, Transaction: tx})
}

type rejectFunc func(ctx context.Context, adminID, txID int64, reason string) (*models.Transaction, error)

// rejection reads an optional {"reason": "..."} body. Only an empty body
// means no reason was given; a malformed one leaves the request pending.
func (s *Server) rejection(w http.ResponseWriter, r *http.Request, msg string, reject rejectFunc) {
	var req models.RejectRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.transition(w, r, msg, func(ctx context.Context, adminID, txID int64) (*models.Transaction, error) {
		return reject(ctx, adminID, txID, req.Reason)
	})
}

func (s *Server) approveDeposit(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "deposit approved", s.wallet.ApproveDeposit)
}

func (s *Server) rejectDeposit(w http.ResponseWriter, r *http.Request) {
	s.rejection(w, r, "deposit rejected", s.wallet.RejectDeposit)
}

func (s *Server) approveWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "withdrawal approved", s.wallet.ApproveWithdrawal)
}

func (s *Server) rejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.rejection(w, r, "withdrawal rejected", s.wallet.RejectWithdrawal)
}
