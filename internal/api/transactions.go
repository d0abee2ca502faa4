package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/punchamoorthee/moneybook/internal/domain"
)

// IdempotencyKeyHeader makes POST /transactions safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

func (h *Handler) CreateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID := mustUserID(r)

	// Read and hash the body
	bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, "Stream read error")
		return
	}
	hash := sha256.Sum256(bodyBytes)

	var req transactionRequest
	if err := decodeJSON(bytes.NewReader(bodyBytes), &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	tx, replayed, err := h.ledger.CreateTransaction(r.Context(), userID, domain.NewTransaction{
		AccountID:      req.AccountID,
		CategoryID:     req.CategoryID,
		Kind:           req.Kind,
		Amount:         req.Amount,
		Date:           date,
		Description:    req.Description,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
		RequestHash:    hex.EncodeToString(hash[:]),
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	// Handle Idempotent Replay
	if replayed {
		respondWithJSON(w, http.StatusOK, toTransaction(tx))
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/transactions/%d", tx.ID))
	respondWithJSON(w, http.StatusCreated, toTransaction(tx))
}

func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	accountID, err := queryInt64(r, "account_id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	categoryID, err := queryInt64(r, "category_id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	txs, err := h.ledger.ListTransactions(r.Context(), mustUserID(r), domain.TransactionFilter{
		Kind:       domain.Kind(r.URL.Query().Get("kind")),
		AccountID:  accountID,
		CategoryID: categoryID,
		Page:       page,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, mapSlice(txs, toTransaction))
}

func (h *Handler) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	tx, err := h.ledger.GetTransaction(r.Context(), mustUserID(r), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransaction(tx))
}

func (h *Handler) UpdateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req transactionPatchRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	patch := domain.TransactionPatch{
		AccountID:   req.AccountID,
		CategoryID:  req.CategoryID,
		Kind:        req.Kind,
		Amount:      req.Amount,
		Description: req.Description,
	}
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		patch.Date = &date
	}

	tx, err := h.ledger.UpdateTransaction(r.Context(), mustUserID(r), id, patch)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransaction(tx))
}

func (h *Handler) DeleteTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := h.ledger.DeleteTransaction(r.Context(), mustUserID(r), id); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

