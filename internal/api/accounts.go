package api

import (
	"fmt"
	"net/http"

	"github.com/punchamoorthee/moneybook/internal/domain"
)

func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	a, err := h.accounts.CreateAccount(r.Context(), mustUserID(r), domain.NewAccount{
		Name:    req.Name,
		Type:    req.Type,
		Balance: req.Balance,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/accounts/%d", a.ID))
	respondWithJSON(w, http.StatusCreated, toAccount(a))
}

func (h *Handler) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	accounts, err := h.accounts.ListAccounts(r.Context(), mustUserID(r), page)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, mapSlice(accounts, toAccount))
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	a, err := h.accounts.GetAccount(r.Context(), mustUserID(r), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toAccount(a))
}

func (h *Handler) UpdateAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req accountPatchRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	a, err := h.accounts.UpdateAccount(r.Context(), mustUserID(r), id, domain.AccountPatch{
		Name:    req.Name,
		Type:    req.Type,
		Balance: req.Balance,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toAccount(a))
}

func (h *Handler) DeleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := h.accounts.DeleteAccount(r.Context(), mustUserID(r), id); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
