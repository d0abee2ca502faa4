package api

import (
	"fmt"
	"mime"
	"net/http"

	"github.com/punchamoorthee/moneybook/internal/domain"
)

// RegisterHandler is public.
func (h *Handler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	u, err := h.users.Register(r.Context(), domain.NewUser{Name: req.Name, Email: req.Email, Password: req.Password})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/users/%d", u.ID))
	respondWithJSON(w, http.StatusCreated, u)
}

// LoginHandler accepts a JSON body or an OAuth2 password form
// (username, password).
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			badRequest(w, "malformed form body")
			return
		}
		req.Email, req.Password = r.PostForm.Get("username"), r.PostForm.Get("password")
	} else if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	tok, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if status, _ := statusFor(err); status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, tokenResponse{
		AccessToken: tok.Token,
		TokenType:   "bearer",
		ExpiresAt:   tok.ExpiresAt,
	})
}

func (h *Handler) MeHandler(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetUser(r.Context(), mustUserID(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, u)
}

func (h *Handler) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	users, err := h.users.ListUsers(r.Context(), page)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, users)
}

func (h *Handler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	u, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, u)
}

func (h *Handler) UpdateUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req userPatchRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	u, err := h.users.UpdateUser(r.Context(), mustUserID(r), id, domain.UserPatch{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, u)
}

// DeleteUserHandler removes the caller together with every record they own.
func (h *Handler) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := h.users.DeleteUser(r.Context(), mustUserID(r), id); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
