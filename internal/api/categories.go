package api

import (
	"fmt"
	"net/http"

	"github.com/punchamoorthee/moneybook/internal/domain"
)

func (h *Handler) CreateCategoryHandler(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	c, err := h.categories.CreateCategory(r.Context(), mustUserID(r), domain.NewCategory{Name: req.Name, Kind: req.Kind})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/categories/%d", c.ID))
	respondWithJSON(w, http.StatusCreated, c)
}

func (h *Handler) ListCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	categories, err := h.categories.ListCategories(r.Context(), mustUserID(r), domain.CategoryFilter{
		Kind: domain.Kind(r.URL.Query().Get("kind")),
		Page: page,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, categories)
}

func (h *Handler) GetCategoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	c, err := h.categories.GetCategory(r.Context(), mustUserID(r), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *Handler) UpdateCategoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req categoryPatchRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	c, err := h.categories.UpdateCategory(r.Context(), mustUserID(r), id, domain.CategoryPatch{Name: req.Name, Kind: req.Kind})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

// DeleteCategoryHandler also removes the category's transactions.
func (h *Handler) DeleteCategoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := h.categories.DeleteCategory(r.Context(), mustUserID(r), id); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
