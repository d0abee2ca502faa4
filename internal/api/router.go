package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/moneybook/internal/auth"
	"github.com/punchamoorthee/moneybook/internal/log"
	"github.com/punchamoorthee/moneybook/internal/service"
)

// NewRouter builds the HTTP surface: /health and /metrics at the root, the
// ledger API under /api/v1. Everything except registration and login needs
// a bearer token.
func NewRouter(h *Handler, tokens *auth.TokenIssuer) *mux.Router {
	r := mux.NewRouter()
	r.Use(log.Middleware(h.logger))
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/users", h.RegisterHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/auth/login", h.LoginHandler).Methods(http.MethodPost)

	private := apiV1.NewRoute().Subrouter()
	private.Use(auth.Middleware(tokens))
	private.Use(h.requireUser)

	private.HandleFunc("/users", h.ListUsersHandler).Methods(http.MethodGet)
	private.HandleFunc("/users/me", h.MeHandler).Methods(http.MethodGet)
	private.HandleFunc("/users/{id:[0-9]+}", h.GetUserHandler).Methods(http.MethodGet)
	private.HandleFunc("/users/{id:[0-9]+}", h.UpdateUserHandler).Methods(http.MethodPut)
	private.HandleFunc("/users/{id:[0-9]+}", h.DeleteUserHandler).Methods(http.MethodDelete)

	private.HandleFunc("/accounts", h.ListAccountsHandler).Methods(http.MethodGet)
	private.HandleFunc("/accounts", h.CreateAccountHandler).Methods(http.MethodPost)
	private.HandleFunc("/accounts/{id:[0-9]+}", h.GetAccountHandler).Methods(http.MethodGet)
	private.HandleFunc("/accounts/{id:[0-9]+}", h.UpdateAccountHandler).Methods(http.MethodPut)
	private.HandleFunc("/accounts/{id:[0-9]+}", h.DeleteAccountHandler).Methods(http.MethodDelete)

	private.HandleFunc("/categories", h.ListCategoriesHandler).Methods(http.MethodGet)
	private.HandleFunc("/categories", h.CreateCategoryHandler).Methods(http.MethodPost)
	private.HandleFunc("/categories/{id:[0-9]+}", h.GetCategoryHandler).Methods(http.MethodGet)
	private.HandleFunc("/categories/{id:[0-9]+}", h.UpdateCategoryHandler).Methods(http.MethodPut)
	private.HandleFunc("/categories/{id:[0-9]+}", h.DeleteCategoryHandler).Methods(http.MethodDelete)

	private.HandleFunc("/transactions", h.ListTransactionsHandler).Methods(http.MethodGet)
	private.HandleFunc("/transactions", h.CreateTransactionHandler).Methods(http.MethodPost)
	private.HandleFunc("/transactions/{id:[0-9]+}", h.GetTransactionHandler).Methods(http.MethodGet)
	private.HandleFunc("/transactions/{id:[0-9]+}", h.UpdateTransactionHandler).Methods(http.MethodPut)
	private.HandleFunc("/transactions/{id:[0-9]+}", h.DeleteTransactionHandler).Methods(http.MethodDelete)

	return r
}

// requireUser rejects tokens whose user no longer exists.
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			respondWithError(w, r, service.ErrUnauthorized)
			return
		}
		if _, err := h.users.GetUser(r.Context(), userID); err != nil {
			if status, _ := statusFor(err); status == http.StatusNotFound {
				respondWithError(w, r, service.ErrUnauthorized)
				return
			}
			respondWithError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// mustUserID reads the caller set by auth.Middleware. Only used behind it.
func mustUserID(r *http.Request) int64 {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}
