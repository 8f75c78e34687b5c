package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nivant/tokensettle/internal/api/middleware"
	"github.com/nivant/tokensettle/internal/api/problem"
	"github.com/nivant/tokensettle/internal/storage"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an RFC 7807 problem response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func requestActor(r *http.Request) (uuid.UUID, string, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, "", errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, "", errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()), nil
}

// isOperator reports whether the role may act on records it does not own.
func isOperator(role string) bool {
	return role == "admin" || role == "ops"
}

func mapStorageError(err error) (status int, problemType, message string, ok bool) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "resource/not-found", "resource not found", true
	case errors.Is(err, storage.ErrStatusConflict):
		return http.StatusConflict, "order/status-conflict", "order changed state concurrently", true
	case errors.Is(err, storage.ErrDuplicateSubmission):
		return http.StatusConflict, "ledger/duplicate-submission", "order already has a submitted ledger transaction", true
	}
	return mapDBError(err)
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
