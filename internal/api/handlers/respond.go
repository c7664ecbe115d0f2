package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	appMiddleware "github.com/markdave123-py/pdfchat/internal/api/middlewares"
	"github.com/markdave123-py/pdfchat/internal/core"
	objectclient "github.com/markdave123-py/pdfchat/internal/core/object-client"
	"github.com/markdave123-py/pdfchat/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("handlers: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors to statuses. Unknown errors are
// logged and reported generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "document not found")
	case errors.Is(err, core.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, objectclient.ErrObjectNotFound):
		writeError(w, http.StatusNotFound, "file not found")
	case errors.Is(err, core.ErrForbidden):
		writeError(w, http.StatusForbidden, "you are not allowed to access this resource")
	case errors.Is(err, core.ErrUserExists):
		writeError(w, http.StatusConflict, "user exists")
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, services.ErrNotPDF),
		errors.Is(err, services.ErrEmptyQuery),
		errors.Is(err, services.ErrInvalidVoteType),
		errors.Is(err, services.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("handlers: %s %s failed: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "something went wrong, please try again")
	}
}

func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := appMiddleware.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_id not found in context")
	}
	return id, ok
}
