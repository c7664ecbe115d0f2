package handlers

import (
	"encoding/json"
	"net/http"

	appMiddleware "github.com/markdave123-py/pdfchat/internal/api/middlewares"
	"github.com/markdave123-py/pdfchat/internal/services"
)

type AuthHandler struct {
	users *services.UserService
	jwt   *appMiddleware.JWT
}

func NewAuthHandler(users *services.UserService, jwt *appMiddleware.JWT) *AuthHandler {
	return &AuthHandler{users: users, jwt: jwt}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	user, err := h.users.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.respondWithToken(w, r, http.StatusCreated, user.ID)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.respondWithToken(w, r, http.StatusOK, user.ID)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, r *http.Request, status int, userID string) {
	token, err := h.jwt.Issue(userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, map[string]string{"token": token, "token_type": "bearer"})
}
