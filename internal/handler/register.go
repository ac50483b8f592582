package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"mindcare/internal/model"
	"mindcare/internal/service"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func RegisterHandler(authSvc *service.AuthService, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		if req.Email == "" || req.Password == "" {
			http.Error(w, "email and password required", http.StatusBadRequest)
			return
		}

		role := model.Role(req.Role)
		if req.Role == "" {
			role = model.RoleParent
		}
		if !role.Valid() {
			http.Error(w, "role must be parent or psychologist", http.StatusBadRequest)
			return
		}

		user, err := authSvc.Register(r.Context(), req.Email, req.Password, role)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrEmailTaken):
				http.Error(w, "email already registered", http.StatusConflict)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		token, err := issueToken(user, secret)
		if err != nil {
			http.Error(w, "token generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Authorization", "Bearer "+token)
		writeJSON(w, http.StatusCreated, authResponse{User: user, Token: token})
	}
}
