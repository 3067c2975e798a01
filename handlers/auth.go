package handlers

import (
	"net/http"

	"hrms/middleware"
	"hrms/services"
)

type AuthHandler struct {
	auth *services.AuthService
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type loginRequest struct {
	CIN      string `json:"cin"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CIN == "" || req.Password == "" {
		badRequest(w, "cin and password are required")
		return
	}

	res, err := h.auth.Login(r.Context(), req.CIN, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type verifyTwoFactorRequest struct {
	TwoFactorToken string `json:"two_factor_token"`
	Code           string `json:"code"`
}

func (h *AuthHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyTwoFactorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.auth.VerifyTwoFactor(r.Context(), req.TwoFactorToken, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

const forgotPasswordMessage = "if the address belongs to an account, a reset code has been sent"

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, forgotPasswordMessage)
}

func (h *AuthHandler) VerifyResetCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	token, err := h.auth.VerifyResetCode(r.Context(), req.Email, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reset_token": token})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResetToken  string `json:"reset_token"`
		NewPassword string `json:"new_password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.ResetToken, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "password has been reset")
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Me(r.Context(), middleware.GetUserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	user := middleware.GetUserFromContext(r.Context())
	if err := h.auth.ChangePassword(r.Context(), user, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "password changed")
}

func (h *AuthHandler) SetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	setup, err := h.auth.SetupTwoFactor(r.Context(), middleware.GetUserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

func (h *AuthHandler) EnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.EnableTwoFactor(r.Context(), middleware.GetUserFromContext(r.Context()), req.Code); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "two-factor authentication enabled")
}

func (h *AuthHandler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	user := middleware.GetUserFromContext(r.Context())
	if err := h.auth.DisableTwoFactor(r.Context(), user, req.Password, req.Code); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "two-factor authentication disabled")
}
