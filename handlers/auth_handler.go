package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"go-tours/middleware"
	"go-tours/models"
	"go-tours/services"
)

type AuthHandler struct {
	authService  *services.AuthService
	publicURL    string
	cookieTTL    time.Duration
	secureCookie bool
}

// NewAuthHandler builds the auth endpoints. Reset links start with publicURL;
// when it is empty they are built from the request host.
func NewAuthHandler(authService *services.AuthService, publicURL string, cookieTTL time.Duration, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		publicURL:    strings.TrimRight(publicURL, "/"),
		cookieTTL:    cookieTTL,
		secureCookie: secureCookie,
	}
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) error {
	var input models.SignupInput
	if err := decodeJSON(r, &input); err != nil {
		return err
	}
	session, err := h.authService.Signup(r.Context(), input)
	if err != nil {
		return err
	}
	return h.sendToken(w, http.StatusCreated, session)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) error {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &input); err != nil {
		return err
	}
	session, err := h.authService.Login(r.Context(), input.Email, input.Password)
	if err != nil {
		return err
	}
	return h.sendToken(w, http.StatusOK, session)
}

// Logout overwrites the cookie with a short lived placeholder.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    "loggedout",
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Second),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) error {
	var input struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &input); err != nil {
		return err
	}
	base := h.publicURL
	if base == "" {
		base = scheme(r) + "://" + r.Host
	}
	resetURL := func(token string) string {
		return fmt.Sprintf("%s/api/v1/users/resetPassword/%s", base, token)
	}
	if err := h.authService.ForgotPassword(r.Context(), input.Email, resetURL); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Token sent to email.",
	})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) error {
	var input models.PasswordInput
	if err := decodeJSON(r, &input); err != nil {
		return err
	}
	session, err := h.authService.ResetPassword(r.Context(), mux.Vars(r)["token"], input)
	if err != nil {
		return err
	}
	return h.sendToken(w, http.StatusOK, session)
}

func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) error {
	p, err := principal(r)
	if err != nil {
		return err
	}
	var input struct {
		CurrentPassword string `json:"currentPassword"`
		models.PasswordInput
	}
	if err := decodeJSON(r, &input); err != nil {
		return err
	}
	session, err := h.authService.UpdatePassword(r.Context(), p, input.CurrentPassword, input.PasswordInput)
	if err != nil {
		return err
	}
	return h.sendToken(w, http.StatusOK, session)
}

// sendToken sets the jwt cookie and returns the token with the user.
func (h *AuthHandler) sendToken(w http.ResponseWriter, status int, session services.Session) error {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  time.Now().Add(h.cookieTTL),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return writeJSON(w, status, map[string]any{
		"status": "success",
		"token":  session.Token,
		"data":   map[string]any{"data": session.User},
	})
}

func scheme(r *http.Request) string {
	if r.URL.Scheme != "" {
		return r.URL.Scheme
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
