package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/greensec/rtauth"
	"github.com/greensec/rtauth/internal/userstore"
	"github.com/greensec/rtauth/metrics/export/prometheus"
	"github.com/greensec/rtauth/middleware"
	"github.com/greensec/rtauth/password"
)

type server struct {
	engine *rtauth.Engine
	users  *userstore.Store
	hasher password.Hasher
	logger *slog.Logger
	scheme string
}

type result struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
}

type tokenResponse struct {
	result
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type signUpRequest struct {
	ID   string `json:"id"`
	PW   string `json:"pw"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type signInRequest struct {
	ID string `json:"id"`
	PW string `json:"pw"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type otpRequest struct {
	ID  string `json:"id"`
	OTP string `json:"otp"`
}

type enrollResponse struct {
	result
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

type meResponse struct {
	ID        string    `json:"id"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expiresAt"`
}

const maxBodyBytes = 1 << 16

var okResult = result{Success: true, Code: 1, Msg: "ok"}

func newHandler(s *server) (http.Handler, error) {
	metrics, err := prometheus.Handler(s.engine)
	if err != nil {
		return nil, err
	}
	guard := middleware.Guard(s.engine, s.scheme)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sign-up", s.signUp)
	mux.HandleFunc("POST /sign-in", s.signIn)
	mux.HandleFunc("POST /refresh", s.refresh)
	mux.Handle("POST /logout", guard(http.HandlerFunc(s.logout)))
	mux.Handle("GET /me", guard(http.HandlerFunc(s.me)))
	mux.HandleFunc("POST /otp", s.verifyOTP)
	mux.Handle("POST /otp/enroll", guard(http.HandlerFunc(s.enrollOTP)))
	mux.Handle("GET /metrics", metrics)
	mux.HandleFunc("GET /healthz", s.health)
	return mux, nil
}

func (s *server) signUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Role == "" {
		fail(w, http.StatusBadRequest, "id and role are required")
		return
	}
	hash, err := s.hasher.Hash(req.PW)
	if err != nil {
		if errors.Is(err, password.ErrPasswordShort) || errors.Is(err, password.ErrPasswordTooLong) {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internal(w, r, "hash password", err)
		return
	}

	_, err = s.users.Create(r.Context(), userstore.NewUser{
		Identifier:   req.ID,
		PasswordHash: hash,
		Name:         req.Name,
		Role:         req.Role,
	})
	if err != nil {
		if errors.Is(err, userstore.ErrDuplicate) {
			fail(w, http.StatusConflict, "identifier already registered")
			return
		}
		s.internal(w, r, "create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, okResult)
}

func (s *server) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := s.engine.LoginWithPassword(r.Context(), req.ID, req.PW, middleware.ClientAddress(r))
	if err != nil {
		s.lifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{result: okResult, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// refresh takes the current access token from the Authorization header and
// the refresh token from the body.
func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	access, ok := middleware.ExtractToken(r.Header.Get("Authorization"), s.scheme)
	if !ok {
		fail(w, http.StatusUnauthorized, "access token required")
		return
	}
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := s.engine.Refresh(r.Context(), access, req.RefreshToken, middleware.ClientAddress(r))
	if err != nil {
		s.lifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{result: okResult, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	access, _ := middleware.ExtractToken(r.Header.Get("Authorization"), s.scheme)
	if err := s.engine.Logout(r.Context(), access, p.ID, middleware.ClientAddress(r)); err != nil {
		s.lifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResult)
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, meResponse{ID: p.ID, Roles: p.Roles, ExpiresAt: p.ExpiresAt})
}

func (s *server) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decode(w, r, &req) {
		return
	}
	ok, err := s.engine.VerifySecondFactor(r.Context(), req.ID, req.OTP)
	if err != nil {
		s.lifecycleError(w, r, err)
		return
	}
	if !ok {
		fail(w, http.StatusUnauthorized, "code rejected")
		return
	}
	writeJSON(w, http.StatusOK, okResult)
}

// enrollOTP lets a signed-in user replace their own second-factor secret.
func (s *server) enrollOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decode(w, r, &req) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	user, err := s.users.FindByIdentifier(r.Context(), req.ID)
	if err != nil || user.PrincipalID != p.ID {
		fail(w, http.StatusForbidden, "forbidden")
		return
	}

	enrollment, err := s.engine.EnrollSecondFactor(r.Context(), req.ID)
	if err != nil {
		s.lifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollResponse{result: okResult, Secret: enrollment.Secret, URL: enrollment.URL})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.users.Ping(r.Context()); err != nil {
		fail(w, http.StatusServiceUnavailable, "user store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, okResult)
}

func (s *server) lifecycleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rtauth.ErrStoreUnavailable):
		fail(w, http.StatusServiceUnavailable, "session store unavailable")
	case errors.Is(err, rtauth.ErrInvalidCredentials),
		errors.Is(err, rtauth.ErrReauthenticate),
		errors.Is(err, rtauth.ErrUnauthenticated):
		fail(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, rtauth.ErrThrottled):
		fail(w, http.StatusTooManyRequests, "too many failed attempts")
	case errors.Is(err, rtauth.ErrSecondFactorNotConfigured):
		fail(w, http.StatusConflict, "second factor not enrolled")
	case errors.Is(err, rtauth.ErrInvalidPrincipal):
		fail(w, http.StatusBadRequest, "invalid principal")
	default:
		s.internal(w, r, "request failed", err)
	}
}

func (s *server) internal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.ErrorContext(r.Context(), msg, "path", r.URL.Path, "error", err)
	fail(w, http.StatusInternalServerError, "internal error")
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, result{Success: false, Code: -1, Msg: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
