package user

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kraikub/katrade-accounts/internal/auth"
	"github.com/kraikub/katrade-accounts/internal/response"
)

// Handler exposes HTTP endpoints for user operations.
type Handler struct {
	svc    *UserService
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Me returns the full user data of the token holder. Mount behind auth.RequireSession.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	data, err := h.svc.GetFullUserData(r.Context(), claims.UID)
	if errors.Is(err, ErrUserNotFound) {
		response.HandleErrResponse(w, http.StatusNotFound, "User not found.", nil)
		return
	}
	if err != nil {
		response.HandleAPIError(w, h.logger, err)
		return
	}
	response.OK(w, "", data)
}

// Info returns the user data the token's scope allows.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	info, err := h.svc.UserInfo(r.Context(), claims.UID, claims.Scope)
	if errors.Is(err, ErrUserNotFound) {
		response.HandleErrResponse(w, http.StatusNotFound, "User not found.", nil)
		return
	}
	if err != nil {
		response.HandleAPIError(w, h.logger, err)
		return
	}
	response.OK(w, "", info)
}

type signupResponse struct {
	UID string `json:"uid"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupInput
	if !response.Decode(w, r, &req) {
		return
	}
	u, err := h.svc.Signup(r.Context(), req)
	if err != nil {
		h.logger.Debugw("signup failed", "err", err)
		switch {
		case errors.Is(err, ErrInvalidInput):
			response.HandleErrResponse(w, http.StatusBadRequest, err.Error(), nil)
		case errors.Is(err, ErrUsernameTaken):
			response.HandleErrResponse(w, http.StatusConflict, "Username is taken.", nil)
		default:
			response.HandleAPIError(w, h.logger, err)
		}
		return
	}
	response.Write(w, http.StatusCreated, response.Create(true, "Signup complete", signupResponse{UID: u.UID}))
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !response.Decode(w, r, &req) {
		return
	}
	switch err := h.svc.VerifyEmail(r.Context(), req.Email, req.Code); {
	case err == nil:
		response.OK(w, "Email verified", nil)
	case errors.Is(err, ErrInvalidCode):
		response.HandleErrResponse(w, http.StatusBadRequest, "Invalid verification code.", nil)
	case errors.Is(err, ErrCodeExpired):
		response.HandleErrResponse(w, http.StatusGone, "Verification code expired.", nil)
	default:
		response.HandleAPIError(w, h.logger, err)
	}
}
