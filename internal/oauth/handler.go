package oauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kraikub/katrade-accounts/internal/auth"
	"github.com/kraikub/katrade-accounts/internal/response"
)

type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Signin serves POST /api/auth/signin.
func (h *Handler) Signin(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if !response.Decode(w, r, &req) {
		return
	}
	var bearer string
	if parts := strings.Fields(r.Header.Get("Authorization")); len(parts) > 1 {
		bearer = parts[1]
	}

	res, err := h.svc.Signin(r.Context(), req, bearer)
	if err != nil {
		h.logger.Debugw("signin failed", "clientId", req.ClientID, "err", err)
		h.writeError(w, err)
		return
	}
	h.logger.Infow("signin complete", "clientId", req.ClientID)
	response.OK(w, "Signin complete", res)
}

type signatureRequest struct {
	Username string `json:"username"`
}

type signatureResponse struct {
	ValidateResult bool `json:"validateResult"`
}

// SigninSignature serves POST /api/auth/signin-signature.
func (h *Handler) SigninSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if !response.Decode(w, r, &req) {
		return
	}
	ok, err := h.svc.ValidateSigninSignature(r.Context(), req.Username)
	if err != nil {
		response.HandleAPIError(w, h.logger, err)
		return
	}
	response.OK(w, "", signatureResponse{ValidateResult: ok})
}

// Consent serves GET /api/auth/consent?client_id= behind auth.RequireSession.
func (h *Handler) Consent(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		response.HandleErrResponse(w, http.StatusBadRequest, "Require client_id.", nil)
		return
	}
	granted, err := h.svc.Consent(r.Context(), claims.UID, clientID)
	if err != nil {
		response.HandleAPIError(w, h.logger, err)
		return
	}
	response.OK(w, "", map[string]string{"scope": granted})
}

// Token serves POST /api/oauth/token. It answers in the OAuth token format
// rather than the envelope.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if err := r.ParseForm(); err != nil {
		h.writeTokenError(w, newError("invalid_request", "unable to parse request body", http.StatusBadRequest))
		return
	}
	clientID, clientSecret, hasBasic := r.BasicAuth()
	if !hasBasic {
		clientID = r.PostForm.Get("client_id")
		clientSecret = r.PostForm.Get("client_secret")
	}
	res, err := h.svc.Exchange(r.Context(), TokenRequest{
		GrantType:    strings.TrimSpace(r.PostForm.Get("grant_type")),
		Code:         strings.TrimSpace(r.PostForm.Get("code")),
		ClientID:     strings.TrimSpace(clientID),
		ClientSecret: strings.TrimSpace(clientSecret),
		RedirectURI:  strings.TrimSpace(r.PostForm.Get("redirect_uri")),
		CodeVerifier: r.PostForm.Get("code_verifier"),
	})
	if err != nil {
		h.writeTokenError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var oe *Error
	if errors.As(err, &oe) {
		response.HandleErrResponse(w, oe.Status, oe.Description, nil)
		return
	}
	response.HandleAPIError(w, h.logger, err)
}

func (h *Handler) writeTokenError(w http.ResponseWriter, err error) {
	var oe *Error
	if !errors.As(err, &oe) {
		h.logger.Errorw("token exchange failed", "err", err)
		oe = newError("server_error", "", http.StatusInternalServerError)
	}
	if oe.Code == "invalid_client" {
		w.Header().Set("WWW-Authenticate", `Basic realm="katrade-accounts"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oe.Status)
	_ = json.NewEncoder(w).Encode(struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description,omitempty"`
	}{oe.Code, oe.Description})
}
