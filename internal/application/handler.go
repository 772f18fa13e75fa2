package application

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kraikub/katrade-accounts/internal/application/entity"
	"github.com/kraikub/katrade-accounts/internal/auth"
	"github.com/kraikub/katrade-accounts/internal/response"
)

// Handler exposes the application management endpoints.
type Handler struct {
	svc    *Service
	auth   *auth.Middleware
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, authMw *auth.Middleware, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, auth: authMw, logger: logger}
}

// Resource serves GET, PUT and DELETE on /api/app/{clientId}.
func (h *Handler) Resource(w http.ResponseWriter, r *http.Request) {
	res := h.auth.AuthenticateSession(w, r)
	if !res.Success {
		return
	}
	payload := res.Payload

	clientID := mux.Vars(r)["clientId"]
	if clientID == "" {
		response.HandleErrResponse(w, http.StatusBadRequest, "Require clientId.", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		app, err := h.svc.Get(r.Context(), clientID)
		if errors.Is(err, ErrNotFound) {
			response.OK(w, "", nil)
			return
		}
		if err != nil {
			response.HandleAPIError(w, h.logger, err)
			return
		}
		if app.OwnerID != payload.UID {
			response.HandleErrResponse(w, http.StatusMethodNotAllowed, "Not the application owner.", nil)
			return
		}
		response.OK(w, "", app)

	case http.MethodPut:
		var in entity.UpdateInput
		if !response.Decode(w, r, &in) {
			return
		}
		app, err := h.svc.Update(r.Context(), payload.UID, clientID, in)
		if err != nil {
			h.usecaseError(w, err)
			return
		}
		response.OK(w, "Update complete", app)

	case http.MethodDelete:
		if err := h.svc.Delete(r.Context(), payload.UID, clientID); err != nil {
			h.usecaseError(w, err)
			return
		}
		response.OK(w, "Delete complete", nil)

	default:
		response.HandleErrResponse(w, http.StatusMethodNotAllowed, "Method not allowed.", nil)
	}
}

// Create serves POST /api/app. It must be mounted behind auth.RequireSession.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	var in entity.CreateInput
	if !response.Decode(w, r, &in) {
		return
	}
	created, err := h.svc.Create(r.Context(), claims.UID, in)
	if err != nil {
		h.usecaseError(w, err)
		return
	}
	h.logger.Infow("application created", "clientId", created.ClientID, "owner", claims.UID)
	response.Write(w, http.StatusCreated, response.Create(true, "Create complete", created))
}

// List serves GET /api/app with the caller's own applications.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	apps, err := h.svc.ListOwned(r.Context(), claims.UID)
	if err != nil {
		response.HandleAPIError(w, h.logger, err)
		return
	}
	response.OK(w, "", apps)
}

// HasName serves GET /api/app/has-name?name=.
func (h *Handler) HasName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		response.HandleErrResponse(w, http.StatusBadRequest, "Require name.", nil)
		return
	}
	taken, err := h.svc.HasName(r.Context(), name)
	if err != nil {
		response.HandleAPIError(w, h.logger, err)
		return
	}
	response.OK(w, "", taken)
}

// usecaseError maps service errors to the status the usecase reports.
// The message is left empty so the status text is used.
func (h *Handler) usecaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.HandleErrResponse(w, http.StatusNotFound, "", nil)
	case errors.Is(err, ErrNotOwner):
		response.HandleErrResponse(w, http.StatusForbidden, "", nil)
	case errors.Is(err, ErrInvalidInput):
		response.HandleErrResponse(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, ErrNameTaken):
		response.HandleErrResponse(w, http.StatusConflict, "Application name is taken.", nil)
	case errors.Is(err, ErrQuotaExceeded):
		response.HandleErrResponse(w, http.StatusForbidden, "Application quota exceeded.", nil)
	default:
		response.HandleAPIError(w, h.logger, err)
	}
}
