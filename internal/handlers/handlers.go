// Package handlers wires the integration core to its HTTP surface.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"channel-hub/internal/auth"
	"channel-hub/internal/channels"
	"channel-hub/internal/common/errors"
	"channel-hub/internal/common/logging"
	"channel-hub/internal/handshake"
	"channel-hub/internal/mentions"
	"channel-hub/internal/providers"
)

type Handlers struct {
	coordinator *handshake.Coordinator
	channels    *channels.Service
	mentions    *mentions.Aggregator
	registry    *providers.Registry
	auth        *auth.Auth
	logger      logging.Logger
}

func New(coordinator *handshake.Coordinator, channelSvc *channels.Service,
	aggregator *mentions.Aggregator, registry *providers.Registry,
	authHandler *auth.Auth, logger logging.Logger) *Handlers {

	return &Handlers{
		coordinator: coordinator,
		channels:    channelSvc,
		mentions:    aggregator,
		registry:    registry,
		auth:        authHandler,
		logger:      logger,
	}
}

// RegisterRoutes mounts all routes on the router. Everything under
// /api requires a bearer token.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.auth.RequireAuth)

	api.HandleFunc("/integrations/providers", h.ListProviders).Methods("GET")
	api.HandleFunc("/integrations", h.ListChannels).Methods("GET")
	api.HandleFunc("/integrations/{provider}/url", h.BeginHandshake).Methods("POST")
	api.HandleFunc("/integrations/{provider}/connect", h.CompleteHandshake).Methods("POST")
	api.HandleFunc("/integrations/{id}/enable", h.EnableChannel).Methods("POST")
	api.HandleFunc("/integrations/{id}/disable", h.DisableChannel).Methods("POST")
	api.HandleFunc("/integrations/{id}", h.DeleteChannel).Methods("DELETE")
	api.HandleFunc("/integrations/{id}/name", h.RenameChannel).Methods("PUT")
	api.HandleFunc("/integrations/{id}/group", h.AssignGroup).Methods("PUT")
	api.HandleFunc("/integrations/{id}/mentions", h.SearchMentions).Methods("GET")
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"providers": h.registry.ListEnabled(),
	})
}

func (h *Handlers) ListChannels(w http.ResponseWriter, r *http.Request) {
	orgID := auth.OrganizationFromContext(r.Context())
	list, err := h.channels.List(r.Context(), orgID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if list == nil {
		list = []*channels.Channel{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"channels": list})
}

type beginRequest struct {
	RefreshChannelID string `json:"refresh_channel_id,omitempty"`
	ExternalURL      string `json:"external_url,omitempty"`
}

func (h *Handlers) BeginHandshake(w http.ResponseWriter, r *http.Request) {
	var body beginRequest
	if err := decodeBody(r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}

	result, err := h.coordinator.Begin(r.Context(), handshake.BeginRequest{
		Provider:         mux.Vars(r)["provider"],
		RefreshChannelID: body.RefreshChannelID,
		ExternalURL:      body.ExternalURL,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type completeRequest struct {
	State          string `json:"state"`
	Code           string `json:"code"`
	TimezoneOffset int    `json:"timezone_offset,omitempty"`
}

func (h *Handlers) CompleteHandshake(w http.ResponseWriter, r *http.Request) {
	var body completeRequest
	if err := decodeBody(r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	if body.State == "" || body.Code == "" {
		h.respondError(w, r, errors.ValidationError("state and code are required"))
		return
	}

	channel, err := h.coordinator.Complete(r.Context(), handshake.CompleteRequest{
		Provider:       mux.Vars(r)["provider"],
		OrganizationID: auth.OrganizationFromContext(r.Context()),
		State:          body.State,
		Code:           body.Code,
		TimezoneOffset: body.TimezoneOffset,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, channel)
}

func (h *Handlers) EnableChannel(w http.ResponseWriter, r *http.Request) {
	orgID := auth.OrganizationFromContext(r.Context())
	if err := h.channels.Enable(r.Context(), orgID, mux.Vars(r)["id"]); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (h *Handlers) DisableChannel(w http.ResponseWriter, r *http.Request) {
	orgID := auth.OrganizationFromContext(r.Context())
	if err := h.channels.Disable(r.Context(), orgID, mux.Vars(r)["id"]); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (h *Handlers) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	orgID := auth.OrganizationFromContext(r.Context())
	if err := h.channels.Delete(r.Context(), orgID, mux.Vars(r)["id"]); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) RenameChannel(w http.ResponseWriter, r *http.Request) {
	var body renameRequest
	if err := decodeBody(r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}

	orgID := auth.OrganizationFromContext(r.Context())
	if err := h.channels.Rename(r.Context(), orgID, mux.Vars(r)["id"], body.Name); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
}

type groupRequest struct {
	CustomerID string `json:"customer_id"`
}

func (h *Handlers) AssignGroup(w http.ResponseWriter, r *http.Request) {
	var body groupRequest
	if err := decodeBody(r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}

	orgID := auth.OrganizationFromContext(r.Context())
	if err := h.channels.AssignGroup(r.Context(), orgID, mux.Vars(r)["id"], body.CustomerID); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "grouped"})
}

func (h *Handlers) SearchMentions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.respondError(w, r, errors.ValidationError("query parameter q is required"))
		return
	}

	orgID := auth.OrganizationFromContext(r.Context())
	channel, err := h.channels.Get(r.Context(), orgID, mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	result, err := h.mentions.Search(r.Context(), channel, query)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func decodeBody(r *http.Request, dest interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return errors.ValidationError("invalid JSON body")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// respondError maps the typed taxonomy to HTTP statuses; anything else
// is a 500 with the detail kept out of the response body.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		status := appErr.HTTPStatus()
		if status >= http.StatusInternalServerError {
			h.logger.Error("request failed", err, logging.String("path", r.URL.Path))
			respondJSON(w, status, map[string]string{"error": "internal error"})
			return
		}
		respondJSON(w, status, map[string]string{
			"error": appErr.Message,
			"type":  string(appErr.Type),
		})
		return
	}

	h.logger.Error("request failed", err, logging.String("path", r.URL.Path))
	respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
