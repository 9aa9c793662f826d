package offline0

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const controlPrefix = "/__offline0/"

// maxPushPayload caps push bodies accepted by the control API.
const maxPushPayload = 4 << 10

func (s *Service) registerControl(mux *http.ServeMux) {
	mux.HandleFunc("POST "+controlPrefix+"push", s.handlePush)
	mux.HandleFunc("POST "+controlPrefix+"notificationclick", s.handleClick)
	mux.HandleFunc("POST "+controlPrefix+"sync", s.handleSync)
	mux.HandleFunc("POST "+controlPrefix+"windows", s.handleRegisterWindow)
	mux.HandleFunc("DELETE "+controlPrefix+"windows/{id}", s.handleRemoveWindow)
	mux.HandleFunc("GET "+controlPrefix+"status", s.handleStatus)
	mux.HandleFunc(controlPrefix, http.NotFound)
}

func (s *Service) handlePush(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxPushPayload+1))
	if err != nil {
		http.Error(w, "read payload", http.StatusBadRequest)
		return
	}
	if len(data) > maxPushPayload {
		http.Error(w, "push payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	n, shown := s.dispatcher.Push(r.Context(), data)
	writeJSON(w, http.StatusOK, map[string]any{"notification": n, "shown": shown})
}

func (s *Service) handleClick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string `json:"id"`
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	res, err := s.dispatcher.NotificationClick(r.Context(), req.ID, req.Action)
	if errors.Is(err, ErrUnknownNotification) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res, "focused": s.windows.Focused()})
}

func (s *Service) handleSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tag == "" {
		http.Error(w, "tag is required", http.StatusBadRequest)
		return
	}
	scheduled := s.syncs.Register(req.Tag)
	writeJSON(w, http.StatusAccepted, map[string]any{"tag": req.Tag, "scheduled": scheduled})
}

func (s *Service) handleRegisterWindow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, s.windows.Register(req.URL))
}

func (s *Service) handleRemoveWindow(w http.ResponseWriter, r *http.Request) {
	if !s.windows.Remove(r.PathValue("id")) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state":       s.dispatcher.State().String(),
		"claimed":     s.dispatcher.Claimed(),
		"generation":  s.cfg.Cache.Generation,
		"generations": s.store.Usage(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("write control response")
	}
}
