package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	log "github.com/sachindeshpande/faers-sub002/chassis/logging"

	"github.com/sachindeshpande/faers-sub002/chassis/storage"
	"github.com/sachindeshpande/faers-sub002/coordinator"
	"github.com/sachindeshpande/faers-sub002/poller"
)

// Handler - thin operational HTTP surface over the pipeline.
type Handler struct {
	Coordinator *coordinator.Service
	Poller      *poller.Service
	Attempts    storage.AttemptRepository
	Environment string
}

// Register mounts the pipeline routes on the router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/cases/{id}/submit", h.submit).Methods(http.MethodPost)
	router.HandleFunc("/cases/{id}/cancel", h.cancel).Methods(http.MethodPost)
	router.HandleFunc("/cases/{id}/check", h.check).Methods(http.MethodPost)
	router.HandleFunc("/cases/{id}/progress", h.progress).Methods(http.MethodGet)
	router.HandleFunc("/cases/{id}/attempt", h.attempt).Methods(http.MethodGet)
	router.HandleFunc("/poller/status", h.pollerStatus).Methods(http.MethodGet)
}

// submit triggers an asynchronous submission run for the case.
func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["id"]
	if h.Coordinator.Running(caseID) {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already_in_progress"})
		return
	}
	go func() {
		result := h.Coordinator.Submit(context.Background(), caseID, h.Environment)
		log.WithFields(log.Fields{
			"event":   "api_submit_finished",
			"caseID":  caseID,
			"outcome": string(result.Outcome),
		}).Info("background submission finished")
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "caseID": caseID})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["id"]
	cancelled := h.Coordinator.Cancel(caseID)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// check runs an on-demand acknowledgment lookup, bypassing the schedule.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["id"]
	ack, err := h.Poller.CheckNow(r.Context(), caseID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "case not found"})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	if ack == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["id"]
	snapshot, ok := h.Coordinator.Progress(caseID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no submission in progress"})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) attempt(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["id"]
	attempt, err := h.Attempts.LatestAttempt(r.Context(), caseID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no attempts recorded"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (h *Handler) pollerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Poller.Status())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithFields(log.Fields{
			"event": "response_encode_failed",
		}).Error(err)
	}
}
