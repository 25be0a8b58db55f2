package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/probe-link/probe-link-server/internal/export"
	"github.com/probe-link/probe-link-server/internal/models"
	"github.com/probe-link/probe-link-server/internal/reconcile"
	"github.com/probe-link/probe-link-server/internal/storage"
	"github.com/probe-link/probe-link-server/pkg/probe"
)

// ========== Probe handlers ==========

// HandleListProbes lists probes
func (s *RESTServer) HandleListProbes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	probes, total, err := s.store.ListProbes(ctx, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"probes": probes,
		"total":  total,
	})
}

// HandleGetProbe gets a probe with its live upload state
func (s *RESTServer) HandleGetProbe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	serial, err := probe.ParseSerialNumber(chi.URLParam(r, "serial"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid serial number")
		return
	}

	p, err := s.store.GetProbe(ctx, serial)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "probe not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	state := reconcile.UnavailableState()
	if engine, ok := s.registry.Get(serial); ok {
		state = engine.State()
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"probe":       p,
		"uploadState": state,
	})
}

// HandleUpdateProbe updates a probe's name and description
func (s *RESTServer) HandleUpdateProbe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	serial, err := probe.ParseSerialNumber(chi.URLParam(r, "serial"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid serial number")
		return
	}

	var req struct {
		Name        string `json:"name" validate:"max=100"`
		Description string `json:"description" validate:"max=500"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := s.store.GetProbe(ctx, serial)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "probe not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	p.Name = req.Name
	p.Description = req.Description

	if err := s.store.UpdateProbe(ctx, p); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, p)
}

// HandleDeleteProbe deletes a probe and its records
func (s *RESTServer) HandleDeleteProbe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	serial, err := probe.ParseSerialNumber(chi.URLParam(r, "serial"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid serial number")
		return
	}

	if err := s.store.DeleteProbe(ctx, serial); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "probe not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ========== Record handlers ==========

// HandleListRecords lists a probe's reconciled records
func (s *RESTServer) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	serial, err := probe.ParseSerialNumber(chi.URLParam(r, "serial"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid serial number")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 100
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, total, err := s.store.ListTemperatureRecords(ctx, serial, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"total":   total,
	})
}

// HandleListSessions lists the engine's session accounting
func (s *RESTServer) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	serial, err := probe.ParseSerialNumber(chi.URLParam(r, "serial"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid serial number")
		return
	}

	sessions := []reconcile.SessionStatus{}
	if engine, ok := s.registry.Get(serial); ok {
		sessions = engine.Sessions()
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// HandleExportRecords streams a probe's full log as CSV
func (s *RESTServer) HandleExportRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	serialStr := chi.URLParam(r, "serial")
	serial, err := probe.ParseSerialNumber(serialStr)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid serial number")
		return
	}

	records, err := s.store.ListAllTemperatureRecords(ctx, serial)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"probe_%s_log.csv\"", serial))

	if err := export.WriteCSV(w, records); err != nil {
		// Headers already sent; nothing left but to log
		return
	}
}

// ========== Upload control handlers ==========

// HandleGetUploadState reports the probe's upload state machine
func (s *RESTServer) HandleGetUploadState(w http.ResponseWriter, r *http.Request) {
	serial, err := probe.ParseSerialNumber(chi.URLParam(r, "serial"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid serial number")
		return
	}

	state := reconcile.UnavailableState()
	if engine, ok := s.registry.Get(serial); ok {
		state = engine.State()
	}

	s.respondJSON(w, http.StatusOK, state)
}

// HandleRequestTransfer starts a bulk transfer for a connected probe
func (s *RESTServer) HandleRequestTransfer(w http.ResponseWriter, r *http.Request) {
	serial, err := probe.ParseSerialNumber(chi.URLParam(r, "serial"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid serial number")
		return
	}

	engine, ok := s.registry.Get(serial)
	if !ok {
		s.respondError(w, http.StatusConflict, "probe has never been seen")
		return
	}

	if err := engine.RequestTransfer(); err != nil {
		switch {
		case errors.Is(err, reconcile.ErrNotConnected):
			s.respondError(w, http.StatusConflict, "probe not connected")
		case errors.Is(err, reconcile.ErrNoStatusYet):
			s.respondError(w, http.StatusConflict, "no status frame received yet")
		case errors.Is(err, reconcile.ErrTransferActive):
			s.respondError(w, http.StatusConflict, "transfer already in progress")
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.respondJSON(w, http.StatusAccepted, engine.State())
}

// ========== Event handlers ==========

// HandleListEvents lists event log entries
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	filters := storage.EventLogFilters{}

	// Parse filters
	if serialStr := r.URL.Query().Get("serial"); serialStr != "" {
		if serial, err := probe.ParseSerialNumber(serialStr); err == nil {
			filters.SerialNumber = &serial
		}
	}

	if eventType := r.URL.Query().Get("type"); eventType != "" {
		modelEventType := models.EventType(eventType)
		filters.Type = &modelEventType
	}

	if level := r.URL.Query().Get("level"); level != "" {
		modelEventLevel := models.EventLevel(level)
		filters.Level = &modelEventLevel
	}

	events, total, err := s.store.ListEventLogs(ctx, filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}
