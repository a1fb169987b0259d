package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CovCube/server/internal/audit"
)

// addSensorTypeRequest is the request body for POST /config/sensors.
// A zero pushRate uses the catalog default.
type addSensorTypeRequest struct {
	Name     string `json:"name" validate:"required,notblank"`
	PushRate int    `json:"pushRate" validate:"gte=0"`
}

// addActuatorTypeRequest is the request body for POST /config/actuators.
type addActuatorTypeRequest struct {
	Name string `json:"name" validate:"required,notblank"`
}

func (s *Server) handleListSensorTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.catalog.ListSensorTypes(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list sensor types")
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (s *Server) handleAddSensorType(w http.ResponseWriter, r *http.Request) {
	var req addSensorTypeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	t, err := s.catalog.AddSensorType(r.Context(), req.Name, req.PushRate)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to add sensor type")
		return
	}
	s.recordAudit(r, audit.ActionCreate, audit.EntitySensorType, t.Name, map[string]any{"push_rate": t.PushRate})
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleDeactivateSensorType(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.catalog.DeactivateSensorType(r.Context(), name); err != nil {
		s.writeDomainError(w, r, err, "failed to remove sensor type")
		return
	}
	s.recordAudit(r, audit.ActionDeactivate, audit.EntitySensorType, name, nil)
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "deactivated"})
}

func (s *Server) handleListActuatorTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.catalog.ListActuatorTypes(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list actuator types")
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (s *Server) handleAddActuatorType(w http.ResponseWriter, r *http.Request) {
	var req addActuatorTypeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	t, err := s.catalog.AddActuatorType(r.Context(), req.Name)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to add actuator type")
		return
	}
	s.recordAudit(r, audit.ActionCreate, audit.EntityActuatorType, t.Name, nil)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleDeactivateActuatorType(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.catalog.DeactivateActuatorType(r.Context(), name); err != nil {
		s.writeDomainError(w, r, err, "failed to remove actuator type")
		return
	}
	s.recordAudit(r, audit.ActionDeactivate, audit.EntityActuatorType, name, nil)
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "deactivated"})
}
