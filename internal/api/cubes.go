package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/CovCube/server/internal/audit"
	"github.com/CovCube/server/internal/auth"
	"github.com/CovCube/server/internal/cube"
)

// createCubeRequest is the request body for POST /cubes.
type createCubeRequest struct {
	TargetIP string `json:"targetIP" validate:"required,notblank"`
	Location string `json:"location" validate:"required,notblank"`
}

// updateCubeRequest is the request body for PUT /cubes/{id}. It accepts
// either structured sensors and actuators or the comma-delimited form
// (sensorTypes, scanIntervals, actuatorTypes) sent by form clients. The
// delimited form wins when any of its fields is present.
type updateCubeRequest struct {
	Location  string                  `json:"location"`
	Sensors   []cube.SensorAssignment `json:"sensors"`
	Actuators []string                `json:"actuators"`

	SensorTypes   *string `json:"sensorTypes"`
	ScanIntervals *string `json:"scanIntervals"`
	ActuatorTypes *string `json:"actuatorTypes"`
}

func (req updateCubeRequest) delimited() bool {
	return req.SensorTypes != nil || req.ScanIntervals != nil || req.ActuatorTypes != nil
}

// variables converts the request into reconciliation input.
func (req updateCubeRequest) variables() (cube.Variables, error) {
	v := cube.Variables{Location: req.Location, Sensors: req.Sensors, Actuators: req.Actuators}
	if !req.delimited() {
		return v, nil
	}

	sensors, actuators, err := cube.ParseTarget(deref(req.SensorTypes), deref(req.ScanIntervals), deref(req.ActuatorTypes))
	if err != nil {
		return cube.Variables{}, err
	}
	v.Sensors, v.Actuators = sensors, actuators
	return v, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// handleListCubes returns all cubes ordered by location.
func (s *Server) handleListCubes(w http.ResponseWriter, r *http.Request) {
	cubes, err := s.registry.ListCubes(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list cubes")
		return
	}
	writeJSON(w, http.StatusOK, cubes)
}

// handleGetCube returns a single cube by ID.
func (s *Server) handleGetCube(w http.ResponseWriter, r *http.Request) {
	c, err := s.registry.GetCube(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err, "failed to get cube")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleCreateCube provisions the cube at targetIP.
func (s *Server) handleCreateCube(w http.ResponseWriter, r *http.Request) {
	if s.provisioner == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceFailure, "provisioning is not available")
		return
	}

	var req createCubeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	attempt, err := s.provisioner.Provision(r.Context(), req.TargetIP, req.Location)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to add cube")
		return
	}
	s.recordAudit(r, audit.ActionCreate, audit.EntityCube, attempt.CubeID, map[string]any{
		"ip": req.TargetIP, "location": req.Location,
	})
	writeJSON(w, http.StatusCreated, attempt.Cube)
}

// handleUpdateCube reconciles a cube with the requested state. Devices
// that could not be told about the change are reported in the
// X-Device-Notify-Failures header; the stored update stands regardless.
func (s *Server) handleUpdateCube(w http.ResponseWriter, r *http.Request) {
	var req updateCubeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	v, err := req.variables()
	if err != nil {
		s.writeDomainError(w, r, err, "failed to update cube")
		return
	}

	result, err := s.registry.UpdateCube(r.Context(), chi.URLParam(r, "id"), v)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to update cube")
		return
	}

	if !result.Plan.Empty() || result.LocationChanged {
		s.recordAudit(r, audit.ActionUpdate, audit.EntityCube, result.Cube.ID, map[string]any{
			"location":        result.Cube.Location,
			"sensors":         result.Cube.Sensors,
			"actuators":       result.Cube.Actuators,
			"notify_failures": result.NotifyFailures,
		})
	}

	if result.NotifyFailures > 0 {
		w.Header().Set("X-Device-Notify-Failures", strconv.Itoa(result.NotifyFailures))
	}
	writeJSON(w, http.StatusOK, result.Cube)
}

// handleDeleteCube removes a cube, its telemetry subscription and its
// device tokens.
func (s *Server) handleDeleteCube(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.registry.DeleteCube(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err, "failed to delete cube")
		return
	}

	if s.subs != nil {
		if err := s.subs.UnsubscribeCube(id); err != nil {
			s.logger.Warn("unsubscribing deleted cube failed", "id", id, "error", err)
		}
	}
	if _, err := s.tokens.DeleteByOwner(r.Context(), auth.CubeOwner(id)); err != nil {
		s.logger.Warn("removing tokens of deleted cube failed", "id", id, "error", err)
	}

	s.recordAudit(r, audit.ActionDelete, audit.EntityCube, id, nil)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}
