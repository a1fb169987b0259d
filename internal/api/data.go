package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/CovCube/server/internal/telemetry"
)

// recordDataRequest is the request body for POST /data. Data may be a JSON
// number or string; it is stored by its text.
type recordDataRequest struct {
	SensorType string          `json:"sensorType" validate:"required,notblank"`
	CubeID     string          `json:"cubeId" validate:"required,uuid"`
	Data       json.RawMessage `json:"data" validate:"required"`
}

// text returns the reading as the store expects it.
func (req recordDataRequest) text() string {
	var s string
	if err := json.Unmarshal(req.Data, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(req.Data))
}

// handleQueryData returns readings filtered by sensorType, cubeId, start
// and end. Every parameter is optional.
func (s *Server) handleQueryData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := telemetry.ParseFilter(q.Get("sensorType"), q.Get("cubeId"), q.Get("start"), q.Get("end"))
	if err != nil {
		s.writeDomainError(w, r, err, "failed to query data")
		return
	}

	records, err := s.telemetry.QueryReadings(r.Context(), f)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to query data")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleRecordData stores a reading submitted over HTTP.
func (s *Server) handleRecordData(w http.ResponseWriter, r *http.Request) {
	var req recordDataRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	rec, err := s.telemetry.RecordReading(r.Context(), req.SensorType, req.CubeID, req.text())
	if err != nil {
		s.writeDomainError(w, r, err, "failed to record data")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
