package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fleetfuel/fleetfuel360/internal/analytics"
	"github.com/fleetfuel/fleetfuel360/internal/models"
	"github.com/fleetfuel/fleetfuel360/internal/store"
)

// statsCacheTTL bounds how long aggregate responses may lag behind writes.
// Write paths clear the cache eagerly, so this only covers background
// scheduler activity.
const statsCacheTTL = 30 * time.Second

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps engine errors onto HTTP statuses.
func errorStatus(err error) int {
	var orderErr *models.DataOrderError
	var insufficientErr *models.InsufficientDataError
	var schemaErr *models.SchemaMismatchError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, analytics.ErrNoModel):
		return http.StatusConflict
	case errors.As(err, &orderErr), errors.As(err, &insufficientErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &schemaErr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseWindow reads since/until query parameters as RFC3339 timestamps.
func parseWindow(r *http.Request) (models.Window, error) {
	var w models.Window
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return w, fmt.Errorf("invalid since: %v", err)
		}
		w.Since = t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return w, fmt.Errorf("invalid until: %v", err)
		}
		w.Until = t
	}
	return w, nil
}

// handleHealth reports liveness and database reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		s.log.Warn("health check db ping failed", zap.Error(err))
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

// handleVehicles lists the registry or registers a vehicle.
func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		vehicles, err := s.store.ListVehicles(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"vehicles": vehicles,
			"count":    len(vehicles),
		})

	case http.MethodPost:
		var v models.Vehicle
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
			return
		}
		if v.ID == "" {
			writeError(w, http.StatusBadRequest, "vehicle id is required")
			return
		}
		if err := s.store.UpsertVehicle(r.Context(), &v); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, v)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleVehicleByID retrieves one vehicle.
func (s *Server) handleVehicleByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/vehicles/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "vehicle id is required")
		return
	}
	v, err := s.store.GetVehicle(r.Context(), id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// recordQueryFromRequest builds a fuel-log query from URL parameters.
func recordQueryFromRequest(r *http.Request) (store.RecordQuery, error) {
	window, err := parseWindow(r)
	if err != nil {
		return store.RecordQuery{}, err
	}
	q := store.RecordQuery{
		VehicleID: r.URL.Query().Get("vehicle_id"),
		Since:     window.Since,
		Until:     window.Until,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return q, fmt.Errorf("invalid limit: %s", v)
		}
		q.Limit = limit
	}
	return q, nil
}

// handleFuelLogs lists or ingests fuel records.
func (s *Server) handleFuelLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q, err := recordQueryFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		recs, err := s.store.ListRecords(r.Context(), q)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"records": recs,
			"count":   len(recs),
		})

	case http.MethodPost:
		var recs []models.FuelRecord
		if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
			return
		}
		if len(recs) == 0 {
			writeError(w, http.StatusBadRequest, "no records in request")
			return
		}
		ids, err := s.engine.Ingest(r.Context(), recs)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		s.cache.Clear()
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"ids":   ids,
			"count": len(ids),
		})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAnomalies lists scored records labeled anomalous.
func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q, err := recordQueryFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q.OnlyAnomalies = true
	recs, err := s.store.ListRecords(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"anomalies": recs,
		"count":     len(recs),
	})
}

// handleStatistics aggregates fuel history over a window.
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := "stats:" + r.URL.RawQuery
	if cached, ok := s.cache.Get(key); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}
	fleet, vehicles, err := s.engine.Statistics(r.Context(), r.URL.Query().Get("vehicle_id"), window)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	body := map[string]interface{}{
		"fleet":    fleet,
		"vehicles": vehicles,
	}
	s.cache.Set(key, body, statsCacheTTL)
	writeJSON(w, http.StatusOK, body)
}

// handleRecommendations evaluates the advisory rules.
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := "recommendations:" + r.URL.RawQuery
	if cached, ok := s.cache.Get(key); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}
	recs, err := s.engine.Recommendations(r.Context(), window)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if recs == nil {
		recs = []models.Recommendation{}
	}
	body := map[string]interface{}{
		"recommendations": recs,
		"count":           len(recs),
	}
	s.cache.Set(key, body, statsCacheTTL)
	writeJSON(w, http.StatusOK, body)
}

// handleModelStatus reports the lifecycle snapshot and version history.
func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, versions, err := s.engine.ModelStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model":    snap,
		"versions": versions,
	})
}

// trainRequest optionally bounds the training window.
type trainRequest struct {
	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`
}

// handleModelTrain triggers a training run. Concurrent requests share a
// single fit.
func (s *Server) handleModelTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var opts analytics.TrainOptions
	if r.ContentLength > 0 {
		var req trainRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
			return
		}
		if req.Since != nil {
			opts.Window.Since = *req.Since
		}
		if req.Until != nil {
			opts.Window.Until = *req.Until
		}
	}

	summary, err := s.engine.Train(r.Context(), opts)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	s.cache.Clear()
	writeJSON(w, http.StatusOK, summary)
}

// detectRequest bounds a scoring pass.
type detectRequest struct {
	VehicleID string     `json:"vehicle_id,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
}

// handleDetectAnomalies scores stored records with the current model and
// persists the annotations.
func (s *Server) handleDetectAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req detectRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
			return
		}
	}

	var window models.Window
	if req.Since != nil {
		window.Since = *req.Since
	}
	if req.Until != nil {
		window.Until = *req.Until
	}

	results, err := s.engine.Score(r.Context(), req.VehicleID, window)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	s.cache.Clear()
	if results == nil {
		results = []models.AnomalyResult{}
	}

	anomalies := 0
	for _, res := range results {
		if res.IsAnomaly {
			anomalies++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":   results,
		"scored":    len(results),
		"anomalies": anomalies,
	})
}
