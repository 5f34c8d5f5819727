//
//
package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/geotrack/geotrack/internal/location"
	"github.com/geotrack/geotrack/internal/relay"
	"github.com/geotrack/geotrack/internal/tracking"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// RegisterRoutes registers every endpoint on router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/update_location/{device_id}", s.handleUpdateLocation).Methods(http.MethodPost)
	router.HandleFunc("/nearby", s.handleNearby).Methods(http.MethodGet)
	router.HandleFunc("/ws/tracker/{device_id}", s.handleWebSocket).Methods(http.MethodGet)
	router.HandleFunc("/sse/tracker/{device_id}", s.handleSSE).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed,
			r.Method+" is not allowed on "+r.URL.Path, nil)
	})
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, CodeNotFound, "Resource not found", nil)
	})

	router.Use(s.logRequests)
}

// handleUpdateLocation handles POST /update_location/{device_id}
func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]

	query := r.URL.Query()
	lat, err := requiredFloat(query.Get("latitude"), "latitude")
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	lon, err := requiredFloat(query.Get("longitude"), "longitude")
	if err != nil {
		WriteAPIError(w, err)
		return
	}

	if _, err := s.deps.Tracking.UpdateLocation(r.Context(), deviceID, lat, lon); err != nil {
		WriteAPIError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "success",
		"device_id": deviceID,
	})
}

// nearbyResponse is the body of GET /nearby.
type nearbyResponse struct {
	NearbyDevices []tracking.NearbyDevice `json:"nearby_devices"`
}

// handleNearby handles GET /nearby
func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	lat, err := requiredFloat(query.Get("center_lat"), "center_lat")
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	lon, err := requiredFloat(query.Get("center_lon"), "center_lon")
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	radius := tracking.DefaultRadiusKm
	if raw := query.Get("radius_km"); raw != "" {
		if radius, err = parseFloat(raw, "radius_km"); err != nil {
			WriteAPIError(w, err)
			return
		}
	}

	devices, err := s.deps.Tracking.Nearby(r.Context(), lat, lon, radius)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	if devices == nil {
		devices = []tracking.NearbyDevice{}
	}

	WriteJSON(w, http.StatusOK, nearbyResponse{NearbyDevices: devices})
}

// handleWebSocket handles GET /ws/tracker/{device_id}
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.deps.Streams.ServeWebSocket(w, r, mux.Vars(r)["device_id"])
}

// handleSSE handles GET /sse/tracker/{device_id}
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	s.deps.Streams.ServeSSE(w, r, mux.Vars(r)["device_id"])
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Calculate uptime
	uptime := 0.0
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Seconds()
	}

	state := s.deps.Relay.State()
	health := map[string]interface{}{
		"status":      "ok",
		"uptimeSec":   uptime,
		"version":     Version,
		"relay":       map[string]interface{}{"state": state, "stats": s.deps.Relay.Stats()},
		"connections": s.deps.Connections.Len(),
	}

	if state == relay.StateSubscribed {
		WriteSuccess(w, health)
		return
	}

	// Without a bus subscription no live updates reach this process.
	health["status"] = "degraded"
	WriteAPIError(w, NewAPIError(CodeServiceDegraded, "Bus relay is not subscribed",
		http.StatusServiceUnavailable, health))
}

// logRequests logs each request after it completes. Streaming endpoints log
// once the session ends.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"durationMs": time.Since(start).Milliseconds(),
		}).Debug("Request handled")
	})
}

func requiredFloat(raw, field string) (float64, error) {
	if raw == "" {
		return 0, &location.ValidationError{Field: field, Reason: "is required"}
	}
	return parseFloat(raw, field)
}

func parseFloat(raw, field string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &location.ValidationError{Field: field, Reason: "must be a finite number"}
	}
	return v, nil
}
