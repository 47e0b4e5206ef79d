package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"livestock-cloud/internal/observability/metrics"
	telemetry "livestock-cloud/internal/telemetry/domain"
)

const (
	sensorsPath       = "/api/v1/sensors"
	gatewayIngestPath = "/ingest/sensors"
	maxBodyBytes      = 1 << 20
)

// Handler serves the sensor feed archive.
type Handler struct {
	repo   telemetry.SensorRepository
	logger *log.Logger
}

// NewHandler constructs a sensor feed handler.
func NewHandler(repo telemetry.SensorRepository, logger *log.Logger) (*Handler, error) {
	if repo == nil {
		return nil, errors.New("sensors handler: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{repo: repo, logger: logger}, nil
}

// ServeHTTP handles /api/v1/sensors, /api/v1/sensors/{id} and /ingest/sensors.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == sensorsPath:
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleAdd(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case r.URL.Path == gatewayIngestPath:
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleAdd(w, r)
	case strings.HasPrefix(r.URL.Path, sensorsPath+"/"):
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleDelete(w, r, strings.TrimPrefix(r.URL.Path, sensorsPath+"/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	feeds, err := h.repo.List(r.Context(), r.URL.Query().Get("collar_id"), limit)
	if err != nil {
		h.logger.Printf("sensors list error: %v", err)
		http.Error(w, "failed to fetch sensor feeds", http.StatusInternalServerError)
		return
	}
	if feeds == nil {
		feeds = []telemetry.SensorFeed{}
	}
	writeJSON(w, http.StatusOK, feeds)
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	feed, err := decodeSensorFeed(r)
	if err != nil {
		metrics.IncIngestError("invalid_payload")
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		h.logger.Printf("sensors ingest: invalid payload: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.repo.Insert(r.Context(), &feed); err != nil {
		metrics.IncIngestError("insert")
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		h.logger.Printf("sensors ingest: insert error: %v", err)
		http.Error(w, "failed to add sensor feed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(start))
	writeJSON(w, http.StatusCreated, feed)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	deleted, err := h.repo.Delete(r.Context(), id)
	if err != nil {
		h.logger.Printf("sensors delete error: id=%s err=%v", id, err)
		http.Error(w, "failed to delete sensor feed", http.StatusInternalServerError)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Sensor feed not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Sensor feed deleted", "id": id})
}

type sensorRequest struct {
	CollarID  string   `json:"collar_id"`
	Location  string   `json:"location"`
	AccelX    *float64 `json:"accel_x"`
	AccelY    *float64 `json:"accel_y"`
	AccelZ    *float64 `json:"accel_z"`
	GyroX     *float64 `json:"gyro_x"`
	GyroY     *float64 `json:"gyro_y"`
	GyroZ     *float64 `json:"gyro_z"`
	Behaviour string   `json:"behaviour"`
	Status    string   `json:"status"`
	CreatedAt string   `json:"created_at"`
}

// decodeSensorFeed reads a JSON body, or query parameters when the body is
// empty as sent by simple gateways.
func decodeSensorFeed(r *http.Request) (telemetry.SensorFeed, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return telemetry.SensorFeed{}, errors.New("read body error")
	}
	defer r.Body.Close()

	var req sensorRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return telemetry.SensorFeed{}, errors.New("invalid json")
		}
	} else {
		req, err = sensorRequestFromQuery(r)
		if err != nil {
			return telemetry.SensorFeed{}, err
		}
	}
	return req.toSensorFeed()
}

func sensorRequestFromQuery(r *http.Request) (sensorRequest, error) {
	q := r.URL.Query()
	req := sensorRequest{
		CollarID:  q.Get("collar_id"),
		Location:  q.Get("location"),
		Behaviour: q.Get("behaviour"),
		Status:    q.Get("status"),
		CreatedAt: q.Get("created_at"),
	}
	targets := map[string]**float64{
		"accel_x": &req.AccelX,
		"accel_y": &req.AccelY,
		"accel_z": &req.AccelZ,
		"gyro_x":  &req.GyroX,
		"gyro_y":  &req.GyroY,
		"gyro_z":  &req.GyroZ,
	}
	for key, target := range targets {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return sensorRequest{}, errors.New(key + " must be a number")
		}
		*target = &v
	}
	return req, nil
}

func (req sensorRequest) toSensorFeed() (telemetry.SensorFeed, error) {
	collarID := strings.TrimSpace(req.CollarID)
	if collarID == "" {
		return telemetry.SensorFeed{}, errors.New("collar_id is required")
	}
	location := strings.TrimSpace(req.Location)
	if location != "" {
		if _, _, ok := telemetry.ParseCoordinates(location); !ok {
			return telemetry.SensorFeed{}, errors.New(`location must be "lon,lat"`)
		}
	}
	feed := telemetry.SensorFeed{
		CollarID:  collarID,
		Location:  location,
		AccelX:    req.AccelX,
		AccelY:    req.AccelY,
		AccelZ:    req.AccelZ,
		GyroX:     req.GyroX,
		GyroY:     req.GyroY,
		GyroZ:     req.GyroZ,
		Behaviour: req.Behaviour,
		Status:    req.Status,
	}
	if req.CreatedAt != "" {
		ts, err := telemetry.ParseTimestamp(req.CreatedAt)
		if err != nil {
			return telemetry.SensorFeed{}, errors.New("created_at must be RFC3339")
		}
		feed.CreatedAt = ts
	}
	return feed, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
