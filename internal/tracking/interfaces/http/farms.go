package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"livestock-cloud/internal/auth"
	"livestock-cloud/internal/geofence"
	trackingapp "livestock-cloud/internal/tracking/application"
	tracking "livestock-cloud/internal/tracking/domain"
)

const (
	farmsPath   = "/api/v1/farms"
	collarsPath = "/api/v1/collars"
)

// LiveFeeds exposes the cached live feed per farm.
type LiveFeeds interface {
	LiveFeed(farmID string) (trackingapp.LiveFeed, bool)
}

// FarmHandler serves farms, collar assignment and the live feed.
type FarmHandler struct {
	service *trackingapp.FarmService
	live    LiveFeeds
	logger  *log.Logger
}

// NewFarmHandler constructs a farm handler.
func NewFarmHandler(service *trackingapp.FarmService, live LiveFeeds, logger *log.Logger) (*FarmHandler, error) {
	if service == nil {
		return nil, errors.New("farms handler: nil service")
	}
	if live == nil {
		return nil, errors.New("farms handler: nil live feeds")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FarmHandler{service: service, live: live, logger: logger}, nil
}

type farmRequest struct {
	Name      string             `json:"name"`
	Geofence  *geofence.Geofence `json:"geofence"`
	CollarIDs []string           `json:"collar_ids"`
}

// ServeHTTP handles /api/v1/farms, /api/v1/collars and subroutes.
func (h *FarmHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == farmsPath:
		switch r.Method {
		case http.MethodGet:
			h.handleListFarms(w, r)
		case http.MethodPost:
			h.handleSaveFarm(w, r, "")
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(r.URL.Path, farmsPath+"/"):
		h.handleFarmRoute(w, r)
	case r.URL.Path == collarsPath:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleListCollars(w, r)
	case r.URL.Path == collarsPath+"/discover":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleDiscover(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *FarmHandler) handleFarmRoute(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, farmsPath+"/"), "/")
	farmID := parts[0]
	if farmID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := auth.EnsureFarm(r.Context(), farmID); err != nil {
		respondError(w, h.logger, err)
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.handleGetFarm(w, r, farmID)
		case http.MethodPut:
			h.handleSaveFarm(w, r, farmID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "feed":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleFeed(w, r, farmID)
	case len(parts) == 3 && parts[1] == "collars" && parts[2] != "":
		switch r.Method {
		case http.MethodPost:
			h.handleAssign(w, r, farmID, parts[2])
		case http.MethodDelete:
			h.handleRemove(w, r, farmID, parts[2])
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *FarmHandler) handleListFarms(w http.ResponseWriter, r *http.Request) {
	farms, err := h.service.ListFarms(r.Context())
	if err != nil {
		h.logger.Printf("farms list error: %v", err)
		http.Error(w, "failed to list farms", http.StatusInternalServerError)
		return
	}
	scope := auth.FarmIDFromContext(r.Context())
	out := make([]tracking.Farm, 0, len(farms))
	for _, farm := range farms {
		if scope != "" && farm.ID != scope {
			continue
		}
		out = append(out, farm)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *FarmHandler) handleGetFarm(w http.ResponseWriter, r *http.Request, farmID string) {
	farm, err := h.service.GetFarm(r.Context(), farmID)
	if err != nil {
		respondServiceError(w, h.logger, "farms get", err)
		return
	}
	writeJSON(w, http.StatusOK, farm)
}

// handleSaveFarm creates a farm (farmID empty) or replaces one.
func (h *FarmHandler) handleSaveFarm(w http.ResponseWriter, r *http.Request, farmID string) {
	if farmID == "" && auth.FarmIDFromContext(r.Context()) != "" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	var req farmRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	saved, err := h.service.SaveFarm(r.Context(), tracking.Farm{
		ID:        farmID,
		Name:      strings.TrimSpace(req.Name),
		Geofence:  req.Geofence,
		CollarIDs: req.CollarIDs,
	})
	if err != nil {
		respondServiceError(w, h.logger, "farms save", err)
		return
	}
	status := http.StatusOK
	if farmID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, saved)
}

func (h *FarmHandler) handleFeed(w http.ResponseWriter, r *http.Request, farmID string) {
	if _, err := h.service.GetFarm(r.Context(), farmID); err != nil {
		respondServiceError(w, h.logger, "farms feed", err)
		return
	}
	feed, ok := h.live.LiveFeed(farmID)
	if !ok {
		feed = trackingapp.LiveFeed{FarmID: farmID}
	}
	if feed.Readings == nil {
		feed.Readings = []trackingapp.LiveReading{}
	}
	if feed.Lost == nil {
		feed.Lost = []string{}
	}
	writeJSON(w, http.StatusOK, feed)
}

func (h *FarmHandler) handleAssign(w http.ResponseWriter, r *http.Request, farmID, collarID string) {
	farm, err := h.service.AssignCollar(r.Context(), collarID, farmID)
	if err != nil {
		respondServiceError(w, h.logger, "farms assign", err)
		return
	}
	writeJSON(w, http.StatusOK, farm)
}

func (h *FarmHandler) handleRemove(w http.ResponseWriter, r *http.Request, farmID, collarID string) {
	farm, err := h.service.RemoveCollar(r.Context(), collarID, farmID)
	if err != nil {
		respondServiceError(w, h.logger, "farms remove", err)
		return
	}
	writeJSON(w, http.StatusOK, farm)
}

func (h *FarmHandler) handleListCollars(w http.ResponseWriter, r *http.Request) {
	collars, err := h.service.ListCollars(r.Context())
	if err != nil {
		h.logger.Printf("collars list error: %v", err)
		http.Error(w, "failed to list collars", http.StatusInternalServerError)
		return
	}
	scope := auth.FarmIDFromContext(r.Context())
	out := make([]tracking.Collar, 0, len(collars))
	for _, collar := range collars {
		if scope != "" && collar.AssignedFarmID != scope {
			continue
		}
		out = append(out, collar)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *FarmHandler) handleDiscover(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.DiscoverCollars(r.Context())
	if err != nil {
		if errors.Is(err, trackingapp.ErrFetchFailed) {
			h.logger.Printf("collars discover error: %v", err)
			http.Error(w, "telemetry unavailable", http.StatusBadGateway)
			return
		}
		respondServiceError(w, h.logger, "collars discover", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"collar_ids": ids})
}

func respondServiceError(w http.ResponseWriter, logger *log.Logger, op string, err error) {
	switch {
	case errors.Is(err, geofence.ErrInvalidGeofence):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, tracking.ErrNotFound), errors.Is(err, tracking.ErrUnknownCollar), errors.Is(err, auth.ErrFarmMismatch):
		respondError(w, logger, err)
	default:
		logger.Printf("%s error: %v", op, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
