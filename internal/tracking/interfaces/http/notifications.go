package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"livestock-cloud/internal/auth"
	"livestock-cloud/internal/observability/metrics"
	trackingapp "livestock-cloud/internal/tracking/application"
	tracking "livestock-cloud/internal/tracking/domain"
)

const (
	notificationsPath = "/api/v1/notifications"
	maxExportRows     = 5000
)

// NotificationHandler serves the notifications panel.
type NotificationHandler struct {
	store  trackingapp.NotificationStore
	logger *log.Logger
	now    func() time.Time
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(store trackingapp.NotificationStore, logger *log.Logger) (*NotificationHandler, error) {
	if store == nil {
		return nil, errors.New("notifications handler: nil store")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &NotificationHandler{store: store, logger: logger, now: time.Now}, nil
}

// ServeHTTP handles /api/v1/notifications and subroutes.
func (h *NotificationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == notificationsPath:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case r.URL.Path == notificationsPath+"/export.xlsx":
		h.handleExport(w, r, "xlsx")
	case r.URL.Path == notificationsPath+"/export.pdf":
		h.handleExport(w, r, "pdf")
	case strings.HasPrefix(r.URL.Path, notificationsPath+"/"):
		h.handleAction(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *NotificationHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseNotificationFilter(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	items, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.Printf("notifications list error: %v", err)
		http.Error(w, "failed to list notifications", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []tracking.Notification{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *NotificationHandler) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, notificationsPath+"/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "read" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]

	existing, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.logger.Printf("notifications get error: id=%s err=%v", id, err)
		http.Error(w, "failed to load notification", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := auth.EnsureFarm(r.Context(), existing.FarmID); err != nil {
		respondError(w, h.logger, err)
		return
	}

	updated, err := h.store.MarkRead(r.Context(), id, h.now().UTC())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *NotificationHandler) handleExport(w http.ResponseWriter, r *http.Request, format string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	filter, err := parseNotificationFilter(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if filter.Limit <= 0 || filter.Limit > maxExportRows {
		filter.Limit = maxExportRows
	}
	items, err := h.store.List(r.Context(), filter)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		h.logger.Printf("notifications export error: format=%s err=%v", format, err)
		http.Error(w, "failed to list notifications", http.StatusInternalServerError)
		return
	}

	var (
		payload     []byte
		contentType string
	)
	switch format {
	case "xlsx":
		payload, err = BuildNotificationsXLSX(items)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		payload, err = BuildNotificationsPDF(filter.FarmID, h.now(), items)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		h.logger.Printf("notifications export render error: format=%s err=%v", format, err)
		http.Error(w, "failed to render export", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(start))

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=notifications."+format)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// parseNotificationFilter reads farm_id, animal_id, unread and limit. Callers
// scoped to a farm only see that farm.
func parseNotificationFilter(r *http.Request) (tracking.NotificationFilter, error) {
	q := r.URL.Query()
	filter := tracking.NotificationFilter{
		FarmID:   q.Get("farm_id"),
		AnimalID: q.Get("animal_id"),
	}
	if raw := q.Get("unread"); raw != "" {
		unread, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, errBadRequest("unread must be a boolean")
		}
		filter.Unread = unread
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, errBadRequest("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	if scope := auth.FarmIDFromContext(r.Context()); scope != "" {
		if filter.FarmID != "" && filter.FarmID != scope {
			return filter, auth.ErrFarmMismatch
		}
		filter.FarmID = scope
	}
	return filter, nil
}

type badRequestError string

func (e badRequestError) Error() string { return string(e) }

func errBadRequest(msg string) error { return badRequestError(msg) }

// respondError maps classified errors to client statuses; anything else is
// logged and reported as a 500.
func respondError(w http.ResponseWriter, logger *log.Logger, err error) {
	var bad badRequestError
	switch {
	case errors.As(err, &bad):
		http.Error(w, bad.Error(), http.StatusBadRequest)
	case errors.Is(err, auth.ErrFarmMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, tracking.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, tracking.ErrUnknownCollar):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		logger.Printf("request error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
