package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/campaign"
	"github.com/lalithlochan/outreach/internal/db"
	"github.com/lalithlochan/outreach/internal/importer"
	"github.com/lalithlochan/outreach/internal/outreach"
	"github.com/lalithlochan/outreach/internal/redis"
	"github.com/lalithlochan/outreach/internal/worker"
)

// maxImportBytes bounds an uploaded lead file.
const maxImportBytes = 32 << 20

// CampaignService defines the campaign operations the API exposes
type CampaignService interface {
	CreateCampaign(ctx context.Context, in campaign.NewCampaign) (*db.Campaign, error)
	GetCampaign(ctx context.Context, id int64) (*db.Campaign, error)
	ListCampaigns(ctx context.Context) ([]db.CampaignSummary, error)
	BusinessDetails(ctx context.Context, id int64) (*db.BusinessDetails, error)
	AddBusinesses(ctx context.Context, campaignID int64, filter db.BusinessFilter) (campaign.AddResult, error)
	GenerateCampaignEmails(ctx context.Context, campaignID int64) (campaign.GenerateResult, error)
	ScheduleCampaign(ctx context.Context, campaignID int64, req campaign.ScheduleRequest) (db.ScheduleOutcome, error)
	GetCampaignStats(ctx context.Context, campaignID int64) (*campaign.Stats, error)
	AdvanceStatus(ctx context.Context, campaignID int64, to db.CampaignStatus) (*db.Campaign, error)
	RequeueFailed(ctx context.Context, campaignID int64, at time.Time) (int, error)
	AddAppointment(ctx context.Context, in campaign.NewAppointment) (*db.Appointment, error)
	RecordEngagement(ctx context.Context, trackingID string, event db.EngagementEvent, at time.Time, source string) (bool, error)
}

type Importer interface {
	Import(ctx context.Context, r io.Reader, format importer.Format) (importer.Result, error)
}

// Runner runs dispatch and analytics passes on demand, under the same
// locks as the background schedule.
type Runner interface {
	Dispatch(ctx context.Context) (worker.Result, error)
	UpdateAnalytics(ctx context.Context) (int, error)
}

type Reports interface {
	Build(ctx context.Context, campaignID int64) ([]byte, error)
	Upload(ctx context.Context, campaignID int64) (string, error)
	CanUpload() bool
}

// HealthChecker reports whether a required dependency answers.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Services bundles the handler dependencies. Reports, Templates and
// Health are optional.
type Services struct {
	Campaigns CampaignService
	Importer  Importer
	Runner    Runner
	Reports   Reports
	Templates *outreach.Templates
	Health    HealthChecker

	// DispatchTimeout bounds a manual pass. Zero means DefaultDispatchTimeout.
	DispatchTimeout time.Duration
}

// DefaultDispatchTimeout bounds a manual dispatch pass started over HTTP.
const DefaultDispatchTimeout = 15 * time.Minute

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger    *zap.Logger
	campaigns CampaignService
	importer  Importer
	runner    Runner
	reports   Reports
	templates *outreach.Templates
	health    HealthChecker
	validate  *validator.Validate

	dispatchTimeout time.Duration
}

func NewHandler(logger *zap.Logger, svc Services) *Handler {
	if svc.DispatchTimeout <= 0 {
		svc.DispatchTimeout = DefaultDispatchTimeout
	}
	return &Handler{
		logger:          logger,
		campaigns:       svc.Campaigns,
		importer:        svc.Importer,
		runner:          svc.Runner,
		reports:         svc.Reports,
		templates:       svc.Templates,
		health:          svc.Health,
		validate:        validator.New(),
		dispatchTimeout: svc.DispatchTimeout,
	}
}

// ImportBusinesses handles POST /v1/businesses/import.
// Accepts a multipart upload in the "file" field, or a JSON array body.
func (h *Handler) ImportBusinesses(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	var (
		src    io.Reader
		format importer.Format
	)
	switch contentType(r) {
	case "multipart/form-data":
		file, header, err := r.FormFile("file")
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing file", "multipart field \"file\" is required")
			return
		}
		defer file.Close()

		format, err = importer.FormatOf(header.Filename)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Unsupported file type", err.Error())
			return
		}
		src = file
	case "application/json":
		src, format = r.Body, importer.FormatJSON
	case "text/csv":
		src, format = r.Body, importer.FormatCSV
	default:
		h.writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Unsupported content type",
			"use multipart/form-data, application/json or text/csv")
		return
	}

	res, err := h.importer.Import(r.Context(), src, format)
	if err != nil {
		if errors.Is(err, importer.ErrUnsupportedFormat) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Unsupported file type", err.Error())
			return
		}
		h.logger.Warn("business import failed", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Import failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

// GetBusiness handles GET /v1/businesses/{id}
func (h *Handler) GetBusiness(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	details, err := h.campaigns.BusinessDetails(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load business")
		return
	}
	h.writeJSON(w, http.StatusOK, details)
}

type AppointmentRequest struct {
	BusinessID    int64     `json:"business_id" validate:"required,gt=0"`
	CampaignID    int64     `json:"campaign_id" validate:"required,gt=0"`
	ScheduledTime time.Time `json:"scheduled_time" validate:"required"`
	Notes         string    `json:"notes" validate:"max=2000"`
	CalendlyLink  string    `json:"calendly_link" validate:"omitempty,url"`
}

// CreateAppointment handles POST /v1/appointments
func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req AppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	appt, err := h.campaigns.AddAppointment(r.Context(), campaign.NewAppointment{
		BusinessID:    req.BusinessID,
		CampaignID:    req.CampaignID,
		ScheduledTime: req.ScheduledTime,
		Notes:         req.Notes,
		CalendlyLink:  req.CalendlyLink,
	})
	if err != nil {
		h.writeServiceError(w, err, "Failed to add appointment")
		return
	}
	h.writeJSON(w, http.StatusCreated, appt)
}

// Track handles POST /v1/track/{tracking_id}/{event}, the hook for open
// pixels, click redirects and reply notifications.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "tracking_id")
	event := db.EngagementEvent(chi.URLParam(r, "event"))

	recorded, err := h.campaigns.RecordEngagement(r.Context(), trackingID, event, time.Time{}, "http")
	if err != nil {
		h.writeServiceError(w, err, "Failed to record engagement")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"tracking_id": trackingID,
		"event":       event,
		"recorded":    recorded,
	})
}

// Dispatch handles POST /v1/dispatch, one RunDueEmails pass.
//
// The pass is not tied to the request: a client that disconnects does not
// cut it short. It runs until done or until the dispatch timeout.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.dispatchTimeout)
	defer cancel()
	// outlive the server-wide write timeout; unsupported writers keep it
	_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(h.dispatchTimeout + 30*time.Second))

	res, err := h.runner.Dispatch(ctx)
	if err != nil && res.Total() == 0 {
		h.writeServiceError(w, err, "Dispatch failed")
		return
	}
	if err != nil {
		// the pass ran; only the lifecycle refresh after it failed
		h.logger.Warn("dispatch finished with error", zap.Error(err))
	}
	h.writeJSON(w, http.StatusOK, res)
}

// UpdateAnalytics handles POST /v1/analytics
func (h *Handler) UpdateAnalytics(w http.ResponseWriter, r *http.Request) {
	n, err := h.runner.UpdateAnalytics(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Analytics update failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"snapshots": n})
}

// Health handles GET /health. It answers 503 when the record store is down.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Health(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("UNAVAILABLE"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ListTemplates handles GET /v1/templates
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	tpl := h.templates
	if tpl == nil {
		tpl = outreach.DefaultTemplates()
	}

	type templateInfo struct {
		Name string `json:"name"`
		Body string `json:"body"`
	}
	names := tpl.Names()
	out := make([]templateInfo, 0, len(names))
	for _, name := range names {
		body, _ := tpl.Get(name)
		out = append(out, templateInfo{Name: name, Body: body})
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":   out,
		"source": tpl.Source(),
	})
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid request", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid "+name, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// writeServiceError maps domain errors onto problem responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, title string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Not found", err.Error())
	case errors.Is(err, campaign.ErrInvalidInput), errors.Is(err, campaign.ErrInvalidSchedule):
		h.writeError(w, http.StatusBadRequest, "invalid_request", title, err.Error())
	case errors.Is(err, campaign.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "invalid_transition", title, err.Error())
	case errors.Is(err, redis.ErrLockHeld):
		h.writeError(w, http.StatusConflict, "in_progress", title, "another pass is already running")
	case errors.Is(err, worker.ErrTransportNotConfigured):
		h.writeError(w, http.StatusServiceUnavailable, "transport_not_configured", title, err.Error())
	default:
		h.logger.Error(title, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", title, "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func contentType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}
