package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/campaign"
	"github.com/lalithlochan/outreach/internal/db"
	"github.com/lalithlochan/outreach/internal/report"
)

type CreateCampaignRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	Description  string `json:"description" validate:"max=2000"`
	TemplateName string `json:"template_name" validate:"omitempty,max=100"`
}

// AddBusinessesRequest selects businesses by id, or by category and
// location. An empty request adds every business.
type AddBusinessesRequest struct {
	BusinessIDs []int64 `json:"business_ids" validate:"omitempty,max=10000,dive,gt=0"`
	Category    string  `json:"category" validate:"max=100"`
	Location    string  `json:"location" validate:"max=200"`
}

type ScheduleCampaignRequest struct {
	StartDate    string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EmailsPerDay *int   `json:"emails_per_day" validate:"omitempty,min=1"`
	FollowUpDays *int   `json:"follow_up_days" validate:"omitempty,min=0"`
}

type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft scheduled active completed"`
}

// RequeueRequest optionally sets the new send time for failed emails.
type RequeueRequest struct {
	At *time.Time `json:"at"`
}

// CreateCampaign handles POST /v1/campaigns
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.campaigns.CreateCampaign(r.Context(), campaign.NewCampaign{
		Name:         req.Name,
		Description:  req.Description,
		TemplateName: req.TemplateName,
	})
	if err != nil {
		h.writeServiceError(w, err, "Failed to create campaign")
		return
	}

	h.logger.Info("campaign created",
		zap.Int64("campaign_id", c.ID),
		zap.String("template", c.TemplateName),
	)
	h.writeJSON(w, http.StatusCreated, c)
}

// ListCampaigns handles GET /v1/campaigns
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	list, err := h.campaigns.ListCampaigns(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Failed to list campaigns")
		return
	}
	if list == nil {
		list = []db.CampaignSummary{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  list,
		"count": len(list),
	})
}

// AddBusinesses handles POST /v1/campaigns/{id}/businesses
func (h *Handler) AddBusinesses(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req AddBusinessesRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.campaigns.AddBusinesses(r.Context(), id, db.BusinessFilter{
		IDs:      req.BusinessIDs,
		Category: req.Category,
		Location: req.Location,
	})
	if err != nil {
		h.writeServiceError(w, err, "Failed to add businesses")
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// GenerateEmails handles POST /v1/campaigns/{id}/generate
func (h *Handler) GenerateEmails(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	res, err := h.campaigns.GenerateCampaignEmails(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to generate emails")
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// ScheduleCampaign handles POST /v1/campaigns/{id}/schedule
func (h *Handler) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req ScheduleCampaignRequest
	if !h.decode(w, r, &req) {
		return
	}

	sr := campaign.ScheduleRequest{
		EmailsPerDay: campaign.DefaultEmailsPerDay,
		FollowUpDays: campaign.DefaultFollowUpDays,
	}
	if req.EmailsPerDay != nil {
		sr.EmailsPerDay = *req.EmailsPerDay
	}
	if req.FollowUpDays != nil {
		sr.FollowUpDays = *req.FollowUpDays
	}
	if req.StartDate != "" {
		// validated above
		sr.StartDate, _ = time.Parse(time.DateOnly, req.StartDate)
	}

	out, err := h.campaigns.ScheduleCampaign(r.Context(), id, sr)
	if err != nil {
		h.writeServiceError(w, err, "Failed to schedule campaign")
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

// CampaignStats handles GET /v1/campaigns/{id}/stats
func (h *Handler) CampaignStats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	stats, err := h.campaigns.GetCampaignStats(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load campaign stats")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// CampaignReport handles GET /v1/campaigns/{id}/report.xlsx. With
// ?upload=true the workbook goes to the report bucket and the object key
// is returned instead.
func (h *Handler) CampaignReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if h.reports == nil {
		h.writeError(w, http.StatusServiceUnavailable, "reports_disabled", "Reports are not configured", "")
		return
	}

	if upload, _ := strconv.ParseBool(r.URL.Query().Get("upload")); upload {
		if !h.reports.CanUpload() {
			h.writeError(w, http.StatusServiceUnavailable, "reports_disabled", "Report upload is not configured", "REPORT_BUCKET is not set")
			return
		}
		key, err := h.reports.Upload(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, err, "Failed to upload report")
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"key": key})
		return
	}

	data, err := h.reports.Build(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to build report")
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="campaign-%d.xlsx"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// AdvanceStatus handles POST /v1/campaigns/{id}/status
func (h *Handler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req StatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.campaigns.AdvanceStatus(r.Context(), id, db.CampaignStatus(req.Status))
	if err != nil {
		h.writeServiceError(w, err, "Failed to update campaign status")
		return
	}

	h.logger.Info("campaign status updated",
		zap.Int64("campaign_id", id),
		zap.String("status", string(c.Status)),
	)
	h.writeJSON(w, http.StatusOK, c)
}

// RequeueFailed handles POST /v1/campaigns/{id}/requeue. The body is
// optional.
func (h *Handler) RequeueFailed(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req RequeueRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	var at time.Time
	if req.At != nil {
		at = *req.At
	}
	n, err := h.campaigns.RequeueFailed(r.Context(), id, at)
	if err != nil {
		h.writeServiceError(w, err, "Failed to requeue emails")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"campaign_id": id,
		"requeued":    n,
	})
}
