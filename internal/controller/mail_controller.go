package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mailpilot/crm-backend/internal/service"
)

type MailController struct {
	Queue           *service.MailQueue
	CampaignService *service.CampaignService
}

func (c *MailController) Enqueue(w http.ResponseWriter, r *http.Request) {
	var body service.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	id, err := c.Queue.Enqueue(body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"queue_item_id": id})
}

func (c *MailController) Drain(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = 50
	}

	report, err := c.Queue.Drain(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (c *MailController) RetryFailed(w http.ResponseWriter, r *http.Request) {
	reset, err := c.Queue.RetryFailed()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": reset})
}

// trackingPixel is a 1x1 transparent GIF.
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackOpen records an open event and serves the pixel. Unknown tokens
// still get the pixel; tracking must never break mail rendering.
func (c *MailController) TrackOpen(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	_ = c.CampaignService.RecordOpen(token)

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(trackingPixel)
}

// TrackClick records a click event and redirects to the target URL.
func (c *MailController) TrackClick(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	url := r.URL.Query().Get("url")

	_ = c.CampaignService.RecordClick(token, url)

	if url == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}
