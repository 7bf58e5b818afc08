package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/eggsync/internal/aggregate"
	"github.com/roach88/eggsync/internal/event"
	"github.com/roach88/eggsync/internal/ingest"
	"github.com/roach88/eggsync/internal/queue"
)

// StatusResponse is the body of GET /api/sync/status.
type StatusResponse struct {
	Online     bool       `json:"online"`
	Pending    int64      `json:"pending"`
	Synced     int64      `json:"synced"`
	Failed     int64      `json:"failed"`
	LastSyncAt *time.Time `json:"last_sync_at"`
}

func (s *Server) status(c *gin.Context) {
	ctx := c.Request.Context()
	counts, err := s.deps.Status.Counts(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := StatusResponse{
		Pending: counts.Pending,
		Synced:  counts.Synced,
		Failed:  counts.Failed,
	}
	if s.deps.Monitor != nil {
		resp.Online = s.deps.Monitor.IsOnline()
	}
	last, ok, err := s.deps.Status.LastSync(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ok {
		resp.LastSyncAt = &last
	}
	c.JSON(http.StatusOK, resp)
}

// DeadLetter is one entry of GET /api/sync/deadletter.
type DeadLetter struct {
	LocalID    int64     `json:"local_id"`
	BatchID    string    `json:"batch_id"`
	Label      string    `json:"label"`
	CapturedAt time.Time `json:"captured_at"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error"`
}

func (s *Server) deadLetter(c *gin.Context) {
	failed, err := s.deps.Status.ListFailed(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]DeadLetter, 0, len(failed))
	for _, ev := range failed {
		out = append(out, DeadLetter{
			LocalID:    ev.LocalID,
			BatchID:    ev.BatchID,
			Label:      string(ev.Label),
			CapturedAt: ev.CapturedAt,
			RetryCount: ev.RetryCount,
			LastError:  ev.LastError,
		})
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}

func (s *Server) runSync(c *gin.Context) {
	if s.deps.Worker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync worker not running"})
		return
	}
	s.deps.Worker.Trigger()
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}

// DetectionRequest is the body of POST /api/detections. Image is base64 in
// JSON.
type DetectionRequest struct {
	event.Detection
	Image            []byte `json:"image,omitempty"`
	ImageContentType string `json:"image_content_type,omitempty"`
}

func (s *Server) recordDetection(c *gin.Context) {
	var req DetectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var img *event.ImageInput
	if len(req.Image) > 0 {
		ct := req.ImageContentType
		if ct == "" {
			ct = http.DetectContentType(req.Image)
		}
		img = &event.ImageInput{Data: req.Image, ContentType: ct}
	}

	id, err := s.deps.Recorder.Record(c.Request.Context(), req.Detection, img)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"local_id": id})
	case errors.Is(err, ingest.ErrInvalidDetection):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case queue.IsStorageError(err):
		s.logger.Error("detection not stored", "err", err)
		c.JSON(http.StatusInsufficientStorage, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) summary(c *gin.Context) {
	kind, err := aggregate.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sum, err := aggregate.ReadSummary(c.Request.Context(), s.deps.Summaries, kind, c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}
