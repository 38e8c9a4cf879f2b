package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"startup-analyst/internal/dedupe"
	"startup-analyst/internal/documents"
	"startup-analyst/internal/poller"
	"startup-analyst/internal/remote"
	"startup-analyst/internal/results"
	"startup-analyst/internal/shared/server/middleware"
	"startup-analyst/internal/shared/server/respond"
	"startup-analyst/internal/warehouse"
)

const maxBatchSize = 4 * documents.MaxFileSize

// Benchmarks answers sector statistics from the archive.
type Benchmarks interface {
	SectorBenchmark(ctx context.Context, sector string) (warehouse.SectorBenchmark, error)
	TrendingSectors(ctx context.Context) ([]warehouse.SectorTrend, error)
}

// JobCounter reports how many tracked jobs are running and finished.
type JobCounter interface {
	Counts() (active, finished int)
}

// Handler serves the tracker and the store over HTTP.
type Handler struct {
	Tracker    *Tracker
	Store      *Store
	Hub        *Hub
	Benchmarks Benchmarks
	Jobs       JobCounter
	ReloadRule middleware.RateLimitRule
	Limiter    *middleware.RateLimiter
}

// NewHandler constructs a Handler. Benchmarks, Jobs and Hub may be nil.
func NewHandler(tracker *Tracker, store *Store, hub *Hub) *Handler {
	return &Handler{
		Tracker:    tracker,
		Store:      store,
		Hub:        hub,
		ReloadRule: middleware.RateLimitRule{Rate: 0.2, Burst: 2},
	}
}

// RegisterRoutes attaches analysis, progress and result routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.health)

	rg.POST("/analyses", h.submit)

	rg.GET("/progress", h.progressStatus)
	rg.DELETE("/progress", h.cancel)
	rg.GET("/progress/stream", h.stream)
	rg.DELETE("/progress/:jobId", h.clearJob)

	rg.GET("/results", h.list)
	rg.GET("/results/duplicates", h.duplicates)
	rg.GET("/results/compare", h.compare)
	rg.GET("/results/:id", h.get)
	rg.DELETE("/results/:id", h.delete)
	rg.POST("/results/reload", middleware.RateLimit(middleware.RateLimitConfig{
		DefaultGroup: "RELOAD",
		Limiter:      h.Limiter,
		Rules:        map[string]middleware.RateLimitRule{"RELOAD": h.ReloadRule},
	}), h.reload)

	if h.Benchmarks != nil {
		rg.GET("/benchmarks/sectors/:sector", h.sectorBenchmark)
		rg.GET("/benchmarks/trending", h.trending)
	}
}

type healthResponse struct {
	OK            bool      `json:"ok"`
	Tracking      string    `json:"tracking"`
	ActiveJobs    int       `json:"activeJobs"`
	CompletedJobs int       `json:"completedJobs"`
	Results       int       `json:"results"`
	LoadedAt      time.Time `json:"loadedAt"`
}

func (h *Handler) health(c *gin.Context) {
	resp := healthResponse{
		OK:       true,
		Tracking: string(h.Tracker.Status().State),
		Results:  h.Store.Len(),
		LoadedAt: h.Store.LoadedAt(),
	}
	if h.Jobs != nil {
		resp.ActiveJobs, resp.CompletedJobs = h.Jobs.Counts()
	}
	respond.OK(c, resp)
}

func (h *Handler) submit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBatchSize)
	form, err := c.MultipartForm()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "multipart form with files is required", nil)
		return
	}
	files, err := documents.FromMultipart(form.File["files"], form.Value["document_types"])
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := remote.WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	sub, err := h.Tracker.Submit(ctx, files)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set("jobIds", strings.Join(sub.JobIDs, ","))
	respond.Accepted(c, sub)
}

type progressResponse struct {
	poller.Status
	Submission remote.Submission `json:"submission"`
	Outcome    *Outcome          `json:"outcome,omitempty"`
}

func (h *Handler) statusPayload() progressResponse {
	resp := progressResponse{
		Status:     h.Tracker.Status(),
		Submission: h.Tracker.Submission(),
	}
	if o, ok := h.Tracker.LastOutcome(); ok {
		resp.Outcome = &o
	}
	return resp
}

func (h *Handler) progressStatus(c *gin.Context) {
	respond.OK(c, h.statusPayload())
}

func (h *Handler) cancel(c *gin.Context) {
	h.Tracker.Cancel()
	respond.NoContent(c)
}

func (h *Handler) stream(c *gin.Context) {
	if h.Hub == nil {
		respond.Error(c, http.StatusNotFound, "not_found", "progress streaming is disabled", nil)
		return
	}
	initial, _ := json.Marshal(h.Tracker.Status())
	h.Hub.ServeWS(c, initial)
}

func (h *Handler) clearJob(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("jobId"))
	if err := h.Tracker.ClearJob(c.Request.Context(), jobID); err != nil {
		writeError(c, err)
		return
	}
	respond.NoContent(c)
}

type listResponse struct {
	Results        []results.Result `json:"results"`
	Count          int              `json:"count"`
	HideDuplicates bool             `json:"hideDuplicates"`
	LoadedAt       time.Time        `json:"loadedAt"`
}

func (h *Handler) list(c *gin.Context) {
	hide, _ := strconv.ParseBool(c.DefaultQuery("hideDuplicates", "false"))
	view := h.Store.View(hide)
	respond.OK(c, listResponse{
		Results:        view,
		Count:          len(view),
		HideDuplicates: hide,
		LoadedAt:       h.Store.LoadedAt(),
	})
}

type duplicateGroup struct {
	Key          string           `json:"key"`
	Latest       results.Result   `json:"latest"`
	Suppressible []results.Result `json:"suppressible"`
}

func (h *Handler) duplicates(c *gin.Context) {
	groups := h.Store.Groups()
	out := make([]duplicateGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, toDuplicateGroup(g))
	}
	respond.OK(c, gin.H{"groups": out})
}

func toDuplicateGroup(g dedupe.Group) duplicateGroup {
	return duplicateGroup{Key: g.Key, Latest: g.Latest(), Suppressible: g.Suppressible()}
}

func (h *Handler) compare(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("ids"))
	if raw == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "ids is required", nil)
		return
	}
	list, err := h.Store.Compare(strings.Split(raw, ","))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"results": list})
}

func (h *Handler) get(c *gin.Context) {
	res, ok := h.Store.Get(c.Param("id"))
	if !ok {
		respond.Error(c, http.StatusNotFound, "not_found", "result not found", nil)
		return
	}
	respond.OK(c, res)
}

func (h *Handler) delete(c *gin.Context) {
	id := c.Param("id")
	c.Set("resultId", id)
	if err := h.Store.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	respond.NoContent(c)
}

func (h *Handler) reload(c *gin.Context) {
	if err := h.Store.Reload(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"count": h.Store.Len(), "loadedAt": h.Store.LoadedAt()})
}

func (h *Handler) sectorBenchmark(c *gin.Context) {
	b, err := h.Benchmarks.SectorBenchmark(c.Request.Context(), c.Param("sector"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, b)
}

func (h *Handler) trending(c *gin.Context) {
	list, err := h.Benchmarks.TrendingSectors(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"sectors": list})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, documents.ErrTooLarge):
		respond.Error(c, http.StatusRequestEntityTooLarge, "validation_error", err.Error(), nil)
	case errors.Is(err, documents.ErrNoFiles),
		errors.Is(err, documents.ErrUnsupportedFile),
		errors.Is(err, documents.ErrEmptyFile),
		errors.Is(err, documents.ErrCorruptDocument):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrNotFound), errors.Is(err, remote.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, remote.ErrUnavailable):
		respond.Error(c, http.StatusServiceUnavailable, "service_unavailable", err.Error(), nil)
	case errors.Is(err, remote.ErrRemoteRejected), errors.Is(err, ErrNoJobs):
		respond.Error(c, http.StatusBadGateway, "remote_rejected", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", err.Error(), nil)
	}
}
