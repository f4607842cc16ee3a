package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"civiclens-service/internal/advisory"
	"civiclens-service/internal/detector"
	"civiclens-service/internal/domain/report"
	"civiclens-service/internal/export"
	"civiclens-service/internal/intake"
	"civiclens-service/internal/service"
	"civiclens-service/internal/storage"
)

const maxUploadBytes = 10 << 20

type Handler struct {
	reports  *service.ReportService
	pipeline *intake.Pipeline
	model    *detector.Service
	images   storage.ImageStore
	log      zerolog.Logger
}

func NewHandler(
	reports *service.ReportService,
	pipeline *intake.Pipeline,
	model *detector.Service,
	images storage.ImageStore,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		reports:  reports,
		pipeline: pipeline,
		model:    model,
		images:   images,
		log:      log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware, authorityMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api")
	{
		public.GET("/reports", h.listReports)
		public.POST("/reports", h.createReport)
		public.PUT("/reports/:id/upvote", h.upvoteReport)
		public.POST("/reports/analyze", h.analyzeImage)
		public.GET("/reports/stats", h.reportStats)
		public.GET("/advisory/:category", h.categoryAdvisory)
		public.GET("/detector/status", h.detectorStatus)
	}

	// Authority endpoints
	protected := r.Group("/api")
	protected.Use(authMiddleware, authorityMiddleware)
	{
		protected.PATCH("/reports/:id/status", h.updateReportStatus)
		protected.GET("/reports/export", h.exportReports)
	}
}

func (h *Handler) listReports(c *gin.Context) {
	reports, err := h.reports.List(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list reports")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	c.JSON(http.StatusOK, reports)
}

func (h *Handler) createReport(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid multipart payload"))
		return
	}

	confidence, err := parseRequiredFloat(c.PostForm("confidence"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("confidence is required and must be a number"))
		return
	}
	lat, err := parseRequiredFloat(c.PostForm("lat"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("lat is required and must be a number"))
		return
	}
	lng, err := parseRequiredFloat(c.PostForm("lng"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("lng is required and must be a number"))
		return
	}

	// The detection set that produced the draft, when the client ran analysis.
	var detections []report.Detection
	if raw := c.PostForm("detections"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &detections); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("detections must be a JSON array"))
			return
		}
	}

	// A missing image file is accepted: the report is stored with an empty
	// image URL.
	imageURL := ""
	if file, err := c.FormFile("image"); err == nil && file != nil {
		if file.Size == 0 {
			c.JSON(http.StatusBadRequest, errorResponse("image file is empty"))
			return
		}
		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("image file could not be read"))
			return
		}
		defer src.Close()

		key := fmt.Sprintf("%d%s", time.Now().UnixMilli(), strings.ToLower(filepath.Ext(file.Filename)))
		contentType := file.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		url, err := h.images.Upload(c.Request.Context(), key, src, file.Size, contentType)
		if err != nil {
			h.log.Error().Err(err).Str("key", key).Msg("failed to store report image")
			c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
			return
		}
		imageURL = url
	}

	created, err := h.reports.Create(c.Request.Context(), service.CreateInput{
		Category:    c.PostForm("category"),
		Confidence:  confidence,
		Lat:         lat,
		Lng:         lng,
		Address:     c.PostForm("address"),
		Description: c.PostForm("description"),
		ImageURL:    imageURL,
		Detections:  detections,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		h.log.Error().Err(err).Msg("failed to create report")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (h *Handler) upvoteReport(c *gin.Context) {
	updated, err := h.reports.Upvote(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) updateReportStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	updated, err := h.reports.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) reportStats(c *gin.Context) {
	stats, err := h.reports.Stats(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to compute report stats")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	c.JSON(http.StatusOK, stats)
}

// analyzeImage runs the intake pipeline server-side for thin clients: image
// in, draft out.
func (h *Handler) analyzeImage(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid multipart payload"))
		return
	}

	file, err := c.FormFile("image")
	if err != nil || file == nil {
		c.JSON(http.StatusBadRequest, errorResponse("image file is required"))
		return
	}
	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("image file could not be read"))
		return
	}
	defer src.Close()

	img, err := io.ReadAll(src)
	if err != nil || len(img) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse("image file could not be read"))
		return
	}

	var fix *report.GPSFix
	latStr, lngStr := c.PostForm("lat"), c.PostForm("lng")
	if latStr != "" && lngStr != "" {
		lat, errLat := strconv.ParseFloat(latStr, 64)
		lng, errLng := strconv.ParseFloat(lngStr, 64)
		if errLat != nil || errLng != nil {
			c.JSON(http.StatusBadRequest, errorResponse("lat and lng must be numbers"))
			return
		}
		candidate := report.GPSFix{Lat: lat, Lng: lng, AcquiredAt: time.Now()}
		if !candidate.Valid() {
			c.JSON(http.StatusBadRequest, errorResponse("lat/lng out of range"))
			return
		}
		fix = &candidate
	}

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	token := h.pipeline.Begin()
	draft, err := h.pipeline.Analyze(c.Request.Context(), token, img, contentType, fix)
	if err != nil {
		switch {
		case errors.Is(err, detector.ErrNotReady):
			c.JSON(http.StatusServiceUnavailable, errorResponse("detection model is still loading, try again shortly"))
		case errors.Is(err, detector.ErrUnavailable):
			c.JSON(http.StatusServiceUnavailable, errorResponse("detection features are unavailable"))
		case errors.Is(err, intake.ErrBadImage):
			c.JSON(http.StatusUnprocessableEntity, errorResponse("image could not be decoded"))
		case errors.Is(err, intake.ErrSuperseded):
			c.JSON(http.StatusConflict, errorResponse("analysis superseded by a newer request"))
		default:
			h.log.Error().Err(err).Msg("image analysis failed")
			c.JSON(http.StatusInternalServerError, errorResponse("analysis failed, please try again"))
		}
		return
	}

	c.JSON(http.StatusOK, draft)
}

// detectorStatus lets clients decide whether to offer analysis or show the
// degraded-capability notice.
func (h *Handler) detectorStatus(c *gin.Context) {
	state := h.model.State()
	c.JSON(http.StatusOK, gin.H{
		"state":     state.String(),
		"available": state == detector.StateReady,
	})
}

func (h *Handler) categoryAdvisory(c *gin.Context) {
	category, ok := report.ParseCategory(c.Param("category"))
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse("unknown category"))
		return
	}
	content, ok := advisory.ForCategory(category)
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse("unknown category"))
		return
	}
	c.JSON(http.StatusOK, content)
}

func (h *Handler) exportReports(c *gin.Context) {
	reports, err := h.reports.List(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list reports for export")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	buf, err := export.Reports(reports)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to build export workbook")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	filename := fmt.Sprintf("civic-reports-%s.xlsx", time.Now().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"message": message,
	}
}

// parseRequiredFloat treats absence and non-numeric input identically: both
// fail create validation.
func parseRequiredFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("missing value")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("not a finite number")
	}
	return &f, nil
}
