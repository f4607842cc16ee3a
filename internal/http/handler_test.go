package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"civiclens-service/internal/detector"
	"civiclens-service/internal/domain/report"
	"civiclens-service/internal/intake"
	"civiclens-service/internal/service"
	"civiclens-service/internal/storage"
)

type memoryRepo struct {
	reports     []report.Report
	lastPayload *report.CreatePayload
}

func (m *memoryRepo) Create(ctx context.Context, payload report.CreatePayload) (*report.Report, error) {
	m.lastPayload = &payload
	r := report.Report{
		ID:          uuid.New(),
		Category:    payload.Category,
		Confidence:  payload.Confidence,
		Location:    report.Location{Lat: payload.Lat, Lng: payload.Lng},
		Address:     payload.Address,
		ImageURL:    payload.ImageURL,
		Description: payload.Description,
		Status:      report.StatusNotSolved,
		CreatedAt:   time.Now(),
	}
	m.reports = append(m.reports, r)
	return &r, nil
}

func (m *memoryRepo) List(ctx context.Context) ([]report.Report, error) {
	out := make([]report.Report, len(m.reports))
	copy(out, m.reports)
	return out, nil
}

func (m *memoryRepo) Upvote(ctx context.Context, id uuid.UUID) (*report.Report, error) {
	for i := range m.reports {
		if m.reports[i].ID == id {
			m.reports[i].Upvotes++
			r := m.reports[i]
			return &r, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status report.Status) (*report.Report, error) {
	for i := range m.reports {
		if m.reports[i].ID == id {
			m.reports[i].Status = status
			r := m.reports[i]
			return &r, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepo) Locations(ctx context.Context) ([]report.Location, error) {
	return nil, nil
}

func (m *memoryRepo) CountByStatus(ctx context.Context) (map[report.Status]int, error) {
	out := make(map[report.Status]int)
	for _, r := range m.reports {
		out[r.Status]++
	}
	return out, nil
}

func (m *memoryRepo) CountByCategory(ctx context.Context) (map[report.Category]int, error) {
	out := make(map[report.Category]int)
	for _, r := range m.reports {
		out[r.Category]++
	}
	return out, nil
}

type noopIndex struct{}

func (noopIndex) Add(loc report.Location)        {}
func (noopIndex) Rebuild(locs []report.Location) {}

func (noopIndex) Nearby(fix report.GPSFix) (report.Location, bool) {
	return report.Location{}, false
}

type stubDetector struct {
	detections []report.Detection
	err        error
}

func (s *stubDetector) Detect(ctx context.Context, img []byte, contentType string) ([]report.Detection, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.detections, nil
}

func newTestRouter(t *testing.T, det *stubDetector) (*gin.Engine, *memoryRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := &memoryRepo{}
	idx := noopIndex{}
	reports := service.NewReportService(repo, idx, zerolog.Nop())
	pipeline := intake.NewPipeline(det, idx, intake.Options{}, zerolog.Nop())
	model := detector.NewService("", zerolog.Nop())

	images, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	h := NewHandler(reports, pipeline, model, images, zerolog.Nop())
	r := gin.New()
	passthrough := func(c *gin.Context) { c.Next() }
	h.Register(r, passthrough, passthrough)
	return r, repo
}

func multipartBody(t *testing.T, fields map[string]string, img []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(%s) error = %v", k, err)
		}
	}
	if img != nil {
		part, err := w.CreateFormFile("image", "report.png")
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		if _, err := part.Write(img); err != nil {
			t.Fatalf("write image part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, w.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func validFields() map[string]string {
	return map[string]string{
		"category":   "Road",
		"confidence": "88",
		"lat":        "17.41",
		"lng":        "78.43",
		"address":    "12 MG Road",
	}
}

func TestListReportsEmpty(t *testing.T) {
	r, _ := newTestRouter(t, &stubDetector{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/reports", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got []report.Report
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("response is not an array: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestCreateReportMissingNumericField(t *testing.T) {
	for _, field := range []string{"confidence", "lat", "lng"} {
		t.Run(field, func(t *testing.T) {
			r, repo := newTestRouter(t, &stubDetector{})

			fields := validFields()
			delete(fields, field)
			body, contentType := multipartBody(t, fields, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/reports", body)
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			var resp struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Message == "" {
				t.Errorf("want {message} body, got %s", w.Body.String())
			}
			if len(repo.reports) != 0 {
				t.Errorf("report persisted despite validation failure")
			}
		})
	}
}

func TestCreateReportWithoutImage(t *testing.T) {
	r, _ := newTestRouter(t, &stubDetector{})

	body, contentType := multipartBody(t, validFields(), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/reports", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var created report.Report
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ImageURL != "" {
		t.Errorf("imageUrl = %q, want empty", created.ImageURL)
	}
	if created.Category != report.CategoryRoad || created.Upvotes != 0 {
		t.Errorf("unexpected report: %+v", created)
	}
}

func TestCreateReportStoresImage(t *testing.T) {
	r, _ := newTestRouter(t, &stubDetector{})

	body, contentType := multipartBody(t, validFields(), pngBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/api/reports", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var created report.Report
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(created.ImageURL, "/uploads/") || !strings.HasSuffix(created.ImageURL, ".png") {
		t.Errorf("imageUrl = %q, want /uploads/*.png", created.ImageURL)
	}
}

func TestCreateReportStoresDetections(t *testing.T) {
	r, repo := newTestRouter(t, &stubDetector{})

	fields := validFields()
	fields["detections"] = `[{"label":"stop sign","score":0.9,"box":{"x":1,"y":2,"width":3,"height":4}}]`
	body, contentType := multipartBody(t, fields, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/reports", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if repo.lastPayload == nil {
		t.Fatal("nothing persisted")
	}
	got := repo.lastPayload.Detections
	if len(got) != 1 || got[0].Label != "stop sign" || got[0].Score != 0.9 {
		t.Errorf("stored detections = %+v, want the submitted set", got)
	}
	if got[0].Box.Width != 3 {
		t.Errorf("box width = %v, want 3", got[0].Box.Width)
	}
}

func TestCreateReportRejectsMalformedDetections(t *testing.T) {
	r, repo := newTestRouter(t, &stubDetector{})

	fields := validFields()
	fields["detections"] = "not json"
	body, contentType := multipartBody(t, fields, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/reports", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(repo.reports) != 0 {
		t.Errorf("report persisted despite malformed detections")
	}
}

func TestCreateReportRejectsEmptyImagePart(t *testing.T) {
	r, repo := newTestRouter(t, &stubDetector{})

	body, contentType := multipartBody(t, validFields(), []byte{})
	req := httptest.NewRequest(http.MethodPost, "/api/reports", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Message == "" {
		t.Errorf("want {message} body, got %s", w.Body.String())
	}
	if len(repo.reports) != 0 {
		t.Errorf("report persisted despite empty image")
	}
}

func TestUpvoteUnknownReport(t *testing.T) {
	r, _ := newTestRouter(t, &stubDetector{})

	url := fmt.Sprintf("/api/reports/%s/upvote", uuid.NewString())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, url, nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Message == "" {
		t.Errorf("want {message} body, got %s", w.Body.String())
	}
}

func TestUpvoteIncrementsCount(t *testing.T) {
	r, repo := newTestRouter(t, &stubDetector{})
	repo.reports = []report.Report{
		{ID: uuid.New(), Category: report.CategoryWaste, Status: report.StatusNotSolved},
	}

	url := fmt.Sprintf("/api/reports/%s/upvote", repo.reports[0].ID)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, url, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var updated report.Report
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if updated.Upvotes != 1 {
		t.Errorf("upvotes = %d, want 1", updated.Upvotes)
	}
}

func TestAnalyzeImage(t *testing.T) {
	det := &stubDetector{detections: []report.Detection{
		{Label: "stop sign", Score: 0.9},
	}}
	r, _ := newTestRouter(t, det)

	body, contentType := multipartBody(t, map[string]string{}, pngBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/api/reports/analyze", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var draft report.Draft
	if err := json.Unmarshal(w.Body.Bytes(), &draft); err != nil {
		t.Fatalf("decode draft: %v", err)
	}
	if draft.Category == nil || *draft.Category != report.CategoryRoad {
		t.Errorf("category = %v, want Road", draft.Category)
	}
	if draft.Confidence == nil {
		t.Errorf("confidence not set")
	}
}

func TestAnalyzeImageDetectorFailures(t *testing.T) {
	tests := []struct {
		name       string
		detectErr  error
		wantStatus int
	}{
		{"model still loading", detector.ErrNotReady, http.StatusServiceUnavailable},
		{"model load failed", detector.ErrUnavailable, http.StatusServiceUnavailable},
		{"transient inference failure", detector.ErrInference, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t, &stubDetector{err: tt.detectErr})

			body, contentType := multipartBody(t, map[string]string{}, pngBytes(t))
			req := httptest.NewRequest(http.MethodPost, "/api/reports/analyze", body)
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			var resp struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Message == "" {
				t.Errorf("want {message} body, got %s", w.Body.String())
			}
		})
	}
}

func TestAnalyzeImageUndecodableBody(t *testing.T) {
	r, _ := newTestRouter(t, &stubDetector{})

	body, contentType := multipartBody(t, map[string]string{}, []byte("not an image"))
	req := httptest.NewRequest(http.MethodPost, "/api/reports/analyze", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Message == "" {
		t.Errorf("want {message} body, got %s", w.Body.String())
	}
}

func TestAnalyzeImageRequiresImage(t *testing.T) {
	r, _ := newTestRouter(t, &stubDetector{})

	body, contentType := multipartBody(t, map[string]string{"lat": "17.41", "lng": "78.43"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/reports/analyze", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDetectorStatus(t *testing.T) {
	r, _ := newTestRouter(t, &stubDetector{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/detector/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		State     string `json:"state"`
		Available bool   `json:"available"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.State != "unloaded" || resp.Available {
		t.Errorf("status = %+v, want unloaded/unavailable", resp)
	}
}

func TestCategoryAdvisory(t *testing.T) {
	r, _ := newTestRouter(t, &stubDetector{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/advisory/Waste", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/advisory/Potholes", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
