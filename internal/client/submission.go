// Package client submits finalized report drafts to the CRUD API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"civiclens-service/internal/domain/report"
)

// ErrNotReady is returned when the submit preconditions are not met: a fix, a
// category, and an image must all be present. No request is sent.
var ErrNotReady = errors.New("submission requires a fix, a category, and an image")

// Submission is everything needed to create one report.
type Submission struct {
	Fix         *report.GPSFix
	Draft       *report.Draft
	Address     report.AddressResolution
	Image       []byte
	ImageName   string
	Description string
}

// Ready reports whether all submit preconditions hold.
func (s Submission) Ready() bool {
	if s.Fix == nil || s.Draft == nil || len(s.Image) == 0 {
		return false
	}
	return s.Draft.Category != nil && !s.Draft.IsInvalid && !s.Draft.IsDuplicate
}

type SubmissionClient struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewSubmissionClient(baseURL string, log zerolog.Logger) *SubmissionClient {
	return &SubmissionClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
	}
}

// Submit sends one multipart create request. Failure is non-destructive: the
// submission is left intact so the caller may retry.
func (c *SubmissionClient) Submit(ctx context.Context, sub Submission) (*report.Report, error) {
	if !sub.Ready() {
		return nil, ErrNotReady
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	confidence := 0
	if sub.Draft.Confidence != nil {
		confidence = *sub.Draft.Confidence
	}

	fields := map[string]string{
		"category":   string(*sub.Draft.Category),
		"confidence": strconv.Itoa(confidence),
		"lat":        strconv.FormatFloat(sub.Fix.Lat, 'f', -1, 64),
		"lng":        strconv.FormatFloat(sub.Fix.Lng, 'f', -1, 64),
		"address":    sub.Address.Text,
	}
	if sub.Description != "" {
		fields["description"] = sub.Description
	}
	if len(sub.Draft.Detections) > 0 {
		raw, err := json.Marshal(sub.Draft.Detections)
		if err != nil {
			return nil, fmt.Errorf("marshal detections: %w", err)
		}
		fields["detections"] = string(raw)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}

	name := sub.ImageName
	if name == "" {
		name = "capture.jpg"
	}
	part, err := w.CreateFormFile("image", name)
	if err != nil {
		return nil, fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(sub.Image); err != nil {
		return nil, fmt.Errorf("write image part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/reports", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Message string `json:"message"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("create rejected (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("create rejected (%d)", resp.StatusCode)
	}

	var created report.Report
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decode created report: %w", err)
	}

	c.log.Info().
		Str("id", created.ID.String()).
		Str("category", string(created.Category)).
		Msg("report submitted")
	return &created, nil
}
