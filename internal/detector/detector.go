// Package detector wraps a remote object-detection service. The model is an
// opaque capability: this package owns only its lifecycle and the inference
// call, not the architecture behind it.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"civiclens-service/internal/domain/report"
)

var (
	// ErrNotReady is returned while the model is still loading. Requests are
	// rejected synchronously, never queued.
	ErrNotReady = errors.New("detection model is not ready")
	// ErrUnavailable is returned once loading has failed. Failure is terminal
	// for the process lifetime.
	ErrUnavailable = errors.New("detection model is unavailable")
	// ErrInference marks a transient inference failure; the caller may retry.
	ErrInference = errors.New("inference failed")
)

type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Service is an explicitly constructed detection client, created once at
// process start and passed to the pipeline by reference.
type Service struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger

	mu    sync.Mutex
	state State
}

func NewService(baseURL string, log zerolog.Logger) *Service {
	return &Service{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
		state:      StateUnloaded,
	}
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Warm loads the model once. Subsequent calls are no-ops. A failed load is
// never retried; detection stays unavailable for the process lifetime and is
// surfaced to users as a degraded capability, not a crash.
func (s *Service) Warm(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateUnloaded {
		s.mu.Unlock()
		return
	}
	s.state = StateLoading
	s.mu.Unlock()

	s.log.Info().Str("url", s.baseURL).Msg("loading detection model")

	err := s.waitReady(ctx)

	s.mu.Lock()
	if err != nil {
		s.state = StateFailed
	} else {
		s.state = StateReady
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn().Err(err).Msg("detection model failed to load, detection features disabled")
		return
	}
	s.log.Info().Msg("detection model loaded")
}

func (s *Service) waitReady(ctx context.Context) error {
	if s.baseURL == "" {
		return fmt.Errorf("detector URL is not configured")
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := s.httpClient.Do(req)
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type detectResponse struct {
	Detections []struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
		Box   struct {
			X      float64 `json:"x"`
			Y      float64 `json:"y"`
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
		} `json:"box"`
	} `json:"detections"`
}

// Detect runs inference on one image. While loading it rejects immediately
// with ErrNotReady; after a failed load it returns ErrUnavailable. Inference
// errors are transient and do not change lifecycle state.
func (s *Service) Detect(ctx context.Context, image []byte, contentType string) ([]report.Detection, error) {
	switch s.State() {
	case StateReady:
	case StateUnloaded, StateLoading:
		return nil, ErrNotReady
	case StateFailed:
		return nil, ErrUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/detect", bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: detector returned %d: %s", ErrInference, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrInference, err)
	}

	out := make([]report.Detection, 0, len(payload.Detections))
	for _, d := range payload.Detections {
		out = append(out, report.Detection{
			Label: d.Label,
			Score: d.Score,
			Box: report.BoundingBox{
				X:      d.Box.X,
				Y:      d.Box.Y,
				Width:  d.Box.Width,
				Height: d.Box.Height,
			},
		})
	}
	return out, nil
}
