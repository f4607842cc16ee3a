package detector

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDetectRejectedWhileNotReady(t *testing.T) {
	s := NewService("http://example.invalid", zerolog.Nop())

	// Unloaded: never warmed.
	if _, err := s.Detect(context.Background(), []byte("img"), "image/jpeg"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Detect() before warm error = %v, want ErrNotReady", err)
	}
}

func TestWarmFailureIsTerminal(t *testing.T) {
	// No URL configured: loading fails immediately.
	s := NewService("", zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Warm(ctx)

	if s.State() != StateFailed {
		t.Fatalf("state = %v, want failed", s.State())
	}
	if _, err := s.Detect(context.Background(), []byte("img"), "image/jpeg"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Detect() after failed load error = %v, want ErrUnavailable", err)
	}

	// Warming again must not resurrect a failed model.
	s.Warm(context.Background())
	if s.State() != StateFailed {
		t.Errorf("state after re-warm = %v, want failed", s.State())
	}
}

func TestWarmAndDetect(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/detect":
			gotBody, _ = io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"detections": [
				{"label": "bottle", "score": 0.72, "box": {"x": 1, "y": 2, "width": 30, "height": 40}},
				{"label": "person", "score": 0.2, "box": {}}
			]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := NewService(srv.URL, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Warm(ctx)

	if s.State() != StateReady {
		t.Fatalf("state = %v, want ready", s.State())
	}

	img := []byte("imagebytes")
	detections, err := s.Detect(context.Background(), img, "image/jpeg")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if !bytes.Equal(gotBody, img) {
		t.Error("image bytes not forwarded to the detector")
	}
	if len(detections) != 2 {
		t.Fatalf("len(detections) = %d, want 2", len(detections))
	}
	if detections[0].Label != "bottle" || detections[0].Score != 0.72 {
		t.Errorf("first detection = %+v", detections[0])
	}
	if detections[0].Box.Width != 30 {
		t.Errorf("box width = %v, want 30", detections[0].Box.Width)
	}
}

func TestDetectInferenceFailureIsTransient(t *testing.T) {
	fail := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/detect":
			if fail {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"detections": []}`))
		}
	}))
	defer srv.Close()

	s := NewService(srv.URL, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Warm(ctx)

	if _, err := s.Detect(context.Background(), []byte("img"), "image/jpeg"); !errors.Is(err, ErrInference) {
		t.Fatalf("Detect() error = %v, want ErrInference", err)
	}
	if s.State() != StateReady {
		t.Fatalf("inference failure changed state to %v", s.State())
	}

	fail = false
	if _, err := s.Detect(context.Background(), []byte("img"), "image/jpeg"); err != nil {
		t.Fatalf("retry Detect() error = %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnloaded, "unloaded"},
		{StateLoading, "loading"},
		{StateReady, "ready"},
		{StateFailed, "failed"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
