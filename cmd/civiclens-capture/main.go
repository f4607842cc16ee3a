// Command civiclens-capture runs the full intake flow from the command line:
// acquire a position, resolve its address, analyze a photo against the
// service, render a map snapshot, and submit the resulting report.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"civiclens-service/internal/client"
	"civiclens-service/internal/config"
	"civiclens-service/internal/domain/report"
	"civiclens-service/internal/geocode"
	"civiclens-service/internal/location"
	"civiclens-service/internal/logger"
	"civiclens-service/internal/mapview"
)

func main() {
	var (
		imagePath   = flag.String("image", "", "path to the hazard photo (required)")
		lat         = flag.Float64("lat", 0, "latitude of the capture position")
		lng         = flag.Float64("lng", 0, "longitude of the capture position")
		serverURL   = flag.String("server", "http://localhost:8080", "report service base URL")
		mapPath     = flag.String("map", "", "write a map snapshot PNG to this path")
		description = flag.String("description", "", "optional report description")
	)
	flag.Parse()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.Environment)

	if *imagePath == "" {
		appLogger.Fatal().Msg("-image is required")
	}
	img, err := os.ReadFile(*imagePath)
	if err != nil {
		appLogger.Fatal().Err(err).Str("path", *imagePath).Msg("failed to read image")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	resolver := geocode.NewClient(cfg.Geocode.BaseURL, cfg.Geocode.UserAgent, appLogger)
	addrCh := make(chan report.AddressResolution, 1)

	provider := location.ProviderFunc(func(ctx context.Context) (report.GPSFix, error) {
		return report.GPSFix{Lat: *lat, Lng: *lng}, nil
	})
	acquirer := location.NewAcquirer(provider, cfg.Intake.LocationTimeout, func(fix report.GPSFix) {
		addrCh <- resolver.Resolve(ctx, fix)
	}, appLogger)
	defer acquirer.Close()

	fix, err := acquirer.Acquire(ctx)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to acquire position")
	}

	draft, err := analyze(ctx, *serverURL, img, *imagePath, fix)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("image analysis failed")
	}
	switch {
	case draft.IsInvalid:
		appLogger.Fatal().Msg("image rejected: not a civic hazard")
	case draft.IsDuplicate:
		appLogger.Fatal().Msg("a report already exists near this position")
	}

	if *mapPath != "" {
		fetcher := mapview.NewHTTPTileFetcher(cfg.Intake.TileURL)
		viewport := mapview.NewViewport(fetcher, cfg.Intake.TileZoom, appLogger)
		if err := viewport.Mount(ctx, &fileSurface{path: *mapPath}, &fix); err != nil {
			appLogger.Warn().Err(err).Msg("failed to render map snapshot")
		}
	}

	address := report.AddressResolution{Text: report.AddressFallback}
	select {
	case address = <-addrCh:
	case <-time.After(30 * time.Second):
		appLogger.Warn().Msg("address resolution timed out")
	}

	submitter := client.NewSubmissionClient(*serverURL, appLogger)
	created, err := submitter.Submit(ctx, client.Submission{
		Fix:         &fix,
		Draft:       draft,
		Address:     address,
		Image:       img,
		ImageName:   filepath.Base(*imagePath),
		Description: *description,
	})
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to submit report")
	}

	fmt.Printf("report %s created: %s (confidence %.0f) at %s\n",
		created.ID, created.Category, created.Confidence, created.Address)
}

// analyze runs the server-side pipeline on the photo and returns the draft.
func analyze(ctx context.Context, baseURL string, img []byte, name string, fix report.GPSFix) (*report.Draft, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("lat", strconv.FormatFloat(fix.Lat, 'f', -1, 64)); err != nil {
		return nil, err
	}
	if err := w.WriteField("lng", strconv.FormatFloat(fix.Lng, 'f', -1, 64)); err != nil {
		return nil, err
	}
	part, err := w.CreateFormFile("image", filepath.Base(name))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(img); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/reports/analyze", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("analysis rejected (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("analysis rejected (%d)", resp.StatusCode)
	}

	var draft report.Draft
	if err := json.NewDecoder(resp.Body).Decode(&draft); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	return &draft, nil
}

// fileSurface paints the rendered map tile to a PNG on disk.
type fileSurface struct {
	path string
}

func (s *fileSurface) ID() string { return s.path }

func (s *fileSurface) Paint(img image.Image) error {
	f, err := os.Create(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
