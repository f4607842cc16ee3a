// Package mapview lazily paints a map tile with a marker onto a surface once
// a position fix exists. Setup tolerates the owning surface disappearing
// mid-flight.
package mapview

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"civiclens-service/internal/domain/report"
)

var (
	ErrCancelled   = errors.New("viewport cancelled")
	ErrNoFix       = errors.New("no position fix")
	ErrNoSurface   = errors.New("no surface")
	ErrInitialized = errors.New("surface already initialized")
)

// Surface is the mount point the viewport paints into. ID distinguishes
// surface instances so a remount gets a fresh initialization.
type Surface interface {
	ID() string
	Paint(img image.Image) error
}

// TileFetcher retrieves one slippy-map tile. The default implementation hits
// the configured tile server over HTTP.
type TileFetcher interface {
	FetchTile(ctx context.Context, z, x, y int) (image.Image, error)
}

type httpTileFetcher struct {
	urlTemplate string
	client      *http.Client
}

func NewHTTPTileFetcher(urlTemplate string) TileFetcher {
	return &httpTileFetcher{
		urlTemplate: urlTemplate,
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (f *httpTileFetcher) FetchTile(ctx context.Context, z, x, y int) (image.Image, error) {
	u := f.urlTemplate
	u = strings.ReplaceAll(u, "{z}", fmt.Sprintf("%d", z))
	u = strings.ReplaceAll(u, "{x}", fmt.Sprintf("%d", x))
	u = strings.ReplaceAll(u, "{y}", fmt.Sprintf("%d", y))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("tile server returned %d", resp.StatusCode)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode tile: %w", err)
	}
	return img, nil
}

const tileSize = 256

// Viewport is a guarded lazy initializer around a map surface. Each surface
// instance is initialized at most once; teardown flips a cancellation flag
// that in-flight setup must observe before painting.
type Viewport struct {
	fetcher TileFetcher
	zoom    int
	log     zerolog.Logger

	mu          sync.Mutex
	cancelled   bool
	initialized map[string]bool
}

func NewViewport(fetcher TileFetcher, zoom int, log zerolog.Logger) *Viewport {
	if zoom <= 0 {
		zoom = 19
	}
	return &Viewport{
		fetcher:     fetcher,
		zoom:        zoom,
		log:         log,
		initialized: make(map[string]bool),
	}
}

// Mount performs first-paint placement of a single marker at the fix. It
// requires both a fix and a surface, initializes a given surface only once,
// and refuses to paint after Unmount.
func (v *Viewport) Mount(ctx context.Context, surface Surface, fix *report.GPSFix) error {
	if fix == nil {
		return ErrNoFix
	}
	if surface == nil {
		return ErrNoSurface
	}

	v.mu.Lock()
	if v.cancelled {
		v.mu.Unlock()
		return ErrCancelled
	}
	if v.initialized[surface.ID()] {
		v.mu.Unlock()
		return ErrInitialized
	}
	v.initialized[surface.ID()] = true
	v.mu.Unlock()

	x, y := tileCoords(fix.Lat, fix.Lng, v.zoom)
	tile, err := v.fetcher.FetchTile(ctx, v.zoom, x, y)
	if err != nil {
		// Allow a later mount attempt to retry the fetch.
		v.mu.Lock()
		delete(v.initialized, surface.ID())
		v.mu.Unlock()
		return fmt.Errorf("fetch tile: %w", err)
	}

	// The fetch is a suspension point: check the flag again before touching
	// the surface so a stale setup never writes into a torn-down mount.
	v.mu.Lock()
	cancelled := v.cancelled
	v.mu.Unlock()
	if cancelled {
		return ErrCancelled
	}

	img := withMarker(tile, fix.Lat, fix.Lng, v.zoom, x, y)
	if err := surface.Paint(img); err != nil {
		return fmt.Errorf("paint surface: %w", err)
	}

	v.log.Debug().
		Str("surface", surface.ID()).
		Int("z", v.zoom).
		Msg("viewport mounted")
	return nil
}

// Unmount cancels any in-flight setup. Idempotent.
func (v *Viewport) Unmount() {
	v.mu.Lock()
	v.cancelled = true
	v.mu.Unlock()
}

// tileCoords converts a lat/lng to slippy-map tile indices.
func tileCoords(lat, lng float64, zoom int) (int, int) {
	n := math.Exp2(float64(zoom))
	x := int((lng + 180.0) / 360.0 * n)
	latRad := lat * math.Pi / 180.0
	y := int((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n)
	return x, y
}

// withMarker composites a marker dot at the fix position within the tile.
func withMarker(tile image.Image, lat, lng float64, zoom, tileX, tileY int) image.Image {
	out := image.NewRGBA(tile.Bounds())
	draw.Draw(out, out.Bounds(), tile, tile.Bounds().Min, draw.Src)

	px, py := pixelInTile(lat, lng, zoom, tileX, tileY)
	marker := color.RGBA{R: 220, G: 38, B: 38, A: 255}
	const radius = 5
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				out.Set(px+dx, py+dy, marker)
			}
		}
	}
	return out
}

func pixelInTile(lat, lng float64, zoom, tileX, tileY int) (int, int) {
	n := math.Exp2(float64(zoom))
	fx := (lng + 180.0) / 360.0 * n
	latRad := lat * math.Pi / 180.0
	fy := (1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n
	px := int((fx - float64(tileX)) * tileSize)
	py := int((fy - float64(tileY)) * tileSize)
	return px, py
}
