// Package intake turns a raw photo plus a position fix into a validated,
// categorized, deduplicated report draft.
package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sync/atomic"

	"github.com/rs/zerolog"

	"civiclens-service/internal/domain/report"
)

var (
	// ErrBadImage marks an image that could not be decoded.
	ErrBadImage = errors.New("image could not be decoded")
	// ErrSuperseded marks a run whose result arrived after a newer run
	// started. The result must be discarded.
	ErrSuperseded = errors.New("analysis superseded by a newer run")
)

// Detector is the capability the pipeline consults once per image. It is
// shared across runs and treated as read-only.
type Detector interface {
	Detect(ctx context.Context, img []byte, contentType string) ([]report.Detection, error)
}

// DuplicateChecker answers whether a fix is within the duplicate window of a
// known report.
type DuplicateChecker interface {
	Nearby(fix report.GPSFix) (report.Location, bool)
}

const (
	confidenceFloor = 80
	confidenceCeil  = 99
)

// Options carry the tunable policy values. Zero values fall back to the
// shipped defaults.
type Options struct {
	ForbiddenScore  float64
	DefaultCategory report.Category
}

func (o Options) withDefaults() Options {
	if o.ForbiddenScore == 0 {
		o.ForbiddenScore = 0.50
	}
	if o.DefaultCategory == "" {
		o.DefaultCategory = report.CategoryWaste
	}
	return o
}

// Token identifies one pipeline run. Beginning a new run invalidates all
// earlier tokens, so a stale run's result is discarded rather than presented.
type Token uint64

type Pipeline struct {
	detector Detector
	dups     DuplicateChecker
	opts     Options
	log      zerolog.Logger

	current atomic.Uint64
}

func NewPipeline(detector Detector, dups DuplicateChecker, opts Options, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		detector: detector,
		dups:     dups,
		opts:     opts.withDefaults(),
		log:      log,
	}
}

// Begin starts a new run, superseding any run still in flight.
func (p *Pipeline) Begin() Token {
	return Token(p.current.Add(1))
}

func (p *Pipeline) stale(token Token) bool {
	return uint64(token) != p.current.Load()
}

// Analyze runs the intake steps strictly in order for one image: decode,
// detect, forbidden gate, duplicate check, category inference, confidence
// synthesis. Exactly one terminal outcome holds on the returned draft.
func (p *Pipeline) Analyze(ctx context.Context, token Token, img []byte, contentType string, fix *report.GPSFix) (*report.Draft, error) {
	if _, _, err := image.DecodeConfig(bytes.NewReader(img)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if p.stale(token) {
		return nil, ErrSuperseded
	}

	detections, err := p.detector.Detect(ctx, img, contentType)
	if err != nil {
		// Not-ready and unavailable pass through unchanged; inference
		// failures are transient and the caller may retry with the same
		// image.
		return nil, err
	}
	if p.stale(token) {
		return nil, ErrSuperseded
	}

	draft := &report.Draft{Detections: detections}

	if label, score, hit := p.forbiddenHit(detections); hit {
		draft.IsInvalid = true
		p.log.Info().
			Str("label", label).
			Float64("score", score).
			Msg("image rejected by forbidden gate")
		return draft, nil
	}

	if fix != nil {
		if near, ok := p.dups.Nearby(*fix); ok {
			draft.IsDuplicate = true
			p.log.Info().
				Float64("lat", fix.Lat).
				Float64("lng", fix.Lng).
				Float64("near_lat", near.Lat).
				Float64("near_lng", near.Lng).
				Msg("duplicate report detected")
			return draft, nil
		}
	}

	category, bestScore := inferCategory(detections, p.opts.DefaultCategory)
	confidence := synthesizeConfidence(bestScore)

	if p.stale(token) {
		return nil, ErrSuperseded
	}

	draft.Category = &category
	draft.Confidence = &confidence
	p.log.Info().
		Str("category", string(category)).
		Int("confidence", confidence).
		Int("detections", len(detections)).
		Msg("draft analyzed")
	return draft, nil
}

func (p *Pipeline) forbiddenHit(detections []report.Detection) (string, float64, bool) {
	for _, d := range detections {
		if isForbidden(d.Label) && d.Score > p.opts.ForbiddenScore {
			return d.Label, d.Score, true
		}
	}
	return "", 0, false
}

// synthesizeConfidence maps the best relevant detection score into the
// [80, 99] band: a deterministic aggregate in place of a model-derived one.
func synthesizeConfidence(bestScore float64) int {
	if bestScore < 0 {
		bestScore = 0
	}
	if bestScore > 1 {
		bestScore = 1
	}
	c := confidenceFloor + int(math.Round(bestScore*float64(confidenceCeil-confidenceFloor)))
	if c > confidenceCeil {
		c = confidenceCeil
	}
	return c
}
