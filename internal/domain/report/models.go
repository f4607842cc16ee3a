package report

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type Category string

const (
	CategoryWaste Category = "Waste"
	CategoryWater Category = "Water"
	CategoryRoad  Category = "Road"
)

func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryWaste, CategoryWater, CategoryRoad:
		return Category(s), true
	}
	return "", false
}

type Status string

const (
	StatusNotSolved  Status = "not_solved"
	StatusInProgress Status = "in_progress"
	StatusSolved     Status = "solved"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusNotSolved, StatusInProgress, StatusSolved:
		return Status(s), true
	}
	return "", false
}

// GPSFix is a single resolved position reading. A later retry produces a new
// fix; an existing fix is never mutated.
type GPSFix struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Valid reports whether both coordinates are finite and within geographic
// range.
func (f GPSFix) Valid() bool {
	if math.IsNaN(f.Lat) || math.IsInf(f.Lat, 0) {
		return false
	}
	if math.IsNaN(f.Lng) || math.IsInf(f.Lng, 0) {
		return false
	}
	return f.Lat >= -90 && f.Lat <= 90 && f.Lng >= -180 && f.Lng <= 180
}

// AddressFallback is returned when reverse geocoding fails. Resolution
// failures never block the intake flow.
const AddressFallback = "location details unavailable"

type AddressResolution struct {
	Text string `json:"text"`
}

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is one labeled, scored, localized object found by the visual
// model in an image.
type Detection struct {
	Label string      `json:"label"`
	Score float64     `json:"score"`
	Box   BoundingBox `json:"box"`
}

// Draft is an in-progress, not-yet-persisted report produced by the intake
// pipeline. Once analysis completes exactly one terminal outcome holds:
// IsInvalid, IsDuplicate, or Category+Confidence.
type Draft struct {
	Category    *Category   `json:"category"`
	Confidence  *int        `json:"confidence"`
	IsDuplicate bool        `json:"is_duplicate"`
	IsInvalid   bool        `json:"is_invalid"`
	Detections  []Detection `json:"detections,omitempty"`
}

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Report is a persisted civic-hazard report.
type Report struct {
	ID          uuid.UUID `json:"id"`
	Category    Category  `json:"category"`
	Confidence  float64   `json:"confidence"`
	Location    Location  `json:"location"`
	Address     string    `json:"address"`
	ImageURL    string    `json:"imageUrl"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Upvotes     int       `json:"upvotes"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CreatePayload carries the multipart fields of a create request.
type CreatePayload struct {
	Category    Category
	Confidence  float64
	Lat         float64
	Lng         float64
	Address     string
	Description string
	ImageURL    string
	Detections  []Detection
}

// StatsSummary aggregates the report set for the dashboard.
type StatsSummary struct {
	Total      int              `json:"total"`
	ByStatus   map[Status]int   `json:"by_status"`
	ByCategory map[Category]int `json:"by_category"`
	TrustScore int              `json:"trust_score"`
}
