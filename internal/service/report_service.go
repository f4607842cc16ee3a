package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"civiclens-service/internal/domain/report"
	"civiclens-service/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// Repository is the persistence surface the service needs.
type Repository interface {
	Create(ctx context.Context, payload report.CreatePayload) (*report.Report, error)
	List(ctx context.Context) ([]report.Report, error)
	Upvote(ctx context.Context, id uuid.UUID) (*report.Report, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status report.Status) (*report.Report, error)
	Locations(ctx context.Context) ([]report.Location, error)
	CountByStatus(ctx context.Context) (map[report.Status]int, error)
	CountByCategory(ctx context.Context) (map[report.Category]int, error)
}

// DuplicateIndex is notified of new report locations.
type DuplicateIndex interface {
	Add(loc report.Location)
	Rebuild(locs []report.Location)
}

type ReportService struct {
	repo Repository
	dups DuplicateIndex
	log  zerolog.Logger
}

func NewReportService(repo Repository, dups DuplicateIndex, log zerolog.Logger) *ReportService {
	return &ReportService{
		repo: repo,
		dups: dups,
		log:  log,
	}
}

// WarmIndex seeds the duplicate index from stored reports.
func (s *ReportService) WarmIndex(ctx context.Context) error {
	locs, err := s.repo.Locations(ctx)
	if err != nil {
		return fmt.Errorf("load report locations: %w", err)
	}
	s.dups.Rebuild(locs)
	s.log.Info().Int("count", len(locs)).Msg("duplicate index warmed")
	return nil
}

// CreateInput carries the parsed multipart fields of a create request. Lat,
// Lng and Confidence are pointers: a missing numeric field is a validation
// failure, not a zero value.
type CreateInput struct {
	Category    string
	Confidence  *float64
	Lat         *float64
	Lng         *float64
	Address     string
	Description string
	ImageURL    string
	Detections  []report.Detection
}

func (s *ReportService) Create(ctx context.Context, in CreateInput) (*report.Report, error) {
	category, ok := report.ParseCategory(in.Category)
	if !ok {
		return nil, fmt.Errorf("%w: category must be one of Waste, Water, Road", ErrInvalidInput)
	}
	if in.Confidence == nil {
		return nil, fmt.Errorf("%w: confidence is required", ErrInvalidInput)
	}
	if in.Lat == nil || in.Lng == nil {
		return nil, fmt.Errorf("%w: lat and lng are required", ErrInvalidInput)
	}
	fix := report.GPSFix{Lat: *in.Lat, Lng: *in.Lng}
	if !fix.Valid() {
		return nil, fmt.Errorf("%w: lat/lng out of range", ErrInvalidInput)
	}
	if math.IsNaN(*in.Confidence) || math.IsInf(*in.Confidence, 0) {
		return nil, fmt.Errorf("%w: confidence must be a number", ErrInvalidInput)
	}

	address := utils.NormalizeAddress(in.Address)
	if address == "" {
		address = "Unknown Location"
	}

	created, err := s.repo.Create(ctx, report.CreatePayload{
		Category:    category,
		Confidence:  *in.Confidence,
		Lat:         *in.Lat,
		Lng:         *in.Lng,
		Address:     address,
		Description: in.Description,
		ImageURL:    in.ImageURL,
		Detections:  in.Detections,
	})
	if err != nil {
		s.log.Error().Err(err).Str("category", in.Category).Msg("failed to create report")
		return nil, fmt.Errorf("create report: %w", err)
	}

	s.dups.Add(created.Location)

	s.log.Info().
		Str("id", created.ID.String()).
		Str("category", string(created.Category)).
		Float64("lat", created.Location.Lat).
		Float64("lng", created.Location.Lng).
		Msg("report created")
	return created, nil
}

func (s *ReportService) List(ctx context.Context) ([]report.Report, error) {
	reports, err := s.repo.List(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list reports")
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

func (s *ReportService) Upvote(ctx context.Context, rawID string) (*report.Report, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: report not found", ErrNotFound)
	}

	updated, err := s.repo.Upvote(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: report not found", ErrNotFound)
		}
		s.log.Error().Err(err).Str("id", rawID).Msg("failed to upvote report")
		return nil, fmt.Errorf("upvote report: %w", err)
	}

	s.log.Info().
		Str("id", updated.ID.String()).
		Int("upvotes", updated.Upvotes).
		Msg("report upvoted")
	return updated, nil
}

func (s *ReportService) UpdateStatus(ctx context.Context, rawID, rawStatus string) (*report.Report, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: report not found", ErrNotFound)
	}
	status, ok := report.ParseStatus(rawStatus)
	if !ok {
		return nil, fmt.Errorf("%w: status must be one of not_solved, in_progress, solved", ErrInvalidInput)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: report not found", ErrNotFound)
		}
		s.log.Error().Err(err).Str("id", rawID).Msg("failed to update report status")
		return nil, fmt.Errorf("update status: %w", err)
	}

	s.log.Info().
		Str("id", updated.ID.String()).
		Str("status", string(updated.Status)).
		Msg("report status updated")
	return updated, nil
}

func (s *ReportService) Stats(ctx context.Context) (*report.StatsSummary, error) {
	byStatus, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	byCategory, err := s.repo.CountByCategory(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by category: %w", err)
	}

	total := 0
	for _, n := range byStatus {
		total += n
	}

	trust := 0
	if total > 0 {
		trust = int(math.Round(float64(byStatus[report.StatusSolved]) / float64(total) * 100))
	}

	return &report.StatsSummary{
		Total:      total,
		ByStatus:   byStatus,
		ByCategory: byCategory,
		TrustScore: trust,
	}, nil
}
