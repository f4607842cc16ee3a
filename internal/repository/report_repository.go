package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"civiclens-service/internal/domain/report"
)

type ReportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func (CivicReport) TableName() string {
	return "civic_reports"
}

type CivicReport struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	Category      string         `gorm:"not null"`
	Confidence    float64        `gorm:"not null"`
	Lat           float64        `gorm:"not null"`
	Lng           float64        `gorm:"not null"`
	Address       string         `gorm:"not null;default:'Unknown Location'"`
	ImageURL      string         `gorm:"not null;default:''"`
	Description   string         `gorm:"not null;default:''"`
	Status        string         `gorm:"not null;default:'not_solved'"`
	Upvotes       int            `gorm:"not null;default:0"`
	RawDetections datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time
}

func (r CivicReport) toDomain() report.Report {
	return report.Report{
		ID:          r.ID,
		Category:    report.Category(r.Category),
		Confidence:  r.Confidence,
		Location:    report.Location{Lat: r.Lat, Lng: r.Lng},
		Address:     r.Address,
		ImageURL:    r.ImageURL,
		Description: r.Description,
		Status:      report.Status(r.Status),
		Upvotes:     r.Upvotes,
		CreatedAt:   r.CreatedAt,
	}
}

func (r *ReportRepository) Create(ctx context.Context, payload report.CreatePayload) (*report.Report, error) {
	row := CivicReport{
		ID:          uuid.New(),
		Category:    string(payload.Category),
		Confidence:  payload.Confidence,
		Lat:         payload.Lat,
		Lng:         payload.Lng,
		Address:     payload.Address,
		ImageURL:    payload.ImageURL,
		Description: payload.Description,
		Status:      string(report.StatusNotSolved),
		CreatedAt:   time.Now(),
	}

	if len(payload.Detections) > 0 {
		raw, err := json.Marshal(payload.Detections)
		if err != nil {
			return nil, fmt.Errorf("marshal detections: %w", err)
		}
		row.RawDetections = datatypes.JSON(raw)
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	created := row.toDomain()
	return &created, nil
}

// List returns all reports ordered by creation time, newest first.
func (r *ReportRepository) List(ctx context.Context) ([]report.Report, error) {
	var rows []CivicReport
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]report.Report, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *ReportRepository) GetByID(ctx context.Context, id uuid.UUID) (*report.Report, error) {
	var row CivicReport
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		return nil, err
	}
	found := row.toDomain()
	return &found, nil
}

// Upvote increments the counter and returns the updated report. Returns
// gorm.ErrRecordNotFound for an unknown id.
func (r *ReportRepository) Upvote(ctx context.Context, id uuid.UUID) (*report.Report, error) {
	res := r.db.WithContext(ctx).Model(&CivicReport{}).
		Where("id = ?", id).
		UpdateColumn("upvotes", gorm.Expr("upvotes + 1"))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *ReportRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status report.Status) (*report.Report, error) {
	res := r.db.WithContext(ctx).Model(&CivicReport{}).
		Where("id = ?", id).
		UpdateColumn("status", string(status))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.GetByID(ctx, id)
}

// Locations returns the coordinates of every stored report, for the
// duplicate index.
func (r *ReportRepository) Locations(ctx context.Context) ([]report.Location, error) {
	var rows []struct {
		Lat float64
		Lng float64
	}
	err := r.db.WithContext(ctx).Model(&CivicReport{}).
		Select("lat, lng").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]report.Location, 0, len(rows))
	for _, row := range rows {
		out = append(out, report.Location{Lat: row.Lat, Lng: row.Lng})
	}
	return out, nil
}

func (r *ReportRepository) CountByStatus(ctx context.Context) (map[report.Status]int, error) {
	var rows []struct {
		Status string
		Count  int
	}
	err := r.db.WithContext(ctx).Model(&CivicReport{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[report.Status]int, len(rows))
	for _, row := range rows {
		out[report.Status(row.Status)] = row.Count
	}
	return out, nil
}

func (r *ReportRepository) CountByCategory(ctx context.Context) (map[report.Category]int, error) {
	var rows []struct {
		Category string
		Count    int
	}
	err := r.db.WithContext(ctx).Model(&CivicReport{}).
		Select("category, count(*) as count").
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[report.Category]int, len(rows))
	for _, row := range rows {
		out[report.Category(row.Category)] = row.Count
	}
	return out, nil
}
