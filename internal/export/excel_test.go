package export

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"civiclens-service/internal/domain/report"
)

func TestReportsWorkbook(t *testing.T) {
	reports := []report.Report{
		{
			ID:         uuid.New(),
			Category:   report.CategoryRoad,
			Confidence: 88,
			Location:   report.Location{Lat: 17.41, Lng: 78.43},
			Address:    "12 MG Road",
			Status:     report.StatusNotSolved,
			Upvotes:    3,
			CreatedAt:  time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC),
		},
		{
			ID:        uuid.New(),
			Category:  report.CategoryWaste,
			Location:  report.Location{Lat: 17.385, Lng: 78.4867},
			Status:    report.StatusSolved,
			CreatedAt: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		},
	}

	buf, err := Reports(reports)
	if err != nil {
		t.Fatalf("Reports() error = %v", err)
	}

	f, err := excelize.OpenReader(buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	if got := f.GetSheetList(); len(got) != 1 || got[0] != "Reports" {
		t.Fatalf("sheets = %v, want [Reports]", got)
	}

	rows, err := f.GetRows("Reports")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "ID" || rows[0][1] != "Category" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][1] != "Road" || rows[1][8] != "not_solved" {
		t.Errorf("first row = %v", rows[1])
	}
	if rows[2][0] != reports[1].ID.String() {
		t.Errorf("second row id = %q, want %q", rows[2][0], reports[1].ID)
	}
}

func TestReportsEmptySet(t *testing.T) {
	buf, err := Reports(nil)
	if err != nil {
		t.Fatalf("Reports() error = %v", err)
	}

	f, err := excelize.OpenReader(buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Reports")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("rows = %d, want header only", len(rows))
	}
}
