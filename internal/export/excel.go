// Package export renders the report set as an XLSX workbook for civic
// authorities.
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"civiclens-service/internal/domain/report"
)

const sheetName = "Reports"

var header = []string{
	"ID", "Category", "Confidence", "Latitude", "Longitude",
	"Address", "Image URL", "Description", "Status", "Upvotes", "Created At",
}

// Reports writes one row per report, newest first (caller's order is kept).
func Reports(reports []report.Report) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			return nil, err
		}
	}

	for i, r := range reports {
		row := i + 2
		values := []interface{}{
			r.ID.String(),
			string(r.Category),
			r.Confidence,
			r.Location.Lat,
			r.Location.Lng,
			r.Address,
			r.ImageURL,
			r.Description,
			string(r.Status),
			r.Upvotes,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}
