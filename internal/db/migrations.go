package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,

	`CREATE TABLE IF NOT EXISTS civic_reports (
		id              UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		category        TEXT NOT NULL,
		confidence      NUMERIC(5,2) NOT NULL,
		lat             DOUBLE PRECISION NOT NULL,
		lng             DOUBLE PRECISION NOT NULL,
		address         TEXT NOT NULL DEFAULT 'Unknown Location',
		image_url       TEXT NOT NULL DEFAULT '',
		description     TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL DEFAULT 'not_solved',
		upvotes         INT NOT NULL DEFAULT 0,
		raw_detections  JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_civic_reports_created_at ON civic_reports(created_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_civic_reports_status ON civic_reports(status);`,
	`CREATE INDEX IF NOT EXISTS idx_civic_reports_category ON civic_reports(category);`,
	`CREATE INDEX IF NOT EXISTS idx_civic_reports_location ON civic_reports(lat, lng);`,

	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM information_schema.columns
			WHERE table_name = 'civic_reports' AND column_name = 'raw_detections') THEN
			ALTER TABLE civic_reports ADD COLUMN raw_detections JSONB;
		END IF;
	END $$;`,
}

func Migrate(database *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := database.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration statement %d failed: %w", i, err)
		}
	}
	return nil
}
