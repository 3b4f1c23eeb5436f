package configdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/logs"

	"github.com/coplescan/coplescan/pkg/dbh"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE inspection_config(
			id INTEGER PRIMARY KEY,
			station_name TEXT NOT NULL,
			profile TEXT NOT NULL,
			auto_profile INT NOT NULL DEFAULT 0,
			adaptive INT NOT NULL DEFAULT 1,
			enhance INT NOT NULL DEFAULT 1,
			expected_detections INT NOT NULL DEFAULT 1,
			max_detections INT NOT NULL DEFAULT 30,
			fusion_max_distance REAL NOT NULL DEFAULT 30,
			fusion_min_overlap REAL NOT NULL DEFAULT 0.1,
			fusion_min_area INT NOT NULL DEFAULT 100,
			classify_model TEXT,
			detect_parts_model TEXT,
			detect_defects_model TEXT,
			segment_parts_model TEXT,
			segment_defects_model TEXT,
			part_class_file TEXT,
			defect_class_file TEXT
		);

		CREATE TABLE variable(
			key TEXT PRIMARY KEY,
			value TEXT
		);
	`))

	return migs
}
