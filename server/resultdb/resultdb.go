// Package resultdb persists per-frame analysis results: a compact indexed
// summary row per frame, with the full result stored as a JSON detail column.
package resultdb

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"

	"github.com/coplescan/coplescan/pkg/analysis"
	"github.com/coplescan/coplescan/pkg/dbh"
)

type ResultDB struct {
	log logs.Log
	db  *gorm.DB
}

// AnalysisRecord is one inspected frame
type AnalysisRecord struct {
	ID          int64       `gorm:"primaryKey" json:"id"`
	CreatedAt   dbh.IntTime `json:"createdAt"`
	StationName string      `json:"stationName"`

	Brightness float32 `json:"brightness"`
	Contrast   float32 `json:"contrast"`
	Condition  string  `json:"condition"`
	Profile    string  `json:"profile"`

	PartCount   int `json:"partCount"`
	DefectCount int `json:"defectCount"`
	FusedCount  int `json:"fusedCount"` // instances merged away by fusion

	Verdict           string  `json:"verdict" gorm:"default:null"`
	VerdictConfidence float32 `json:"verdictConfidence"`

	ElapsedMS int64 `json:"elapsedMS"`

	Detail *dbh.JSONField[analysis.FrameResult] `json:"detail,omitempty" gorm:"default:null"`
}

func Open(log logs.Log, dbFilename string) (*ResultDB, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0777)
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbFilename), migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open results database %v: %w", dbFilename, err)
	}
	return &ResultDB{log: log, db: db}, nil
}

func migrations(log logs.Log) []migration.Migrator {
	idx := 0
	return []migration.Migrator{
		dbh.MakeMigrationFromSQL(log, &idx,
			`
			CREATE TABLE analysis_record(
				id INTEGER PRIMARY KEY,
				created_at INT NOT NULL,
				station_name TEXT NOT NULL,
				brightness REAL NOT NULL,
				contrast REAL NOT NULL,
				condition TEXT NOT NULL,
				profile TEXT NOT NULL,
				part_count INT NOT NULL,
				defect_count INT NOT NULL,
				fused_count INT NOT NULL,
				verdict TEXT,
				verdict_confidence REAL NOT NULL DEFAULT 0,
				elapsed_ms INT NOT NULL,
				detail TEXT
			);
			CREATE INDEX idx_analysis_record_created_at ON analysis_record (created_at);
		`),
	}
}

// Add stores one frame's result and returns the record ID
func (r *ResultDB) Add(stationName string, frame *analysis.FrameResult) (int64, error) {
	rec := AnalysisRecord{
		CreatedAt:   dbh.MakeIntTime(time.Now()),
		StationName: stationName,
		Brightness:  frame.Lighting.Brightness,
		Contrast:    frame.Lighting.Contrast,
		Condition:   frame.Condition,
		Profile:     frame.Profile,
		PartCount:   len(frame.Parts) + len(frame.PartSegments),
		DefectCount: len(frame.Defects) + len(frame.DefectSegments),
		FusedCount:  countFused(frame),
		ElapsedMS:   frame.Timing.Total.Milliseconds(),
		Detail:      dbh.MakeJSONField(*frame),
	}
	if frame.Verdict != nil {
		rec.Verdict = frame.Verdict.ClassName
		rec.VerdictConfidence = frame.Verdict.Confidence
	}
	if err := r.db.Create(&rec).Error; err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// countFused is how many raw instances fusion merged away
func countFused(frame *analysis.FrameResult) int {
	n := 0
	for _, s := range frame.DefectSegments {
		if s.Fused {
			n += s.MergedCount - 1
		}
	}
	for _, s := range frame.PartSegments {
		if s.Fused {
			n += s.MergedCount - 1
		}
	}
	return n
}

// Get returns one record with its full detail
func (r *ResultDB) Get(id int64) (*AnalysisRecord, error) {
	rec := AnalysisRecord{}
	if err := r.db.First(&rec, id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// Recent returns the newest records, without the heavy detail column
func (r *ResultDB) Recent(limit int) ([]AnalysisRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	recs := []AnalysisRecord{}
	err := r.db.
		Omit("detail").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// Summary aggregates the stored records
type Summary struct {
	TotalFrames     int64   `json:"totalFrames"`
	FramesWithParts int64   `json:"framesWithParts"`
	DefectFrames    int64   `json:"defectFrames"`
	MeanElapsedMS   float64 `json:"meanElapsedMS"`
	MeanBrightness  float64 `json:"meanBrightness"`
}

func (r *ResultDB) Summarize() (Summary, error) {
	s := Summary{}
	if err := r.db.Model(&AnalysisRecord{}).Count(&s.TotalFrames).Error; err != nil {
		return s, err
	}
	if s.TotalFrames == 0 {
		return s, nil
	}
	if err := r.db.Model(&AnalysisRecord{}).Where("part_count > 0").Count(&s.FramesWithParts).Error; err != nil {
		return s, err
	}
	if err := r.db.Model(&AnalysisRecord{}).Where("defect_count > 0").Count(&s.DefectFrames).Error; err != nil {
		return s, err
	}
	row := r.db.Model(&AnalysisRecord{}).
		Select("AVG(elapsed_ms), AVG(brightness)").
		Row()
	if err := row.Scan(&s.MeanElapsedMS, &s.MeanBrightness); err != nil {
		return s, err
	}
	return s, nil
}
