package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Migrate creates or updates the bisect tables.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&BisectRun{}, &BisectStep{})
}

// inserts a run record and fills in its ID
func AddRun(ctx context.Context, db *gorm.DB, run *BisectRun) error {
	if run == nil {
		return nil
	}
	return db.WithContext(ctx).Create(run).Error
}

// NewRun creates a new BisectRun in the searching state
func NewRun(jobID, good, bad string, flags []string, build Metadata) *BisectRun {
	return &BisectRun{
		JobID:     jobID,
		CreatedAt: time.Now(),
		Status:    RunSearching,
		Good:      good,
		Bad:       bad,
		Flags:     flags,
		Build:     build,
	}
}

// AddStep inserts a step and moves the run's good/bad boundary with it.
func AddStep(ctx context.Context, db *gorm.DB, step *BisectStep, good, bad string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(step).Error; err != nil {
			return err
		}
		return tx.Model(&BisectRun{}).
			Where("id = ?", step.RunID).
			Updates(map[string]any{"good": good, "bad": bad}).Error
	})
}

// FinishRun records the terminal status of a run.
func FinishRun(ctx context.Context, db *gorm.DB, runID int, status RunStatusEnum, culprit, reason, errMsg string) error {
	now := time.Now()
	return db.WithContext(ctx).Model(&BisectRun{}).
		Where("id = ?", runID).
		Updates(map[string]any{
			"status":      status,
			"culprit":     culprit,
			"reason":      reason,
			"error":       errMsg,
			"finished_at": &now,
		}).Error
}

// LatestRun returns the most recent run for a job, or gorm.ErrRecordNotFound.
func LatestRun(ctx context.Context, db *gorm.DB, jobID string) (*BisectRun, error) {
	var run BisectRun
	err := db.WithContext(ctx).Where("job_id = ?", jobID).Order("id desc").First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}
