// Package state is the durable completion ledger behind resumable runs.
//
// Three tables back it: tasks, operations (unique on task/type/key) and
// downloads (unique on task/url). A row in operations or downloads is only
// written after the work it describes succeeded, so "recorded" always implies
// "actually happened". Writes are serialized through a single mutex and run in
// a transaction; reads go straight to the database.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"sync"
	"time"

	"eauharvest/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Operation types used by the harvesting components
const (
	OpAPIPage   = "api_page"
	OpAPICursor = "api_cursor"
	OpPageCrawl = "page_crawl"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrEmptyTaskID  = errors.New("task id is required")
)

// TaskStats is the aggregate view of a task's ledger rows
type TaskStats struct {
	TaskID      string            `json:"task_id"`
	Status      models.TaskStatus `json:"status"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Operations  map[string]int64  `json:"operations"`
	Downloads   int64             `json:"downloads"`
	Metadata    map[string]any    `json:"metadata"`
}

// Store is the gorm-backed ledger
type Store struct {
	db  *gorm.DB
	mu  sync.Mutex // serializes writers
	now func() time.Time
}

// NewStore wraps an initialized (and migrated) database
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// write runs fn in a transaction while holding the writer lock
func (s *Store) write(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Transaction(fn)
}

// StartTask upserts the task to in_progress with a fresh start time.
// Metadata replaces whatever the previous run stored.
func (s *Store) StartTask(ctx context.Context, taskID string, metadata map[string]any) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}

	now := s.now()
	task := models.Task{
		TaskID:    taskID,
		Status:    models.TaskInProgress,
		StartedAt: &now,
		Metadata:  metadata,
	}

	err := s.write(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "started_at", "completed_at", "metadata"}),
		}).Create(&task).Error
	})
	if err != nil {
		return fmt.Errorf("start task %s: %w", taskID, err)
	}

	log.Info().Str("task_id", taskID).Msg("Task started")
	return nil
}

// CompleteTask marks the task completed, merging metadata into what is
// already stored. Completing a task that was never started still records it
// as completed, with a warning, so a missing StartTask call shows up in logs.
func (s *Store) CompleteTask(ctx context.Context, taskID string, metadata map[string]any) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}

	err := s.write(ctx, func(tx *gorm.DB) error {
		var task models.Task
		err := tx.Where("task_id = ?", taskID).First(&task).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Str("task_id", taskID).Msg("Completing a task that was never started")
			task = models.Task{TaskID: taskID}
		} else if err != nil {
			return err
		}

		merged := make(map[string]any, len(task.Metadata)+len(metadata))
		maps.Copy(merged, task.Metadata)
		maps.Copy(merged, metadata)

		now := s.now()
		task.Status = models.TaskCompleted
		task.CompletedAt = &now
		task.Metadata = merged

		return tx.Save(&task).Error
	})
	if err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}

	log.Info().Str("task_id", taskID).Msg("Task completed")
	return nil
}

// IsTaskCompleted reports whether the task's last run finished
func (s *Store) IsTaskCompleted(ctx context.Context, taskID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("task_id = ? AND status = ?", taskID, models.TaskCompleted).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("query task %s: %w", taskID, err)
	}
	return count > 0, nil
}

// GetTask returns the task row or ErrTaskNotFound
func (s *Store) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task %s: %w", taskID, err)
	}
	return &task, nil
}

// ListTasks returns every task row ordered by id
func (s *Store) ListTasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	if err := s.db.WithContext(ctx).Order("task_id").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// RecordOperation stores a completed operation, replacing any previous row
// for the same (task, type, key)
func (s *Store) RecordOperation(ctx context.Context, taskID, opType, opKey string, metadata map[string]any) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}

	op := models.Operation{
		TaskID:        taskID,
		OperationType: opType,
		OperationKey:  opKey,
		CompletedAt:   s.now(),
		Metadata:      metadata,
	}

	err := s.write(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "task_id"},
				{Name: "operation_type"},
				{Name: "operation_key"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"completed_at", "metadata"}),
		}).Create(&op).Error
	})
	if err != nil {
		return fmt.Errorf("record operation %s/%s: %w", opType, opKey, err)
	}
	return nil
}

// IsOperationCompleted reports whether the operation has a ledger row
func (s *Store) IsOperationCompleted(ctx context.Context, taskID, opType, opKey string) (bool, error) {
	op, err := s.GetOperation(ctx, taskID, opType, opKey)
	if err != nil {
		return false, err
	}
	return op != nil, nil
}

// GetOperation returns the recorded operation.
// Returns nil and no error if the operation was never recorded.
func (s *Store) GetOperation(ctx context.Context, taskID, opType, opKey string) (*models.Operation, error) {
	var op models.Operation
	err := s.db.WithContext(ctx).
		Where("task_id = ? AND operation_type = ? AND operation_key = ?", taskID, opType, opKey).
		First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query operation %s/%s: %w", opType, opKey, err)
	}
	return &op, nil
}

// CompletedOperations lists the operation keys recorded for a task.
// An empty opType matches every type.
func (s *Store) CompletedOperations(ctx context.Context, taskID, opType string) ([]string, error) {
	query := s.db.WithContext(ctx).Model(&models.Operation{}).Where("task_id = ?", taskID)
	if opType != "" {
		query = query.Where("operation_type = ?", opType)
	}

	var keys []string
	if err := query.Order("id").Pluck("operation_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("list operations for %s: %w", taskID, err)
	}
	return keys, nil
}

// RecordDownload stores a download, hashing the local file if it exists
func (s *Store) RecordDownload(ctx context.Context, taskID, url, localPath string, metadata map[string]any) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}

	dl := models.Download{
		TaskID:       taskID,
		URL:          url,
		LocalPath:    localPath,
		DownloadedAt: s.now(),
		Metadata:     metadata,
	}

	hash, size, err := hashFile(localPath)
	switch {
	case err == nil:
		dl.FileHash = &hash
		dl.FileSize = &size
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("task_id", taskID).Str("path", localPath).Msg("Recording download for missing file")
	default:
		return fmt.Errorf("hash %s: %w", localPath, err)
	}

	err = s.write(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}, {Name: "url"}},
			DoUpdates: clause.AssignmentColumns([]string{"local_path", "file_hash", "file_size", "downloaded_at", "metadata"}),
		}).Create(&dl).Error
	})
	if err != nil {
		return fmt.Errorf("record download %s: %w", url, err)
	}
	return nil
}

// IsDownloaded reports whether the URL was recorded and its file is still on disk
func (s *Store) IsDownloaded(ctx context.Context, taskID, url string) (bool, error) {
	dl, err := s.GetDownload(ctx, taskID, url)
	if err != nil || dl == nil {
		return false, err
	}

	if _, err := os.Stat(dl.LocalPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", dl.LocalPath, err)
	}
	return true, nil
}

// GetDownload returns the download row, or nil and no error when absent
func (s *Store) GetDownload(ctx context.Context, taskID, url string) (*models.Download, error) {
	var dl models.Download
	err := s.db.WithContext(ctx).Where("task_id = ? AND url = ?", taskID, url).First(&dl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query download %s: %w", url, err)
	}
	return &dl, nil
}

// GetTaskStats aggregates the ledger rows of a task. Unknown tasks report
// the not_started status rather than an error.
func (s *Store) GetTaskStats(ctx context.Context, taskID string) (*TaskStats, error) {
	task, err := s.GetTask(ctx, taskID)
	if errors.Is(err, ErrTaskNotFound) {
		return &TaskStats{
			TaskID:     taskID,
			Status:     models.TaskNotStarted,
			Operations: map[string]int64{},
			Metadata:   map[string]any{},
		}, nil
	}
	if err != nil {
		return nil, err
	}

	var counts []struct {
		OperationType string
		Count         int64
	}
	err = s.db.WithContext(ctx).Model(&models.Operation{}).
		Select("operation_type, COUNT(*) AS count").
		Where("task_id = ?", taskID).
		Group("operation_type").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("count operations for %s: %w", taskID, err)
	}

	var downloads int64
	if err := s.db.WithContext(ctx).Model(&models.Download{}).Where("task_id = ?", taskID).Count(&downloads).Error; err != nil {
		return nil, fmt.Errorf("count downloads for %s: %w", taskID, err)
	}

	stats := &TaskStats{
		TaskID:      taskID,
		Status:      task.Status,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
		Operations:  make(map[string]int64, len(counts)),
		Downloads:   downloads,
		Metadata:    task.Metadata,
	}
	if stats.Metadata == nil {
		stats.Metadata = map[string]any{}
	}
	for _, c := range counts {
		stats.Operations[c.OperationType] = c.Count
	}
	return stats, nil
}

// ResetTask deletes every ledger row of the task so the next run starts over
func (s *Store) ResetTask(ctx context.Context, taskID string) error {
	err := s.write(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", taskID).Delete(&models.Operation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", taskID).Delete(&models.Download{}).Error; err != nil {
			return err
		}
		return tx.Where("task_id = ?", taskID).Delete(&models.Task{}).Error
	})
	if err != nil {
		return fmt.Errorf("reset task %s: %w", taskID, err)
	}

	log.Info().Str("task_id", taskID).Msg("Task state reset")
	return nil
}

// hashFile returns the SHA-256 hex digest and size of a file
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
