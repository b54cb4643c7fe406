package magentosync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shipstream/magento-sync/config"
	"github.com/shipstream/magento-sync/models"
)

// Journal records sync runs and their failures in the database. Every method
// degrades to a no-op when no database is configured, so the engine itself
// never depends on it.
type Journal struct{}

func NewJournal() *Journal {
	return &Journal{}
}

func (j *Journal) BeginRun(ctx context.Context, kind, triggeredBy, windowFrom, windowTo string) *models.SyncRun {
	db := config.GetDB()
	if db == nil {
		return nil
	}
	now := time.Now()
	run := &models.SyncRun{
		Kind:        kind,
		Status:      models.SyncRunStatusRunning,
		TriggeredBy: triggeredBy,
		WindowFrom:  windowFrom,
		WindowTo:    windowTo,
		StartedAt:   &now,
	}
	if err := db.WithContext(ctx).Create(run).Error; err != nil {
		config.LogError(config.GetLogger(), "magentosync", "BeginRun", kind, nil, err)
		return nil
	}
	return run
}

func (j *Journal) FinishRun(ctx context.Context, run *models.SyncRun, queued, errCount int, summary string) {
	if run == nil {
		return
	}
	db := config.GetDB()
	if db == nil {
		return
	}
	now := time.Now()
	run.Status = models.SyncRunStatusSuccess
	if errCount > 0 {
		run.Status = models.SyncRunStatusPartial
	}
	run.OrdersQueued = queued
	run.ErrorCount = errCount
	run.Summary = summary
	run.FinishedAt = &now
	if run.StartedAt != nil {
		run.DurationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	if err := db.WithContext(ctx).Save(run).Error; err != nil {
		config.LogError(config.GetLogger(), "magentosync", "FinishRun", run.Kind, nil, err)
	}
}

func (j *Journal) FailRun(ctx context.Context, run *models.SyncRun, cause error) {
	if run == nil {
		return
	}
	db := config.GetDB()
	if db == nil {
		return
	}
	now := time.Now()
	run.Status = models.SyncRunStatusFailed
	run.Summary = cause.Error()
	run.FinishedAt = &now
	if run.StartedAt != nil {
		run.DurationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	if err := db.WithContext(ctx).Save(run).Error; err != nil {
		config.LogError(config.GetLogger(), "magentosync", "FailRun", run.Kind, nil, err)
	}
}

// RecordError journals one failed entity. Payload is marshaled best-effort.
func (j *Journal) RecordError(ctx context.Context, runId uint, entityType, externalId, code string, cause error, payload any, retryable bool) {
	db := config.GetDB()
	if db == nil {
		return
	}
	var payloadJSON []byte
	if payload != nil {
		payloadJSON, _ = json.Marshal(payload)
	}
	rec := models.SyncError{
		SyncRunId:   runId,
		EntityType:  entityType,
		ExternalId:  externalId,
		ErrorCode:   code,
		Message:     cause.Error(),
		PayloadJSON: payloadJSON,
		Retryable:   retryable,
	}
	if err := db.WithContext(ctx).Create(&rec).Error; err != nil {
		config.LogError(config.GetLogger(), "magentosync", "RecordError", externalId, nil, err)
	}
}
