package models

import "time"

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredCron   = "cron"
	SyncTriggeredEvent  = "event"
)

const (
	SyncKindOrders    = "orders"
	SyncKindInventory = "inventory"
)

// SyncRun is one invocation of the order or inventory synchronization,
// recorded for operator visibility. The run journal is advisory: the sync
// engine works the same when no database is configured.
type SyncRun struct {
	ID           uint       `gorm:"primary_key" json:"id"`
	Kind         string     `gorm:"index;size:20;not null" json:"kind"`
	Status       string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy  string     `gorm:"size:20" json:"triggered_by"`
	WindowFrom   string     `gorm:"size:32" json:"window_from"`
	WindowTo     string     `gorm:"size:32" json:"window_to"`
	OrdersQueued int        `json:"orders_queued"`
	ErrorCount   int        `json:"error_count"`
	Summary      string     `gorm:"type:text" json:"summary"`
	StartedAt    *time.Time `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	DurationMs   int64      `json:"duration_ms"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncError is one failed record within a run (or within an event-triggered
// task, in which case SyncRunId is zero).
type SyncError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index" json:"sync_run_id"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	ExternalId  string    `gorm:"size:128" json:"external_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
