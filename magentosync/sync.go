package magentosync

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/shipstream/magento-sync/config"
	"github.com/shipstream/magento-sync/models"
)

var tracer trace.Tracer = otel.Tracer("magento-sync")

const (
	// timeFormat is the commerce API's timestamp rendering. It sorts
	// lexicographically, which the cursor logic relies on.
	timeFormat = "2006-01-02 15:04:05"

	orderPageSize = 100

	// defaultSyncWindow bounds the first run when no cursor exists and no
	// start date was given.
	defaultSyncWindow = 5 * 24 * time.Hour
)

var syncDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// SyncOrders pulls orders updated since the cursor (or the given start date)
// and queues an import task per order. The cursor only advances when the
// whole window was paged through.
func (c *Connector) SyncOrders(ctx context.Context, since string, triggeredBy string) error {
	ctx, span := tracer.Start(ctx, "sync.orders")
	defer span.End()

	if since != "" {
		if !syncDatePattern.MatchString(since) {
			return fmt.Errorf("%w: invalid sync start date %q, want YYYY-MM-DD", ErrValidation, since)
		}
		if _, err := time.Parse("2006-01-02", since); err != nil {
			return fmt.Errorf("%w: invalid sync start date %q: %v", ErrValidation, since, err)
		}
	}

	statuses := NormalizeStatuses(c.settings.AutoFulfillStatuses)
	if len(statuses) == 0 {
		c.logger.WithField("module", "magentosync").Info("no auto-fulfill statuses configured, order sync disabled")
		return nil
	}

	// A held import lock means another worker is mid-submission; the next
	// cron tick will pick the window up.
	if locked, err := c.lock.IsLocked(ctx); err != nil {
		return err
	} else if locked {
		c.logger.WithField("module", "magentosync").Info("order import lock held, skipping sync")
		return nil
	}

	now := c.now().UTC()
	ceiling := now.Format(timeFormat)
	floor, err := c.syncFloor(ctx, since, now)
	if err != nil {
		return err
	}

	run := c.journal.BeginRun(ctx, models.SyncKindOrders, triggeredBy, floor, ceiling)

	queued, errCount, err := c.pageOrders(ctx, floor, ceiling, statuses, run)
	if err != nil {
		c.journal.FailRun(ctx, run, err)
		return err
	}

	if err := c.state.SetState(ctx, stateOrderLastSyncAt, ceiling); err != nil {
		c.journal.FailRun(ctx, run, err)
		return err
	}

	c.journal.FinishRun(ctx, run, queued, errCount, fmt.Sprintf("queued %d orders", queued))
	c.logger.WithFields(logFields(ctx, map[string]any{
		"from":   floor,
		"to":     ceiling,
		"queued": queued,
	})).Info("order sync window complete")
	return nil
}

// syncFloor resolves where the window starts: an explicit date wins, then
// the stored cursor, then a bounded look-back.
func (c *Connector) syncFloor(ctx context.Context, since string, now time.Time) (string, error) {
	if since != "" {
		return since + " 00:00:00", nil
	}
	cursor, err := c.state.GetState(ctx, stateOrderLastSyncAt)
	if err != nil {
		return "", err
	}
	if cursor != nil && cursor.Value != "" {
		return cursor.Value, nil
	}
	return now.Add(-defaultSyncWindow).Format(timeFormat), nil
}

func (c *Connector) pageOrders(ctx context.Context, floor, ceiling string, statuses []string, run *models.SyncRun) (queued, errCount int, err error) {
	runId := uint(0)
	if run != nil {
		runId = run.ID
	}

	for {
		rows, err := c.listOrders(ctx, floor, ceiling, statuses)
		if err != nil {
			return queued, errCount, err
		}
		pageFloor := floor

		for _, row := range rows {
			// Advance the floor one second past the newest record seen so
			// the next page does not refetch it. This happens for every row,
			// even ones that fail to enqueue; otherwise a full page of
			// failures would refetch the identical window forever.
			if row.UpdatedAt > floor {
				if next, ok := advanceTimestamp(row.UpdatedAt); ok {
					floor = next
				}
			}

			task := Task{Kind: TaskImportOrder, OrderRef: row.IncrementID, SyncRunId: runId}
			if err := c.queue.Enqueue(ctx, task); err != nil {
				errCount++
				c.journal.RecordError(ctx, runId, "order", row.IncrementID, "enqueue_failed", err, row, true)
				config.LogError(c.logger, "magentosync", "pageOrders", "order "+row.IncrementID, nil, err)
				continue
			}
			queued++
		}

		if len(rows) < orderPageSize || floor >= ceiling {
			return queued, errCount, nil
		}
		if floor == pageFloor {
			// A full page with no parseable updated_at cannot move the
			// window; refetching it would spin forever.
			err := fmt.Errorf("order window %q..%q is stuck: full page without a usable updated_at", floor, ceiling)
			config.LogError(c.logger, "magentosync", "pageOrders", "window "+floor, nil, err)
			return queued, errCount, err
		}
	}
}

func (c *Connector) listOrders(ctx context.Context, from, to string, statuses []string) ([]MagentoOrderRow, error) {
	raw, err := c.magentoAPI(ctx, "order.list", map[string]any{
		"updated_at": map[string]string{"from": from, "to": to},
		"status":     map[string]any{"in": statuses},
		"limit":      orderPageSize,
	})
	if err != nil {
		return nil, err
	}
	var rows []MagentoOrderRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode order.list response: %w", err)
	}
	return rows, nil
}

func advanceTimestamp(ts string) (string, bool) {
	t, err := time.Parse(timeFormat, ts)
	if err != nil {
		return "", false
	}
	return t.Add(time.Second).Format(timeFormat), true
}
