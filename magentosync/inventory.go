package magentosync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shipstream/magento-sync/models"
	"github.com/shipstream/magento-sync/utils"
)

// SyncInventory asks the fulfillment platform to push its current stock
// levels to the commerce side.
func (c *Connector) SyncInventory(ctx context.Context, triggeredBy string) error {
	ctx, span := tracer.Start(ctx, "sync.inventory")
	defer span.End()

	run := c.journal.BeginRun(ctx, models.SyncKindInventory, triggeredBy, "", "")

	raw, err := c.fulfillment.Call(ctx, "shipstream.sync_inventory", nil)
	if err != nil {
		c.journal.FailRun(ctx, run, err)
		return err
	}

	var result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		err = fmt.Errorf("decode sync_inventory response: %w", err)
		c.journal.FailRun(ctx, run, err)
		return err
	}
	if !result.Success {
		err := fmt.Errorf("inventory sync rejected: %s", result.Message)
		c.journal.FailRun(ctx, run, err)
		return err
	}

	c.journal.FinishRun(ctx, run, 0, 0, result.Message)
	c.logger.WithField("module", "magentosync").Info("inventory sync requested")
	return nil
}

// InventoryWithLock serves the commerce platform's stock snapshot callback.
// It takes the order import lock so no order can be submitted while the
// commerce side counts stock, then returns warehouse quantities per sku.
// A non-empty sku narrows the snapshot to that product. The lock stays held
// until the caller calls back UnlockOrderImport.
func (c *Connector) InventoryWithLock(ctx context.Context, sku string) (map[string]any, error) {
	if err := c.lock.Acquire(ctx); err != nil {
		return map[string]any{"errors": err.Error()}, nil
	}

	var args any
	if sku != "" {
		args = sku
	}
	raw, err := c.fulfillment.Call(ctx, "inventory.list", args)
	if err != nil {
		// Holding the lock with nothing to count would stall imports for a
		// minute until the lock goes stale.
		c.lock.Release(ctx)
		return map[string]any{"errors": err.Error()}, nil
	}

	var skus map[string]json.RawMessage
	if err := json.Unmarshal(raw, &skus); err != nil {
		c.lock.Release(ctx)
		return map[string]any{"errors": fmt.Sprintf("decode inventory.list response: %v", err)}, nil
	}

	return map[string]any{"skus": skus}, nil
}

// UnlockOrderImport releases the lock taken by InventoryWithLock.
func (c *Connector) UnlockOrderImport(ctx context.Context) {
	c.lock.Release(ctx)
}

// deliveryCommitted deducts warehouse-consumed stock from the commerce side
// once the fulfillment platform commits a delivery.
func (c *Connector) deliveryCommitted(ctx context.Context, event DeliveryCommittedEvent) error {
	if _, ok := ParseOrderSource(event.Source); !ok && event.Source != "" {
		return nil
	}
	for _, item := range event.Items {
		if item.Sku == "" {
			continue
		}
		qty, err := utils.ParseDecimal(item.Qty)
		if err != nil {
			return Permanent(fmt.Errorf("%w: bad qty %q for sku %s", ErrValidation, item.Qty, item.Sku))
		}
		if qty.IsZero() {
			continue
		}
		if err := c.AdjustInventory(ctx, item.Sku, qty.Neg().String()); err != nil {
			return err
		}
	}
	return nil
}

// AdjustInventory applies a stock delta on the commerce side, used when the
// fulfillment platform reports an adjustment (damaged stock, cycle counts).
func (c *Connector) AdjustInventory(ctx context.Context, sku string, delta string) error {
	if sku == "" {
		return fmt.Errorf("%w: empty sku", ErrValidation)
	}
	_, err := c.magentoAPI(ctx, "inventory.adjust", map[string]any{
		"sku":   sku,
		"delta": delta,
	})
	return err
}
