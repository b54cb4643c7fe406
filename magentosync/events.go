package magentosync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shipstream/magento-sync/config"
	"github.com/shipstream/magento-sync/models"
)

// TrackingInfo is one tracking number on a fulfillment shipment.
type TrackingInfo struct {
	Carrier string `json:"carrier"`
	Number  string `json:"number"`
	Title   string `json:"title,omitempty"`
}

// ShipmentItem is one shipped line of a fulfillment shipment.
type ShipmentItem struct {
	Sku string `json:"sku"`
	Qty string `json:"qty"`
}

// ShipmentEvent is the webhook payload for a fulfillment shipment lifecycle
// change. ExternalID carries the marker written by earlier events.
type ShipmentEvent struct {
	ShipmentID    string         `json:"shipment_id"`
	OrderRef      string         `json:"order_ref"`
	Source        string         `json:"source"`
	ExternalID    string         `json:"external_id"`
	WarehouseName string         `json:"warehouse_name"`
	Items         []ShipmentItem `json:"items"`
	Tracking      []TrackingInfo `json:"tracking"`
}

// InventoryAdjustment is the payload of an adjust_inventory task.
type InventoryAdjustment struct {
	Sku   string `json:"sku"`
	Delta string `json:"delta"`
}

// DeliveryCommittedEvent reports warehouse stock consumed for an order;
// each line's quantity is deducted from the commerce-side stock.
type DeliveryCommittedEvent struct {
	Source string         `json:"source"`
	Items  []ShipmentItem `json:"items"`
}

// HandleTask dispatches one queued task. Shipment and inventory tasks mutate
// remote state that cannot be re-applied safely, so they are deduplicated by
// message id when a database is available.
func (c *Connector) HandleTask(ctx context.Context, task Task) error {
	switch task.Kind {
	case TaskImportOrder:
		// ImportOrder is idempotent on its own, no dedup key needed.
		return c.ImportOrder(ctx, task.OrderRef)
	case TaskAdjustInventory, TaskDeliveryCommitted, TaskShipmentPacked, TaskShipmentShipped, TaskShipmentReverted, TaskShipmentLabelsVoided:
		return c.handleOnce(ctx, task)
	default:
		return Permanent(fmt.Errorf("%w: unknown task kind %q", ErrValidation, task.Kind))
	}
}

func (c *Connector) handleOnce(ctx context.Context, task Task) error {
	db := config.GetDB()
	if db == nil || task.MessageId == "" {
		return c.runTask(ctx, task)
	}

	skip, err := models.BeginIdempotency(db.WithContext(ctx), task.Kind, task.MessageId)
	if err != nil {
		// ErrIdempotencyInProgress included: another delivery is mid-flight,
		// let this one be redelivered.
		return err
	}
	if skip {
		return nil
	}

	if err := c.runTask(ctx, task); err != nil {
		_ = models.MarkIdempotencyFailed(db.WithContext(ctx), task.Kind, task.MessageId, err)
		return err
	}
	return models.MarkIdempotencySucceeded(db.WithContext(ctx), task.Kind, task.MessageId)
}

func (c *Connector) runTask(ctx context.Context, task Task) error {
	switch task.Kind {
	case TaskAdjustInventory:
		var adj InventoryAdjustment
		if err := json.Unmarshal(task.Payload, &adj); err != nil {
			return Permanent(fmt.Errorf("%w: bad adjust_inventory payload: %v", ErrValidation, err))
		}
		return c.AdjustInventory(ctx, adj.Sku, adj.Delta)
	case TaskDeliveryCommitted:
		var event DeliveryCommittedEvent
		if err := json.Unmarshal(task.Payload, &event); err != nil {
			return Permanent(fmt.Errorf("%w: bad delivery_committed payload: %v", ErrValidation, err))
		}
		return c.deliveryCommitted(ctx, event)
	case TaskShipmentPacked, TaskShipmentShipped, TaskShipmentReverted, TaskShipmentLabelsVoided:
		var event ShipmentEvent
		if err := json.Unmarshal(task.Payload, &event); err != nil {
			return Permanent(fmt.Errorf("%w: bad shipment payload: %v", ErrValidation, err))
		}
		return c.handleShipmentEvent(ctx, task.Kind, event)
	default:
		return Permanent(fmt.Errorf("%w: unknown task kind %q", ErrValidation, task.Kind))
	}
}

func (c *Connector) handleShipmentEvent(ctx context.Context, kind string, event ShipmentEvent) error {
	// Orders that did not come from this connector are none of our business.
	if _, ok := ParseOrderSource(event.Source); !ok && event.Source != "" {
		c.logger.WithFields(logFields(ctx, map[string]any{
			"source": event.Source,
		})).Debug("ignoring shipment for foreign order source")
		return nil
	}

	switch kind {
	case TaskShipmentPacked:
		return c.shipmentPacked(ctx, event)
	case TaskShipmentShipped:
		return c.shipmentShipped(ctx, event)
	case TaskShipmentReverted:
		return c.shipmentReverted(ctx, event)
	case TaskShipmentLabelsVoided:
		return c.shipmentLabelsVoided(ctx, event)
	}
	return nil
}

// shipmentPacked mirrors a packed fulfillment shipment as a commerce-side
// shipment and stamps the external id marker so later events find it.
func (c *Connector) shipmentPacked(ctx context.Context, event ShipmentEvent) error {
	if event.OrderRef == "" {
		return Permanent(fmt.Errorf("%w: packed shipment without order ref", ErrValidation))
	}

	// Already mirrored; packed can be redelivered after a partial failure.
	if _, _, ok := ParseShipmentExternalID(event.ExternalID); ok {
		return nil
	}

	order, err := c.fetchOrder(ctx, event.OrderRef)
	if err != nil {
		return err
	}
	if !c.orderWasSubmitted(order) {
		c.logger.WithFields(logFields(ctx, map[string]any{
			"order_ref": event.OrderRef,
			"status":    order.Status,
		})).Warn("packed shipment for order not marked submitted")
	}

	items := make([]map[string]string, 0, len(event.Items))
	for _, item := range event.Items {
		items = append(items, map[string]string{"sku": item.Sku, "qty": item.Qty})
	}
	tracks := trackingArgs(event.Tracking)

	raw, err := c.magentoAPI(ctx, "order_shipment.createWithTracking", map[string]any{
		"order_ref":      event.OrderRef,
		"items":          items,
		"tracking":       tracks,
		"warehouse_name": event.WarehouseName,
	})
	if err != nil {
		return err
	}
	var shipmentID string
	if err := json.Unmarshal(raw, &shipmentID); err != nil || shipmentID == "" {
		return fmt.Errorf("order_shipment.createWithTracking returned no shipment id")
	}

	return c.setShipmentExternalID(ctx, event.ShipmentID, FormatShipmentExternalID(shipmentID, len(tracks) > 0))
}

// shipmentShipped pushes tracking numbers to the commerce shipment exactly
// once, guarded by the tracking marker.
func (c *Connector) shipmentShipped(ctx context.Context, event ShipmentEvent) error {
	shipmentID, trackingAdded, ok := ParseShipmentExternalID(event.ExternalID)
	if !ok {
		// Packed was never processed (connector registered mid-lifecycle).
		// Mirror the shipment now; createWithTracking covers the tracking.
		return c.shipmentPacked(ctx, event)
	}
	if trackingAdded {
		return nil
	}
	if len(event.Tracking) == 0 {
		return nil
	}

	for _, track := range event.Tracking {
		_, err := c.magentoAPI(ctx, "order_shipment.addTrack", []any{
			shipmentID, track.Carrier, track.Title, track.Number,
		})
		if err != nil {
			return err
		}
	}
	return c.setShipmentExternalID(ctx, event.ShipmentID, FormatShipmentExternalID(shipmentID, true))
}

// shipmentReverted undoes the commerce-side shipment when fulfillment rolls
// one back, and clears the marker so a re-pack starts clean.
func (c *Connector) shipmentReverted(ctx context.Context, event ShipmentEvent) error {
	shipmentID, _, ok := ParseShipmentExternalID(event.ExternalID)
	if !ok {
		return nil
	}
	if _, err := c.magentoAPI(ctx, "order_shipment.revert", []any{shipmentID}); err != nil {
		return err
	}
	return c.setShipmentExternalID(ctx, event.ShipmentID, "")
}

// shipmentLabelsVoided drops the tracking marker so re-printed labels get
// pushed by the next shipped event.
func (c *Connector) shipmentLabelsVoided(ctx context.Context, event ShipmentEvent) error {
	shipmentID, trackingAdded, ok := ParseShipmentExternalID(event.ExternalID)
	if !ok || !trackingAdded {
		return nil
	}
	return c.setShipmentExternalID(ctx, event.ShipmentID, FormatShipmentExternalID(shipmentID, false))
}

func (c *Connector) setShipmentExternalID(ctx context.Context, fulfillmentShipmentID, externalID string) error {
	_, err := c.fulfillment.Call(ctx, "shipment.update", map[string]any{
		"shipment_id": fulfillmentShipmentID,
		"external_id": externalID,
	})
	return err
}

func (c *Connector) orderWasSubmitted(order MagentoOrder) bool {
	for _, entry := range order.StatusHistory {
		if entry["status"] == statusSubmitted {
			return true
		}
	}
	return order.Status == statusSubmitted
}

func trackingArgs(tracking []TrackingInfo) []map[string]string {
	out := make([]map[string]string, 0, len(tracking))
	for _, t := range tracking {
		out = append(out, map[string]string{
			"carrier": t.Carrier,
			"number":  t.Number,
			"title":   t.Title,
		})
	}
	return out
}
