package magentosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shipstream/magento-sync/config"
	"github.com/shipstream/magento-sync/utils"
)

const (
	statusSubmitted      = "submitted"
	statusFailedToSubmit = "failed_to_submit"

	commentMaxLen = 1024
)

// ImportOrder submits one commerce order to the fulfillment platform. It is
// safe to call any number of times for the same order: an already-imported
// order only gets its status comment refreshed.
func (c *Connector) ImportOrder(ctx context.Context, orderRef string) error {
	ctx, span := tracer.Start(ctx, "sync.import_order")
	defer span.End()

	if strings.TrimSpace(orderRef) == "" {
		return fmt.Errorf("%w: empty order ref", ErrValidation)
	}
	ctx = utils.SetOrderRefInContext(ctx, orderRef)
	log := c.logger.WithFields(logFields(ctx, nil))

	existing, err := c.findFulfillmentOrder(ctx, orderRef)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Info("order already imported")
		comment := fmt.Sprintf("Order already submitted for fulfillment as # %s", existing.UniqueID)
		if existing.CreatedAt != "" {
			comment += " at " + existing.CreatedAt
		}
		c.addOrderComment(ctx, orderRef, statusSubmitted, comment+".")
		return nil
	}

	order, err := c.fetchOrder(ctx, orderRef)
	if err != nil {
		return err
	}

	draft, transformOutput, err := c.buildDraft(ctx, order)
	if err != nil {
		// Bad configuration or a broken transform will not heal on retry.
		if errors.Is(err, ErrConfiguration) || errors.Is(err, ErrTransform) || errors.Is(err, ErrClassification) || errors.Is(err, ErrValidation) {
			c.addOrderComment(ctx, orderRef, statusFailedToSubmit, "Order import failed: "+utils.Truncate(err.Error(), commentMaxLen))
			return Permanent(err)
		}
		return err
	}
	if draft.Skip || len(draft.SubmittableItems()) == 0 {
		// Nothing to submit: an all-virtual or fully-shipped order, or a
		// transform hook that opted the order out. Logged, not an error.
		log.Info("order has nothing to submit, skipping")
		return nil
	}

	// The import lock serializes submission against inventory pulls so the
	// fulfillment side never counts an order twice.
	if err := c.lock.Acquire(ctx); err != nil {
		return err
	}

	submitErr := c.submitDraft(ctx, draft)
	c.lock.Release(ctx)

	if submitErr != nil {
		config.LogError(c.logger, "magentosync", "ImportOrder", "order "+orderRef, nil, submitErr)
		c.addOrderComment(ctx, orderRef, statusFailedToSubmit, "Order failed to submit for fulfillment: "+utils.Truncate(submitErr.Error(), commentMaxLen))
		return Permanent(submitErr)
	}

	log.Info("order submitted for fulfillment")
	comment := "Order submitted for fulfillment."
	if transformOutput != "" {
		if !c.settings.Verbose {
			transformOutput = utils.Truncate(transformOutput, commentMaxLen)
		}
		comment += "\n" + transformOutput
	}
	c.addOrderComment(ctx, orderRef, statusSubmitted, comment)
	return nil
}

// fulfillmentOrder is the slice of an order.search result the importer
// cares about.
type fulfillmentOrder struct {
	UniqueID  string `json:"unique_id"`
	CreatedAt string `json:"created_at"`
}

func (c *Connector) findFulfillmentOrder(ctx context.Context, orderRef string) (*fulfillmentOrder, error) {
	raw, err := c.fulfillment.Call(ctx, "order.search", map[string]any{
		"order_ref": orderRef,
	})
	if err != nil {
		return nil, err
	}
	var results []fulfillmentOrder
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("decode order.search response: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

func (c *Connector) fetchOrder(ctx context.Context, orderRef string) (MagentoOrder, error) {
	raw, err := c.magentoAPI(ctx, "order.info", []any{orderRef})
	if err != nil {
		return MagentoOrder{}, err
	}
	var order MagentoOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return MagentoOrder{}, fmt.Errorf("decode order.info response: %w", err)
	}
	return order, nil
}

// buildDraft assembles the fulfillment order draft: shippable simple items,
// the translated shipping method, and whatever the transform hook did to it.
func (c *Connector) buildDraft(ctx context.Context, order MagentoOrder) (*OrderDraft, string, error) {
	items := make([]OrderItemDraft, 0, len(order.Items))
	for _, item := range order.Items {
		if item.ProductType != "simple" {
			continue
		}
		qty := item.ShippableQty()
		if !qty.IsPositive() {
			continue
		}
		items = append(items, OrderItemDraft{
			Sku:          item.Sku,
			Qty:          qty,
			OrderItemRef: item.ItemID,
		})
	}
	if len(items) == 0 {
		// Nothing left to fulfill (virtual order, or everything canceled or
		// already shipped). Not an error.
		return &OrderDraft{Skip: true}, "", nil
	}

	rules, err := c.settings.ShippingRules()
	if err != nil {
		return nil, "", err
	}
	method, err := ClassifyShippingMethod(rules, order.ShippingLines())
	if err != nil {
		return nil, "", fmt.Errorf("order %s: %w", order.IncrementID, err)
	}

	street1, street2 := splitStreet(order.ShippingAddress.Street)
	draft := &OrderDraft{
		Items: items,
		Address: DraftAddress{
			Firstname: order.ShippingAddress.Firstname,
			Lastname:  order.ShippingAddress.Lastname,
			Company:   order.ShippingAddress.Company,
			Street1:   street1,
			Street2:   street2,
			City:      order.ShippingAddress.City,
			Region:    order.ShippingAddress.Region,
			Postcode:  order.ShippingAddress.Postcode,
			Country:   order.ShippingAddress.CountryID,
			Phone:     order.ShippingAddress.Telephone,
			Email:     order.CustomerEmail,
		},
		Options: DraftOptions{
			OrderRef:       order.IncrementID,
			ShippingMethod: method,
			Source:         orderRefSource(order.IncrementID),
		},
		Timestamp: order.CreatedAt,
	}

	if c.transform == nil {
		return draft, "", nil
	}

	// Transform hooks get the fulfillment-side product payloads to make
	// decisions on.
	skus := make([]string, 0, len(draft.Items))
	for _, item := range draft.Items {
		skus = append(skus, item.Sku)
	}
	products, err := c.fetchProducts(ctx, skus)
	if err != nil {
		return nil, "", err
	}
	for i := range draft.Items {
		draft.Items[i].Product = products[draft.Items[i].Sku]
	}
	output, err := applyTransform(ctx, c.transform, draft, order)
	if err != nil {
		return nil, "", err
	}
	return draft, output, nil
}

// fetchProducts loads the fulfillment-side product records for the given
// skus. Skus the platform does not know are simply absent from the result,
// not errors.
func (c *Connector) fetchProducts(ctx context.Context, skus []string) (map[string]map[string]any, error) {
	raw, err := c.fulfillment.Call(ctx, "product.search", map[string]any{
		"sku": map[string]any{"in": skus},
	})
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == errProductNotFound {
			return map[string]map[string]any{}, nil
		}
		return nil, err
	}
	var products []map[string]any
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, fmt.Errorf("decode product.search response: %w", err)
	}
	bySku := make(map[string]map[string]any, len(products))
	for _, product := range products {
		if sku, ok := product["sku"].(string); ok {
			bySku[sku] = product
		}
	}
	return bySku, nil
}

func (c *Connector) submitDraft(ctx context.Context, draft *OrderDraft) error {
	args := map[string]any{
		"items":   draft.SubmittableItems(),
		"address": draft.Address,
		"options": draft.Options,
	}
	if draft.Store != nil {
		args["store"] = *draft.Store
	}
	_, err := c.fulfillment.Call(ctx, "order.create", args)
	return err
}

func splitStreet(street string) (string, string) {
	parts := strings.SplitN(street, "\n", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(street), ""
}

// orderRefSource renders the source marker for orders referenced by
// increment id rather than entity id.
func orderRefSource(incrementID string) string {
	if id, err := strconv.ParseInt(incrementID, 10, 64); err == nil {
		return OrderSource(id)
	}
	return sourcePrefix + incrementID
}
