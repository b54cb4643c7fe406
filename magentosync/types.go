package magentosync

import (
	"github.com/shopspring/decimal"

	"github.com/shipstream/magento-sync/utils"
)

// MagentoOrderRow is one record of an order.list page. The API returns
// quantities and ids as strings.
type MagentoOrderRow struct {
	IncrementID string `json:"increment_id"`
	Status      string `json:"status"`
	UpdatedAt   string `json:"updated_at"`
}

// MagentoOrder is the full payload of order.info.
type MagentoOrder struct {
	IncrementID         string              `json:"increment_id"`
	Status              string              `json:"status"`
	CreatedAt           string              `json:"created_at"`
	ShippingMethod      string              `json:"shipping_method"`
	ShippingDescription string              `json:"shipping_description"`
	CustomerEmail       string              `json:"customer_email"`
	ShippingAddress     MagentoAddress      `json:"shipping_address"`
	Items               []MagentoOrderItem  `json:"items"`
	StatusHistory       []map[string]string `json:"status_history,omitempty"`
}

// MagentoAddress is a Magento-shaped shipping address. Street holds up to
// two lines separated by a newline.
type MagentoAddress struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Company   string `json:"company"`
	Street    string `json:"street"`
	City      string `json:"city"`
	Region    string `json:"region"`
	Postcode  string `json:"postcode"`
	CountryID string `json:"country_id"`
	Telephone string `json:"telephone"`
}

// MagentoOrderItem is one order line. Quantity fields arrive as decimal
// strings ("2.0000").
type MagentoOrderItem struct {
	ItemID      string `json:"item_id"`
	Sku         string `json:"sku"`
	Name        string `json:"name"`
	ProductType string `json:"product_type"`
	QtyOrdered  string `json:"qty_ordered"`
	QtyCanceled string `json:"qty_canceled"`
	QtyRefunded string `json:"qty_refunded"`
	QtyShipped  string `json:"qty_shipped"`
}

// ShippableQty is the quantity still owed to the customer for an item:
// ordered minus canceled, refunded and already shipped, floored at zero.
func (i MagentoOrderItem) ShippableQty() decimal.Decimal {
	qty := parseQty(i.QtyOrdered).
		Sub(parseQty(i.QtyCanceled)).
		Sub(parseQty(i.QtyRefunded)).
		Sub(parseQty(i.QtyShipped))
	if qty.IsNegative() {
		return decimal.Zero
	}
	return qty
}

// parseQty treats missing or malformed quantity fields as zero, matching how
// the commerce API omits untouched quantities.
func parseQty(value string) decimal.Decimal {
	dec, err := utils.ParseDecimal(value)
	if err != nil {
		return decimal.Zero
	}
	return dec
}

// OrderDraft is the order-to-be-created on the fulfillment side. A transform
// hook may mutate any field; Skip drops the whole order.
type OrderDraft struct {
	Store   *string          `json:"store,omitempty"`
	Items   []OrderItemDraft `json:"items"`
	Address DraftAddress     `json:"address"`
	Options DraftOptions     `json:"options"`
	// Timestamp is the commerce-side created_at, kept for transform hooks.
	Timestamp string `json:"timestamp,omitempty"`
	Skip      bool   `json:"skip,omitempty"`
}

// OrderItemDraft is one fulfillment order line.
type OrderItemDraft struct {
	Sku          string          `json:"sku"`
	Qty          decimal.Decimal `json:"qty"`
	OrderItemRef string          `json:"order_item_ref,omitempty"`
	// Product carries the commerce product payload for transform hooks.
	// It is stripped before submission.
	Product map[string]any `json:"product,omitempty"`
	Skip    bool           `json:"skip,omitempty"`
}

// DraftAddress is the fulfillment-side shipping address.
type DraftAddress struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Company   string `json:"company,omitempty"`
	Street1   string `json:"street1"`
	Street2   string `json:"street2,omitempty"`
	City      string `json:"city"`
	Region    string `json:"region"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// DraftOptions are the order.create options.
type DraftOptions struct {
	OrderRef       string `json:"order_ref"`
	ShippingMethod string `json:"shipping_method"`
	Source         string `json:"source"`
}

// SubmittableItems returns the draft items minus skipped lines, with the
// transform-only Product payload stripped.
func (d OrderDraft) SubmittableItems() []OrderItemDraft {
	items := make([]OrderItemDraft, 0, len(d.Items))
	for _, item := range d.Items {
		if item.Skip {
			continue
		}
		item.Product = nil
		items = append(items, item)
	}
	return items
}

// ShippingLines exposes the order's shipping data in classifier form.
func (o MagentoOrder) ShippingLines() []ShippingLine {
	if o.ShippingMethod == "" && o.ShippingDescription == "" {
		return nil
	}
	return []ShippingLine{{Method: o.ShippingMethod, Description: o.ShippingDescription}}
}
