package magentosync

import (
	"context"
	"testing"
)

func TestShipmentExternalIDRoundTrip(t *testing.T) {
	cases := []struct {
		id       string
		tracking bool
		encoded  string
	}{
		{"300000042", false, "magento:300000042"},
		{"300000042", true, "magento:300000042:t"},
	}
	for _, tc := range cases {
		encoded := FormatShipmentExternalID(tc.id, tc.tracking)
		if encoded != tc.encoded {
			t.Fatalf("FormatShipmentExternalID(%q, %v) = %q, want %q", tc.id, tc.tracking, encoded, tc.encoded)
		}
		id, tracking, ok := ParseShipmentExternalID(encoded)
		if !ok || id != tc.id || tracking != tc.tracking {
			t.Fatalf("ParseShipmentExternalID(%q) = %q, %v, %v", encoded, id, tracking, ok)
		}
	}
}

func TestParseShipmentExternalID_Rejects(t *testing.T) {
	for _, in := range []string{"", "magento:", "magento::t", "shopify:42", "42"} {
		if _, _, ok := ParseShipmentExternalID(in); ok {
			t.Fatalf("ParseShipmentExternalID(%q) accepted, want rejection", in)
		}
	}
}

func TestParseOrderSource(t *testing.T) {
	if id, ok := ParseOrderSource("magento:123"); !ok || id != 123 {
		t.Fatalf("ParseOrderSource = %d, %v", id, ok)
	}
	for _, in := range []string{"", "magento:", "magento:12a", "shopify:123", "magento:123:t"} {
		if _, ok := ParseOrderSource(in); ok {
			t.Fatalf("ParseOrderSource(%q) accepted, want rejection", in)
		}
	}
}

func packedEvent() ShipmentEvent {
	return ShipmentEvent{
		ShipmentID:    "FS-77",
		OrderRef:      "100000123",
		Source:        "magento:123",
		WarehouseName: "Chicago DC",
		Items:         []ShipmentItem{{Sku: "WIDGET-A", Qty: "2"}},
		Tracking:      []TrackingInfo{{Carrier: "ups", Number: "1Z999", Title: "UPS Ground"}},
	}
}

func shipmentFixture(t *testing.T) *importFixture {
	f := newImportFixture(t, testSettings(), testOrder())
	f.magento.on("order_shipment.createWithTracking", func(args any) (any, error) {
		f.created = append(f.created, args.(map[string]any))
		return "300000042", nil
	})
	f.magento.on("order_shipment.addTrack", func(args any) (any, error) {
		return true, nil
	})
	f.magento.on("order_shipment.revert", func(args any) (any, error) {
		return true, nil
	})
	return f
}

func externalIDUpdates(f *importFixture) *[]string {
	updates := new([]string)
	f.fulfillment.on("shipment.update", func(args any) (any, error) {
		*updates = append(*updates, args.(map[string]any)["external_id"].(string))
		return true, nil
	})
	return updates
}

func TestShipmentPacked_MirrorsShipmentAndStampsMarker(t *testing.T) {
	f := shipmentFixture(t)
	var updates []string
	f.fulfillment.on("shipment.update", func(args any) (any, error) {
		updates = append(updates, args.(map[string]any)["external_id"].(string))
		return true, nil
	})

	err := f.connector.handleShipmentEvent(context.Background(), TaskShipmentPacked, packedEvent())
	if err != nil {
		t.Fatalf("packed: %v", err)
	}
	if f.magento.callCount("order_shipment.createWithTracking") != 1 {
		t.Fatal("expected one commerce shipment")
	}
	if got := f.created[0]["warehouse_name"]; got != "Chicago DC" {
		t.Fatalf("warehouse_name = %v, want Chicago DC", got)
	}
	if len(updates) != 1 || updates[0] != "magento:300000042:t" {
		t.Fatalf("external id updates = %v, want tracking-added marker", updates)
	}
}

func TestShipmentPacked_RedeliveryIsIgnored(t *testing.T) {
	f := shipmentFixture(t)
	event := packedEvent()
	event.ExternalID = "magento:300000042"

	if err := f.connector.handleShipmentEvent(context.Background(), TaskShipmentPacked, event); err != nil {
		t.Fatalf("packed redelivery: %v", err)
	}
	if f.magento.callCount("order_shipment.createWithTracking") != 0 {
		t.Fatal("redelivered packed event must not create a second shipment")
	}
}

func TestShipmentPacked_ForeignSourceIgnored(t *testing.T) {
	f := shipmentFixture(t)
	event := packedEvent()
	event.Source = "shopify:99"

	if err := f.connector.handleShipmentEvent(context.Background(), TaskShipmentPacked, event); err != nil {
		t.Fatalf("foreign packed: %v", err)
	}
	if len(f.magento.calls) != 0 {
		t.Fatal("foreign-source shipments must not touch the commerce API")
	}
}

func TestShipmentShipped_AddsTrackingOnce(t *testing.T) {
	f := shipmentFixture(t)
	updates := externalIDUpdates(f)

	event := packedEvent()
	event.ExternalID = "magento:300000042"

	if err := f.connector.handleShipmentEvent(context.Background(), TaskShipmentShipped, event); err != nil {
		t.Fatalf("shipped: %v", err)
	}
	if f.magento.callCount("order_shipment.addTrack") != 1 {
		t.Fatalf("addTrack calls = %d, want 1", f.magento.callCount("order_shipment.addTrack"))
	}
	if len(*updates) != 1 || (*updates)[0] != "magento:300000042:t" {
		t.Fatalf("external id updates = %v", *updates)
	}

	// Second delivery carries the :t marker and must be a no-op.
	event.ExternalID = (*updates)[0]
	if err := f.connector.handleShipmentEvent(context.Background(), TaskShipmentShipped, event); err != nil {
		t.Fatalf("shipped redelivery: %v", err)
	}
	if f.magento.callCount("order_shipment.addTrack") != 1 {
		t.Fatal("tracking must only be pushed once")
	}
}

func TestShipmentReverted_RevertsAndClearsMarker(t *testing.T) {
	f := shipmentFixture(t)
	updates := externalIDUpdates(f)

	event := packedEvent()
	event.ExternalID = "magento:300000042:t"

	if err := f.connector.handleShipmentEvent(context.Background(), TaskShipmentReverted, event); err != nil {
		t.Fatalf("reverted: %v", err)
	}
	if f.magento.callCount("order_shipment.revert") != 1 {
		t.Fatal("expected one revert call")
	}
	if len(*updates) != 1 || (*updates)[0] != "" {
		t.Fatalf("external id updates = %v, want cleared marker", *updates)
	}
}

func TestShipmentLabelsVoided_DropsTrackingMarker(t *testing.T) {
	f := shipmentFixture(t)
	updates := externalIDUpdates(f)

	event := packedEvent()
	event.ExternalID = "magento:300000042:t"

	if err := f.connector.handleShipmentEvent(context.Background(), TaskShipmentLabelsVoided, event); err != nil {
		t.Fatalf("labels voided: %v", err)
	}
	if len(*updates) != 1 || (*updates)[0] != "magento:300000042" {
		t.Fatalf("external id updates = %v, want marker without :t", *updates)
	}

	// Without the tracking marker there is nothing to void.
	event.ExternalID = "magento:300000042"
	if err := f.connector.handleShipmentEvent(context.Background(), TaskShipmentLabelsVoided, event); err != nil {
		t.Fatalf("labels voided redelivery: %v", err)
	}
	if len(*updates) != 1 {
		t.Fatalf("external id updates = %v, want no further writes", *updates)
	}
}
