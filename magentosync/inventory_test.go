package magentosync

import (
	"context"
	"errors"
	"testing"
)

func TestInventoryWithLock_HoldsLockUntilUnlocked(t *testing.T) {
	f := newImportFixture(t, testSettings(), testOrder())
	f.fulfillment.on("inventory.list", func(args any) (any, error) {
		return map[string]any{"WIDGET-A": map[string]string{"qty": "14"}}, nil
	})
	ctx := context.Background()

	result, err := f.connector.InventoryWithLock(ctx, "")
	if err != nil {
		t.Fatalf("InventoryWithLock: %v", err)
	}
	if _, ok := result["skus"]; !ok {
		t.Fatalf("result = %v, want skus", result)
	}

	// The platform reads the snapshot, adjusts its counts, then calls back.
	// Until then order import must stay blocked.
	if f.lockValue() != "locked" {
		t.Fatalf("lock = %q after snapshot, want held", f.lockValue())
	}

	f.connector.UnlockOrderImport(ctx)
	if f.lockValue() != "unlocked" {
		t.Fatalf("lock = %q after unlock callback, want unlocked", f.lockValue())
	}
}

func TestInventoryWithLock_SkuFilterIsForwarded(t *testing.T) {
	f := newImportFixture(t, testSettings(), testOrder())
	var listArgs []any
	f.fulfillment.on("inventory.list", func(args any) (any, error) {
		listArgs = append(listArgs, args)
		return map[string]any{"WIDGET-A": map[string]string{"qty": "14"}}, nil
	})
	ctx := context.Background()

	if _, err := f.connector.InventoryWithLock(ctx, "WIDGET-A"); err != nil {
		t.Fatalf("InventoryWithLock: %v", err)
	}
	f.connector.UnlockOrderImport(ctx)
	if _, err := f.connector.InventoryWithLock(ctx, ""); err != nil {
		t.Fatalf("InventoryWithLock: %v", err)
	}
	f.connector.UnlockOrderImport(ctx)

	if len(listArgs) != 2 || listArgs[0] != "WIDGET-A" || listArgs[1] != nil {
		t.Fatalf("inventory.list args = %v, want the sku filter then nil", listArgs)
	}
}

func TestInventoryWithLock_ReleasesOnListFailure(t *testing.T) {
	f := newImportFixture(t, testSettings(), testOrder())
	f.fulfillment.on("inventory.list", func(args any) (any, error) {
		return nil, errors.New("api unreachable")
	})

	result, err := f.connector.InventoryWithLock(context.Background(), "")
	if err != nil {
		t.Fatalf("InventoryWithLock: %v", err)
	}
	if _, ok := result["errors"]; !ok {
		t.Fatalf("result = %v, want errors", result)
	}
	if f.lockValue() != "unlocked" {
		t.Fatalf("lock = %q after failed snapshot, want released", f.lockValue())
	}
}

func TestSyncInventory(t *testing.T) {
	f := newImportFixture(t, testSettings(), testOrder())
	f.fulfillment.on("shipstream.sync_inventory", func(args any) (any, error) {
		return map[string]any{"success": true, "message": "queued"}, nil
	})

	if err := f.connector.SyncInventory(context.Background(), "manual"); err != nil {
		t.Fatalf("SyncInventory: %v", err)
	}
}

func TestSyncInventory_Rejected(t *testing.T) {
	f := newImportFixture(t, testSettings(), testOrder())
	f.fulfillment.on("shipstream.sync_inventory", func(args any) (any, error) {
		return map[string]any{"success": false, "message": "store disabled"}, nil
	})

	if err := f.connector.SyncInventory(context.Background(), "manual"); err == nil {
		t.Fatal("SyncInventory must surface a rejected request")
	}
}

func TestHandleTask_Dispatch(t *testing.T) {
	f := newImportFixture(t, testSettings(), testOrder())
	ctx := context.Background()

	if err := f.connector.HandleTask(ctx, Task{Kind: TaskImportOrder, OrderRef: "100000123"}); err != nil {
		t.Fatalf("import_order task: %v", err)
	}
	if len(f.created) != 1 {
		t.Fatal("import_order task must submit the order")
	}

	f.magento.on("inventory.adjust", func(args any) (any, error) {
		return true, nil
	})
	task := Task{Kind: TaskAdjustInventory, Payload: []byte(`{"sku":"WIDGET-A","delta":"-2"}`)}
	if err := f.connector.HandleTask(ctx, task); err != nil {
		t.Fatalf("adjust_inventory task: %v", err)
	}
	if f.magento.callCount("inventory.adjust") != 1 {
		t.Fatal("adjust_inventory task must call the commerce API")
	}

	err := f.connector.HandleTask(ctx, Task{Kind: "compact_warehouse"})
	if !IsPermanent(err) {
		t.Fatalf("unknown task kind = %v, want permanent error", err)
	}
}

func TestDeliveryCommitted_DeductsCommerceStock(t *testing.T) {
	f := newImportFixture(t, testSettings(), testOrder())
	var deltas []string
	f.magento.on("inventory.adjust", func(args any) (any, error) {
		adj := args.(map[string]any)
		deltas = append(deltas, adj["sku"].(string)+":"+adj["delta"].(string))
		return true, nil
	})

	payload := []byte(`{"source":"magento:123","items":[{"sku":"WIDGET-A","qty":"2"},{"sku":"WIDGET-B","qty":"1.5"}]}`)
	if err := f.connector.HandleTask(context.Background(), Task{Kind: TaskDeliveryCommitted, Payload: payload}); err != nil {
		t.Fatalf("delivery_committed task: %v", err)
	}
	if len(deltas) != 2 || deltas[0] != "WIDGET-A:-2" || deltas[1] != "WIDGET-B:-1.5" {
		t.Fatalf("adjustments = %v", deltas)
	}
}

func TestDeliveryCommitted_SkipsZeroAndBlankAdjustments(t *testing.T) {
	f := newImportFixture(t, testSettings(), testOrder())
	f.magento.on("inventory.adjust", func(args any) (any, error) {
		return true, nil
	})

	payload := []byte(`{"source":"magento:123","items":[{"sku":"WIDGET-A","qty":"0"},{"sku":"","qty":"3"},{"sku":"WIDGET-B","qty":"1"}]}`)
	if err := f.connector.HandleTask(context.Background(), Task{Kind: TaskDeliveryCommitted, Payload: payload}); err != nil {
		t.Fatalf("delivery_committed task: %v", err)
	}
	if got := f.magento.callCount("inventory.adjust"); got != 1 {
		t.Fatalf("inventory.adjust calls = %d, want 1: zero and blank-sku lines are no-ops", got)
	}
}

func TestDeliveryCommitted_ForeignSourceIgnored(t *testing.T) {
	f := newImportFixture(t, testSettings(), testOrder())

	payload := []byte(`{"source":"shopify:9","items":[{"sku":"WIDGET-A","qty":"2"}]}`)
	if err := f.connector.HandleTask(context.Background(), Task{Kind: TaskDeliveryCommitted, Payload: payload}); err != nil {
		t.Fatalf("foreign delivery: %v", err)
	}
	if f.magento.callCount("inventory.adjust") != 0 {
		t.Fatal("foreign-source deliveries must not adjust stock")
	}
}
