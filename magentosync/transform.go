package magentosync

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// TransformFunc rewrites an order draft before submission. It may change any
// field, mark items or the whole draft as skipped, and return free-form text
// that ends up as an order comment on the commerce side.
type TransformFunc func(ctx context.Context, draft *OrderDraft, order MagentoOrder) (output string, err error)

var (
	transformMu    sync.RWMutex
	transformFuncs = map[string]TransformFunc{}
)

// RegisterTransform makes a transform hook selectable by name through the
// TRANSFORM_HOOK setting. Typically called from an init function of the
// deployment-specific package.
func RegisterTransform(name string, fn TransformFunc) {
	transformMu.Lock()
	defer transformMu.Unlock()
	if _, exists := transformFuncs[name]; exists {
		panic(fmt.Sprintf("transform %q registered twice", name))
	}
	transformFuncs[name] = fn
}

func lookupTransform(name string) (TransformFunc, error) {
	if name == "" {
		return nil, nil
	}
	transformMu.RLock()
	defer transformMu.RUnlock()
	fn, ok := transformFuncs[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transform hook %q (registered: %v)", ErrConfiguration, name, registeredTransforms())
	}
	return fn, nil
}

func registeredTransforms() []string {
	names := make([]string, 0, len(transformFuncs))
	for name := range transformFuncs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyTransform runs the configured hook and validates what it left behind.
// A hook that corrupts the draft fails the import rather than submitting a
// broken order.
func applyTransform(ctx context.Context, fn TransformFunc, draft *OrderDraft, order MagentoOrder) (string, error) {
	output, err := fn(ctx, draft, order)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransform, err)
	}
	if draft.Skip {
		return output, nil
	}
	if err := validateDraft(draft); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransform, err)
	}
	return output, nil
}

func validateDraft(draft *OrderDraft) error {
	if len(draft.Items) == 0 {
		return fmt.Errorf("draft has no items")
	}
	if draft.Address == (DraftAddress{}) {
		return fmt.Errorf("draft has an empty address")
	}
	if draft.Options.OrderRef == "" {
		return fmt.Errorf("draft has empty order_ref")
	}
	if draft.Options.ShippingMethod == "" {
		return fmt.Errorf("draft has empty shipping_method")
	}
	// A hook may skip every item; that abandons the import upstream rather
	// than failing it.
	for i, item := range draft.Items {
		if item.Skip {
			continue
		}
		if item.Sku == "" {
			return fmt.Errorf("draft item %d has empty sku", i)
		}
		if !item.Qty.IsPositive() {
			return fmt.Errorf("draft item %d (%s) has non-positive qty", i, item.Sku)
		}
	}
	return nil
}
