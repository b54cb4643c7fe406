package magentosync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shipstream/magento-sync/config"
	"github.com/shipstream/magento-sync/utils"
)

// Connector ties one commerce store to the fulfillment platform. All sync
// operations hang off it; nothing here is a package-level singleton so tests
// can build as many as they want.
type Connector struct {
	settings    Settings
	logger      *logrus.Logger
	state       StateStore
	fulfillment RPCCaller
	queue       TaskQueue
	lock        *ImportLock
	transform   TransformFunc

	mu      sync.Mutex
	magento RPCCaller

	journal *Journal
	now     func() time.Time
}

// NewConnector wires a connector from validated settings. The commerce
// client is built lazily on first use so a connector with incomplete
// connection settings can still serve configuration endpoints.
func NewConnector(settings Settings, state StateStore, fulfillment RPCCaller, queue TaskQueue) (*Connector, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	transform, err := lookupTransform(settings.TransformHook)
	if err != nil {
		return nil, err
	}
	logger := config.GetLogger()
	return &Connector{
		settings:    settings,
		logger:      logger,
		state:       state,
		fulfillment: fulfillment,
		queue:       queue,
		lock:        NewImportLock(state, logger),
		transform:   transform,
		journal:     NewJournal(),
		now:         time.Now,
	}, nil
}

// Settings returns the connector's configuration.
func (c *Connector) Settings() Settings {
	return c.settings
}

// SetMagentoClient overrides the lazily built commerce client. Test seam.
func (c *Connector) SetMagentoClient(client RPCCaller) {
	c.mu.Lock()
	c.magento = client
	c.mu.Unlock()
}

func (c *Connector) magentoAPI(ctx context.Context, method string, args any) (json.RawMessage, error) {
	client, err := c.magentoClient()
	if err != nil {
		return nil, err
	}
	return client.Call(ctx, method, args)
}

func (c *Connector) magentoClient() (RPCCaller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.magento != nil {
		return c.magento, nil
	}
	client, err := NewClient(c.settings.APIURL, c.settings.APILogin, c.settings.APIPassword)
	if err != nil {
		return nil, err
	}
	c.magento = client
	return client, nil
}

// Diagnostics reports connection health in human-readable lines, one per
// subsystem, without failing on the first broken one.
func (c *Connector) Diagnostics(ctx context.Context) []string {
	var lines []string

	if !c.settings.HasConnectionConfig() {
		lines = append(lines, "Magento API: not configured")
	} else {
		raw, err := c.magentoAPI(ctx, "magento.info", nil)
		if err != nil {
			lines = append(lines, fmt.Sprintf("Magento API: ERROR: %v", err))
		} else {
			var info struct {
				MagentoVersion string `json:"magento_version"`
				ModuleVersion  string `json:"module_version"`
			}
			if err := json.Unmarshal(raw, &info); err != nil {
				lines = append(lines, "Magento API: connected (version unknown)")
			} else {
				lines = append(lines, fmt.Sprintf("Magento API: connected, Magento %s, module %s", info.MagentoVersion, info.ModuleVersion))
			}
		}
	}

	if cursor, err := c.state.GetState(ctx, stateOrderLastSyncAt); err != nil {
		lines = append(lines, fmt.Sprintf("Order cursor: ERROR: %v", err))
	} else if cursor == nil {
		lines = append(lines, "Order cursor: never synced")
	} else {
		lines = append(lines, fmt.Sprintf("Order cursor: %s", cursor.Value))
	}

	if locked, err := c.lock.IsLocked(ctx); err != nil {
		lines = append(lines, fmt.Sprintf("Import lock: ERROR: %v", err))
	} else if locked {
		lines = append(lines, "Import lock: held")
	} else {
		lines = append(lines, "Import lock: free")
	}

	if registered, err := c.state.GetState(ctx, stateFulfillmentRegistered); err == nil && registered != nil && registered.Value == "1" {
		lines = append(lines, "Fulfillment service: registered")
	} else {
		lines = append(lines, "Fulfillment service: not registered")
	}

	return lines
}

// RegisterFulfillmentService announces this connector's callback endpoint to
// the fulfillment platform and remembers that it did.
func (c *Connector) RegisterFulfillmentService(ctx context.Context, callbackURL string) error {
	if callbackURL == "" {
		return fmt.Errorf("%w: callback url is required", ErrValidation)
	}
	_, err := c.fulfillment.Call(ctx, "shipstream.set_config", map[string]any{
		"callback_url": callbackURL,
	})
	if err != nil {
		return err
	}
	return c.state.SetState(ctx, stateFulfillmentRegistered, "1")
}

// UnregisterFulfillmentService removes the callback registration.
func (c *Connector) UnregisterFulfillmentService(ctx context.Context) error {
	_, err := c.fulfillment.Call(ctx, "shipstream.set_config", map[string]any{
		"callback_url": nil,
	})
	if err != nil {
		return err
	}
	return c.state.DeleteState(ctx, stateFulfillmentRegistered)
}

// addOrderComment posts a status-history comment to the commerce order.
// Comment failures never fail the operation that produced them.
func (c *Connector) addOrderComment(ctx context.Context, orderRef, status, comment string) {
	_, err := c.magentoAPI(ctx, "order.addComment", []any{orderRef, status, comment})
	if err != nil {
		config.LogError(c.logger, "magentosync", "addOrderComment", "order "+orderRef, map[string]any{
			"status": status,
		}, err)
	}
}

// logFields builds the base structured-log fields for one unit of work,
// picking up the correlation id and order ref when the context carries them.
func logFields(ctx context.Context, extra map[string]any) map[string]any {
	fields := map[string]any{"module": "magentosync"}
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		fields["correlation_id"] = id
	}
	if ref, ok := utils.GetOrderRefFromContext(ctx); ok {
		fields["order_ref"] = ref
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}
