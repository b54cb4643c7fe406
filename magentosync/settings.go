package magentosync

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shipstream/magento-sync/utils"
)

// Settings is the connector's configuration surface. It is read-only from the
// core's perspective; the service populates it from the environment.
type Settings struct {
	// Commerce platform RPC endpoint and credentials.
	APIURL      string `validate:"required,url"`
	APILogin    string `validate:"required"`
	APIPassword string `validate:"required"`

	// Order statuses eligible for automatic fulfillment. Empty disables
	// automatic import; values may be a single status or a comma list and
	// are normalized before use ("Ready To Ship" -> "ready_to_ship").
	AutoFulfillStatuses string

	// Optional manual sync lower bound, YYYY-MM-DD.
	SyncOrdersSince string

	// Name of a registered order-transform hook; empty disables the hook.
	TransformHook string

	// Ordered shipping-method rule list, JSON-encoded.
	ShippingMethodConfig string

	// Verbose disables truncation of transform-hook output comments.
	Verbose bool

	// bcrypt hash guarding the callback and webhook endpoints.
	CallbackKeyHash string
}

var validate = validator.New()

// LoadSettings builds Settings from the environment.
func LoadSettings() (Settings, error) {
	s := Settings{
		APIURL:               utils.EnvString("MAGENTO_API_URL", ""),
		APILogin:             utils.EnvString("MAGENTO_API_LOGIN", ""),
		APIPassword:          utils.EnvString("MAGENTO_API_PASSWORD", ""),
		AutoFulfillStatuses:  utils.EnvString("AUTO_FULFILL_STATUSES", ""),
		SyncOrdersSince:      utils.EnvString("SYNC_ORDERS_SINCE", ""),
		TransformHook:        utils.EnvString("ORDER_TRANSFORM_HOOK", ""),
		ShippingMethodConfig: utils.EnvString("SHIPPING_METHOD_CONFIG", ""),
		Verbose:              utils.EnvBool("SYNC_VERBOSE", false),
		CallbackKeyHash:      utils.EnvString("CALLBACK_KEY_HASH", ""),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, utils.ProcessValidationErrors(err))
	}
	return nil
}

// HasConnectionConfig reports whether the commerce connection parameters are
// all present.
func (s Settings) HasConnectionConfig() bool {
	return s.APIURL != "" && s.APILogin != "" && s.APIPassword != ""
}

// NormalizeStatuses splits the configured auto-fulfill value into the
// normalized status set. "Ready To Ship, Complete" becomes
// ["ready_to_ship", "complete"]. An empty result means automatic import is
// disabled.
func NormalizeStatuses(raw string) []string {
	parts := utils.SplitAndTrim(raw)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.ToLower(strings.ReplaceAll(p, " ", "_")))
	}
	return out
}

// ShippingRules decodes the configured rule list. Invalid JSON is a
// configuration error; structural validation of individual rules happens at
// classification time.
func (s Settings) ShippingRules() ([]ShippingRule, error) {
	raw := strings.TrimSpace(s.ShippingMethodConfig)
	if raw == "" {
		return nil, nil
	}
	var rules []ShippingRule
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, fmt.Errorf("%w: invalid shipping method config: %v", ErrConfiguration, err)
	}
	return rules, nil
}
