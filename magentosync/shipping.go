package magentosync

import (
	"fmt"
	"regexp"
	"strings"
)

// ShippingRule is one ordered method-translation rule from the connector
// configuration. Field names the order attribute the rule inspects
// ("shipping_method" or "shipping_description"); Operator is one of
// "=", "!=", "=~".
type ShippingRule struct {
	ShippingMethod string `json:"shipping_method"`
	Field          string `json:"field"`
	Operator       string `json:"operator"`
	Pattern        string `json:"pattern"`
}

// ShippingLine is one shipping line of an inbound order.
type ShippingLine struct {
	Method      string
	Description string
}

// ClassifyShippingMethod resolves the fulfillment shipping method for the
// given shipping lines. Rules are evaluated in their configured order against
// each line in turn; the first matching (line, rule) pair wins. When no rule
// matches, the first line's raw method is the fallback; with no fallback the
// classification fails.
func ClassifyShippingMethod(rules []ShippingRule, lines []ShippingLine) (string, error) {
	fallback := ""
	if len(lines) > 0 {
		fallback = lines[0].Method
	}

	for _, line := range lines {
		for i, rule := range rules {
			if rule.ShippingMethod == "" || rule.Field == "" || rule.Operator == "" || rule.Pattern == "" {
				return "", fmt.Errorf("%w: shipping method rule %d is incomplete", ErrConfiguration, i)
			}

			value, err := shippingFieldValue(line, rule.Field)
			if err != nil {
				return "", err
			}

			matched, err := rule.matches(value)
			if err != nil {
				return "", err
			}
			if matched {
				return rule.ShippingMethod, nil
			}
		}
	}

	if fallback != "" {
		return fallback, nil
	}
	return "", ErrClassification
}

func shippingFieldValue(line ShippingLine, field string) (string, error) {
	switch field {
	case "shipping_method":
		return line.Method, nil
	case "shipping_description":
		return line.Description, nil
	default:
		return "", fmt.Errorf("%w: unknown shipping rule field %q", ErrConfiguration, field)
	}
}

func (r ShippingRule) matches(value string) (bool, error) {
	switch r.Operator {
	case "=~":
		// Anchored, case-insensitive, the same shape the configuration UI
		// renders: /^pattern$/i.
		re, err := regexp.Compile("(?i)^(?:" + r.Pattern + ")$")
		if err != nil {
			return false, fmt.Errorf("%w: invalid shipping rule pattern %q: %v", ErrConfiguration, r.Pattern, err)
		}
		return re.MatchString(value), nil
	case "=":
		return value == stripQuotes(r.Pattern), nil
	case "!=":
		return value != stripQuotes(r.Pattern), nil
	default:
		return false, fmt.Errorf("%w: unknown shipping rule operator %q", ErrConfiguration, r.Operator)
	}
}

func stripQuotes(s string) string {
	return strings.Trim(s, `"'`)
}
