package magentosync

import (
	"errors"
	"testing"
)

func TestClassifyShippingMethod_FirstMatchWins(t *testing.T) {
	rules := []ShippingRule{
		{ShippingMethod: "expedited", Field: "shipping_description", Operator: "=~", Pattern: ".*(second|2nd) day.*"},
		{ShippingMethod: "ground", Field: "shipping_method", Operator: "=", Pattern: "flatrate_flatrate"},
		{ShippingMethod: "ground", Field: "shipping_method", Operator: "!=", Pattern: "pickup_pickup"},
	}

	cases := []struct {
		name  string
		lines []ShippingLine
		want  string
	}{
		{
			name:  "regex on description beats later literal",
			lines: []ShippingLine{{Method: "flatrate_flatrate", Description: "UPS Second Day Air"}},
			want:  "expedited",
		},
		{
			name:  "regex is case insensitive",
			lines: []ShippingLine{{Method: "ups_02", Description: "ups 2ND DAY air"}},
			want:  "expedited",
		},
		{
			name:  "literal equality",
			lines: []ShippingLine{{Method: "flatrate_flatrate", Description: "Flat Rate"}},
			want:  "ground",
		},
		{
			name:  "negation catches everything else",
			lines: []ShippingLine{{Method: "freeshipping_freeshipping", Description: "Free"}},
			want:  "ground",
		},
	}
	for _, tc := range cases {
		got, err := ClassifyShippingMethod(rules, tc.lines)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestClassifyShippingMethod_RuleOrderBeatsSpecificity(t *testing.T) {
	rules := []ShippingRule{
		{ShippingMethod: "M1", Field: "shipping_description", Operator: "=", Pattern: "Ground"},
		{ShippingMethod: "M2", Field: "shipping_description", Operator: "=~", Pattern: "Ground|Express"},
	}
	got, err := ClassifyShippingMethod(rules, []ShippingLine{{Method: "x", Description: "Ground"}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "M1" {
		t.Fatalf("got %q, want the earlier rule M1", got)
	}
}

func TestClassifyShippingMethod_RegexMustMatchWholeValue(t *testing.T) {
	rules := []ShippingRule{
		{ShippingMethod: "expedited", Field: "shipping_method", Operator: "=~", Pattern: "ups_0[12]"},
	}
	lines := []ShippingLine{{Method: "xups_02x", Description: ""}}

	got, err := ClassifyShippingMethod(rules, lines)
	if err != nil {
		t.Fatal(err)
	}
	// Anchored pattern does not match, so the raw method falls through.
	if got != "xups_02x" {
		t.Fatalf("got %q, want fallback xups_02x", got)
	}
}

func TestClassifyShippingMethod_FallbackToRawMethod(t *testing.T) {
	got, err := ClassifyShippingMethod(nil, []ShippingLine{{Method: "custom_carrier", Description: "Whatever"}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "custom_carrier" {
		t.Fatalf("got %q, want custom_carrier", got)
	}
}

func TestClassifyShippingMethod_QuoteStrippedLiterals(t *testing.T) {
	rules := []ShippingRule{
		{ShippingMethod: "ground", Field: "shipping_method", Operator: "=", Pattern: `"flatrate_flatrate"`},
	}
	got, err := ClassifyShippingMethod(rules, []ShippingLine{{Method: "flatrate_flatrate"}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "ground" {
		t.Fatalf("got %q, want ground", got)
	}
}

func TestClassifyShippingMethod_Errors(t *testing.T) {
	t.Run("no lines and no rules", func(t *testing.T) {
		_, err := ClassifyShippingMethod(nil, nil)
		if !errors.Is(err, ErrClassification) {
			t.Fatalf("got %v, want ErrClassification", err)
		}
	})

	t.Run("incomplete rule", func(t *testing.T) {
		rules := []ShippingRule{{ShippingMethod: "ground", Field: "shipping_method"}}
		_, err := ClassifyShippingMethod(rules, []ShippingLine{{Method: "x"}})
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("got %v, want ErrConfiguration", err)
		}
	})

	t.Run("bad regexp", func(t *testing.T) {
		rules := []ShippingRule{{ShippingMethod: "ground", Field: "shipping_method", Operator: "=~", Pattern: "("}}
		_, err := ClassifyShippingMethod(rules, []ShippingLine{{Method: "x"}})
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("got %v, want ErrConfiguration", err)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		rules := []ShippingRule{{ShippingMethod: "ground", Field: "carrier", Operator: "=", Pattern: "x"}}
		_, err := ClassifyShippingMethod(rules, []ShippingLine{{Method: "x"}})
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("got %v, want ErrConfiguration", err)
		}
	})
}
