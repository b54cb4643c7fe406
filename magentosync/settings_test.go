package magentosync

import (
	"errors"
	"reflect"
	"testing"
)

func TestNormalizeStatuses(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"processing", []string{"processing"}},
		{"Processing, Ready To Ship", []string{"processing", "ready_to_ship"}},
		{" Complete ,,  ", []string{"complete"}},
	}
	for _, tc := range cases {
		got := NormalizeStatuses(tc.in)
		if len(got) == 0 && len(tc.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("NormalizeStatuses(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSettingsValidate(t *testing.T) {
	s := testSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}

	s.APIURL = "not a url"
	if err := s.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("got %v, want ErrConfiguration", err)
	}

	s = testSettings()
	s.APIPassword = ""
	if err := s.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("got %v, want ErrConfiguration", err)
	}
}

func TestShippingRulesDecoding(t *testing.T) {
	s := testSettings()
	s.ShippingMethodConfig = `[{"shipping_method":"ground","field":"shipping_method","operator":"=","pattern":"flatrate_flatrate"}]`
	rules, err := s.ShippingRules()
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].ShippingMethod != "ground" {
		t.Fatalf("rules = %+v", rules)
	}

	s.ShippingMethodConfig = `{"not":"a list"`
	if _, err := s.ShippingRules(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("got %v, want ErrConfiguration", err)
	}

	s.ShippingMethodConfig = "  "
	rules, err = s.ShippingRules()
	if err != nil || rules != nil {
		t.Fatalf("blank config = %v, %v; want nil, nil", rules, err)
	}
}
