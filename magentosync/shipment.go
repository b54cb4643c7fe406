package magentosync

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const sourcePrefix = "magento:"

var orderSourcePattern = regexp.MustCompile(`^magento:(\d+)$`)

// FormatShipmentExternalID encodes a commerce shipment id, with a marker for
// whether tracking numbers were already pushed, into the opaque external id
// stored on the fulfillment shipment.
func FormatShipmentExternalID(shipmentID string, trackingAdded bool) string {
	id := sourcePrefix + shipmentID
	if trackingAdded {
		id += ":t"
	}
	return id
}

// ParseShipmentExternalID decodes an external id produced by
// FormatShipmentExternalID. Unrecognized values return ok=false.
func ParseShipmentExternalID(externalID string) (shipmentID string, trackingAdded bool, ok bool) {
	rest, found := strings.CutPrefix(externalID, sourcePrefix)
	if !found || rest == "" {
		return "", false, false
	}
	if id, cut := strings.CutSuffix(rest, ":t"); cut {
		if id == "" {
			return "", false, false
		}
		return id, true, true
	}
	return rest, false, true
}

// ParseOrderSource extracts the commerce order entity id from a fulfillment
// order's source field ("magento:123"). Orders from other sources return
// ok=false and are not this connector's business.
func ParseOrderSource(source string) (orderID int64, ok bool) {
	m := orderSourcePattern.FindStringSubmatch(source)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// OrderSource renders the source field for an order imported from the
// commerce platform.
func OrderSource(orderID int64) string {
	return fmt.Sprintf("%s%d", sourcePrefix, orderID)
}
