package bluez

import (
	"math"
	"strconv"
	"strings"
)

// IntValue coerces a D-Bus property value to int. BlueZ reports RSSI as
// int16 but other properties use the full range of integer widths.
func IntValue(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int16:
		return int(val), true
	case int32:
		return int(val), true
	case int64:
		return int(val), true
	case uint8:
		return int(val), true
	case uint16:
		return int(val), true
	case uint32:
		return int(val), true
	case uint64:
		if val > math.MaxInt32 {
			return 0, false
		}
		return int(val), true
	case float64:
		return int(math.Round(val)), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n, true
		}
	}
	return 0, false
}
