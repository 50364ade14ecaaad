// Package units provides shared constants and validation for rate units.
package units

// Unit constants. The model works internally in events per minute; these
// select the display scale.
const (
	PerMinute = "per_minute"
	PerHour   = "per_hour"
	PerDay    = "per_day"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{PerMinute, PerHour, PerDay}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "per_minute, per_hour, per_day"
}

// ConvertRate converts a rate from events per minute to the target units.
// The inference core stores rates per minute.
func ConvertRate(ratePerMinute float64, targetUnits string) float64 {
	switch targetUnits {
	case PerMinute:
		return ratePerMinute
	case PerHour:
		return ratePerMinute * 60
	case PerDay:
		return ratePerMinute * 1440
	default:
		return ratePerMinute
	}
}
