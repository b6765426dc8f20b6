package epi

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"epireport/internal/model"
)

// GatewayTimestampLayout is the yyyyMMddHHmmss layout used by SMS gateways.
const GatewayTimestampLayout = "20060102150405"

const earthRadiusKm = 6371.0

var ErrTimestamp = errors.New("invalid gateway timestamp")

// ParseGatewayTimestamp parses a gateway timestamp as UTC.
func ParseGatewayTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if len(value) != len(GatewayTimestampLayout) || !isNumeric(value) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrTimestamp, value)
	}
	ts, err := time.ParseInLocation(GatewayTimestampLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrTimestamp, value, err)
	}
	return ts, nil
}

// EpiDate returns the epidemiological week and year of t. Weeks start on
// Sunday and week 1 is the week that contains January 4th.
func EpiDate(t time.Time) (week int, year int) {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	year = day.Year()
	start := firstEpiWeekStart(year)
	if next := firstEpiWeekStart(year + 1); !day.Before(next) {
		year++
		start = next
	} else if day.Before(start) {
		year--
		start = firstEpiWeekStart(year)
	}
	week = int(day.Sub(start).Hours()/24)/7 + 1
	return week, year
}

func firstEpiWeekStart(year int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	return jan4.AddDate(0, 0, -int(jan4.Weekday()))
}

// DistanceKm is the great-circle distance between two points.
func DistanceKm(a, b model.Coordinates) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLon := toRadians(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}
