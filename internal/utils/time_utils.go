package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/Reenniizz/StartupMatch-sub003/internal/logger"
)

// ParseStringTime converts duration strings from the configuration file
// ("10s", "5m", "2h", "7d") into a time.Duration. Invalid input returns 0.
func ParseStringTime(timeString string) time.Duration {
	timeString = strings.ToLower(timeString)
	if cutString, _, found := strings.Cut(timeString, "s"); found {
		number, err := strconv.Atoi(cutString)
		if err != nil {
			logger.ErrorF("Error parsing time string: %s", err.Error())
			return 0
		}
		return time.Duration(number) * time.Second
	}
	if cutString, _, found := strings.Cut(timeString, "m"); found {
		number, err := strconv.Atoi(cutString)
		if err != nil {
			logger.ErrorF("Error parsing time string: %s", err.Error())
			return 0
		}
		return time.Duration(number) * time.Minute
	}
	if cutString, _, found := strings.Cut(timeString, "h"); found {
		number, err := strconv.Atoi(cutString)
		if err != nil {
			logger.ErrorF("Error parsing time string: %s", err.Error())
			return 0
		}
		return time.Duration(number) * time.Hour
	}
	if cutString, _, found := strings.Cut(timeString, "d"); found {
		number, err := strconv.Atoi(cutString)
		if err != nil {
			logger.ErrorF("Error parsing time string: %s", err.Error())
			return 0
		}
		return time.Duration(number) * time.Hour * 24
	}
	logger.ErrorF("invalid time format: %s", timeString)
	return 0
}

// ParseStringTimeOr returns the parsed duration or fallback when the string
// is empty or malformed.
func ParseStringTimeOr(timeString string, fallback time.Duration) time.Duration {
	if timeString == "" {
		return fallback
	}
	if d := ParseStringTime(timeString); d > 0 {
		return d
	}
	return fallback
}

// UnixMillis returns t as unix milliseconds, the timestamp unit used on the
// wire.
func UnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FormatClock renders a wire timestamp for display in the given location.
// Conversion is purely location-based; no fixed offsets are applied.
func FormatClock(millis int64, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(millis).In(loc).Format("15:04")
}
