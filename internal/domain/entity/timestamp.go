package entity

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MillisEpochToTime converts a vendor timestamp given as milliseconds since the
// Unix epoch (decimal string) into a UTC time.
func MillisEpochToTime(ms string) (time.Time, error) {
	ms = strings.TrimSpace(ms)
	if ms == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid millisecond timestamp %q: %w", ms, err)
	}
	return time.UnixMilli(n).UTC(), nil
}

// OptionalMillisEpochToTime is MillisEpochToTime for fields that may be absent.
func OptionalMillisEpochToTime(ms string) (*time.Time, error) {
	if strings.TrimSpace(ms) == "" {
		return nil, nil
	}
	t, err := MillisEpochToTime(ms)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
