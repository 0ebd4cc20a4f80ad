package domain

import (
	"fmt"
	"time"
)

// Timeframe is a candle interval using exchange notation ("1m", "1h", "1d").
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe3m  Timeframe = "3m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe2h  Timeframe = "2h"
	Timeframe4h  Timeframe = "4h"
	Timeframe6h  Timeframe = "6h"
	Timeframe8h  Timeframe = "8h"
	Timeframe12h Timeframe = "12h"
	Timeframe1d  Timeframe = "1d"
	Timeframe3d  Timeframe = "3d"
	Timeframe1w  Timeframe = "1w"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe3m:  3 * time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe2h:  2 * time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe6h:  6 * time.Hour,
	Timeframe8h:  8 * time.Hour,
	Timeframe12h: 12 * time.Hour,
	Timeframe1d:  24 * time.Hour,
	Timeframe3d:  72 * time.Hour,
	Timeframe1w:  7 * 24 * time.Hour,
}

// ParseTimeframe validates s as a supported interval.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("%w: unsupported timeframe %q", ErrInvalidConfiguration, s)
	}
	return tf, nil
}

// Duration returns the length of one candle, or zero for an unknown
// timeframe.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

func (tf Timeframe) String() string { return string(tf) }
