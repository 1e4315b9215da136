package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeUnits is the CF units string used when writing time axes.
const DefaultTimeUnits = "days since 1800-01-01 00:00:00"

// cdoDayFormat is the absolute time axis written by CDO.
const cdoDayFormat = "day as %Y%m%d.%f"

// TimeAxis decodes numeric time coordinates using a CF units attribute.
//
// Supported forms are "<unit> since <reference>" with unit one of seconds,
// minutes, hours, days, months or years, and CDO's "day as %Y%m%d.%f".
// Only the standard (proleptic Gregorian) calendar is handled.
type TimeAxis struct {
	absolute bool
	unit     string
	ref      time.Time
}

// ParseTimeUnits parses a CF time units string.
func ParseTimeUnits(units string) (TimeAxis, error) {
	units = strings.TrimSpace(units)
	if strings.EqualFold(units, cdoDayFormat) {
		return TimeAxis{absolute: true}, nil
	}
	parts := strings.SplitN(units, " since ", 2)
	if len(parts) != 2 {
		return TimeAxis{}, fmt.Errorf("unsupported time units %q", units)
	}
	unit, err := canonicalUnit(parts[0])
	if err != nil {
		return TimeAxis{}, err
	}
	ref, err := parseReference(parts[1])
	if err != nil {
		return TimeAxis{}, fmt.Errorf("time units %q: %w", units, err)
	}
	return TimeAxis{unit: unit, ref: ref}, nil
}

func canonicalUnit(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "second", "seconds", "sec", "secs", "s":
		return "seconds", nil
	case "minute", "minutes", "min", "mins":
		return "minutes", nil
	case "hour", "hours", "hr", "hrs", "h":
		return "hours", nil
	case "day", "days", "d":
		return "days", nil
	case "month", "months":
		return "months", nil
	case "year", "years":
		return "years", nil
	default:
		return "", fmt.Errorf("unsupported time unit %q", s)
	}
}

// parseReference parses "Y-M-D[ h:m:s[.f]][ zone]" and "Y-M-DTh:m:s[Z]".
// Zone designators other than UTC are ignored.
func parseReference(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.Replace(s, "T", " ", 1))
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return time.Time{}, fmt.Errorf("empty reference time")
	}

	ymd := strings.Split(fields[0], "-")
	if len(ymd) != 3 {
		return time.Time{}, fmt.Errorf("invalid reference date %q", fields[0])
	}
	var date [3]int
	for i, p := range ymd {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid reference date %q: %w", fields[0], err)
		}
		date[i] = n
	}

	var hour, minute int
	var sec float64
	if len(fields) > 1 {
		clock := strings.TrimSuffix(fields[1], "Z")
		hms := strings.Split(clock, ":")
		var err error
		if hour, err = strconv.Atoi(hms[0]); err != nil {
			return time.Time{}, fmt.Errorf("invalid reference clock %q: %w", fields[1], err)
		}
		if len(hms) > 1 {
			if minute, err = strconv.Atoi(hms[1]); err != nil {
				return time.Time{}, fmt.Errorf("invalid reference clock %q: %w", fields[1], err)
			}
		}
		if len(hms) > 2 {
			if sec, err = strconv.ParseFloat(hms[2], 64); err != nil {
				return time.Time{}, fmt.Errorf("invalid reference clock %q: %w", fields[1], err)
			}
		}
	}

	whole := math.Floor(sec)
	return time.Date(date[0], time.Month(date[1]), date[2], hour, minute, int(whole),
		int((sec-whole)*1e9), time.UTC), nil
}

// Decode converts one numeric coordinate to a UTC time.
func (a TimeAxis) Decode(v float64) time.Time {
	if a.absolute {
		day := math.Floor(v)
		ymd := int(day)
		base := time.Date(ymd/10000, time.Month(ymd/100%100), ymd%100, 0, 0, 0, 0, time.UTC)
		return base.Add(fraction(v-day, 24*time.Hour))
	}
	switch a.unit {
	case "months", "years":
		whole := math.Floor(v)
		months := int(whole)
		if a.unit == "years" {
			months *= 12
		}
		t := a.ref.AddDate(0, months, 0)
		// Fractional months are taken as 30-day months.
		return t.Add(fraction(v-whole, 30*24*time.Hour))
	default:
		return a.ref.Add(fraction(v, a.step()))
	}
}

// DecodeAll converts a coordinate array.
func (a TimeAxis) DecodeAll(vs []float64) []time.Time {
	out := make([]time.Time, len(vs))
	for i, v := range vs {
		out[i] = a.Decode(v)
	}
	return out
}

// Encode converts t back to a coordinate. Month and year units are not
// supported for encoding.
func (a TimeAxis) Encode(t time.Time) (float64, error) {
	if a.absolute {
		t = t.UTC()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		ymd := float64(t.Year()*10000 + int(t.Month())*100 + t.Day())
		return ymd + t.Sub(day).Hours()/24, nil
	}
	switch a.unit {
	case "months", "years":
		return 0, fmt.Errorf("cannot encode times in %s", a.unit)
	default:
		return float64(t.Sub(a.ref)) / float64(a.step()), nil
	}
}

func (a TimeAxis) step() time.Duration {
	switch a.unit {
	case "seconds":
		return time.Second
	case "minutes":
		return time.Minute
	case "hours":
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// fraction scales unit by f, rounded to the nearest second.
func fraction(f float64, unit time.Duration) time.Duration {
	return time.Duration(f * float64(unit)).Round(time.Second)
}
