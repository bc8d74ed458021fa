package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ratesim/internal/model"
)

// RequestFields is a parsed but unvalidated request line.
type RequestFields struct {
	Timestamp string
	ClientID  string
	Category  string
	Extras    map[string]string
	Raw       string
}

var ErrMissingClient = errors.New("missing client id")

// Normalize validates fields into a Request. An empty timestamp yields the
// zero time, which the engine replaces with its clock. now anchors bare
// clock times.
func Normalize(fields RequestFields, loc *time.Location, now time.Time) (model.Request, error) {
	if loc == nil {
		loc = time.Local
	}
	client := strings.TrimSpace(fields.ClientID)
	if client == "" {
		return model.Request{}, ErrMissingClient
	}
	category := model.CategoryRead
	if strings.TrimSpace(fields.Category) != "" {
		c, err := model.ParseCategory(fields.Category)
		if err != nil {
			return model.Request{}, err
		}
		category = c
	}
	var ts time.Time
	if strings.TrimSpace(fields.Timestamp) != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc, now)
		if err != nil {
			return model.Request{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.In(loc)
	}
	return model.Request{ClientID: client, Category: category, Timestamp: ts}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"15:04:05",
	"15:04",
}

// ParseTimestamp accepts unix seconds or milliseconds, the usual ISO forms
// and a bare clock time, which is placed on now's date in loc.
func ParseTimestamp(value string, loc *time.Location, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if layout == "15:04:05" || layout == "15:04" {
			if t, err := time.ParseInLocation(layout, value, loc); err == nil {
				day := now.In(loc)
				return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
