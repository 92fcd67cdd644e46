package notification

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Timestamp accepts RFC3339 strings, zone-less local date-times and epoch
// milliseconds, and always encodes as RFC3339Nano.
type Timestamp struct {
	time.Time
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}

	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}

		parsed, err := parseTimestamp(value)
		if err != nil {
			return err
		}

		t.Time = parsed
		return nil
	}

	var millis json.Number
	if err := json.Unmarshal(data, &millis); err != nil {
		return errors.New("timestamp must be a string or epoch milliseconds")
	}

	value, err := millis.Int64()
	if err != nil {
		floatValue, floatErr := millis.Float64()
		if floatErr != nil {
			return errors.New("invalid epoch milliseconds: " + millis.String())
		}
		value = int64(floatValue)
	}

	t.Time = time.UnixMilli(value).UTC()
	return nil
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	if parsed, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return parsed, nil
	}

	for _, layout := range localLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return parsed, nil
		}
	}

	return time.Time{}, errors.New("unsupported timestamp format: " + value)
}
