package envelope

import (
	"bytes"
	"encoding/json"
	"time"
)

// isoLayouts are the ISO-8601 shapes accepted on decode. Values without an
// offset are read as UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Timestamp is an ISO-8601 time as sent on the wire. Decoding never fails:
// the original text is kept and Time is zero when it cannot be parsed.
type Timestamp struct {
	raw string
	t   time.Time
}

// At returns a Timestamp for t.
func At(t time.Time) Timestamp {
	return Timestamp{t: t}
}

// Time returns the parsed instant, or the zero time.
func (ts Timestamp) Time() time.Time { return ts.t }

// IsZero reports whether no instant could be read.
func (ts Timestamp) IsZero() bool { return ts.t.IsZero() }

// String returns the wire text.
func (ts Timestamp) String() string {
	if ts.raw != "" || ts.t.IsZero() {
		return ts.raw
	}
	return ts.t.UTC().Format(time.RFC3339Nano)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.raw == "" && ts.t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.String())
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	*ts = Timestamp{}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		ts.raw = string(b)
		return nil
	}
	ts.raw = s
	ts.t = parseISO8601(s)
	return nil
}

func parseISO8601(s string) time.Time {
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}
