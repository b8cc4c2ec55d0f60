// Package csvdump turns `mosquitto_sub -F %j` output into CSV rows.
package csvdump

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var Header = []string{"index", "timestamp", "source", "target", "value", "position"}

var targetPattern = regexp.MustCompile(`/(([0-9A-F]{2}:){5}[0-9A-F]{2})/`)

// mosquitto 2.x prints tst with microseconds and a numeric zone.
var tstLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000000-0700",
	"2006-01-02T15:04:05-0700",
}

type Options struct {
	Source   string
	Position string
	// Location renders timestamps; nil means local time.
	Location *time.Location
}

type record struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	Tst     json.RawMessage `json:"tst"`
}

// Dump copies every record from r to w and returns the number of rows
// written, not counting the header. Records whose topic carries no device
// address are skipped.
func Dump(r io.Reader, w io.Writer, opts Options) (int, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	out := csv.NewWriter(w)
	out.Comma = ';'
	// rows written before a bad line must still reach w
	defer out.Flush()
	if err := out.Write(Header); err != nil {
		return 0, err
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line, idx := 0, 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return idx, fmt.Errorf("line %d: %w", line, err)
		}
		m := targetPattern.FindStringSubmatch(rec.Topic)
		if m == nil {
			continue
		}
		ts, err := parseTst(rec.Tst)
		if err != nil {
			return idx, fmt.Errorf("line %d: %w", line, err)
		}
		row := []string{
			strconv.Itoa(idx),
			ts.In(loc).Format("2006-01-02 15:04:05.999999"),
			opts.Source,
			m[1],
			payloadString(rec.Payload),
			opts.Position,
		}
		if err := out.Write(row); err != nil {
			return idx, err
		}
		idx++
	}
	if err := sc.Err(); err != nil {
		return idx, err
	}
	out.Flush()
	return idx, out.Error()
}

func parseTst(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, fmt.Errorf("record has no tst")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range tstLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised tst %q", s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return time.Time{}, fmt.Errorf("unrecognised tst %s", raw)
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)), nil
}

func payloadString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
