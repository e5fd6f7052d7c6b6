package core

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"time"
)

// legacyTimeLayout is the zone-less ISO form older stores were written with.
const legacyTimeLayout = "2006-01-02T15:04:05.999999999"

// formatRecord renders a credential as a single store line, newline included.
func formatRecord(c Credential) string {
	return c.ID + " " + c.IssuedAt.UTC().Format(time.RFC3339Nano) + "\n"
}

// splitRecord returns the two fields of a line, or ok=false when the line
// does not have exactly two.
func splitRecord(line string) (id, ts string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return "", "", false
	}
	return fields[0], fields[1], true
}

func parseTimestamp(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err == nil {
		return t, nil
	}
	return time.ParseInLocation(legacyTimeLayout, ts, time.Local)
}

// parseRecord parses a fully well-formed line.
func parseRecord(line string) (Credential, bool) {
	id, ts, ok := splitRecord(line)
	if !ok {
		return Credential{}, false
	}
	issuedAt, err := parseTimestamp(ts)
	if err != nil {
		return Credential{}, false
	}
	return Credential{ID: id, IssuedAt: issuedAt}, true
}

// maxRecordLen bounds a single store line. Longer lines are malformed.
const maxRecordLen = 4096

// scanLines calls fn for each line of r until fn returns false. Lines longer
// than maxRecordLen are discarded without reaching fn; the count of those is
// returned alongside any read error.
func scanLines(r io.Reader, fn func(line string) bool) (int, error) {
	br := bufio.NewReaderSize(r, maxRecordLen)
	skipped := 0
	for {
		chunk, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			skipped++
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = br.ReadSlice('\n')
			}
			if err == io.EOF {
				return skipped, nil
			}
			if err != nil {
				return skipped, err
			}
			continue
		}
		if len(chunk) > 0 {
			if !fn(strings.TrimRight(string(chunk), "\r\n")) {
				return skipped, nil
			}
		}
		if err == io.EOF {
			return skipped, nil
		}
		if err != nil {
			return skipped, err
		}
	}
}
