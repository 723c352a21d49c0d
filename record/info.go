package record

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	startTimestampLabel = "Start timestamp: "
	endTimestampLabel   = "End timestamp: "
)

// WriteSessionStart writes the mandatory first line of a session metadata resource.
func WriteSessionStart(w io.Writer, ts int64) error {
	_, err := fmt.Fprintf(w, "%s%d\n", startTimestampLabel, ts)
	return err
}

// WriteSessionEnd writes the closing line of a session metadata resource.
func WriteSessionEnd(w io.Writer, ts int64) error {
	_, err := fmt.Fprintf(w, "%s%d\n", endTimestampLabel, ts)
	return err
}

// ReadSessionInfo parses a session metadata resource. The start line is
// mandatory, the end line is only present for cleanly closed sessions.
func ReadSessionInfo(r io.Reader) (SessionInfo, error) {
	info := SessionInfo{}
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return info, err
		}
		return info, errors.Wrap(ErrMalformed, "line 1: missing start timestamp")
	}
	ts, err := parseLabeled(scanner.Text(), startTimestampLabel)
	if err != nil {
		return info, errors.Wrap(err, "line 1")
	}
	info.Start = ts
	if !scanner.Scan() {
		return info, scanner.Err()
	}
	if line := scanner.Text(); line != "" {
		ts, err = parseLabeled(line, endTimestampLabel)
		if err != nil {
			return info, errors.Wrap(err, "line 2")
		}
		info.End = ts
		info.HasEnd = true
	}
	return info, scanner.Err()
}

func parseLabeled(line, label string) (int64, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, label) {
		return 0, errors.Wrapf(ErrMalformed, "expected %q, got %q", label, line)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(line[len(label):]), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformed, "invalid %s: %v", strings.TrimSuffix(label, ": "), err)
	}
	return v, nil
}
