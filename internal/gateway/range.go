package gateway

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// errNoCurrent reports that a range argument was omitted and the session
// has no current article to fall back on (RFC 3977 420).
var errNoCurrent = errors.New("gateway: no current article")

// parseRange parses an OVER/XOVER/HDR/XHDR range argument: "start-end",
// "start-" (open-ended, capped at high), a single "num", or "" (falls back
// to the session's current article number).
func parseRange(arg string, high, current int64) (start, end int64, err error) {
	if arg == "" {
		if current == 0 {
			return 0, 0, errNoCurrent
		}
		return current, current, nil
	}
	if strings.Contains(arg, "-") {
		parts := strings.SplitN(arg, "-", 2)
		start, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid start number")
		}
		if parts[1] == "" {
			return start, high, nil
		}
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid end number")
		}
		return start, end, nil
	}
	start, err = strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid article number")
	}
	return start, start, nil
}

// parseNNTPDateTime parses the "date time [GMT]" argument pair of
// NEWGROUPS/NEWNEWS (RFC 3977 §7.3/§7.4). date is 6 digits (yymmdd) or 8
// digits (yyyymmdd); time is 6 digits (hhmmss). Always interpreted as UTC.
func parseNNTPDateTime(dateArg, timeArg string) (time.Time, error) {
	var layout string
	switch len(dateArg) {
	case 6:
		layout = "060102150405"
	case 8:
		layout = "20060102150405"
	default:
		return time.Time{}, fmt.Errorf("invalid date %q", dateArg)
	}
	if len(timeArg) != 6 {
		return time.Time{}, fmt.Errorf("invalid time %q", timeArg)
	}
	t, err := time.ParseInLocation(layout, dateArg+timeArg, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date/time: %w", err)
	}
	return t, nil
}

// wildmatFilter returns every name in all matching the comma-separated
// wildmat pattern (RFC 3977 §4.2). "*" alone (or an empty pattern) matches
// everything; each comma-separated term may use '*'/'?' glob syntax.
func wildmatFilter(all []string, pattern string) []string {
	if pattern == "" || pattern == "*" {
		return all
	}
	terms := strings.Split(pattern, ",")
	var out []string
	for _, name := range all {
		for _, term := range terms {
			if ok, _ := path.Match(term, name); ok {
				out = append(out, name)
				break
			}
		}
	}
	return out
}
