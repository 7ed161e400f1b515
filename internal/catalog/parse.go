package catalog

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var leadingInt = regexp.MustCompile(`^\s*(\d+)`)

// parseLine extracts a service from one markdown line. Table rows use the
// first two non-empty cells; other lines split on the last colon.
func parseLine(raw string) (Service, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return Service{}, false
	}

	// table row: "| ... |"
	if strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") {
		cols := strings.Split(strings.Trim(line, "|"), "|")
		cleaned := make([]string, 0, len(cols))
		for _, c := range cols {
			if cell := strings.TrimSpace(c); cell != "" {
				cleaned = append(cleaned, cell)
			}
		}
		if len(cleaned) < 2 || isSeparator(cleaned) {
			return Service{}, false
		}
		d, ok := parseDuration(cleaned[1])
		if !ok {
			return Service{}, false // header row
		}
		return Service{Name: cleaned[0], Duration: d}, true
	}

	line = strings.TrimLeft(line, "-*• ")
	i := strings.LastIndex(line, ":")
	if i <= 0 {
		return Service{}, false
	}
	name := strings.TrimSpace(line[:i])
	d, ok := parseDuration(line[i+1:])
	if name == "" || !ok {
		return Service{}, false
	}
	return Service{Name: name, Duration: d}, true
}

func isSeparator(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, ":- ") != "" {
			return false
		}
	}
	return true
}

// parseDuration accepts Go durations ("1h30m") or a leading number of
// minutes ("45", "45 min", "45min").
func parseDuration(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, true
	}
	m := leadingInt.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Minute, true
}
