package timeutil

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type designator struct {
	c    byte
	unit time.Duration
}

var (
	dateDesignators = []designator{{'W', time.Hour * 24 * 7}, {'D', time.Hour * 24}}
	timeDesignators = []designator{{'H', time.Hour}, {'M', time.Minute}, {'S', time.Second}}
)

// ParseISODuration reads the ISO-8601 durations that video APIs return, such
// as PT4M13S, P1DT2H, P0D (used for live broadcasts), or PT1.5S. Years and
// months have no fixed length and are rejected.
func ParseISODuration(s string) (time.Duration, error) {
	rest := strings.TrimSpace(s)

	var sign time.Duration = 1
	if strings.HasPrefix(rest, "-") {
		sign = -1
		rest = rest[1:]
	}

	if !strings.HasPrefix(rest, "P") {
		return 0, fmt.Errorf("timeutil.ParseISODuration: %q has no P designator", s)
	}
	rest = rest[1:]

	datePart, timePart, hasTime := strings.Cut(rest, "T")
	if datePart == "" && (!hasTime || timePart == "") {
		return 0, fmt.Errorf("timeutil.ParseISODuration: %q has no components", s)
	}

	total, err := parseComponents(datePart, dateDesignators)
	if err != nil {
		return 0, fmt.Errorf("timeutil.ParseISODuration: %q: %w", s, err)
	}

	if hasTime {
		if timePart == "" {
			return 0, fmt.Errorf("timeutil.ParseISODuration: %q has an empty time part", s)
		}

		d, err := parseComponents(timePart, timeDesignators)
		if err != nil {
			return 0, fmt.Errorf("timeutil.ParseISODuration: %q: %w", s, err)
		}

		total += d
	}

	return sign * total, nil
}

// parseComponents reads number+designator pairs, which must appear in the
// same order as designators with none repeated. Only seconds may carry a
// fraction.
func parseComponents(s string, designators []designator) (time.Duration, error) {
	var total time.Duration

	next := 0

	for s != "" {
		i := 0
		for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
			i++
		}

		if i == 0 || i == len(s) {
			return 0, fmt.Errorf("malformed component %q", s)
		}

		c := s[i]

		j := next
		for j < len(designators) && designators[j].c != c {
			j++
		}
		if j == len(designators) {
			return 0, fmt.Errorf("unexpected designator %q", c)
		}
		next = j + 1

		f, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("could not parse %q component: %w", c, err)
		}

		if c != 'S' && f != float64(int64(f)) {
			return 0, fmt.Errorf("%q component can not be fractional", c)
		}

		total += time.Duration(math.Round(f * float64(designators[j].unit)))
		s = s[i+1:]
	}

	return total, nil
}
