package recognition

import (
	"strconv"
	"strings"
)

// Range bounds the accepted bib numbers, both ends inclusive.
type Range struct {
	Min int
	Max int
}

// DefaultRange accepts 1..99999.
var DefaultRange = Range{Min: 1, Max: 99999}

// Contains reports whether n is an acceptable bib.
func (r Range) Contains(n int) bool {
	return n >= r.Min && n <= r.Max
}

// noneSentinels are the "nothing detected" answers the prompts ask for.
var noneSentinels = map[string]struct{}{
	"nenhum": {},
	"none":   {},
	"n/a":    {},
	"-":      {},
}

// ParseBib extracts a bib number from one line of provider output. Leading
// digits are read the way a lenient integer parser would; anything else,
// or a number outside r, is "none".
func ParseBib(line string, r Range) (int, bool) {
	line = strings.Trim(strings.TrimSpace(line), "*`\"'")
	if line == "" {
		return 0, false
	}
	if _, ok := noneSentinels[strings.ToLower(line)]; ok {
		return 0, false
	}

	end := 0
	for end < len(line) && line[end] >= '0' && line[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(line[:end])
	if err != nil || !r.Contains(n) {
		return 0, false
	}
	return n, true
}

// ParseLines maps a multi-line answer onto n images. Line i belongs to image
// i; blank lines are dropped first. Missing lines are "none".
func ParseLines(text string, n int, r Range, confidence float64) []Result {
	lines := make([]string, 0, n)
	for _, l := range strings.Split(strings.TrimSpace(text), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}

	results := make([]Result, n)
	for i := range results {
		if i >= len(lines) {
			continue
		}
		results[i].Raw = strings.TrimSpace(lines[i])
		if bib, ok := ParseBib(lines[i], r); ok {
			results[i].Found = true
			results[i].Bib = bib
			results[i].Confidence = confidence
		}
	}
	return results
}
