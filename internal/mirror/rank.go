package mirror

import (
	"sort"

	"github.com/dustin/go-humanize"
)

// rank orders results by throughput descending. Ties keep input order, so
// the earlier candidate (the canonical host first) wins.
func rank(results []ProbeResult) []ProbeResult {
	ranked := make([]ProbeResult, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].BytesPerSecond != ranked[j].BytesPerSecond {
			return ranked[i].BytesPerSecond > ranked[j].BytesPerSecond
		}
		return ranked[i].Position < ranked[j].Position
	})
	return ranked
}

// choose picks the winner among collected results. A best rate of zero is
// treated the same as no results at all: the first candidate is returned.
func choose(candidates []string, results []ProbeResult) (string, bool) {
	ranked := rank(results)
	if len(ranked) == 0 || ranked[0].BytesPerSecond <= 0 {
		return candidates[0], true
	}
	return ranked[0].URL, false
}

// FormatRate renders a byte rate for humans, e.g. "1.2 MiB/s".
func FormatRate(bytesPerSecond int64) string {
	if bytesPerSecond < 0 {
		bytesPerSecond = 0
	}
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}
