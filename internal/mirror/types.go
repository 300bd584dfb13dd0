package mirror

// ProbeResult holds the outcome of one throughput probe against one candidate.
// A failed probe keeps its slot with BytesPerSecond 0 and Succeeded false.
type ProbeResult struct {
	URL            string `json:"url"`
	Position       int    `json:"position"`
	BytesPerSecond int64  `json:"bytes_per_second"`
	BytesRead      int64  `json:"bytes_read"`
	ElapsedMs      int64  `json:"elapsed_ms"`
	StatusCode     int    `json:"status_code,omitempty"`
	Succeeded      bool   `json:"succeeded"`
	Error          string `json:"error,omitempty"`
}

// Outcome is the result of one resolution: the chosen candidate plus every
// probe result that was collected before its ceiling.
type Outcome struct {
	Selected   string        `json:"selected"`
	Fallback   bool          `json:"fallback"`
	Candidates int           `json:"candidates"`
	Results    []ProbeResult `json:"results"`
	// Excluded lists candidates whose probe had not reported by its ceiling.
	Excluded []string `json:"excluded,omitempty"`
}

// Responded returns how many probes reported a result, failed or not.
func (o *Outcome) Responded() int {
	return len(o.Results)
}

// Best returns the collected result for the selected candidate, if any.
func (o *Outcome) Best() (ProbeResult, bool) {
	for _, r := range o.Results {
		if r.URL == o.Selected && r.Succeeded {
			return r, true
		}
	}
	return ProbeResult{}, false
}
