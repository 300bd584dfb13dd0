package history

import (
	"time"

	"github.com/samber/lo"

	"github.com/BadgerOps/mirrorpick/internal/mirror"
)

// Probe outcomes as recorded in probe_results.status.
const (
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusExcluded = "excluded"
)

// Resolution records one mirror resolution
type Resolution struct {
	ID           int64         `json:"-"`
	RunID        string        `json:"run_id"`
	CanonicalURL string        `json:"canonical_url"`
	SelectedURL  string        `json:"selected_url"`
	Fallback     bool          `json:"fallback"`
	Candidates   int           `json:"candidates"`
	Responded    int           `json:"responded"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Probes       []ProbeRecord `json:"probes,omitempty"`
}

// ProbeRecord is one candidate's probe within a resolution
type ProbeRecord struct {
	Position       int    `json:"position"`
	URL            string `json:"url"`
	Status         string `json:"status"` // "success", "failed", "excluded"
	BytesPerSecond int64  `json:"bytes_per_second"`
	BytesRead      int64  `json:"bytes_read"`
	ElapsedMs      int64  `json:"elapsed_ms"`
	StatusCode     int    `json:"status_code,omitempty"`
	Error          string `json:"error,omitempty"`
}

// FromOutcome builds a ledger entry for a finished resolution. candidates is
// the list that was handed to the selector and places excluded entries.
func FromOutcome(canonical string, candidates []string, o *mirror.Outcome, startedAt time.Time, elapsed time.Duration) *Resolution {
	res := &Resolution{
		CanonicalURL: canonical,
		SelectedURL:  o.Selected,
		Fallback:     o.Fallback,
		Candidates:   o.Candidates,
		Responded:    o.Responded(),
		StartedAt:    startedAt,
		Duration:     elapsed,
	}

	for _, r := range o.Results {
		status := StatusFailed
		if r.Succeeded {
			status = StatusSuccess
		}
		res.Probes = append(res.Probes, ProbeRecord{
			Position:       r.Position,
			URL:            r.URL,
			Status:         status,
			BytesPerSecond: r.BytesPerSecond,
			BytesRead:      r.BytesRead,
			ElapsedMs:      r.ElapsedMs,
			StatusCode:     r.StatusCode,
			Error:          r.Error,
		})
	}
	for _, u := range o.Excluded {
		res.Probes = append(res.Probes, ProbeRecord{
			Position: lo.IndexOf(candidates, u),
			URL:      u,
			Status:   StatusExcluded,
		})
	}
	return res
}
