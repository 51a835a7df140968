package muc

import "time"

// HistoryRequest bounds how much room history a joining occupant wants
// replayed. Nil fields mean "no bound from the client"; the server default
// still applies on top.
type HistoryRequest struct {
	MaxChars   *int
	MaxStanzas *int
	Seconds    *int
	Since      *time.Time
}

// Apply filters an oldest-first transcript down to the requested bounds.
func (h HistoryRequest) Apply(messages []Message, now time.Time) []Message {
	out := messages

	since := h.Since
	if h.Seconds != nil {
		cutoff := now.Add(-time.Duration(*h.Seconds) * time.Second)
		if since == nil || cutoff.After(*since) {
			since = &cutoff
		}
	}
	if since != nil {
		kept := out[:0:0]
		for _, m := range out {
			if !m.SentAt.Before(*since) {
				kept = append(kept, m)
			}
		}
		out = kept
	}

	if h.MaxStanzas != nil && len(out) > *h.MaxStanzas {
		out = out[len(out)-*h.MaxStanzas:]
	}

	if h.MaxChars != nil {
		total := 0
		start := len(out)
		for i := len(out) - 1; i >= 0; i-- {
			total += len(out[i].Body)
			if total > *h.MaxChars {
				break
			}
			start = i
		}
		out = out[start:]
	}
	return out
}
