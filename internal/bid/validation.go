package bid

import "github.com/roach88/bpflow/internal/event"

// Outcome is the check of a single bid against a candidate payload.
type Outcome struct {
	Bid   Bid   `json:"-"`
	Check Check `json:"check"`
}

// ValidationResult explains whether a payload would be accepted for an
// event. It is diagnostic only; scheduling never reads it.
type ValidationResult struct {
	Valid bool `json:"valid"`
	// Waits are the passive bids; at least one must accept.
	Waits []Outcome `json:"waits,omitempty"`
	// Validations must all accept.
	Validations []Outcome `json:"validations,omitempty"`
	// Blocks are inverted: an accepting block makes the payload invalid.
	Blocks []Outcome `json:"blocks,omitempty"`
}

// Messages returns the messages of every failing outcome.
func (r ValidationResult) Messages() []string {
	var out []string
	anyWait := false
	for _, o := range r.Waits {
		if o.Check.Valid {
			anyWait = true
		}
	}
	if !anyWait {
		for _, o := range r.Waits {
			if o.Check.Message != "" {
				out = append(out, o.Check.Message)
			}
		}
	}
	for _, o := range r.Validations {
		if !o.Check.Valid && o.Check.Message != "" {
			out = append(out, o.Check.Message)
		}
	}
	for _, o := range r.Blocks {
		if !o.Check.Valid && o.Check.Message != "" {
			out = append(out, o.Check.Message)
		}
	}
	return out
}

// Validate checks payload against every bid relevant to a dispatch of id.
// The result is valid when some wait accepts, every validate bid accepts
// and no block accepts.
func (ix *Index) Validate(id event.ID, payload any) ValidationResult {
	var res ValidationResult

	waitOK := false
	for _, b := range ix.Matching(KindAskFor, id) {
		c := b.Guard.Check(payload)
		waitOK = waitOK || c.Valid
		res.Waits = append(res.Waits, Outcome{Bid: b, Check: c})
	}

	validOK := true
	for _, b := range ix.Covering(KindValidate, id) {
		c := b.Guard.Check(payload)
		validOK = validOK && c.Valid
		res.Validations = append(res.Validations, Outcome{Bid: b, Check: c})
	}

	blockOK := true
	for _, b := range ix.Covering(KindBlock, id) {
		c := b.Guard.Not().Check(payload)
		if !c.Valid && c.Message == "" {
			c.Message = "blocked"
		}
		blockOK = blockOK && c.Valid
		res.Blocks = append(res.Blocks, Outcome{Bid: b, Check: c})
	}

	res.Valid = waitOK && validOK && blockOK
	return res
}

// ValidationFailed reports whether a covering validate bid rejects payload.
func (ix *Index) ValidationFailed(id event.ID, payload any) bool {
	for _, b := range ix.Covering(KindValidate, id) {
		if !b.Accepts(payload) {
			return true
		}
	}
	return false
}
