package dispatch

import (
	"sync"
	"time"
)

// Offer is the transient record of a single dispatch attempt. Resolution is
// an explicit compare-and-set on resolvedBy: an offer never has more than
// one resolver no matter how responses interleave.
type Offer struct {
	ID             string
	JobID          string
	ConsultationID string
	CreatedAt      time.Time

	mu         sync.Mutex
	candidates map[string]struct{}
	resolvedBy string
	resolvedAt time.Time
}

func NewOffer(id, jobID, consultationID string, candidates []string) *Offer {
	set := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		set[c] = struct{}{}
	}
	return &Offer{
		ID:             id,
		JobID:          jobID,
		ConsultationID: consultationID,
		CreatedAt:      time.Now(),
		candidates:     set,
	}
}

// Claim attempts to resolve the offer for providerID. It succeeds only if
// the offer is unresolved and the provider is still a candidate.
func (o *Offer) Claim(providerID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.resolvedBy != "" {
		return false
	}
	if _, ok := o.candidates[providerID]; !ok {
		return false
	}
	o.resolvedBy = providerID
	o.resolvedAt = time.Now()
	return true
}

// Withdraw removes a candidate (explicit reject, disconnect, or going
// offline). It reports whether the candidate set is now empty on an
// unresolved offer, i.e. the offer is exhausted.
func (o *Offer) Withdraw(providerID string) (exhausted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.candidates, providerID)
	return o.resolvedBy == "" && len(o.candidates) == 0
}

// ResolvedBy returns the winning provider id, or "" while unresolved.
func (o *Offer) ResolvedBy() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resolvedBy
}

// Losers returns the candidates still attached, minus the resolver. These
// are the recipients of the withdrawn signal once the offer settles.
func (o *Offer) Losers() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.candidates))
	for c := range o.candidates {
		if c == o.resolvedBy {
			continue
		}
		out = append(out, c)
	}
	return out
}

// IsCandidate reports whether providerID may still answer this offer.
func (o *Offer) IsCandidate(providerID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.candidates[providerID]
	return ok
}
