package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/job-dispatch/internal/eta"
	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/observability"
	"github.com/example/job-dispatch/internal/presence"
)

// Channels is the outbound half of the registry the dispatcher needs.
type Channels interface {
	SendOffer(providerID string, summary models.OfferSummary) error
	SendWithdrawn(providerID, offerID string)
}

// Result is the settled outcome of one dispatch attempt.
type Result struct {
	ProviderID  string
	Provider    models.ProviderPresence
	Unfulfilled bool
}

// Dispatcher fans an offer out to every eligible provider channel and
// resolves the accept race. Exactly one accept is ever honored per offer.
type Dispatcher struct {
	Channels        Channels
	Presence        presence.Store
	ETAClient       eta.Client // optional OSRM client
	ETACache        *eta.Cache // optional ETA cache
	DefaultSpeedMps float64
	ResponseWindow  time.Duration
	Logger          *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingOffer
}

type pendingOffer struct {
	offer     *Offer
	winner    chan models.ProviderPresence
	exhausted chan struct{}
	once      sync.Once
}

func (po *pendingOffer) exhaust() {
	po.once.Do(func() { close(po.exhausted) })
}

func NewDispatcher(ch Channels, ps presence.Store, window time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		Channels:       ch,
		Presence:       ps,
		ResponseWindow: window,
		Logger:         logger,
		pending:        make(map[string]*pendingOffer),
	}
}

// Dispatch pushes the offer to every candidate simultaneously and blocks
// until the first accept claims it, all candidates drop out, the response
// window elapses, or ctx is done. Losers get a silent withdrawn signal.
// Unfulfilled offers are not retried here; that is the originator's call.
func (d *Dispatcher) Dispatch(ctx context.Context, offer *Offer, summary models.OfferSummary, candidates []models.ProviderPresence, target models.Coord) Result {
	po := &pendingOffer{
		offer:     offer,
		winner:    make(chan models.ProviderPresence, 1),
		exhausted: make(chan struct{}),
	}
	d.mu.Lock()
	d.pending[offer.ID] = po
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, offer.ID)
		d.mu.Unlock()
	}()

	if len(candidates) == 0 {
		observability.OffersUnfulfilled.Inc()
		return Result{Unfulfilled: true}
	}

	for _, c := range candidates {
		s := summary
		s.OfferID = offer.ID
		s.ETASeconds = d.estimate(c.Location, target)
		if err := d.Channels.SendOffer(c.ProviderID, s); err != nil {
			// undeliverable channel counts as an implicit reject
			d.Logger.Warn("offer delivery failed", "offer_id", offer.ID, "provider_id", c.ProviderID, "error", err)
			if offer.Withdraw(c.ProviderID) {
				po.exhaust()
			}
		}
	}
	observability.OffersDispatched.Inc()

	timer := time.NewTimer(d.ResponseWindow)
	defer timer.Stop()

	select {
	case p := <-po.winner:
		for _, l := range offer.Losers() {
			d.Channels.SendWithdrawn(l, offer.ID)
		}
		observability.OffersAccepted.Inc()
		return Result{ProviderID: p.ProviderID, Provider: p}
	case <-po.exhausted:
	case <-timer.C:
	case <-ctx.Done():
	}

	// an accept may have claimed the offer in the same instant the window
	// closed; a successful claim is always honored
	select {
	case p := <-po.winner:
		for _, l := range offer.Losers() {
			d.Channels.SendWithdrawn(l, offer.ID)
		}
		observability.OffersAccepted.Inc()
		return Result{ProviderID: p.ProviderID, Provider: p}
	default:
	}

	for _, l := range offer.Losers() {
		d.Channels.SendWithdrawn(l, offer.ID)
	}
	observability.OffersUnfulfilled.Inc()
	return Result{Unfulfilled: true}
}

// HandleResponse processes one accept/reject from a provider channel.
// Install it via Registry.OnResponse.
func (d *Dispatcher) HandleResponse(resp Response) {
	d.mu.Lock()
	po, ok := d.pending[resp.OfferID]
	d.mu.Unlock()
	if !ok {
		// offer already settled or unknown; a late accept just learns
		// the offer is gone
		if resp.Accept {
			d.Channels.SendWithdrawn(resp.ProviderID, resp.OfferID)
		}
		return
	}

	if !resp.Accept {
		if po.offer.Withdraw(resp.ProviderID) {
			po.exhaust()
		}
		return
	}

	// an accept from a provider who has since gone offline is no longer
	// eligible; honor the in-flight race only while presence holds
	p, known := d.Presence.Get(resp.ProviderID)
	if !known || !p.Online {
		if po.offer.Withdraw(resp.ProviderID) {
			po.exhaust()
		}
		return
	}

	if po.offer.Claim(resp.ProviderID) {
		po.winner <- p
		return
	}
	d.Channels.SendWithdrawn(resp.ProviderID, resp.OfferID)
}

// HandleDisconnect treats a dropped provider channel as an implicit reject
// on every offer still waiting on that provider.
func (d *Dispatcher) HandleDisconnect(providerID string) {
	d.mu.Lock()
	pending := make([]*pendingOffer, 0, len(d.pending))
	for _, po := range d.pending {
		pending = append(pending, po)
	}
	d.mu.Unlock()
	for _, po := range pending {
		if po.offer.IsCandidate(providerID) && po.offer.Withdraw(providerID) {
			po.exhaust()
		}
	}
}

// HandlePresence removes providers from in-flight offers the moment they go
// offline. Install it via the presence store's OnChange.
func (d *Dispatcher) HandlePresence(ev presence.Event) {
	if ev.Online {
		return
	}
	d.HandleDisconnect(ev.ProviderID)
}

func (d *Dispatcher) estimate(from, to models.Coord) float64 {
	if d.ETACache != nil {
		if v, ok := d.ETACache.Get(from, to); ok {
			return v
		}
	}
	if d.ETAClient != nil {
		if v, err := d.ETAClient.EstimateSeconds(from, to); err == nil {
			if d.ETACache != nil {
				d.ETACache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, to, d.DefaultSpeedMps)
}
