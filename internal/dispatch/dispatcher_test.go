package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/presence"
)

type fakeChannels struct {
	mu        sync.Mutex
	offers    map[string][]models.OfferSummary
	withdrawn map[string][]string
	failFor   map[string]bool
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{
		offers:    make(map[string][]models.OfferSummary),
		withdrawn: make(map[string][]string),
		failFor:   make(map[string]bool),
	}
}

func (f *fakeChannels) SendOffer(providerID string, summary models.OfferSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[providerID] {
		return ErrNoSession
	}
	f.offers[providerID] = append(f.offers[providerID], summary)
	return nil
}

func (f *fakeChannels) SendWithdrawn(providerID, offerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawn[providerID] = append(f.withdrawn[providerID], offerID)
}

func (f *fakeChannels) withdrawnFor(providerID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.withdrawn[providerID]...)
}

func (f *fakeChannels) offersFor(providerID string) []models.OfferSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OfferSummary(nil), f.offers[providerID]...)
}

func testSetup(t *testing.T, window time.Duration, providerIDs ...string) (*Dispatcher, *fakeChannels, *presence.Index) {
	t.Helper()
	ch := newFakeChannels()
	ps := presence.NewIndex(presence.RadiusPredicate(10000))
	d := NewDispatcher(ch, ps, window, slog.Default())
	ps.OnChange(d.HandlePresence)
	for _, id := range providerIDs {
		ps.SetOnline(id, true)
		ps.ReportLocation(models.LocationReport{ProviderID: id, Loc: models.Coord{Lat: 12.97, Lon: 77.59}})
	}
	return d, ch, ps
}

func candidatesOf(ps *presence.Index, ids ...string) []models.ProviderPresence {
	out := make([]models.ProviderPresence, 0, len(ids))
	for _, id := range ids {
		p, _ := ps.Get(id)
		out = append(out, p)
	}
	return out
}

func TestDispatchFirstAcceptWins(t *testing.T) {
	d, ch, ps := testSetup(t, 2*time.Second, "p1", "p2", "p3")
	offer := NewOffer("o1", "j1", "c1", []string{"p1", "p2", "p3"})

	results := make(chan Result, 1)
	go func() {
		results <- d.Dispatch(context.Background(), offer, models.OfferSummary{JobID: "j1"}, candidatesOf(ps, "p1", "p2", "p3"), models.Coord{Lat: 12.97, Lon: 77.59})
	}()

	// wait for fan-out before answering
	require.Eventually(t, func() bool { return len(ch.offersFor("p3")) == 1 }, time.Second, 5*time.Millisecond)

	// p2 and p3 accept at the same instant
	var wg sync.WaitGroup
	for _, p := range []string{"p2", "p3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			d.HandleResponse(Response{OfferID: "o1", ProviderID: id, Accept: true})
		}(p)
	}
	wg.Wait()

	res := <-results
	require.False(t, res.Unfulfilled)
	assert.Contains(t, []string{"p2", "p3"}, res.ProviderID)

	// exactly one accept honored: the other racer saw a withdrawn signal
	loser := "p2"
	if res.ProviderID == "p2" {
		loser = "p3"
	}
	assert.NotEmpty(t, ch.withdrawnFor(loser))
	assert.NotEmpty(t, ch.withdrawnFor("p1"))
	assert.Empty(t, ch.withdrawnFor(res.ProviderID))
}

func TestDispatchAllRejectUnfulfilled(t *testing.T) {
	d, ch, ps := testSetup(t, 5*time.Second, "p1", "p2")
	offer := NewOffer("o1", "j1", "", []string{"p1", "p2"})

	results := make(chan Result, 1)
	go func() {
		results <- d.Dispatch(context.Background(), offer, models.OfferSummary{JobID: "j1"}, candidatesOf(ps, "p1", "p2"), models.Coord{})
	}()
	require.Eventually(t, func() bool { return len(ch.offersFor("p2")) == 1 }, time.Second, 5*time.Millisecond)

	d.HandleResponse(Response{OfferID: "o1", ProviderID: "p1", Accept: false})
	d.HandleResponse(Response{OfferID: "o1", ProviderID: "p2", Accept: false})

	select {
	case res := <-results:
		assert.True(t, res.Unfulfilled)
	case <-time.After(time.Second):
		t.Fatal("dispatch did not settle after all candidates rejected")
	}
}

func TestDispatchTimesOutUnfulfilled(t *testing.T) {
	d, _, ps := testSetup(t, 50*time.Millisecond, "p1")
	offer := NewOffer("o1", "j1", "", []string{"p1"})
	res := d.Dispatch(context.Background(), offer, models.OfferSummary{JobID: "j1"}, candidatesOf(ps, "p1"), models.Coord{})
	assert.True(t, res.Unfulfilled)
}

func TestDispatchNoCandidates(t *testing.T) {
	d, _, _ := testSetup(t, time.Second)
	offer := NewOffer("o1", "j1", "", nil)
	res := d.Dispatch(context.Background(), offer, models.OfferSummary{JobID: "j1"}, nil, models.Coord{})
	assert.True(t, res.Unfulfilled)
}

func TestDispatchOfflineAcceptIgnored(t *testing.T) {
	d, ch, ps := testSetup(t, 2*time.Second, "p1", "p2", "p3")
	offer := NewOffer("o1", "j1", "", []string{"p1", "p2", "p3"})

	results := make(chan Result, 1)
	go func() {
		results <- d.Dispatch(context.Background(), offer, models.OfferSummary{JobID: "j1"}, candidatesOf(ps, "p1", "p2", "p3"), models.Coord{})
	}()
	require.Eventually(t, func() bool { return len(ch.offersFor("p3")) == 1 }, time.Second, 5*time.Millisecond)

	// p1 goes offline mid-offer, then its accept arrives anyway
	ps.SetOnline("p1", false)
	d.HandleResponse(Response{OfferID: "o1", ProviderID: "p1", Accept: true})

	select {
	case res := <-results:
		t.Fatalf("offer settled for ineligible provider: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	// the offer is still resolvable by the remaining candidates
	d.HandleResponse(Response{OfferID: "o1", ProviderID: "p2", Accept: true})
	res := <-results
	require.False(t, res.Unfulfilled)
	assert.Equal(t, "p2", res.ProviderID)
}

func TestDispatchDisconnectIsImplicitReject(t *testing.T) {
	d, ch, ps := testSetup(t, 5*time.Second, "p1", "p2")
	offer := NewOffer("o1", "j1", "", []string{"p1", "p2"})

	results := make(chan Result, 1)
	go func() {
		results <- d.Dispatch(context.Background(), offer, models.OfferSummary{JobID: "j1"}, candidatesOf(ps, "p1", "p2"), models.Coord{})
	}()
	require.Eventually(t, func() bool { return len(ch.offersFor("p2")) == 1 }, time.Second, 5*time.Millisecond)

	d.HandleDisconnect("p1")
	d.HandleDisconnect("p2")

	select {
	case res := <-results:
		assert.True(t, res.Unfulfilled)
	case <-time.After(time.Second):
		t.Fatal("dispatch did not settle after all channels dropped")
	}
}

func TestDispatchLateAcceptGetsWithdrawn(t *testing.T) {
	d, ch, ps := testSetup(t, 50*time.Millisecond, "p1")
	offer := NewOffer("o1", "j1", "", []string{"p1"})
	res := d.Dispatch(context.Background(), offer, models.OfferSummary{JobID: "j1"}, candidatesOf(ps, "p1"), models.Coord{})
	require.True(t, res.Unfulfilled)

	d.HandleResponse(Response{OfferID: "o1", ProviderID: "p1", Accept: true})
	assert.Contains(t, ch.withdrawnFor("p1"), "o1")
}

func TestDispatchUndeliverableChannelCountsAsReject(t *testing.T) {
	d, ch, ps := testSetup(t, 5*time.Second, "p1")
	ch.failFor["p1"] = true
	offer := NewOffer("o1", "j1", "", []string{"p1"})
	res := d.Dispatch(context.Background(), offer, models.OfferSummary{JobID: "j1"}, candidatesOf(ps, "p1"), models.Coord{})
	assert.True(t, res.Unfulfilled)
}

func TestDispatchOfferCarriesETA(t *testing.T) {
	d, ch, ps := testSetup(t, 50*time.Millisecond, "p1")
	d.DefaultSpeedMps = 10
	offer := NewOffer("o1", "j1", "", []string{"p1"})
	_ = d.Dispatch(context.Background(), offer, models.OfferSummary{JobID: "j1"}, candidatesOf(ps, "p1"), models.Coord{Lat: 13.00, Lon: 77.59})
	offers := ch.offersFor("p1")
	require.Len(t, offers, 1)
	assert.Equal(t, "o1", offers[0].OfferID)
	assert.Greater(t, offers[0].ETASeconds, 0.0)
}
