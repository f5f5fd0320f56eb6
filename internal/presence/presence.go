package presence

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/job-dispatch/internal/models"
)

// Event is broadcast whenever a provider toggles availability so the
// dispatcher can recompute eligible recipients without a store scan.
type Event struct {
	ProviderID string
	Online     bool
}

// Store is the minimal interface required by the dispatcher and handlers.
type Store interface {
	SetOnline(providerID string, online bool)
	ReportLocation(rep models.LocationReport)
	Get(providerID string) (models.ProviderPresence, bool)
	Eligible(addr models.CustomerAddress, limit int) []models.ProviderPresence
	OnChange(fn func(Event))
}

// Predicate decides whether a provider may receive offers for a customer
// address. Geographic scoping is deliberately pluggable; RadiusPredicate is
// the default, PincodePredicate matches on postal area instead.
type Predicate func(p models.ProviderPresence, addr models.CustomerAddress) bool

// RadiusPredicate admits providers within radiusM meters of the customer.
func RadiusPredicate(radiusM float64) Predicate {
	return func(p models.ProviderPresence, addr models.CustomerAddress) bool {
		return Haversine(p.Location.Lat, p.Location.Lon, addr.Lat, addr.Lon) <= radiusM
	}
}

// PincodePredicate admits providers whose last reported pincode matches the
// customer's.
func PincodePredicate() Predicate {
	return func(p models.ProviderPresence, addr models.CustomerAddress) bool {
		return p.Pincode != "" && p.Pincode == addr.Pincode
	}
}

// Index is the in-memory presence store used in tests and single-node runs.
type Index struct {
	mu        sync.RWMutex
	providers map[string]models.ProviderPresence
	match     Predicate

	listenerMu sync.RWMutex
	listeners  []func(Event)
}

func NewIndex(match Predicate) *Index {
	if match == nil {
		match = RadiusPredicate(5000)
	}
	return &Index{providers: make(map[string]models.ProviderPresence), match: match}
}

func (g *Index) SetOnline(providerID string, online bool) {
	g.mu.Lock()
	p := g.providers[providerID]
	p.ProviderID = providerID
	p.Online = online
	p.CapturedAt = time.Now()
	g.providers[providerID] = p
	g.mu.Unlock()
	g.emit(Event{ProviderID: providerID, Online: online})
}

// ReportLocation records coordinates for a provider. Reports for offline
// providers are dropped; presence is destroyed logically by going offline.
func (g *Index) ReportLocation(rep models.LocationReport) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.providers[rep.ProviderID]
	if !ok || !p.Online {
		return
	}
	p.Location = rep.Loc
	if rep.CapturedAt.IsZero() {
		p.CapturedAt = time.Now()
	} else {
		p.CapturedAt = rep.CapturedAt
	}
	g.providers[rep.ProviderID] = p
}

func (g *Index) Get(providerID string) (models.ProviderPresence, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.providers[providerID]
	return p, ok
}

// Eligible returns up to limit online providers admitted by the matching
// predicate, nearest first.
func (g *Index) Eligible(addr models.CustomerAddress, limit int) []models.ProviderPresence {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		p    models.ProviderPresence
		dist float64
	}
	arr := make([]pair, 0, len(g.providers))
	for _, p := range g.providers {
		if !p.Online || !g.match(p, addr) {
			continue
		}
		dist := Haversine(addr.Lat, addr.Lon, p.Location.Lat, p.Location.Lon)
		arr = append(arr, pair{p, dist})
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]models.ProviderPresence, 0, len(arr))
	for _, a := range arr {
		out = append(out, a.p)
	}
	return out
}

func (g *Index) OnChange(fn func(Event)) {
	g.listenerMu.Lock()
	defer g.listenerMu.Unlock()
	g.listeners = append(g.listeners, fn)
}

func (g *Index) emit(ev Event) {
	g.listenerMu.RLock()
	defer g.listenerMu.RUnlock()
	for _, fn := range g.listeners {
		fn(ev)
	}
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
