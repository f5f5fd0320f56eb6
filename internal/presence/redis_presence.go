package presence

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/job-dispatch/internal/models"
)

// RedisPresence implements Store on Redis GEO commands plus a hash of
// per-provider metadata. Change notifications stay process-local; offer
// delivery is single-instance.
type RedisPresence struct {
	client  *redis.Client
	key     string
	radiusM float64
	ctx     context.Context

	listenerMu sync.RWMutex
	listeners  []func(Event)
}

func NewRedisPresence(addr, password, key string, radiusM float64) *RedisPresence {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisPresence{client: c, key: key, radiusM: radiusM, ctx: context.Background()}
}

func (r *RedisPresence) SetOnline(providerID string, online bool) {
	_ = r.client.HSet(r.ctx, metaKey(providerID), map[string]interface{}{
		"online":  strconv.FormatBool(online),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
	if !online {
		_, _ = r.client.ZRem(r.ctx, r.key, providerID).Result()
	}
	r.emit(Event{ProviderID: providerID, Online: online})
}

func (r *RedisPresence) ReportLocation(rep models.LocationReport) {
	p, ok := r.Get(rep.ProviderID)
	if !ok || !p.Online {
		return
	}
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{
		Longitude: rep.Loc.Lon, Latitude: rep.Loc.Lat, Name: rep.ProviderID,
	}).Result()
	_ = r.client.HSet(r.ctx, metaKey(rep.ProviderID), map[string]interface{}{
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisPresence) Get(providerID string) (models.ProviderPresence, bool) {
	m, err := r.client.HGetAll(r.ctx, metaKey(providerID)).Result()
	if err != nil || len(m) == 0 {
		return models.ProviderPresence{}, false
	}
	p := models.ProviderPresence{ProviderID: providerID}
	p.Online = m["online"] == "true"
	if v, ok := m["updated"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			p.CapturedAt = t
		}
	}
	if pos, err := r.client.GeoPos(r.ctx, r.key, providerID).Result(); err == nil && len(pos) == 1 && pos[0] != nil {
		p.Location = models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}
	}
	return p, true
}

func (r *RedisPresence) Eligible(addr models.CustomerAddress, limit int) []models.ProviderPresence {
	res, err := r.client.GeoRadius(r.ctx, r.key, addr.Lon, addr.Lat, &redis.GeoRadiusQuery{
		Radius: r.radiusM, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.ProviderPresence, 0, len(res))
	for _, g := range res {
		p := models.ProviderPresence{ProviderID: g.Name}
		p.Location.Lat = g.Latitude
		p.Location.Lon = g.Longitude
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			p.Online = m["online"] == "true"
		}
		if !p.Online {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (r *RedisPresence) OnChange(fn func(Event)) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *RedisPresence) emit(ev Event) {
	r.listenerMu.RLock()
	defer r.listenerMu.RUnlock()
	for _, fn := range r.listeners {
		fn(ev)
	}
}

func metaKey(id string) string { return "provider:meta:" + id }
