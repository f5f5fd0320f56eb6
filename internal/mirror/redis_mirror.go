package mirror

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/job-dispatch/internal/models"
)

// RedisMirror keeps the projection in a redis hash per job and fans out
// updates over pub/sub channels, one per job and one per provider.
type RedisMirror struct {
	client *redis.Client
	prefix string
}

func NewRedisMirror(addr, password, prefix string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisMirror{client: c, prefix: prefix}
}

func (r *RedisMirror) MirrorJob(ctx context.Context, jobID string, e models.MirrorEntry) error {
	if err := r.client.HSet(ctx, r.jobKey(jobID), map[string]interface{}{
		"provider_id": e.ProviderID,
		"customer_id": e.CustomerID,
		"status":      string(e.Status),
		"updated_at":  e.UpdatedAt.Format(time.RFC3339Nano),
	}).Err(); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.jobKey(jobID), b).Err(); err != nil {
		return err
	}
	if e.ProviderID != "" {
		msg, _ := json.Marshal(struct {
			JobID string `json:"job_id"`
			models.MirrorEntry
		}{JobID: jobID, MirrorEntry: e})
		if err := r.client.Publish(ctx, r.providerKey(e.ProviderID), msg).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisMirror) JobEntry(ctx context.Context, jobID string) (models.MirrorEntry, bool) {
	m, err := r.client.HGetAll(ctx, r.jobKey(jobID)).Result()
	if err != nil || len(m) == 0 {
		return models.MirrorEntry{}, false
	}
	e := models.MirrorEntry{
		ProviderID: m["provider_id"],
		CustomerID: m["customer_id"],
		Status:     models.JobStatus(m["status"]),
	}
	if t, err := time.Parse(time.RFC3339Nano, m["updated_at"]); err == nil {
		e.UpdatedAt = t
	}
	return e, true
}

func (r *RedisMirror) SubscribeJob(jobID string, fn func(models.MirrorEntry)) func() {
	ps := r.client.Subscribe(context.Background(), r.jobKey(jobID))
	go func() {
		for msg := range ps.Channel() {
			var e models.MirrorEntry
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				continue
			}
			fn(e)
		}
	}()
	return func() { _ = ps.Close() }
}

func (r *RedisMirror) SubscribeProvider(providerID string, fn func(string, models.MirrorEntry)) func() {
	ps := r.client.Subscribe(context.Background(), r.providerKey(providerID))
	go func() {
		for msg := range ps.Channel() {
			var e struct {
				JobID string `json:"job_id"`
				models.MirrorEntry
			}
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				continue
			}
			fn(e.JobID, e.MirrorEntry)
		}
	}()
	return func() { _ = ps.Close() }
}

func (r *RedisMirror) jobKey(jobID string) string           { return r.prefix + jobID }
func (r *RedisMirror) providerKey(providerID string) string { return r.prefix + "provider:" + providerID }
