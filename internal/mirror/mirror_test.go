package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/example/job-dispatch/internal/models"
)

func entry(status models.JobStatus) models.MirrorEntry {
	return models.MirrorEntry{
		ProviderID: "p1",
		CustomerID: "c1",
		Status:     status,
		UpdatedAt:  time.Now(),
	}
}

func TestMemoryMirrorJobEntry(t *testing.T) {
	m := NewMemoryMirror()
	ctx := context.Background()

	if _, ok := m.JobEntry(ctx, "j1"); ok {
		t.Fatal("entry exists before any write")
	}
	if err := m.MirrorJob(ctx, "j1", entry(models.StatusAccepted)); err != nil {
		t.Fatal(err)
	}
	e, ok := m.JobEntry(ctx, "j1")
	if !ok || e.Status != models.StatusAccepted {
		t.Fatalf("unexpected entry: %+v ok=%v", e, ok)
	}
}

func TestMemoryMirrorJobSubscription(t *testing.T) {
	m := NewMemoryMirror()
	ctx := context.Background()

	var got []models.JobStatus
	cancel := m.SubscribeJob("j1", func(e models.MirrorEntry) { got = append(got, e.Status) })

	_ = m.MirrorJob(ctx, "j1", entry(models.StatusAccepted))
	_ = m.MirrorJob(ctx, "j2", entry(models.StatusCancelled)) // other job, not delivered
	_ = m.MirrorJob(ctx, "j1", entry(models.StatusInProgress))

	cancel()
	_ = m.MirrorJob(ctx, "j1", entry(models.StatusCompleted))

	if len(got) != 2 || got[0] != models.StatusAccepted || got[1] != models.StatusInProgress {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestMemoryMirrorProviderSubscription(t *testing.T) {
	m := NewMemoryMirror()
	ctx := context.Background()

	type rec struct {
		jobID  string
		status models.JobStatus
	}
	var got []rec
	cancel := m.SubscribeProvider("p1", func(jobID string, e models.MirrorEntry) {
		got = append(got, rec{jobID, e.Status})
	})
	defer cancel()

	_ = m.MirrorJob(ctx, "j1", entry(models.StatusAccepted))
	other := entry(models.StatusAccepted)
	other.ProviderID = "p2"
	_ = m.MirrorJob(ctx, "j9", other)

	if len(got) != 1 || got[0].jobID != "j1" {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}
