package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/job-dispatch/internal/models"
)

func card(id, provider, customer string) *models.JobCard {
	return &models.JobCard{
		ID:          id,
		ProviderID:  provider,
		CustomerID:  customer,
		ServiceType: "plumber",
		Status:      models.StatusPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	j := card("j1", "p1", "c1")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	got.Status = models.StatusCancelled
	// mutating the returned copy must not leak into the store
	again, _ := s.GetJob(ctx, "j1")
	if again.Status != models.StatusPending {
		t.Fatal("store handed out a shared pointer")
	}

	j.Status = models.StatusAccepted
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	cur, _ := s.GetJob(ctx, "j1")
	if cur.Status != models.StatusAccepted {
		t.Fatalf("update not applied: %s", cur.Status)
	}

	if err := s.UpdateJob(ctx, card("nope", "", "")); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryStoreListsOrderedByCreation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	early := card("j1", "p1", "c1")
	early.CreatedAt = time.Now().Add(-time.Hour)
	late := card("j2", "p1", "c2")
	_ = s.CreateJob(ctx, late)
	_ = s.CreateJob(ctx, early)
	_ = s.CreateJob(ctx, card("j3", "p2", "c1"))

	byProvider, err := s.ListByProvider(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byProvider) != 2 || byProvider[0].ID != "j1" {
		t.Fatalf("unexpected provider listing: %v", byProvider)
	}

	byCustomer, err := s.ListByCustomer(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byCustomer) != 2 {
		t.Fatalf("unexpected customer listing: %v", byCustomer)
	}
}
