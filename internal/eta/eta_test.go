package eta

import (
	"testing"
	"time"

	"github.com/example/job-dispatch/internal/models"
)

func TestEstimateSecondsFallsBackToDefaultSpeed(t *testing.T) {
	from := models.Coord{Lat: 0, Lon: 0}
	to := models.Coord{Lat: 0, Lon: 0.01} // ~1.1km on the equator
	got := EstimateSeconds(from, to, 0)
	if got <= 0 {
		t.Fatalf("expected positive eta, got %f", got)
	}
	faster := EstimateSeconds(from, to, 20)
	if faster >= got {
		t.Fatalf("higher speed should shrink eta: %f vs %f", faster, got)
	}
}

func TestCacheExpires(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	a := models.Coord{Lat: 1, Lon: 1}
	b := models.Coord{Lat: 2, Lon: 2}
	c.Set(a, b, 42)
	if v, ok := c.Get(a, b); !ok || v != 42 {
		t.Fatalf("expected cached 42, got %f ok=%v", v, ok)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(a, b); ok {
		t.Fatal("expired entry still served")
	}
}
