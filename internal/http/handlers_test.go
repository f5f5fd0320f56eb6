package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/job-dispatch/internal/dispatch"
	"github.com/example/job-dispatch/internal/lifecycle"
	"github.com/example/job-dispatch/internal/mirror"
	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/notify"
	"github.com/example/job-dispatch/internal/presence"
	"github.com/example/job-dispatch/internal/storage"
)

func testServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	logger := slog.Default()
	ps := presence.NewIndex(presence.RadiusPredicate(10000))
	reg := dispatch.NewRegistry(logger)
	store := storage.NewMemoryStore()
	d := dispatch.NewDispatcher(reg, ps, 50*time.Millisecond, logger)
	ctrl := lifecycle.NewController(store, mirror.NewMemoryMirror(), &notify.LogNotifier{Logger: logger}, logger)
	ctrl.Dispatcher = d
	ctrl.Channels = reg
	ctrl.Presence = ps
	ctrl.Directory = lifecycle.NewMemoryDirectory()
	reg.OnResponse(d.HandleResponse)
	ps.OnChange(d.HandlePresence)
	return NewServer(logger, ps, reg, ctrl, nil), store
}

func doJSON(t *testing.T, s *Server, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set(callerHeader, caller)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestBookingWithoutIdentityRejected(t *testing.T) {
	s, _ := testServer(t)
	w := doJSON(t, s, "POST", "/api/v1/bookings", "", models.BookingRequest{ServiceType: "plumber"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBookingWithNoProvidersIsUnfulfilled(t *testing.T) {
	s, store := testServer(t)
	req := models.BookingRequest{
		CustomerID:   "cust-1",
		CustomerName: "Ravi",
		ServiceType:  "plumber",
	}
	w := doJSON(t, s, "POST", "/api/v1/bookings", "", req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var out lifecycle.DispatchOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.True(t, out.Unfulfilled)

	job, err := store.GetJob(context.Background(), out.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, job.Status)
}

func TestJobNotFound(t *testing.T) {
	s, _ := testServer(t)
	w := doJSON(t, s, "GET", "/api/v1/jobs/nope", "cust-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelOverHTTP(t *testing.T) {
	s, store := testServer(t)
	req := models.BookingRequest{CustomerID: "cust-1", ServiceType: "plumber"}
	w := doJSON(t, s, "POST", "/api/v1/bookings", "", req)
	require.Equal(t, http.StatusAccepted, w.Code)
	var out lifecycle.DispatchOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))

	// too-short reason is rejected before any write
	w = doJSON(t, s, "POST", "/api/v1/jobs/"+out.Job.ID+"/cancel", "cust-1", map[string]string{"reason": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, "POST", "/api/v1/jobs/"+out.Job.ID+"/cancel", "cust-1", map[string]string{"reason": "Address not reachable"})
	require.Equal(t, http.StatusOK, w.Code)

	job, err := store.GetJob(context.Background(), out.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, job.Status)

	// cancelling a terminal job reports the current state
	w = doJSON(t, s, "POST", "/api/v1/jobs/"+out.Job.ID+"/cancel", "cust-1", map[string]string{"reason": "Address not reachable"})
	assert.Equal(t, http.StatusConflict, w.Code)
	var body struct {
		CurrentState string `json:"current_state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "cancelled", body.CurrentState)
}

func TestStartRequiresIdentity(t *testing.T) {
	s, _ := testServer(t)
	w := doJSON(t, s, "POST", "/api/v1/jobs/j1/start", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthz(t *testing.T) {
	s, _ := testServer(t)
	w := doJSON(t, s, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
