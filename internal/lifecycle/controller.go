package lifecycle

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/job-dispatch/internal/dispatch"
	"github.com/example/job-dispatch/internal/mirror"
	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/notify"
	"github.com/example/job-dispatch/internal/observability"
	"github.com/example/job-dispatch/internal/payments"
	"github.com/example/job-dispatch/internal/presence"
	"github.com/example/job-dispatch/internal/storage"
)

// ProviderProfile is the directory record for a provider. Provider CRUD is
// an upstream concern; the controller only reads it at offer resolution.
type ProviderProfile struct {
	ID      string
	Name    string
	Address models.ProviderAddress
}

// ProviderDirectory resolves provider ids to profiles.
type ProviderDirectory interface {
	Profile(ctx context.Context, providerID string) (ProviderProfile, error)
}

// OfferDispatcher is the slice of the dispatcher the controller drives.
type OfferDispatcher interface {
	Dispatch(ctx context.Context, offer *dispatch.Offer, summary models.OfferSummary, candidates []models.ProviderPresence, target models.Coord) dispatch.Result
}

// ChannelEvents is the slice of the channel registry the controller pushes
// lifecycle events through.
type ChannelEvents interface {
	SendConfirmed(providerID string, job *models.JobCard)
	SendServiceCompleted(ev dispatch.ServiceCompletedEvent)
}

// DispatchOutcome is returned to the booking originator after fan-out
// settles. On an unfulfilled offer the job card stays pending; retrying is
// the originator's decision.
type DispatchOutcome struct {
	Job         *models.JobCard `json:"job"`
	Unfulfilled bool            `json:"unfulfilled"`
}

// Controller owns every JobCard mutation. Transitions are serialized per
// job; the durable store is written first and the mirror, notifier, channel
// events, and payments all follow best-effort.
type Controller struct {
	Store      storage.JobStore
	Mirror     mirror.Mirror
	Notifier   notify.Notifier
	Dispatcher OfferDispatcher
	Channels   ChannelEvents
	Presence   presence.Store
	Directory  ProviderDirectory
	Payments   payments.Gateway // optional
	Logger     *slog.Logger

	CancelReasonMinLen int
	CandidateMax       int
	HoldAmount         int64 // callout-fee hold in minor units, 0 disables
	HoldCurrency       string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	intentsMu sync.Mutex
	intents   map[string]string // jobID -> payment intent id
}

func NewController(store storage.JobStore, mir mirror.Mirror, notifier notify.Notifier, logger *slog.Logger) *Controller {
	return &Controller{
		Store:              store,
		Mirror:             mir,
		Notifier:           notifier,
		Logger:             logger,
		CancelReasonMinLen: 10,
		CandidateMax:       8,
		locks:              make(map[string]*sync.Mutex),
		intents:            make(map[string]string),
	}
}

// DispatchBooking materializes a pending job card for the booking, fans the
// offer out to eligible online providers, and on the first accept advances
// the card to accepted with the winner's details filled in.
func (c *Controller) DispatchBooking(ctx context.Context, req models.BookingRequest) (DispatchOutcome, error) {
	if req.CustomerID == "" {
		return DispatchOutcome{}, ErrNotAuthenticated
	}
	if req.ServiceType == "" {
		return DispatchOutcome{}, &ValidationError{Msg: "service_type is required"}
	}

	now := time.Now()
	job := &models.JobCard{
		ID:                   uuid.NewString(),
		CustomerID:           req.CustomerID,
		CustomerName:         req.CustomerName,
		CustomerPhone:        req.CustomerPhone,
		CustomerAddress:      req.CustomerAddress,
		ServiceType:          req.ServiceType,
		Problem:              req.Problem,
		QuestionnaireAnswers: req.QuestionnaireAnswers,
		ConsultationID:       req.ConsultationID,
		Status:               models.StatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := c.Store.CreateJob(ctx, job); err != nil {
		return DispatchOutcome{}, err
	}
	observability.JobTransitions.WithLabelValues(string(models.StatusPending)).Inc()
	c.mirrorJob(ctx, job)

	candidates := c.Presence.Eligible(req.CustomerAddress, c.CandidateMax)
	ids := make([]string, 0, len(candidates))
	for _, p := range candidates {
		ids = append(ids, p.ProviderID)
	}
	offer := dispatch.NewOffer(uuid.NewString(), job.ID, req.ConsultationID, ids)
	summary := models.OfferSummary{
		JobID:          job.ID,
		ConsultationID: req.ConsultationID,
		ServiceType:    req.ServiceType,
		Problem:        req.Problem,
		CustomerArea:   req.CustomerAddress.City + " " + req.CustomerAddress.Pincode,
	}
	target := models.Coord{Lat: req.CustomerAddress.Lat, Lon: req.CustomerAddress.Lon}

	res := c.Dispatcher.Dispatch(ctx, offer, summary, candidates, target)
	if res.Unfulfilled {
		c.notifyAsync(job.CustomerID, notify.Payload{
			Kind:           notify.KindBookingUnfulfilled,
			JobID:          job.ID,
			ConsultationID: job.ConsultationID,
			ServiceType:    job.ServiceType,
		})
		return DispatchOutcome{Job: job, Unfulfilled: true}, nil
	}

	accepted, err := c.accept(ctx, job.ID, res.ProviderID)
	if err != nil {
		return DispatchOutcome{}, err
	}
	if c.Channels != nil {
		c.Channels.SendConfirmed(accepted.ProviderID, accepted)
	}
	c.holdPayment(accepted)
	return DispatchOutcome{Job: accepted}, nil
}

// accept is the only path into the accepted state; it is reached solely
// through offer-race resolution.
func (c *Controller) accept(ctx context.Context, jobID, providerID string) (*models.JobCard, error) {
	unlock := c.lockJob(jobID)
	defer unlock()

	job, err := c.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.StatusPending {
		return nil, &InvalidTransitionError{From: job.Status, To: models.StatusAccepted}
	}

	job.ProviderID = providerID
	if c.Directory != nil {
		if prof, err := c.Directory.Profile(ctx, providerID); err == nil {
			job.ProviderName = prof.Name
			job.ProviderAddress = prof.Address
		} else {
			c.Logger.Warn("provider profile lookup failed", "provider_id", providerID, "error", err)
		}
	}
	job.Status = models.StatusAccepted
	job.UpdatedAt = time.Now()
	if err := c.Store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	observability.JobTransitions.WithLabelValues(string(models.StatusAccepted)).Inc()
	c.mirrorJob(ctx, job)
	return job, nil
}

// Start moves an accepted job to in-progress and hands the customer a fresh
// task PIN to give the provider on-site.
func (c *Controller) Start(ctx context.Context, callerID, jobID string) (*models.JobCard, error) {
	if callerID == "" {
		return nil, ErrNotAuthenticated
	}
	unlock := c.lockJob(jobID)
	defer unlock()

	job, err := c.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.StatusAccepted {
		return nil, &InvalidTransitionError{From: job.Status, To: models.StatusInProgress}
	}

	now := time.Now()
	job.Status = models.StatusInProgress
	job.TaskPIN = GeneratePIN()
	job.PINGeneratedAt = &now
	job.UpdatedAt = now
	if err := c.Store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	observability.JobTransitions.WithLabelValues(string(models.StatusInProgress)).Inc()
	c.mirrorJob(ctx, job)
	c.notifyAsync(job.CustomerID, notify.Payload{
		Kind:           notify.KindJobStarted,
		JobID:          job.ID,
		ConsultationID: job.ConsultationID,
		ProviderName:   job.ProviderName,
		ServiceType:    job.ServiceType,
		PIN:            job.TaskPIN,
	})
	return job, nil
}

// Complete verifies the supplied PIN against the stored one and, on an
// exact match, finishes the job and erases the PIN from the record.
func (c *Controller) Complete(ctx context.Context, callerID, jobID, pin string) (*models.JobCard, error) {
	if callerID == "" {
		return nil, ErrNotAuthenticated
	}
	unlock := c.lockJob(jobID)
	defer unlock()

	job, err := c.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.StatusInProgress {
		return nil, &InvalidTransitionError{From: job.Status, To: models.StatusCompleted}
	}
	if pin == "" || pin != job.TaskPIN {
		return nil, ErrVerificationFailed
	}

	job.Status = models.StatusCompleted
	job.TaskPIN = ""
	job.PINGeneratedAt = nil
	job.UpdatedAt = time.Now()
	if err := c.Store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	observability.JobTransitions.WithLabelValues(string(models.StatusCompleted)).Inc()
	c.mirrorJob(ctx, job)

	if c.Channels != nil {
		c.Channels.SendServiceCompleted(dispatch.ServiceCompletedEvent{
			CustomerID:     job.CustomerID,
			JobID:          job.ID,
			ConsultationID: job.ConsultationID,
			ProviderName:   job.ProviderName,
			ServiceType:    job.ServiceType,
		})
	}
	done := notify.Payload{
		Kind:           notify.KindJobCompleted,
		JobID:          job.ID,
		ConsultationID: job.ConsultationID,
		ProviderName:   job.ProviderName,
		ServiceType:    job.ServiceType,
	}
	c.notifyAsync(job.CustomerID, done)
	c.notifyAsync(job.ProviderID, done)
	c.capturePayment(job)
	return job, nil
}

// Cancel ends a non-terminal job. The reason is validated before any write
// and stored verbatim.
func (c *Controller) Cancel(ctx context.Context, callerID, jobID, reason string) (*models.JobCard, error) {
	if callerID == "" {
		return nil, ErrNotAuthenticated
	}
	if len(strings.TrimSpace(reason)) < c.CancelReasonMinLen {
		return nil, &ValidationError{Msg: "cancellation reason too short"}
	}
	unlock := c.lockJob(jobID)
	defer unlock()

	job, err := c.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, &InvalidTransitionError{From: job.Status, To: models.StatusCancelled}
	}

	now := time.Now()
	job.Status = models.StatusCancelled
	job.CancellationReason = reason
	job.CancelledAt = &now
	job.TaskPIN = ""
	job.PINGeneratedAt = nil
	job.UpdatedAt = now
	if err := c.Store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	observability.JobTransitions.WithLabelValues(string(models.StatusCancelled)).Inc()
	c.mirrorJob(ctx, job)
	c.notifyAsync(job.CustomerID, notify.Payload{
		Kind:           notify.KindJobCancelled,
		JobID:          job.ID,
		ConsultationID: job.ConsultationID,
		ServiceType:    job.ServiceType,
		Reason:         reason,
	})
	c.releasePayment(job)
	return job, nil
}

// GetJob returns the authoritative record and opportunistically reconciles
// the mirror from it. Readers resuming a session must come through here, not
// the mirror.
func (c *Controller) GetJob(ctx context.Context, callerID, jobID string) (*models.JobCard, error) {
	if callerID == "" {
		return nil, ErrNotAuthenticated
	}
	job, err := c.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	c.mirrorJob(ctx, job)
	return job, nil
}

func (c *Controller) lockJob(jobID string) func() {
	c.locksMu.Lock()
	l, ok := c.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[jobID] = l
	}
	c.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

// mirrorJob is the best-effort half of the dual write. Failures are logged
// and counted, never surfaced; the durable record stays authoritative.
func (c *Controller) mirrorJob(ctx context.Context, job *models.JobCard) {
	entry := models.MirrorEntry{
		ProviderID: job.ProviderID,
		CustomerID: job.CustomerID,
		Status:     job.Status,
		UpdatedAt:  job.UpdatedAt,
	}
	if err := c.Mirror.MirrorJob(ctx, job.ID, entry); err != nil {
		observability.MirrorWriteFailures.Inc()
		c.Logger.Warn("mirror write failed", "job_id", job.ID, "status", string(job.Status), "error", err)
	}
}

// notifyAsync fires the notifier after the durable commit. A slow or failing
// delivery never blocks or fails the transition that triggered it.
func (c *Controller) notifyAsync(recipientID string, p notify.Payload) {
	if c.Notifier == nil || recipientID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Notifier.Notify(ctx, recipientID, p); err != nil {
			observability.NotifyFailures.Inc()
			c.Logger.Warn("notification failed", "recipient", recipientID, "kind", string(p.Kind), "error", err)
		}
	}()
}

func (c *Controller) holdPayment(job *models.JobCard) {
	if c.Payments == nil || c.HoldAmount <= 0 {
		return
	}
	jobID, customerID := job.ID, job.CustomerID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		id, err := c.Payments.Hold(ctx, c.HoldAmount, c.HoldCurrency, customerID)
		if err != nil {
			c.Logger.Warn("payment hold failed", "job_id", jobID, "error", err)
			return
		}
		c.intentsMu.Lock()
		c.intents[jobID] = id
		c.intentsMu.Unlock()
	}()
}

func (c *Controller) capturePayment(job *models.JobCard) {
	c.settlePayment(job.ID, "capture", func(ctx context.Context, id string) error {
		return c.Payments.Capture(ctx, id)
	})
}

func (c *Controller) releasePayment(job *models.JobCard) {
	c.settlePayment(job.ID, "release", func(ctx context.Context, id string) error {
		return c.Payments.Cancel(ctx, id)
	})
}

func (c *Controller) settlePayment(jobID, op string, fn func(context.Context, string) error) {
	if c.Payments == nil {
		return
	}
	c.intentsMu.Lock()
	id, ok := c.intents[jobID]
	delete(c.intents, jobID)
	c.intentsMu.Unlock()
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fn(ctx, id); err != nil {
			c.Logger.Warn("payment settle failed", "job_id", jobID, "op", op, "error", err)
		}
	}()
}
