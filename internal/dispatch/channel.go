package dispatch

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/job-dispatch/internal/models"
)

// ErrNoSession is returned when a recipient has no open channel.
var ErrNoSession = errors.New("no open channel for recipient")

// Envelope is the wire frame for every server-pushed event.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	EventOffer            = "offer"
	EventOfferWithdrawn   = "offer-withdrawn"
	EventOfferConfirmed   = "offer-confirmed"
	EventServiceCompleted = "service-completed"
)

// inboundMsg is what providers send back on their channel.
type inboundMsg struct {
	Type    string `json:"type"` // accept | reject
	OfferID string `json:"offer_id"`
}

// Response is a provider's answer to an offer, surfaced to the dispatcher.
type Response struct {
	OfferID    string
	ProviderID string
	Accept     bool
}

// ServiceCompletedEvent is pushed to the customer room when a job completes.
type ServiceCompletedEvent struct {
	CustomerID     string `json:"customer_id"`
	JobID          string `json:"job_id"`
	ConsultationID string `json:"consultation_id,omitempty"`
	ProviderName   string `json:"provider_name"`
	ServiceType    string `json:"service_type"`
}

// Session is one live websocket connection with serialized writes.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) send(typ string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(Envelope{Type: typ, Data: b})
}

// Registry owns all open channels, keyed by recipient id. Provider channel
// lifecycle is tied 1:1 to presence: going online registers, going offline
// (or a dropped socket) removes.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Session
	customers map[string]*Session

	onResponse   func(Response)
	onDisconnect func(providerID string)
	logger       *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		providers: make(map[string]*Session),
		customers: make(map[string]*Session),
		logger:    logger,
	}
}

// OnResponse installs the dispatcher callback for accept/reject messages.
func (r *Registry) OnResponse(fn func(Response)) { r.onResponse = fn }

// OnDisconnect installs the callback fired when a provider channel drops.
// A drop mid-offer counts as an implicit reject.
func (r *Registry) OnDisconnect(fn func(providerID string)) { r.onDisconnect = fn }

// AddProvider registers a provider channel and starts its read pump.
func (r *Registry) AddProvider(providerID string, conn *websocket.Conn) {
	s := &Session{conn: conn}
	r.mu.Lock()
	if old, ok := r.providers[providerID]; ok {
		_ = old.conn.Close()
	}
	r.providers[providerID] = s
	r.mu.Unlock()
	go r.readPump(providerID, s)
}

// RemoveProvider tears the channel down, typically because the provider went
// offline.
func (r *Registry) RemoveProvider(providerID string) {
	r.mu.Lock()
	s, ok := r.providers[providerID]
	delete(r.providers, providerID)
	r.mu.Unlock()
	if ok {
		_ = s.conn.Close()
	}
}

func (r *Registry) AddCustomer(customerID string, conn *websocket.Conn) {
	s := &Session{conn: conn}
	r.mu.Lock()
	if old, ok := r.customers[customerID]; ok {
		_ = old.conn.Close()
	}
	r.customers[customerID] = s
	r.mu.Unlock()
}

func (r *Registry) RemoveCustomer(customerID string) {
	r.mu.Lock()
	s, ok := r.customers[customerID]
	delete(r.customers, customerID)
	r.mu.Unlock()
	if ok {
		_ = s.conn.Close()
	}
}

func (r *Registry) readPump(providerID string, s *Session) {
	for {
		var in inboundMsg
		if err := s.conn.ReadJSON(&in); err != nil {
			r.mu.Lock()
			current := false
			if cur, ok := r.providers[providerID]; ok && cur == s {
				delete(r.providers, providerID)
				current = true
			}
			r.mu.Unlock()
			// an explicit RemoveProvider already handled teardown; only a
			// dropped socket reports the disconnect here
			if current && r.onDisconnect != nil {
				r.onDisconnect(providerID)
			}
			return
		}
		switch in.Type {
		case "accept", "reject":
			if r.onResponse != nil {
				r.onResponse(Response{OfferID: in.OfferID, ProviderID: providerID, Accept: in.Type == "accept"})
			}
		default:
			r.logger.Warn("unknown channel message", "provider_id", providerID, "type", in.Type)
		}
	}
}

func (r *Registry) provider(providerID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.providers[providerID]
	return s, ok
}

// SendOffer pushes an offer payload to one provider.
func (r *Registry) SendOffer(providerID string, summary models.OfferSummary) error {
	s, ok := r.provider(providerID)
	if !ok {
		return ErrNoSession
	}
	return s.send(EventOffer, summary)
}

// SendWithdrawn signals a losing provider that the offer is gone. Silent,
// not an error.
func (r *Registry) SendWithdrawn(providerID, offerID string) {
	s, ok := r.provider(providerID)
	if !ok {
		return
	}
	if err := s.send(EventOfferWithdrawn, map[string]string{"offer_id": offerID}); err != nil {
		r.logger.Warn("withdraw send failed", "provider_id", providerID, "error", err)
	}
}

// SendConfirmed hands the race winner its materialized job card.
func (r *Registry) SendConfirmed(providerID string, job *models.JobCard) {
	s, ok := r.provider(providerID)
	if !ok {
		return
	}
	if err := s.send(EventOfferConfirmed, job); err != nil {
		r.logger.Warn("confirm send failed", "provider_id", providerID, "error", err)
	}
}

// SendServiceCompleted pushes the completion event into the customer room.
func (r *Registry) SendServiceCompleted(ev ServiceCompletedEvent) {
	r.mu.RLock()
	s, ok := r.customers[ev.CustomerID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.send(EventServiceCompleted, ev); err != nil {
		r.logger.Warn("service-completed send failed", "customer_id", ev.CustomerID, "error", err)
	}
}
