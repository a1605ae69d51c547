// Package notify delivers freshly issued API keys to tenant contacts.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/monitoring"
)

// KeyNotice is a raw key on its way to the tenant. It must never be logged.
type KeyNotice struct {
	TenantID   uuid.UUID
	TenantName string
	Email      string
	RawKey     string
}

// KeyDelivery hands a raw key to its owner.
type KeyDelivery interface {
	Deliver(ctx context.Context, n KeyNotice) error
}

// Discard drops notices. It is used when no delivery channel is configured,
// in which case the key has to be re-issued by an operator.
type Discard struct{}

func (Discard) Deliver(_ context.Context, n KeyNotice) error {
	log.Warn().
		Str("tenant_id", n.TenantID.String()).
		Str("email", n.Email).
		Msg("No key delivery configured, issue a new key from the admin API")
	return nil
}

// Dispatcher delivers notices on a background worker so callers are not held
// up by the mail server.
type Dispatcher struct {
	delivery KeyDelivery
	queue    chan KeyNotice
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// ErrClosed is returned by Deliver once the dispatcher has been closed.
var ErrClosed = errors.New("key dispatcher closed")

// NewDispatcher starts the delivery worker.
func NewDispatcher(delivery KeyDelivery, size int) *Dispatcher {
	if size <= 0 {
		size = 10
	}
	d := &Dispatcher{
		delivery: delivery,
		queue:    make(chan KeyNotice, size),
	}
	d.wg.Add(1)
	go d.startDeliveryWorker()
	return d
}

func (d *Dispatcher) startDeliveryWorker() {
	defer d.wg.Done()
	for n := range d.queue {
		log.Info().Str("tenant_id", n.TenantID.String()).Msg("Delivering API key")
		if err := d.delivery.Deliver(context.Background(), n); err != nil {
			log.Error().Err(err).Str("tenant_id", n.TenantID.String()).Msg("Key delivery failed")
			monitoring.Alert("key_delivery_failed", "raw API key could not be delivered", map[string]string{
				"tenant_id": n.TenantID.String(),
				"email":     n.Email,
			})
		}
	}
}

// Deliver queues n. It only blocks when the queue is full and the context
// is still live.
func (d *Dispatcher) Deliver(ctx context.Context, n KeyNotice) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting notices and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
