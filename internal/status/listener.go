package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// reconnectDelay paces reconnect attempts after a dropped LISTEN connection.
const reconnectDelay = 2 * time.Second

// Sink receives decoded events from the listener. The websocket Hub
// satisfies it.
type Sink interface {
	Broadcast(jobID uuid.UUID, event Event)
}

var _ Sink = (*Hub)(nil)

// Listener holds a dedicated connection on LISTEN and fans notifications out
// to the sink. Run in the serve process only; worker processes just publish.
type Listener struct {
	db     *pgxpool.Pool
	sink   Sink
	logger zerolog.Logger
}

func NewListener(db *pgxpool.Pool, sink Sink, logger zerolog.Logger) *Listener {
	return &Listener{
		db:     db,
		sink:   sink,
		logger: logger.With().Str("component", "status_listener").Logger(),
	}
}

// Run blocks until the context is cancelled, reconnecting whenever the
// LISTEN connection drops. Events published while disconnected are lost,
// which the feed's best-effort contract allows.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("status listener disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen on %s: %w", Channel, err)
	}
	l.logger.Debug().Str("channel", Channel).Msg("status listener attached")

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		l.dispatch(notification.Payload)
	}
}

// dispatch decodes one payload and hands it to the sink. Malformed payloads
// are dropped; nothing on this path may take the listener down.
func (l *Listener) dispatch(payload string) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		l.logger.Warn().Err(err).Msg("dropping malformed status event")
		return
	}
	l.sink.Broadcast(event.JobID, event)
}
