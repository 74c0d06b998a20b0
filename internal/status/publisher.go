package status

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Channel is the single NOTIFY channel every worker publishes on. Fan-out by
// job happens in the listener, off the job_id carried in the payload.
const Channel = "casewire_artifact_status"

// Execer is the slice of the connection pool the publisher needs.
// *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ Execer = (*pgxpool.Pool)(nil)

// Publisher pushes events onto the NOTIFY channel.
type Publisher struct {
	db     Execer
	logger zerolog.Logger
}

func NewPublisher(db Execer, logger zerolog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		logger: logger.With().Str("component", "status_publisher").Logger(),
	}
}

// Publish sends the event. Failures are logged and swallowed: a missed status
// update must never fail the stage that produced it.
func (p *Publisher) Publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Msg("marshal status event")
		return
	}

	if _, err := p.db.Exec(ctx, "SELECT pg_notify($1, $2)", Channel, string(payload)); err != nil {
		p.logger.Warn().
			Err(err).
			Str("job_id", event.JobID.String()).
			Str("filename", event.Filename).
			Msg("status event dropped")
	}
}
