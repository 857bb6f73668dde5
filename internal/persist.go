package internal

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Persister records job state across restarts, generalizing the teacher's
// author-refresh-recovery Persister: in-flight job IDs are recorded so a
// process restart can mark them failed with a retryable error instead of
// leaving a client hanging on a dead WebSocket forever (SPEC_FULL §C).
type Persister struct {
	db *pgxpool.Pool
}

// NewPersister opens a pgx pool against dsn and ensures the jobs table
// exists.
func NewPersister(ctx context.Context, dsn string) (*Persister, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		return nil, err
	}
	p := &Persister{db: db}
	if err := p.migrate(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Persister) migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS job_state (
			job_id TEXT PRIMARY KEY,
			pipeline TEXT NOT NULL,
			status TEXT NOT NULL,
			state JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS searched_isbn (
			isbn13 TEXT PRIMARY KEY,
			last_seen TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

// LogSearchedISBN records an ISBN seen in a live search response, the source
// list the scheduled cover-harvest job walks (§4.11).
func (p *Persister) LogSearchedISBN(ctx context.Context, isbn13 string) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO searched_isbn (isbn13, last_seen)
		VALUES ($1, now())
		ON CONFLICT (isbn13) DO UPDATE SET last_seen = now()
	`, isbn13)
	return err
}

// RecentlySearchedISBNs returns ISBNs logged within the lookback window, most
// recently seen first.
func (p *Persister) RecentlySearchedISBNs(ctx context.Context, lookback time.Duration, limit int) ([]string, error) {
	rows, err := p.db.Query(ctx, `
		SELECT isbn13 FROM searched_isbn
		WHERE last_seen > $1
		ORDER BY last_seen DESC
		LIMIT $2
	`, time.Now().Add(-lookback), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var isbns []string
	for rows.Next() {
		var isbn string
		if err := rows.Scan(&isbn); err != nil {
			continue
		}
		isbns = append(isbns, isbn)
	}
	return isbns, rows.Err()
}

// PersistJob writes the job's current state, upserting by jobId.
func (p *Persister) PersistJob(ctx context.Context, state JobState) error {
	data, err := sonic.Marshal(state)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO job_state (job_id, pipeline, status, state, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (job_id) DO UPDATE SET
			pipeline = EXCLUDED.pipeline,
			status = EXCLUDED.status,
			state = EXCLUDED.state,
			updated_at = now()
	`, state.JobID, string(state.Pipeline), string(state.Status), data)
	return err
}

// DeleteJob removes job state, called by the actor's 24h cleanup timer.
func (p *Persister) DeleteJob(ctx context.Context, jobID string) error {
	_, err := p.db.Exec(ctx, `DELETE FROM job_state WHERE job_id = $1`, jobID)
	return err
}

// InFlight returns job state for every job not yet in a terminal status,
// so a restarting process can resolve them (mark failed+retryable) instead
// of abandoning clients silently (SPEC_FULL §C).
func (p *Persister) InFlight(ctx context.Context) ([]JobState, error) {
	rows, err := p.db.Query(ctx, `
		SELECT state FROM job_state
		WHERE status NOT IN ('completed', 'failed', 'canceled')
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []JobState
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		var s JobState
		if err := sonic.Unmarshal(raw, &s); err != nil {
			continue
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// ResolveOrphans marks every in-flight job found at startup as failed with a
// retryable error, matching a job actor's normal SendError path so clients
// that reconnect after a restart see a coherent terminal state instead of
// state frozen at "running" forever.
func (p *Persister) ResolveOrphans(ctx context.Context) error {
	inFlight, err := p.InFlight(ctx)
	if err != nil {
		return err
	}
	for _, s := range inFlight {
		s.Status = JobFailed
		s.Error = &ErrorPayload{
			Code:      "INTERNAL_ERROR",
			Message:   "service restarted while this job was running",
			Retryable: true,
		}
		if err := p.PersistJob(ctx, s); err != nil {
			Log(ctx).Warn("failed to resolve orphaned job", "jobId", s.JobID, "err", err)
		}
	}
	return nil
}

func (p *Persister) Close() {
	p.db.Close()
}

// authTokenTTLForStorage mirrors the token lifetime for code in this package
// that writes it alongside job state in an external store; nothing uses it
// at present.
const authTokenTTLForStorage = 2 * time.Hour
