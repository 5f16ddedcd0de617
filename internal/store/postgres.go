package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/lingokit/accuracyd/pkg/models"
)

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// Postgres is the durable document store for profiles and history.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a PostgreSQL connection and initializes the schema.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return p, nil
}

func (p *Postgres) initSchema() error {
	schema := `
	-- Per-user aggregated accuracy profiles
	CREATE TABLE IF NOT EXISTS accuracy_profiles (
		user_id TEXT PRIMARY KEY,
		n_messages INTEGER NOT NULL DEFAULT 0,
		scores_json TEXT NOT NULL,
		confidence_score INTEGER NOT NULL DEFAULT 0,
		last_updated TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Per-user historical trend context, flushed every Nth aggregation
	CREATE TABLE IF NOT EXISTS accuracy_history (
		user_id TEXT PRIMARY KEY,
		context_json TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_accuracy_profiles_updated ON accuracy_profiles(last_updated);
	`

	_, err := p.db.Exec(schema)
	return err
}

// FindProfile returns the stored profile, or nil when the user is unknown.
func (p *Postgres) FindProfile(ctx context.Context, userID string) (*models.AggregatedProfile, error) {
	row := p.db.QueryRowContext(ctx, rebind(`
		SELECT user_id, n_messages, scores_json, confidence_score, last_updated
		FROM accuracy_profiles WHERE user_id = ?
	`), userID)

	var profile models.AggregatedProfile
	var scoresJSON string
	err := row.Scan(&profile.UserID, &profile.NMessages, &scoresJSON, &profile.ConfidenceScore, &profile.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile for %s: %w", userID, err)
	}

	if err := json.Unmarshal([]byte(scoresJSON), &profile.Scores); err != nil {
		return nil, fmt.Errorf("failed to decode scores for %s: %w", userID, err)
	}
	return &profile, nil
}

// UpsertProfile writes the profile, replacing any previous row.
func (p *Postgres) UpsertProfile(ctx context.Context, profile *models.AggregatedProfile) error {
	scoresJSON, err := json.Marshal(profile.Scores)
	if err != nil {
		return fmt.Errorf("failed to encode scores for %s: %w", profile.UserID, err)
	}

	_, err = p.db.ExecContext(ctx, rebind(`
		INSERT INTO accuracy_profiles (user_id, n_messages, scores_json, confidence_score, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			n_messages = EXCLUDED.n_messages,
			scores_json = EXCLUDED.scores_json,
			confidence_score = EXCLUDED.confidence_score,
			last_updated = EXCLUDED.last_updated
	`), profile.UserID, profile.NMessages, string(scoresJSON), profile.ConfidenceScore, profile.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert profile for %s: %w", profile.UserID, err)
	}
	return nil
}

// FindHistory returns the stored historical context, or nil when absent.
func (p *Postgres) FindHistory(ctx context.Context, userID string) (*models.HistoricalContext, error) {
	row := p.db.QueryRowContext(ctx, rebind(`
		SELECT context_json FROM accuracy_history WHERE user_id = ?
	`), userID)

	var contextJSON string
	err := row.Scan(&contextJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", userID, err)
	}

	var hc models.HistoricalContext
	if err := json.Unmarshal([]byte(contextJSON), &hc); err != nil {
		return nil, fmt.Errorf("failed to decode history for %s: %w", userID, err)
	}
	return &hc, nil
}

// UpsertHistory writes the historical context, replacing any previous row.
func (p *Postgres) UpsertHistory(ctx context.Context, hc *models.HistoricalContext) error {
	contextJSON, err := json.Marshal(hc)
	if err != nil {
		return fmt.Errorf("failed to encode history for %s: %w", hc.UserID, err)
	}

	_, err = p.db.ExecContext(ctx, rebind(`
		INSERT INTO accuracy_history (user_id, context_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			context_json = EXCLUDED.context_json,
			updated_at = EXCLUDED.updated_at
	`), hc.UserID, string(contextJSON), hc.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert history for %s: %w", hc.UserID, err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
