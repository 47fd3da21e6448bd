package healing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStore persists records in SQLite. Each (signature, strategy) pair is a
// row, so stored counts reload as priors.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (or creates) a SQLite database at path.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open strategy store: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	s, err := NewSQLStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore uses an open database handle and creates the schema.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, ErrNilStore
	}
	s := &SQLStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize strategy schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) ensureSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS healing_signatures (
			signature TEXT PRIMARY KEY,
			first_seen DATETIME NOT NULL,
			last_seen DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS healing_strategies (
			signature TEXT NOT NULL REFERENCES healing_signatures(signature) ON DELETE CASCADE,
			strategy TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			successes INTEGER NOT NULL DEFAULT 0,
			success_rate REAL NOT NULL,
			last_attempt DATETIME,
			PRIMARY KEY (signature, strategy)
		);
		CREATE INDEX IF NOT EXISTS idx_healing_last_seen ON healing_signatures(last_seen);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, sig Signature) (*Record, error) {
	var first, last time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT first_seen, last_seen FROM healing_signatures WHERE signature = ?`, string(sig),
	).Scan(&first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load signature %s: %w", sig, err)
	}

	rec := &Record{Signature: sig, Strategies: make(map[Strategy]StrategyStats), FirstSeen: first, LastSeen: last}
	if err := s.loadStrategies(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLStore) loadStrategies(ctx context.Context, rec *Record) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy, attempts, successes, success_rate, last_attempt
		FROM healing_strategies
		WHERE signature = ?
	`, string(rec.Signature))
	if err != nil {
		return fmt.Errorf("load strategies %s: %w", rec.Signature, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name string
			st   StrategyStats
			last sql.NullTime
		)
		if err := rows.Scan(&name, &st.Attempts, &st.Successes, &st.SuccessRate, &last); err != nil {
			return err
		}
		strategy, err := ParseStrategy(name)
		if err != nil {
			// Rows written by a newer build are ignored.
			continue
		}
		if last.Valid {
			st.LastAttempt = last.Time
		}
		rec.Strategies[strategy] = st
	}
	return rows.Err()
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO healing_signatures (signature, first_seen, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(signature) DO UPDATE SET last_seen = excluded.last_seen
	`, string(rec.Signature), rec.FirstSeen.UTC(), rec.LastSeen.UTC())
	if err != nil {
		return fmt.Errorf("save signature %s: %w", rec.Signature, err)
	}

	for strategy, st := range rec.Strategies {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO healing_strategies (signature, strategy, attempts, successes, success_rate, last_attempt)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(signature, strategy) DO UPDATE SET
				attempts = excluded.attempts,
				successes = excluded.successes,
				success_rate = excluded.success_rate,
				last_attempt = excluded.last_attempt
		`, string(rec.Signature), strategy.String(), st.Attempts, st.Successes, st.SuccessRate, st.LastAttempt.UTC())
		if err != nil {
			return fmt.Errorf("save strategy %s/%s: %w", rec.Signature, strategy, err)
		}
	}
	return tx.Commit()
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT signature, first_seen, last_seen FROM healing_signatures ORDER BY signature`)
	if err != nil {
		return nil, err
	}
	var records []*Record
	for rows.Next() {
		var sig string
		rec := &Record{Strategies: make(map[Strategy]StrategyStats)}
		if err := rows.Scan(&sig, &rec.FirstSeen, &rec.LastSeen); err != nil {
			rows.Close()
			return nil, err
		}
		rec.Signature = Signature(sig)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, rec := range records {
		if err := s.loadStrategies(ctx, rec); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Prune implements Store.
func (s *SQLStore) Prune(ctx context.Context, cutoff time.Time, minAttempts int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	const stale = `
		SELECT s.signature FROM healing_signatures s
		LEFT JOIN healing_strategies h ON h.signature = s.signature
		WHERE s.last_seen < ?
		GROUP BY s.signature
		HAVING COALESCE(SUM(h.attempts), 0) < ?
	`
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM healing_strategies WHERE signature IN (`+stale+`)`, cutoff.UTC(), minAttempts); err != nil {
		return 0, fmt.Errorf("prune strategies: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM healing_signatures
		WHERE last_seen < ? AND ? > 0
		AND signature NOT IN (SELECT signature FROM healing_strategies)
	`, cutoff.UTC(), minAttempts)
	if err != nil {
		return 0, fmt.Errorf("prune signatures: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), tx.Commit()
}
