package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/Mutter0815/OABroadcast/pkg/model"
)

//go:embed schema.sql
var schema string

type Store struct {
	DB *sql.DB
}

type RunRow struct {
	ID         string
	State      string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Succeeded  int
	Failed     int
	ArchivedAt time.Time
}

// RunStats counts archived outcomes per status.
type RunStats struct {
	Total    int
	Sent     int
	Cooldown int
	Invalid  int
	Failed   int
}

type OutcomeRow struct {
	RecipientID string
	Status      string
	Reason      string
	GatewayCode int
	Code        string
	At          time.Time
}

func New(db *sql.DB) *Store { return &Store{DB: db} }

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, schema)
	return err
}

func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// InsertRun reports false when the run is already archived, so a redelivered
// report is not written twice.
func (s *Store) InsertRun(ctx context.Context, tx *sql.Tx, r model.RunReport) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `
		INSERT INTO runs (id, state, started_at, finished_at, total, succeeded, failed)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING
		RETURNING id`,
		r.RunID, r.State, r.StartedAt, r.FinishedAt, r.Total, r.Succeeded, r.Failed,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) InsertOutcome(ctx context.Context, tx *sql.Tx, runID string, o model.OutcomeRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outcomes (run_id, recipient_id, status, reason, gateway_code, code, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, runID, o.RecipientID, o.Status, nullString(o.Reason), nullInt(o.GatewayCode), nullString(o.Code), o.At)
	return err
}

func (s *Store) GetRun(ctx context.Context, id string) (RunRow, error) {
	var r RunRow
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, state, started_at, finished_at, total, succeeded, failed, archived_at
		FROM runs
		WHERE id = $1
	`, id).Scan(&r.ID, &r.State, &r.StartedAt, &r.FinishedAt, &r.Total, &r.Succeeded, &r.Failed, &r.ArchivedAt)
	if err != nil {
		return RunRow{}, err
	}
	return r, nil
}

func (s *Store) GetRunStats(ctx context.Context, id string) (RunStats, error) {
	var st RunStats
	err := s.DB.QueryRowContext(ctx, `
		SELECT
		  COUNT(*)                                      AS total,
		  COUNT(*) FILTER (WHERE status='sent')         AS sent,
		  COUNT(*) FILTER (WHERE status='cooldown')     AS cooldown,
		  COUNT(*) FILTER (WHERE status='invalid')      AS invalid,
		  COUNT(*) FILTER (WHERE status='failed')       AS failed
		FROM outcomes
		WHERE run_id = $1
	`, id).Scan(&st.Total, &st.Sent, &st.Cooldown, &st.Invalid, &st.Failed)
	if err != nil {
		return RunStats{}, err
	}
	return st, nil
}

func (s *Store) ListOutcomes(ctx context.Context, runID string) ([]OutcomeRow, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT recipient_id, status, COALESCE(reason,''), COALESCE(gateway_code,0), COALESCE(code,''), at
		FROM outcomes
		WHERE run_id = $1
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []OutcomeRow{}
	for rows.Next() {
		var o OutcomeRow
		if err := rows.Scan(&o.RecipientID, &o.Status, &o.Reason, &o.GatewayCode, &o.Code, &o.At); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]RunRow, []RunStats, error) {
	if limit <= 0 || limit > 1000 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, state, started_at, finished_at, total, succeeded, failed, archived_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var runs []RunRow
	var ids []string
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.ID, &r.State, &r.StartedAt, &r.FinishedAt, &r.Total, &r.Succeeded, &r.Failed, &r.ArchivedAt); err != nil {
			return nil, nil, err
		}
		runs = append(runs, r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(runs) == 0 {
		return []RunRow{}, []RunStats{}, nil
	}

	statRows, err := s.DB.QueryContext(ctx, `
		SELECT run_id,
		       COUNT(*)                                  AS total,
		       COUNT(*) FILTER (WHERE status='sent')     AS sent,
		       COUNT(*) FILTER (WHERE status='cooldown') AS cooldown,
		       COUNT(*) FILTER (WHERE status='invalid')  AS invalid,
		       COUNT(*) FILTER (WHERE status='failed')   AS failed
		FROM outcomes
		WHERE run_id = ANY($1)
		GROUP BY run_id
	`, textArray(ids))
	if err != nil {
		return nil, nil, err
	}
	defer statRows.Close()

	statsByID := make(map[string]RunStats, len(ids))
	for statRows.Next() {
		var id string
		var st RunStats
		if err := statRows.Scan(&id, &st.Total, &st.Sent, &st.Cooldown, &st.Invalid, &st.Failed); err != nil {
			return nil, nil, err
		}
		statsByID[id] = st
	}
	if err := statRows.Err(); err != nil {
		return nil, nil, err
	}

	out := make([]RunStats, len(runs))
	for i, r := range runs {
		out[i] = statsByID[r.ID]
	}
	return runs, out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullInt stores zero as NULL; a zero gateway code means there was none.
func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

// textArray renders a Postgres text[] literal.
type textArray []string

func (a textArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		v = strings.ReplaceAll(v, `\`, `\\`)
		b.WriteString(strings.ReplaceAll(v, `"`, `\"`))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String(), nil
}
