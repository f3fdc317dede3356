package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/venturelens/strategy-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS analyses (
	id            TEXT PRIMARY KEY,
	business_id   TEXT NOT NULL,
	analysis_type TEXT NOT NULL,
	analysis_name TEXT NOT NULL,
	phase         TEXT NOT NULL,
	data          TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_analyses_business ON analyses(business_id);
CREATE INDEX IF NOT EXISTS idx_analyses_business_type ON analyses(business_id, analysis_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_analyses_business_phase ON analyses(business_id, phase);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, record model.PhaseAnalysisRecord) error {
	dataJSON, err := json.Marshal(record.AnalysisData)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal analysis data")
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, business_id, analysis_type, analysis_name, phase, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), record.BusinessID, record.AnalysisType, record.AnalysisName,
		record.Phase, string(dataJSON), createdAt,
	)
	return eris.Wrapf(err, "sqlite: insert analysis %s", record.AnalysisType)
}

func (s *SQLiteStore) LatestAnalyses(ctx context.Context, businessID string) ([]model.PhaseAnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT business_id, analysis_type, analysis_name, phase, data, created_at FROM analyses
		 WHERE business_id = ?
		   AND created_at = (
		     SELECT MAX(created_at) FROM analyses a2
		     WHERE a2.business_id = analyses.business_id AND a2.analysis_type = analyses.analysis_type
		   )
		 ORDER BY analysis_type`,
		businessID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest analyses")
	}
	defer rows.Close()

	return scanAnalyses(rows)
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, businessID string, filter AnalysisFilter) ([]model.PhaseAnalysisRecord, error) {
	query := `SELECT business_id, analysis_type, analysis_name, phase, data, created_at FROM analyses WHERE business_id = ?`
	args := []any{businessID}

	if filter.Type != "" {
		query += ` AND analysis_type = ?`
		args = append(args, filter.Type)
	}
	if filter.Phase != "" {
		query += ` AND phase = ?`
		args = append(args, filter.Phase)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list analyses")
	}
	defer rows.Close()

	return scanAnalyses(rows)
}

func (s *SQLiteStore) PurgePhase(ctx context.Context, businessID, phase string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM analyses WHERE business_id = ? AND phase = ?`,
		businessID, phase,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: purge phase %s", phase)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func scanAnalyses(rows *sql.Rows) ([]model.PhaseAnalysisRecord, error) {
	var records []model.PhaseAnalysisRecord
	for rows.Next() {
		var r model.PhaseAnalysisRecord
		var dataJSON string
		if err := rows.Scan(&r.BusinessID, &r.AnalysisType, &r.AnalysisName, &r.Phase, &dataJSON, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan analysis")
		}
		if err := json.Unmarshal([]byte(dataJSON), &r.AnalysisData); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal analysis data")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: iterate analyses")
}
