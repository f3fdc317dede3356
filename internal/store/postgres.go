package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/venturelens/strategy-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_analysis": `INSERT INTO analyses (id, business_id, analysis_type, analysis_name, phase, data, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"latest_analyses": `SELECT DISTINCT ON (analysis_type) business_id, analysis_type, analysis_name, phase, data, created_at FROM analyses WHERE business_id = $1 ORDER BY analysis_type, created_at DESC`,
	"purge_phase":     `DELETE FROM analyses WHERE business_id = $1 AND phase = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests use this with pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS analyses (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	business_id   TEXT NOT NULL,
	analysis_type TEXT NOT NULL,
	analysis_name TEXT NOT NULL,
	phase         TEXT NOT NULL,
	data          JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analyses_business ON analyses(business_id);
CREATE INDEX IF NOT EXISTS idx_analyses_business_type ON analyses(business_id, analysis_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_analyses_business_phase ON analyses(business_id, phase);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveAnalysis(ctx context.Context, record model.PhaseAnalysisRecord) error {
	dataJSON, err := json.Marshal(record.AnalysisData)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal analysis data")
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analyses (id, business_id, analysis_type, analysis_name, phase, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New().String(), record.BusinessID, record.AnalysisType, record.AnalysisName,
		record.Phase, dataJSON, createdAt,
	)
	return eris.Wrapf(err, "postgres: insert analysis %s", record.AnalysisType)
}

func (s *PostgresStore) LatestAnalyses(ctx context.Context, businessID string) ([]model.PhaseAnalysisRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (analysis_type) business_id, analysis_type, analysis_name, phase, data, created_at
		 FROM analyses WHERE business_id = $1
		 ORDER BY analysis_type, created_at DESC`,
		businessID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest analyses")
	}
	defer rows.Close()

	return scanPgAnalyses(rows)
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, businessID string, filter AnalysisFilter) ([]model.PhaseAnalysisRecord, error) {
	query := `SELECT business_id, analysis_type, analysis_name, phase, data, created_at FROM analyses WHERE business_id = $1`
	args := []any{businessID}
	argIdx := 2

	if filter.Type != "" {
		query += fmt.Sprintf(` AND analysis_type = $%d`, argIdx)
		args = append(args, filter.Type)
		argIdx++
	}
	if filter.Phase != "" {
		query += fmt.Sprintf(` AND phase = $%d`, argIdx)
		args = append(args, filter.Phase)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list analyses")
	}
	defer rows.Close()

	return scanPgAnalyses(rows)
}

func (s *PostgresStore) PurgePhase(ctx context.Context, businessID, phase string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM analyses WHERE business_id = $1 AND phase = $2`,
		businessID, phase,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: purge phase %s", phase)
	}
	return int(tag.RowsAffected()), nil
}

func scanPgAnalyses(rows pgx.Rows) ([]model.PhaseAnalysisRecord, error) {
	var records []model.PhaseAnalysisRecord
	for rows.Next() {
		var r model.PhaseAnalysisRecord
		var dataJSON []byte
		if err := rows.Scan(&r.BusinessID, &r.AnalysisType, &r.AnalysisName, &r.Phase, &dataJSON, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis")
		}
		if err := json.Unmarshal(dataJSON, &r.AnalysisData); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal analysis data")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: iterate analyses")
}
