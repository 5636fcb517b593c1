package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Postgres implements Store on the rmri_* tables created by the migrations directory.
type Postgres struct {
	DB *sql.DB
}

// NewPostgres opens and pings a Postgres connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{DB: db}, nil
}

func (p *Postgres) Close() error { return p.DB.Close() }

const runColumns = `id, query, status, iteration, max_iterations, config, COALESCE(error,''), final_report, created_at, updated_at, finished_at`

func (p *Postgres) CreateRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id must be provided")
	}
	_, err := p.DB.ExecContext(ctx, `
INSERT INTO rmri_runs (id, query, status, iteration, max_iterations, config, error, final_report, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,NOW(),NOW())`,
		run.ID, run.Query, run.Status, run.Iteration, run.MaxIterations, nullJSON(run.Config), run.Error, nullJSON(run.FinalReport))
	return err
}

func (p *Postgres) UpdateRun(ctx context.Context, run Run) error {
	res, err := p.DB.ExecContext(ctx, `
UPDATE rmri_runs
SET status=$2, iteration=$3, error=NULLIF($4,''), final_report=COALESCE($5, final_report), finished_at=$6, updated_at=NOW()
WHERE id=$1`,
		run.ID, run.Status, run.Iteration, run.Error, nullJSON(run.FinalReport), run.FinishedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (Run, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM rmri_runs WHERE id=$1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return run, err
}

func (p *Postgres) ListRuns(ctx context.Context, statuses []string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = p.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM rmri_runs ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = p.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM rmri_runs WHERE status = ANY($1) ORDER BY created_at DESC LIMIT $2`, pq.Array(statuses), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run         Run
		config      []byte
		finalReport []byte
		finished    sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Query, &run.Status, &run.Iteration, &run.MaxIterations, &config, &run.Error, &finalReport, &run.CreatedAt, &run.UpdatedAt, &finished); err != nil {
		return Run{}, err
	}
	if len(config) > 0 {
		run.Config = config
	}
	if len(finalReport) > 0 {
		run.FinalReport = finalReport
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}

func (p *Postgres) UpsertAgent(ctx context.Context, a Agent) error {
	if a.ID == "" || a.RunID == "" {
		return fmt.Errorf("agent id and run id must be provided")
	}
	_, err := p.DB.ExecContext(ctx, `
INSERT INTO rmri_agents (id, run_id, parent_id, tier, iteration, item_id, status, confidence, error, started_at, finished_at)
VALUES ($1,$2,NULLIF($3,''),$4,$5,NULLIF($6,''),$7,$8,NULLIF($9,''),$10,$11)
ON CONFLICT (id) DO UPDATE SET
  status      = EXCLUDED.status,
  confidence  = EXCLUDED.confidence,
  error       = EXCLUDED.error,
  started_at  = COALESCE(EXCLUDED.started_at, rmri_agents.started_at),
  finished_at = EXCLUDED.finished_at`,
		a.ID, a.RunID, a.ParentID, a.Tier, a.Iteration, a.ItemID, a.Status, a.Confidence, a.Error, a.StartedAt, a.FinishedAt)
	return err
}

func (p *Postgres) ListAgents(ctx context.Context, runID string) ([]Agent, error) {
	rows, err := p.DB.QueryContext(ctx, `
SELECT id, run_id, COALESCE(parent_id,''), tier, iteration, COALESCE(item_id,''), status, confidence, COALESCE(error,''), started_at, finished_at
FROM rmri_agents
WHERE run_id=$1
ORDER BY iteration, CASE tier WHEN 'micro' THEN 0 WHEN 'meso' THEN 1 ELSE 2 END, item_id, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Agent
	for rows.Next() {
		var (
			a                 Agent
			started, finished sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.RunID, &a.ParentID, &a.Tier, &a.Iteration, &a.ItemID, &a.Status, &a.Confidence, &a.Error, &started, &finished); err != nil {
			return nil, err
		}
		a.StartedAt = timePtr(started)
		a.FinishedAt = timePtr(finished)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveResult(ctx context.Context, r Result) error {
	if r.RunID == "" || r.AgentID == "" {
		return fmt.Errorf("result requires run id and agent id")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := p.DB.ExecContext(ctx, `
INSERT INTO rmri_results (id, run_id, agent_id, tier, iteration, output, confidence)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.RunID, r.AgentID, r.Tier, r.Iteration, []byte(r.Output), r.Confidence)
	return err
}

func (p *Postgres) ListResults(ctx context.Context, runID, tier string) ([]Result, error) {
	rows, err := p.DB.QueryContext(ctx, `
SELECT id, run_id, agent_id, tier, iteration, output, confidence, created_at
FROM rmri_results
WHERE run_id=$1 AND ($2 = '' OR tier = $2)
ORDER BY created_at, id`, runID, tier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Result
	for rows.Next() {
		var (
			r      Result
			output []byte
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.AgentID, &r.Tier, &r.Iteration, &output, &r.Confidence, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Output = output
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendLog(ctx context.Context, e LogEntry) error {
	if e.RunID == "" {
		return fmt.Errorf("log entry requires run id")
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	_, err := p.DB.ExecContext(ctx, `
INSERT INTO rmri_logs (run_id, agent_id, severity, message)
VALUES ($1,NULLIF($2,''),$3,$4)`, e.RunID, e.AgentID, e.Severity, e.Message)
	return err
}

func (p *Postgres) ListLogs(ctx context.Context, runID string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.DB.QueryContext(ctx, `
SELECT id, run_id, agent_id, severity, message, created_at FROM (
  SELECT id, run_id, COALESCE(agent_id,'') AS agent_id, severity, message, created_at
  FROM rmri_logs WHERE run_id=$1 ORDER BY id DESC LIMIT $2
) recent ORDER BY id`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.AgentID, &e.Severity, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullJSON(b json.RawMessage) interface{} {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
