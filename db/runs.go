package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunRow is one journal entry: a single upscaling run, finished or failed.
type RunRow struct {
	ID        int64     // auto-incremented primary key
	SessionID string    // worker session that executed the run
	RunID     int64     // caller-assigned run id
	ModelID   string    // registry model name
	Precision string    // weights precision variant
	Backend   string    // requested execution target
	InWidth   int       // input raster width
	InHeight  int       // input raster height
	OutWidth  int       // output raster width (0 on failure)
	OutHeight int       // output raster height (0 on failure)
	Scale     int       // effective scale factor (0 on failure)
	Tiles     int       // tile count (0 for the non-tiled path)
	DurationMS int64    // wall time in milliseconds
	Status    string    // "ok", "error", or "fault"
	Error     string    // error text when Status != "ok"
	CreatedAt time.Time // insertion timestamp
}

// Runs provides journal persistence over an open connection.
type Runs struct {
	conn *sql.DB
}

// NewRuns creates a run journal repository.
func NewRuns(conn *sql.DB) *Runs {
	return &Runs{conn: conn}
}

// Insert appends one run row. CreatedAt is assigned by the database.
func (r *Runs) Insert(ctx context.Context, row RunRow) (int64, error) {
	res, err := r.conn.ExecContext(ctx, `
		INSERT INTO runs (
			session_id, run_id, model_id, precision, backend,
			in_width, in_height, out_width, out_height,
			scale, tiles, duration_ms, status, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.SessionID, row.RunID, row.ModelID, row.Precision, row.Backend,
		row.InWidth, row.InHeight, row.OutWidth, row.OutHeight,
		row.Scale, row.Tiles, row.DurationMS, row.Status, row.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("db: insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("db: insert run id: %w", err)
	}
	return id, nil
}

// Recent returns the newest limit rows, newest first.
func (r *Runs) Recent(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn.QueryContext(ctx, `
		SELECT id, session_id, run_id, model_id, precision, backend,
		       in_width, in_height, out_width, out_height,
		       scale, tiles, duration_ms, status, error, created_at
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: query runs: %w", err)
	}
	defer rows.Close()

	var result []RunRow
	for rows.Next() {
		var row RunRow
		if err := rows.Scan(
			&row.ID, &row.SessionID, &row.RunID, &row.ModelID, &row.Precision, &row.Backend,
			&row.InWidth, &row.InHeight, &row.OutWidth, &row.OutHeight,
			&row.Scale, &row.Tiles, &row.DurationMS, &row.Status, &row.Error, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("db: scan run: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// CountByStatus returns how many rows carry the given status.
func (r *Runs) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db: count runs: %w", err)
	}
	return count, nil
}
