// Package pg implements the run database on Postgres.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/alfredoluis848/ndvi-ingester/common"
	db "github.com/alfredoluis848/ndvi-ingester/interface/database"
)

// pgInterface allows to use either a sql.DB or a sql.Tx
type pgInterface interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Backend implements RunBackend
type Backend struct {
	pgInterface
}

/* http://www.postgresql.org/docs/9.3/static/errcodes-appendix.html */
const (
	noError             = "00000"
	connectionFailure   = "08006"
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"

	notPqError = "X"
)

func pqErrorCode(err error) pq.ErrorCode {
	if err == nil {
		return noError
	}
	var pqerr *pq.Error
	if errors.As(err, &pqerr) {
		return pqerr.Code
	}
	return notPqError
}

// New creates a new backend using Postgres
func New(ctx context.Context, dbConnection string) (*Backend, error) {
	sqldb, err := sql.Open("postgres", dbConnection)
	if err != nil {
		return nil, fmt.Errorf("sql.open: %w", err)
	}
	return &Backend{pgInterface: sqldb}, nil
}

// CreateRun implements RunBackend
func (b Backend) CreateRun(ctx context.Context, run db.Run) error {
	aoi, err := json.Marshal(run.AOI)
	if err != nil {
		return fmt.Errorf("CreateRun.Marshal: %w", err)
	}
	_, err = b.ExecContext(ctx,
		"insert into run(id, aoi_name, aoi, state) values($1, $2, $3, $4)",
		run.ID, run.AOI.Name, aoi, run.State.String())
	switch pqErrorCode(err) {
	case noError:
		return nil
	case uniqueViolation:
		return db.ErrAlreadyExists{Type: "run", ID: run.ID}
	default:
		return fmt.Errorf("CreateRun.exec: %w", err)
	}
}

func scanRun(scan func(dest ...interface{}) error) (db.Run, error) {
	var run db.Run
	var state string
	var aoi []byte
	var report []byte
	if err := scan(&run.ID, &aoi, &state, &run.Message, &report, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return db.Run{}, err
	}
	if err := json.Unmarshal(aoi, &run.AOI); err != nil {
		return db.Run{}, fmt.Errorf("unmarshal aoi: %w", err)
	}
	if len(report) > 0 {
		run.Report = &common.RunReport{}
		if err := json.Unmarshal(report, run.Report); err != nil {
			return db.Run{}, fmt.Errorf("unmarshal report: %w", err)
		}
	}
	s, err := common.RunStateString(state)
	if err != nil {
		return db.Run{}, err
	}
	run.State = s
	return run, nil
}

const runColumns = "id, aoi, state, message, report, created_at, updated_at"

// Run implements RunBackend
func (b Backend) Run(ctx context.Context, id string) (db.Run, error) {
	row := b.QueryRowContext(ctx, "select "+runColumns+" from run where id = $1", id)
	run, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return db.Run{}, db.ErrNotFound{Type: "run", ID: id}
	}
	if err != nil {
		return db.Run{}, fmt.Errorf("Run.Scan: %w", err)
	}
	return run, nil
}

// Runs implements RunBackend
func (b Backend) Runs(ctx context.Context, pattern string, page, limit int) ([]db.Run, error) {
	wc := clauses{}
	if pattern != "" {
		p, op := parsePattern(pattern)
		wc.append("aoi_name "+op+" $%d", p)
	}
	rows, err := b.QueryContext(ctx,
		"select "+runColumns+" from run"+wc.where()+" ORDER BY created_at"+limitOffsetClause(page, limit),
		wc.Parameters...)
	if err != nil {
		return nil, fmt.Errorf("Runs.QueryContext: %w", err)
	}
	defer rows.Close()
	runs := make([]db.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("Runs.Scan: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Runs.rows.err: %w", err)
	}
	return runs, nil
}

// UpdateRun implements RunBackend
func (b Backend) UpdateRun(ctx context.Context, id string, state common.RunState, message *string) error {
	var res sql.Result
	var err error
	if message != nil {
		res, err = b.ExecContext(ctx, "update run set state=$2, message=$3, updated_at=now() where id=$1", id, state.String(), *message)
	} else {
		res, err = b.ExecContext(ctx, "update run set state=$2, updated_at=now() where id=$1", id, state.String())
	}
	if err != nil {
		return fmt.Errorf("UpdateRun.exec: %w", err)
	}
	if nb, err := res.RowsAffected(); err == nil && nb == 0 {
		return db.ErrNotFound{Type: "run", ID: id}
	}
	return nil
}

// SetRunReport implements RunBackend
func (b Backend) SetRunReport(ctx context.Context, id string, report common.RunReport) error {
	j, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("SetRunReport.Marshal: %w", err)
	}
	res, err := b.ExecContext(ctx, "update run set report=$2, updated_at=now() where id=$1", id, j)
	if err != nil {
		return fmt.Errorf("SetRunReport.exec: %w", err)
	}
	if nb, err := res.RowsAffected(); err == nil && nb == 0 {
		return db.ErrNotFound{Type: "run", ID: id}
	}
	return nil
}

// CreateTile implements RunBackend
func (b Backend) CreateTile(ctx context.Context, runID string, tile common.TileRef, status common.Status) error {
	assets, err := json.Marshal(tile.Assets)
	if err != nil {
		return fmt.Errorf("CreateTile.Marshal: %w", err)
	}
	_, err = b.ExecContext(ctx,
		"insert into tile(run_id, key, source_id, date, geometry, cloud_cover, assets, status) values($1, $2, $3, $4, $5, $6, $7, $8)",
		runID, tile.Key(), tile.SourceID, tile.Date, tile.GeometryWKT, tile.CloudCover, assets, status)
	switch pqErrorCode(err) {
	case noError:
		return nil
	case uniqueViolation:
		return db.ErrAlreadyExists{Type: "tile", ID: tile.Key()}
	case foreignKeyViolation:
		return db.ErrNotFound{Type: "run", ID: runID}
	default:
		return fmt.Errorf("CreateTile.exec: %w", err)
	}
}

// Tiles implements RunBackend
func (b Backend) Tiles(ctx context.Context, runID string, status string, page, limit int) ([]db.Tile, error) {
	wc := clauses{}
	wc.append("run_id = $%d", runID)
	if status != "" {
		wc.append("status = $%d", status)
	}
	rows, err := b.QueryContext(ctx,
		"select run_id, source_id, date, geometry, cloud_cover, assets, status, message, uri from tile"+
			wc.where()+" ORDER BY key"+limitOffsetClause(page, limit),
		wc.Parameters...)
	if err != nil {
		return nil, fmt.Errorf("Tiles.QueryContext: %w", err)
	}
	defer rows.Close()
	tiles := make([]db.Tile, 0)
	for rows.Next() {
		var tile db.Tile
		var assets []byte
		if err := rows.Scan(&tile.RunID, &tile.SourceID, &tile.Date, &tile.GeometryWKT, &tile.CloudCover, &assets, &tile.Status, &tile.Message, &tile.URI); err != nil {
			return nil, fmt.Errorf("Tiles.Scan: %w", err)
		}
		if err := json.Unmarshal(assets, &tile.Assets); err != nil {
			return nil, fmt.Errorf("Tiles.Unmarshal: %w", err)
		}
		tiles = append(tiles, tile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Tiles.rows.err: %w", err)
	}
	return tiles, nil
}

// UpdateTile implements RunBackend
func (b Backend) UpdateTile(ctx context.Context, runID, key string, status common.Status, message *string, uri string) error {
	wc := clauses{}
	wc.append("status = $%d", status)
	if message != nil {
		wc.append("message = $%d", *message)
	}
	if uri != "" {
		wc.append("uri = $%d", uri)
	}
	wc.Parameters = append(wc.Parameters, runID, key)
	res, err := b.ExecContext(ctx,
		fmt.Sprintf("update tile set %s where run_id=$%d and key=$%d",
			wc.join("", ", ", ""), len(wc.Parameters)-1, len(wc.Parameters)),
		wc.Parameters...)
	if err != nil {
		return fmt.Errorf("UpdateTile.exec: %w", err)
	}
	if nb, err := res.RowsAffected(); err == nil && nb == 0 {
		return db.ErrNotFound{Type: "tile", ID: key}
	}
	return nil
}

// TilesStatus implements RunBackend
func (b Backend) TilesStatus(ctx context.Context, runID string) (db.Status, error) {
	rows, err := b.QueryContext(ctx, "select status, count(*) from tile where run_id = $1 GROUP BY status", runID)
	if err != nil {
		return db.Status{}, fmt.Errorf("TilesStatus.QueryContext: %w", err)
	}
	defer rows.Close()
	status := db.Status{}
	for rows.Next() {
		var s common.Status
		var nb int64
		if err := rows.Scan(&s, &nb); err != nil {
			return db.Status{}, fmt.Errorf("TilesStatus.Scan: %w", err)
		}
		status.Set(s, nb)
	}
	if err := rows.Err(); err != nil {
		return db.Status{}, fmt.Errorf("TilesStatus.rows.err: %w", err)
	}
	return status, nil
}
