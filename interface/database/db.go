// Package db persists the runs of the pipeline and the per-tile progress
// within them.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredoluis848/ndvi-ingester/common"
)

// Run is a single pipeline invocation over an area of interest
type Run struct {
	ID      string                `json:"id"`
	AOI     common.AreaOfInterest `json:"aoi"`
	State   common.RunState       `json:"state"`
	Message string                `json:"message,omitempty"`
	// Report is set once the run reaches a terminal state
	Report    *common.RunReport `json:"report,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Tile is a tile tracked within a run
type Tile struct {
	common.TileRef
	RunID   string        `json:"run_id"`
	Status  common.Status `json:"status"`
	Message string        `json:"message,omitempty"`
	// URI of the stored raster, set when the tile is done
	URI string `json:"uri,omitempty"`
}

type ErrAlreadyExists struct {
	Type, ID string
}

func (e ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Type, e.ID)
}

type ErrNotFound struct {
	Type, ID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Type, e.ID)
}

// Status counts the tiles of a run per status
type Status struct {
	New, Pending, Done, Failed, Skipped int64
}

// Set the number of occurences for a given status
func (s *Status) Set(status common.Status, nb int64) {
	switch status {
	case common.StatusNEW:
		s.New = nb
	case common.StatusPENDING:
		s.Pending = nb
	case common.StatusDONE:
		s.Done = nb
	case common.StatusFAILED:
		s.Failed = nb
	case common.StatusSKIPPED:
		s.Skipped = nb
	}
}

// RunBackend persists runs and their tiles
type RunBackend interface {
	// Create a new run, may return ErrAlreadyExists
	CreateRun(ctx context.Context, run Run) error
	// Get the run with the given id, may return ErrNotFound
	Run(ctx context.Context, id string) (Run, error)
	// Runs returns the list of the runs whose aoi name fits the pattern
	// pattern [optional=""] aoi_pattern
	Runs(ctx context.Context, pattern string, page, limit int) ([]Run, error)
	// Update run state & message (if != nil)
	UpdateRun(ctx context.Context, id string, state common.RunState, message *string) error
	// SetRunReport stores the report of a finished run
	SetRunReport(ctx context.Context, id string, report common.RunReport) error

	// Create a new tile within a run, may return ErrAlreadyExists
	CreateTile(ctx context.Context, runID string, tile common.TileRef, status common.Status) error
	// Tiles returns the list of tiles fitting the given parameters
	// status [optional=""] status of the tile
	Tiles(ctx context.Context, runID string, status string, page, limit int) ([]Tile, error)
	// Update tile status, message (if != nil) and uri (if != "")
	UpdateTile(ctx context.Context, runID, key string, status common.Status, message *string, uri string) error
	// Returns the status of the tiles of the run
	TilesStatus(ctx context.Context, runID string) (Status, error)
}
