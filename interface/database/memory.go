package db

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/alfredoluis848/ndvi-ingester/common"
)

// MemoryBackend implements RunBackend in memory, for tests and single-process
// deployments
type MemoryBackend struct {
	mu    sync.RWMutex
	runs  map[string]Run
	tiles map[string]map[string]Tile
}

// NewMemoryBackend creates a new in-memory RunBackend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		runs:  map[string]Run{},
		tiles: map[string]map[string]Tile{},
	}
}

// CreateRun implements RunBackend
func (b *MemoryBackend) CreateRun(ctx context.Context, run Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.runs[run.ID]; ok {
		return ErrAlreadyExists{Type: "run", ID: run.ID}
	}
	now := time.Now()
	run.CreatedAt, run.UpdatedAt = now, now
	b.runs[run.ID] = run
	b.tiles[run.ID] = map[string]Tile{}
	return nil
}

// Run implements RunBackend
func (b *MemoryBackend) Run(ctx context.Context, id string) (Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	run, ok := b.runs[id]
	if !ok {
		return Run{}, ErrNotFound{Type: "run", ID: id}
	}
	return run, nil
}

// Runs implements RunBackend
func (b *MemoryBackend) Runs(ctx context.Context, pattern string, page, limit int) ([]Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	runs := make([]Run, 0, len(b.runs))
	for _, run := range b.runs {
		if pattern != "" {
			if ok, err := path.Match(pattern, run.AOI.Name); err != nil || !ok {
				continue
			}
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return paginate(runs, page, limit), nil
}

// UpdateRun implements RunBackend
func (b *MemoryBackend) UpdateRun(ctx context.Context, id string, state common.RunState, message *string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	run, ok := b.runs[id]
	if !ok {
		return ErrNotFound{Type: "run", ID: id}
	}
	run.State = state
	if message != nil {
		run.Message = *message
	}
	run.UpdatedAt = time.Now()
	b.runs[id] = run
	return nil
}

// SetRunReport implements RunBackend
func (b *MemoryBackend) SetRunReport(ctx context.Context, id string, report common.RunReport) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	run, ok := b.runs[id]
	if !ok {
		return ErrNotFound{Type: "run", ID: id}
	}
	run.Report = &report
	run.UpdatedAt = time.Now()
	b.runs[id] = run
	return nil
}

// CreateTile implements RunBackend
func (b *MemoryBackend) CreateTile(ctx context.Context, runID string, tile common.TileRef, status common.Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	tiles, ok := b.tiles[runID]
	if !ok {
		return ErrNotFound{Type: "run", ID: runID}
	}
	key := tile.Key()
	if _, ok := tiles[key]; ok {
		return ErrAlreadyExists{Type: "tile", ID: key}
	}
	tiles[key] = Tile{TileRef: tile, RunID: runID, Status: status}
	return nil
}

// Tiles implements RunBackend
func (b *MemoryBackend) Tiles(ctx context.Context, runID string, status string, page, limit int) ([]Tile, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	byKey, ok := b.tiles[runID]
	if !ok {
		return nil, ErrNotFound{Type: "run", ID: runID}
	}
	tiles := make([]Tile, 0, len(byKey))
	for _, tile := range byKey {
		if status != "" && tile.Status.String() != status {
			continue
		}
		tiles = append(tiles, tile)
	}
	sort.Slice(tiles, func(i, j int) bool { return tiles[i].Key() < tiles[j].Key() })
	return paginate(tiles, page, limit), nil
}

// UpdateTile implements RunBackend
func (b *MemoryBackend) UpdateTile(ctx context.Context, runID, key string, status common.Status, message *string, uri string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	tiles, ok := b.tiles[runID]
	if !ok {
		return ErrNotFound{Type: "run", ID: runID}
	}
	tile, ok := tiles[key]
	if !ok {
		return ErrNotFound{Type: "tile", ID: key}
	}
	tile.Status = status
	if message != nil {
		tile.Message = *message
	}
	if uri != "" {
		tile.URI = uri
	}
	tiles[key] = tile
	return nil
}

// TilesStatus implements RunBackend
func (b *MemoryBackend) TilesStatus(ctx context.Context, runID string) (Status, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tiles, ok := b.tiles[runID]
	if !ok {
		return Status{}, ErrNotFound{Type: "run", ID: runID}
	}
	counts := map[common.Status]int64{}
	for _, tile := range tiles {
		counts[tile.Status]++
	}
	status := Status{}
	for s, nb := range counts {
		status.Set(s, nb)
	}
	return status, nil
}

func paginate[T any](list []T, page, limit int) []T {
	if limit <= 0 {
		return list
	}
	offset := 0
	if page > 0 {
		offset = page * limit
	}
	if offset >= len(list) {
		return nil
	}
	if offset+limit > len(list) {
		return list[offset:]
	}
	return list[offset : offset+limit]
}
