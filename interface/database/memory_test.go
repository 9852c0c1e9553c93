package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alfredoluis848/ndvi-ingester/common"
)

func testRun(id string) Run {
	return Run{
		ID: id,
		AOI: common.AreaOfInterest{
			Name:          "andes",
			BBox:          common.BBox{-71, -34, -70, -33},
			StartDate:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			EndDate:       time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
			MaxCloudCover: 20,
		},
		State: common.RunPending,
	}
}

func TestMemoryRuns(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	if err := b.CreateRun(ctx, testRun("r1")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	var exists ErrAlreadyExists
	if err := b.CreateRun(ctx, testRun("r1")); !errors.As(err, &exists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	var notFound ErrNotFound
	if _, err := b.Run(ctx, "nope"); !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := b.UpdateRun(ctx, "r1", common.RunProcessing, nil); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	run, err := b.Run(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if run.State != common.RunProcessing {
		t.Errorf("state=%s", run.State)
	}

	if err := b.SetRunReport(ctx, "r1", common.RunReport{RunID: "r1", Attempted: 3, Succeeded: 3}); err != nil {
		t.Fatalf("SetRunReport: %v", err)
	}
	run, _ = b.Run(ctx, "r1")
	if run.Report == nil || run.Report.Succeeded != 3 {
		t.Errorf("report=%v", run.Report)
	}

	runs, err := b.Runs(ctx, "and*", 0, 0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("Runs(and*)=%v, %v", runs, err)
	}
	if runs, _ := b.Runs(ctx, "other*", 0, 0); len(runs) != 0 {
		t.Errorf("Runs(other*)=%v", runs)
	}
}

func TestMemoryTiles(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	if err := b.CreateRun(ctx, testRun("r1")); err != nil {
		t.Fatal(err)
	}

	date := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tiles := []common.TileRef{
		{SourceID: "S2A_A", Date: date},
		{SourceID: "S2A_B", Date: date},
		{SourceID: "S2A_C", Date: date.AddDate(0, 0, 1)},
	}
	for _, tile := range tiles {
		if err := b.CreateTile(ctx, "r1", tile, common.StatusNEW); err != nil {
			t.Fatalf("CreateTile: %v", err)
		}
	}
	var exists ErrAlreadyExists
	if err := b.CreateTile(ctx, "r1", tiles[0], common.StatusNEW); !errors.As(err, &exists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	msg := "stored"
	if err := b.UpdateTile(ctx, "r1", tiles[0].Key(), common.StatusDONE, &msg, "file:///out.ndrs"); err != nil {
		t.Fatalf("UpdateTile: %v", err)
	}
	if err := b.UpdateTile(ctx, "r1", tiles[1].Key(), common.StatusFAILED, nil, ""); err != nil {
		t.Fatal(err)
	}

	status, err := b.TilesStatus(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if status.Done != 1 || status.Failed != 1 || status.New != 1 {
		t.Errorf("status=%+v", status)
	}

	done, err := b.Tiles(ctx, "r1", common.StatusDONE.String(), 0, 0)
	if err != nil || len(done) != 1 {
		t.Fatalf("Tiles(DONE)=%v, %v", done, err)
	}
	if done[0].URI != "file:///out.ndrs" || done[0].Message != "stored" {
		t.Errorf("tile=%+v", done[0])
	}

	// the filter is exact, like the sql backend: callers canonicalize
	if tiles, _ := b.Tiles(ctx, "r1", "done", 0, 0); len(tiles) != 0 {
		t.Errorf("Tiles(done)=%v, want none", tiles)
	}

	all, _ := b.Tiles(ctx, "r1", "", 0, 2)
	if len(all) != 2 {
		t.Errorf("page size=%d, want 2", len(all))
	}
}
