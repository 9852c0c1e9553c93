package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alfredoluis848/ndvi-ingester/common"
)

func testTile() common.TileRef {
	return common.TileRef{
		SourceID: "S2B_MSIL2A_20230712T133839_R124_T22KBV",
		Date:     time.Date(2023, 7, 12, 0, 0, 0, 0, time.UTC),
	}
}

func TestLocalStorePutGet(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())
	tile := testTile()

	if ok, err := store.Exists(ctx, tile); err != nil || ok {
		t.Errorf("expected not exists, got %v/%v", ok, err)
	}
	var nf ErrRasterNotFound
	if _, err := store.Get(ctx, tile); !errors.As(err, &nf) {
		t.Errorf("expected ErrRasterNotFound, got %v", err)
	}

	if _, err := store.Put(ctx, tile, strings.NewReader("payload")); err != nil {
		t.Fatal(err)
	}
	if ok, err := store.Exists(ctx, tile); err != nil || !ok {
		t.Errorf("expected exists, got %v/%v", ok, err)
	}

	r, err := store.Get(ctx, tile)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	body, _ := io.ReadAll(r)
	if string(body) != "payload" {
		t.Errorf("expected payload, got %s", body)
	}
}

func TestLocalStoreIdempotentPut(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())
	tile := testTile()

	if _, err := store.Put(ctx, tile, strings.NewReader("v")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(ctx, tile, strings.NewReader("v")); err != nil {
		t.Fatal(err)
	}
	r, err := store.Get(ctx, tile)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	body, _ := io.ReadAll(r)
	if string(body) != "v" {
		t.Errorf("expected v, got %s", body)
	}
}

// A get concurrent with repeated puts must always observe a complete payload.
func TestLocalStoreNoPartialRead(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())
	tile := testTile()
	payload := bytes.Repeat([]byte("x"), 1<<16)

	if _, err := store.Put(ctx, tile, bytes.NewReader(payload)); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			store.Put(ctx, tile, bytes.NewReader(payload))
		}
	}()

	for i := 0; i < 100; i++ {
		r, err := store.Get(ctx, tile)
		if err != nil {
			t.Errorf("get %d: %v", i, err)
			continue
		}
		body, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Errorf("read %d: %v", i, err)
		} else if len(body) != len(payload) {
			t.Errorf("read %d: partial payload of %d bytes", i, len(body))
		}
	}
	close(stop)
	wg.Wait()
}

func TestLocalStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())
	tile := testTile()

	if _, err := store.Put(ctx, tile, strings.NewReader("payload")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, tile); err != nil {
		t.Fatal(err)
	}
	var nf ErrRasterNotFound
	if err := store.Delete(ctx, tile); !errors.As(err, &nf) {
		t.Errorf("expected ErrRasterNotFound, got %v", err)
	}
}
