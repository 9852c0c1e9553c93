package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alfredoluis848/ndvi-ingester/common"
	"github.com/alfredoluis848/ndvi-ingester/service"
)

func testTile(base string) common.TileRef {
	return common.TileRef{
		SourceID: "S2A_T31_A",
		Date:     time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		Assets: map[string]common.Asset{
			common.AssetRed: {Href: base + "/red"},
			common.AssetNIR: {Href: base + "/nir"},
		},
	}
}

func TestHTTPDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			http.Error(w, "unauthorized", 401)
			return
		}
		w.Write([]byte("content of " + r.URL.Path))
	}))
	defer server.Close()

	localDir := t.TempDir()
	tile := testTile(server.URL)
	if err := NewHTTPBandProvider("token").Download(context.Background(), tile, localDir); err != nil {
		t.Fatalf("Download: %v", err)
	}
	for band, want := range map[string]string{common.AssetRed: "content of /red", common.AssetNIR: "content of /nir"} {
		b, err := os.ReadFile(BandFilePath(localDir, tile, band))
		if err != nil {
			t.Fatalf("%s: %v", band, err)
		}
		if string(b) != want {
			t.Errorf("%s=%q, want %q", band, b, want)
		}
	}
}

func TestHTTPDownloadNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	err := NewHTTPBandProvider("").Download(context.Background(), testTile(server.URL), t.TempDir())
	var notFound ErrTileNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrTileNotFound, got %v", err)
	}
	if service.Temporary(err) {
		t.Errorf("ErrTileNotFound must not be temporary")
	}
}

func TestHTTPDownloadMissingAsset(t *testing.T) {
	tile := testTile("http://localhost")
	delete(tile.Assets, common.AssetRed)
	err := NewHTTPBandProvider("").Download(context.Background(), tile, t.TempDir())
	var notFound ErrTileNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrTileNotFound, got %v", err)
	}
}

func TestHTTPDownloadRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		http.Error(w, "slow down", 429)
	}))
	defer server.Close()

	err := NewHTTPBandProvider("").Download(context.Background(), testTile(server.URL), t.TempDir())
	rl, ok := service.RateLimited(err)
	if !ok {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if rl.RetryAfter != 42*time.Second {
		t.Errorf("retryAfter=%s, want 42s", rl.RetryAfter)
	}
	if !service.Temporary(err) {
		t.Errorf("rate limiting must be temporary")
	}
}

func TestHTTPDownloadTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", 503)
	}))
	defer server.Close()

	err := NewHTTPBandProvider("").Download(context.Background(), testTile(server.URL), t.TempDir())
	if err == nil || !service.Temporary(err) {
		t.Fatalf("expected a temporary error, got %v", err)
	}
}

func TestLocalDownload(t *testing.T) {
	srcDir := t.TempDir()
	tile := testTile("")
	for _, band := range []string{common.AssetRed, common.AssetNIR} {
		src := filepath.Join(srcDir, "2024", "06", "01", tile.Key()+"_"+band+".ndrs")
		if err := os.MkdirAll(filepath.Dir(src), 0700); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(src, []byte(band), 0600); err != nil {
			t.Fatal(err)
		}
	}

	localDir := t.TempDir()
	if err := NewLocalBandProvider(srcDir).Download(context.Background(), tile, localDir); err != nil {
		t.Fatalf("Download: %v", err)
	}
	b, err := os.ReadFile(BandFilePath(localDir, tile, common.AssetNIR))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != common.AssetNIR {
		t.Errorf("nir=%q", b)
	}
}

func TestLocalDownloadNotFound(t *testing.T) {
	err := NewLocalBandProvider(t.TempDir()).Download(context.Background(), testTile(""), t.TempDir())
	var notFound ErrTileNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrTileNotFound, got %v", err)
	}
}
