package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/alfredoluis848/ndvi-ingester/common"
)

// LocalBandProvider implements BandProvider for local storage
type LocalBandProvider struct {
	pathPattern string
}

// Name implements BandProvider
func (ip *LocalBandProvider) Name() string {
	return "FileSystem (" + ip.pathPattern + ")"
}

// NewLocalBandProvider creates a new BandProvider from local storage.
// pathPattern is the path of a band raster or zip, with {BAND} and any
// tile key of common.TileRef.Info(), e.g.
// /archive/{YEAR}/{MONTH}/{KEY}_{BAND}.ndrs (see common.FormatBrackets).
// A pattern pointing to a directory defaults to {YEAR}/{MONTH}/{DAY}/{KEY}_{BAND}.ndrs inside it.
func NewLocalBandProvider(pathPattern string) *LocalBandProvider {
	if !strings.Contains(pathPattern, "{BAND}") {
		pathPattern = path.Join(pathPattern, "{YEAR}", "{MONTH}", "{DAY}", "{KEY}_{BAND}.ndrs")
	}
	return &LocalBandProvider{pathPattern: pathPattern}
}

// Download implements BandProvider
func (ip *LocalBandProvider) Download(ctx context.Context, tile common.TileRef, localDir string) error {
	for _, band := range []string{common.AssetRed, common.AssetNIR} {
		src := common.FormatBrackets(ip.pathPattern, tile.Info(), map[string]string{"BAND": band})
		if _, err := os.Stat(src); err != nil {
			if os.IsNotExist(err) {
				return ErrTileNotFound{src}
			}
			return fmt.Errorf("LocalBandProvider: %w", err)
		}
		if filepath.Ext(src) == ".zip" {
			if err := unarchive(src, localDir); err != nil {
				return fmt.Errorf("LocalBandProvider.Unarchive: %w", err)
			}
			continue
		}
		if err := fileCopy(src, BandFilePath(localDir, tile, band)); err != nil {
			return fmt.Errorf("LocalBandProvider.%w", err)
		}
	}
	return nil
}

// fileCopy copies a single file from src to dst
func fileCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("fileCopy.Open: %w", err)
	}
	defer in.Close()

	_ = os.MkdirAll(path.Dir(dst), 0700)
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("fileCopy.Create: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("fileCopy.Copy: %w", err)
	}
	return nil
}
