package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/alfredoluis848/ndvi-ingester/common"
	"github.com/alfredoluis848/ndvi-ingester/service"
)

// GSBandProvider implements BandProvider for Google Storage band archives
type GSBandProvider struct {
	pathPattern string
}

// Name implements BandProvider
func (ip *GSBandProvider) Name() string {
	return "GoogleStorage (" + ip.pathPattern + ")"
}

// NewGSBandProvider creates a new BandProvider from a Google Storage bucket.
// pathPattern is a gs:// url with {BAND}, the tile keys of
// common.TileRef.Info() (see common.FormatBrackets) and optionally "*"/"?"
// wildcards, e.g. gs://rasters/{YEAR}/{MONTH}/{KEY}*_{BAND}.ndrs
func NewGSBandProvider(pathPattern string) (*GSBandProvider, error) {
	if !strings.HasPrefix(pathPattern, "gs://") {
		return nil, fmt.Errorf("GSBandProvider: not a gs:// url: %s", pathPattern)
	}
	return &GSBandProvider{pathPattern: pathPattern}, nil
}

func parseGsURL(url string) (bucket, object string, err error) {
	if !strings.HasPrefix(url, "gs://") {
		return "", "", fmt.Errorf("not a gs:// url: %s", url)
	}
	splits := strings.SplitN(url[5:], "/", 2)
	if len(splits) != 2 || splits[0] == "" || splits[1] == "" {
		return "", "", fmt.Errorf("missing bucket or object: %s", url)
	}
	return splits[0], splits[1], nil
}

// findBlob returns the first blob that matches the url pattern
func findBlob(ctx context.Context, client *storage.Client, url string) (string, error) {
	bucket, blob, err := parseGsURL(url)
	if err != nil {
		return "", err
	}
	// Create a regexp from blob, replacing "*" by ".*" and "?" by "."
	blobRe := strings.ReplaceAll(strings.ReplaceAll(regexp.QuoteMeta(blob), "\\*", ".*"), "\\?", ".")
	re, err := regexp.Compile(blobRe)
	if err != nil {
		return "", fmt.Errorf("compile[%s]: %w", blobRe, err)
	}
	// Extract the prefix
	if i := strings.Index(blob, "*"); i != -1 {
		blob = blob[:i]
	}
	// Find all the blobs that match the prefix
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: blob})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return "", service.MakeTemporary(fmt.Errorf("list[%s/%s*]: %w", bucket, blob, err))
		}
		if idx := re.FindIndex([]byte(attrs.Name)); idx != nil && idx[0] == 0 {
			return "gs://" + bucket + "/" + attrs.Name[:idx[1]], nil
		}
	}
	return url, ErrTileNotFound{url}
}

// Download implements BandProvider
func (ip *GSBandProvider) Download(ctx context.Context, tile common.TileRef, localDir string) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("GSBandProvider.NewClient: %w", err))
	}
	defer client.Close()

	for _, band := range []string{common.AssetRed, common.AssetNIR} {
		url := common.FormatBrackets(ip.pathPattern, tile.Info(), map[string]string{"BAND": band})
		if strings.Contains(url, "*") || strings.Contains(url, "?") {
			if url, err = findBlob(ctx, client, url); err != nil {
				return fmt.Errorf("GSBandProvider: %w", err)
			}
		}
		if err := ip.downloadBand(ctx, client, url, BandFilePath(localDir, tile, band)); err != nil {
			return fmt.Errorf("GSBandProvider[%s].%w", url, err)
		}
	}
	return nil
}

func (ip *GSBandProvider) downloadBand(ctx context.Context, client *storage.Client, url, localFile string) error {
	bucket, object, err := parseGsURL(url)
	if err != nil {
		return fmt.Errorf("downloadBand: %w", err)
	}
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return ErrTileNotFound{url}
		}
		return service.MakeTemporary(fmt.Errorf("downloadBand.NewReader: %w", err))
	}
	defer r.Close()

	destFile, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("downloadBand.Create: %w", err)
	}
	defer destFile.Close()
	if _, err := io.Copy(destFile, io.TeeReader(r, &WriteCounter{Progress: NewProgress(ctx, "GS:"+object, r.Attrs.Size, 0.05)})); err != nil {
		os.Remove(localFile)
		return service.MakeTemporary(fmt.Errorf("downloadBand.Copy: %w", err))
	}
	return nil
}
