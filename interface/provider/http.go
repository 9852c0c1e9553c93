package provider

import (
	"context"
	"fmt"

	"github.com/cavaliercoder/grab"

	"github.com/alfredoluis848/ndvi-ingester/common"
)

// HTTPBandProvider implements BandProvider for the asset links carried by the
// tile itself, such as the ones returned by a STAC search
type HTTPBandProvider struct {
	// Token is an optional bearer token added to the asset requests
	Token string
	// CopyAuthOnRedirect forwards the Authorization header across redirects
	CopyAuthOnRedirect bool
}

// Name implements BandProvider
func (ip *HTTPBandProvider) Name() string {
	return "HTTP"
}

// NewHTTPBandProvider creates a new BandProvider for the download links of the tile assets
func NewHTTPBandProvider(token string) *HTTPBandProvider {
	return &HTTPBandProvider{Token: token}
}

// Download implements BandProvider
func (ip *HTTPBandProvider) Download(ctx context.Context, tile common.TileRef, localDir string) error {
	for _, band := range []string{common.AssetRed, common.AssetNIR} {
		asset, ok := tile.Assets[band]
		if !ok || asset.Href == "" {
			return ErrTileNotFound{tile.SourceID + "/" + band}
		}
		if err := ip.downloadBand(ctx, tile, band, asset.Href, localDir); err != nil {
			return fmt.Errorf("HTTPBandProvider.%w", err)
		}
	}
	return nil
}

func (ip *HTTPBandProvider) downloadBand(ctx context.Context, tile common.TileRef, band, href, localDir string) error {
	localFile := BandFilePath(localDir, tile, band)
	req, err := grab.NewRequest(localFile, href)
	if err != nil {
		return fmt.Errorf("downloadBand.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)
	req.NoResume = true

	if ip.Token != "" {
		req.HTTPRequest.Header.Add("Authorization", "Bearer "+ip.Token)
	}

	if err := download(ctx, req, tile.Key()+"/"+band, ip.CopyAuthOnRedirect); err != nil {
		if _, ok := err.(ErrTileNotFound); ok {
			return ErrTileNotFound{tile.SourceID + "/" + band}
		}
		return err
	}
	return nil
}
