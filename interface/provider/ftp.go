package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/alfredoluis848/ndvi-ingester/common"
	"github.com/alfredoluis848/ndvi-ingester/service"
)

// FTPBandProvider implements BandProvider for connection to FTP
type FTPBandProvider struct {
	hote        string
	pathPattern string
	user        string
	pword       string
	tls         bool
}

// Name implements BandProvider
func (ip *FTPBandProvider) Name() string {
	return "FTP"
}

// NewFTPBandProvider creates a new BandProvider for ftp download link
// Example:
// pathPattern: full ftp path, including hote, port and folder tree, with {BAND}
// and the tile keys of common.TileRef.Info(). i.e:
// ftp://ftp.example.org:21/rasters/{YEAR}/{KEY}_{BAND}.ndrs (see common.FormatBrackets)
func NewFTPBandProvider(pathPattern, user, pword string) *FTPBandProvider {
	if strings.HasPrefix(pathPattern, "ftp://") {
		pathPattern = pathPattern[6:]
	}
	splits := strings.SplitN(pathPattern, "/", 2)
	if len(splits) == 1 {
		splits = append(splits, "{KEY}_{BAND}.ndrs")
	}
	splitHote := strings.SplitN(splits[0], ":", 2)
	tls := len(splitHote) == 2 && splitHote[1] == "990"

	return &FTPBandProvider{
		hote:        splits[0],
		tls:         tls,
		pathPattern: splits[1],
		user:        user,
		pword:       pword,
	}
}

// Download implements BandProvider
func (ip *FTPBandProvider) Download(ctx context.Context, tile common.TileRef, localDir string) error {
	// Connection to FTP
	ftpOption := []ftp.DialOption{ftp.DialWithTimeout(5 * time.Second)}
	if ip.tls {
		ftpOption = append(ftpOption, ftp.DialWithTLS(&tls.Config{InsecureSkipVerify: true}))
	}
	c, err := ftp.Dial(ip.hote, ftpOption...)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("FTPBandProvider.Dial: %w", err))
	}

	if err = c.Login(ip.user, ip.pword); err != nil {
		return fmt.Errorf("FTPBandProvider.Login: %w", err)
	}
	defer c.Quit()

	for _, band := range []string{common.AssetRed, common.AssetNIR} {
		if err := ip.downloadBand(ctx, c, tile, band, localDir); err != nil {
			return err
		}
	}
	return nil
}

func (ip *FTPBandProvider) downloadBand(ctx context.Context, c *ftp.ServerConn, tile common.TileRef, band, localDir string) error {
	path := common.FormatBrackets(ip.pathPattern, tile.Info(), map[string]string{"BAND": band})

	// Get file size
	s, _ := c.FileSize(path)

	// Get file stream
	r, err := c.Retr(path)
	if err != nil {
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable {
			return ErrTileNotFound{"ftp://" + ip.hote + "/" + path}
		}
		return service.MakeTemporary(fmt.Errorf("FTPBandProvider.Retr: %w", err))
	}
	defer r.Close()

	// Download to local file
	localFile := BandFilePath(localDir, tile, band)
	destFile, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("FTPBandProvider.Create: %w", err)
	}
	defer destFile.Close()

	if _, err = io.Copy(destFile, io.TeeReader(r, &WriteCounter{Progress: NewProgress(ctx, "Ftp:"+tile.Key()+"/"+band, s, 0.05)})); err != nil {
		os.Remove(localFile)
		return service.MakeTemporary(fmt.Errorf("FTPBandProvider.Copy: %w", err))
	}
	return nil
}
