// Package raster implements the self-describing raster format used for band
// artefacts and computed index rasters: a fixed header (magic, version, pixel
// type, dimensions, nodata sentinel), a JSON metadata block, and the pixel
// grid in row-major little-endian order.
package raster

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

const (
	magic         = "NDRS"
	formatVersion = 1

	// FileExtension of raster artefacts
	FileExtension = "ndrs"

	// DTypeFloat32 is the only pixel type currently written
	DTypeFloat32 = 1

	// maxPixels and maxMetaSize guard against decoding absurd headers
	maxPixels   = 1 << 30
	maxMetaSize = 1 << 20
)

// ErrInvalidFormat is returned by Decode when the payload is truncated or
// not a raster. It is terminal: the artefact is corrupt, not retryable.
type ErrInvalidFormat struct {
	Reason string
}

func (e ErrInvalidFormat) Error() string {
	return fmt.Sprintf("invalid raster: %s", e.Reason)
}

// Raster is a single-band grid with its nodata sentinel and provenance
type Raster struct {
	Width, Height int
	Nodata        float32
	Pixels        []float32
	Meta          map[string]string
}

// At returns the pixel at (x, y)
func (r *Raster) At(x, y int) float32 {
	return r.Pixels[y*r.Width+x]
}

type header struct {
	Magic    [4]byte
	Version  uint8
	DType    uint8
	_        uint16
	Width    uint32
	Height   uint32
	Nodata   float32
	MetaSize uint32
}

// Encode writes the raster to w
func Encode(w io.Writer, r *Raster) error {
	if r.Width <= 0 || r.Height <= 0 || len(r.Pixels) != r.Width*r.Height {
		return fmt.Errorf("raster.Encode: inconsistent dimensions %dx%d with %d pixels", r.Width, r.Height, len(r.Pixels))
	}
	meta, err := json.Marshal(r.Meta)
	if err != nil {
		return fmt.Errorf("raster.Encode.Marshal: %w", err)
	}

	h := header{
		Version:  formatVersion,
		DType:    DTypeFloat32,
		Width:    uint32(r.Width),
		Height:   uint32(r.Height),
		Nodata:   r.Nodata,
		MetaSize: uint32(len(meta)),
	}
	copy(h.Magic[:], magic)
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("raster.Encode.header: %w", err)
	}
	if _, err := w.Write(meta); err != nil {
		return fmt.Errorf("raster.Encode.meta: %w", err)
	}

	buf := make([]byte, 4*len(r.Pixels))
	for i, p := range r.Pixels {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(p))
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("raster.Encode.pixels: %w", err)
	}
	return nil
}

// Decode reads a raster from r, returning ErrInvalidFormat on malformed input
func Decode(r io.Reader) (*Raster, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, ErrInvalidFormat{Reason: fmt.Sprintf("header: %v", err)}
	}
	if string(h.Magic[:]) != magic {
		return nil, ErrInvalidFormat{Reason: fmt.Sprintf("bad magic %q", h.Magic)}
	}
	if h.Version != formatVersion {
		return nil, ErrInvalidFormat{Reason: fmt.Sprintf("unsupported version %d", h.Version)}
	}
	if h.DType != DTypeFloat32 {
		return nil, ErrInvalidFormat{Reason: fmt.Sprintf("unsupported pixel type %d", h.DType)}
	}
	if h.Width == 0 || h.Height == 0 || uint64(h.Width)*uint64(h.Height) > maxPixels {
		return nil, ErrInvalidFormat{Reason: fmt.Sprintf("bad dimensions %dx%d", h.Width, h.Height)}
	}

	out := &Raster{
		Width:  int(h.Width),
		Height: int(h.Height),
		Nodata: h.Nodata,
	}
	if h.MetaSize > maxMetaSize {
		return nil, ErrInvalidFormat{Reason: fmt.Sprintf("meta block of %d bytes", h.MetaSize)}
	}
	if h.MetaSize > 0 {
		meta := make([]byte, h.MetaSize)
		if _, err := io.ReadFull(r, meta); err != nil {
			return nil, ErrInvalidFormat{Reason: fmt.Sprintf("meta: %v", err)}
		}
		if err := json.Unmarshal(meta, &out.Meta); err != nil {
			return nil, ErrInvalidFormat{Reason: fmt.Sprintf("meta: %v", err)}
		}
	}

	n := out.Width * out.Height
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ErrInvalidFormat{Reason: fmt.Sprintf("pixels: %v", err)}
	}
	out.Pixels = make([]float32, n)
	for i := range out.Pixels {
		out.Pixels[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out, nil
}
