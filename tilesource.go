package hms

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
)

// tileRegion/tileRequest mirror the upstream crop service's JSON request
// body exactly (region.left/top/width/height, level, bits, colorspace,
// channels, z_slices, timepoints).
type tileRegion struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type tileRequest struct {
	Region     tileRegion `json:"region"`
	Level      int        `json:"level"`
	Bits       uint8      `json:"bits"`
	Colorspace string     `json:"colorspace"`
	Channels   uint32     `json:"channels"`
	ZSlices    uint32     `json:"z_slices"`
	Timepoints uint32     `json:"timepoints"`
}

// TileSource issues one crop request per tile spec and decodes the PNG
// response.
type TileSource interface {
	Fetch(spec TileSpec, plan TilingPlan, bpc uint8) (Tile, error)
}

// HTTPTileSource is the production TileSource, talking to the upstream
// image server over HTTP. Ambient stdlib plumbing (net/http,
// encoding/json, image/png): the domain dependency surface here is the
// upstream protocol itself, which the corpus does not model with a
// third-party client, so the standard library is the correct tool (see
// DESIGN.md).
type HTTPTileSource struct {
	Client *http.Client
}

func NewHTTPTileSource(client *http.Client) *HTTPTileSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTileSource{Client: client}
}

// Fetch issues POST {tile_source_url}/image/{path}/window.png with the
// crop-request body and decodes the PNG response into a Tile.
func (s *HTTPTileSource) Fetch(spec TileSpec, plan TilingPlan, bpc uint8) (Tile, error) {
	left, top, width, height := plan.Region(spec.X, spec.Y)

	body := tileRequest{
		Region:     tileRegion{Left: left, Top: top, Width: width, Height: height},
		Level:      0,
		Bits:       bpc,
		Colorspace: "GRAY",
		Channels:   spec.Slice.Channel,
		ZSlices:    spec.Slice.ZStack,
		Timepoints: spec.Slice.Time,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Tile{}, &SpecError{Spec: spec, Cause: errors.Join(ErrTileFetch, err)}
	}

	url := fmt.Sprintf("%s/image/%s/window.png", spec.Slice.TileSourceURL, spec.Slice.Path)
	resp, err := s.Client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return Tile{}, &SpecError{Spec: spec, Cause: errors.Join(ErrTileFetch, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Tile{}, &SpecError{Spec: spec, Cause: errors.Join(ErrTileFetch, fmt.Errorf("unexpected status %d", resp.StatusCode))}
	}

	img, err := png.Decode(resp.Body)
	if err != nil {
		return Tile{}, &SpecError{Spec: spec, Cause: errors.Join(ErrTileFetch, err)}
	}

	return decodeGray(img), nil
}

// decodeGray converts a decoded grayscale PNG (8 or 16 bit) into a Tile,
// widening 8-bit samples to uint16 so the ingest pipeline has a single
// in-memory pixel representation regardless of bpc.
func decodeGray(img image.Image) Tile {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	pix := make([]uint16, width*height)

	switch g := img.(type) {
	case *image.Gray16:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				pix[y*width+x] = g.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y
			}
		}
	case *image.Gray:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				pix[y*width+x] = uint16(g.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				pix[y*width+x] = uint16(r >> 8)
			}
		}
	}

	return Tile{Width: width, Height: height, Pix: pix}
}
