package metadata

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image reports width, height, channels and format from the image header.
// The pixel data is not decoded.
type Image struct{}

func (Image) Extract(_ context.Context, rs io.ReadSeeker, _ string) (Metadata, error) {
	cfg, format, err := image.DecodeConfig(rs)
	if err != nil {
		return nil, errors.Join(ErrExtract, err)
	}
	return Metadata{
		"width":    cfg.Width,
		"height":   cfg.Height,
		"channels": channels(cfg.ColorModel),
		"format":   format,
	}, nil
}

func channels(m color.Model) int {
	if p, ok := m.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return 4
			}
		}
		return 3
	}
	switch m {
	case color.GrayModel, color.Gray16Model, color.AlphaModel, color.Alpha16Model:
		return 1
	case color.YCbCrModel:
		return 3
	case color.CMYKModel, color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model, color.NYCbCrAModel:
		return 4
	}
	return 3
}
