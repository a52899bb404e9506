package imageio

import (
	"errors"
	"image"
	"image/png"
	"io"

	"golang.org/x/image/tiff"

	"go-blur-halo/pkg/common"
)

var errColor = errors.New("only grayscale images are supported")

// DecodePNG reads an 8- or 16-bit grayscale PNG.
func DecodePNG(r io.Reader) (*common.Image, error) {
	m, err := png.Decode(r)
	if err != nil {
		return nil, err
	}
	return fromGray(m)
}

// DecodeTIFF reads an 8- or 16-bit grayscale TIFF.
func DecodeTIFF(r io.Reader) (*common.Image, error) {
	m, err := tiff.Decode(r)
	if err != nil {
		return nil, err
	}
	return fromGray(m)
}

// EncodePNG writes img as a grayscale PNG, 8-bit when MaxValue fits a byte.
func EncodePNG(w io.Writer, img *common.Image) error {
	return png.Encode(w, toGray(img))
}

// EncodeTIFF writes img as an uncompressed grayscale TIFF.
func EncodeTIFF(w io.Writer, img *common.Image) error {
	return tiff.Encode(w, toGray(img), nil)
}

func fromGray(m image.Image) (*common.Image, error) {
	b := m.Bounds()
	width, height := b.Dx(), b.Dy()
	switch g := m.(type) {
	case *image.Gray16:
		img := common.NewImage(width, height, 65535)
		for y := 0; y < height; y++ {
			off := g.PixOffset(b.Min.X, b.Min.Y+y)
			fromBigEndian(img.Pix[y*width:(y+1)*width], g.Pix[off:off+2*width])
		}
		return img, nil
	case *image.Gray:
		img := common.NewImage(width, height, 255)
		for y := 0; y < height; y++ {
			off := g.PixOffset(b.Min.X, b.Min.Y+y)
			widen(img.Pix[y*width:(y+1)*width], g.Pix[off:off+width])
		}
		return img, nil
	}
	return nil, errColor
}

func toGray(img *common.Image) image.Image {
	rect := image.Rect(0, 0, img.Width, img.Height)
	n := img.Width * img.Height
	if img.MaxValue < 256 {
		g := image.NewGray(rect)
		for i, v := range img.Pix[:n] {
			g.Pix[i] = byte(Value(v))
		}
		return g
	}
	g := image.NewGray16(rect)
	toBigEndian(g.Pix, img.Pix[:n])
	return g
}
