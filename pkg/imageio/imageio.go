// Package imageio reads and writes grayscale rasters as common.Image values.
//
// Every codec exchanges pixels in stored order: the big-endian bytes of each
// sample reinterpreted as a host-order uint16, which is what a raw read of a
// 16-bit PGM raster into memory yields. 8-bit sources are widened into the
// same layout.
package imageio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go-blur-halo/pkg/common"
)

// Supported reports whether path has an extension this package can handle.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pgm", ".png", ".tif", ".tiff":
		return true
	}
	return false
}

// CheckExtension returns a configuration error for unsupported file names.
func CheckExtension(path string) error {
	if !Supported(path) {
		return common.Configf(common.ExitBadExtension,
			"Input file name must end in \".pgm\", \".png\" or \".tiff\". Given file name was %s", path)
	}
	return nil
}

// Load decodes the image at path.
func Load(path string) (*common.Image, error) {
	if err := CheckExtension(path); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	var img *common.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pgm":
		img, err = DecodePGM(file)
	case ".png":
		img, err = DecodePNG(file)
	default:
		img, err = DecodeTIFF(file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// Save encodes img to path, picking the format from the extension.
func Save(path string, img *common.Image) (err error) {
	if err := CheckExtension(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pgm":
		err = EncodePGM(file, img)
	case ".png":
		err = EncodePNG(file, img)
	default:
		err = EncodeTIFF(file, img)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}

// fromBigEndian turns big-endian sample bytes into a stored-order buffer.
func fromBigEndian(dst []uint16, raw []byte) {
	for i := range dst {
		dst[i] = binary.NativeEndian.Uint16(raw[2*i:])
	}
}

// toBigEndian writes a stored-order buffer back as big-endian bytes.
func toBigEndian(dst []byte, pix []uint16) {
	for i, v := range pix {
		binary.NativeEndian.PutUint16(dst[2*i:], v)
	}
}

// widen stores 8-bit samples in the 16-bit stored layout.
func widen(dst []uint16, raw []byte) {
	var b [2]byte
	for i, v := range raw {
		b[1] = v
		dst[i] = binary.NativeEndian.Uint16(b[:])
	}
}

// Value returns the numeric value of a stored-order sample.
func Value(stored uint16) uint16 {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], stored)
	return binary.BigEndian.Uint16(b[:])
}

// Stored is the inverse of Value.
func Stored(value uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], value)
	return binary.NativeEndian.Uint16(b[:])
}

// Values returns the numeric sample values of img.
func Values(img *common.Image) []uint16 {
	out := make([]uint16, len(img.Pix))
	for i, v := range img.Pix {
		out[i] = Value(v)
	}
	return out
}

// FromValues builds an image from numeric sample values.
func FromValues(width, height, maxValue int, values []uint16) *common.Image {
	img := common.NewImage(width, height, maxValue)
	for i, v := range values[:width*height] {
		img.Pix[i] = Stored(v)
	}
	return img
}
