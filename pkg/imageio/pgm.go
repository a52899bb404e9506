package imageio

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"go-blur-halo/pkg/common"
)

var errNotPGM = errors.New("not a binary PGM (P5) file")

// maxPixels bounds the raster size accepted from a header.
const maxPixels = 1 << 31

// DecodePGM reads a binary P5 graymap. Samples are one byte when maxval is
// below 256 and two big-endian bytes otherwise.
func DecodePGM(r io.Reader) (*common.Image, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, 2)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != "P5" {
		return nil, errNotPGM
	}

	var fields [3]int
	for i := range fields {
		v, err := readHeaderInt(br)
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		fields[i] = v
	}
	width, height, maxValue := fields[0], fields[1], fields[2]
	if width <= 0 || height <= 0 || maxValue <= 0 || maxValue > 65535 {
		return nil, fmt.Errorf("invalid PGM header %dx%d maxval %d", width, height, maxValue)
	}
	if width*height > maxPixels {
		return nil, fmt.Errorf("PGM raster %dx%d exceeds %d pixels", width, height, maxPixels)
	}

	img := common.NewImage(width, height, maxValue)
	if maxValue < 256 {
		raw := make([]byte, width*height)
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, fmt.Errorf("read raster: %w", err)
		}
		widen(img.Pix, raw)
		return img, nil
	}
	raw := make([]byte, 2*width*height)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, fmt.Errorf("read raster: %w", err)
	}
	fromBigEndian(img.Pix, raw)
	return img, nil
}

// readHeaderInt skips whitespace and comments, then parses one decimal
// field and consumes the single whitespace byte that ends it.
func readHeaderInt(br *bufio.Reader) (int, error) {
	c, err := br.ReadByte()
	for err == nil {
		if c == '#' {
			if _, err = br.ReadString('\n'); err != nil {
				return 0, err
			}
		} else if !isSpace(c) {
			break
		}
		c, err = br.ReadByte()
	}
	if err != nil {
		return 0, err
	}

	v, digits := 0, 0
	for ; err == nil && c >= '0' && c <= '9'; c, err = br.ReadByte() {
		v = v*10 + int(c-'0')
		digits++
		if v > 1<<24 {
			return 0, fmt.Errorf("header field too large")
		}
	}
	if digits == 0 {
		return 0, fmt.Errorf("unexpected byte %q in header", c)
	}
	if err != nil {
		return 0, err
	}
	if !isSpace(c) {
		return 0, fmt.Errorf("unexpected byte %q after header field", c)
	}
	return v, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// EncodePGM writes img as a binary P5 graymap.
func EncodePGM(w io.Writer, img *common.Image) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "P5\n# generated by go-blur-halo\n%d %d\n%d\n", img.Width, img.Height, img.MaxValue); err != nil {
		return err
	}
	n := img.Width * img.Height
	if img.MaxValue < 256 {
		raw := make([]byte, n)
		for i, v := range img.Pix[:n] {
			raw[i] = byte(Value(v))
		}
		if _, err := bw.Write(raw); err != nil {
			return err
		}
	} else {
		raw := make([]byte, 2*n)
		toBigEndian(raw, img.Pix[:n])
		if _, err := bw.Write(raw); err != nil {
			return err
		}
	}
	return bw.Flush()
}
