package common

// Image is a row-major grayscale raster. Pix holds samples in stored order:
// the big-endian bytes of each sample reinterpreted as a host-order uint16.
// Use byteorder.Normalizer to move between stored and native order.
type Image struct {
	Pix      []uint16 `json:"-"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	MaxValue int      `json:"max_value"`
}

func NewImage(width, height, maxValue int) *Image {
	return &Image{
		Pix:      make([]uint16, width*height),
		Width:    width,
		Height:   height,
		MaxValue: maxValue,
	}
}

// Bytes returns the size of the pixel buffer in bytes.
func (img *Image) Bytes() int {
	return 2 * len(img.Pix)
}

// Partition is the row range one rank works on. [RowStart, RowEnd) includes
// the halo rows; the rank produces output only for its own rows.
type Partition struct {
	Rank      int `json:"rank"`
	RowStart  int `json:"row_start"`
	RowEnd    int `json:"row_end"`
	HaloAbove int `json:"halo_above"`
	HaloBelow int `json:"halo_below"`
	OwnRows   int `json:"own_rows"`
}

func (p Partition) OwnStart() int { return p.RowStart + p.HaloAbove }
func (p Partition) OwnEnd() int   { return p.RowEnd - p.HaloBelow }

// Rows is the height of the block shipped to the rank, halo included.
func (p Partition) Rows() int { return p.RowEnd - p.RowStart }

// WorkBlock is the slice of the source image handed to one rank.
type WorkBlock struct {
	Partition
	Width int      `json:"width"`
	Pix   []uint16 `json:"-"`
}

// BlurredBlock holds the output rows of one rank. Halo rows are never part of it.
type BlurredBlock struct {
	Rank  int      `json:"rank"`
	Width int      `json:"width"`
	Rows  int      `json:"rows"`
	Pix   []uint16 `json:"-"`
}

// Abort tells the other ranks to stop before any block is exchanged.
type Abort struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// MaxValue is set when the source depth was rejected.
	MaxValue int `json:"max_value,omitempty"`
}

// Header is broadcast by the coordinator before the scatter. It carries the
// image metadata every rank needs to recompute the partition table.
type Header struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	MaxValue int    `json:"max_value"`
	Abort    *Abort `json:"abort,omitempty"`
}

// GatherLayout describes where each rank's contribution lands in Dst.
type GatherLayout struct {
	Dst    []uint16
	Counts []int
	Displs []int
}
