package domain

// DataType identifies the sample type a raster declares, matching the two
// GeoTIFF sample layouts the store can encode.
type DataType uint8

const (
	DataTypeByte    DataType = iota + 1 // Unsigned 8-bit samples
	DataTypeFloat32                     // IEEE 754 32-bit samples
)

// Size returns the bytes one sample of this type occupies on disk.
func (t DataType) Size() int {
	switch t {
	case DataTypeByte:
		return 1
	case DataTypeFloat32:
		return 4
	default:
		return 0
	}
}

func (t DataType) String() string {
	switch t {
	case DataTypeByte:
		return "Byte"
	case DataTypeFloat32:
		return "Float32"
	default:
		return "Unknown"
	}
}

// RasterInfo describes raster dimensions without carrying pixel data. It is
// what the scheduler prices admissions with, so producing one must never
// require loading the raster itself.
type RasterInfo struct {
	Width    int
	Height   int
	Bands    int
	DataType DataType
}

// SizeMB is the memory footprint implied by the raster dimensions and its
// declared sample type.
func (i RasterInfo) SizeMB() float64 {
	return float64(i.Width) * float64(i.Height) * float64(i.Bands) * float64(i.DataType.Size()) / (1 << 20)
}

// TaskMemoryMB estimates the cost of computing one index over this raster:
// the input raster plus a single-band output of the same dimensions.
func (i RasterInfo) TaskMemoryMB() float64 {
	size := i.SizeMB()
	return size + size/float64(i.Bands)
}

// Raster is an in-memory pixel grid. Samples are stored band-major, so one
// band occupies a contiguous run of Width*Height values. Bands are numbered
// from 1. Rasters are treated as immutable once handed to the store.
type Raster struct {
	Width    int
	Height   int
	Bands    int
	DataType DataType
	Samples  []float64
}

// NewRaster allocates a zeroed raster of the given shape.
func NewRaster(width, height, bands int, dataType DataType) *Raster {
	return &Raster{
		Width:    width,
		Height:   height,
		Bands:    bands,
		DataType: dataType,
		Samples:  make([]float64, width*height*bands),
	}
}

// Band returns the samples of the 1-based band number.
func (r *Raster) Band(band int) []float64 {
	size := r.Width * r.Height
	return r.Samples[(band-1)*size : band*size]
}

// Info describes the raster's shape.
func (r *Raster) Info() RasterInfo {
	return RasterInfo{Width: r.Width, Height: r.Height, Bands: r.Bands, DataType: r.DataType}
}

// BandStats are the per-band statistics special formula functions substitute.
type BandStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}
