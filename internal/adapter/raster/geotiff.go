package raster

// Minimal GeoTIFF codec: little-endian, uncompressed, planar band layout with
// one strip per band, uint8 or float32 samples. It reads back everything it
// writes; exotic TIFF features are rejected with an error instead of being
// misread.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
)

const (
	tiffVersion = 42

	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339

	typeShort = 3
	typeLong  = 4

	compressionNone       = 1
	photometricMinIsBlack = 1
	planarChunky          = 1
	planarSeparate        = 2

	sampleFormatUint  = 1
	sampleFormatFloat = 3
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte // raw little-endian value bytes
}

func shortEntry(tag uint16, values ...uint16) ifdEntry {
	value := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(value[i*2:], v)
	}
	return ifdEntry{tag: tag, typ: typeShort, count: uint32(len(values)), value: value}
}

func longEntry(tag uint16, values ...uint32) ifdEntry {
	value := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(value[i*4:], v)
	}
	return ifdEntry{tag: tag, typ: typeLong, count: uint32(len(values)), value: value}
}

func repeatShort(v uint16, n int) []uint16 {
	values := make([]uint16, n)
	for i := range values {
		values[i] = v
	}
	return values
}

// encode writes r as a single-IFD TIFF. Bands are stored planar, one strip
// per band, rows-per-strip equal to the image height.
func encode(w io.Writer, r *domain.Raster) error {
	if r.Width < 1 || r.Height < 1 || r.Bands < 1 {
		return fmt.Errorf("invalid raster shape %dx%dx%d", r.Width, r.Height, r.Bands)
	}
	sampleSize := r.DataType.Size()
	if sampleSize == 0 {
		return fmt.Errorf("unsupported data type %s", r.DataType)
	}
	if len(r.Samples) != r.Width*r.Height*r.Bands {
		return fmt.Errorf("raster has %d samples, shape needs %d", len(r.Samples), r.Width*r.Height*r.Bands)
	}

	bits := uint16(8 * sampleSize)
	format := uint16(sampleFormatUint)
	if r.DataType == domain.DataTypeFloat32 {
		format = sampleFormatFloat
	}
	stripSize := r.Width * r.Height * sampleSize

	entries := []ifdEntry{
		longEntry(tagImageWidth, uint32(r.Width)),
		longEntry(tagImageLength, uint32(r.Height)),
		shortEntry(tagBitsPerSample, repeatShort(bits, r.Bands)...),
		shortEntry(tagCompression, compressionNone),
		shortEntry(tagPhotometric, photometricMinIsBlack),
		longEntry(tagStripOffsets, make([]uint32, r.Bands)...), // patched below
		shortEntry(tagSamplesPerPixel, uint16(r.Bands)),
		longEntry(tagRowsPerStrip, uint32(r.Height)),
		longEntry(tagStripByteCounts, repeatLong(uint32(stripSize), r.Bands)...),
		shortEntry(tagPlanarConfig, planarSeparate),
		shortEntry(tagSampleFormat, repeatShort(format, r.Bands)...),
	}

	// Header, IFD, external values, then the strips. Offsets only depend on
	// value lengths, which are already fixed, so the layout is computable
	// before the strip offsets are patched in.
	ifdSize := 2 + len(entries)*12 + 4
	external := 0
	for _, e := range entries {
		if len(e.value) > 4 {
			external += len(e.value)
		}
	}
	dataStart := 8 + ifdSize + external

	offsets := make([]uint32, r.Bands)
	for b := range offsets {
		offsets[b] = uint32(dataStart + b*stripSize)
	}
	for i := range entries {
		if entries[i].tag == tagStripOffsets {
			entries[i] = longEntry(tagStripOffsets, offsets...)
		}
	}

	header := make([]byte, 0, dataStart)
	header = append(header, 'I', 'I')
	header = appendUint16(header, tiffVersion)
	header = appendUint32(header, 8) // IFD directly after the header
	header = appendUint16(header, uint16(len(entries)))
	externalOffset := 8 + ifdSize
	for _, e := range entries {
		header = appendUint16(header, e.tag)
		header = appendUint16(header, e.typ)
		header = appendUint32(header, e.count)
		if len(e.value) <= 4 {
			var inline [4]byte
			copy(inline[:], e.value)
			header = append(header, inline[:]...)
		} else {
			header = appendUint32(header, uint32(externalOffset))
			externalOffset += len(e.value)
		}
	}
	header = appendUint32(header, 0) // no next IFD
	for _, e := range entries {
		if len(e.value) > 4 {
			header = append(header, e.value...)
		}
	}
	if _, err := w.Write(header); err != nil {
		return err
	}

	strip := make([]byte, stripSize)
	for b := 1; b <= r.Bands; b++ {
		samples := r.Band(b)
		switch r.DataType {
		case domain.DataTypeByte:
			for i, v := range samples {
				strip[i] = clampByte(v)
			}
		case domain.DataTypeFloat32:
			for i, v := range samples {
				binary.LittleEndian.PutUint32(strip[i*4:], math.Float32bits(float32(v)))
			}
		}
		if _, err := w.Write(strip); err != nil {
			return err
		}
	}
	return nil
}

func repeatLong(v uint32, n int) []uint32 {
	values := make([]uint32, n)
	for i := range values {
		values[i] = v
	}
	return values
}

func appendUint16(b []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(b, v)
}

func appendUint32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func clampByte(v float64) byte {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

type tiffDirectory struct {
	info         domain.RasterInfo
	stripOffsets []uint32
	stripCounts  []uint32
}

// decode reads a raster written by encode (or an equivalent layout).
func decode(data []byte) (*domain.Raster, error) {
	dir, err := parseDirectory(data)
	if err != nil {
		return nil, err
	}

	raster := domain.NewRaster(dir.info.Width, dir.info.Height, dir.info.Bands, dir.info.DataType)
	stripSize := dir.info.Width * dir.info.Height * dir.info.DataType.Size()
	for b := 0; b < dir.info.Bands; b++ {
		offset := int(dir.stripOffsets[b])
		count := int(dir.stripCounts[b])
		if count != stripSize {
			return nil, fmt.Errorf("strip %d holds %d bytes, band needs %d", b, count, stripSize)
		}
		if offset < 0 || offset+count > len(data) {
			return nil, fmt.Errorf("strip %d reaches outside the file", b)
		}
		samples := raster.Band(b + 1)
		src := data[offset : offset+count]
		switch dir.info.DataType {
		case domain.DataTypeByte:
			for i := range samples {
				samples[i] = float64(src[i])
			}
		case domain.DataTypeFloat32:
			for i := range samples {
				samples[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:])))
			}
		}
	}
	return raster, nil
}

func parseDirectory(data []byte) (*tiffDirectory, error) {
	le := binary.LittleEndian
	if len(data) < 8 || data[0] != 'I' || data[1] != 'I' || le.Uint16(data[2:]) != tiffVersion {
		return nil, errors.New("not a little-endian TIFF file")
	}
	ifdOffset := int(le.Uint32(data[4:]))
	if ifdOffset < 8 || ifdOffset+2 > len(data) {
		return nil, errors.New("IFD offset outside the file")
	}
	count := int(le.Uint16(data[ifdOffset:]))
	if ifdOffset+2+count*12+4 > len(data) {
		return nil, errors.New("IFD truncated")
	}

	tags := make(map[uint16][]uint32, count)
	for i := 0; i < count; i++ {
		base := ifdOffset + 2 + i*12
		tag := le.Uint16(data[base:])
		values, err := tagValues(data, le.Uint16(data[base+2:]), int(le.Uint32(data[base+4:])), data[base+8:base+12])
		if err != nil {
			return nil, fmt.Errorf("tag %d: %w", tag, err)
		}
		if values != nil {
			tags[tag] = values
		}
	}

	first := func(tag uint16, fallback uint32) uint32 {
		if v, ok := tags[tag]; ok && len(v) > 0 {
			return v[0]
		}
		return fallback
	}

	info := domain.RasterInfo{
		Width:  int(first(tagImageWidth, 0)),
		Height: int(first(tagImageLength, 0)),
		Bands:  int(first(tagSamplesPerPixel, 1)),
	}
	if info.Width < 1 || info.Height < 1 || info.Bands < 1 {
		return nil, errors.New("missing image dimensions")
	}
	if first(tagCompression, compressionNone) != compressionNone {
		return nil, errors.New("compressed TIFF is not supported")
	}
	if info.Bands > 1 && first(tagPlanarConfig, planarChunky) != planarSeparate {
		return nil, errors.New("chunky multi-band TIFF is not supported")
	}

	info.DataType, _ = sampleType(tags)
	if info.DataType == 0 {
		bits := first(tagBitsPerSample, 0)
		return nil, fmt.Errorf("unsupported sample layout (%d bits, format %d)", bits, first(tagSampleFormat, sampleFormatUint))
	}

	offsets := tags[tagStripOffsets]
	counts := tags[tagStripByteCounts]
	if len(offsets) != info.Bands || len(counts) != info.Bands {
		return nil, fmt.Errorf("unsupported strip layout: %d strips for %d bands", len(offsets), info.Bands)
	}
	if rows := int(first(tagRowsPerStrip, uint32(info.Height))); rows != info.Height {
		return nil, fmt.Errorf("unsupported strip layout: %d rows per strip for height %d", rows, info.Height)
	}

	return &tiffDirectory{info: info, stripOffsets: offsets, stripCounts: counts}, nil
}

// sampleType maps BitsPerSample and SampleFormat onto a supported data type;
// zero means unsupported.
func sampleType(tags map[uint16][]uint32) (domain.DataType, bool) {
	bits := tags[tagBitsPerSample]
	if len(bits) == 0 {
		return 0, false
	}
	for _, b := range bits {
		if b != bits[0] {
			return 0, false
		}
	}
	format := uint32(sampleFormatUint)
	if f, ok := tags[tagSampleFormat]; ok && len(f) > 0 {
		format = f[0]
	}
	switch {
	case bits[0] == 8 && format == sampleFormatUint:
		return domain.DataTypeByte, true
	case bits[0] == 32 && format == sampleFormatFloat:
		return domain.DataTypeFloat32, true
	default:
		return 0, false
	}
}

// tagValues resolves an IFD entry into its numeric values, following the
// offset indirection for values larger than four bytes. Entries of types the
// codec does not use (ASCII descriptions, rationals) are skipped.
func tagValues(data []byte, typ uint16, count int, inline []byte) ([]uint32, error) {
	var size int
	switch typ {
	case typeShort:
		size = 2
	case typeLong:
		size = 4
	default:
		return nil, nil
	}
	if count < 1 {
		return nil, errors.New("empty value")
	}

	total := size * count
	raw := inline[:]
	if total > 4 {
		offset := int(binary.LittleEndian.Uint32(inline))
		if offset < 0 || offset+total > len(data) {
			return nil, errors.New("value offset outside the file")
		}
		raw = data[offset : offset+total]
	}

	values := make([]uint32, count)
	for i := 0; i < count; i++ {
		if typ == typeShort {
			values[i] = uint32(binary.LittleEndian.Uint16(raw[i*2:]))
		} else {
			values[i] = binary.LittleEndian.Uint32(raw[i*4:])
		}
	}
	return values, nil
}

// decodeInfo reads raster dimensions from the TIFF header and IFD without
// touching strip data, so describing a large file stays cheap.
func decodeInfo(r io.ReaderAt) (domain.RasterInfo, error) {
	le := binary.LittleEndian
	header := make([]byte, 8)
	if _, err := r.ReadAt(header, 0); err != nil {
		return domain.RasterInfo{}, err
	}
	if header[0] != 'I' || header[1] != 'I' || le.Uint16(header[2:]) != tiffVersion {
		return domain.RasterInfo{}, errors.New("not a little-endian TIFF file")
	}
	ifdOffset := int64(le.Uint32(header[4:]))

	countBuf := make([]byte, 2)
	if _, err := r.ReadAt(countBuf, ifdOffset); err != nil {
		return domain.RasterInfo{}, err
	}
	count := int(le.Uint16(countBuf))
	entries := make([]byte, count*12)
	if _, err := r.ReadAt(entries, ifdOffset+2); err != nil {
		return domain.RasterInfo{}, err
	}

	tags := make(map[uint16][]uint32)
	for i := 0; i < count; i++ {
		entry := entries[i*12 : (i+1)*12]
		tag := le.Uint16(entry)
		switch tag {
		case tagImageWidth, tagImageLength, tagBitsPerSample, tagSamplesPerPixel, tagSampleFormat:
		default:
			continue
		}
		values, err := tagValuesAt(r, le.Uint16(entry[2:]), int(le.Uint32(entry[4:])), entry[8:12])
		if err != nil {
			return domain.RasterInfo{}, fmt.Errorf("tag %d: %w", tag, err)
		}
		if values != nil {
			tags[tag] = values
		}
	}

	first := func(tag uint16, fallback uint32) uint32 {
		if v, ok := tags[tag]; ok && len(v) > 0 {
			return v[0]
		}
		return fallback
	}
	info := domain.RasterInfo{
		Width:  int(first(tagImageWidth, 0)),
		Height: int(first(tagImageLength, 0)),
		Bands:  int(first(tagSamplesPerPixel, 1)),
	}
	if info.Width < 1 || info.Height < 1 || info.Bands < 1 {
		return domain.RasterInfo{}, errors.New("missing image dimensions")
	}
	var ok bool
	if info.DataType, ok = sampleType(tags); !ok {
		return domain.RasterInfo{}, errors.New("unsupported sample layout")
	}
	return info, nil
}

func tagValuesAt(r io.ReaderAt, typ uint16, count int, inline []byte) ([]uint32, error) {
	var size int
	switch typ {
	case typeShort:
		size = 2
	case typeLong:
		size = 4
	default:
		return nil, nil
	}
	if count < 1 {
		return nil, errors.New("empty value")
	}

	total := size * count
	raw := inline
	if total > 4 {
		raw = make([]byte, total)
		if _, err := r.ReadAt(raw, int64(binary.LittleEndian.Uint32(inline))); err != nil {
			return nil, err
		}
	}

	values := make([]uint32, count)
	for i := 0; i < count; i++ {
		if typ == typeShort {
			values[i] = uint32(binary.LittleEndian.Uint16(raw[i*2:]))
		} else {
			values[i] = binary.LittleEndian.Uint32(raw[i*4:])
		}
	}
	return values, nil
}
