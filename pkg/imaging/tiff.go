// Package imaging prepares scanned targets for patch extraction. The patch
// reader rejects images carrying an alpha channel, so scans are rewritten as
// plain RGB when needed.
package imaging

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/tiff"
)

// TIFF tags used by this package.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfiguration = 284
	tagExtraSamples        = 338
)

// TIFF field types.
const (
	typeShort = 3
	typeLong  = 4
)

const photometricRGB = 2

// HasAlpha reports whether the TIFF at path declares an extra (alpha)
// sample. It only inspects the first image directory.
func HasAlpha(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	samples, extra, photometric, err := readLayout(f)
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to read TIFF header of %s", path)
	}
	if extra > 0 {
		return true, nil
	}
	return photometric == photometricRGB && samples > 3, nil
}

// StripAlpha rewrites the TIFF at path as uncompressed RGB if it carries an
// alpha channel. It reports whether the file was changed.
func StripAlpha(path string) (bool, error) {
	alpha, err := HasAlpha(path)
	if err != nil {
		return false, err
	}
	if !alpha {
		logrus.WithField("path", path).Debug("image has no alpha channel")
		return false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to open %s", path)
	}
	img, err := tiff.Decode(bufio.NewReader(f))
	f.Close()
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to decode %s", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".strip-*.tif")
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to create temporary image")
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := EncodeRGB(w, img); err != nil {
		tmp.Close()
		return false, err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return false, pkgerrors.Wrapf(err, "failed to write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return false, pkgerrors.Wrapf(err, "failed to write %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return false, pkgerrors.Wrapf(err, "failed to replace %s", path)
	}

	b := img.Bounds()
	logrus.WithFields(logrus.Fields{
		"path":   path,
		"width":  b.Dx(),
		"height": b.Dy(),
	}).Info("removed alpha channel from image")
	return true, nil
}

// EncodeRGB writes img as a baseline, single-strip, uncompressed RGB TIFF
// without alpha. 16-bit sources keep 16 bits per sample.
func EncodeRGB(w io.Writer, img image.Image) error {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	bits := 8
	switch img.(type) {
	case *image.RGBA64, *image.NRGBA64, *image.Gray16:
		bits = 16
	}
	bytesPerSample := bits / 8

	pixels := make([]byte, 0, width*height*3*bytesPerSample)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
			if bits == 16 {
				pixels = binary.LittleEndian.AppendUint16(pixels, c.R)
				pixels = binary.LittleEndian.AppendUint16(pixels, c.G)
				pixels = binary.LittleEndian.AppendUint16(pixels, c.B)
			} else {
				pixels = append(pixels, uint8(c.R>>8), uint8(c.G>>8), uint8(c.B>>8))
			}
		}
	}

	type entry struct {
		tag, typ uint16
		count    uint32
		value    uint32
	}

	const (
		headerSize = 8
		numEntries = 10
		ifdSize    = 2 + numEntries*12 + 4
	)
	bpsOffset := uint32(headerSize + ifdSize)
	dataOffset := bpsOffset + 6

	entries := []entry{
		{tagImageWidth, typeLong, 1, uint32(width)},
		{tagImageLength, typeLong, 1, uint32(height)},
		{tagBitsPerSample, typeShort, 3, bpsOffset},
		{tagCompression, typeShort, 1, 1},
		{tagPhotometric, typeShort, 1, photometricRGB},
		{tagStripOffsets, typeLong, 1, dataOffset},
		{tagSamplesPerPixel, typeShort, 1, 3},
		{tagRowsPerStrip, typeLong, 1, uint32(height)},
		{tagStripByteCounts, typeLong, 1, uint32(len(pixels))},
		{tagPlanarConfiguration, typeShort, 1, 1},
	}

	var buf bytes.Buffer
	le := binary.LittleEndian

	buf.WriteString("II")
	_ = binary.Write(&buf, le, uint16(42))
	_ = binary.Write(&buf, le, uint32(headerSize))

	_ = binary.Write(&buf, le, uint16(len(entries)))
	for _, e := range entries {
		_ = binary.Write(&buf, le, e.tag)
		_ = binary.Write(&buf, le, e.typ)
		_ = binary.Write(&buf, le, e.count)
		if e.typ == typeShort && e.count == 1 {
			// SHORT values are left-justified in the value field.
			_ = binary.Write(&buf, le, uint16(e.value))
			_ = binary.Write(&buf, le, uint16(0))
		} else {
			_ = binary.Write(&buf, le, e.value)
		}
	}
	_ = binary.Write(&buf, le, uint32(0))

	for i := 0; i < 3; i++ {
		_ = binary.Write(&buf, le, uint16(bits))
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return pkgerrors.Wrap(err, "failed to write TIFF header")
	}
	if _, err := w.Write(pixels); err != nil {
		return pkgerrors.Wrap(err, "failed to write TIFF pixels")
	}
	return nil
}

// readLayout returns SamplesPerPixel, the number of ExtraSamples and the
// photometric interpretation of the first IFD.
func readLayout(r io.ReadSeeker) (samples, extra, photometric int, err error) {
	var hdr [8]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, 0, err
	}

	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0, 0, 0, pkgerrors.New("not a TIFF file")
	}
	if order.Uint16(hdr[2:4]) != 42 {
		return 0, 0, 0, pkgerrors.New("unsupported TIFF variant")
	}

	if _, err = r.Seek(int64(order.Uint32(hdr[4:8])), io.SeekStart); err != nil {
		return 0, 0, 0, err
	}
	var n uint16
	if err = binary.Read(r, order, &n); err != nil {
		return 0, 0, 0, err
	}

	samples = 1
	for i := 0; i < int(n); i++ {
		var raw [12]byte
		if _, err = io.ReadFull(r, raw[:]); err != nil {
			return 0, 0, 0, err
		}
		tag := order.Uint16(raw[0:2])
		typ := order.Uint16(raw[2:4])
		count := order.Uint32(raw[4:8])

		value := int(order.Uint32(raw[8:12]))
		if typ == typeShort {
			value = int(order.Uint16(raw[8:10]))
		}

		switch tag {
		case tagSamplesPerPixel:
			samples = value
		case tagExtraSamples:
			extra = int(count)
		case tagPhotometric:
			photometric = value
		}
	}
	return samples, extra, photometric, nil
}
