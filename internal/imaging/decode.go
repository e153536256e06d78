package imaging

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register GIF with image.Decode
	_ "image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// Decoder turns encoded bytes into a raster.
type Decoder interface {
	Decode(r io.Reader) (image.Image, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(r io.Reader) (image.Image, error)

// Decode implements Decoder.
func (f DecoderFunc) Decode(r io.Reader) (image.Image, error) {
	return f(r)
}

// StdDecoder decodes the formats registered with the standard library
// (JPEG, PNG, GIF). It is the fast path.
var StdDecoder Decoder = DecoderFunc(func(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	return img, err
})

// ExtendedDecoder handles formats phones and desktops commonly hand over
// that the standard registry does not know (WebP, BMP, TIFF). The format is
// chosen by magic bytes.
var ExtendedDecoder Decoder = DecoderFunc(decodeExtended)

// MaxSourcePixels bounds the raster a photo may declare. Headers are read
// before any pixel data so a small file cannot claim a huge image.
const MaxSourcePixels = 50_000_000

// ErrTooLarge reports a photo whose declared raster exceeds MaxSourcePixels.
var ErrTooLarge = fmt.Errorf("image exceeds %d pixels", MaxSourcePixels)

// checkDimensions reads only the header of data. Data whose header no known
// format can read passes through; the decoders reject it afterwards.
func checkDimensions(data []byte) error {
	cfg, err := decodeConfig(data)
	if err != nil {
		return nil
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.ErrFormat
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
		return fmt.Errorf("%w: declared %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}
	return nil
}

func decodeConfig(data []byte) (image.Config, error) {
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return cfg, nil
	}
	r := bytes.NewReader(data)
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return webp.DecodeConfig(r)
	case len(data) >= 2 && string(data[0:2]) == "BM":
		return bmp.DecodeConfig(r)
	case len(data) >= 4 && (string(data[0:4]) == "II*\x00" || string(data[0:4]) == "MM\x00*"):
		return tiff.DecodeConfig(r)
	}
	return image.Config{}, image.ErrFormat
}

func decodeExtended(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(12)
	switch {
	case len(head) >= 12 && string(head[0:4]) == "RIFF" && string(head[8:12]) == "WEBP":
		return webp.Decode(br)
	case len(head) >= 2 && string(head[0:2]) == "BM":
		return bmp.Decode(br)
	case len(head) >= 4 && (string(head[0:4]) == "II*\x00" || string(head[0:4]) == "MM\x00*"):
		return tiff.Decode(br)
	}
	return nil, image.ErrFormat
}

// Tiered tries Primary, and on failure makes exactly one Fallback attempt
// over the same bytes. When both fail the Primary error is returned.
type Tiered struct {
	Primary  Decoder
	Fallback Decoder
}

// DefaultDecoder is the decoder used by NewPipeline.
var DefaultDecoder Decoder = Tiered{Primary: StdDecoder, Fallback: ExtendedDecoder}

// Decode implements Decoder.
func (t Tiered) Decode(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(data); err != nil {
		return nil, err
	}

	img, err := t.Primary.Decode(bytes.NewReader(data))
	if err == nil || t.Fallback == nil {
		return img, err
	}
	if img, fbErr := t.Fallback.Decode(bytes.NewReader(data)); fbErr == nil {
		return img, nil
	}
	return nil, err
}
