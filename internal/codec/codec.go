// Package codec provides the pure bounded-fit resize used by the ingest worker
package codec

import (
	"bytes"
	"fmt"
	"image"

	"github.com/UnendingLoop/ImageIntake/internal/model"
	"github.com/disintegration/imaging"
)

// Codec resizes raw image bytes to fit a bounding box. No I/O, no retries -
// every failure here is a decode failure and retrying will not fix the input.
type Codec struct {
	MaxInputBytes int64 // bounds memory use on decode; 0 disables the check
}

// Result carries the encoded variant bytes and their metadata.
type Result struct {
	Bytes       []byte
	ContentType string
	Width       int
	Height      int
}

// Fit decodes data, scales it down to fit inside maxW x maxH preserving
// aspect ratio, and encodes it back in the source format. An image already
// inside the box is re-encoded without resizing - output dimensions never
// exceed input dimensions.
func (c Codec) Fit(data []byte, maxW, maxH int, declaredType string) (*Result, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", model.ErrDecode)
	}
	if c.MaxInputBytes > 0 && int64(len(data)) > c.MaxInputBytes {
		return nil, fmt.Errorf("%w: input of %d bytes exceeds limit %d", model.ErrDecode, len(data), c.MaxInputBytes)
	}
	if maxW <= 0 || maxH <= 0 {
		return nil, fmt.Errorf("%w: non-positive bounding box %dx%d", model.ErrDecode, maxW, maxH)
	}

	// сначала определяем формат по самим байтам - заявленный ctype может врать
	_, sniffed, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	format, err := imaging.FormatFromExtension(sniffed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	switch format {
	case imaging.PNG, imaging.JPEG, imaging.GIF:
	default:
		return nil, fmt.Errorf("%w: format %q", model.ErrDecode, sniffed)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}

	// Fit only downscales - a smaller image comes back untouched
	fitted := imaging.Fit(img, maxW, maxH, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, format); err != nil {
		return nil, fmt.Errorf("%w: encode: %v", model.ErrDecode, err)
	}

	cType := declaredType
	if cType == "" {
		cType = model.GetCType[format]
	}
	if cType == "" {
		cType = model.BinaryType
	}

	bounds := fitted.Bounds()
	return &Result{
		Bytes:       buf.Bytes(),
		ContentType: cType,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, nil
}
