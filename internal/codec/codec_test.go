package codec

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/UnendingLoop/ImageIntake/internal/model"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

func testImageBytes(t *testing.T, w, h int, format imaging.Format) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 100, G: 100, B: 200, A: 255})
		}
	}

	var buf bytes.Buffer
	err := imaging.Encode(&buf, img, format)
	require.NoError(t, err)

	return buf.Bytes()
}

func decodedSize(t *testing.T, data []byte) (int, int) {
	t.Helper()

	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func TestCodec_Fit_Bounds(t *testing.T) {
	tests := []struct {
		name         string
		inW, inH     int
		boxW, boxH   int
		wantW, wantH int
	}{
		{
			name: "landscape 2:1 into square box",
			inW:  2000, inH: 1000,
			boxW: 400, boxH: 400,
			wantW: 400, wantH: 200,
		},
		{
			name: "portrait into square box",
			inW:  500, inH: 1000,
			boxW: 400, boxH: 400,
			wantW: 200, wantH: 400,
		},
		{
			name: "already inside the box is not enlarged",
			inW:  120, inH: 80,
			boxW: 400, boxH: 400,
			wantW: 120, wantH: 80,
		},
		{
			name: "exact box size stays put",
			inW:  400, inH: 400,
			boxW: 400, boxH: 400,
			wantW: 400, wantH: 400,
		},
	}

	c := Codec{}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := testImageBytes(t, tt.inW, tt.inH, imaging.PNG)

			res, err := c.Fit(in, tt.boxW, tt.boxH, model.PNG)
			require.NoError(t, err)
			require.Equal(t, tt.wantW, res.Width)
			require.Equal(t, tt.wantH, res.Height)
			require.Equal(t, model.PNG, res.ContentType)

			w, h := decodedSize(t, res.Bytes)
			require.Equal(t, tt.wantW, w)
			require.Equal(t, tt.wantH, h)
		})
	}
}

func TestCodec_Fit_PreservesJPEG(t *testing.T) {
	in := testImageBytes(t, 800, 600, imaging.JPEG)

	res, err := Codec{}.Fit(in, 400, 400, model.JPEG)
	require.NoError(t, err)
	require.Equal(t, model.JPEG, res.ContentType)
	require.Equal(t, 400, res.Width)
	require.Equal(t, 300, res.Height)
}

func TestCodec_Fit_FallbackContentType(t *testing.T) {
	in := testImageBytes(t, 100, 100, imaging.PNG)

	// no declared type - codec falls back to the sniffed format
	res, err := Codec{}.Fit(in, 50, 50, "")
	require.NoError(t, err)
	require.Equal(t, model.PNG, res.ContentType)
}

func TestCodec_Fit_DecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		c    Codec
	}{
		{
			name: "empty input",
			data: nil,
		},
		{
			name: "corrupt bytes",
			data: []byte("definitely not an image"),
		},
		{
			name: "input over the size limit",
			data: testImageBytes(t, 200, 200, imaging.PNG),
			c:    Codec{MaxInputBytes: 16},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.c.Fit(tt.data, 400, 400, model.PNG)
			require.ErrorIs(t, err, model.ErrDecode)
		})
	}
}

func TestCodec_Fit_BadBox(t *testing.T) {
	in := testImageBytes(t, 100, 100, imaging.PNG)

	_, err := Codec{}.Fit(in, 0, 400, model.PNG)
	require.ErrorIs(t, err, model.ErrDecode)
}
