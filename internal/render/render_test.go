package render

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heif-player/internal/models"
)

func gradientFrame(id models.ItemID, w, h int) *models.Frame {
	f := models.NewFrame(id, w, h)
	for i := 0; i < w*h; i++ {
		f.Pixels[i*4] = byte(i)
		f.Pixels[i*4+1] = byte(i * 3)
		f.Pixels[i*4+3] = 0xFF
	}
	return f
}

func TestPlaceholder(t *testing.T) {
	f, err := PlaceholderFrame(5, 3, 2)
	require.NoError(t, err)
	require.NoError(t, f.Validate())
	assert.Equal(t, models.ItemID(5), f.ItemID)
	assert.Equal(t, []byte{0xCC, 0xCC, 0xCC, 0xFF}, f.Pixels[0:4])
	assert.Equal(t, []byte{0xCC, 0xCC, 0xCC, 0xFF}, f.Pixels[len(f.Pixels)-4:])

	_, err = Placeholder(0, 2)
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestFitSize(t *testing.T) {
	w, h := FitSize(640, 480, 0, 0)
	assert.Equal(t, []int{640, 480}, []int{w, h})
	w, h = FitSize(640, 480, 320, 0)
	assert.Equal(t, []int{320, 240}, []int{w, h})
	w, h = FitSize(640, 480, 0, 120)
	assert.Equal(t, []int{160, 120}, []int{w, h})
	w, h = FitSize(640, 480, 10, 10)
	assert.Equal(t, []int{10, 10}, []int{w, h})
}

func TestScaleFrame(t *testing.T) {
	f := gradientFrame(1, 8, 4)
	same, err := ScaleFrame(f, 8, 4)
	require.NoError(t, err)
	assert.Same(t, f, same)

	small, err := ScaleFrame(f, 4, 2)
	require.NoError(t, err)
	require.NoError(t, small.Validate())
	assert.Equal(t, 4, small.Width)
	assert.Equal(t, models.ItemID(1), small.ItemID)

	_, err = ScaleFrame(&models.Frame{ItemID: 1, Width: 2, Height: 2}, 1, 1)
	require.Error(t, err)
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, gradientFrame(2, 16, 8), 8, 0))

	cfg, err := png.DecodeConfig(&buf)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Width)
	assert.Equal(t, 4, cfg.Height)
}

func TestCodec_RoundTrip(t *testing.T) {
	for _, compression := range []string{"none", "zstd"} {
		t.Run(compression, func(t *testing.T) {
			c, err := NewCodec(compression)
			require.NoError(t, err)
			defer c.Close()

			f := gradientFrame(42, 6, 5)
			msg, err := c.Encode(7, f)
			require.NoError(t, err)

			h, err := ParseHeader(msg)
			require.NoError(t, err)
			assert.Equal(t, compression == "zstd", h.Compressed)
			assert.Equal(t, models.ItemID(42), h.ItemID)
			assert.Equal(t, 7, h.Index)
			assert.Equal(t, 6, h.Width)
			assert.Equal(t, 5, h.Height)

			_, got, err := c.Decode(msg)
			require.NoError(t, err)
			assert.Equal(t, f.Pixels, got.Pixels)
		})
	}
}

func TestCodec_RawLayout(t *testing.T) {
	c, err := NewCodec("")
	require.NoError(t, err)
	msg, err := c.Encode(1, models.NewFrame(0x0102, 1, 1))
	require.NoError(t, err)

	assert.Equal(t, []byte("RGBA"), msg[0:4])
	assert.Equal(t, []byte{0, 0, 1, 2}, msg[4:8])
	assert.Equal(t, []byte{0, 0, 0, 4}, msg[20:24])
	assert.Len(t, msg, HeaderSize+4)
}

func TestCodec_Errors(t *testing.T) {
	_, err := NewCodec("lz4")
	require.Error(t, err)

	_, err = ParseHeader([]byte("RGB"))
	require.ErrorIs(t, err, ErrBadFrameMessage)

	c, err := NewCodec("none")
	require.NoError(t, err)
	msg, err := c.Encode(0, models.NewFrame(1, 2, 2))
	require.NoError(t, err)

	bad := append([]byte("XXXX"), msg[4:]...)
	_, _, err = c.Decode(bad)
	require.ErrorIs(t, err, ErrBadFrameMessage)

	_, _, err = c.Decode(msg[:len(msg)-1])
	require.ErrorIs(t, err, ErrBadFrameMessage)

	z, err := NewCodec("zstd")
	require.NoError(t, err)
	z.Close()
	_, err = z.Encode(0, models.NewFrame(1, 2, 2))
	require.ErrorIs(t, err, ErrCodecClosed)
}
