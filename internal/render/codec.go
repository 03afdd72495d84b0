package render

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"heif-player/internal/config"
	"heif-player/internal/models"
)

// 帧消息格式 (大端):
// Magic(4) + ItemID(4) + Index(4) + Width(4) + Height(4) + DataLen(4) + Data
const (
	MagicRaw  = "RGBA"
	MagicZstd = "RGBZ"

	HeaderSize = 24
)

var (
	ErrBadFrameMessage = errors.New("bad frame message")
	ErrCodecClosed     = errors.New("codec closed")
)

// FrameHeader 帧消息头
type FrameHeader struct {
	Compressed bool
	ItemID     models.ItemID
	Index      int
	Width      int
	Height     int
	Length     int
}

// Codec 帧消息编解码
type Codec struct {
	compression string

	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec 创建编解码器，compression 为 none 或 zstd
func NewCodec(compression string) (*Codec, error) {
	c := &Codec{compression: compression}
	switch compression {
	case "", config.CompressionNone:
		c.compression = config.CompressionNone
	case config.CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		c.enc = enc
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
	return c, nil
}

// Compression 压缩方式
func (c *Codec) Compression() string {
	return c.compression
}

// Encode 编码一帧
func (c *Codec) Encode(index int, f *models.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	magic := MagicRaw
	data := f.Pixels
	if c.compression == config.CompressionZstd {
		c.mu.Lock()
		enc := c.enc
		c.mu.Unlock()
		if enc == nil {
			return nil, ErrCodecClosed
		}
		magic = MagicZstd
		data = enc.EncodeAll(f.Pixels, make([]byte, 0, len(f.Pixels)/4))
	}

	msg := make([]byte, HeaderSize, HeaderSize+len(data))
	copy(msg[0:4], magic)
	binary.BigEndian.PutUint32(msg[4:8], uint32(f.ItemID))
	binary.BigEndian.PutUint32(msg[8:12], uint32(index))
	binary.BigEndian.PutUint32(msg[12:16], uint32(f.Width))
	binary.BigEndian.PutUint32(msg[16:20], uint32(f.Height))
	binary.BigEndian.PutUint32(msg[20:24], uint32(len(data)))
	return append(msg, data...), nil
}

// ParseHeader 解析消息头
func ParseHeader(msg []byte) (FrameHeader, error) {
	if len(msg) < HeaderSize {
		return FrameHeader{}, fmt.Errorf("%w: %d bytes", ErrBadFrameMessage, len(msg))
	}
	var h FrameHeader
	switch string(msg[0:4]) {
	case MagicRaw:
	case MagicZstd:
		h.Compressed = true
	default:
		return FrameHeader{}, fmt.Errorf("%w: magic %q", ErrBadFrameMessage, msg[0:4])
	}
	h.ItemID = models.ItemID(binary.BigEndian.Uint32(msg[4:8]))
	h.Index = int(binary.BigEndian.Uint32(msg[8:12]))
	h.Width = int(binary.BigEndian.Uint32(msg[12:16]))
	h.Height = int(binary.BigEndian.Uint32(msg[16:20]))
	h.Length = int(binary.BigEndian.Uint32(msg[20:24]))
	if len(msg)-HeaderSize != h.Length {
		return FrameHeader{}, fmt.Errorf("%w: length %d, have %d", ErrBadFrameMessage, h.Length, len(msg)-HeaderSize)
	}
	return h, nil
}

// Decode 解码一条帧消息
func (c *Codec) Decode(msg []byte) (FrameHeader, *models.Frame, error) {
	h, err := ParseHeader(msg)
	if err != nil {
		return h, nil, err
	}
	data := msg[HeaderSize:]
	if h.Compressed {
		dec, err := c.decoder()
		if err != nil {
			return h, nil, err
		}
		data, err = dec.DecodeAll(data, make([]byte, 0, h.Width*h.Height*4))
		if err != nil {
			return h, nil, fmt.Errorf("%w: %v", ErrBadFrameMessage, err)
		}
	}
	f := &models.Frame{ItemID: h.ItemID, Width: h.Width, Height: h.Height, Pixels: data}
	if err := f.Validate(); err != nil {
		return h, nil, fmt.Errorf("%w: %v", ErrBadFrameMessage, err)
	}
	return h, f, nil
}

func (c *Codec) decoder() (*zstd.Decoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dec == nil {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		c.dec = dec
	}
	return c.dec, nil
}

// Close 释放 zstd 资源
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc != nil {
		c.enc.Close()
		c.enc = nil
	}
	if c.dec != nil {
		c.dec.Close()
		c.dec = nil
	}
}
