// Package render 解码帧的图像处理：占位帧、缩放、PNG 编码和帧传输格式
package render

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"

	"heif-player/internal/models"
)

// PlaceholderColor 解码失败或尚未就绪时的填充色
const PlaceholderColor = "#cccccc"

var ErrInvalidSize = errors.New("invalid image size")

// DefaultScaler 缩放算法
var DefaultScaler draw.Scaler = draw.ApproxBiLinear

// ToImage 把帧像素包装为 image.RGBA (不复制)
func ToImage(f *models.Frame) (*image.RGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &image.RGBA{
		Pix:    f.Pixels,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}, nil
}

// Placeholder 生成纯色占位图
func Placeholder(width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	c, err := colorful.Hex(PlaceholderColor)
	if err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img, nil
}

// PlaceholderFrame 占位帧
func PlaceholderFrame(id models.ItemID, width, height int) (*models.Frame, error) {
	img, err := Placeholder(width, height)
	if err != nil {
		return nil, err
	}
	return &models.Frame{ItemID: id, Width: width, Height: height, Pixels: img.Pix}, nil
}

// FitSize 计算请求尺寸；只给一边时按比例推算，都不给时保持原尺寸
func FitSize(srcW, srcH, width, height int) (int, int) {
	switch {
	case width <= 0 && height <= 0:
		return srcW, srcH
	case height <= 0:
		h := srcH * width / srcW
		if h < 1 {
			h = 1
		}
		return width, h
	case width <= 0:
		w := srcW * height / srcH
		if w < 1 {
			w = 1
		}
		return w, height
	default:
		return width, height
	}
}

// Scale 缩放图像；尺寸相同时原样返回
func Scale(src image.Image, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	b := src.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return src, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	DefaultScaler.Scale(dst, dst.Rect, src, b, draw.Src, nil)
	return dst, nil
}

// ScaleFrame 把帧缩放到显示尺寸
func ScaleFrame(f *models.Frame, width, height int) (*models.Frame, error) {
	if f.Width == width && f.Height == height {
		return f, nil
	}
	src, err := ToImage(f)
	if err != nil {
		return nil, err
	}
	img, err := Scale(src, width, height)
	if err != nil {
		return nil, err
	}
	return &models.Frame{ItemID: f.ItemID, Width: width, Height: height, Pixels: img.(*image.RGBA).Pix}, nil
}

// WritePNG 编码帧为 PNG，width/height 为 0 时保持原尺寸
func WritePNG(w io.Writer, f *models.Frame, width, height int) error {
	src, err := ToImage(f)
	if err != nil {
		return err
	}
	width, height = FitSize(f.Width, f.Height, width, height)
	img, err := Scale(src, width, height)
	if err != nil {
		return err
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, img)
}
