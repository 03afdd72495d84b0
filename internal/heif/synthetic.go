package heif

import (
	"fmt"

	"heif-player/internal/hevc"
	"heif-player/internal/models"
)

// 合成序列的上下文 id
const (
	SyntheticMasterTrack    models.ContextID = 1
	SyntheticThumbnailTrack models.ContextID = 2
)

// SyntheticOptions 合成图像序列参数
type SyntheticOptions struct {
	Width     int
	Height    int
	Frames    int
	GOP       int     // 关键帧间隔，<=1 时全部为关键帧
	Intervals []int64 // 帧间隔 (ms)，循环使用；为空时 40ms
	Thumbnail bool    // 附加 1/4 尺寸的缩略图轨道
}

// NewSyntheticSequence 生成可被 hevc.GeometryDecoder 解码的图像序列
//
// 非关键帧依赖同一 GOP 内之前的所有帧，用于演示和测试依赖解析。
func NewSyntheticSequence(opts SyntheticOptions) (*Catalog, error) {
	if opts.Frames <= 0 {
		return nil, fmt.Errorf("%w: synthetic sequence needs frames", ErrInvalidCatalog)
	}
	intervals := opts.Intervals
	if len(intervals) == 0 {
		intervals = []int64{40}
	}

	master, err := syntheticTrack(SyntheticMasterTrack, opts.Width, opts.Height, opts.Frames, opts.GOP, intervals)
	if err != nil {
		return nil, err
	}
	master.Master = true
	master.Items[0].Cover = true
	contexts := []*Context{master}

	if opts.Thumbnail {
		tw, th := evenAtLeast2(opts.Width/4), evenAtLeast2(opts.Height/4)
		thumb, err := syntheticTrack(SyntheticThumbnailTrack, tw, th, opts.Frames, 1, intervals)
		if err != nil {
			return nil, err
		}
		thumb.Thumbnail = true
		contexts = append(contexts, thumb)
	}
	return NewCatalog(contexts...)
}

func syntheticTrack(id models.ContextID, width, height, frames, gop int, intervals []int64) (*Context, error) {
	sps, err := hevc.BuildSPS(width, height)
	if err != nil {
		return nil, err
	}
	var params []byte
	params = hevc.AppendNal(params, []byte{hevc.NalVPS << 1, 0x01, 0x0C, 0x01, 0xFF, 0xFF})
	params = hevc.AppendNal(params, sps)
	params = hevc.AppendNal(params, []byte{hevc.NalPPS << 1, 0x01, 0xC1, 0x72, 0xB4})

	if gop < 1 {
		gop = 1
	}
	ctx := &Context{ID: id, Kind: KindTrack, DecoderParameters: params}

	var t int64
	var key models.ItemID
	for i := 0; i < frames; i++ {
		itemID := models.ItemID(i + 1)
		item := &Item{
			ID:        itemID,
			Type:      TypeHEVC,
			Width:     width,
			Height:    height,
			Timestamp: t,
		}
		if i%gop == 0 {
			key = itemID
			item.Data = hevc.AppendNal(nil, hevc.BuildSlice(hevc.NalIDRWRadl, true, []byte{byte(i), byte(i >> 8)}))
		} else {
			item.Data = hevc.AppendNal(nil, hevc.BuildSlice(hevc.NalTrailR, true, []byte{byte(i), byte(i >> 8)}))
			for dep := key; dep <= itemID; dep++ {
				item.Dependencies = append(item.Dependencies, dep)
			}
		}
		ctx.Items = append(ctx.Items, item)
		t += intervals[i%len(intervals)]
	}
	return ctx, nil
}

func evenAtLeast2(v int) int {
	v &^= 1
	if v < 2 {
		return 2
	}
	return v
}
