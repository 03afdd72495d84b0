// Package provider 解码帧管线
//
// 依赖解析 + 单解码器调度 + 元数据查询。Request 返回 Task，
// RequestImageData 是回调形式；两者的结果都只产生一次，失败时 Success 为 false。
package provider

import (
	"context"
	"errors"
	"sort"

	"heif-player/internal/heif"
	"heif-player/internal/hevc"
	"heif-player/internal/logging"
	"heif-player/internal/metrics"
	"heif-player/internal/models"
)

var (
	ErrEmptyRequest     = errors.New("provider: empty request")
	ErrCanceled         = errors.New("provider: request canceled")
	ErrIncompleteDecode = errors.New("provider: decoder produced fewer pictures than requested")
	ErrClosed           = errors.New("provider: closed")
)

// Options 管线参数
type Options struct {
	QueueOrder string // config.QueueLIFO (默认) 或 config.QueueFIFO
	ChunkSize  int    // 每次推送给解码器的字节数，默认 config.DecodeChunkSize
	Metrics    *metrics.Metrics
}

// Provider 组合容器读取与解码调度
type Provider struct {
	reader    heif.Reader
	scheduler *Scheduler
}

// New 创建管线，decoder 由管线独占
func New(reader heif.Reader, decoder hevc.Decoder, opts Options) *Provider {
	return &Provider{
		reader:    reader,
		scheduler: NewScheduler(decoder, opts.QueueOrder, opts.ChunkSize, opts.Metrics),
	}
}

// Reader 返回容器读取器
func (p *Provider) Reader() heif.Reader {
	return p.reader
}

// Request 提交解码请求
// 空请求返回 ErrEmptyRequest，不创建请求
func (p *Provider) Request(ctx context.Context, contextID models.ContextID, itemIDs []models.ItemID) (*Task, error) {
	return p.request(ctx, contextID, itemIDs, nil)
}

// RequestImageData 提交解码请求，结果 (包括失败) 通过 callback 返回一次
func (p *Provider) RequestImageData(ctx context.Context, contextID models.ContextID, itemIDs []models.ItemID, callback func(models.Payload)) error {
	_, err := p.request(ctx, contextID, itemIDs, callback)
	return err
}

func (p *Provider) request(ctx context.Context, contextID models.ContextID, itemIDs []models.ItemID, cb func(models.Payload)) (*Task, error) {
	rc, err := resolve(p.reader, contextID, itemIDs)
	if err != nil {
		if !errors.Is(err, ErrEmptyRequest) {
			logging.LogWarn("请求: 依赖解析失败", "context", contextID, "items", itemIDs, "error", err)
		}
		return nil, err
	}

	logging.LogDebug("请求: 提交", "context", contextID, "items", rc.requested, "decode", rc.itemIDs)

	task := newTask(ctx, contextID, rc.requested, cb)
	rc.ctx = task.ctx
	rc.task = task
	if err := p.scheduler.Push(rc); err != nil {
		task.cancel()
		return nil, err
	}
	p.scheduler.Decode()
	return task, nil
}

// Pending 排队中的解码请求数
func (p *Provider) Pending() int {
	return p.scheduler.Pending()
}

// Close 停止接受请求并等待当前解码结束
func (p *Provider) Close() {
	p.scheduler.Close()
}

// FileInfo 返回文件信息
func (p *Provider) FileInfo() heif.FileInfo {
	return p.reader.FileInfo()
}

// displayItems 轨道取 display 列表，meta 取 master 列表
func (p *Provider) displayItems(contextID models.ContextID) []models.ItemID {
	kind, err := p.reader.ContextType(contextID)
	if err != nil {
		return nil
	}
	listType := heif.ListMaster
	if kind == heif.KindTrack {
		listType = heif.ListDisplay
	}
	ids, err := p.reader.ItemListByType(contextID, listType)
	if err != nil {
		return nil
	}
	return ids
}

// DisplaySize 上下文中所有可显示条目的最大宽高
func (p *Provider) DisplaySize(contextID models.ContextID) (int, int) {
	var maxW, maxH int
	for _, id := range p.displayItems(contextID) {
		w, h, err := p.reader.ItemSize(contextID, id)
		if err != nil {
			continue
		}
		maxW = max(maxW, w)
		maxH = max(maxH, h)
	}
	return maxW, maxH
}

// DisplayWidth 显示宽度
func (p *Provider) DisplayWidth(contextID models.ContextID) int {
	w, _ := p.DisplaySize(contextID)
	return w
}

// DisplayHeight 显示高度
func (p *Provider) DisplayHeight(contextID models.ContextID) int {
	_, h := p.DisplaySize(contextID)
	return h
}

// MasterContextID 主图像上下文：优先主图像序列轨道，其次根级 meta
func (p *Provider) MasterContextID() (models.ContextID, bool) {
	info := p.reader.FileInfo()
	for _, t := range info.Tracks {
		if t.IsMasterImageSequence {
			return t.TrackID, true
		}
	}
	if info.RootMeta != nil {
		return info.RootMeta.ContextID, true
	}
	return 0, false
}

// ThumbnailContextID 缩略图上下文：优先缩略图序列轨道，其次含缩略图的根级 meta
func (p *Provider) ThumbnailContextID() (models.ContextID, bool) {
	info := p.reader.FileInfo()
	for _, t := range info.Tracks {
		if t.IsThumbnailImageSequence {
			return t.TrackID, true
		}
	}
	if info.RootMeta != nil && info.RootMeta.HasThumbnails {
		return info.RootMeta.ContextID, true
	}
	return 0, false
}

// ItemIDByThumbnailID 缩略图对应的主图像
// 轨道文件中两条轨道的条目 id 一一对应
func (p *Provider) ItemIDByThumbnailID(contextID models.ContextID, thumbnailID models.ItemID) (models.ItemID, bool) {
	info := p.reader.FileInfo()
	if info.HasTracks() {
		return thumbnailID, true
	}
	if info.Features.HasRootLevelMetaBox {
		refs, err := p.reader.ReferencedFromItemListByType(contextID, thumbnailID, heif.RefThumbnail)
		if err == nil && len(refs) > 0 {
			return refs[0], true
		}
	}
	return 0, false
}

// ThumbnailIDByItemID 主图像对应的缩略图
func (p *Provider) ThumbnailIDByItemID(contextID models.ContextID, itemID models.ItemID) (models.ItemID, bool) {
	info := p.reader.FileInfo()
	if info.HasTracks() {
		return itemID, true
	}
	if info.Features.HasRootLevelMetaBox {
		refs, err := p.reader.ReferencedToItemListByType(contextID, itemID, heif.RefThumbnail)
		if err == nil && len(refs) > 0 {
			return refs[0], true
		}
	}
	return 0, false
}

// MasterIDs 主上下文的条目 id
func (p *Provider) MasterIDs() []models.ItemID {
	ctx, ok := p.MasterContextID()
	if !ok {
		return nil
	}
	return p.contextIDs(ctx, func(f heif.ImageFeatures) bool { return f.IsMaster })
}

// ThumbnailIDs 缩略图上下文的条目 id
func (p *Provider) ThumbnailIDs() []models.ItemID {
	ctx, ok := p.ThumbnailContextID()
	if !ok {
		return nil
	}
	return p.contextIDs(ctx, func(f heif.ImageFeatures) bool { return f.IsThumbnail })
}

func (p *Provider) contextIDs(contextID models.ContextID, metaFilter func(heif.ImageFeatures) bool) []models.ItemID {
	info := p.reader.FileInfo()
	if info.HasTracks() {
		for _, t := range info.Tracks {
			if t.TrackID == contextID {
				return append([]models.ItemID(nil), t.Samples...)
			}
		}
		return []models.ItemID{}
	}
	if info.RootMeta != nil && info.RootMeta.ContextID == contextID {
		return metaIDs(info.RootMeta, metaFilter)
	}
	return []models.ItemID{}
}

// MetaBoxMasterIDs 根级 meta 中的主图像
func (p *Provider) MetaBoxMasterIDs() []models.ItemID {
	info := p.reader.FileInfo()
	if info.RootMeta == nil {
		return []models.ItemID{}
	}
	return metaIDs(info.RootMeta, func(f heif.ImageFeatures) bool { return f.IsMaster })
}

// MetaBoxThumbnailIDs 根级 meta 中的缩略图
func (p *Provider) MetaBoxThumbnailIDs() []models.ItemID {
	info := p.reader.FileInfo()
	if info.RootMeta == nil {
		return []models.ItemID{}
	}
	return metaIDs(info.RootMeta, func(f heif.ImageFeatures) bool { return f.IsThumbnail })
}

func metaIDs(meta *heif.MetaBoxInfo, keep func(heif.ImageFeatures) bool) []models.ItemID {
	ids := []models.ItemID{}
	for id, f := range meta.Images {
		if keep(f) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CoverImageID 封面条目；未设置封面时取第一个主图像
func (p *Provider) CoverImageID(contextID models.ContextID) (models.ItemID, bool) {
	if p.reader.FileInfo().Features.HasCoverImage {
		if id, err := p.reader.CoverImageItemID(contextID); err == nil {
			return id, true
		}
	}
	ids := p.displayItems(contextID)
	if len(ids) == 0 {
		return 0, false
	}
	logging.LogDebug("封面: 未设置，使用第一帧", "context", contextID, "item", ids[0])
	return ids[0], true
}

// ItemTimestamps 播放时间轴
func (p *Provider) ItemTimestamps(contextID models.ContextID) ([]models.Timestamp, error) {
	return p.reader.ItemTimestamps(contextID)
}
