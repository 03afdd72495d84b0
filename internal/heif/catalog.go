package heif

import (
	"fmt"
	"sort"
	"sync"

	"heif-player/internal/models"
)

// Item 条目描述
type Item struct {
	ID           models.ItemID
	Type         string
	Width        int
	Height       int
	Master       bool
	Thumbnail    bool
	Hidden       bool
	Cover        bool
	Dependencies []models.ItemID
	References   map[string][]models.ItemID // 引用类型 -> 被引用条目
	Timestamp    int64                      // 轨道样本的显示时间 (ms)
	Data         []byte                     // 不含参数集的 Annex-B 数据
}

// Context 上下文描述
type Context struct {
	ID                models.ContextID
	Kind              ContextKind
	Master            bool // 轨道: 主图像序列
	Thumbnail         bool // 轨道: 缩略图序列
	DecoderParameters []byte
	Items             []*Item
}

// Catalog 基于内存描述的 Reader 实现
type Catalog struct {
	mu       sync.RWMutex
	contexts map[models.ContextID]*catalogContext
	order    []models.ContextID
	info     FileInfo
}

type catalogContext struct {
	*Context
	items     map[models.ItemID]*Item
	forcedFPS int
}

var _ Reader = (*Catalog)(nil)

// NewCatalog 校验描述并计算文件特征
func NewCatalog(contexts ...*Context) (*Catalog, error) {
	c := &Catalog{contexts: make(map[models.ContextID]*catalogContext)}

	var rootMeta *catalogContext
	for _, ctx := range contexts {
		if ctx == nil {
			continue
		}
		if _, dup := c.contexts[ctx.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate context %d", ErrInvalidCatalog, ctx.ID)
		}
		if ctx.Kind != KindMeta && ctx.Kind != KindTrack {
			return nil, fmt.Errorf("%w: context %d has kind %q", ErrInvalidCatalog, ctx.ID, ctx.Kind)
		}
		cc := &catalogContext{Context: ctx, items: make(map[models.ItemID]*Item, len(ctx.Items))}
		for _, it := range ctx.Items {
			if _, dup := cc.items[it.ID]; dup {
				return nil, fmt.Errorf("%w: duplicate item %d in context %d", ErrInvalidCatalog, it.ID, ctx.ID)
			}
			cc.items[it.ID] = it
		}
		for _, it := range ctx.Items {
			for _, dep := range it.Dependencies {
				if _, ok := cc.items[dep]; !ok {
					return nil, fmt.Errorf("%w: item %d depends on unknown item %d", ErrInvalidCatalog, it.ID, dep)
				}
			}
		}
		if ctx.Kind == KindMeta {
			if rootMeta != nil {
				return nil, fmt.Errorf("%w: more than one root meta context", ErrInvalidCatalog)
			}
			rootMeta = cc
		}
		c.contexts[ctx.ID] = cc
		c.order = append(c.order, ctx.ID)
	}

	if len(c.contexts) == 0 {
		return nil, fmt.Errorf("%w: no contexts", ErrInvalidCatalog)
	}

	c.info = c.buildFileInfo(rootMeta)
	return c, nil
}

func (c *Catalog) buildFileInfo(rootMeta *catalogContext) FileInfo {
	var info FileInfo

	for _, id := range c.order {
		cc := c.contexts[id]
		for _, it := range cc.Items {
			if it.Cover {
				info.Features.HasCoverImage = true
			}
		}
		if cc.Kind != KindTrack {
			continue
		}
		info.Features.HasImageSequence = true
		track := TrackInfo{
			TrackID:                  cc.ID,
			IsMasterImageSequence:    cc.Master,
			IsThumbnailImageSequence: cc.Thumbnail,
		}
		for _, it := range cc.Items {
			track.Samples = append(track.Samples, it.ID)
		}
		info.Tracks = append(info.Tracks, track)
	}

	if rootMeta != nil {
		info.Features.HasRootLevelMetaBox = true
		meta := &MetaBoxInfo{
			ContextID: rootMeta.ID,
			Images:    make(map[models.ItemID]ImageFeatures, len(rootMeta.Items)),
		}
		masters := 0
		for _, it := range rootMeta.Items {
			meta.Images[it.ID] = ImageFeatures{
				IsMaster:    it.Master,
				IsThumbnail: it.Thumbnail,
				IsHidden:    it.Hidden,
				IsCover:     it.Cover,
			}
			if it.Master {
				masters++
			}
			if it.Thumbnail {
				meta.HasThumbnails = true
			}
			switch it.Type {
			case TypeGrid, TypeOverlay, TypeIdentity:
				meta.HasDerivedImages = true
			}
		}
		info.Features.HasSingleImage = masters == 1
		info.Features.HasImageCollection = masters > 1
		info.RootMeta = meta
	}
	return info
}

func (c *Catalog) context(ctx models.ContextID) (*catalogContext, error) {
	cc, ok := c.contexts[ctx]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownContext, ctx)
	}
	return cc, nil
}

func (c *Catalog) item(ctx models.ContextID, id models.ItemID) (*catalogContext, *Item, error) {
	cc, err := c.context(ctx)
	if err != nil {
		return nil, nil, err
	}
	it, ok := cc.items[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d in context %d", ErrUnknownItem, id, ctx)
	}
	return cc, it, nil
}

// FileInfo 返回文件信息
func (c *Catalog) FileInfo() FileInfo {
	return c.info
}

// ContextType 返回上下文类型
func (c *Catalog) ContextType(ctx models.ContextID) (ContextKind, error) {
	cc, err := c.context(ctx)
	if err != nil {
		return "", err
	}
	return cc.Kind, nil
}

// ItemDecodeDependencies 返回依赖链，没有声明依赖时只包含条目自身
func (c *Catalog) ItemDecodeDependencies(ctx models.ContextID, id models.ItemID) ([]models.ItemID, error) {
	_, it, err := c.item(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(it.Dependencies) == 0 {
		return []models.ItemID{id}, nil
	}
	deps := make([]models.ItemID, len(it.Dependencies))
	copy(deps, it.Dependencies)
	return deps, nil
}

// ItemDataWithDecoderParameters 返回参数集 + 条目数据的新缓冲区
func (c *Catalog) ItemDataWithDecoderParameters(ctx models.ContextID, id models.ItemID) ([]byte, error) {
	cc, it, err := c.item(ctx, id)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(cc.DecoderParameters)+len(it.Data))
	buf = append(buf, cc.DecoderParameters...)
	buf = append(buf, it.Data...)
	return buf, nil
}

// ItemSize 返回条目原始尺寸
func (c *Catalog) ItemSize(ctx models.ContextID, id models.ItemID) (int, int, error) {
	_, it, err := c.item(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	return it.Width, it.Height, nil
}

// ItemListByType 按列表类型或条目类型枚举条目
//
// display: 轨道中非隐藏的样本；master/thumbnail/hidden: 按标记；
// 其它值按条目类型 (hvc1、grid ...) 匹配。
func (c *Catalog) ItemListByType(ctx models.ContextID, listType string) ([]models.ItemID, error) {
	cc, err := c.context(ctx)
	if err != nil {
		return nil, err
	}

	var ids []models.ItemID
	for _, it := range cc.Items {
		var match bool
		switch listType {
		case ListDisplay:
			match = !it.Hidden
		case ListMaster:
			match = it.Master || (cc.Kind == KindTrack && cc.Master && !it.Hidden)
		case ListThumbnail:
			match = it.Thumbnail || (cc.Kind == KindTrack && cc.Thumbnail && !it.Hidden)
		case ListHidden:
			match = it.Hidden
		default:
			match = it.Type == listType
		}
		if match {
			ids = append(ids, it.ID)
		}
	}
	return ids, nil
}

// ItemTimestamps 返回按显示时间升序的时间戳
//
// 轨道使用样本时间；根级 meta 需要先 SetForcedTimedPlayback，
// 按主图像顺序以固定间隔生成。
func (c *Catalog) ItemTimestamps(ctx models.ContextID) ([]models.Timestamp, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cc, err := c.context(ctx)
	if err != nil {
		return nil, err
	}

	var ts []models.Timestamp
	switch {
	case cc.Kind == KindTrack:
		for _, it := range cc.Items {
			if it.Hidden {
				continue
			}
			ts = append(ts, models.Timestamp{ID: it.ID, T: it.Timestamp})
		}
		sort.SliceStable(ts, func(i, j int) bool { return ts[i].T < ts[j].T })
	case cc.forcedFPS > 0:
		n := 0
		for _, it := range cc.Items {
			if !it.Master {
				continue
			}
			ts = append(ts, models.Timestamp{ID: it.ID, T: int64(n) * 1000 / int64(cc.forcedFPS)})
			n++
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrNoTimestamps, ctx)
	}
	return ts, nil
}

// CoverImageItemID 返回封面条目
func (c *Catalog) CoverImageItemID(ctx models.ContextID) (models.ItemID, error) {
	cc, err := c.context(ctx)
	if err != nil {
		return 0, err
	}
	for _, it := range cc.Items {
		if it.Cover {
			return it.ID, nil
		}
	}
	return 0, ErrNoCoverImage
}

// ReferencedFromItemListByType 返回 id 以 refType 引用的条目
func (c *Catalog) ReferencedFromItemListByType(ctx models.ContextID, id models.ItemID, refType string) ([]models.ItemID, error) {
	_, it, err := c.item(ctx, id)
	if err != nil {
		return nil, err
	}
	refs := it.References[refType]
	out := make([]models.ItemID, len(refs))
	copy(out, refs)
	return out, nil
}

// ReferencedToItemListByType 返回以 refType 引用 id 的条目
func (c *Catalog) ReferencedToItemListByType(ctx models.ContextID, id models.ItemID, refType string) ([]models.ItemID, error) {
	cc, _, err := c.item(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []models.ItemID
	for _, it := range cc.Items {
		for _, target := range it.References[refType] {
			if target == id {
				out = append(out, it.ID)
				break
			}
		}
	}
	return out, nil
}

// SetForcedTimedPlayback 设置图片集合的播放帧率，fps<=0 取消
func (c *Catalog) SetForcedTimedPlayback(ctx models.ContextID, fps int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cc, err := c.context(ctx)
	if err != nil {
		return err
	}
	if cc.Kind != KindMeta {
		return fmt.Errorf("heif: forced timed playback needs a meta context, %d is %s", ctx, cc.Kind)
	}
	if fps < 0 {
		fps = 0
	}
	cc.forcedFPS = fps
	return nil
}
