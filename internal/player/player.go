// Package player 单个文件的播放编排
//
// 根据 FileInfo 判断播放方式 (动画/静态图/图像集合)，
// 加载封面 (先缩略图后主图)，并驱动 animation.Controller。
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"heif-player/internal/animation"
	"heif-player/internal/heif"
	"heif-player/internal/logging"
	"heif-player/internal/models"
	"heif-player/internal/provider"
)

var ErrUnsupported = errors.New("file has nothing to display")

// Mode 播放方式
type Mode int

const (
	ModeUnsupported Mode = iota
	ModeStill
	ModeCollection
	ModeAnimation
)

func (m Mode) String() string {
	switch m {
	case ModeStill:
		return "still"
	case ModeCollection:
		return "collection"
	case ModeAnimation:
		return "animation"
	default:
		return "unsupported"
	}
}

// DetectMode 判断播放方式
// 图像序列，或指定了帧率的图像集合按动画播放
func DetectMode(f heif.FileFeatures, frameRate int) Mode {
	switch {
	case f.HasImageSequence || (f.HasImageCollection && frameRate > 0):
		return ModeAnimation
	case f.HasImageCollection:
		return ModeCollection
	case f.HasSingleImage:
		return ModeStill
	default:
		return ModeUnsupported
	}
}

// Options 播放参数
type Options struct {
	FrameRate int  // >0 时图像集合按该帧率定时播放
	Autoplay  bool // 加载后自动开始
	Preload   bool // 封面之后一次性请求全部帧
	OnLoad    func()
	Animation animation.Options
}

// Player 一个文件的播放器
type Player struct {
	provider *provider.Provider
	renderer animation.Renderer
	opts     Options

	mode       Mode
	master     models.ContextID
	anim       *animation.Controller
	coverDrawn atomic.Bool // 主图封面已绘制后忽略迟到的缩略图
	onload     sync.Once
	closeMu    sync.Mutex
	closed     bool
}

// New 创建播放器；集合按帧率播放时设置强制定时播放
func New(p *provider.Provider, r animation.Renderer, opts Options) (*Player, error) {
	info := p.FileInfo()
	mode := DetectMode(info.Features, opts.FrameRate)
	if mode == ModeUnsupported {
		return nil, ErrUnsupported
	}
	master, ok := p.MasterContextID()
	if !ok {
		return nil, fmt.Errorf("%w: no master context", ErrUnsupported)
	}

	pl := &Player{provider: p, renderer: r, opts: opts, mode: mode, master: master}
	if mode != ModeAnimation {
		return pl, nil
	}

	if opts.FrameRate > 0 && info.Features.HasRootLevelMetaBox && !info.Features.HasImageSequence {
		if err := p.Reader().SetForcedTimedPlayback(master, opts.FrameRate); err != nil {
			return nil, fmt.Errorf("forced timed playback: %w", err)
		}
	}

	animOpts := opts.Animation
	onReady := animOpts.OnReady
	animOpts.OnReady = func() {
		if onReady != nil {
			onReady()
		}
		pl.loaded()
	}
	pl.anim = animation.New(p, master, r, animOpts)
	return pl, nil
}

// Mode 播放方式
func (p *Player) Mode() Mode {
	return p.mode
}

// MasterContextID 主图像上下文
func (p *Player) MasterContextID() models.ContextID {
	return p.master
}

// Animation 动画控制器，非动画文件为 nil
func (p *Player) Animation() *animation.Controller {
	return p.anim
}

// Provider 解码管线
func (p *Player) Provider() *provider.Provider {
	return p.provider
}

// Load 按播放方式开始加载
func (p *Player) Load(ctx context.Context) error {
	switch p.mode {
	case ModeAnimation:
		if err := p.anim.Init(); err != nil {
			return err
		}
		if p.opts.Preload {
			return p.LoadCover(ctx)
		}
		if p.opts.Autoplay {
			return p.anim.Start()
		}
		return p.LoadCover(ctx)
	case ModeStill:
		return p.LoadCover(ctx)
	default:
		return nil
	}
}

// CoverID 封面条目
func (p *Player) CoverID() (models.ItemID, bool) {
	return p.provider.CoverImageID(p.master)
}

// LoadCover 先请求封面的缩略图，再请求主图封面
// 预加载模式下主图封面完成后请求全部帧
func (p *Player) LoadCover(ctx context.Context) error {
	cover, ok := p.CoverID()
	if !ok {
		return fmt.Errorf("%w: no cover image", ErrUnsupported)
	}
	w, h := p.provider.DisplaySize(p.master)
	index := p.coverIndex(cover)

	if thumbCtx, ok := p.provider.ThumbnailContextID(); ok && thumbCtx != p.master {
		if thumbID, ok := p.provider.ThumbnailIDByItemID(thumbCtx, cover); ok {
			draw := p.drawCallback(index, thumbID, w, h)
			err := p.provider.RequestImageData(ctx, thumbCtx, []models.ItemID{thumbID}, func(payload models.Payload) {
				if !p.coverDrawn.Load() {
					draw(payload)
				}
			})
			if err != nil {
				logging.LogWarn("封面缩略图请求失败", "context", thumbCtx, "item", thumbID, "error", err)
			}
		}
	}

	return p.provider.RequestImageData(ctx, p.master, []models.ItemID{cover}, func(payload models.Payload) {
		p.coverDrawn.Store(true)
		p.drawCallback(index, cover, w, h)(payload)
		if p.opts.Preload && p.anim != nil {
			if err := p.anim.Preload(); err != nil {
				logging.LogWarn("预加载失败", "error", err)
				return
			}
			if p.opts.Autoplay {
				if err := p.anim.Start(); err != nil {
					logging.LogWarn("自动播放失败", "error", err)
				}
			}
		}
	})
}

// Collection 一次性解码根级 meta 中的全部主图像
func (p *Player) Collection(ctx context.Context) (models.Payload, error) {
	info := p.provider.FileInfo()
	if info.RootMeta == nil {
		return models.Payload{}, fmt.Errorf("%w: no root meta box", ErrUnsupported)
	}
	task, err := p.provider.Request(ctx, info.RootMeta.ContextID, p.provider.MetaBoxMasterIDs())
	if err != nil {
		return models.Payload{}, err
	}
	payload, err := task.Wait(ctx)
	if err != nil {
		return models.Payload{}, err
	}
	if payload.Success {
		p.loaded()
	}
	return payload, nil
}

// Close 停止播放
func (p *Player) Close() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.anim != nil {
		p.anim.Close()
	}
}

func (p *Player) coverIndex(cover models.ItemID) int {
	if p.anim != nil {
		if tl := p.anim.Timeline(); tl != nil {
			if i, ok := tl.IndexOf(cover); ok {
				return i
			}
		}
	}
	return 0
}

func (p *Player) drawCallback(index int, id models.ItemID, w, h int) func(models.Payload) {
	return func(payload models.Payload) {
		if !payload.Success {
			logging.LogWarn("封面解码失败", "item", id, "error", payload.Err)
			if p.renderer != nil {
				p.renderer.DrawPlaceholder(index, w, h)
			}
			return
		}
		if f, ok := payload.Frame(id); ok && p.renderer != nil {
			p.renderer.DrawFrame(index, f, w, h)
		}
		p.loaded()
	}
}

func (p *Player) loaded() {
	if p.opts.OnLoad != nil {
		p.onload.Do(p.opts.OnLoad)
	}
}
