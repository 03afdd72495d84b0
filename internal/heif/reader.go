// Package heif 容器读取接口与实现
//
// Reader 提供解码管线需要的全部容器元数据：依赖链、带参数集的编码数据、
// 条目尺寸、时间戳和条目间引用。盒结构解析不在此处，
// Catalog 由已解析的描述 (例如 YAML 清单) 构造。
package heif

import (
	"errors"

	"heif-player/internal/models"
)

var (
	ErrUnknownContext = errors.New("heif: unknown context")
	ErrUnknownItem    = errors.New("heif: unknown item")
	ErrNoTimestamps   = errors.New("heif: context has no timestamps")
	ErrNoCoverImage   = errors.New("heif: no cover image")
	ErrInvalidCatalog = errors.New("heif: invalid catalog")
	ErrClosed         = errors.New("heif: reader closed")
)

// ContextKind 上下文类型
type ContextKind string

const (
	KindMeta  ContextKind = "meta" // 根级 meta box，图片集合
	KindTrack ContextKind = "trak" // 图像序列轨道
)

// 条目列表类型，用于 ItemListByType
const (
	ListMaster    = "master"
	ListThumbnail = "thumbnail"
	ListDisplay   = "display"
	ListHidden    = "hidden"
)

// 条目类型
const (
	TypeHEVC     = "hvc1"
	TypeGrid     = "grid"
	TypeOverlay  = "iovl"
	TypeIdentity = "iden"
)

// 引用类型
const (
	RefThumbnail = "thmb"
	RefAuxiliary = "auxl"
	RefDerived   = "dimg"
)

// FileFeatures 文件级特征
type FileFeatures struct {
	HasRootLevelMetaBox bool `json:"hasRootLevelMetaBox"`
	HasSingleImage      bool `json:"hasSingleImage"`
	HasImageCollection  bool `json:"hasImageCollection"`
	HasImageSequence    bool `json:"hasImageSequence"`
	HasCoverImage       bool `json:"hasCoverImage"`
}

// ImageFeatures 根级 meta 中单个图像的特征
type ImageFeatures struct {
	IsMaster    bool `json:"isMaster"`
	IsThumbnail bool `json:"isThumbnail"`
	IsHidden    bool `json:"isHidden"`
	IsCover     bool `json:"isCover"`
}

// MetaBoxInfo 根级 meta box 信息
type MetaBoxInfo struct {
	ContextID        models.ContextID                `json:"contextId"`
	HasThumbnails    bool                            `json:"hasThumbnails"`
	HasDerivedImages bool                            `json:"hasDerivedImages"`
	Images           map[models.ItemID]ImageFeatures `json:"images"`
}

// TrackInfo 轨道信息
type TrackInfo struct {
	TrackID                  models.ContextID `json:"trackId"`
	IsMasterImageSequence    bool             `json:"isMasterImageSequence"`
	IsThumbnailImageSequence bool             `json:"isThumbnailImageSequence"`
	Samples                  []models.ItemID  `json:"samples"`
}

// FileInfo 文件信息
type FileInfo struct {
	Features FileFeatures `json:"features"`
	RootMeta *MetaBoxInfo `json:"rootMeta,omitempty"`
	Tracks   []TrackInfo  `json:"tracks,omitempty"`
}

// HasTracks 是否包含轨道
func (f FileInfo) HasTracks() bool {
	return len(f.Tracks) > 0
}

// Reader 容器读取接口
type Reader interface {
	FileInfo() FileInfo
	ContextType(ctx models.ContextID) (ContextKind, error)
	// ItemDecodeDependencies 返回解码顺序的依赖链，通常以条目自身结尾
	ItemDecodeDependencies(ctx models.ContextID, id models.ItemID) ([]models.ItemID, error)
	// ItemDataWithDecoderParameters 返回参数集 + 编码数据，可以直接送入解码器
	ItemDataWithDecoderParameters(ctx models.ContextID, id models.ItemID) ([]byte, error)
	ItemSize(ctx models.ContextID, id models.ItemID) (width, height int, err error)
	ItemListByType(ctx models.ContextID, listType string) ([]models.ItemID, error)
	ItemTimestamps(ctx models.ContextID) ([]models.Timestamp, error)
	CoverImageItemID(ctx models.ContextID) (models.ItemID, error)
	// ReferencedFromItemListByType 返回 id 以 refType 引用的条目
	ReferencedFromItemListByType(ctx models.ContextID, id models.ItemID, refType string) ([]models.ItemID, error)
	// ReferencedToItemListByType 返回以 refType 引用 id 的条目
	ReferencedToItemListByType(ctx models.ContextID, id models.ItemID, refType string) ([]models.ItemID, error)
	// SetForcedTimedPlayback 让图片集合按固定帧率生成时间戳
	SetForcedTimedPlayback(ctx models.ContextID, fps int) error
}
