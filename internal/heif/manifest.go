package heif

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v2"

	"heif-player/internal/logging"
	"heif-player/internal/models"
)

// ByteRange 数据文件中的字节区间
type ByteRange struct {
	Offset int64 `yaml:"offset"`
	Length int64 `yaml:"length"`
}

// ManifestItem 清单中的条目
type ManifestItem struct {
	ID           models.ItemID              `yaml:"id"`
	Type         string                     `yaml:"type"`
	Offset       int64                      `yaml:"offset"`
	Length       int64                      `yaml:"length"`
	Width        int                        `yaml:"width"`
	Height       int                        `yaml:"height"`
	Master       bool                       `yaml:"master"`
	Thumbnail    bool                       `yaml:"thumbnail"`
	Hidden       bool                       `yaml:"hidden"`
	Cover        bool                       `yaml:"cover"`
	Dependencies []models.ItemID            `yaml:"dependencies"`
	References   map[string][]models.ItemID `yaml:"references"`
	Timestamp    int64                      `yaml:"timestamp"`
}

// ManifestContext 清单中的上下文
type ManifestContext struct {
	ID                models.ContextID `yaml:"id"`
	Kind              ContextKind      `yaml:"kind"`
	Master            bool             `yaml:"master"`
	Thumbnail         bool             `yaml:"thumbnail"`
	DecoderParameters ByteRange        `yaml:"decoderParameters"`
	Items             []ManifestItem   `yaml:"items"`
}

// ManifestFile YAML 清单
//
// Data 为 Annex-B 码流文件，相对路径以清单所在目录为基准。
type ManifestFile struct {
	Data     string            `yaml:"data"`
	Contexts []ManifestContext `yaml:"contexts"`
}

// Manifest 由清单 + mmap 数据文件构成的 Reader
type Manifest struct {
	*Catalog
	Path string

	mu     sync.RWMutex
	data   []byte // mmap 映射的码流
	closed bool
}

var _ Reader = (*Manifest)(nil)

// OpenManifest 读取清单并以 mmap 映射数据文件 (零拷贝)
func OpenManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var mf ManifestFile
	if err := yaml.UnmarshalStrict(raw, &mf); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if mf.Data == "" {
		return nil, fmt.Errorf("%w: manifest has no data file", ErrInvalidCatalog)
	}

	dataPath := mf.Data
	if !filepath.IsAbs(dataPath) {
		dataPath = filepath.Join(filepath.Dir(path), dataPath)
	}
	data, err := mapFile(dataPath)
	if err != nil {
		return nil, err
	}

	catalog, err := mf.catalog(data)
	if err != nil {
		unmap(data)
		return nil, err
	}

	logging.LogInfo("清单已加载", "path", path, "data", dataPath, "bytes", len(data), "contexts", len(mf.Contexts))
	return &Manifest{Catalog: catalog, Path: path, data: data}, nil
}

// ItemDataWithDecoderParameters 复制条目数据；Close 之后返回 ErrClosed
func (m *Manifest) ItemDataWithDecoderParameters(ctx models.ContextID, id models.ItemID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.Catalog.ItemDataWithDecoderParameters(ctx, id)
}

// Close 释放 mmap 映射
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	data := m.data
	m.data = nil
	return unmap(data)
}

func (mf *ManifestFile) catalog(data []byte) (*Catalog, error) {
	slice := func(r ByteRange) ([]byte, error) {
		if r.Offset < 0 || r.Length < 0 || r.Offset+r.Length > int64(len(data)) {
			return nil, fmt.Errorf("%w: range %d+%d outside data (%d bytes)", ErrInvalidCatalog, r.Offset, r.Length, len(data))
		}
		return data[r.Offset : r.Offset+r.Length], nil
	}

	contexts := make([]*Context, 0, len(mf.Contexts))
	for _, mc := range mf.Contexts {
		params, err := slice(mc.DecoderParameters)
		if err != nil {
			return nil, fmt.Errorf("context %d parameters: %w", mc.ID, err)
		}
		ctx := &Context{
			ID:                mc.ID,
			Kind:              mc.Kind,
			Master:            mc.Master,
			Thumbnail:         mc.Thumbnail,
			DecoderParameters: params,
		}
		for _, mi := range mc.Items {
			payload, err := slice(ByteRange{Offset: mi.Offset, Length: mi.Length})
			if err != nil {
				return nil, fmt.Errorf("context %d item %d: %w", mc.ID, mi.ID, err)
			}
			typ := mi.Type
			if typ == "" {
				typ = TypeHEVC
			}
			ctx.Items = append(ctx.Items, &Item{
				ID:           mi.ID,
				Type:         typ,
				Width:        mi.Width,
				Height:       mi.Height,
				Master:       mi.Master,
				Thumbnail:    mi.Thumbnail,
				Hidden:       mi.Hidden,
				Cover:        mi.Cover,
				Dependencies: mi.Dependencies,
				References:   mi.References,
				Timestamp:    mi.Timestamp,
				Data:         payload,
			})
		}
		contexts = append(contexts, ctx)
	}
	return NewCatalog(contexts...)
}

func mapFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := int(info.Size())
	if size == 0 {
		return nil, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return data, nil
}

func unmap(data []byte) error {
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}
