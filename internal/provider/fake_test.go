package provider

import (
	"errors"
	"sync"

	"heif-player/internal/heif"
	"heif-player/internal/hevc"
	"heif-player/internal/models"
)

// fakeDecoder 把 4 字节记录 {0xFE, id, width, height} 解码为对应尺寸的图像
type fakeDecoder struct {
	mu      sync.Mutex
	buf     []byte
	ready   []hevc.Picture
	flushed bool

	decoded []models.ItemID    // 解码顺序
	failOn  map[byte]bool      // 遇到该 id 时 Push 返回错误
	drop    map[byte]bool      // 该 id 不产生输出
	gate    chan struct{}      // 非 nil 时每次 Push 先等待
	started chan models.ItemID // 非 nil 时报告每个记录
}

var errFakeDecode = errors.New("fake decode error")

func (d *fakeDecoder) Push(data []byte) error {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, data...)
	for len(d.buf) >= 4 {
		rec := d.buf[:4]
		d.buf = d.buf[4:]
		if rec[0] != 0xFE {
			return errFakeDecode
		}
		id := rec[1]
		if d.started != nil {
			d.started <- models.ItemID(id)
		}
		if d.failOn[id] {
			return errFakeDecode
		}
		d.decoded = append(d.decoded, models.ItemID(id))
		if d.drop[id] {
			continue
		}
		w, h := int(rec[2]), int(rec[3])
		d.ready = append(d.ready, hevc.Picture{Width: w, Height: h, Pixels: make([]byte, w*h*4)})
	}
	return nil
}

func (d *fakeDecoder) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushed = true
	return nil
}

func (d *fakeDecoder) Decode(onPicture func(hevc.Picture)) error {
	d.mu.Lock()
	pics := d.ready
	d.ready = nil
	flushed := d.flushed
	d.mu.Unlock()

	if len(pics) == 0 && !flushed {
		return hevc.ErrWaitingForInput
	}
	for _, p := range pics {
		onPicture(p)
	}
	return nil
}

func (d *fakeDecoder) HasMore() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ready) > 0
}

func (d *fakeDecoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = nil
	d.ready = nil
	d.flushed = false
}

func (d *fakeDecoder) order() []models.ItemID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.ItemID(nil), d.decoded...)
}

// item 构造 fakeDecoder 可以解码的条目
func item(id models.ItemID, w, h int, deps ...models.ItemID) *heif.Item {
	return &heif.Item{
		ID:           id,
		Type:         heif.TypeHEVC,
		Width:        w,
		Height:       h,
		Dependencies: deps,
		Data:         []byte{0xFE, byte(id), byte(w), byte(h)},
	}
}

const testTrack models.ContextID = 7

// trackCatalog A(1) <- B(2)，C(3) 依赖 A，D(4) 独立
func trackCatalog() heif.Reader {
	ctx := &heif.Context{
		ID:     testTrack,
		Kind:   heif.KindTrack,
		Master: true,
		Items: []*heif.Item{
			item(1, 20, 20),
			item(2, 8, 6, 1, 2),
			item(3, 10, 4, 1, 3),
			item(4, 5, 5),
		},
	}
	for i, it := range ctx.Items {
		it.Timestamp = int64(i) * 40
	}
	c, err := heif.NewCatalog(ctx)
	if err != nil {
		panic(err)
	}
	return c
}
