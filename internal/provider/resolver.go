package provider

import (
	"context"
	"fmt"

	"heif-player/internal/hevc"
	"heif-player/internal/heif"
	"heif-player/internal/models"
)

// requestContext 一次解码请求
//
// itemIDs 为解码顺序 (依赖在前，请求条目在后)，解码输出按此顺序逐个对应。
type requestContext struct {
	ctx          context.Context
	contextID    models.ContextID
	requested    []models.ItemID
	itemIDs      []models.ItemID
	dependencies map[models.ItemID]bool // 只解码不输出的条目
	stream       []byte

	next    int
	payload models.Payload
	task    *Task
	stop    func() bool // 取消监听
}

// resolve 展开依赖并拼接解码码流
//
// 依赖条目先于请求条目写入码流，每个条目只写入一次。
// 同时被请求的依赖条目保持可见；条目依赖自身时视为需要显示。
func resolve(reader heif.Reader, contextID models.ContextID, itemIDs []models.ItemID) (*requestContext, error) {
	requested := make([]models.ItemID, 0, len(itemIDs))
	isRequested := make(map[models.ItemID]bool, len(itemIDs))
	for _, id := range itemIDs {
		if isRequested[id] {
			continue
		}
		isRequested[id] = true
		requested = append(requested, id)
	}
	if len(requested) == 0 {
		return nil, ErrEmptyRequest
	}

	rc := &requestContext{
		contextID:    contextID,
		requested:    requested,
		dependencies: make(map[models.ItemID]bool),
		payload:      models.Payload{Success: true},
	}
	scheduled := make(map[models.ItemID]bool)

	appendItem := func(id models.ItemID) error {
		data, err := reader.ItemDataWithDecoderParameters(contextID, id)
		if err != nil {
			return fmt.Errorf("item %d data: %w", id, err)
		}
		rc.stream = append(rc.stream, data...)
		rc.itemIDs = append(rc.itemIDs, id)
		scheduled[id] = true
		return nil
	}

	for _, id := range requested {
		refs, err := reader.ItemDecodeDependencies(contextID, id)
		if err != nil {
			return nil, fmt.Errorf("item %d dependencies: %w", id, err)
		}
		for _, ref := range refs {
			if ref == id || scheduled[ref] {
				continue
			}
			if err := appendItem(ref); err != nil {
				return nil, err
			}
			if !isRequested[ref] {
				rc.dependencies[ref] = true
			}
		}
	}

	for _, id := range requested {
		if scheduled[id] {
			continue
		}
		if err := appendItem(id); err != nil {
			return nil, err
		}
	}
	return rc, nil
}

// complete 是否所有条目都已有输出
func (rc *requestContext) complete() bool {
	return rc.next >= len(rc.itemIDs)
}

// accept 把一帧解码输出对应到下一个未完成的条目
// 返回 false 表示输出多于条目
func (rc *requestContext) accept(p hevc.Picture) (bool, error) {
	if rc.complete() {
		return false, nil
	}
	id := rc.itemIDs[rc.next]
	rc.next++

	frame := &models.Frame{ItemID: id, Width: p.Width, Height: p.Height, Pixels: p.Pixels}
	if err := frame.Validate(); err != nil {
		return true, fmt.Errorf("item %d: %w", id, err)
	}
	if rc.dependencies[id] {
		return true, nil
	}

	if frame.Width > rc.payload.DisplayWidth {
		rc.payload.DisplayWidth = frame.Width
	}
	if frame.Height > rc.payload.DisplayHeight {
		rc.payload.DisplayHeight = frame.Height
	}
	rc.payload.Frames = append(rc.payload.Frames, frame)
	return true, nil
}
