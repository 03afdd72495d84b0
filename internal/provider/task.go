package provider

import (
	"context"
	"sync"

	"heif-player/internal/models"
)

// Task 一次解码请求的结果
//
// 结果只产生一次；回调 (如果有) 在结果产生后于解码协程中调用。
type Task struct {
	ContextID models.ContextID
	ItemIDs   []models.ItemID // 去重后的请求条目

	ctx    context.Context
	cancel context.CancelFunc

	once     sync.Once
	done     chan struct{}
	payload  models.Payload
	callback func(models.Payload)
}

func newTask(parent context.Context, contextID models.ContextID, ids []models.ItemID, cb func(models.Payload)) *Task {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		ContextID: contextID,
		ItemIDs:   ids,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		callback:  cb,
	}
}

// Done 结果产生后关闭
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait 等待结果或 ctx 结束
func (t *Task) Wait(ctx context.Context) (models.Payload, error) {
	select {
	case <-t.done:
		return t.payload, nil
	case <-ctx.Done():
		return models.Payload{}, ctx.Err()
	}
}

// Payload 返回结果，尚未完成时第二个返回值为 false
func (t *Task) Payload() (models.Payload, bool) {
	select {
	case <-t.done:
		return t.payload, true
	default:
		return models.Payload{}, false
	}
}

// Cancel 取消请求
// 排队中的请求立即以 ErrCanceled 结束；正在解码的请求在下一个数据块前结束
func (t *Task) Cancel() {
	t.cancel()
}

func (t *Task) complete(p models.Payload) {
	t.once.Do(func() {
		t.payload = p
		close(t.done)
		t.cancel()
		if t.callback != nil {
			t.callback(p)
		}
	})
}
