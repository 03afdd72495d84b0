package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"heif-player/internal/config"
	"heif-player/internal/hevc"
	"heif-player/internal/logging"
	"heif-player/internal/metrics"
	"heif-player/internal/models"
)

// Scheduler 串行化对单个解码器的访问
//
// 状态 IDLE -> DECODING -> IDLE。请求入队后由 Decode 取出，
// LIFO 时最新的请求先解码，FIFO 时按提交顺序。
type Scheduler struct {
	decoder   hevc.Decoder
	order     string
	chunkSize int
	metrics   *metrics.Metrics

	mu       sync.Mutex
	queue    []*requestContext
	decoding bool
	closed   bool
	wg       sync.WaitGroup
}

// NewScheduler 创建调度器，order 为 config.QueueLIFO 或 config.QueueFIFO
func NewScheduler(decoder hevc.Decoder, order string, chunkSize int, m *metrics.Metrics) *Scheduler {
	if !config.IsValidQueueOrder(order) {
		order = config.QueueLIFO
	}
	if chunkSize <= 0 {
		chunkSize = config.DecodeChunkSize
	}
	return &Scheduler{
		decoder:   decoder,
		order:     order,
		chunkSize: chunkSize,
		metrics:   m,
	}
}

// Push 请求入队，不触发解码
func (s *Scheduler) Push(rc *requestContext) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	// 排队中被取消的请求立即结束
	rc.stop = context.AfterFunc(rc.ctx, func() { s.remove(rc) })
	s.queue = append(s.queue, rc)
	depth := len(s.queue)
	s.mu.Unlock()

	s.metrics.RequestQueued(depth)
	return nil
}

// Decode 空闲时取出下一个请求开始解码；解码中调用无效
func (s *Scheduler) Decode() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.decoding || s.closed {
		return
	}
	rc := s.popLocked()
	if rc == nil {
		return
	}
	s.decoding = true
	s.wg.Add(1)
	go s.run(rc)
}

// Pending 排队中的请求数
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Busy 是否正在解码
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decoding
}

// Close 拒绝新请求，排队中的请求以 ErrClosed 结束，等待当前解码完成
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.closed = true
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	s.metrics.QueueDepth(0)
	for _, rc := range pending {
		s.finish(rc, models.FailedPayload(ErrClosed), "closed")
	}
	s.wg.Wait()
}

// popLocked 按队列顺序取出请求，调用方持有锁
func (s *Scheduler) popLocked() *requestContext {
	if len(s.queue) == 0 {
		return nil
	}
	var rc *requestContext
	if s.order == config.QueueFIFO {
		rc = s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
	} else {
		last := len(s.queue) - 1
		rc = s.queue[last]
		s.queue[last] = nil
		s.queue = s.queue[:last]
	}
	s.metrics.QueueDepth(len(s.queue))
	return rc
}

// remove 从队列中移除已取消的请求
func (s *Scheduler) remove(rc *requestContext) {
	s.mu.Lock()
	found := false
	for i, q := range s.queue {
		if q == rc {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			found = true
			break
		}
	}
	depth := len(s.queue)
	s.mu.Unlock()

	if found {
		s.metrics.QueueDepth(depth)
		s.finish(rc, models.FailedPayload(ErrCanceled), "canceled")
	}
}

// run 解码协程：处理完一个请求后继续处理队列，直到队列为空
func (s *Scheduler) run(rc *requestContext) {
	defer s.wg.Done()

	for rc != nil {
		payload, reason := s.decodeContext(rc)
		s.finish(rc, payload, reason)

		s.mu.Lock()
		rc = nil
		if !s.closed {
			rc = s.popLocked()
		}
		if rc == nil {
			s.decoding = false
		}
		s.mu.Unlock()
	}
}

// finish 结束请求并通知调用方，reason 非空时记录失败
func (s *Scheduler) finish(rc *requestContext, payload models.Payload, reason string) {
	if rc.stop != nil {
		rc.stop()
	}
	if reason != "" {
		s.metrics.DecodeFailed(reason)
	}
	rc.task.complete(payload)
}

// decodeContext 分块推送码流并收集输出
func (s *Scheduler) decodeContext(rc *requestContext) (models.Payload, string) {
	if rc.ctx.Err() != nil {
		return models.FailedPayload(ErrCanceled), "canceled"
	}

	start := time.Now()
	s.decoder.Reset()

	fail := func(reason string, err error) (models.Payload, string) {
		s.decoder.Reset()
		logging.LogError("解码: 请求失败",
			"context", rc.contextID, "items", rc.itemIDs, "decoded", rc.next, "error", err)
		return models.FailedPayload(err), reason
	}

	var acceptErr error
	onPicture := func(p hevc.Picture) {
		if acceptErr != nil {
			return
		}
		matched, err := rc.accept(p)
		if !matched {
			logging.LogWarn("解码: 多余的输出帧", "context", rc.contextID, "width", p.Width, "height", p.Height)
			return
		}
		s.metrics.PictureDecoded()
		acceptErr = err
	}

	data := rc.stream
	flushed := false
	for !rc.complete() {
		if rc.ctx.Err() != nil {
			s.decoder.Reset()
			logging.LogDebug("解码: 请求已取消", "context", rc.contextID, "decoded", rc.next)
			return models.FailedPayload(ErrCanceled), "canceled"
		}

		switch {
		case len(data) > 0:
			n := min(s.chunkSize, len(data))
			if err := s.decoder.Push(data[:n]); err != nil {
				return fail("decoder", err)
			}
			data = data[n:]
		case !flushed:
			if err := s.decoder.Flush(); err != nil {
				return fail("decoder", err)
			}
			flushed = true
		case !s.decoder.HasMore():
			return fail("incomplete", fmt.Errorf("%w: %d of %d pictures", ErrIncompleteDecode, rc.next, len(rc.itemIDs)))
		}

		if err := s.decoder.Decode(onPicture); err != nil && !errors.Is(err, hevc.ErrWaitingForInput) {
			return fail("decoder", err)
		}
		if acceptErr != nil {
			return fail("decoder", acceptErr)
		}
	}

	elapsed := time.Since(start)
	s.metrics.DecodeFinished(elapsed.Seconds())
	logging.LogDebug("解码: 请求完成",
		"context", rc.contextID, "items", len(rc.itemIDs), "frames", len(rc.payload.Frames), "elapsed", elapsed)
	return rc.payload, ""
}
