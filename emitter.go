// Emitter-based source creation for rxcore
// Create工厂：生产者侧的需求门控，违规发射按策略处理，默认严格报错
package rxcore

import (
	"sync"
)

// ============================================================================
// Emitter 接口
// ============================================================================

// Emitter 自定义数据源的发射器接口
type Emitter interface {
	// Next 发射下一个值；在需求不足时的行为由溢出策略决定
	Next(value interface{})
	// Error 发射错误并终止
	Error(err error)
	// Complete 发射完成信号并终止
	Complete()
	// IsCancelled 检查下游是否已取消
	IsCancelled() bool
	// Requested 读取当前未满足的需求
	Requested() int64
}

// Create 使用自定义发射函数创建Flowable。默认溢出策略为OverflowError：
// 需求不足时的发射是协议错误，以DemandViolation终止订阅。
func Create(onSubscribe func(emitter Emitter), options ...Option) Flowable {
	config := DefaultConfig()
	for _, opt := range options {
		opt.Apply(config)
	}

	return NewFlowable(func(subscriber Subscriber) {
		emitter := &emitterImpl{
			subscriber: subscriber,
			policy:     config.Overflow,
			capacity:   config.BufferCapacity,
		}

		subscriber.OnSubscribe(NewSubscription(emitter.request, emitter.cancel))
		onSubscribe(emitter)
	})
}

// ============================================================================
// Emitter 实现
// ============================================================================

// emitterImpl 需求门控的发射器实现
type emitterImpl struct {
	subscriber Subscriber
	policy     OverflowPolicy
	capacity   int

	mu         sync.Mutex
	requested  int64
	queue      []interface{}
	latest     interface{}
	hasLatest  bool
	draining   bool
	terminated bool
	cancelled  bool
	terminal   *Notification
}

func (e *emitterImpl) Next(value interface{}) {
	e.mu.Lock()
	if e.terminated || e.cancelled || e.terminal != nil {
		e.mu.Unlock()
		return
	}

	switch e.policy {
	case OverflowError:
		// 严格策略：有需求直接发射，无需求即为协议违规
		if e.requested <= 0 && len(e.queue) == 0 {
			e.terminated = true
			e.cancelled = true
			e.mu.Unlock()
			e.subscriber.OnError(NewDemandViolation("生产者在需求不足时发射"))
			return
		}
		e.queue = append(e.queue, value)
	case OverflowBuffer:
		if e.capacity > 0 && len(e.queue) >= e.capacity {
			e.terminated = true
			e.cancelled = true
			e.mu.Unlock()
			e.subscriber.OnError(NewBufferOverflow("发射缓冲超出容量"))
			return
		}
		e.queue = append(e.queue, value)
	case OverflowDrop:
		if e.requested <= 0 {
			e.mu.Unlock()
			return
		}
		e.queue = append(e.queue, value)
	case OverflowLatest:
		e.latest = value
		e.hasLatest = true
	}

	e.drainLocked()
}

func (e *emitterImpl) Error(err error) {
	e.finish(ErrorOf(err))
}

func (e *emitterImpl) Complete() {
	e.finish(CompleteOf())
}

func (e *emitterImpl) IsCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

func (e *emitterImpl) Requested() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requested
}

func (e *emitterImpl) request(n int64) {
	e.mu.Lock()
	e.requested = addRequested(e.requested, n)
	e.drainLocked()
}

func (e *emitterImpl) cancel() {
	e.mu.Lock()
	e.cancelled = true
	e.queue = nil
	e.hasLatest = false
	e.mu.Unlock()
}

// finish 记录终止事件，队列排空后投递
func (e *emitterImpl) finish(terminal Notification) {
	e.mu.Lock()
	if e.terminated || e.cancelled || e.terminal != nil {
		e.mu.Unlock()
		return
	}
	e.terminal = &terminal
	e.drainLocked()
}

// drainLocked 持锁进入排放循环，下游回调期间释放锁
func (e *emitterImpl) drainLocked() {
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true

	for {
		if e.terminated || e.cancelled {
			break
		}

		var next interface{}
		switch {
		case len(e.queue) > 0 && e.requested > 0:
			next = e.queue[0]
			e.queue = e.queue[1:]
		case e.hasLatest && e.requested > 0:
			next = e.latest
			e.latest = nil
			e.hasLatest = false
		default:
			if e.terminal != nil && len(e.queue) == 0 && !e.hasLatest {
				terminal := *e.terminal
				e.terminated = true
				e.mu.Unlock()
				if terminal.Kind == KindError {
					e.subscriber.OnError(terminal.Err)
				} else {
					e.subscriber.OnComplete()
				}
				e.mu.Lock()
			}
			e.draining = false
			e.mu.Unlock()
			return
		}

		if e.requested != RequestUnbounded {
			e.requested--
		}
		e.mu.Unlock()
		e.subscriber.OnNext(next)
		e.mu.Lock()
	}

	e.draining = false
	e.mu.Unlock()
}
