// Processor implementations for rxcore
// 处理器：既是Subscriber又能产出Flowable的热桥，
// 包括PublishProcessor与ReplayProcessor
package rxcore

import (
	"sync"
	"sync/atomic"
)

// ============================================================================
// PublishProcessor - 发布处理器
// ============================================================================

// PublishProcessor 向订阅时刻之后的事件广播的处理器。
// 每个下游订阅各自维护需求计数与有界缓冲：有需求直接转发，
// 无需求先入缓冲，缓冲满时该订阅以BufferOverflow单独出错，
// 不影响其余订阅。终止后的新订阅立即收到终止事件。
type PublishProcessor struct {
	mu       sync.Mutex
	slots    []*processorSlot
	terminal *Notification
	config   *Config

	upstream Subscription
	disposed int32
}

// NewPublishProcessor 创建发布处理器；options调节每订阅缓冲容量
func NewPublishProcessor(options ...Option) *PublishProcessor {
	config := DefaultConfig()
	for _, opt := range options {
		opt.Apply(config)
	}
	return &PublishProcessor{config: config}
}

// Flowable 以冷流接口暴露本处理器，订阅即挂接一个下游槽位
func (p *PublishProcessor) Flowable() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		p.attach(subscriber)
	})
}

// attach 挂接一个下游订阅
func (p *PublishProcessor) attach(subscriber Subscriber) {
	p.mu.Lock()
	if p.terminal != nil {
		terminal := *p.terminal
		p.mu.Unlock()

		subscriber.OnSubscribe(emptySubscription{})
		if terminal.Kind == KindError {
			subscriber.OnError(terminal.Err)
		} else {
			subscriber.OnComplete()
		}
		return
	}

	slot := &processorSlot{
		parent:     p,
		downstream: subscriber,
		capacity:   p.config.BufferCapacity,
	}
	p.slots = append(p.slots, slot)
	p.mu.Unlock()

	subscriber.OnSubscribe(NewSubscription(slot.request, slot.cancel))
}

// detach 摘除一个下游槽位
func (p *PublishProcessor) detach(slot *processorSlot) {
	p.mu.Lock()
	for i, s := range p.slots {
		if s == slot {
			p.slots = append(p.slots[:i], p.slots[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

// snapshot 当前全部槽位
func (p *PublishProcessor) snapshot() []*processorSlot {
	p.mu.Lock()
	slots := make([]*processorSlot, len(p.slots))
	copy(slots, p.slots)
	p.mu.Unlock()
	return slots
}

// OnSubscribe 挂接上游；处理器作为桥不施加额外背压
func (p *PublishProcessor) OnSubscribe(subscription Subscription) {
	p.mu.Lock()
	terminated := p.terminal != nil
	already := p.upstream != nil
	if !terminated && !already {
		p.upstream = subscription
	}
	p.mu.Unlock()

	if terminated || already || atomic.LoadInt32(&p.disposed) == 1 {
		subscription.Cancel()
		return
	}
	subscription.Request(RequestUnbounded)
}

// OnNext 广播一个数据项
func (p *PublishProcessor) OnNext(value interface{}) {
	p.mu.Lock()
	if p.terminal != nil {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for _, slot := range p.snapshot() {
		slot.push(value)
	}
}

// OnError 以错误终止并广播
func (p *PublishProcessor) OnError(err error) {
	p.terminate(ErrorOf(err))
}

// OnComplete 正常终止并广播
func (p *PublishProcessor) OnComplete() {
	p.terminate(CompleteOf())
}

func (p *PublishProcessor) terminate(terminal Notification) {
	p.mu.Lock()
	if p.terminal != nil {
		p.mu.Unlock()
		return
	}
	p.terminal = &terminal
	slots := p.slots
	p.slots = nil
	p.mu.Unlock()

	for _, slot := range slots {
		slot.finish(terminal)
	}
}

// HasSubscribers 是否存在活跃下游
func (p *PublishProcessor) HasSubscribers() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) > 0
}

// SubscriberCount 活跃下游数量
func (p *PublishProcessor) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Dispose 释放处理器，取消上游并摘除全部下游
func (p *PublishProcessor) Dispose() {
	if !atomic.CompareAndSwapInt32(&p.disposed, 0, 1) {
		return
	}
	p.mu.Lock()
	upstream := p.upstream
	slots := p.slots
	p.slots = nil
	p.mu.Unlock()

	if upstream != nil {
		upstream.Cancel()
	}
	for _, slot := range slots {
		slot.cancel()
	}
}

// IsDisposed 是否已释放
func (p *PublishProcessor) IsDisposed() bool {
	return atomic.LoadInt32(&p.disposed) == 1
}

// ============================================================================
// processorSlot - 单个下游的需求与缓冲
// ============================================================================

// processorSlot 单个下游订阅的槽位
type processorSlot struct {
	parent     *PublishProcessor
	downstream Subscriber
	capacity   int

	mu         sync.Mutex
	requested  int64
	queue      []interface{}
	terminal   *Notification
	draining   bool
	terminated bool
	cancelled  bool
}

func (s *processorSlot) request(n int64) {
	s.mu.Lock()
	s.requested = addRequested(s.requested, n)
	s.drainLocked()
}

func (s *processorSlot) cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.queue = nil
	s.mu.Unlock()

	s.parent.detach(s)
}

// push 数据到达；无需求时入缓冲，缓冲满则本槽位以溢出错误终止
func (s *processorSlot) push(value interface{}) {
	s.mu.Lock()
	if s.terminated || s.cancelled {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.capacity && s.requested <= 0 {
		s.terminated = true
		s.cancelled = true
		s.queue = nil
		s.mu.Unlock()

		s.parent.detach(s)
		s.downstream.OnError(NewBufferOverflow("处理器下游缓冲超出容量"))
		return
	}
	s.queue = append(s.queue, value)
	s.drainLocked()
}

// finish 终止事件到达；先排空缓冲再投递
func (s *processorSlot) finish(terminal Notification) {
	s.mu.Lock()
	if s.terminated || s.cancelled {
		s.mu.Unlock()
		return
	}
	s.terminal = &terminal
	s.drainLocked()
}

// drainLocked 持锁进入排放循环
func (s *processorSlot) drainLocked() {
	if s.draining || s.terminated || s.cancelled {
		s.mu.Unlock()
		return
	}
	s.draining = true

	for len(s.queue) > 0 && s.requested > 0 && !s.cancelled {
		value := s.queue[0]
		s.queue = s.queue[1:]
		if s.requested != RequestUnbounded {
			s.requested--
		}
		s.mu.Unlock()
		s.downstream.OnNext(value)
		s.mu.Lock()
	}

	if s.terminal != nil && len(s.queue) == 0 && !s.terminated && !s.cancelled {
		s.terminated = true
		terminal := *s.terminal
		s.mu.Unlock()

		if terminal.Kind == KindError {
			s.downstream.OnError(terminal.Err)
		} else {
			s.downstream.OnComplete()
		}
		s.mu.Lock()
	}

	s.draining = false
	s.mu.Unlock()
}

// ============================================================================
// ReplayProcessor - 重放处理器
// ============================================================================

// ReplayProcessor 缓存最近bufferSize个数据项的处理器，
// 新订阅先按需求补收历史，再接续实时广播
type ReplayProcessor struct {
	PublishProcessor

	historyMu  sync.Mutex
	history    []interface{}
	bufferSize int
}

// NewReplayProcessor 创建重放处理器；bufferSize非正时取默认缓冲容量
func NewReplayProcessor(bufferSize int, options ...Option) *ReplayProcessor {
	config := DefaultConfig()
	for _, opt := range options {
		opt.Apply(config)
	}
	if bufferSize <= 0 {
		bufferSize = config.BufferCapacity
	}
	r := &ReplayProcessor{bufferSize: bufferSize}
	r.config = config
	return r
}

// Flowable 以冷流接口暴露本处理器
func (r *ReplayProcessor) Flowable() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		r.attachReplay(subscriber)
	})
}

// attachReplay 挂接下游并补发历史
func (r *ReplayProcessor) attachReplay(subscriber Subscriber) {
	r.mu.Lock()
	terminated := r.terminal != nil
	r.mu.Unlock()

	if terminated {
		// 终止后仍先补发历史再投递终止事件
		r.historyMu.Lock()
		history := make([]interface{}, len(r.history))
		copy(history, r.history)
		r.historyMu.Unlock()

		r.mu.Lock()
		terminal := *r.terminal
		r.mu.Unlock()

		slot := &processorSlot{
			parent:     &r.PublishProcessor,
			downstream: subscriber,
			capacity:   r.config.BufferCapacity + len(history),
			queue:      history,
			terminal:   &terminal,
		}
		subscriber.OnSubscribe(NewSubscription(slot.request, slot.cancel))
		return
	}

	r.mu.Lock()
	slot := &processorSlot{
		parent:     &r.PublishProcessor,
		downstream: subscriber,
		capacity:   r.config.BufferCapacity + r.bufferSize,
	}
	r.historyMu.Lock()
	slot.queue = make([]interface{}, len(r.history))
	copy(slot.queue, r.history)
	r.historyMu.Unlock()
	r.slots = append(r.slots, slot)
	r.mu.Unlock()

	subscriber.OnSubscribe(NewSubscription(slot.request, slot.cancel))
}

// OnNext 记录历史并广播
func (r *ReplayProcessor) OnNext(value interface{}) {
	r.historyMu.Lock()
	if len(r.history) >= r.bufferSize {
		r.history = r.history[1:]
	}
	r.history = append(r.history, value)
	r.historyMu.Unlock()

	r.PublishProcessor.OnNext(value)
}

// History 当前缓存的历史数据
func (r *ReplayProcessor) History() []interface{} {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	history := make([]interface{}, len(r.history))
	copy(history, r.history)
	return history
}
