// Resubscription operators for rxcore
// 重订阅操作符：Repeat/Retry按计数迭代重订阅，RepeatWhen/RetryWhen由
// notifier流驱动，RetryBackoff按退避策略延迟重试。
// 全部采用迭代式重订阅，同步完成的源不会造成递归栈增长
package rxcore

import (
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
)

// redoMode 区分在完成时重做（Repeat族）还是在出错时重做（Retry族）
type redoMode int

const (
	redoOnComplete redoMode = iota
	redoOnError
)

// ============================================================================
// 计数重订阅 Repeat / Retry
// ============================================================================

func newRedoFlowable(source Flowable, count int64, mode redoMode) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		coordinator := &redoCoordinator{
			downstream: subscriber,
			source:     source,
			mode:       mode,
			remaining:  count,
		}
		subscriber.OnSubscribe(NewSubscription(coordinator.request, coordinator.cancel))
		coordinator.resubscribe()
	})
}

// redoCoordinator 计数重订阅协调者；remaining为剩余重做次数，
// RequestUnbounded表示无限
type redoCoordinator struct {
	downstream Subscriber
	source     Flowable
	mode       redoMode
	remaining  int64

	mu        sync.Mutex
	requested int64
	current   Subscription

	wip       int32
	cancelled int32
}

func (r *redoCoordinator) request(n int64) {
	r.mu.Lock()
	r.requested = addRequested(r.requested, n)
	current := r.current
	r.mu.Unlock()

	if current != nil {
		current.Request(n)
	}
}

func (r *redoCoordinator) cancel() {
	atomic.StoreInt32(&r.cancelled, 1)
	r.mu.Lock()
	current := r.current
	r.mu.Unlock()

	if current != nil {
		current.Cancel()
	}
}

func (r *redoCoordinator) produced() {
	r.mu.Lock()
	if r.requested != RequestUnbounded && r.requested > 0 {
		r.requested--
	}
	r.mu.Unlock()
}

// tryRedo 消耗一次重做配额；配额耗尽返回false
func (r *redoCoordinator) tryRedo() bool {
	if r.remaining == RequestUnbounded {
		return true
	}
	if r.remaining <= 0 {
		return false
	}
	r.remaining--
	return true
}

// resubscribe 重新订阅源；wip蹦床吸收同步终止引发的重入
func (r *redoCoordinator) resubscribe() {
	if atomic.AddInt32(&r.wip, 1) != 1 {
		return
	}
	for {
		if atomic.LoadInt32(&r.cancelled) == 1 {
			return
		}
		r.source.Subscribe(&redoSourceSubscriber{parent: r})

		if atomic.AddInt32(&r.wip, -1) == 0 {
			return
		}
	}
}

// redoSourceSubscriber 单轮订阅的订阅者
type redoSourceSubscriber struct {
	parent *redoCoordinator
}

func (rs *redoSourceSubscriber) OnSubscribe(subscription Subscription) {
	r := rs.parent
	r.mu.Lock()
	r.current = subscription
	remaining := r.requested
	r.mu.Unlock()

	if atomic.LoadInt32(&r.cancelled) == 1 {
		subscription.Cancel()
		return
	}
	if remaining > 0 {
		subscription.Request(remaining)
	}
}

func (rs *redoSourceSubscriber) OnNext(value interface{}) {
	rs.parent.produced()
	rs.parent.downstream.OnNext(value)
}

func (rs *redoSourceSubscriber) OnError(err error) {
	r := rs.parent
	if r.mode == redoOnError && r.tryRedo() {
		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()
		r.resubscribe()
		return
	}
	atomic.StoreInt32(&r.cancelled, 1)
	r.downstream.OnError(err)
}

func (rs *redoSourceSubscriber) OnComplete() {
	r := rs.parent
	if r.mode == redoOnComplete && r.tryRedo() {
		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()
		r.resubscribe()
		return
	}
	atomic.StoreInt32(&r.cancelled, 1)
	r.downstream.OnComplete()
}

// ============================================================================
// notifier驱动重订阅 RepeatWhen / RetryWhen
// ============================================================================

// newWhenFlowable 源的对应终止事件作为信号送入notifier流，
// notifier每发射一项就重订阅一次源；notifier正常完成则整体完成，
// notifier出错则整体出错。RepeatWhen的信号值为nil占位，
// RetryWhen的信号值为触发重试的error
func newWhenFlowable(source Flowable, notifier func(signals Flowable) Flowable, mode redoMode) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		coordinator := &whenCoordinator{
			downstream: subscriber,
			source:     source,
			mode:       mode,
			signals:    &signalBridge{},
		}
		subscriber.OnSubscribe(NewSubscription(coordinator.request, coordinator.cancel))

		handler := notifier(coordinator.signals.flowable())
		handler.Subscribe(&whenNotifierSubscriber{parent: coordinator})
		coordinator.resubscribe()
	})
}

// whenCoordinator notifier驱动重订阅的协调者
type whenCoordinator struct {
	downstream Subscriber
	source     Flowable
	mode       redoMode
	signals    *signalBridge

	mu          sync.Mutex
	requested   int64
	current     Subscription
	notifierSub Subscription

	wip       int32
	cancelled int32
}

func (w *whenCoordinator) request(n int64) {
	w.mu.Lock()
	w.requested = addRequested(w.requested, n)
	current := w.current
	w.mu.Unlock()

	if current != nil {
		current.Request(n)
	}
}

func (w *whenCoordinator) cancel() {
	atomic.StoreInt32(&w.cancelled, 1)
	w.mu.Lock()
	current := w.current
	notifierSub := w.notifierSub
	w.mu.Unlock()

	if current != nil {
		current.Cancel()
	}
	if notifierSub != nil {
		notifierSub.Cancel()
	}
}

func (w *whenCoordinator) produced() {
	w.mu.Lock()
	if w.requested != RequestUnbounded && w.requested > 0 {
		w.requested--
	}
	w.mu.Unlock()
}

func (w *whenCoordinator) resubscribe() {
	if atomic.AddInt32(&w.wip, 1) != 1 {
		return
	}
	for {
		if atomic.LoadInt32(&w.cancelled) == 1 {
			return
		}
		w.source.Subscribe(&whenSourceSubscriber{parent: w})

		if atomic.AddInt32(&w.wip, -1) == 0 {
			return
		}
	}
}

// finish 以终止事件结束整体，停掉notifier侧
func (w *whenCoordinator) finish(terminal Notification) {
	atomic.StoreInt32(&w.cancelled, 1)
	w.mu.Lock()
	notifierSub := w.notifierSub
	w.mu.Unlock()

	w.signals.complete()
	if notifierSub != nil {
		notifierSub.Cancel()
	}
	if terminal.Kind == KindError {
		w.downstream.OnError(terminal.Err)
	} else {
		w.downstream.OnComplete()
	}
}

// whenSourceSubscriber 单轮订阅的订阅者
type whenSourceSubscriber struct {
	parent *whenCoordinator
}

func (ws *whenSourceSubscriber) OnSubscribe(subscription Subscription) {
	w := ws.parent
	w.mu.Lock()
	w.current = subscription
	remaining := w.requested
	w.mu.Unlock()

	if atomic.LoadInt32(&w.cancelled) == 1 {
		subscription.Cancel()
		return
	}
	if remaining > 0 {
		subscription.Request(remaining)
	}
}

func (ws *whenSourceSubscriber) OnNext(value interface{}) {
	ws.parent.produced()
	ws.parent.downstream.OnNext(value)
}

func (ws *whenSourceSubscriber) OnError(err error) {
	w := ws.parent
	if w.mode == redoOnError {
		w.mu.Lock()
		w.current = nil
		w.mu.Unlock()
		w.signals.push(err)
		return
	}
	w.finish(ErrorOf(err))
}

func (ws *whenSourceSubscriber) OnComplete() {
	w := ws.parent
	if w.mode == redoOnComplete {
		w.mu.Lock()
		w.current = nil
		w.mu.Unlock()
		w.signals.push(nil)
		return
	}
	w.finish(CompleteOf())
}

// whenNotifierSubscriber notifier输出流的订阅者；
// 每收到一项就触发一次源的重订阅
type whenNotifierSubscriber struct {
	parent *whenCoordinator
}

func (wn *whenNotifierSubscriber) OnSubscribe(subscription Subscription) {
	w := wn.parent
	w.mu.Lock()
	w.notifierSub = subscription
	w.mu.Unlock()

	if atomic.LoadInt32(&w.cancelled) == 1 {
		subscription.Cancel()
		return
	}
	subscription.Request(RequestUnbounded)
}

func (wn *whenNotifierSubscriber) OnNext(value interface{}) {
	wn.parent.resubscribe()
}

func (wn *whenNotifierSubscriber) OnError(err error) {
	wn.parent.finish(ErrorOf(err))
}

func (wn *whenNotifierSubscriber) OnComplete() {
	wn.parent.finish(CompleteOf())
}

// signalBridge 单订阅者的信号桥：终止信号从源侧push进来，
// 作为一条流供notifier消费。任一时刻最多一个未消费信号在途，
// 队列实际上有界
type signalBridge struct {
	mu         sync.Mutex
	downstream Subscriber
	requested  int64
	queue      []interface{}
	done       bool
	draining   bool
	terminated bool
	cancelled  bool
}

func (b *signalBridge) flowable() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		b.mu.Lock()
		b.downstream = subscriber
		b.mu.Unlock()
		subscriber.OnSubscribe(NewSubscription(b.request, b.cancel))
	})
}

func (b *signalBridge) request(n int64) {
	b.mu.Lock()
	b.requested = addRequested(b.requested, n)
	b.drainLocked()
}

func (b *signalBridge) cancel() {
	b.mu.Lock()
	b.cancelled = true
	b.queue = nil
	b.mu.Unlock()
}

func (b *signalBridge) push(value interface{}) {
	b.mu.Lock()
	if b.done || b.cancelled {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, value)
	b.drainLocked()
}

func (b *signalBridge) complete() {
	b.mu.Lock()
	if b.done || b.cancelled {
		b.mu.Unlock()
		return
	}
	b.done = true
	b.drainLocked()
}

// drainLocked 持锁进入排放循环
func (b *signalBridge) drainLocked() {
	if b.draining || b.terminated || b.cancelled || b.downstream == nil {
		b.mu.Unlock()
		return
	}
	b.draining = true

	for len(b.queue) > 0 && b.requested > 0 && !b.cancelled {
		value := b.queue[0]
		b.queue = b.queue[1:]
		if b.requested != RequestUnbounded {
			b.requested--
		}
		b.mu.Unlock()
		b.downstream.OnNext(value)
		b.mu.Lock()
	}

	if b.done && len(b.queue) == 0 && !b.terminated && !b.cancelled {
		b.terminated = true
		b.mu.Unlock()
		b.downstream.OnComplete()
		b.mu.Lock()
	}

	b.draining = false
	b.mu.Unlock()
}

// ============================================================================
// 退避重试 RetryBackoff
// ============================================================================

// newBackoffRetryFlowable 出错时按policy给出的间隔延迟重订阅；
// policy返回backoff.Stop时放弃重试并传播最后一次错误
func newBackoffRetryFlowable(source Flowable, policy backoff.BackOff, scheduler Scheduler) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		coordinator := &backoffRetryCoordinator{
			downstream: subscriber,
			source:     source,
			policy:     policy,
			scheduler:  scheduler,
		}
		coordinator.policy.Reset()
		subscriber.OnSubscribe(NewSubscription(coordinator.request, coordinator.cancel))
		coordinator.resubscribe()
	})
}

// backoffRetryCoordinator 退避重试协调者
type backoffRetryCoordinator struct {
	downstream Subscriber
	source     Flowable
	policy     backoff.BackOff
	scheduler  Scheduler

	mu        sync.Mutex
	requested int64
	current   Subscription
	delayed   Disposable

	wip       int32
	cancelled int32
}

func (b *backoffRetryCoordinator) request(n int64) {
	b.mu.Lock()
	b.requested = addRequested(b.requested, n)
	current := b.current
	b.mu.Unlock()

	if current != nil {
		current.Request(n)
	}
}

func (b *backoffRetryCoordinator) cancel() {
	atomic.StoreInt32(&b.cancelled, 1)
	b.mu.Lock()
	current := b.current
	delayed := b.delayed
	b.mu.Unlock()

	if current != nil {
		current.Cancel()
	}
	if delayed != nil {
		delayed.Dispose()
	}
}

func (b *backoffRetryCoordinator) produced() {
	b.mu.Lock()
	if b.requested != RequestUnbounded && b.requested > 0 {
		b.requested--
	}
	b.mu.Unlock()
}

func (b *backoffRetryCoordinator) resubscribe() {
	if atomic.AddInt32(&b.wip, 1) != 1 {
		return
	}
	for {
		if atomic.LoadInt32(&b.cancelled) == 1 {
			return
		}
		b.source.Subscribe(&backoffSourceSubscriber{parent: b})

		if atomic.AddInt32(&b.wip, -1) == 0 {
			return
		}
	}
}

// backoffSourceSubscriber 单轮订阅的订阅者
type backoffSourceSubscriber struct {
	parent *backoffRetryCoordinator
}

func (bs *backoffSourceSubscriber) OnSubscribe(subscription Subscription) {
	b := bs.parent
	b.mu.Lock()
	b.current = subscription
	remaining := b.requested
	b.mu.Unlock()

	if atomic.LoadInt32(&b.cancelled) == 1 {
		subscription.Cancel()
		return
	}
	if remaining > 0 {
		subscription.Request(remaining)
	}
}

func (bs *backoffSourceSubscriber) OnNext(value interface{}) {
	bs.parent.produced()
	bs.parent.downstream.OnNext(value)
}

func (bs *backoffSourceSubscriber) OnError(err error) {
	b := bs.parent
	delay := b.policy.NextBackOff()
	if delay == backoff.Stop {
		atomic.StoreInt32(&b.cancelled, 1)
		b.downstream.OnError(err)
		return
	}

	b.mu.Lock()
	b.current = nil
	b.mu.Unlock()

	handle := b.scheduler.ScheduleWithDelay(func() {
		b.resubscribe()
	}, delay)

	b.mu.Lock()
	b.delayed = handle
	cancelled := atomic.LoadInt32(&b.cancelled) == 1
	b.mu.Unlock()

	if cancelled {
		handle.Dispose()
	}
}

func (bs *backoffSourceSubscriber) OnComplete() {
	b := bs.parent
	atomic.StoreInt32(&b.cancelled, 1)
	b.downstream.OnComplete()
}
