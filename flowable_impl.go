// Flowable core implementation for rxcore
// Flowable核心实现：订阅入口、终止保护、默认消费者与调度挂钩
package rxcore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
)

// ============================================================================
// Flowable 核心实现
// ============================================================================

// flowableImpl Flowable的核心实现，持有订阅函数模板
type flowableImpl struct {
	source func(subscriber Subscriber)
	config *Config
}

// NewFlowable 从订阅函数创建Flowable，每次Subscribe启动一次独立执行
func NewFlowable(source func(subscriber Subscriber), options ...Option) Flowable {
	config := DefaultConfig()
	for _, opt := range options {
		opt.Apply(config)
	}
	return &flowableImpl{source: source, config: config}
}

// Subscribe 订阅Subscriber。下游被终止保护包装：终止事件只投递一次，
// 之后的任何调用都被静默抑制；订阅函数panic会转为SourceError投递。
func (f *flowableImpl) Subscribe(subscriber Subscriber) {
	guarded := newSafeSubscriber(subscriber)

	defer func() {
		if r := recover(); r != nil {
			if _, fatal := r.(*unhandledStreamError); fatal {
				// 错误无人处理属于契约违规，不得吞掉
				panic(r)
			}
			guarded.OnError(NewSourceError(fmt.Errorf("panic: %v", r)))
		}
	}()

	f.source(guarded)
}

// unhandledStreamError 错误到达却没有安装onError回调时抛出，
// 绕过Subscribe的panic恢复，保证错误不被静默丢弃
type unhandledStreamError struct {
	err error
}

// Error 实现error接口
func (e *unhandledStreamError) Error() string {
	return fmt.Sprintf("rxcore: 未处理的流错误: %v", e.err)
}

// SubscribeWithCallbacks 使用回调函数订阅，订阅时立即请求无界需求
func (f *flowableImpl) SubscribeWithCallbacks(onNext OnNext, onError OnError, onComplete OnComplete) Subscription {
	subscriber := &callbackSubscriber{
		onNext:     onNext,
		onError:    onError,
		onComplete: onComplete,
	}
	f.Subscribe(subscriber)
	return subscriber.link()
}

// ============================================================================
// 调度操作符
// ============================================================================

// SubscribeOn 指定订阅动作运行的调度器
func (f *flowableImpl) SubscribeOn(scheduler Scheduler) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		relay := &subscribeOnSubscriber{downstream: subscriber}
		relay.handle = scheduler.Schedule(func() {
			f.Subscribe(relay)
		})
	})
}

// ObserveOn 指定下游事件投递的调度器
func (f *flowableImpl) ObserveOn(scheduler Scheduler) Flowable {
	capacity := f.config.BufferCapacity
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&observeOnSubscriber{
			downstream: subscriber,
			scheduler:  scheduler,
			buffer:     make(chan Notification, capacity),
			done:       make(chan struct{}),
		})
	})
}

// ============================================================================
// 转换操作符
// ============================================================================

// Map 转换每个数据项
func (f *flowableImpl) Map(transformer Transformer) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&mapSubscriber{downstream: subscriber, transformer: transformer})
	})
}

// Filter 过滤数据项
func (f *flowableImpl) Filter(predicate Predicate) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&filterSubscriber{downstream: subscriber, predicate: predicate})
	})
}

// Take 取前N个数据项后取消上游
func (f *flowableImpl) Take(count int64) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&takeSubscriber{downstream: subscriber, remaining: count})
	})
}

// ============================================================================
// 组合操作符便捷包装
// ============================================================================

// ConcatWith 顺序连接另一个流
func (f *flowableImpl) ConcatWith(other Flowable) Flowable {
	return Concat(f, other)
}

// MergeWith 交错合并另一个流
func (f *flowableImpl) MergeWith(other Flowable) Flowable {
	return Merge(f, other)
}

// ZipWith 与另一个流按下标逐对组合
func (f *flowableImpl) ZipWith(other Flowable, zipper func(a, b interface{}) interface{}) Flowable {
	return Zip(func(values []interface{}) interface{} {
		return zipper(values[0], values[1])
	}, f, other)
}

// CombineLatestWith 与另一个流的最新值组合
func (f *flowableImpl) CombineLatestWith(other Flowable, combiner func(a, b interface{}) interface{}) Flowable {
	return CombineLatest(func(values []interface{}) interface{} {
		return combiner(values[0], values[1])
	}, f, other)
}

// AmbWith 与另一个流竞速
func (f *flowableImpl) AmbWith(other Flowable) Flowable {
	return Amb(f, other)
}

// StartWith 在源之前先发射给定的值
func (f *flowableImpl) StartWith(values ...interface{}) Flowable {
	return Concat(Just(values...), f)
}

// ============================================================================
// 重复与重试
// ============================================================================

// Repeat 完成后重新订阅源，最多重复count次
func (f *flowableImpl) Repeat(count int64) Flowable {
	return newRedoFlowable(f, count, redoOnComplete)
}

// RepeatForever 完成后无限重新订阅源
func (f *flowableImpl) RepeatForever() Flowable {
	return newRedoFlowable(f, RequestUnbounded, redoOnComplete)
}

// RepeatWhen 完成信号交给notifier流驱动重启
func (f *flowableImpl) RepeatWhen(notifier func(signals Flowable) Flowable) Flowable {
	return newWhenFlowable(f, notifier, redoOnComplete)
}

// Retry 出错后重新订阅源，最多重试count次
func (f *flowableImpl) Retry(count int64) Flowable {
	return newRedoFlowable(f, count, redoOnError)
}

// RetryWhen 错误值交给notifier流驱动重启
func (f *flowableImpl) RetryWhen(notifier func(failures Flowable) Flowable) Flowable {
	return newWhenFlowable(f, notifier, redoOnError)
}

// RetryBackoff 按退避策略延迟重试
func (f *flowableImpl) RetryBackoff(policy backoff.BackOff, scheduler Scheduler) Flowable {
	return newBackoffRetryFlowable(f, policy, scheduler)
}

// ============================================================================
// 背压策略操作符
// ============================================================================

// OnBackpressureBuffer 缓冲无需求时到达的数据
func (f *flowableImpl) OnBackpressureBuffer(capacity int) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(newOverflowSubscriber(subscriber, OverflowBuffer, capacity))
	})
}

// OnBackpressureDrop 丢弃无需求时到达的数据
func (f *flowableImpl) OnBackpressureDrop() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(newOverflowSubscriber(subscriber, OverflowDrop, 0))
	})
}

// OnBackpressureLatest 仅保留最近一个无需求时到达的数据
func (f *flowableImpl) OnBackpressureLatest() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(newOverflowSubscriber(subscriber, OverflowLatest, 0))
	})
}

// ============================================================================
// 阻塞辅助
// ============================================================================

// BlockingFirst 阻塞获取第一个数据项
func (f *flowableImpl) BlockingFirst() (interface{}, error) {
	blocking := &blockingFirstSubscriber{done: make(chan struct{})}
	f.Subscribe(blocking)
	<-blocking.done
	blocking.Cancel()
	return blocking.result, blocking.err
}

// BlockingSlice 阻塞收集全部数据项
func (f *flowableImpl) BlockingSlice() ([]interface{}, error) {
	var (
		mu     sync.Mutex
		items  []interface{}
		result error
	)
	done := make(chan struct{})

	f.SubscribeWithCallbacks(
		func(value interface{}) {
			mu.Lock()
			items = append(items, value)
			mu.Unlock()
		},
		func(err error) {
			result = err
			close(done)
		},
		func() {
			close(done)
		},
	)

	<-done
	mu.Lock()
	defer mu.Unlock()
	return items, result
}

// ============================================================================
// 终止保护订阅者
// ============================================================================

// safeSubscriber 强制执行terminal-once契约：终止后的任何事件被静默抑制，
// 重复的OnSubscribe取消后来的订阅
type safeSubscriber struct {
	downstream Subscriber
	subscribed int32
	terminated int32
}

// newSafeSubscriber 包装下游订阅者
func newSafeSubscriber(downstream Subscriber) Subscriber {
	return &safeSubscriber{downstream: downstream}
}

func (s *safeSubscriber) OnSubscribe(subscription Subscription) {
	if !atomic.CompareAndSwapInt32(&s.subscribed, 0, 1) {
		subscription.Cancel()
		return
	}
	s.downstream.OnSubscribe(subscription)
}

func (s *safeSubscriber) OnNext(value interface{}) {
	if atomic.LoadInt32(&s.terminated) == 1 {
		return
	}
	s.downstream.OnNext(value)
}

func (s *safeSubscriber) OnError(err error) {
	if atomic.CompareAndSwapInt32(&s.terminated, 0, 1) {
		s.downstream.OnError(err)
	}
}

func (s *safeSubscriber) OnComplete() {
	if atomic.CompareAndSwapInt32(&s.terminated, 0, 1) {
		s.downstream.OnComplete()
	}
}

// ============================================================================
// 默认回调消费者
// ============================================================================

// callbackSubscriber 回调消费者：订阅时立即请求无界需求，
// 终止事件送达后自动取消订阅
type callbackSubscriber struct {
	mu           sync.Mutex
	subscription Subscription
	onNext       OnNext
	onError      OnError
	onComplete   OnComplete
}

func (cs *callbackSubscriber) OnSubscribe(subscription Subscription) {
	cs.mu.Lock()
	cs.subscription = subscription
	cs.mu.Unlock()
	subscription.Request(RequestUnbounded)
}

func (cs *callbackSubscriber) OnNext(value interface{}) {
	if cs.onNext != nil {
		cs.onNext(value)
	}
}

func (cs *callbackSubscriber) OnError(err error) {
	defer cs.disposeLink()
	if cs.onError == nil {
		panic(&unhandledStreamError{err: err})
	}
	cs.onError(err)
}

func (cs *callbackSubscriber) OnComplete() {
	if cs.onComplete != nil {
		cs.onComplete()
	}
	cs.disposeLink()
}

// link 返回当前上游订阅；订阅函数同步终止时可能为空链接
func (cs *callbackSubscriber) link() Subscription {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.subscription == nil {
		return emptySubscription{}
	}
	return cs.subscription
}

// disposeLink 终止事件送达后自动释放链接
func (cs *callbackSubscriber) disposeLink() {
	cs.mu.Lock()
	subscription := cs.subscription
	cs.mu.Unlock()
	if subscription != nil {
		subscription.Cancel()
	}
}

// ============================================================================
// 调度辅助订阅者
// ============================================================================

// subscribeOnSubscriber 将取消与调度句柄绑定的转发订阅者
type subscribeOnSubscriber struct {
	downstream Subscriber
	handle     Disposable
}

func (ss *subscribeOnSubscriber) OnSubscribe(subscription Subscription) {
	ss.downstream.OnSubscribe(NewSubscription(
		func(n int64) {
			subscription.Request(n)
		},
		func() {
			subscription.Cancel()
			if ss.handle != nil {
				ss.handle.Dispose()
			}
		},
	))
}

func (ss *subscribeOnSubscriber) OnNext(value interface{}) {
	ss.downstream.OnNext(value)
}

func (ss *subscribeOnSubscriber) OnError(err error) {
	ss.downstream.OnError(err)
}

func (ss *subscribeOnSubscriber) OnComplete() {
	ss.downstream.OnComplete()
}

// observeOnSubscriber 将上游事件排入缓冲并在调度器上投递给下游
type observeOnSubscriber struct {
	BaseSubscriber
	downstream Subscriber
	scheduler  Scheduler
	buffer     chan Notification
	done       chan struct{}
	started    int32
	closed     int32
}

func (oos *observeOnSubscriber) OnSubscribe(subscription Subscription) {
	oos.BaseSubscriber.OnSubscribe(subscription)

	if atomic.CompareAndSwapInt32(&oos.started, 0, 1) {
		oos.scheduler.Schedule(oos.drainLoop)
	}

	oos.downstream.OnSubscribe(NewSubscription(
		func(n int64) {
			subscription.Request(n)
		},
		func() {
			subscription.Cancel()
			close(oos.done)
		},
	))
}

func (oos *observeOnSubscriber) drainLoop() {
	for {
		select {
		case notification, ok := <-oos.buffer:
			if !ok {
				return
			}
			switch notification.Kind {
			case KindNext:
				oos.downstream.OnNext(notification.Value)
			case KindError:
				oos.downstream.OnError(notification.Err)
				return
			case KindComplete:
				oos.downstream.OnComplete()
				return
			}
		case <-oos.done:
			return
		}
	}
}

func (oos *observeOnSubscriber) OnNext(value interface{}) {
	oos.enqueue(NextOf(value))
}

func (oos *observeOnSubscriber) OnError(err error) {
	oos.enqueue(ErrorOf(err))
	oos.closeBuffer()
}

func (oos *observeOnSubscriber) OnComplete() {
	oos.enqueue(CompleteOf())
	oos.closeBuffer()
}

func (oos *observeOnSubscriber) enqueue(notification Notification) {
	if atomic.LoadInt32(&oos.closed) == 1 {
		return
	}
	select {
	case oos.buffer <- notification:
	case <-oos.done:
	}
}

func (oos *observeOnSubscriber) closeBuffer() {
	if atomic.CompareAndSwapInt32(&oos.closed, 0, 1) {
		close(oos.buffer)
	}
}

// ============================================================================
// 阻塞订阅者
// ============================================================================

// blockingFirstSubscriber 请求单个数据项并阻塞等待
type blockingFirstSubscriber struct {
	BaseSubscriber
	result interface{}
	err    error
	once   sync.Once
	done   chan struct{}
}

func (bfs *blockingFirstSubscriber) OnSubscribe(subscription Subscription) {
	bfs.BaseSubscriber.OnSubscribe(subscription)
	subscription.Request(1)
}

func (bfs *blockingFirstSubscriber) OnNext(value interface{}) {
	bfs.once.Do(func() {
		bfs.result = value
		close(bfs.done)
	})
}

func (bfs *blockingFirstSubscriber) OnError(err error) {
	bfs.once.Do(func() {
		bfs.err = err
		close(bfs.done)
	})
}

func (bfs *blockingFirstSubscriber) OnComplete() {
	bfs.once.Do(func() {
		bfs.err = errors.New("流为空，没有数据项")
		close(bfs.done)
	})
}
