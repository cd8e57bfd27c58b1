// Utility operators for rxcore
// 实用操作符：Skip/Distinct/Scan/IgnoreElements/DefaultIfEmpty
package rxcore

import "sync"

// ============================================================================
// Skip 跳过
// ============================================================================

// Skip 跳过前N个数据项
func (f *flowableImpl) Skip(count int64) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&skipSubscriber{downstream: subscriber, remaining: count})
	})
}

// skipSubscriber 跳过订阅者；每跳过一项向上游补一份需求，
// 下游的需求计数只被实际投递的数据消耗
type skipSubscriber struct {
	downstream Subscriber
	upstream   Subscription

	mu        sync.Mutex
	remaining int64
}

func (ss *skipSubscriber) OnSubscribe(subscription Subscription) {
	ss.upstream = subscription
	ss.downstream.OnSubscribe(subscription)
}

func (ss *skipSubscriber) OnNext(value interface{}) {
	ss.mu.Lock()
	if ss.remaining > 0 {
		ss.remaining--
		ss.mu.Unlock()
		ss.upstream.Request(1)
		return
	}
	ss.mu.Unlock()
	ss.downstream.OnNext(value)
}

func (ss *skipSubscriber) OnError(err error) {
	ss.downstream.OnError(err)
}

func (ss *skipSubscriber) OnComplete() {
	ss.downstream.OnComplete()
}

// ============================================================================
// Distinct 去重
// ============================================================================

// Distinct 去除重复的数据项；值必须可作为map键
func (f *flowableImpl) Distinct() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&distinctSubscriber{
			downstream: subscriber,
			seen:       make(map[interface{}]struct{}),
		})
	})
}

// distinctSubscriber 去重订阅者；重复项被丢弃并向上游补一份需求
type distinctSubscriber struct {
	downstream Subscriber
	upstream   Subscription

	mu   sync.Mutex
	seen map[interface{}]struct{}
}

func (ds *distinctSubscriber) OnSubscribe(subscription Subscription) {
	ds.upstream = subscription
	ds.downstream.OnSubscribe(subscription)
}

func (ds *distinctSubscriber) OnNext(value interface{}) {
	ds.mu.Lock()
	if _, dup := ds.seen[value]; dup {
		ds.mu.Unlock()
		ds.upstream.Request(1)
		return
	}
	ds.seen[value] = struct{}{}
	ds.mu.Unlock()
	ds.downstream.OnNext(value)
}

func (ds *distinctSubscriber) OnError(err error) {
	ds.downstream.OnError(err)
}

func (ds *distinctSubscriber) OnComplete() {
	ds.downstream.OnComplete()
}

// ============================================================================
// Scan 扫描
// ============================================================================

// Scan 逐项归约并发射每个中间累计值，首个输出为reducer(seed, 首项)
func (f *flowableImpl) Scan(seed interface{}, reducer Reducer) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&scanSubscriber{
			downstream:  subscriber,
			reducer:     reducer,
			accumulator: seed,
		})
	})
}

// scanSubscriber 扫描订阅者；输入输出一一对应，需求直接透传
type scanSubscriber struct {
	downstream Subscriber
	reducer    Reducer

	mu          sync.Mutex
	accumulator interface{}
}

func (sc *scanSubscriber) OnSubscribe(subscription Subscription) {
	sc.downstream.OnSubscribe(subscription)
}

func (sc *scanSubscriber) OnNext(value interface{}) {
	sc.mu.Lock()
	sc.accumulator = sc.reducer(sc.accumulator, value)
	result := sc.accumulator
	sc.mu.Unlock()
	sc.downstream.OnNext(result)
}

func (sc *scanSubscriber) OnError(err error) {
	sc.downstream.OnError(err)
}

func (sc *scanSubscriber) OnComplete() {
	sc.downstream.OnComplete()
}

// ============================================================================
// IgnoreElements 忽略数据
// ============================================================================

// IgnoreElements 丢弃全部数据项，只保留终止事件
func (f *flowableImpl) IgnoreElements() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&ignoreElementsSubscriber{downstream: subscriber})
	})
}

// ignoreElementsSubscriber 忽略数据订阅者；上游直接以无界需求排空
type ignoreElementsSubscriber struct {
	downstream Subscriber
}

func (is *ignoreElementsSubscriber) OnSubscribe(subscription Subscription) {
	is.downstream.OnSubscribe(NewSubscription(nil, subscription.Cancel))
	subscription.Request(RequestUnbounded)
}

func (is *ignoreElementsSubscriber) OnNext(value interface{}) {}

func (is *ignoreElementsSubscriber) OnError(err error) {
	is.downstream.OnError(err)
}

func (is *ignoreElementsSubscriber) OnComplete() {
	is.downstream.OnComplete()
}

// ============================================================================
// DefaultIfEmpty 空流默认值
// ============================================================================

// DefaultIfEmpty 源未发射任何数据就完成时，发射默认值后再完成
func (f *flowableImpl) DefaultIfEmpty(defaultValue interface{}) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&defaultIfEmptySubscriber{
			downstream:   subscriber,
			defaultValue: defaultValue,
		})
	})
}

// defaultIfEmptySubscriber 空流默认值订阅者；
// 空完成时若无需求在手，默认值挂起等待下一次请求
type defaultIfEmptySubscriber struct {
	downstream   Subscriber
	defaultValue interface{}

	mu        sync.Mutex
	requested int64
	empty     bool
	pending   bool
	done      bool
}

func (de *defaultIfEmptySubscriber) OnSubscribe(subscription Subscription) {
	de.empty = true
	de.downstream.OnSubscribe(NewSubscription(func(n int64) {
		de.mu.Lock()
		de.requested = addRequested(de.requested, n)
		flush := de.pending && !de.done
		if flush {
			de.done = true
		}
		de.mu.Unlock()

		if flush {
			de.downstream.OnNext(de.defaultValue)
			de.downstream.OnComplete()
			return
		}
		subscription.Request(n)
	}, subscription.Cancel))
}

func (de *defaultIfEmptySubscriber) OnNext(value interface{}) {
	de.mu.Lock()
	de.empty = false
	if de.requested != RequestUnbounded && de.requested > 0 {
		de.requested--
	}
	de.mu.Unlock()
	de.downstream.OnNext(value)
}

func (de *defaultIfEmptySubscriber) OnError(err error) {
	de.downstream.OnError(err)
}

func (de *defaultIfEmptySubscriber) OnComplete() {
	de.mu.Lock()
	if !de.empty || de.done {
		de.mu.Unlock()
		de.downstream.OnComplete()
		return
	}
	if de.requested > 0 {
		de.done = true
		de.mu.Unlock()
		de.downstream.OnNext(de.defaultValue)
		de.downstream.OnComplete()
		return
	}
	de.pending = true
	de.mu.Unlock()
}

// ============================================================================
// ToChannel 转通道
// ============================================================================

// ToChannel 将流转换为通道，缓冲容量即向上游的需求窗口；
// 终止时关闭通道，错误通过第二个返回的通道给出
func ToChannel(source Flowable, capacity int) (<-chan interface{}, <-chan error) {
	if capacity <= 0 {
		capacity = DefaultConfig().BufferCapacity
	}
	values := make(chan interface{}, capacity)
	errs := make(chan error, 1)

	source.Subscribe(&channelSubscriber{values: values, errs: errs, window: int64(capacity)})
	return values, errs
}

// channelSubscriber 通道订阅者；每消费一项由发送成功代表，
// 以容量为窗口逐项向上游补需求
type channelSubscriber struct {
	BaseSubscriber
	values chan interface{}
	errs   chan error
	window int64
}

func (cs *channelSubscriber) OnSubscribe(subscription Subscription) {
	cs.BaseSubscriber.OnSubscribe(subscription)
	subscription.Request(cs.window)
}

func (cs *channelSubscriber) OnNext(value interface{}) {
	cs.values <- value
	cs.Request(1)
}

func (cs *channelSubscriber) OnError(err error) {
	cs.errs <- err
	close(cs.errs)
	close(cs.values)
}

func (cs *channelSubscriber) OnComplete() {
	close(cs.errs)
	close(cs.values)
}
