// Transform operators for rxcore
// 转换操作符订阅者：Map/Filter/Take
package rxcore

import (
	"sync"
)

// ============================================================================
// Map操作符订阅者
// ============================================================================

// mapSubscriber Map操作符的订阅者实现
type mapSubscriber struct {
	BaseSubscriber
	downstream  Subscriber
	transformer Transformer
}

func (ms *mapSubscriber) OnSubscribe(subscription Subscription) {
	ms.BaseSubscriber.OnSubscribe(subscription)
	ms.downstream.OnSubscribe(subscription)
}

func (ms *mapSubscriber) OnNext(value interface{}) {
	result, err := ms.transformer(value)
	if err != nil {
		ms.Cancel()
		ms.downstream.OnError(err)
		return
	}
	ms.downstream.OnNext(result)
}

func (ms *mapSubscriber) OnError(err error) {
	ms.downstream.OnError(err)
}

func (ms *mapSubscriber) OnComplete() {
	ms.downstream.OnComplete()
}

// ============================================================================
// Filter操作符订阅者
// ============================================================================

// filterSubscriber Filter操作符的订阅者实现。
// 被过滤掉的项目消耗了上游需求却没有产生下游发射，需向上游补一个请求，
// 否则下游会在有限需求下饿死。
type filterSubscriber struct {
	BaseSubscriber
	downstream Subscriber
	predicate  Predicate
}

func (fs *filterSubscriber) OnSubscribe(subscription Subscription) {
	fs.BaseSubscriber.OnSubscribe(subscription)
	fs.downstream.OnSubscribe(subscription)
}

func (fs *filterSubscriber) OnNext(value interface{}) {
	if fs.predicate(value) {
		fs.downstream.OnNext(value)
		return
	}
	// 补偿被丢弃项目占用的需求
	fs.Request(1)
}

func (fs *filterSubscriber) OnError(err error) {
	fs.downstream.OnError(err)
}

func (fs *filterSubscriber) OnComplete() {
	fs.downstream.OnComplete()
}

// ============================================================================
// Take操作符订阅者
// ============================================================================

// takeSubscriber Take操作符的订阅者实现，满额后取消上游并补发完成
type takeSubscriber struct {
	BaseSubscriber
	downstream Subscriber
	remaining  int64
	mu         sync.Mutex
}

func (ts *takeSubscriber) OnSubscribe(subscription Subscription) {
	ts.BaseSubscriber.OnSubscribe(subscription)

	ts.mu.Lock()
	empty := ts.remaining <= 0
	ts.mu.Unlock()

	if empty {
		subscription.Cancel()
		ts.downstream.OnSubscribe(emptySubscription{})
		ts.downstream.OnComplete()
		return
	}

	ts.downstream.OnSubscribe(subscription)
}

func (ts *takeSubscriber) OnNext(value interface{}) {
	ts.mu.Lock()
	if ts.remaining <= 0 {
		ts.mu.Unlock()
		return
	}
	ts.remaining--
	finished := ts.remaining == 0
	ts.mu.Unlock()

	ts.downstream.OnNext(value)

	if finished {
		ts.Cancel()
		ts.downstream.OnComplete()
	}
}

func (ts *takeSubscriber) OnError(err error) {
	ts.downstream.OnError(err)
}

func (ts *takeSubscriber) OnComplete() {
	ts.downstream.OnComplete()
}
