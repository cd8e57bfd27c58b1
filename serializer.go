// Serialized event delivery for rxcore
// 串行化投递：扇入操作符把并发到达的事件汇入单一逻辑锁下的排放循环
package rxcore

import (
	"sync"
)

// serializedSubscriber 保证下游的OnNext/OnError/OnComplete绝不被并发调用。
// 排放线程持有draining标志期间，其他线程只入队；终止事件投递后清空队列，
// 迟到事件被静默丢弃。
type serializedSubscriber struct {
	downstream Subscriber

	mu         sync.Mutex
	queue      []Notification
	draining   bool
	terminated bool
}

// newSerializedSubscriber 包装下游订阅者
func newSerializedSubscriber(downstream Subscriber) *serializedSubscriber {
	return &serializedSubscriber{downstream: downstream}
}

func (ss *serializedSubscriber) OnSubscribe(subscription Subscription) {
	ss.downstream.OnSubscribe(subscription)
}

func (ss *serializedSubscriber) OnNext(value interface{}) {
	ss.emit(NextOf(value))
}

func (ss *serializedSubscriber) OnError(err error) {
	ss.emit(ErrorOf(err))
}

func (ss *serializedSubscriber) OnComplete() {
	ss.emit(CompleteOf())
}

// emit 入队并在必要时接管排放
func (ss *serializedSubscriber) emit(notification Notification) {
	ss.mu.Lock()
	if ss.terminated {
		ss.mu.Unlock()
		return
	}
	if ss.draining {
		ss.queue = append(ss.queue, notification)
		ss.mu.Unlock()
		return
	}
	ss.draining = true
	current := notification

	for {
		if current.IsTerminal() {
			ss.terminated = true
			ss.queue = nil
		}
		ss.mu.Unlock()

		switch current.Kind {
		case KindNext:
			ss.downstream.OnNext(current.Value)
		case KindError:
			ss.downstream.OnError(current.Err)
			return
		case KindComplete:
			ss.downstream.OnComplete()
			return
		}

		ss.mu.Lock()
		if len(ss.queue) == 0 {
			ss.draining = false
			ss.mu.Unlock()
			return
		}
		current = ss.queue[0]
		ss.queue = ss.queue[1:]
	}
}
