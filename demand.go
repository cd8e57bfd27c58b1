// Backpressure overflow operators for rxcore
// 背压策略订阅者：向上游请求无界需求，按策略调解下游有界需求
package rxcore

import (
	"sync"
)

// ============================================================================
// 溢出调解订阅者
// ============================================================================

// overflowSubscriber OnBackpressureBuffer/Drop/Latest的统一实现。
// 上游按无界模式生产，下游需求单独计数；无需求时到达的数据按策略处理。
type overflowSubscriber struct {
	downstream Subscriber
	policy     OverflowPolicy
	capacity   int

	mu         sync.Mutex
	upstream   Subscription
	queue      []interface{}
	latest     interface{}
	hasLatest  bool
	requested  int64
	draining   bool
	terminated bool
	terminal   *Notification
}

// newOverflowSubscriber 创建溢出调解订阅者；capacity仅对Buffer策略生效，<=0表示无界
func newOverflowSubscriber(downstream Subscriber, policy OverflowPolicy, capacity int) Subscriber {
	return &overflowSubscriber{
		downstream: downstream,
		policy:     policy,
		capacity:   capacity,
	}
}

func (os *overflowSubscriber) OnSubscribe(subscription Subscription) {
	os.mu.Lock()
	os.upstream = subscription
	os.mu.Unlock()

	os.downstream.OnSubscribe(NewSubscription(
		func(n int64) {
			os.mu.Lock()
			os.requested = addRequested(os.requested, n)
			os.drainLocked()
		},
		func() {
			subscription.Cancel()
		},
	))

	// 上游不设门控，由本调解器吸收速率差
	subscription.Request(RequestUnbounded)
}

func (os *overflowSubscriber) OnNext(value interface{}) {
	os.mu.Lock()
	if os.terminated || os.terminal != nil {
		os.mu.Unlock()
		return
	}

	switch os.policy {
	case OverflowBuffer:
		if os.capacity > 0 && len(os.queue) >= os.capacity {
			os.terminated = true
			upstream := os.upstream
			os.queue = nil
			os.mu.Unlock()
			if upstream != nil {
				upstream.Cancel()
			}
			os.downstream.OnError(NewBufferOverflow("缓冲区超出容量"))
			return
		}
		os.queue = append(os.queue, value)
	case OverflowDrop:
		if os.requested <= 0 {
			// 丢弃无需求时到达的数据
			os.mu.Unlock()
			return
		}
		os.queue = append(os.queue, value)
	case OverflowLatest:
		os.latest = value
		os.hasLatest = true
	default:
		os.queue = append(os.queue, value)
	}

	os.drainLocked()
}

func (os *overflowSubscriber) OnError(err error) {
	os.finish(ErrorOf(err))
}

func (os *overflowSubscriber) OnComplete() {
	os.finish(CompleteOf())
}

// finish 记录终止事件，待排空队列后投递
func (os *overflowSubscriber) finish(terminal Notification) {
	os.mu.Lock()
	if os.terminated || os.terminal != nil {
		os.mu.Unlock()
		return
	}
	os.terminal = &terminal
	os.drainLocked()
}

// drainLocked 在持有锁的前提下进入排放循环；下游回调期间释放锁，
// 以draining标志防止重入请求造成的死锁或交错投递
func (os *overflowSubscriber) drainLocked() {
	if os.draining {
		os.mu.Unlock()
		return
	}
	os.draining = true

	for {
		if os.terminated {
			break
		}

		var next interface{}
		switch {
		case len(os.queue) > 0 && os.requested > 0:
			next = os.queue[0]
			os.queue = os.queue[1:]
		case os.hasLatest && os.requested > 0:
			next = os.latest
			os.latest = nil
			os.hasLatest = false
		default:
			// 队列排空后投递终止事件
			if os.terminal != nil && len(os.queue) == 0 && !os.hasLatest {
				terminal := *os.terminal
				os.terminated = true
				os.mu.Unlock()
				if terminal.Kind == KindError {
					os.downstream.OnError(terminal.Err)
				} else {
					os.downstream.OnComplete()
				}
				os.mu.Lock()
			}
			os.draining = false
			os.mu.Unlock()
			return
		}

		if os.requested != RequestUnbounded {
			os.requested--
		}
		os.mu.Unlock()
		os.downstream.OnNext(next)
		os.mu.Lock()
	}

	os.draining = false
	os.mu.Unlock()
}
