// Flowable factory functions for rxcore
// 工厂函数：从值、切片、区间、channel与定时器创建数据源
package rxcore

import (
	"sync"
	"time"
)

// ============================================================================
// 基础工厂函数
// ============================================================================

// Just 从给定的值创建Flowable
func Just(values ...interface{}) Flowable {
	return FromSlice(values)
}

// FromSlice 从切片创建Flowable
func FromSlice(slice []interface{}) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		producer := &indexedProducer{
			subscriber: subscriber,
			length:     int64(len(slice)),
			valueAt: func(index int64) interface{} {
				return slice[index]
			},
		}
		subscriber.OnSubscribe(producer.subscription())
	})
}

// Range 创建发射[start, start+count)整数区间的Flowable
func Range(start, count int) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		producer := &indexedProducer{
			subscriber: subscriber,
			length:     int64(count),
			valueAt: func(index int64) interface{} {
				return start + int(index)
			},
		}
		subscriber.OnSubscribe(producer.subscription())
	})
}

// Empty 创建订阅后立即完成的Flowable
func Empty() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(emptySubscription{})
		subscriber.OnComplete()
	})
}

// Never 创建永不发射任何事件的Flowable
func Never() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(emptySubscription{})
	})
}

// Error 创建订阅后立即发射错误的Flowable
func Error(err error) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(emptySubscription{})
		subscriber.OnError(err)
	})
}

// Defer 每次订阅时调用factory生成一次全新的源
func Defer(factory func() Flowable) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		factory().Subscribe(subscriber)
	})
}

// ============================================================================
// 按下标拉取的同步生产者
// ============================================================================

// indexedProducer 在请求到达的goroutine上同步发射数据。
// draining标志保证单写者：下游在OnNext内重入Request时只累计需求，
// 由当前排放循环继续消化，避免递归与交错发射。
type indexedProducer struct {
	subscriber Subscriber
	length     int64
	valueAt    func(index int64) interface{}

	mu         sync.Mutex
	requested  int64
	index      int64
	draining   bool
	cancelled  bool
	terminated bool
}

// subscription 构造绑定本生产者的订阅
func (p *indexedProducer) subscription() Subscription {
	return NewSubscription(p.request, p.cancel)
}

func (p *indexedProducer) cancel() {
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()
}

func (p *indexedProducer) request(n int64) {
	p.mu.Lock()
	p.requested = addRequested(p.requested, n)
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true

	for p.requested > 0 && p.index < p.length && !p.cancelled && !p.terminated {
		value := p.valueAt(p.index)
		p.index++
		if p.requested != RequestUnbounded {
			p.requested--
		}
		p.mu.Unlock()
		p.subscriber.OnNext(value)
		p.mu.Lock()
	}

	finished := !p.terminated && !p.cancelled && p.index >= p.length
	if finished {
		p.terminated = true
	}
	p.draining = false
	p.mu.Unlock()

	if finished {
		p.subscriber.OnComplete()
	}
}

// ============================================================================
// 从channel创建
// ============================================================================

// FromChannel 从Go channel创建Flowable。仅在存在未满足需求时从channel
// 读取，背压直接体现为不消费channel；channel关闭视为完成。
func FromChannel(ch <-chan interface{}) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		producer := &channelProducer{
			subscriber: subscriber,
			ch:         ch,
			done:       make(chan struct{}),
		}
		producer.cond = sync.NewCond(&producer.mu)

		subscriber.OnSubscribe(NewSubscription(producer.request, producer.cancel))
		go producer.run()
	})
}

// channelProducer channel读取泵
type channelProducer struct {
	subscriber Subscriber
	ch         <-chan interface{}
	done       chan struct{}

	mu        sync.Mutex
	cond      *sync.Cond
	requested int64
	cancelled bool
}

func (p *channelProducer) request(n int64) {
	p.mu.Lock()
	p.requested = addRequested(p.requested, n)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *channelProducer) cancel() {
	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		return
	}
	p.cancelled = true
	close(p.done)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *channelProducer) run() {
	for {
		p.mu.Lock()
		for p.requested <= 0 && !p.cancelled {
			p.cond.Wait()
		}
		if p.cancelled {
			p.mu.Unlock()
			return
		}
		if p.requested != RequestUnbounded {
			p.requested--
		}
		p.mu.Unlock()

		select {
		case value, ok := <-p.ch:
			if !ok {
				p.subscriber.OnComplete()
				return
			}
			p.subscriber.OnNext(value)
		case <-p.done:
			return
		}
	}
}

// ============================================================================
// 时间相关工厂函数
// ============================================================================

// Interval 创建按period周期发射递增整数的Flowable。调度器必须显式传入，
// 不存在进程级默认调度器。触发时若无未满足需求，按严格策略以
// DemandViolation终止。
func Interval(period time.Duration, scheduler Scheduler) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		var counter int64
		resources := NewCompositeDisposable()
		link := &subscriptionImpl{onCancel: resources.Dispose}
		subscriber.OnSubscribe(link)

		resources.Add(scheduler.ScheduleRecurring(func() {
			if link.IsCancelled() {
				return
			}
			if !link.demand.tryConsume() {
				link.Cancel()
				subscriber.OnError(NewDemandViolation("周期源在需求不足时触发"))
				return
			}
			subscriber.OnNext(counter)
			counter++
		}, period))
	})
}

// Timer 创建在delay之后发射单个零值并完成的Flowable
func Timer(delay time.Duration, scheduler Scheduler) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		resources := NewCompositeDisposable()
		link := &subscriptionImpl{onCancel: resources.Dispose}
		subscriber.OnSubscribe(link)

		resources.Add(scheduler.ScheduleWithDelay(func() {
			if link.IsCancelled() {
				return
			}
			if !link.demand.tryConsume() {
				link.Cancel()
				subscriber.OnError(NewDemandViolation("定时源在需求不足时触发"))
				return
			}
			subscriber.OnNext(int64(0))
			subscriber.OnComplete()
		}, delay))
	})
}
