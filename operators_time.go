// Time-based operators for rxcore
// 时间操作符：Delay/Timeout，定时行为全部经由注入的调度器，
// 配合TestScheduler可在虚拟时间下确定性测试
package rxcore

import (
	"errors"
	"sync"
	"time"
)

// ============================================================================
// Delay 延迟
// ============================================================================

// Delay 将每个数据项与完成事件延迟duration后投递；错误立即传播
func (f *flowableImpl) Delay(duration time.Duration, scheduler Scheduler) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&delaySubscriber{
			downstream: newSerializedSubscriber(subscriber),
			duration:   duration,
			scheduler:  scheduler,
			resources:  NewCompositeDisposable(),
		})
	})
}

// delaySubscriber 延迟订阅者；事件先进入待投递队列，每个事件调度一次
// 到期任务，到期任务总是投递队首。并发调度器上任务完成次序不定，
// 队首投递保证源内顺序不被打乱；取消时一并丢弃未到期的投递任务
type delaySubscriber struct {
	downstream *serializedSubscriber
	duration   time.Duration
	scheduler  Scheduler
	resources  *CompositeDisposable

	mu      sync.Mutex
	pending []Notification
}

func (ds *delaySubscriber) OnSubscribe(subscription Subscription) {
	ds.downstream.OnSubscribe(NewSubscription(subscription.Request, func() {
		subscription.Cancel()
		ds.resources.Dispose()
	}))
}

func (ds *delaySubscriber) OnNext(value interface{}) {
	ds.enqueue(NextOf(value))
}

func (ds *delaySubscriber) OnError(err error) {
	ds.mu.Lock()
	ds.pending = nil
	ds.mu.Unlock()

	ds.resources.Dispose()
	ds.downstream.OnError(err)
}

func (ds *delaySubscriber) OnComplete() {
	ds.enqueue(CompleteOf())
}

func (ds *delaySubscriber) enqueue(event Notification) {
	ds.mu.Lock()
	ds.pending = append(ds.pending, event)
	ds.mu.Unlock()

	ds.resources.Add(ds.scheduler.ScheduleWithDelay(ds.deliverOldest, ds.duration))
}

// deliverOldest 投递最早入队的待投递事件
func (ds *delaySubscriber) deliverOldest() {
	ds.mu.Lock()
	if len(ds.pending) == 0 {
		ds.mu.Unlock()
		return
	}
	event := ds.pending[0]
	ds.pending = ds.pending[1:]
	ds.mu.Unlock()

	if event.Kind == KindComplete {
		ds.downstream.OnComplete()
	} else {
		ds.downstream.OnNext(event.Value)
	}
}

// ============================================================================
// Timeout 超时
// ============================================================================

// Timeout 订阅后以及每个数据项之后重新计时；duration内无后续事件
// 则取消上游并以TimeoutError终止
func (f *flowableImpl) Timeout(duration time.Duration, scheduler Scheduler) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		ts := &timeoutSubscriber{
			downstream: newSerializedSubscriber(subscriber),
			duration:   duration,
			scheduler:  scheduler,
		}
		f.Subscribe(ts)
	})
}

// timeoutSubscriber 超时订阅者；generation区分轮次，
// 过期轮次的定时器触发被忽略
type timeoutSubscriber struct {
	downstream *serializedSubscriber
	duration   time.Duration
	scheduler  Scheduler

	mu         sync.Mutex
	upstream   Subscription
	timer      Disposable
	generation int64
	terminated bool
}

// armLocked 持锁重新武装定时器，返回时锁已释放
func (ts *timeoutSubscriber) armLocked() {
	if ts.terminated {
		ts.mu.Unlock()
		return
	}
	ts.generation++
	generation := ts.generation
	previous := ts.timer
	ts.mu.Unlock()

	if previous != nil {
		previous.Dispose()
	}
	handle := ts.scheduler.ScheduleWithDelay(func() {
		ts.fire(generation)
	}, ts.duration)

	ts.mu.Lock()
	if ts.generation != generation || ts.terminated {
		ts.mu.Unlock()
		handle.Dispose()
		return
	}
	ts.timer = handle
	ts.mu.Unlock()
}

// fire 定时器到期；仅当轮次仍然有效时以超时错误终止
func (ts *timeoutSubscriber) fire(generation int64) {
	ts.mu.Lock()
	if ts.generation != generation || ts.terminated {
		ts.mu.Unlock()
		return
	}
	ts.terminated = true
	upstream := ts.upstream
	ts.mu.Unlock()

	if upstream != nil {
		upstream.Cancel()
	}
	ts.downstream.OnError(&TimeoutError{Duration: ts.duration})
}

// disarm 停掉定时器；终止事件到达时调用，返回是否首个终止者
func (ts *timeoutSubscriber) disarm() bool {
	ts.mu.Lock()
	if ts.terminated {
		ts.mu.Unlock()
		return false
	}
	ts.terminated = true
	timer := ts.timer
	ts.mu.Unlock()

	if timer != nil {
		timer.Dispose()
	}
	return true
}

func (ts *timeoutSubscriber) OnSubscribe(subscription Subscription) {
	ts.mu.Lock()
	ts.upstream = subscription
	ts.mu.Unlock()

	ts.downstream.OnSubscribe(NewSubscription(subscription.Request, func() {
		subscription.Cancel()
		ts.disarm()
	}))

	ts.mu.Lock()
	ts.armLocked()
}

func (ts *timeoutSubscriber) OnNext(value interface{}) {
	ts.mu.Lock()
	if ts.terminated {
		ts.mu.Unlock()
		return
	}
	ts.armLocked()
	ts.downstream.OnNext(value)
}

func (ts *timeoutSubscriber) OnError(err error) {
	if ts.disarm() {
		ts.downstream.OnError(err)
	}
}

func (ts *timeoutSubscriber) OnComplete() {
	if ts.disarm() {
		ts.downstream.OnComplete()
	}
}

// ============================================================================
// TimeoutError 超时错误
// ============================================================================

// TimeoutError 超时错误
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return "流超时: " + e.Duration.String() + "内无事件"
}

// IsTimeout 检查错误链中是否包含超时错误
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}
