// Flowable contract for rxcore
// 可观察序列契约：Publisher/Subscriber/Subscription 三方协议与需求计数
package rxcore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ============================================================================
// 订阅协议接口
// ============================================================================

// Subscription 生产者到消费者的活动链接句柄，负责需求信号与取消
type Subscription interface {
	// Request 请求n个数据项；n必须为正数，RequestUnbounded表示解除门控
	Request(n int64)
	// Cancel 取消订阅，幂等，级联取消其拥有的子订阅
	Cancel()
	// IsCancelled 非阻塞检查是否已取消
	IsCancelled() bool
}

// Subscriber 订阅者接口，消费next/error/complete事件
type Subscriber interface {
	// OnSubscribe 订阅建立时调用，此后才允许请求数据
	OnSubscribe(subscription Subscription)
	// OnNext 接收到新数据时调用
	OnNext(value interface{})
	// OnError 发生错误时调用，终止事件
	OnError(err error)
	// OnComplete 数据流正常结束时调用，终止事件
	OnComplete()
}

// Publisher 冷数据源，每次Subscribe启动一次独立执行
type Publisher interface {
	// Subscribe 订阅Subscriber
	Subscribe(subscriber Subscriber)
}

// ============================================================================
// Flowable 接口定义
// ============================================================================

// Flowable 支持背压的响应式数据流接口
type Flowable interface {
	Publisher

	// SubscribeWithCallbacks 使用回调函数订阅。该默认消费者在订阅时
	// 立即请求无界需求；若onError为nil且错误到达，内核会panic而非静默丢弃。
	SubscribeWithCallbacks(onNext OnNext, onError OnError, onComplete OnComplete) Subscription

	// ========================================================================
	// 转换操作符
	// ========================================================================

	// Map 转换每个数据项
	Map(transformer Transformer) Flowable

	// Filter 过滤数据项
	Filter(predicate Predicate) Flowable

	// Take 取前N个数据项后取消上游
	Take(count int64) Flowable

	// Skip 跳过前N个数据项
	Skip(count int64) Flowable

	// Distinct 去除重复的数据项；以==可比较的值为键
	Distinct() Flowable

	// Scan 逐项归约并发射每个中间累计值
	Scan(seed interface{}, reducer Reducer) Flowable

	// ========================================================================
	// 聚合操作符
	// ========================================================================

	// Reduce 归约全部数据项，完成时发射最终累计值
	Reduce(seed interface{}, reducer Reducer) Flowable

	// Count 完成时发射数据项总数
	Count() Flowable

	// IgnoreElements 丢弃全部数据项，只保留终止事件
	IgnoreElements() Flowable

	// DefaultIfEmpty 源为空时发射默认值
	DefaultIfEmpty(defaultValue interface{}) Flowable

	// ========================================================================
	// 副作用操作符
	// ========================================================================

	// DoOnNext 每个数据项投递前执行动作
	DoOnNext(action OnNext) Flowable

	// DoOnError 错误投递前执行动作
	DoOnError(action OnError) Flowable

	// DoOnComplete 完成投递前执行动作
	DoOnComplete(action OnComplete) Flowable

	// DoFinally 终止或取消后恰好执行一次动作
	DoFinally(action func()) Flowable

	// ========================================================================
	// 时间操作符
	// ========================================================================

	// Delay 将每个数据项与终止事件延迟指定时长投递
	Delay(duration time.Duration, scheduler Scheduler) Flowable

	// Timeout 相邻事件间隔超过指定时长时以超时错误终止
	Timeout(duration time.Duration, scheduler Scheduler) Flowable

	// ========================================================================
	// 组合操作符（二元便捷包装，变参语义见包级函数）
	// ========================================================================

	// ConcatWith 顺序连接另一个流
	ConcatWith(other Flowable) Flowable

	// MergeWith 交错合并另一个流
	MergeWith(other Flowable) Flowable

	// ZipWith 与另一个流按下标逐对组合
	ZipWith(other Flowable, zipper func(a, b interface{}) interface{}) Flowable

	// CombineLatestWith 与另一个流的最新值组合
	CombineLatestWith(other Flowable, combiner func(a, b interface{}) interface{}) Flowable

	// AmbWith 与另一个流竞速，首个发射者独占下游
	AmbWith(other Flowable) Flowable

	// StartWith 在源之前先发射给定的值
	StartWith(values ...interface{}) Flowable

	// ========================================================================
	// 重复与重试
	// ========================================================================

	// Repeat 完成后重新订阅源，最多重复count次
	Repeat(count int64) Flowable

	// RepeatForever 完成后无限重新订阅源
	RepeatForever() Flowable

	// RepeatWhen 完成信号交给notifier流，notifier每发射一次便重启源；
	// notifier终止时结果流随之终止
	RepeatWhen(notifier func(signals Flowable) Flowable) Flowable

	// Retry 出错后重新订阅源，最多重试count次
	Retry(count int64) Flowable

	// RetryWhen 错误值交给notifier流，notifier每发射一次便重启源
	RetryWhen(notifier func(failures Flowable) Flowable) Flowable

	// RetryBackoff 按退避策略延迟重试，延迟任务投递到给定调度器
	RetryBackoff(policy backoff.BackOff, scheduler Scheduler) Flowable

	// ========================================================================
	// 背压策略操作符
	// ========================================================================

	// OnBackpressureBuffer 缓冲无需求时到达的数据；capacity<=0表示无界
	OnBackpressureBuffer(capacity int) Flowable

	// OnBackpressureDrop 丢弃无需求时到达的数据
	OnBackpressureDrop() Flowable

	// OnBackpressureLatest 仅保留最近一个无需求时到达的数据
	OnBackpressureLatest() Flowable

	// ========================================================================
	// 调度操作符
	// ========================================================================

	// SubscribeOn 指定订阅动作运行的调度器
	SubscribeOn(scheduler Scheduler) Flowable

	// ObserveOn 指定下游事件投递的调度器
	ObserveOn(scheduler Scheduler) Flowable

	// ========================================================================
	// 阻塞辅助
	// ========================================================================

	// BlockingFirst 阻塞获取第一个数据项
	BlockingFirst() (interface{}, error)

	// BlockingSlice 阻塞收集全部数据项
	BlockingSlice() ([]interface{}, error)
}

// ============================================================================
// 需求控制器
// ============================================================================

// demandCounter 每订阅一份的需求计数器，门控生产者发射
type demandCounter struct {
	requested int64
}

// add 累计需求，饱和于无界哨兵值，返回累计后的值
func (d *demandCounter) add(n int64) int64 {
	for {
		current := atomic.LoadInt64(&d.requested)
		next := addRequested(current, n)
		if atomic.CompareAndSwapInt64(&d.requested, current, next) {
			return next
		}
	}
}

// tryConsume 尝试为一次发射扣减一个需求单位；需求不足时返回false
func (d *demandCounter) tryConsume() bool {
	for {
		current := atomic.LoadInt64(&d.requested)
		if current <= 0 {
			return false
		}
		if current == RequestUnbounded {
			return true
		}
		if atomic.CompareAndSwapInt64(&d.requested, current, current-1) {
			return true
		}
	}
}

// current 读取当前未满足的需求
func (d *demandCounter) current() int64 {
	return atomic.LoadInt64(&d.requested)
}

// unbounded 检查是否已进入无界模式
func (d *demandCounter) unbounded() bool {
	return atomic.LoadInt64(&d.requested) == RequestUnbounded
}

// ============================================================================
// 基础订阅实现
// ============================================================================

// subscriptionImpl Subscription的基础实现，维护需求计数并转发请求与取消
type subscriptionImpl struct {
	demand    demandCounter
	cancelled int32
	onRequest func(n int64)
	onCancel  func()
}

// NewSubscription 创建基础订阅；onRequest在每次有效请求后调用
func NewSubscription(onRequest func(n int64), onCancel func()) Subscription {
	return &subscriptionImpl{onRequest: onRequest, onCancel: onCancel}
}

// Request 请求指定数量的数据项
func (s *subscriptionImpl) Request(n int64) {
	if n <= 0 || s.IsCancelled() {
		return
	}
	s.demand.add(n)
	if s.onRequest != nil {
		s.onRequest(n)
	}
}

// Cancel 取消订阅
func (s *subscriptionImpl) Cancel() {
	if atomic.CompareAndSwapInt32(&s.cancelled, 0, 1) {
		if s.onCancel != nil {
			s.onCancel()
		}
	}
}

// IsCancelled 检查是否已取消
func (s *subscriptionImpl) IsCancelled() bool {
	return atomic.LoadInt32(&s.cancelled) == 1
}

// emptySubscription 无操作订阅，用于订阅建立即终止的场合
type emptySubscription struct{}

func (emptySubscription) Request(n int64)   {}
func (emptySubscription) Cancel()           {}
func (emptySubscription) IsCancelled() bool { return false }

// ============================================================================
// 组合订阅
// ============================================================================

// compositeSubscription 订阅树节点：取消父订阅会在同一调用内取消全部子订阅
type compositeSubscription struct {
	mu        sync.Mutex
	cancelled bool
	children  []Subscription
	onRequest func(n int64)
}

// newCompositeSubscription 创建组合订阅
func newCompositeSubscription(onRequest func(n int64)) *compositeSubscription {
	return &compositeSubscription{onRequest: onRequest}
}

// Add 纳入子订阅；若父订阅已取消则立即取消子订阅
func (cs *compositeSubscription) Add(child Subscription) {
	cs.mu.Lock()
	if cs.cancelled {
		cs.mu.Unlock()
		child.Cancel()
		return
	}
	cs.children = append(cs.children, child)
	cs.mu.Unlock()
}

// Request 将需求转发给onRequest回调
func (cs *compositeSubscription) Request(n int64) {
	if n <= 0 || cs.IsCancelled() {
		return
	}
	if cs.onRequest != nil {
		cs.onRequest(n)
	}
}

// Cancel 级联取消全部子订阅
func (cs *compositeSubscription) Cancel() {
	cs.mu.Lock()
	if cs.cancelled {
		cs.mu.Unlock()
		return
	}
	cs.cancelled = true
	children := cs.children
	cs.children = nil
	cs.mu.Unlock()

	for _, child := range children {
		child.Cancel()
	}
}

// IsCancelled 检查是否已取消
func (cs *compositeSubscription) IsCancelled() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.cancelled
}

// ============================================================================
// BaseSubscriber 基础订阅者实现
// ============================================================================

// BaseSubscriber 基础订阅者，管理上游订阅并提供默认空实现
type BaseSubscriber struct {
	mu           sync.RWMutex
	subscription Subscription
}

// OnSubscribe 记录上游订阅；重复订阅时取消后来者
func (b *BaseSubscriber) OnSubscribe(subscription Subscription) {
	b.mu.Lock()
	if b.subscription != nil {
		b.mu.Unlock()
		subscription.Cancel()
		return
	}
	b.subscription = subscription
	b.mu.Unlock()
}

// Request 向上游请求指定数量的数据项
func (b *BaseSubscriber) Request(n int64) {
	b.mu.RLock()
	subscription := b.subscription
	b.mu.RUnlock()

	if subscription != nil {
		subscription.Request(n)
	}
}

// Cancel 取消上游订阅
func (b *BaseSubscriber) Cancel() {
	b.mu.RLock()
	subscription := b.subscription
	b.mu.RUnlock()

	if subscription != nil {
		subscription.Cancel()
	}
}

// IsCancelled 检查上游订阅是否已取消
func (b *BaseSubscriber) IsCancelled() bool {
	b.mu.RLock()
	subscription := b.subscription
	b.mu.RUnlock()

	if subscription != nil {
		return subscription.IsCancelled()
	}
	return false
}

// OnNext 默认空实现
func (b *BaseSubscriber) OnNext(value interface{}) {}

// OnError 默认空实现
func (b *BaseSubscriber) OnError(err error) {}

// OnComplete 默认空实现
func (b *BaseSubscriber) OnComplete() {}
