// Package rxcore provides a minimal reactive-stream core with pull-based backpressure
// 最小化的响应式流内核，实现订阅生命周期、发射契约与基于拉取的背压协议
package rxcore

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// 事件通知类型
// ============================================================================

// NotificationKind 通知的种类
type NotificationKind int32

const (
	// KindNext 携带数据值的通知
	KindNext NotificationKind = iota
	// KindError 携带错误的终止通知
	KindError
	// KindComplete 正常完成的终止通知
	KindComplete
)

// Notification 流中的一个带标签事件，Next(value) | Error(err) | Complete 三者之一
type Notification struct {
	Kind  NotificationKind
	Value interface{}
	Err   error
}

// NextOf 创建携带数据值的通知
func NextOf(value interface{}) Notification {
	return Notification{Kind: KindNext, Value: value}
}

// ErrorOf 创建携带错误的终止通知
func ErrorOf(err error) Notification {
	return Notification{Kind: KindError, Err: err}
}

// CompleteOf 创建完成通知
func CompleteOf() Notification {
	return Notification{Kind: KindComplete}
}

// IsNext 检查是否为数据通知
func (n Notification) IsNext() bool {
	return n.Kind == KindNext
}

// IsTerminal 检查是否为终止通知（错误或完成）
func (n Notification) IsTerminal() bool {
	return n.Kind == KindError || n.Kind == KindComplete
}

// ============================================================================
// 回调函数类型
// ============================================================================

// OnNext 处理下一个值的函数
type OnNext func(value interface{})

// OnError 处理错误的函数
type OnError func(err error)

// OnComplete 处理完成的函数
type OnComplete func()

// Predicate 谓词函数，用于过滤
type Predicate func(value interface{}) bool

// Transformer 转换函数，用于映射
type Transformer func(value interface{}) (interface{}, error)

// Combiner 组合函数，按源顺序接收每个源的一个值
type Combiner func(values []interface{}) interface{}

// Reducer 归约函数，将累计值与新值合并
type Reducer func(accumulator, value interface{}) interface{}

// ============================================================================
// 需求常量
// ============================================================================

// RequestUnbounded 无界需求哨兵值，发送后禁用背压门控
const RequestUnbounded = int64(math.MaxInt64)

// addRequested 饱和加法，累计需求达到哨兵值后保持不变
func addRequested(current, n int64) int64 {
	if current == RequestUnbounded {
		return RequestUnbounded
	}
	sum := current + n
	if sum < 0 {
		return RequestUnbounded
	}
	return sum
}

// ============================================================================
// 生命周期管理
// ============================================================================

// Disposable 可释放资源的接口
type Disposable interface {
	// Dispose 释放资源，幂等
	Dispose()
	// IsDisposed 检查是否已释放
	IsDisposed() bool
}

// baseDisposable 基础可释放资源实现
type baseDisposable struct {
	disposed int32
	action   func()
}

// NewDisposable 创建在首次释放时执行action的Disposable
func NewDisposable(action func()) Disposable {
	return &baseDisposable{action: action}
}

// Dispose 释放资源
func (d *baseDisposable) Dispose() {
	if atomic.CompareAndSwapInt32(&d.disposed, 0, 1) {
		if d.action != nil {
			d.action()
		}
	}
}

// IsDisposed 检查是否已释放
func (d *baseDisposable) IsDisposed() bool {
	return atomic.LoadInt32(&d.disposed) == 1
}

// CompositeDisposable 组合式资源管理器，释放时在同一调用内级联释放全部子资源
type CompositeDisposable struct {
	mu        sync.Mutex
	disposed  bool
	resources []Disposable
}

// NewCompositeDisposable 创建组合式资源管理器
func NewCompositeDisposable() *CompositeDisposable {
	return &CompositeDisposable{}
}

// Add 添加子资源；若管理器已释放则立即释放新资源
func (cd *CompositeDisposable) Add(disposable Disposable) {
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		disposable.Dispose()
		return
	}
	cd.resources = append(cd.resources, disposable)
	cd.mu.Unlock()
}

// Dispose 释放全部子资源
func (cd *CompositeDisposable) Dispose() {
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		return
	}
	cd.disposed = true
	resources := cd.resources
	cd.resources = nil
	cd.mu.Unlock()

	for _, resource := range resources {
		resource.Dispose()
	}
}

// IsDisposed 检查是否已释放
func (cd *CompositeDisposable) IsDisposed() bool {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.disposed
}

// ============================================================================
// 调度器接口
// ============================================================================

// Scheduler 调度器接口，控制任务执行时机和方式。
// 内核只依赖该接口，线程池规模与定时器内部实现属于外部协作者。
type Scheduler interface {
	// Schedule 调度一个任务
	Schedule(task func()) Disposable
	// ScheduleWithDelay 延迟调度一个任务
	ScheduleWithDelay(task func(), delay time.Duration) Disposable
	// ScheduleRecurring 周期性调度一个任务
	ScheduleRecurring(task func(), period time.Duration) Disposable
}

// ============================================================================
// 配置选项
// ============================================================================

// OverflowPolicy 无需求时的发射处理策略
type OverflowPolicy int

const (
	// OverflowError 无需求时发射即为协议错误（默认严格策略）
	OverflowError OverflowPolicy = iota
	// OverflowBuffer 缓冲超额数据，超出容量时以BufferOverflow错误终止
	OverflowBuffer
	// OverflowDrop 无需求时静默丢弃数据
	OverflowDrop
	// OverflowLatest 仅保留最近一个待发射数据
	OverflowLatest
)

// Config 配置结构
type Config struct {
	// BufferCapacity 操作符内部每源队列的容量
	BufferCapacity int
	// Overflow 缓冲区溢出策略
	Overflow OverflowPolicy
}

// Option 配置选项接口
type Option interface {
	Apply(config *Config)
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		BufferCapacity: 128,
		Overflow:       OverflowError,
	}
}

// bufferCapacityOption 缓冲容量选项
type bufferCapacityOption struct {
	capacity int
}

// Apply 应用缓冲容量选项
func (o *bufferCapacityOption) Apply(config *Config) {
	config.BufferCapacity = o.capacity
}

// WithBufferCapacity 设置操作符内部队列容量
func WithBufferCapacity(capacity int) Option {
	return &bufferCapacityOption{capacity: capacity}
}

// overflowOption 溢出策略选项
type overflowOption struct {
	policy OverflowPolicy
}

// Apply 应用溢出策略选项
func (o *overflowOption) Apply(config *Config) {
	config.Overflow = o.policy
}

// WithOverflowPolicy 设置缓冲区溢出策略
func WithOverflowPolicy(policy OverflowPolicy) Option {
	return &overflowOption{policy: policy}
}
