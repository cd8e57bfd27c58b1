// Scheduler implementations for rxcore
// 实现调度器系统，支持不同的执行策略
package rxcore

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// 立即调度器 - Immediate Scheduler
// ============================================================================

// immediateScheduler 立即在当前goroutine中执行任务
type immediateScheduler struct{}

// NewImmediateScheduler 创建立即调度器
func NewImmediateScheduler() Scheduler {
	return &immediateScheduler{}
}

// Schedule 立即执行任务
func (s *immediateScheduler) Schedule(task func()) Disposable {
	task()
	return NewDisposable(func() {})
}

// ScheduleWithDelay 延迟执行任务
func (s *immediateScheduler) ScheduleWithDelay(task func(), delay time.Duration) Disposable {
	if delay <= 0 {
		task()
		return NewDisposable(func() {})
	}

	timer := time.AfterFunc(delay, task)
	return NewDisposable(func() {
		timer.Stop()
	})
}

// ScheduleRecurring 周期性执行任务
func (s *immediateScheduler) ScheduleRecurring(task func(), period time.Duration) Disposable {
	return recurringTicker(task, period)
}

// ============================================================================
// 蹦床调度器 - Trampoline Scheduler
// ============================================================================

// trampolineScheduler 将任务排入队列，由最先进入的调用者顺序执行；
// 保证同一调度器上的任务串行且不嵌套
type trampolineScheduler struct {
	mu         sync.Mutex
	queue      []func()
	processing bool
}

// NewTrampolineScheduler 创建蹦床调度器
func NewTrampolineScheduler() Scheduler {
	return &trampolineScheduler{}
}

// Schedule 任务入队；若当前无人排放则由本次调用接管排放循环
func (s *trampolineScheduler) Schedule(task func()) Disposable {
	cancelled := int32(0)
	s.mu.Lock()
	s.queue = append(s.queue, func() {
		if atomic.LoadInt32(&cancelled) == 0 {
			task()
		}
	})
	if s.processing {
		s.mu.Unlock()
		return NewDisposable(func() { atomic.StoreInt32(&cancelled, 1) })
	}
	s.processing = true
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.processing = false
			s.mu.Unlock()
			return NewDisposable(func() { atomic.StoreInt32(&cancelled, 1) })
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		next()
	}
}

// ScheduleWithDelay 延迟后入队执行
func (s *trampolineScheduler) ScheduleWithDelay(task func(), delay time.Duration) Disposable {
	timer := time.AfterFunc(delay, func() {
		s.Schedule(task)
	})
	return NewDisposable(func() {
		timer.Stop()
	})
}

// ScheduleRecurring 周期性入队执行
func (s *trampolineScheduler) ScheduleRecurring(task func(), period time.Duration) Disposable {
	return recurringTicker(func() { s.Schedule(task) }, period)
}

// ============================================================================
// goroutine调度器 - Goroutine Scheduler
// ============================================================================

// goroutineScheduler 为每个任务启动新goroutine
type goroutineScheduler struct{}

// NewGoroutineScheduler 创建goroutine调度器
func NewGoroutineScheduler() Scheduler {
	return &goroutineScheduler{}
}

// Schedule 在新goroutine中执行任务
func (s *goroutineScheduler) Schedule(task func()) Disposable {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		select {
		case <-ctx.Done():
			return
		default:
			task()
		}
	}()

	return NewDisposable(cancel)
}

// ScheduleWithDelay 延迟在新goroutine中执行任务
func (s *goroutineScheduler) ScheduleWithDelay(task func(), delay time.Duration) Disposable {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			task()
		}
	}()

	return NewDisposable(cancel)
}

// ScheduleRecurring 周期性在新goroutine中执行任务
func (s *goroutineScheduler) ScheduleRecurring(task func(), period time.Duration) Disposable {
	return recurringTicker(task, period)
}

// ============================================================================
// 协程池调度器 - Pool Scheduler
// ============================================================================

// poolScheduler 使用固定大小的goroutine池执行任务
type poolScheduler struct {
	workers   int
	taskQueue chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	disposed  int32
}

// NewPoolScheduler 创建协程池调度器；workers非正时取CPU核数
func NewPoolScheduler(workers int) Scheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())

	scheduler := &poolScheduler{
		workers:   workers,
		taskQueue: make(chan func(), workers*2),
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < workers; i++ {
		scheduler.wg.Add(1)
		go scheduler.worker()
	}

	return scheduler
}

// Schedule 将任务提交到池中
func (s *poolScheduler) Schedule(task func()) Disposable {
	if atomic.LoadInt32(&s.disposed) == 1 {
		return NewDisposable(func() {})
	}

	cancelled := int32(0)
	wrapped := func() {
		if atomic.LoadInt32(&cancelled) == 0 {
			task()
		}
	}

	select {
	case s.taskQueue <- wrapped:
		return NewDisposable(func() { atomic.StoreInt32(&cancelled, 1) })
	case <-s.ctx.Done():
		return NewDisposable(func() {})
	}
}

// ScheduleWithDelay 延迟提交任务到池中
func (s *poolScheduler) ScheduleWithDelay(task func(), delay time.Duration) Disposable {
	resources := NewCompositeDisposable()

	timer := time.AfterFunc(delay, func() {
		select {
		case <-s.ctx.Done():
		default:
			resources.Add(s.Schedule(task))
		}
	})
	resources.Add(NewDisposable(func() { timer.Stop() }))

	return resources
}

// ScheduleRecurring 周期性提交任务到池中
func (s *poolScheduler) ScheduleRecurring(task func(), period time.Duration) Disposable {
	return recurringTicker(func() { s.Schedule(task) }, period)
}

// worker 工作goroutine
func (s *poolScheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.taskQueue:
			if task != nil {
				task()
			}
		}
	}
}

// Dispose 释放池资源
func (s *poolScheduler) Dispose() {
	if atomic.CompareAndSwapInt32(&s.disposed, 0, 1) {
		s.cancel()
		s.wg.Wait()
	}
}

// IsDisposed 池是否已释放
func (s *poolScheduler) IsDisposed() bool {
	return atomic.LoadInt32(&s.disposed) == 1
}

// ============================================================================
// 测试调度器 - Test Scheduler
// ============================================================================

// TestScheduler 虚拟时间调度器：任务不自动执行，
// 由AdvanceTimeBy/AdvanceTimeTo手动推进时钟驱动，测试完全确定
type TestScheduler struct {
	mu       sync.Mutex
	clock    time.Duration
	queue    []*scheduledTask
	sequence int64
	disposed bool
}

// scheduledTask 排入虚拟时间轴的任务
type scheduledTask struct {
	due       time.Duration
	sequence  int64
	task      func()
	period    time.Duration
	cancelled int32
}

// NewTestScheduler 创建测试调度器
func NewTestScheduler() *TestScheduler {
	return &TestScheduler{}
}

// Schedule 在当前虚拟时刻排队任务
func (s *TestScheduler) Schedule(task func()) Disposable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(s.clock, 0, task)
}

// ScheduleWithDelay 在当前虚拟时刻之后delay处排队任务
func (s *TestScheduler) ScheduleWithDelay(task func(), delay time.Duration) Disposable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(s.clock+delay, 0, task)
}

// ScheduleRecurring 从当前虚拟时刻之后period处开始，每period排队一次任务
func (s *TestScheduler) ScheduleRecurring(task func(), period time.Duration) Disposable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(s.clock+period, period, task)
}

// enqueueLocked 按到期时间插入任务，同时刻按入队顺序稳定排序
func (s *TestScheduler) enqueueLocked(due time.Duration, period time.Duration, task func()) Disposable {
	if s.disposed {
		return NewDisposable(func() {})
	}

	s.sequence++
	entry := &scheduledTask{due: due, sequence: s.sequence, task: task, period: period}
	s.queue = append(s.queue, entry)
	sort.SliceStable(s.queue, func(i, j int) bool {
		if s.queue[i].due != s.queue[j].due {
			return s.queue[i].due < s.queue[j].due
		}
		return s.queue[i].sequence < s.queue[j].sequence
	})

	return NewDisposable(func() {
		atomic.StoreInt32(&entry.cancelled, 1)
	})
}

// AdvanceTimeBy 将虚拟时钟推进duration，执行期间到期的全部任务
func (s *TestScheduler) AdvanceTimeBy(duration time.Duration) {
	s.mu.Lock()
	target := s.clock + duration
	s.mu.Unlock()
	s.AdvanceTimeTo(target)
}

// AdvanceTimeTo 将虚拟时钟推进到指定时刻
func (s *TestScheduler) AdvanceTimeTo(target time.Duration) {
	s.mu.Lock()
	for {
		if s.disposed || len(s.queue) == 0 || s.queue[0].due > target {
			break
		}
		entry := s.queue[0]
		s.queue = s.queue[1:]
		if s.clock < entry.due {
			s.clock = entry.due
		}
		if atomic.LoadInt32(&entry.cancelled) == 1 {
			continue
		}

		// 解锁执行，任务可以排入新任务
		s.mu.Unlock()
		entry.task()
		s.mu.Lock()

		if entry.period > 0 && atomic.LoadInt32(&entry.cancelled) == 0 && !s.disposed {
			entry.due += entry.period
			s.queue = append(s.queue, entry)
			sort.SliceStable(s.queue, func(i, j int) bool {
				if s.queue[i].due != s.queue[j].due {
					return s.queue[i].due < s.queue[j].due
				}
				return s.queue[i].sequence < s.queue[j].sequence
			})
		}
	}
	if !s.disposed && s.clock < target {
		s.clock = target
	}
	s.mu.Unlock()
}

// Now 当前虚拟时刻
func (s *TestScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// PendingTasks 尚未到期的任务数量
func (s *TestScheduler) PendingTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, entry := range s.queue {
		if atomic.LoadInt32(&entry.cancelled) == 0 {
			count++
		}
	}
	return count
}

// Dispose 丢弃全部未执行任务
func (s *TestScheduler) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.queue = nil
}

// ============================================================================
// 周期任务辅助
// ============================================================================

// recurringTicker 用ticker驱动周期任务，Dispose停止
func recurringTicker(task func(), period time.Duration) Disposable {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				task()
			}
		}
	}()

	return NewDisposable(cancel)
}
