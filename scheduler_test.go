// Scheduler tests for rxcore
package rxcore

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// 测试调度器
// ============================================================================

func TestTestSchedulerExecutesOnAdvance(t *testing.T) {
	scheduler := NewTestScheduler()

	var order []string
	scheduler.Schedule(func() { order = append(order, "now") })
	scheduler.ScheduleWithDelay(func() { order = append(order, "late") }, 20*time.Millisecond)
	scheduler.ScheduleWithDelay(func() { order = append(order, "early") }, 10*time.Millisecond)

	assert.Empty(t, order)
	assert.Equal(t, 3, scheduler.PendingTasks())

	scheduler.AdvanceTimeBy(15 * time.Millisecond)
	assert.Equal(t, []string{"now", "early"}, order)
	assert.Equal(t, 1, scheduler.PendingTasks())

	scheduler.AdvanceTimeBy(5 * time.Millisecond)
	assert.Equal(t, []string{"now", "early", "late"}, order)
	assert.Equal(t, 20*time.Millisecond, scheduler.Now())
}

func TestTestSchedulerStableOrderAtSameInstant(t *testing.T) {
	scheduler := NewTestScheduler()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		scheduler.ScheduleWithDelay(func() { order = append(order, i) }, 10*time.Millisecond)
	}

	scheduler.AdvanceTimeBy(10 * time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestTestSchedulerRecurring(t *testing.T) {
	scheduler := NewTestScheduler()

	var fired int
	handle := scheduler.ScheduleRecurring(func() { fired++ }, 10*time.Millisecond)

	scheduler.AdvanceTimeBy(35 * time.Millisecond)
	assert.Equal(t, 3, fired)

	handle.Dispose()
	scheduler.AdvanceTimeBy(100 * time.Millisecond)
	assert.Equal(t, 3, fired)
}

func TestTestSchedulerCancelledTaskSkipped(t *testing.T) {
	scheduler := NewTestScheduler()

	var fired bool
	handle := scheduler.ScheduleWithDelay(func() { fired = true }, 10*time.Millisecond)
	handle.Dispose()

	assert.Zero(t, scheduler.PendingTasks())
	scheduler.AdvanceTimeBy(time.Second)
	assert.False(t, fired)
}

func TestTestSchedulerTaskSchedulesTask(t *testing.T) {
	scheduler := NewTestScheduler()

	var order []string
	scheduler.ScheduleWithDelay(func() {
		order = append(order, "outer")
		scheduler.ScheduleWithDelay(func() {
			order = append(order, "inner")
		}, 10*time.Millisecond)
	}, 10*time.Millisecond)

	// 一次推进覆盖两个到期时刻：嵌套任务在同一轮内按时执行
	scheduler.AdvanceTimeBy(30 * time.Millisecond)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestTestSchedulerAdvanceTimeTo(t *testing.T) {
	scheduler := NewTestScheduler()

	var fired bool
	scheduler.ScheduleWithDelay(func() { fired = true }, 50*time.Millisecond)

	scheduler.AdvanceTimeTo(40 * time.Millisecond)
	assert.False(t, fired)
	assert.Equal(t, 40*time.Millisecond, scheduler.Now())

	scheduler.AdvanceTimeTo(50 * time.Millisecond)
	assert.True(t, fired)
}

// ============================================================================
// 实时调度器
// ============================================================================

func TestImmediateSchedulerRunsInline(t *testing.T) {
	scheduler := NewImmediateScheduler()

	var ran bool
	scheduler.Schedule(func() { ran = true })
	assert.True(t, ran)

	ran = false
	scheduler.ScheduleWithDelay(func() { ran = true }, 0)
	assert.True(t, ran)
}

func TestTrampolineSchedulerSerializesNestedWork(t *testing.T) {
	scheduler := NewTrampolineScheduler()

	var order []string
	scheduler.Schedule(func() {
		order = append(order, "outer-start")
		// 嵌套任务排队，不嵌套执行
		scheduler.Schedule(func() { order = append(order, "inner") })
		order = append(order, "outer-end")
	})

	assert.Equal(t, []string{"outer-start", "outer-end", "inner"}, order)
}

func TestGoroutineSchedulerRunsAsync(t *testing.T) {
	scheduler := NewGoroutineScheduler()

	done := make(chan struct{})
	scheduler.Schedule(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("任务未执行")
	}
}

func TestPoolSchedulerExecutesAllTasks(t *testing.T) {
	scheduler := NewPoolScheduler(4)

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		scheduler.Schedule(func() {
			atomic.AddInt64(&counter, 1)
			wg.Done()
		})
	}
	wg.Wait()
	assert.EqualValues(t, 32, counter)

	if disposable, ok := scheduler.(Disposable); ok {
		disposable.Dispose()
		assert.True(t, disposable.IsDisposed())
	}
}

// ============================================================================
// 时间源
// ============================================================================

func TestIntervalEmitsOnVirtualTicks(t *testing.T) {
	scheduler := NewTestScheduler()
	rs := newRecordingSubscriber(RequestUnbounded)
	Interval(10*time.Millisecond, scheduler).Subscribe(rs)

	scheduler.AdvanceTimeBy(35 * time.Millisecond)

	values, errs, _ := rs.snapshot()
	assert.Equal(t, []interface{}{int64(0), int64(1), int64(2)}, values)
	assert.Empty(t, errs)
}

func TestIntervalStopsAfterCancel(t *testing.T) {
	scheduler := NewTestScheduler()
	rs := newRecordingSubscriber(RequestUnbounded)
	Interval(10*time.Millisecond, scheduler).Subscribe(rs)

	scheduler.AdvanceTimeBy(10 * time.Millisecond)
	rs.sub.Cancel()
	scheduler.AdvanceTimeBy(100 * time.Millisecond)

	values, _, _ := rs.snapshot()
	assert.Equal(t, []interface{}{int64(0)}, values)
}

// 周期源触发时若无需求，视为需求违规
func TestIntervalWithoutDemandViolates(t *testing.T) {
	scheduler := NewTestScheduler()
	rs := newRecordingSubscriber(1)
	Interval(10*time.Millisecond, scheduler).Subscribe(rs)

	scheduler.AdvanceTimeBy(20 * time.Millisecond)

	values, errs, _ := rs.snapshot()
	assert.Equal(t, []interface{}{int64(0)}, values)
	require.Len(t, errs, 1)
	assert.True(t, IsDemandViolation(errs[0]))
}

func TestTimerEmitsZeroAfterDelay(t *testing.T) {
	scheduler := NewTestScheduler()
	rs := newRecordingSubscriber(RequestUnbounded)
	Timer(50*time.Millisecond, scheduler).Subscribe(rs)

	scheduler.AdvanceTimeBy(49 * time.Millisecond)
	values, _, completed := rs.snapshot()
	assert.Empty(t, values)
	assert.Zero(t, completed)

	scheduler.AdvanceTimeBy(1 * time.Millisecond)
	values, _, completed = rs.snapshot()
	assert.Equal(t, []interface{}{int64(0)}, values)
	assert.Equal(t, 1, completed)
}

func TestTimerWithoutDemandViolates(t *testing.T) {
	scheduler := NewTestScheduler()
	rs := newRecordingSubscriber(0)
	Timer(10*time.Millisecond, scheduler).Subscribe(rs)

	scheduler.AdvanceTimeBy(10 * time.Millisecond)

	_, errs, _ := rs.snapshot()
	require.Len(t, errs, 1)
	assert.True(t, IsDemandViolation(errs[0]))
}

// ============================================================================
// Delay / Timeout
// ============================================================================

func TestDelayShiftsValuesAndCompletion(t *testing.T) {
	scheduler := NewTestScheduler()
	rs := newRecordingSubscriber(RequestUnbounded)
	Just(1, 2).Delay(30*time.Millisecond, scheduler).Subscribe(rs)

	values, _, completed := rs.snapshot()
	assert.Empty(t, values)
	assert.Zero(t, completed)

	scheduler.AdvanceTimeBy(30 * time.Millisecond)
	values, _, completed = rs.snapshot()
	assert.Equal(t, []interface{}{1, 2}, values)
	assert.Equal(t, 1, completed)
}

func TestDelayPropagatesErrorImmediately(t *testing.T) {
	scheduler := NewTestScheduler()
	rs := newRecordingSubscriber(RequestUnbounded)
	Error(assert.AnError).Delay(time.Hour, scheduler).Subscribe(rs)

	_, errs, _ := rs.snapshot()
	require.Len(t, errs, 1)
	assert.Equal(t, assert.AnError, errs[0])
}

func TestDelayCancelDropsPendingDeliveries(t *testing.T) {
	scheduler := NewTestScheduler()
	rs := newRecordingSubscriber(RequestUnbounded)
	Just(1, 2, 3).Delay(30*time.Millisecond, scheduler).Subscribe(rs)

	rs.sub.Cancel()
	scheduler.AdvanceTimeBy(time.Hour)

	values, _, completed := rs.snapshot()
	assert.Empty(t, values)
	assert.Zero(t, completed)
}

// 并发调度器上等延迟任务的完成次序不定，投递必须仍保持源内顺序
func TestDelayPreservesOrderOnConcurrentScheduler(t *testing.T) {
	values, err := Range(0, 200).
		Delay(time.Millisecond, NewGoroutineScheduler()).
		BlockingSlice()

	require.NoError(t, err)
	require.Len(t, values, 200)
	for i, value := range values {
		assert.Equal(t, i, value)
	}
}

func TestTimeoutFiresWhenSourceIsSilent(t *testing.T) {
	scheduler := NewTestScheduler()
	rs := newRecordingSubscriber(RequestUnbounded)
	Never().Timeout(50*time.Millisecond, scheduler).Subscribe(rs)

	scheduler.AdvanceTimeBy(49 * time.Millisecond)
	_, errs, _ := rs.snapshot()
	assert.Empty(t, errs)

	scheduler.AdvanceTimeBy(1 * time.Millisecond)
	_, errs, _ = rs.snapshot()
	require.Len(t, errs, 1)
	assert.True(t, IsTimeout(errs[0]))
}

func TestTimeoutRearmsOnEachValue(t *testing.T) {
	scheduler := NewTestScheduler()
	processor := NewPublishProcessor()
	rs := newRecordingSubscriber(RequestUnbounded)
	processor.Flowable().Timeout(50*time.Millisecond, scheduler).Subscribe(rs)

	scheduler.AdvanceTimeBy(40 * time.Millisecond)
	processor.OnNext("ping")
	scheduler.AdvanceTimeBy(40 * time.Millisecond)
	processor.OnNext("pong")
	scheduler.AdvanceTimeBy(40 * time.Millisecond)

	values, errs, _ := rs.snapshot()
	assert.Equal(t, []interface{}{"ping", "pong"}, values)
	assert.Empty(t, errs)

	// 无后续事件，超时触发并切断上游
	scheduler.AdvanceTimeBy(10 * time.Millisecond)
	_, errs, _ = rs.snapshot()
	require.Len(t, errs, 1)
	assert.True(t, IsTimeout(errs[0]))
	assert.Zero(t, processor.SubscriberCount())
}

func TestTimeoutDisarmedByCompletion(t *testing.T) {
	scheduler := NewTestScheduler()
	rs := newRecordingSubscriber(RequestUnbounded)
	Just(1).Timeout(50*time.Millisecond, scheduler).Subscribe(rs)

	scheduler.AdvanceTimeBy(time.Hour)

	values, errs, completed := rs.snapshot()
	assert.Equal(t, []interface{}{1}, values)
	assert.Empty(t, errs)
	assert.Equal(t, 1, completed)
}

// ============================================================================
// SubscribeOn / ObserveOn
// ============================================================================

func TestSubscribeOnMovesSubscription(t *testing.T) {
	scheduler := NewTestScheduler()
	rs := newRecordingSubscriber(RequestUnbounded)
	Just(1, 2).SubscribeOn(scheduler).Subscribe(rs)

	// 订阅动作尚未被调度执行
	values, _, _ := rs.snapshot()
	assert.Empty(t, values)

	scheduler.AdvanceTimeBy(0)
	values, _, completed := rs.snapshot()
	assert.Equal(t, []interface{}{1, 2}, values)
	assert.Equal(t, 1, completed)
}

func TestObserveOnDeliversOnScheduler(t *testing.T) {
	values, err := Just(1, 2, 3).
		ObserveOn(NewGoroutineScheduler()).
		BlockingSlice()

	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2, 3}, values)
}
