// Core contract tests for rxcore
package rxcore

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSubscriber 测试用订阅者，记录收到的全部事件；
// initial为订阅时请求的需求量，0表示订阅时不请求
type recordingSubscriber struct {
	mu        sync.Mutex
	sub       Subscription
	values    []interface{}
	errs      []error
	completed int
	initial   int64
}

func newRecordingSubscriber(initial int64) *recordingSubscriber {
	return &recordingSubscriber{initial: initial}
}

func (rs *recordingSubscriber) OnSubscribe(subscription Subscription) {
	rs.mu.Lock()
	rs.sub = subscription
	rs.mu.Unlock()
	if rs.initial != 0 {
		subscription.Request(rs.initial)
	}
}

func (rs *recordingSubscriber) OnNext(value interface{}) {
	rs.mu.Lock()
	rs.values = append(rs.values, value)
	rs.mu.Unlock()
}

func (rs *recordingSubscriber) OnError(err error) {
	rs.mu.Lock()
	rs.errs = append(rs.errs, err)
	rs.mu.Unlock()
}

func (rs *recordingSubscriber) OnComplete() {
	rs.mu.Lock()
	rs.completed++
	rs.mu.Unlock()
}

func (rs *recordingSubscriber) snapshot() ([]interface{}, []error, int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	values := make([]interface{}, len(rs.values))
	copy(values, rs.values)
	errs := make([]error, len(rs.errs))
	copy(errs, rs.errs)
	return values, errs, rs.completed
}

func (rs *recordingSubscriber) request(n int64) {
	rs.mu.Lock()
	sub := rs.sub
	rs.mu.Unlock()
	sub.Request(n)
}

func TestJustEmitsAllValues(t *testing.T) {
	values, err := Just(1, 2, 3).BlockingSlice()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2, 3}, values)
}

func TestRangeEmitsSequence(t *testing.T) {
	values, err := Range(5, 3).BlockingSlice()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{5, 6, 7}, values)
}

func TestEmptyCompletesWithoutValues(t *testing.T) {
	rs := newRecordingSubscriber(RequestUnbounded)
	Empty().Subscribe(rs)

	values, errs, completed := rs.snapshot()
	assert.Empty(t, values)
	assert.Empty(t, errs)
	assert.Equal(t, 1, completed)
}

func TestErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	rs := newRecordingSubscriber(RequestUnbounded)
	Error(boom).Subscribe(rs)

	values, errs, completed := rs.snapshot()
	assert.Empty(t, values)
	require.Len(t, errs, 1)
	assert.Equal(t, boom, errs[0])
	assert.Zero(t, completed)
}

// 协议：request(1)恰好得到一个值，后续需求逐份兑现
func TestRequestGatesEmission(t *testing.T) {
	rs := newRecordingSubscriber(0)
	Range(0, 10).Subscribe(rs)

	values, _, _ := rs.snapshot()
	assert.Empty(t, values)

	rs.request(1)
	values, _, _ = rs.snapshot()
	assert.Equal(t, []interface{}{0}, values)

	rs.request(2)
	values, _, completed := rs.snapshot()
	assert.Equal(t, []interface{}{0, 1, 2}, values)
	assert.Zero(t, completed)

	rs.request(RequestUnbounded)
	values, _, completed = rs.snapshot()
	assert.Len(t, values, 10)
	assert.Equal(t, 1, completed)
}

// 协议：终止事件恰好一次，之后的事件静默丢弃
func TestTerminalDeliveredOnce(t *testing.T) {
	misbehaving := NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(emptySubscription{})
		subscriber.OnComplete()
		subscriber.OnError(errors.New("late"))
		subscriber.OnNext("late")
		subscriber.OnComplete()
	})

	rs := newRecordingSubscriber(RequestUnbounded)
	misbehaving.Subscribe(rs)

	values, errs, completed := rs.snapshot()
	assert.Empty(t, values)
	assert.Empty(t, errs)
	assert.Equal(t, 1, completed)
}

// 协议：取消幂等，清理动作只执行一次
func TestCancelIdempotent(t *testing.T) {
	var cancels int32
	source := NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(NewSubscription(nil, func() {
			cancels++
		}))
	})

	rs := newRecordingSubscriber(0)
	source.Subscribe(rs)

	rs.sub.Cancel()
	rs.sub.Cancel()
	rs.sub.Cancel()
	assert.EqualValues(t, 1, cancels)
	assert.True(t, rs.sub.IsCancelled())
}

func TestDisposableIdempotent(t *testing.T) {
	count := 0
	d := NewDisposable(func() { count++ })

	d.Dispose()
	d.Dispose()
	assert.Equal(t, 1, count)
	assert.True(t, d.IsDisposed())
}

func TestCompositeDisposableCascades(t *testing.T) {
	first, second := 0, 0
	cd := NewCompositeDisposable()
	cd.Add(NewDisposable(func() { first++ }))
	cd.Add(NewDisposable(func() { second++ }))

	cd.Dispose()
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)

	// 释放后纳入的资源立即释放
	third := 0
	cd.Add(NewDisposable(func() { third++ }))
	assert.Equal(t, 1, third)
}

func TestSourcePanicBecomesSourceError(t *testing.T) {
	source := NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(emptySubscription{})
		panic("producer exploded")
	})

	rs := newRecordingSubscriber(RequestUnbounded)
	source.Subscribe(rs)

	_, errs, _ := rs.snapshot()
	require.Len(t, errs, 1)
	var streamErr *StreamError
	require.ErrorAs(t, errs[0], &streamErr)
	assert.Equal(t, KindSourceError, streamErr.Kind)
}

func TestUnhandledErrorPanics(t *testing.T) {
	assert.Panics(t, func() {
		Error(errors.New("nobody listens")).SubscribeWithCallbacks(nil, nil, nil)
	})
}

func TestDeferCreatesPerSubscription(t *testing.T) {
	calls := 0
	source := Defer(func() Flowable {
		calls++
		return Just(calls)
	})

	first, err := source.BlockingSlice()
	require.NoError(t, err)
	second, err := source.BlockingSlice()
	require.NoError(t, err)

	assert.Equal(t, []interface{}{1}, first)
	assert.Equal(t, []interface{}{2}, second)
}

func TestMapTransformsValues(t *testing.T) {
	values, err := Just(1, 2, 3).Map(func(v interface{}) (interface{}, error) {
		return v.(int) * 10, nil
	}).BlockingSlice()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{10, 20, 30}, values)
}

func TestMapErrorTerminates(t *testing.T) {
	boom := errors.New("bad value")
	_, err := Just(1, 2, 3).Map(func(v interface{}) (interface{}, error) {
		if v.(int) == 2 {
			return nil, boom
		}
		return v, nil
	}).BlockingSlice()
	assert.Equal(t, boom, err)
}

func TestFilterReplenishesDemand(t *testing.T) {
	// 过滤掉的项不消耗下游需求：request(2)仍应得到两个偶数
	rs := newRecordingSubscriber(2)
	Range(0, 10).Filter(func(v interface{}) bool {
		return v.(int)%2 == 0
	}).Subscribe(rs)

	values, _, _ := rs.snapshot()
	assert.Equal(t, []interface{}{0, 2}, values)
}

func TestTakeCancelsUpstream(t *testing.T) {
	var cancelled bool
	source := NewFlowable(func(subscriber Subscriber) {
		producer := &indexedProducer{
			subscriber: subscriber,
			length:     100,
			valueAt:    func(i int64) interface{} { return int(i) },
		}
		subscriber.OnSubscribe(producer.subscription())
	})

	values, err := source.DoFinally(func() { cancelled = true }).Take(3).BlockingSlice()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{0, 1, 2}, values)
	assert.True(t, cancelled)
}

func TestSkip(t *testing.T) {
	values, err := Range(0, 5).Skip(3).BlockingSlice()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{3, 4}, values)
}

func TestDistinct(t *testing.T) {
	values, err := Just(1, 2, 1, 3, 2, 4).Distinct().BlockingSlice()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2, 3, 4}, values)
}

func TestScanEmitsIntermediateSums(t *testing.T) {
	values, err := Just(1, 2, 3, 4).Scan(0, func(acc, v interface{}) interface{} {
		return acc.(int) + v.(int)
	}).BlockingSlice()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 3, 6, 10}, values)
}

func TestReduce(t *testing.T) {
	values, err := Just(1, 2, 3, 4).Reduce(0, func(acc, v interface{}) interface{} {
		return acc.(int) + v.(int)
	}).BlockingSlice()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{10}, values)
}

func TestCount(t *testing.T) {
	values, err := Range(0, 7).Count().BlockingSlice()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(7)}, values)
}

func TestIgnoreElements(t *testing.T) {
	rs := newRecordingSubscriber(RequestUnbounded)
	Range(0, 5).IgnoreElements().Subscribe(rs)

	values, errs, completed := rs.snapshot()
	assert.Empty(t, values)
	assert.Empty(t, errs)
	assert.Equal(t, 1, completed)
}

func TestDefaultIfEmpty(t *testing.T) {
	values, err := Empty().DefaultIfEmpty("fallback").BlockingSlice()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"fallback"}, values)

	values, err = Just(1).DefaultIfEmpty("fallback").BlockingSlice()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1}, values)
}

func TestDoOnNextOrder(t *testing.T) {
	var seen []interface{}
	values, err := Just(1, 2).DoOnNext(func(v interface{}) {
		seen = append(seen, v)
	}).BlockingSlice()
	require.NoError(t, err)
	assert.Equal(t, values, seen)
}

func TestDoFinallyRunsOnceOnTerminal(t *testing.T) {
	count := 0
	_, err := Just(1).DoFinally(func() { count++ }).BlockingSlice()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count = 0
	boom := errors.New("boom")
	_, err = Error(boom).DoFinally(func() { count++ }).BlockingSlice()
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, count)
}

func TestDoFinallyRunsOnCancel(t *testing.T) {
	count := 0
	rs := newRecordingSubscriber(0)
	Never().DoFinally(func() { count++ }).Subscribe(rs)

	rs.sub.Cancel()
	rs.sub.Cancel()
	assert.Equal(t, 1, count)
}

func TestBlockingFirst(t *testing.T) {
	value, err := Just("a", "b", "c").BlockingFirst()
	require.NoError(t, err)
	assert.Equal(t, "a", value)
}

func TestBlockingFirstError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Error(boom).BlockingFirst()
	assert.Equal(t, boom, err)
}

func TestToChannel(t *testing.T) {
	values, errs := ToChannel(Range(0, 4), 2)

	var collected []interface{}
	for v := range values {
		collected = append(collected, v)
	}
	assert.Equal(t, []interface{}{0, 1, 2, 3}, collected)
	assert.NoError(t, <-errs)
}

func TestFromChannel(t *testing.T) {
	ch := make(chan interface{}, 3)
	ch <- "x"
	ch <- "y"
	close(ch)

	values, err := FromChannel(ch).BlockingSlice()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"x", "y"}, values)
}
