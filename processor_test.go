// Processor tests for rxcore
package rxcore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishProcessorBroadcasts(t *testing.T) {
	processor := NewPublishProcessor()
	first := newRecordingSubscriber(RequestUnbounded)
	second := newRecordingSubscriber(RequestUnbounded)

	processor.Flowable().Subscribe(first)
	processor.Flowable().Subscribe(second)
	assert.Equal(t, 2, processor.SubscriberCount())

	processor.OnNext("a")
	processor.OnNext("b")
	processor.OnComplete()

	for _, rs := range []*recordingSubscriber{first, second} {
		values, errs, completed := rs.snapshot()
		assert.Equal(t, []interface{}{"a", "b"}, values)
		assert.Empty(t, errs)
		assert.Equal(t, 1, completed)
	}
	assert.False(t, processor.HasSubscribers())
}

func TestPublishProcessorMissesEarlierValues(t *testing.T) {
	processor := NewPublishProcessor()
	processor.OnNext("early")

	rs := newRecordingSubscriber(RequestUnbounded)
	processor.Flowable().Subscribe(rs)
	processor.OnNext("late")
	processor.OnComplete()

	values, _, _ := rs.snapshot()
	assert.Equal(t, []interface{}{"late"}, values)
}

func TestPublishProcessorLateSubscriberGetsTerminal(t *testing.T) {
	boom := errors.New("boom")
	processor := NewPublishProcessor()
	processor.OnError(boom)

	rs := newRecordingSubscriber(RequestUnbounded)
	processor.Flowable().Subscribe(rs)

	_, errs, _ := rs.snapshot()
	require.Len(t, errs, 1)
	assert.Equal(t, boom, errs[0])
}

// 无需求的下游先入缓冲；终止事件在缓冲排空后送达
func TestPublishProcessorBuffersUntilRequested(t *testing.T) {
	processor := NewPublishProcessor()
	rs := newRecordingSubscriber(0)
	processor.Flowable().Subscribe(rs)

	processor.OnNext(1)
	processor.OnNext(2)
	processor.OnComplete()

	values, _, completed := rs.snapshot()
	assert.Empty(t, values)
	assert.Zero(t, completed)

	rs.request(1)
	values, _, completed = rs.snapshot()
	assert.Equal(t, []interface{}{1}, values)
	assert.Zero(t, completed)

	rs.request(1)
	values, _, completed = rs.snapshot()
	assert.Equal(t, []interface{}{1, 2}, values)
	assert.Equal(t, 1, completed)
}

// 缓冲超限的下游单独以BufferOverflow出错，不影响其余下游
func TestPublishProcessorSlowSubscriberOverflows(t *testing.T) {
	processor := NewPublishProcessor(WithBufferCapacity(2))
	slow := newRecordingSubscriber(0)
	fast := newRecordingSubscriber(RequestUnbounded)
	processor.Flowable().Subscribe(slow)
	processor.Flowable().Subscribe(fast)

	for i := 0; i < 3; i++ {
		processor.OnNext(i)
	}

	_, slowErrs, _ := slow.snapshot()
	require.Len(t, slowErrs, 1)
	assert.True(t, IsBufferOverflow(slowErrs[0]))

	fastValues, fastErrs, _ := fast.snapshot()
	assert.Equal(t, []interface{}{0, 1, 2}, fastValues)
	assert.Empty(t, fastErrs)
	assert.Equal(t, 1, processor.SubscriberCount())
}

func TestPublishProcessorAsBridge(t *testing.T) {
	processor := NewPublishProcessor()
	rs := newRecordingSubscriber(RequestUnbounded)
	processor.Flowable().Subscribe(rs)

	Just(1, 2, 3).Subscribe(processor)

	values, _, completed := rs.snapshot()
	assert.Equal(t, []interface{}{1, 2, 3}, values)
	assert.Equal(t, 1, completed)
}

func TestPublishProcessorDispose(t *testing.T) {
	var cancelled bool
	source := Never().DoFinally(func() { cancelled = true })

	processor := NewPublishProcessor()
	source.Subscribe(processor)
	processor.Dispose()

	assert.True(t, processor.IsDisposed())
	assert.True(t, cancelled)
	assert.False(t, processor.HasSubscribers())
}

func TestReplayProcessorReplaysHistory(t *testing.T) {
	processor := NewReplayProcessor(3)
	processor.OnNext(1)
	processor.OnNext(2)

	rs := newRecordingSubscriber(RequestUnbounded)
	processor.Flowable().Subscribe(rs)

	values, _, _ := rs.snapshot()
	assert.Equal(t, []interface{}{1, 2}, values)

	processor.OnNext(3)
	values, _, _ = rs.snapshot()
	assert.Equal(t, []interface{}{1, 2, 3}, values)
}

func TestReplayProcessorBoundsHistory(t *testing.T) {
	processor := NewReplayProcessor(2)
	for i := 0; i < 5; i++ {
		processor.OnNext(i)
	}
	assert.Equal(t, []interface{}{3, 4}, processor.History())
}

func TestReplayProcessorReplaysAfterTerminal(t *testing.T) {
	processor := NewReplayProcessor(5)
	processor.OnNext("a")
	processor.OnNext("b")
	processor.OnComplete()

	rs := newRecordingSubscriber(RequestUnbounded)
	processor.Flowable().Subscribe(rs)

	values, errs, completed := rs.snapshot()
	assert.Equal(t, []interface{}{"a", "b"}, values)
	assert.Empty(t, errs)
	assert.Equal(t, 1, completed)
}

func TestReplayProcessorHonorsDemandDuringReplay(t *testing.T) {
	processor := NewReplayProcessor(5)
	processor.OnNext(1)
	processor.OnNext(2)
	processor.OnNext(3)

	rs := newRecordingSubscriber(2)
	processor.Flowable().Subscribe(rs)

	values, _, _ := rs.snapshot()
	assert.Equal(t, []interface{}{1, 2}, values)

	rs.request(RequestUnbounded)
	values, _, _ = rs.snapshot()
	assert.Equal(t, []interface{}{1, 2, 3}, values)
}
