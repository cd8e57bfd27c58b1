// Emitter tests for rxcore
package rxcore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEmitsWithDemand(t *testing.T) {
	values, err := Create(func(emitter Emitter) {
		emitter.Next(1)
		emitter.Next(2)
		emitter.Complete()
	}).BlockingSlice()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2}, values)
}

// 严格策略：无需求时发射即协议违规
func TestCreateStrictPolicyViolation(t *testing.T) {
	rs := newRecordingSubscriber(0)
	Create(func(emitter Emitter) {
		emitter.Next("uninvited")
	}).Subscribe(rs)

	values, errs, _ := rs.snapshot()
	assert.Empty(t, values)
	require.Len(t, errs, 1)
	assert.True(t, IsDemandViolation(errs[0]))
}

func TestCreateBufferPolicyHoldsValues(t *testing.T) {
	rs := newRecordingSubscriber(0)
	Create(func(emitter Emitter) {
		emitter.Next(1)
		emitter.Next(2)
		emitter.Complete()
	}, WithOverflowPolicy(OverflowBuffer)).Subscribe(rs)

	values, _, completed := rs.snapshot()
	assert.Empty(t, values)
	assert.Zero(t, completed)

	rs.request(RequestUnbounded)
	values, _, completed = rs.snapshot()
	assert.Equal(t, []interface{}{1, 2}, values)
	assert.Equal(t, 1, completed)
}

func TestCreateBufferPolicyOverflow(t *testing.T) {
	rs := newRecordingSubscriber(0)
	Create(func(emitter Emitter) {
		for i := 0; i < 4; i++ {
			emitter.Next(i)
		}
	}, WithOverflowPolicy(OverflowBuffer), WithBufferCapacity(3)).Subscribe(rs)

	_, errs, _ := rs.snapshot()
	require.Len(t, errs, 1)
	assert.True(t, IsBufferOverflow(errs[0]))
}

func TestCreateDropPolicy(t *testing.T) {
	rs := newRecordingSubscriber(2)
	Create(func(emitter Emitter) {
		for i := 0; i < 5; i++ {
			emitter.Next(i)
		}
		emitter.Complete()
	}, WithOverflowPolicy(OverflowDrop)).Subscribe(rs)

	values, _, completed := rs.snapshot()
	assert.Equal(t, []interface{}{0, 1}, values)
	assert.Equal(t, 1, completed)
}

func TestCreateLatestPolicy(t *testing.T) {
	rs := newRecordingSubscriber(1)
	Create(func(emitter Emitter) {
		for i := 0; i < 5; i++ {
			emitter.Next(i)
		}
		emitter.Complete()
	}, WithOverflowPolicy(OverflowLatest)).Subscribe(rs)

	values, _, completed := rs.snapshot()
	assert.Equal(t, []interface{}{0}, values)
	assert.Zero(t, completed)

	// 请求到达时只补最新的一个
	rs.request(1)
	values, _, completed = rs.snapshot()
	assert.Equal(t, []interface{}{0, 4}, values)
	assert.Equal(t, 1, completed)
}

func TestEmitterObservesCancellation(t *testing.T) {
	var witnessed bool
	rs := newRecordingSubscriber(RequestUnbounded)

	var captured Emitter
	Create(func(emitter Emitter) {
		captured = emitter
	}).Subscribe(rs)

	rs.sub.Cancel()
	witnessed = captured.IsCancelled()
	assert.True(t, witnessed)

	captured.Next("after cancel")
	values, _, _ := rs.snapshot()
	assert.Empty(t, values)
}

func TestEmitterRequestedExposesDemand(t *testing.T) {
	var captured Emitter
	rs := newRecordingSubscriber(5)
	Create(func(emitter Emitter) {
		captured = emitter
	}).Subscribe(rs)

	assert.EqualValues(t, 5, captured.Requested())

	captured.Next("x")
	assert.EqualValues(t, 4, captured.Requested())
}

func TestEmitterTerminalAfterQueueDrained(t *testing.T) {
	boom := errors.New("deferred")
	rs := newRecordingSubscriber(0)
	Create(func(emitter Emitter) {
		emitter.Next(1)
		emitter.Error(boom)
	}, WithOverflowPolicy(OverflowBuffer)).Subscribe(rs)

	_, errs, _ := rs.snapshot()
	assert.Empty(t, errs)

	rs.request(1)
	values, errs, _ := rs.snapshot()
	assert.Equal(t, []interface{}{1}, values)
	require.Len(t, errs, 1)
	assert.Equal(t, boom, errs[0])
}

func TestOnBackpressureBuffer(t *testing.T) {
	rogue := NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(emptySubscription{})
		for i := 0; i < 3; i++ {
			subscriber.OnNext(i)
		}
		subscriber.OnComplete()
	})

	rs := newRecordingSubscriber(0)
	rogue.OnBackpressureBuffer(10).Subscribe(rs)

	values, _, completed := rs.snapshot()
	assert.Empty(t, values)
	assert.Zero(t, completed)

	rs.request(RequestUnbounded)
	values, _, completed = rs.snapshot()
	assert.Equal(t, []interface{}{0, 1, 2}, values)
	assert.Equal(t, 1, completed)
}

func TestOnBackpressureBufferOverflow(t *testing.T) {
	rogue := NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(emptySubscription{})
		for i := 0; i < 5; i++ {
			subscriber.OnNext(i)
		}
	})

	rs := newRecordingSubscriber(0)
	rogue.OnBackpressureBuffer(2).Subscribe(rs)

	_, errs, _ := rs.snapshot()
	require.Len(t, errs, 1)
	assert.True(t, IsBufferOverflow(errs[0]))
}

func TestOnBackpressureDrop(t *testing.T) {
	rogue := NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(emptySubscription{})
		for i := 0; i < 5; i++ {
			subscriber.OnNext(i)
		}
		subscriber.OnComplete()
	})

	rs := newRecordingSubscriber(2)
	rogue.OnBackpressureDrop().Subscribe(rs)

	values, _, completed := rs.snapshot()
	assert.Equal(t, []interface{}{0, 1}, values)
	assert.Equal(t, 1, completed)
}

func TestOnBackpressureLatest(t *testing.T) {
	rogue := NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(emptySubscription{})
		for i := 0; i < 5; i++ {
			subscriber.OnNext(i)
		}
		subscriber.OnComplete()
	})

	rs := newRecordingSubscriber(1)
	rogue.OnBackpressureLatest().Subscribe(rs)

	values, _, _ := rs.snapshot()
	assert.Equal(t, []interface{}{0}, values)

	rs.request(1)
	values, _, completed := rs.snapshot()
	assert.Equal(t, []interface{}{0, 4}, values)
	assert.Equal(t, 1, completed)
}
