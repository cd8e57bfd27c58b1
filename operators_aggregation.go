// Aggregation operators for rxcore
// 聚合操作符：Reduce/Count，消费整条流后发射单个结果
package rxcore

import "sync"

// ============================================================================
// Reduce 归约
// ============================================================================

// Reduce 归约全部数据项，完成时发射最终累计值后完成
func (f *flowableImpl) Reduce(seed interface{}, reducer Reducer) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&aggregateSubscriber{
			downstream:  subscriber,
			accumulator: seed,
			accumulate: func(accumulator, value interface{}) interface{} {
				return reducer(accumulator, value)
			},
		})
	})
}

// Count 完成时发射数据项总数（int64）后完成
func (f *flowableImpl) Count() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&aggregateSubscriber{
			downstream:  subscriber,
			accumulator: int64(0),
			accumulate: func(accumulator, value interface{}) interface{} {
				return accumulator.(int64) + 1
			},
		})
	})
}

// aggregateSubscriber 聚合订阅者：以无界需求排空上游，
// 单个结果在上游完成且下游有需求时投递；需求不足则挂起等待请求
type aggregateSubscriber struct {
	downstream Subscriber
	accumulate func(accumulator, value interface{}) interface{}

	mu          sync.Mutex
	accumulator interface{}
	requested   bool
	pending     bool
	done        bool
}

func (as *aggregateSubscriber) OnSubscribe(subscription Subscription) {
	as.downstream.OnSubscribe(NewSubscription(func(n int64) {
		as.mu.Lock()
		as.requested = true
		flush := as.pending && !as.done
		if flush {
			as.done = true
		}
		result := as.accumulator
		as.mu.Unlock()

		if flush {
			as.downstream.OnNext(result)
			as.downstream.OnComplete()
		}
	}, subscription.Cancel))

	subscription.Request(RequestUnbounded)
}

func (as *aggregateSubscriber) OnNext(value interface{}) {
	as.mu.Lock()
	as.accumulator = as.accumulate(as.accumulator, value)
	as.mu.Unlock()
}

func (as *aggregateSubscriber) OnError(err error) {
	as.downstream.OnError(err)
}

func (as *aggregateSubscriber) OnComplete() {
	as.mu.Lock()
	if as.done {
		as.mu.Unlock()
		return
	}
	if as.requested {
		as.done = true
		result := as.accumulator
		as.mu.Unlock()
		as.downstream.OnNext(result)
		as.downstream.OnComplete()
		return
	}
	as.pending = true
	as.mu.Unlock()
}
