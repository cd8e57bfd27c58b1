// Side effect operators for rxcore
// 副作用操作符：DoOnNext/DoOnError/DoOnComplete/DoFinally
package rxcore

import "sync"

// DoOnNext 在每个数据项投递给下游之前执行动作
func (f *flowableImpl) DoOnNext(action OnNext) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&sideEffectSubscriber{downstream: subscriber, onNext: action})
	})
}

// DoOnError 在错误投递给下游之前执行动作
func (f *flowableImpl) DoOnError(action OnError) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&sideEffectSubscriber{downstream: subscriber, onError: action})
	})
}

// DoOnComplete 在完成投递给下游之前执行动作
func (f *flowableImpl) DoOnComplete(action OnComplete) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&sideEffectSubscriber{downstream: subscriber, onComplete: action})
	})
}

// DoFinally 终止或取消后恰好执行一次动作
func (f *flowableImpl) DoFinally(action func()) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&finallySubscriber{downstream: subscriber, action: action})
	})
}

// sideEffectSubscriber 副作用订阅者；动作在事件转发之前执行
type sideEffectSubscriber struct {
	downstream Subscriber
	onNext     OnNext
	onError    OnError
	onComplete OnComplete
}

func (se *sideEffectSubscriber) OnSubscribe(subscription Subscription) {
	se.downstream.OnSubscribe(subscription)
}

func (se *sideEffectSubscriber) OnNext(value interface{}) {
	if se.onNext != nil {
		se.onNext(value)
	}
	se.downstream.OnNext(value)
}

func (se *sideEffectSubscriber) OnError(err error) {
	if se.onError != nil {
		se.onError(err)
	}
	se.downstream.OnError(err)
}

func (se *sideEffectSubscriber) OnComplete() {
	if se.onComplete != nil {
		se.onComplete()
	}
	se.downstream.OnComplete()
}

// finallySubscriber 终结动作订阅者；终止事件转发之后、
// 或下游取消之时执行动作，两条路径之间由Once保证恰好一次
type finallySubscriber struct {
	downstream Subscriber
	action     func()
	once       sync.Once
}

func (fs *finallySubscriber) run() {
	fs.once.Do(fs.action)
}

func (fs *finallySubscriber) OnSubscribe(subscription Subscription) {
	fs.downstream.OnSubscribe(NewSubscription(subscription.Request, func() {
		subscription.Cancel()
		fs.run()
	}))
}

func (fs *finallySubscriber) OnNext(value interface{}) {
	fs.downstream.OnNext(value)
}

func (fs *finallySubscriber) OnError(err error) {
	fs.downstream.OnError(err)
	fs.run()
}

func (fs *finallySubscriber) OnComplete() {
	fs.downstream.OnComplete()
	fs.run()
}
