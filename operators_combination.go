// Combination operators for rxcore
// 组合操作符：Concat/Amb/Merge/MergeDelayError/SwitchOnNext/Zip/CombineLatest，
// 统一采用变参签名，固定元数的便捷包装建立在其上
package rxcore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// ============================================================================
// Concat 顺序连接
// ============================================================================

// Concat 严格顺序连接多个源：仅在第i个源完成后订阅第i+1个；
// 任一源出错立即终止并跳过剩余源；下游需求转发给当前活跃源
func Concat(sources ...Flowable) Flowable {
	if len(sources) == 0 {
		return Empty()
	}
	if len(sources) == 1 {
		return sources[0]
	}

	return NewFlowable(func(subscriber Subscriber) {
		coordinator := &concatCoordinator{downstream: subscriber, sources: sources}
		subscriber.OnSubscribe(NewSubscription(coordinator.request, coordinator.cancel))
		coordinator.next()
	})
}

// concatCoordinator 顺序连接的协调者，以蹦床循环推进源切换，
// 同步完成的源链不会造成递归栈增长
type concatCoordinator struct {
	downstream Subscriber
	sources    []Flowable

	mu        sync.Mutex
	requested int64
	current   Subscription

	index     int
	wip       int32
	cancelled int32
}

func (c *concatCoordinator) request(n int64) {
	c.mu.Lock()
	c.requested = addRequested(c.requested, n)
	current := c.current
	c.mu.Unlock()

	if current != nil {
		current.Request(n)
	}
}

func (c *concatCoordinator) cancel() {
	atomic.StoreInt32(&c.cancelled, 1)
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if current != nil {
		current.Cancel()
	}
}

// produced 每向下游投递一项，扣减一份未满足需求
func (c *concatCoordinator) produced() {
	c.mu.Lock()
	if c.requested != RequestUnbounded && c.requested > 0 {
		c.requested--
	}
	c.mu.Unlock()
}

// next 推进到下一个源；wip蹦床吸收同步完成引发的重入
func (c *concatCoordinator) next() {
	if atomic.AddInt32(&c.wip, 1) != 1 {
		return
	}
	for {
		if atomic.LoadInt32(&c.cancelled) == 1 {
			return
		}
		if c.index >= len(c.sources) {
			c.downstream.OnComplete()
			return
		}
		source := c.sources[c.index]
		c.index++
		source.Subscribe(&concatSourceSubscriber{parent: c})

		if atomic.AddInt32(&c.wip, -1) == 0 {
			return
		}
	}
}

// concatSourceSubscriber 当前活跃源的订阅者
type concatSourceSubscriber struct {
	parent *concatCoordinator
}

func (cs *concatSourceSubscriber) OnSubscribe(subscription Subscription) {
	c := cs.parent
	c.mu.Lock()
	c.current = subscription
	remaining := c.requested
	c.mu.Unlock()

	if atomic.LoadInt32(&c.cancelled) == 1 {
		subscription.Cancel()
		return
	}
	if remaining > 0 {
		subscription.Request(remaining)
	}
}

func (cs *concatSourceSubscriber) OnNext(value interface{}) {
	cs.parent.produced()
	cs.parent.downstream.OnNext(value)
}

func (cs *concatSourceSubscriber) OnError(err error) {
	atomic.StoreInt32(&cs.parent.cancelled, 1)
	cs.parent.downstream.OnError(err)
}

func (cs *concatSourceSubscriber) OnComplete() {
	c := cs.parent
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	c.next()
}

// ============================================================================
// Amb 竞速
// ============================================================================

// Amb 并发订阅全部源，第一个发射任何事件（数据或终止）的源独占下游，
// 其余源立即被取消；败者的迟到事件被静默丢弃
func Amb(sources ...Flowable) Flowable {
	if len(sources) == 0 {
		return Empty()
	}
	if len(sources) == 1 {
		return sources[0]
	}

	return NewFlowable(func(subscriber Subscriber) {
		coordinator := &ambCoordinator{
			downstream: subscriber,
			subs:       make([]Subscription, len(sources)),
		}
		coordinator.winner.Store(-1)
		subscriber.OnSubscribe(NewSubscription(coordinator.request, coordinator.cancel))

		for i, source := range sources {
			if coordinator.decided() {
				break
			}
			source.Subscribe(&ambSourceSubscriber{parent: coordinator, index: int32(i)})
		}
	})
}

// ambCoordinator 竞速协调者
type ambCoordinator struct {
	downstream Subscriber
	winner     atomic.Int32

	mu        sync.Mutex
	subs      []Subscription
	requested int64
	cancelled bool
}

func (a *ambCoordinator) decided() bool {
	return a.winner.Load() >= 0
}

func (a *ambCoordinator) request(n int64) {
	a.mu.Lock()
	a.requested = addRequested(a.requested, n)
	winner := a.winner.Load()
	var targets []Subscription
	if winner >= 0 {
		if sub := a.subs[winner]; sub != nil {
			targets = []Subscription{sub}
		}
	} else {
		// 胜者未定，需求广播给全部候选源
		for _, sub := range a.subs {
			if sub != nil {
				targets = append(targets, sub)
			}
		}
	}
	a.mu.Unlock()

	for _, sub := range targets {
		sub.Request(n)
	}
}

func (a *ambCoordinator) cancel() {
	a.mu.Lock()
	a.cancelled = true
	subs := make([]Subscription, len(a.subs))
	copy(subs, a.subs)
	a.mu.Unlock()

	for _, sub := range subs {
		if sub != nil {
			sub.Cancel()
		}
	}
}

// win 尝试将index设为胜者，成功后取消其余全部订阅
func (a *ambCoordinator) win(index int32) bool {
	if a.winner.Load() == index {
		return true
	}
	if !a.winner.CompareAndSwap(-1, index) {
		return false
	}

	a.mu.Lock()
	losers := make([]Subscription, 0, len(a.subs))
	for i, sub := range a.subs {
		if int32(i) != index && sub != nil {
			losers = append(losers, sub)
		}
	}
	a.mu.Unlock()

	for _, sub := range losers {
		sub.Cancel()
	}
	return true
}

// ambSourceSubscriber 候选源订阅者
type ambSourceSubscriber struct {
	parent *ambCoordinator
	index  int32
}

func (as *ambSourceSubscriber) OnSubscribe(subscription Subscription) {
	a := as.parent
	a.mu.Lock()
	if a.cancelled || (a.decided() && a.winner.Load() != as.index) {
		a.mu.Unlock()
		subscription.Cancel()
		return
	}
	a.subs[as.index] = subscription
	remaining := a.requested
	a.mu.Unlock()

	if remaining > 0 {
		subscription.Request(remaining)
	}
}

func (as *ambSourceSubscriber) OnNext(value interface{}) {
	if as.parent.win(as.index) {
		as.parent.downstream.OnNext(value)
	}
}

func (as *ambSourceSubscriber) OnError(err error) {
	if as.parent.win(as.index) {
		as.parent.downstream.OnError(err)
	}
}

func (as *ambSourceSubscriber) OnComplete() {
	if as.parent.win(as.index) {
		as.parent.downstream.OnComplete()
	}
}

// ============================================================================
// Merge 交错合并
// ============================================================================

// Merge 并发订阅全部源并按到达顺序交错转发；所有源完成后才完成；
// 任一源出错立即以该错误终止并取消其余源（快速失败）
func Merge(sources ...Flowable) Flowable {
	return mergeSources(0, false, sources)
}

// MergeWithConcurrency 限制同时活跃的源数量，超出的源排队等待空位
func MergeWithConcurrency(maxConcurrent int, sources ...Flowable) Flowable {
	return mergeSources(maxConcurrent, false, sources)
}

// MergeDelayError 与Merge相同，但扣留错误直到全部源终止：
// 单个错误原样投递，多个错误按到达顺序包入AggregateError
func MergeDelayError(sources ...Flowable) Flowable {
	return mergeSources(0, true, sources)
}

func mergeSources(maxConcurrent int, delayError bool, sources []Flowable) Flowable {
	if len(sources) == 0 {
		return Empty()
	}
	if len(sources) == 1 {
		return sources[0]
	}

	window := maxConcurrent
	if window <= 0 || window > len(sources) {
		window = len(sources)
	}
	prefetch := DefaultConfig().BufferCapacity

	return NewFlowable(func(subscriber Subscriber) {
		coordinator := &mergeCoordinator{
			downstream: subscriber,
			delayError: delayError,
			prefetch:   prefetch,
			window:     window,
			remaining:  len(sources),
			active:     xsync.NewMapOf[int64, *mergeInnerSubscriber](),
		}
		for i, source := range sources {
			coordinator.pending = append(coordinator.pending, mergePendingSource{source: source, index: i})
		}

		subscriber.OnSubscribe(NewSubscription(coordinator.request, coordinator.cancel))
		coordinator.subscribeNext()
	})
}

// mergePendingSource 等待订阅的源
type mergePendingSource struct {
	source Flowable
	index  int
}

// mergeEntry 中央队列中的一项，记录来源以便补充其需求
type mergeEntry struct {
	value interface{}
	inner *mergeInnerSubscriber
}

// mergeCoordinator 合并协调者。每个内部源预取prefetch份需求，
// 到达的数据进入中央队列，按下游需求排放；每排放一项向其来源补一份需求，
// 队列总量因此有界于 活跃源数 × prefetch。
type mergeCoordinator struct {
	downstream Subscriber
	delayError bool
	prefetch   int
	window     int

	active *xsync.MapOf[int64, *mergeInnerSubscriber]
	nextID int64
	swip   int32

	mu          sync.Mutex
	requested   int64
	queue       []mergeEntry
	pending     []mergePendingSource
	activeCount int
	remaining   int
	errs        []error
	errIndices  []int
	failure     error
	draining    bool
	terminated  bool
	cancelled   bool
}

func (m *mergeCoordinator) request(n int64) {
	m.mu.Lock()
	m.requested = addRequested(m.requested, n)
	m.drainLocked()
}

func (m *mergeCoordinator) cancel() {
	m.mu.Lock()
	if m.cancelled {
		m.mu.Unlock()
		return
	}
	m.cancelled = true
	m.queue = nil
	m.pending = nil
	m.mu.Unlock()

	m.cancelActive()
}

func (m *mergeCoordinator) cancelActive() {
	m.active.Range(func(id int64, inner *mergeInnerSubscriber) bool {
		inner.Cancel()
		return true
	})
	m.active.Clear()
}

// subscribeNext 在窗口允许时订阅排队的源；wip蹦床吸收同步终止链
func (m *mergeCoordinator) subscribeNext() {
	if atomic.AddInt32(&m.swip, 1) != 1 {
		return
	}
	for {
		for {
			m.mu.Lock()
			if m.cancelled || m.terminated || len(m.pending) == 0 || m.activeCount >= m.window {
				m.mu.Unlock()
				break
			}
			next := m.pending[0]
			m.pending = m.pending[1:]
			m.activeCount++
			m.mu.Unlock()

			inner := &mergeInnerSubscriber{
				parent:      m,
				id:          atomic.AddInt64(&m.nextID, 1),
				sourceIndex: next.index,
			}
			next.source.Subscribe(inner)
		}

		if atomic.AddInt32(&m.swip, -1) == 0 {
			return
		}
	}
}

// enqueue 数据入队并尝试排放
func (m *mergeCoordinator) enqueue(inner *mergeInnerSubscriber, value interface{}) {
	m.mu.Lock()
	if m.terminated || m.cancelled || m.failure != nil {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, mergeEntry{value: value, inner: inner})
	m.drainLocked()
}

// innerTerminal 内部源终止回调；err为nil表示正常完成
func (m *mergeCoordinator) innerTerminal(inner *mergeInnerSubscriber, err error) {
	m.active.Delete(inner.id)

	if err != nil && !m.delayError {
		// 快速失败：记录失败并取消其余源；错误经排放循环投递，
		// 与正在排放的数据保持串行
		m.mu.Lock()
		if m.terminated || m.cancelled || m.failure != nil {
			m.mu.Unlock()
			return
		}
		m.failure = err
		m.queue = nil
		m.pending = nil
		m.mu.Unlock()

		m.cancelActive()

		m.mu.Lock()
		m.drainLocked()
		return
	}

	m.mu.Lock()
	if err != nil {
		m.errs = append(m.errs, err)
		m.errIndices = append(m.errIndices, inner.sourceIndex)
	}
	m.remaining--
	m.activeCount--
	m.drainLocked()

	m.subscribeNext()
}

// drainLocked 持锁进入排放循环；下游回调与需求补充期间释放锁
func (m *mergeCoordinator) drainLocked() {
	if m.draining || m.terminated || m.cancelled {
		m.mu.Unlock()
		return
	}
	m.draining = true

	for {
		if m.failure != nil {
			m.terminated = true
			err := m.failure
			m.mu.Unlock()
			m.downstream.OnError(err)
			m.mu.Lock()
			break
		}
		if m.terminated || m.cancelled {
			break
		}

		if len(m.queue) > 0 && m.requested > 0 {
			entry := m.queue[0]
			m.queue = m.queue[1:]
			if m.requested != RequestUnbounded {
				m.requested--
			}
			m.mu.Unlock()
			m.downstream.OnNext(entry.value)
			entry.inner.Request(1)
			m.mu.Lock()
			continue
		}

		// 全部源终止且队列排空后投递终止事件
		if m.remaining == 0 && len(m.queue) == 0 {
			m.terminated = true
			errs := m.errs
			indices := m.errIndices
			m.mu.Unlock()

			switch len(errs) {
			case 0:
				m.downstream.OnComplete()
			case 1:
				m.downstream.OnError(errs[0])
			default:
				m.downstream.OnError(NewAggregateError(errs, indices))
			}
			m.mu.Lock()
			break
		}
		break
	}

	m.draining = false
	m.mu.Unlock()
}

// mergeInnerSubscriber 内部源订阅者
type mergeInnerSubscriber struct {
	BaseSubscriber
	parent      *mergeCoordinator
	id          int64
	sourceIndex int
}

func (mi *mergeInnerSubscriber) OnSubscribe(subscription Subscription) {
	mi.BaseSubscriber.OnSubscribe(subscription)

	m := mi.parent
	m.mu.Lock()
	cancelled := m.cancelled || m.terminated || m.failure != nil
	m.mu.Unlock()

	if cancelled {
		subscription.Cancel()
		return
	}

	m.active.Store(mi.id, mi)
	subscription.Request(int64(m.prefetch))
}

func (mi *mergeInnerSubscriber) OnNext(value interface{}) {
	mi.parent.enqueue(mi, value)
}

func (mi *mergeInnerSubscriber) OnError(err error) {
	mi.parent.innerTerminal(mi, err)
}

func (mi *mergeInnerSubscriber) OnComplete() {
	mi.parent.innerTerminal(mi, nil)
}

// ============================================================================
// SwitchOnNext 切换
// ============================================================================

// SwitchOnNext 订阅发射Flowable的外层流，始终只保持一个内层订阅：
// 新内层到达时先取消旧内层；外层与当前内层都完成后才完成；
// 任一侧出错即终止整体
func SwitchOnNext(outer Flowable) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		coordinator := &switchCoordinator{
			downstream: newSerializedSubscriber(subscriber),
		}
		subscriber.OnSubscribe(NewSubscription(coordinator.request, coordinator.cancel))
		outer.Subscribe(&switchOuterSubscriber{parent: coordinator})
	})
}

// switchCoordinator 切换协调者；generation标记当前内层代次，
// 旧代次的迟到事件被静默丢弃
type switchCoordinator struct {
	downstream *serializedSubscriber

	mu          sync.Mutex
	requested   int64
	outerSub    Subscription
	current     Subscription
	generation  int64
	outerDone   bool
	innerActive bool
	cancelled   bool
}

func (s *switchCoordinator) request(n int64) {
	s.mu.Lock()
	s.requested = addRequested(s.requested, n)
	current := s.current
	s.mu.Unlock()

	if current != nil {
		current.Request(n)
	}
}

func (s *switchCoordinator) cancel() {
	s.mu.Lock()
	s.cancelled = true
	outer := s.outerSub
	current := s.current
	s.mu.Unlock()

	if current != nil {
		current.Cancel()
	}
	if outer != nil {
		outer.Cancel()
	}
}

// switchOuterSubscriber 外层流订阅者
type switchOuterSubscriber struct {
	parent *switchCoordinator
}

func (so *switchOuterSubscriber) OnSubscribe(subscription Subscription) {
	s := so.parent
	s.mu.Lock()
	s.outerSub = subscription
	cancelled := s.cancelled
	s.mu.Unlock()

	if cancelled {
		subscription.Cancel()
		return
	}
	// 外层元素是流本身，不受数据背压约束
	subscription.Request(RequestUnbounded)
}

func (so *switchOuterSubscriber) OnNext(value interface{}) {
	inner, ok := value.(Flowable)
	if !ok {
		so.OnError(NewSourceError(fmt.Errorf("switchOnNext: 外层元素不是Flowable: %T", value)))
		return
	}

	s := so.parent
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.generation++
	generation := s.generation
	previous := s.current
	s.current = nil
	s.innerActive = true
	s.mu.Unlock()

	if previous != nil {
		previous.Cancel()
	}
	inner.Subscribe(&switchInnerSubscriber{parent: s, generation: generation})
}

func (so *switchOuterSubscriber) OnError(err error) {
	s := so.parent
	s.mu.Lock()
	s.cancelled = true
	current := s.current
	s.mu.Unlock()

	if current != nil {
		current.Cancel()
	}
	s.downstream.OnError(err)
}

func (so *switchOuterSubscriber) OnComplete() {
	s := so.parent
	s.mu.Lock()
	s.outerDone = true
	active := s.innerActive
	s.mu.Unlock()

	if !active {
		s.downstream.OnComplete()
	}
}

// switchInnerSubscriber 内层流订阅者
type switchInnerSubscriber struct {
	parent     *switchCoordinator
	generation int64
}

// stale 检查本订阅者是否已被更新的内层替代
func (si *switchInnerSubscriber) stale() bool {
	si.parent.mu.Lock()
	defer si.parent.mu.Unlock()
	return si.generation != si.parent.generation || si.parent.cancelled
}

func (si *switchInnerSubscriber) OnSubscribe(subscription Subscription) {
	s := si.parent
	s.mu.Lock()
	if si.generation != s.generation || s.cancelled {
		s.mu.Unlock()
		subscription.Cancel()
		return
	}
	s.current = subscription
	remaining := s.requested
	s.mu.Unlock()

	if remaining > 0 {
		subscription.Request(remaining)
	}
}

func (si *switchInnerSubscriber) OnNext(value interface{}) {
	s := si.parent
	s.mu.Lock()
	if si.generation != s.generation || s.cancelled {
		s.mu.Unlock()
		return
	}
	if s.requested != RequestUnbounded && s.requested > 0 {
		s.requested--
	}
	s.mu.Unlock()
	s.downstream.OnNext(value)
}

func (si *switchInnerSubscriber) OnError(err error) {
	if si.stale() {
		return
	}
	s := si.parent
	s.mu.Lock()
	s.cancelled = true
	outer := s.outerSub
	s.mu.Unlock()

	if outer != nil {
		outer.Cancel()
	}
	s.downstream.OnError(err)
}

func (si *switchInnerSubscriber) OnComplete() {
	s := si.parent
	s.mu.Lock()
	if si.generation != s.generation || s.cancelled {
		s.mu.Unlock()
		return
	}
	s.innerActive = false
	s.current = nil
	done := s.outerDone
	s.mu.Unlock()

	if done {
		s.downstream.OnComplete()
	}
}

// ============================================================================
// Zip 逐对组合
// ============================================================================

// Zip 并发订阅全部源，每源维护一个有界队列；所有队列非空时各出队一项，
// 经combiner合成后发射。任一源完成且其队列耗尽即完成，快源的剩余缓冲被丢弃；
// 任一源出错立即传播。需求随队列排空逐项补充给各源；队列超出容量
// 默认以BufferOverflow终止（可通过WithOverflowPolicy配置为丢弃）。
func Zip(combiner Combiner, sources ...Flowable) Flowable {
	return ZipWithOptions(combiner, sources)
}

// ZipWithOptions 带配置的Zip，options可调节每源队列容量与溢出策略
func ZipWithOptions(combiner Combiner, sources []Flowable, options ...Option) Flowable {
	if len(sources) == 0 {
		return Empty()
	}

	config := DefaultConfig()
	for _, opt := range options {
		opt.Apply(config)
	}

	return NewFlowable(func(subscriber Subscriber) {
		coordinator := &zipCoordinator{
			downstream: subscriber,
			combiner:   combiner,
			capacity:   config.BufferCapacity,
			overflow:   config.Overflow,
			queues:     make([][]interface{}, len(sources)),
			done:       make([]bool, len(sources)),
			subs:       make([]Subscription, len(sources)),
		}

		subscriber.OnSubscribe(NewSubscription(coordinator.request, coordinator.cancel))

		for i, source := range sources {
			source.Subscribe(&zipSourceSubscriber{parent: coordinator, index: i})
		}
	})
}

// zipCoordinator 逐对组合协调者；全部扇入状态由单一互斥锁保护，
// 下游投递天然串行
type zipCoordinator struct {
	downstream Subscriber
	combiner   Combiner
	capacity   int
	overflow   OverflowPolicy

	mu         sync.Mutex
	queues     [][]interface{}
	done       []bool
	subs       []Subscription
	requested  int64
	failure    error
	emitting   bool
	terminated bool
	cancelled  bool
}

func (z *zipCoordinator) request(n int64) {
	z.mu.Lock()
	z.requested = addRequested(z.requested, n)
	z.drainLocked()
}

func (z *zipCoordinator) cancel() {
	z.mu.Lock()
	if z.cancelled {
		z.mu.Unlock()
		return
	}
	z.cancelled = true
	subs := z.snapshotSubsLocked()
	z.mu.Unlock()

	for _, sub := range subs {
		if sub != nil {
			sub.Cancel()
		}
	}
}

func (z *zipCoordinator) snapshotSubsLocked() []Subscription {
	subs := make([]Subscription, len(z.subs))
	copy(subs, z.subs)
	return subs
}

// fail 记录失败并取消全部源；错误经排放循环投递，
// 与正在排放的数据保持串行
func (z *zipCoordinator) fail(err error) {
	z.mu.Lock()
	if z.terminated || z.cancelled || z.failure != nil {
		z.mu.Unlock()
		return
	}
	z.failure = err
	subs := z.snapshotSubsLocked()
	z.mu.Unlock()

	for _, sub := range subs {
		if sub != nil {
			sub.Cancel()
		}
	}

	z.mu.Lock()
	z.drainLocked()
}

// arrive 源index的数据到达
func (z *zipCoordinator) arrive(index int, value interface{}) {
	z.mu.Lock()
	if z.terminated || z.cancelled || z.failure != nil {
		z.mu.Unlock()
		return
	}
	if len(z.queues[index]) >= z.capacity {
		if z.overflow == OverflowDrop {
			z.mu.Unlock()
			return
		}
		z.mu.Unlock()
		z.fail(NewBufferOverflow(fmt.Sprintf("zip: 源[%d]队列超出容量%d", index, z.capacity)))
		return
	}
	z.queues[index] = append(z.queues[index], value)
	z.drainLocked()
}

// sourceDone 源index终止
func (z *zipCoordinator) sourceDone(index int) {
	z.mu.Lock()
	if z.terminated || z.cancelled || z.failure != nil {
		z.mu.Unlock()
		return
	}
	z.done[index] = true
	z.drainLocked()
}

// readyLocked 全部队列非空时返回true
func (z *zipCoordinator) readyLocked() bool {
	for _, queue := range z.queues {
		if len(queue) == 0 {
			return false
		}
	}
	return true
}

// exhaustedLocked 任一源已完成且其队列耗尽时返回true
func (z *zipCoordinator) exhaustedLocked() bool {
	for i, queue := range z.queues {
		if z.done[i] && len(queue) == 0 {
			return true
		}
	}
	return false
}

// drainLocked 持锁进入排放循环
func (z *zipCoordinator) drainLocked() {
	if z.emitting || z.terminated {
		z.mu.Unlock()
		return
	}
	z.emitting = true

	for {
		if z.failure != nil {
			z.terminated = true
			z.cancelled = true
			err := z.failure
			z.mu.Unlock()
			z.downstream.OnError(err)
			z.mu.Lock()
			break
		}
		if z.terminated || z.cancelled {
			break
		}

		if z.requested > 0 && z.readyLocked() {
			row := make([]interface{}, len(z.queues))
			for i := range z.queues {
				row[i] = z.queues[i][0]
				z.queues[i] = z.queues[i][1:]
			}
			if z.requested != RequestUnbounded {
				z.requested--
			}
			subs := z.snapshotSubsLocked()
			z.mu.Unlock()

			z.downstream.OnNext(z.combiner(row))
			// 每出队一轮，向每个源补一份需求
			for _, sub := range subs {
				if sub != nil {
					sub.Request(1)
				}
			}
			z.mu.Lock()
			continue
		}

		if z.exhaustedLocked() {
			z.terminated = true
			z.cancelled = true
			subs := z.snapshotSubsLocked()
			z.mu.Unlock()

			for _, sub := range subs {
				if sub != nil {
					sub.Cancel()
				}
			}
			z.downstream.OnComplete()
			z.mu.Lock()
		}
		break
	}

	z.emitting = false
	z.mu.Unlock()
}

// zipSourceSubscriber 单个源的订阅者
type zipSourceSubscriber struct {
	parent *zipCoordinator
	index  int
}

func (zs *zipSourceSubscriber) OnSubscribe(subscription Subscription) {
	z := zs.parent
	z.mu.Lock()
	if z.cancelled || z.failure != nil {
		z.mu.Unlock()
		subscription.Cancel()
		return
	}
	z.subs[zs.index] = subscription
	capacity := z.capacity
	z.mu.Unlock()

	subscription.Request(int64(capacity))
}

func (zs *zipSourceSubscriber) OnNext(value interface{}) {
	zs.parent.arrive(zs.index, value)
}

func (zs *zipSourceSubscriber) OnError(err error) {
	zs.parent.fail(err)
}

func (zs *zipSourceSubscriber) OnComplete() {
	zs.parent.sourceDone(zs.index)
}

// ============================================================================
// CombineLatest 最新值组合
// ============================================================================

// CombineLatest 并发订阅全部源并记住每源的最新值；每个源都至少发射一次后，
// 任一源的每次发射都用各源最新值合成一个输出；全部源完成后完成；
// 任一源出错立即传播。下游需求不足时只保留最新的一行待发射组合。
func CombineLatest(combiner Combiner, sources ...Flowable) Flowable {
	if len(sources) == 0 {
		return Empty()
	}

	return NewFlowable(func(subscriber Subscriber) {
		coordinator := &combineLatestCoordinator{
			downstream: subscriber,
			combiner:   combiner,
			latest:     make([]interface{}, len(sources)),
			has:        make([]bool, len(sources)),
			subs:       make([]Subscription, len(sources)),
		}

		subscriber.OnSubscribe(NewSubscription(coordinator.request, coordinator.cancel))

		for i, source := range sources {
			source.Subscribe(&combineLatestSourceSubscriber{parent: coordinator, index: i})
		}
	})
}

// combineLatestCoordinator 最新值组合协调者
type combineLatestCoordinator struct {
	downstream Subscriber
	combiner   Combiner

	mu         sync.Mutex
	latest     []interface{}
	has        []bool
	haveCount  int
	doneCount  int
	subs       []Subscription
	requested  int64
	pendingRow []interface{}
	failure    error
	emitting   bool
	terminated bool
	cancelled  bool
}

func (c *combineLatestCoordinator) request(n int64) {
	c.mu.Lock()
	c.requested = addRequested(c.requested, n)
	c.drainLocked()
}

func (c *combineLatestCoordinator) cancel() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	subs := make([]Subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, sub := range subs {
		if sub != nil {
			sub.Cancel()
		}
	}
}

// arrive 源index发射了新值
func (c *combineLatestCoordinator) arrive(index int, value interface{}) {
	c.mu.Lock()
	if c.terminated || c.cancelled || c.failure != nil {
		c.mu.Unlock()
		return
	}
	c.latest[index] = value
	if !c.has[index] {
		c.has[index] = true
		c.haveCount++
	}
	if c.haveCount < len(c.latest) {
		c.mu.Unlock()
		return
	}
	// 需求不足时后到的组合覆盖先到的，只保留最新一行
	row := make([]interface{}, len(c.latest))
	copy(row, c.latest)
	c.pendingRow = row
	c.drainLocked()
}

// sourceDone 源index终止
func (c *combineLatestCoordinator) sourceDone(index int) {
	c.mu.Lock()
	if c.terminated || c.cancelled || c.failure != nil {
		c.mu.Unlock()
		return
	}
	c.doneCount++
	c.drainLocked()
}

// fail 记录失败并取消全部源；错误经排放循环投递，
// 与正在排放的数据保持串行
func (c *combineLatestCoordinator) fail(err error) {
	c.mu.Lock()
	if c.terminated || c.cancelled || c.failure != nil {
		c.mu.Unlock()
		return
	}
	c.failure = err
	subs := make([]Subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, sub := range subs {
		if sub != nil {
			sub.Cancel()
		}
	}

	c.mu.Lock()
	c.drainLocked()
}

// drainLocked 持锁进入排放循环
func (c *combineLatestCoordinator) drainLocked() {
	if c.emitting || c.terminated {
		c.mu.Unlock()
		return
	}
	c.emitting = true

	for {
		if c.failure != nil {
			c.terminated = true
			c.cancelled = true
			err := c.failure
			c.mu.Unlock()
			c.downstream.OnError(err)
			c.mu.Lock()
			break
		}
		if c.terminated || c.cancelled {
			break
		}

		if c.pendingRow != nil && c.requested > 0 {
			row := c.pendingRow
			c.pendingRow = nil
			if c.requested != RequestUnbounded {
				c.requested--
			}
			c.mu.Unlock()
			c.downstream.OnNext(c.combiner(row))
			c.mu.Lock()
			continue
		}

		if c.doneCount == len(c.latest) && c.pendingRow == nil {
			c.terminated = true
			c.mu.Unlock()
			c.downstream.OnComplete()
			c.mu.Lock()
		}
		break
	}

	c.emitting = false
	c.mu.Unlock()
}

// combineLatestSourceSubscriber 单个源的订阅者
type combineLatestSourceSubscriber struct {
	parent *combineLatestCoordinator
	index  int
}

func (cs *combineLatestSourceSubscriber) OnSubscribe(subscription Subscription) {
	c := cs.parent
	c.mu.Lock()
	if c.cancelled || c.failure != nil {
		c.mu.Unlock()
		subscription.Cancel()
		return
	}
	c.subs[cs.index] = subscription
	c.mu.Unlock()

	// 最新值语义本身就是合并降频，源侧不设门控
	subscription.Request(RequestUnbounded)
}

func (cs *combineLatestSourceSubscriber) OnNext(value interface{}) {
	cs.parent.arrive(cs.index, value)
}

func (cs *combineLatestSourceSubscriber) OnError(err error) {
	cs.parent.fail(err)
}

func (cs *combineLatestSourceSubscriber) OnComplete() {
	cs.parent.sourceDone(cs.index)
}
