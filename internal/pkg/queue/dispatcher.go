package queue

import (
	"context"
	"errors"
	log "log/slog"
	"sync"
	"time"
)

// ErrQueueFull 会话队列积压已满，调用方应直接拒绝而不是阻塞
var ErrQueueFull = errors.New("会话任务队列已满")

// ErrStopped 调度器已停止
var ErrStopped = errors.New("调度器已停止")

const laneIdleTimeout = 5 * time.Minute

type task struct {
	name string
	run  func(ctx context.Context)
}

type lane struct {
	tasks chan *task
}

// Dispatcher 以会话为粒度串行执行任务：同一会话排队，不同会话并行。
// 任务函数自身可挂起在 LLM 调用上，串行由通道顺序保证而非互斥锁
type Dispatcher struct {
	mu        sync.Mutex
	lanes     map[uint64]*lane
	queueSize int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopped   bool
}

func NewDispatcher(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		lanes:     make(map[uint64]*lane),
		queueSize: queueSize,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit 将任务排入会话队列，队列满时返回 ErrQueueFull。
// 入队动作在锁内完成，与通道的闲置退场互斥，任务不会落空
func (d *Dispatcher) Submit(convID uint64, name string, run func(ctx context.Context)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	ln, ok := d.lanes[convID]
	if !ok {
		ln = &lane{tasks: make(chan *task, d.queueSize)}
		d.lanes[convID] = ln
		d.wg.Add(1)
		go d.runLane(convID, ln)
	}

	select {
	case ln.tasks <- &task{name: name, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// runLane 单会话执行循环，闲置超时后自行退场
func (d *Dispatcher) runLane(convID uint64, ln *lane) {
	defer d.wg.Done()

	idle := time.NewTimer(laneIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case t := <-ln.tasks:
			d.execute(convID, t)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(laneIdleTimeout)
		case <-idle.C:
			// 摘表与 Submit 的入队在同一把锁内互斥，空检查通过即可安全退出
			d.mu.Lock()
			if len(ln.tasks) == 0 {
				delete(d.lanes, convID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(laneIdleTimeout)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) execute(convID uint64, t *task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("会话任务崩溃", "convID", convID, "task", t.name, "panic", r)
		}
	}()
	t.run(d.ctx)
}

// Pending 某会话当前积压任务数
func (d *Dispatcher) Pending(convID uint64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ln, ok := d.lanes[convID]; ok {
		return len(ln.tasks)
	}
	return 0
}

// Stop 停止接收新任务并打断在执行的任务
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}
