package expiration

import (
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Queue runs tasks sequentially per name while different names run in
// parallel. Lanes are created on first use and dropped once drained.
type Queue struct {
	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup

	logger *zap.Logger
}

type lane struct {
	tasks []func()
}

// NewQueue returns an empty queue. A panicking task is logged and the lane
// moves on to its next task.
func NewQueue(logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{lanes: make(map[string]*lane), logger: logger}
}

// Enqueue appends task to the lane for name.
func (q *Queue) Enqueue(name string, task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.wg.Add(1)
	l, running := q.lanes[name]
	if !running {
		l = &lane{}
		q.lanes[name] = l
	}
	l.tasks = append(l.tasks, task)
	if !running {
		go q.drain(name, l)
	}
}

func (q *Queue) drain(name string, l *lane) {
	for {
		q.mu.Lock()
		if len(l.tasks) == 0 {
			delete(q.lanes, name)
			q.mu.Unlock()
			return
		}
		task := l.tasks[0]
		l.tasks = l.tasks[1:]
		q.mu.Unlock()

		q.run(name, task)
	}
}

func (q *Queue) run(name string, task func()) {
	defer q.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			q.logger.Error("eviction task panicked",
				zap.String("cache", name),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	task()
}

// Wait blocks until every task enqueued so far has run.
func (q *Queue) Wait() {
	q.wg.Wait()
}
