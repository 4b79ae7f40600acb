package board

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskboard/internal/domain"
	"taskboard/internal/workflow"
)

// Persister is the remote store the board writes through.
type Persister interface {
	ListTasks(ctx context.Context, user string) ([]domain.Task, error)
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, updates map[string]any) error
	DeleteTask(ctx context.Context, id string) error
	AppendHistory(ctx context.Context, e domain.HistoryEntry) error
}

// Board applies actions to local state immediately and persists them in the
// background, one effect at a time in the order they were produced. Failed
// writes are reported through OnError and are not rolled back.
type Board struct {
	Actor   string
	Policy  workflow.Policy
	Now     func() time.Time
	OnError func(Effect, error)
	Logger  *log.Logger

	store Persister

	mu      sync.Mutex
	state   State
	pending []job
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

type job struct {
	effect  Effect
	barrier chan struct{}
}

// New starts the persistence worker; call Close when done.
func New(store Persister, actor string) *Board {
	b := &Board{
		Actor: actor,
		store: store,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Board) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Board) env() Env {
	return Env{Actor: b.Actor, Now: b.now(), Policy: b.Policy}
}

func (b *Board) logger() *log.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return log.Default()
}

// State returns a snapshot of the board.
func (b *Board) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Refresh refetches every task from the store, keeping the current filter.
func (b *Board) Refresh(ctx context.Context) error {
	tasks, err := b.store.ListTasks(ctx, "")
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.state = Load(b.state, tasks)
	b.mu.Unlock()
	return nil
}

func (b *Board) SetFilter(username string) {
	b.mu.Lock()
	b.state = SetFilter(b.state, username)
	b.mu.Unlock()
}

// Add creates a task owned by the board's actor in "todo".
func (b *Board) Add(content string) (domain.Task, error) {
	env := b.env()
	t := domain.Task{
		ID:        uuid.NewString(),
		Content:   strings.TrimSpace(content),
		Username:  b.Actor,
		Column:    domain.ColumnTodo,
		CreatedAt: domain.FormatTime(env.Now),
	}
	var added domain.Task
	err := b.apply(func(s State) (State, []Effect, error) {
		next, effects, err := AddTask(s, t, env)
		if err == nil {
			added, _ = next.Find(t.ID)
		}
		return next, effects, err
	})
	return added, err
}

// Move requests a column change. It reports true when the move is waiting on
// ConfirmEstimate or CancelEstimate.
func (b *Board) Move(id string, to domain.Column) (bool, error) {
	env := b.env()
	var suspended bool
	err := b.apply(func(s State) (State, []Effect, error) {
		next, effects, err := MoveTask(s, id, to, env)
		suspended = err == nil && next.Pending != nil
		return next, effects, err
	})
	return suspended, err
}

func (b *Board) ConfirmEstimate(date string) error {
	env := b.env()
	return b.apply(func(s State) (State, []Effect, error) {
		return ConfirmEstimate(s, date, env)
	})
}

func (b *Board) CancelEstimate() {
	b.mu.Lock()
	b.state = CancelEstimate(b.state)
	b.mu.Unlock()
}

func (b *Board) Edit(id string, edit TaskEdit) error {
	env := b.env()
	return b.apply(func(s State) (State, []Effect, error) {
		return EditTask(s, id, edit, env)
	})
}

func (b *Board) Delete(id string) error {
	env := b.env()
	return b.apply(func(s State) (State, []Effect, error) {
		return DeleteTask(s, id, env)
	})
}

func (b *Board) apply(reduce func(State) (State, []Effect, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("board closed")
	}
	next, effects, err := reduce(b.state)
	if err != nil {
		return err
	}
	b.state = next
	for _, e := range effects {
		b.pending = append(b.pending, job{effect: e})
	}
	b.signal()
	return nil
}

func (b *Board) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every effect queued before the call has been attempted.
func (b *Board) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.pending = append(b.pending, job{barrier: barrier})
	b.signal()
	b.mu.Unlock()
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the worker.
func (b *Board) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.signal()
	b.mu.Unlock()
	<-b.done
}

func (b *Board) run() {
	defer close(b.done)
	ctx := context.Background()
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}
			<-b.wake
			continue
		}
		j := b.pending[0]
		b.pending = b.pending[1:]
		b.mu.Unlock()

		if j.barrier != nil {
			close(j.barrier)
			continue
		}
		if err := b.persist(ctx, j.effect); err != nil {
			b.report(j.effect, err)
		}
	}
}

func (b *Board) persist(ctx context.Context, e Effect) error {
	switch e.Kind {
	case EffectCreate:
		_, err := b.store.CreateTask(ctx, e.Task)
		return err
	case EffectUpdate:
		return b.store.UpdateTask(ctx, e.TaskID, e.Updates)
	case EffectDelete:
		return b.store.DeleteTask(ctx, e.TaskID)
	case EffectHistory:
		return b.store.AppendHistory(ctx, e.Entry)
	}
	return fmt.Errorf("unknown effect %s", e.Kind)
}

func (b *Board) report(e Effect, err error) {
	if b.OnError != nil {
		b.OnError(e, err)
		return
	}
	b.logger().Printf("board: %s %s failed: %v", e.Kind, e.TaskID, err)
}
