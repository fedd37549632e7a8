package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dockmate/internal/schedule"
)

// Memory is an in-memory Store. It backs the "memory" driver and test fakes.
type Memory struct {
	mu     sync.Mutex
	tasks  map[string]Task
	order  []string
	runs   []RunEntry
	closed bool
}

func NewMemory() *Memory {
	return &Memory{tasks: map[string]Task{}}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoadTasks(ctx context.Context) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Task, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.tasks[id])
	}
	return out, nil
}

func (m *Memory) FindTask(ctx context.Context, id string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Task{}, ErrClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) CreateTask(ctx context.Context, t Task) (Task, error) {
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}
	t.Action = strings.ToLower(strings.TrimSpace(t.Action))
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.NextRunTS == 0 {
		next, err := schedule.Next(t.Schedule, now)
		if err != nil {
			return Task{}, err
		}
		t.NextRunTS = next.Unix()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Task{}, ErrClosed
	}
	if _, exists := m.tasks[t.ID]; !exists {
		m.order = append(m.order, t.ID)
	}
	m.tasks[t.ID] = t
	return t, nil
}

func (m *Memory) UpdateTask(ctx context.Context, t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	cur, ok := m.tasks[t.ID]
	if !ok {
		return ErrNotFound
	}
	t.CreatedAt = cur.CreatedAt
	t.UpdatedAt = time.Now()
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) SetActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.IsActive = active
	t.UpdatedAt = time.Now()
	m.tasks[id] = t
	return nil
}

func (m *Memory) Advance(ctx context.Context, id string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return 0, ErrNotFound
	}
	next, err := schedule.Next(t.Schedule, now)
	if err != nil {
		return 0, err
	}
	t.NextRunTS = next.Unix()
	t.LastRunAt = now
	t.LastStatus = "ok"
	t.UpdatedAt = now
	m.tasks[id] = t
	return t.NextRunTS, nil
}

func (m *Memory) AppendRun(ctx context.Context, e RunEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.runs = append(m.runs, e)
	return nil
}

func (m *Memory) PruneRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	kept := m.runs[:0]
	var removed int64
	for _, e := range m.runs {
		if e.At.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.runs = kept
	return removed, nil
}

// Runs returns a copy of the recorded run history, oldest first.
func (m *Memory) Runs() []RunEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunEntry, len(m.runs))
	copy(out, m.runs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
