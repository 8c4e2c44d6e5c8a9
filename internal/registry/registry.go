// Package registry owns the process-wide task table: id generation, lifecycle
// transitions, the per-task event log, and the terminal artifact hand-off.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kumocrawler/kumocrawler/internal/event"
	"github.com/kumocrawler/kumocrawler/internal/scraper"
	"github.com/kumocrawler/kumocrawler/internal/stream"
)

// Sentinel errors reported to handlers.
var (
	ErrNotFound    = errors.New("task not found")
	ErrNotReady    = errors.New("task has no artifact")
	ErrAlreadyDone = errors.New("task already finished")
)

// Status is a task lifecycle state.
type Status string

// Task lifecycle states. A task moves pending -> running -> completed|failed,
// with the terminal transition happening exactly once.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Kind identifies which external operation a task runs.
type Kind string

// Supported task kinds.
const (
	KindEnumerate Kind = "enumerate"
	KindScrape    Kind = "scrape"
)

// IDGenerator produces unique task identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}

// Task is a read-only snapshot of a registry entry.
type Task struct {
	ID        string
	Kind      Kind
	Status    Status
	Created   time.Time
	Started   *time.Time
	Finished  *time.Time
	ErrorText string
}

type record struct {
	task     Task
	log      *stream.Log
	artifact *scraper.Artifact
}

// Registry is the single synchronized owner of all task state. All methods
// are safe for concurrent use from request handlers and worker runners; every
// operation is O(1) under one mutex.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*record
	idGen  IDGenerator
	clock  Clock
	logger *zap.Logger
}

// New constructs an empty Registry.
func New(idGen IDGenerator, clock Clock, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tasks:  make(map[string]*record),
		idGen:  idGen,
		clock:  clock,
		logger: logger,
	}
}

// Create installs a fresh pending task with an empty event log and returns
// its snapshot.
func (r *Registry) Create(kind Kind) (Task, error) {
	id, err := r.idGen.NewID()
	if err != nil {
		return Task{}, fmt.Errorf("generate task id: %w", err)
	}
	task := Task{
		ID:      id,
		Kind:    kind,
		Status:  StatusPending,
		Created: r.clock.Now(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[id]; exists {
		return Task{}, fmt.Errorf("task id collision: %s", id)
	}
	r.tasks[id] = &record{
		task: task,
		log:  stream.NewLog(r.logger.Named("stream")),
	}
	return task, nil
}

// Get returns a task snapshot.
func (r *Registry) Get(id string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return rec.task, nil
}

// Channel resolves a task id to its event log for streaming or appending.
func (r *Registry) Channel(id string) (*stream.Log, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.log, nil
}

// MarkRunning transitions a pending task to running.
func (r *Registry) MarkRunning(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if rec.task.Status != StatusPending {
		return ErrAlreadyDone
	}
	now := r.clock.Now()
	rec.task.Status = StatusRunning
	rec.task.Started = &now
	return nil
}

// Complete transitions the task to completed exactly once, stores the
// artifact (nil for enumeration tasks), and appends the terminal end_stream
// event with the given note. A second terminal call is rejected with
// ErrAlreadyDone and changes nothing.
func (r *Registry) Complete(id string, artifact *scraper.Artifact, note string) error {
	return r.finish(id, StatusCompleted, artifact, "", note)
}

// Fail transitions the task to failed exactly once, records the cause, and
// appends the terminal end_stream event with the given note.
func (r *Registry) Fail(id string, cause string, note string) error {
	return r.finish(id, StatusFailed, nil, cause, note)
}

func (r *Registry) finish(id string, status Status, artifact *scraper.Artifact, cause string, note string) error {
	r.mu.Lock()
	rec, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if rec.task.Status == StatusCompleted || rec.task.Status == StatusFailed {
		r.mu.Unlock()
		return ErrAlreadyDone
	}
	now := r.clock.Now()
	rec.task.Status = status
	rec.task.Finished = &now
	rec.task.ErrorText = cause
	rec.artifact = artifact
	log := rec.log
	r.mu.Unlock()

	// Appended outside the table lock; the log has its own synchronization
	// and refuses a second terminal event on its own.
	if err := log.Append(event.EndStream(note)); err != nil && !errors.Is(err, stream.ErrClosed) {
		r.logger.Warn("append end_stream failed", zap.String("task_id", id), zap.Error(err))
	}
	return nil
}

// Artifact returns the stored artifact for a completed task. ErrNotReady
// covers both unfinished tasks and tasks that finish without a download
// (enumeration, failures).
func (r *Registry) Artifact(id string) (scraper.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.tasks[id]
	if !ok {
		return scraper.Artifact{}, ErrNotFound
	}
	if rec.task.Status != StatusCompleted || rec.artifact == nil {
		return scraper.Artifact{}, ErrNotReady
	}
	return *rec.artifact, nil
}

// Len reports the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
