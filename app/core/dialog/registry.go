package dialog

import (
	"errors"
	"sort"
	"sync"
	"time"

	"eligo/app/core/arbiter"
	"eligo/app/pkg/types"
)

var (
	// ErrNotFound signals an unknown run id.
	ErrNotFound = errors.New("run not found")
	// ErrStreamConsumed signals a second claim on a run's frame stream.
	// Streams are finite and non-restartable.
	ErrStreamConsumed = errors.New("run stream already consumed")
)

type runEntry struct {
	run             Run
	frames          chan Frame
	framesClosed    bool
	streamClaimed   bool
	streaming       bool
	cancelRequested bool
}

// Registry is the keyed store of in-flight and completed runs. One coarse
// lock serializes create, get, cancel, and cleanup; snapshots handed out
// are deep copies so no caller ever observes a run mid-mutation.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*runEntry
}

func NewRegistry() *Registry {
	return &Registry{runs: map[string]*runEntry{}}
}

// Register adds a new run and allocates its frame buffer. The buffer is
// sized to hold every frame the run can produce, so the orchestrator
// never blocks on a slow or absent stream consumer.
func (r *Registry) Register(run Run, frameCap int) {
	if frameCap < 4 {
		frameCap = 4
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = &runEntry{
		run:    deepCopyRun(run),
		frames: make(chan Frame, frameCap),
	}
}

// Get returns a deep-copied snapshot of a run. Repeatable read.
func (r *Registry) Get(id string) (Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return deepCopyRun(entry.run), nil
}

// List returns run snapshots, newest first, optionally filtered by state.
func (r *Registry) List(state string, limit int) []Run {
	r.mu.Lock()
	items := make([]Run, 0, len(r.runs))
	for _, entry := range r.runs {
		if state != "" && state != "all" && string(entry.run.State) != state {
			continue
		}
		items = append(items, deepCopyRun(entry.run))
	}
	r.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].StartedAt.After(items[j].StartedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Cancel requests cooperative cancellation. The orchestrator honors it at
// the next turn boundary; an in-flight responder call is allowed to finish
// or time out first. Cancelling a terminal run is a no-op acknowledgement.
func (r *Registry) Cancel(id string) (Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	if !entry.run.State.Terminal() {
		entry.cancelRequested = true
	}
	return deepCopyRun(entry.run), nil
}

// Cleanup evicts terminal runs and any run older than maxAge, returning
// the removed count. A run with an attached stream consumer is never
// removed mid-read.
func (r *Registry) Cleanup(maxAge time.Duration) int {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, entry := range r.runs {
		if entry.streaming {
			continue
		}
		if entry.run.State.Terminal() || now.Sub(entry.run.StartedAt) > maxAge {
			entry.cancelRequested = true
			delete(r.runs, id)
			removed++
		}
	}
	return removed
}

// ClaimStream hands out a run's frame sequence exactly once.
func (r *Registry) ClaimStream(id string) (<-chan Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.streamClaimed {
		return nil, ErrStreamConsumed
	}
	entry.streamClaimed = true
	entry.streaming = true
	return entry.frames, nil
}

// ReleaseStream marks the consumer as detached so cleanup may proceed.
func (r *Registry) ReleaseStream(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.runs[id]; ok {
		entry.streaming = false
	}
}

// cancelPending reports whether cancellation was requested for the run.
// Checked by the orchestrator at each turn boundary.
func (r *Registry) cancelPending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.runs[id]
	return ok && entry.cancelRequested
}

func (r *Registry) setState(id string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.runs[id]; ok {
		entry.run.State = state
		entry.run.UpdatedAt = time.Now().UTC()
	}
}

func (r *Registry) appendTurn(id string, turn types.DialogTurn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.runs[id]; ok {
		entry.run.Turns = append(entry.run.Turns, deepCopyTurn(turn))
		entry.run.UpdatedAt = time.Now().UTC()
	}
}

func (r *Registry) finish(id string, state State, outcome *arbiter.Outcome, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.runs[id]
	if !ok {
		return
	}
	entry.run.State = state
	entry.run.Error = errMsg
	if outcome != nil {
		cp := *outcome
		entry.run.Outcome = &cp
	}
	entry.run.UpdatedAt = time.Now().UTC()
}

// emit appends a frame to the run's buffer; the terminal frame also
// closes it. The buffer is pre-sized for the whole sequence, so a full
// buffer can only mean a frame accounting bug: the frame is dropped
// rather than stalling turn progress.
func (r *Registry) emit(id string, frame Frame) {
	r.mu.Lock()
	entry, ok := r.runs[id]
	if !ok || entry.framesClosed {
		r.mu.Unlock()
		return
	}
	frames := entry.frames
	if frame.Terminal() {
		entry.framesClosed = true
	}
	r.mu.Unlock()

	select {
	case frames <- frame:
	default:
	}
	if frame.Terminal() {
		close(frames)
	}
}

func deepCopyRun(src Run) Run {
	cp := src
	cp.Turns = make([]types.DialogTurn, len(src.Turns))
	for i, turn := range src.Turns {
		cp.Turns[i] = deepCopyTurn(turn)
	}
	if src.Outcome != nil {
		outcome := *src.Outcome
		cp.Outcome = &outcome
	}
	if src.Guidelines.Rationales != nil {
		rationales := make(map[types.Decision]string, len(src.Guidelines.Rationales))
		for k, v := range src.Guidelines.Rationales {
			rationales[k] = v
		}
		cp.Guidelines.Rationales = rationales
	}
	return cp
}

func deepCopyTurn(src types.DialogTurn) types.DialogTurn {
	cp := src
	if src.Facts != nil {
		facts := *src.Facts
		cp.Facts = &facts
	}
	if src.Response != nil {
		resp := *src.Response
		resp.Actions = append([]types.Action(nil), src.Response.Actions...)
		cp.Response = &resp
	}
	return cp
}
