package duel

import (
	"context"
	"sort"
	"sync"

	"github.com/degenduel/duel-settlement/entities"
	"github.com/pkg/errors"
)

// Registry keeps the latest task per duel so it can be inspected or cancelled later.
// Tasks are started from the registry's own context, not from the caller's.
type Registry struct {
	ctx     context.Context
	tracker *Tracker
	mu      sync.Mutex
	tasks   map[string]*Task
}

func NewRegistry(ctx context.Context, tracker *Tracker) *Registry {
	return &Registry{
		ctx:     ctx,
		tracker: tracker,
		tasks:   make(map[string]*Task),
	}
}

// Start begins tracking duelID. A finished task for the same duel is replaced.
func (r *Registry) Start(duelID string, params entities.AttestationParams) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tasks[duelID]; ok {
		select {
		case <-existing.Done():
		default:
			return nil, errors.Wrapf(entities.ErrDuelAlreadyTracked, "duel [%s]", duelID)
		}
	}
	task := r.tracker.Start(r.ctx, duelID, params)
	r.tasks[duelID] = task
	return task, nil
}

// Settle starts tracking duelID and returns the first published snapshot.
func (r *Registry) Settle(duelID string, params entities.AttestationParams) (entities.DuelProgress, error) {
	task, err := r.Start(duelID, params)
	if err != nil {
		return entities.DuelProgress{}, err
	}
	return task.Progress(), nil
}

func (r *Registry) Get(duelID string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[duelID]
	if !ok {
		return nil, errors.Wrapf(entities.ErrDuelNotFound, "duel [%s]", duelID)
	}
	return task, nil
}

func (r *Registry) Progress(duelID string) (entities.DuelProgress, error) {
	task, err := r.Get(duelID)
	if err != nil {
		return entities.DuelProgress{}, err
	}
	return task.Progress(), nil
}

func (r *Registry) Cancel(duelID string) (entities.DuelProgress, error) {
	task, err := r.Get(duelID)
	if err != nil {
		return entities.DuelProgress{}, err
	}
	task.Cancel()
	return task.Progress(), nil
}

// List returns the progress of every known duel ordered by duel id.
func (r *Registry) List() []entities.DuelProgress {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]entities.DuelProgress, 0, len(r.tasks))
	for _, task := range r.tasks {
		list = append(list, task.Progress())
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].DuelID < list[j].DuelID
	})
	return list
}
