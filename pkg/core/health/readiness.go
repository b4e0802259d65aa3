package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type component struct {
	ready     bool
	startedAt time.Time
	readyAt   time.Time
}

// readiness tracks named components. It is ready when every registered
// component has been marked ready; with no components it is ready at once.
type readiness struct {
	mu         sync.RWMutex
	components map[string]*component
	changed    chan struct{}
	logger     *zap.Logger
}

func newReadiness(logger *zap.Logger) *readiness {
	return &readiness{
		components: make(map[string]*component),
		changed:    make(chan struct{}),
		logger:     logger,
	}
}

func (r *readiness) AddComponent(name string) func() {
	if name == "" {
		panic("readiness: component name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.components[name]; exists {
		r.logger.Warn("readiness component already registered", zap.String("component", name))
	} else {
		r.components[name] = &component{startedAt: time.Now()}
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.markReady(name) })
	}
}

func (r *readiness) markReady(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	comp, exists := r.components[name]
	if !exists {
		panic(fmt.Sprintf("readiness: component '%s' does not exist", name))
	}
	if comp.ready {
		return
	}
	comp.ready = true
	comp.readyAt = time.Now()

	r.logger.Info("component ready",
		zap.String("component", name),
		zap.Duration("startup", comp.readyAt.Sub(comp.startedAt)),
	)
	if r.allReadyLocked() {
		r.logger.Info("all components are ready", zap.Int("component_count", len(r.components)))
	}

	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *readiness) allReadyLocked() bool {
	for _, c := range r.components {
		if !c.ready {
			return false
		}
	}
	return true
}

func (r *readiness) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allReadyLocked()
}

func (r *readiness) GetStatus() ReadinessStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := ReadinessStatus{
		Ready:      r.allReadyLocked(),
		Components: make([]ComponentStatus, 0, len(r.components)),
	}
	for name, comp := range r.components {
		status.Components = append(status.Components, ComponentStatus{
			Name:      name,
			Ready:     comp.ready,
			StartedAt: comp.startedAt,
			ReadyAt:   comp.readyAt,
		})
	}
	sort.Slice(status.Components, func(i, j int) bool {
		return status.Components[i].Name < status.Components[j].Name
	})
	return status
}

func (r *readiness) WaitReady(ctx context.Context) error {
	for {
		r.mu.RLock()
		ready, changed := r.allReadyLocked(), r.changed
		r.mu.RUnlock()

		if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
