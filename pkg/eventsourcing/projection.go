package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCheckpointNotFound is returned by a CheckpointStore for a projection
// that has never saved progress.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Projection builds a read model from stored events.
// Projections consume published events in real time and can be rebuilt from
// the global log.
type Projection interface {
	// Name returns the unique name of this projection.
	Name() string

	// Handle processes an event and updates the read model.
	Handle(ctx context.Context, env Envelope) error

	// Reset clears the read model before a rebuild.
	Reset(ctx context.Context) error
}

// Checkpoint tracks how far a projection has read the global log.
type Checkpoint struct {
	ProjectionName string
	Position       int64
	LastEventID    string
	UpdatedAt      time.Time
}

// CheckpointStore persists projection checkpoints.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	LoadCheckpoint(ctx context.Context, projectionName string) (Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, projectionName string) error
}

// ProjectionManager runs projections. Catch-up and rebuilds read the
// StreamStore in batches; live updates come from the EventBus.
type ProjectionManager struct {
	projections map[string]*managedProjection
	checkpoints CheckpointStore
	streams     StreamStore
	bus         EventBus
	batchSize   int
	logger      *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

type managedProjection struct {
	// mu serializes Handle calls and checkpoint updates for one projection.
	mu         sync.Mutex
	projection Projection
}

// ProjectionOption configures a ProjectionManager.
type ProjectionOption func(*ProjectionManager)

// WithProjectionLogger sets the logger.
func WithProjectionLogger(logger *slog.Logger) ProjectionOption {
	return func(m *ProjectionManager) {
		m.logger = logger
	}
}

// WithBatchSize sets how many envelopes are read per LoadAll call.
func WithBatchSize(n int) ProjectionOption {
	return func(m *ProjectionManager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// NewProjectionManager creates a projection manager. bus may be nil when only
// catch-up and rebuilds are used.
func NewProjectionManager(checkpoints CheckpointStore, streams StreamStore, bus EventBus, opts ...ProjectionOption) *ProjectionManager {
	m := &ProjectionManager{
		projections: make(map[string]*managedProjection),
		checkpoints: checkpoints,
		streams:     streams,
		bus:         bus,
		batchSize:   1000,
		logger:      slog.Default(),
		running:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register registers a projection with the manager.
func (m *ProjectionManager) Register(projection Projection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.projections[projection.Name()]; exists {
		return fmt.Errorf("projection %s already registered", projection.Name())
	}
	m.projections[projection.Name()] = &managedProjection{projection: projection}
	return nil
}

func (m *ProjectionManager) lookup(name string) (*managedProjection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.projections[name]
	if !exists {
		return nil, fmt.Errorf("projection %s not found", name)
	}
	return p, nil
}

func (m *ProjectionManager) checkpoint(ctx context.Context, name string) (Checkpoint, error) {
	cp, err := m.checkpoints.LoadCheckpoint(ctx, name)
	if errors.Is(err, ErrCheckpointNotFound) {
		return Checkpoint{ProjectionName: name}, nil
	}
	return cp, err
}

// apply hands env to the projection unless the checkpoint already covers it,
// then advances the checkpoint. Callers hold p.mu.
func (m *ProjectionManager) apply(ctx context.Context, p *managedProjection, cp *Checkpoint, env Envelope) error {
	if env.Position <= cp.Position {
		return nil
	}
	if err := p.projection.Handle(ctx, env); err != nil {
		return fmt.Errorf("projection %s failed to handle event %s: %w", cp.ProjectionName, env.ID, err)
	}
	cp.Position = env.Position
	cp.LastEventID = env.ID
	cp.UpdatedAt = Now()
	return nil
}

// CatchUp feeds the projection every stored event after its checkpoint.
func (m *ProjectionManager) CatchUp(ctx context.Context, name string) error {
	p, err := m.lookup(name)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cp, err := m.checkpoint(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return m.catchUp(ctx, p, &cp)
}

func (m *ProjectionManager) catchUp(ctx context.Context, p *managedProjection, cp *Checkpoint) error {
	for {
		envs, err := m.streams.LoadAll(ctx, cp.Position, m.batchSize)
		if err != nil {
			return fmt.Errorf("failed to load events: %w", err)
		}
		if len(envs) == 0 {
			return nil
		}

		for _, env := range envs {
			if err := m.apply(ctx, p, cp, env); err != nil {
				return err
			}
		}

		// Save checkpoint per batch
		if err := m.checkpoints.SaveCheckpoint(ctx, *cp); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}

		if len(envs) < m.batchSize {
			return nil
		}
	}
}

// Start catches the projection up and then keeps it current from the event
// bus until ctx is cancelled or Stop is called.
func (m *ProjectionManager) Start(ctx context.Context, name string) error {
	if m.bus == nil {
		return errors.New("projection manager has no event bus")
	}
	p, err := m.lookup(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, running := m.running[name]; running {
		m.mu.Unlock()
		return fmt.Errorf("projection %s already running", name)
	}
	projCtx, cancel := context.WithCancel(ctx)
	m.running[name] = cancel
	m.mu.Unlock()

	fail := func(err error) error {
		cancel()
		m.mu.Lock()
		delete(m.running, name)
		m.mu.Unlock()
		return err
	}

	p.mu.Lock()
	cp, err := m.checkpoint(ctx, name)
	if err != nil {
		p.mu.Unlock()
		return fail(fmt.Errorf("failed to load checkpoint: %w", err))
	}
	if err := m.catchUp(ctx, p, &cp); err != nil {
		p.mu.Unlock()
		return fail(err)
	}
	p.mu.Unlock()

	subscription, err := m.bus.Subscribe(EventFilter{}, func(_ context.Context, env Envelope) error {
		// Deliveries racing the unsubscribe after Stop are dropped.
		if projCtx.Err() != nil {
			return nil
		}
		p.mu.Lock()
		defer p.mu.Unlock()

		// A gap means another append was published out of order or missed;
		// read the log instead of the message.
		if env.Position > cp.Position+1 {
			return m.catchUp(projCtx, p, &cp)
		}

		if err := m.apply(projCtx, p, &cp, env); err != nil {
			m.logger.ErrorContext(projCtx, "projection failed",
				slog.String("projection", name),
				slog.String("event_id", env.ID),
				slog.String("error", err.Error()),
			)
			return err
		}
		if err := m.checkpoints.SaveCheckpoint(projCtx, cp); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return fail(fmt.Errorf("failed to subscribe: %w", err))
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-projCtx.Done()
		if err := subscription.Unsubscribe(); err != nil {
			m.logger.Warn("unsubscribe failed", slog.String("projection", name), slog.String("error", err.Error()))
		}
	}()

	m.logger.InfoContext(ctx, "projection started",
		slog.String("projection", name),
		slog.Int64("position", cp.Position),
	)
	return nil
}

// Stop stops a running projection.
func (m *ProjectionManager) Stop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cancel, running := m.running[name]
	if !running {
		return fmt.Errorf("projection %s not running", name)
	}
	cancel()
	delete(m.running, name)
	return nil
}

// Rebuild resets the projection and replays the whole global log into it.
// A running projection is stopped first.
func (m *ProjectionManager) Rebuild(ctx context.Context, name string) error {
	p, err := m.lookup(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if cancel, running := m.running[name]; running {
		cancel()
		delete(m.running, name)
	}
	m.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.projection.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset projection: %w", err)
	}
	if err := m.checkpoints.DeleteCheckpoint(ctx, name); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	cp := Checkpoint{ProjectionName: name}
	return m.catchUp(ctx, p, &cp)
}

// StopAll stops all running projections and waits for their subscriptions
// to be released.
func (m *ProjectionManager) StopAll() {
	m.mu.Lock()
	for name, cancel := range m.running {
		cancel()
		delete(m.running, name)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// Checkpoint returns the stored checkpoint for a projection.
func (m *ProjectionManager) Checkpoint(ctx context.Context, name string) (Checkpoint, error) {
	return m.checkpoints.LoadCheckpoint(ctx, name)
}

// ProjectionBuilder assembles a Projection from per-event-type handlers.
type ProjectionBuilder struct {
	name      string
	handlers  map[string]EventHandler
	resetFunc func(context.Context) error
}

// NewProjectionBuilder creates a builder for a projection called name.
//
// Example:
//
//	projection := eventsourcing.NewProjectionBuilder("balances").
//	    On("credited", onCredited).
//	    On("debited", onDebited).
//	    OnReset(clear).
//	    Build()
func NewProjectionBuilder(name string) *ProjectionBuilder {
	return &ProjectionBuilder{
		name:     name,
		handlers: make(map[string]EventHandler),
	}
}

// On registers the handler for one event type.
func (b *ProjectionBuilder) On(eventType string, handler EventHandler) *ProjectionBuilder {
	b.handlers[eventType] = handler
	return b
}

// OnReset registers a function to reset the projection state.
func (b *ProjectionBuilder) OnReset(resetFunc func(context.Context) error) *ProjectionBuilder {
	b.resetFunc = resetFunc
	return b
}

// Build creates the projection.
func (b *ProjectionBuilder) Build() Projection {
	handlers := make(map[string]EventHandler, len(b.handlers))
	for k, v := range b.handlers {
		handlers[k] = v
	}
	return &builtProjection{
		name:      b.name,
		handlers:  handlers,
		resetFunc: b.resetFunc,
	}
}

type builtProjection struct {
	name      string
	handlers  map[string]EventHandler
	resetFunc func(context.Context) error
}

func (p *builtProjection) Name() string { return p.name }

func (p *builtProjection) Handle(ctx context.Context, env Envelope) error {
	handler, exists := p.handlers[env.EventType]
	if !exists {
		// No handler registered for this event type - skip it
		return nil
	}
	return handler(ctx, env)
}

func (p *builtProjection) Reset(ctx context.Context) error {
	if p.resetFunc == nil {
		return nil
	}
	return p.resetFunc(ctx)
}
