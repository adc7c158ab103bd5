package runner

import "context"

// Service is a long-running component managed by a Runner.
type Service interface {
	// Name identifies the service in logs and errors.
	Name() string

	// Start blocks until the service is ready. It must respect ctx.
	Start(ctx context.Context) error

	// Stop shuts the service down within the deadline of ctx.
	Stop(ctx context.Context) error
}

type funcService struct {
	name  string
	start func(context.Context) error
	stop  func(context.Context) error
}

// NewService builds a Service from a pair of functions. Either may be nil.
func NewService(name string, start, stop func(context.Context) error) Service {
	return &funcService{name: name, start: start, stop: stop}
}

func (s *funcService) Name() string { return s.name }

func (s *funcService) Start(ctx context.Context) error {
	if s.start == nil {
		return nil
	}
	return s.start(ctx)
}

func (s *funcService) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	return s.stop(ctx)
}
