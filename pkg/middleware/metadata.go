package middleware

import (
	"context"

	"github.com/plaenen/eventfold/pkg/eventsourcing"
	"github.com/plaenen/eventfold/pkg/idgen"
)

// MetadataMiddleware fills in missing command metadata before the handler
// runs, so every stored event carries a causation and correlation ID.
// defaultPrincipal is used when the context names no principal.
func MetadataMiddleware(defaultPrincipal string) eventsourcing.CommandMiddleware {
	return func(next eventsourcing.CommandHandler) eventsourcing.CommandHandler {
		return eventsourcing.CommandHandlerFunc(func(ctx context.Context, cmd eventsourcing.Command) (eventsourcing.Result, error) {
			md := eventsourcing.MetadataFrom(ctx)
			if md.CausationID == "" {
				md.CausationID = idgen.NewCorrelationID()
			}
			if md.CorrelationID == "" {
				md.CorrelationID = md.CausationID
			}
			if md.PrincipalID == "" {
				md.PrincipalID = defaultPrincipal
			}
			return next.Handle(eventsourcing.WithMetadata(ctx, md), cmd)
		})
	}
}
