package uow

import (
	"context"
)

// Interceptor observes the save pipeline of a Session.
//
// SavingChanges runs before the transaction begins, while Original values are still
// available; the context it returns is passed to the later hooks of the same call.
// Exactly one of SavedChanges or SaveFailed follows. Interceptors cannot fail a save.
type Interceptor interface {
	SavingChanges(ctx context.Context, sc *SaveContext) context.Context
	SavedChanges(ctx context.Context, sc *SaveContext, affected int)
	SaveFailed(ctx context.Context, sc *SaveContext, err error)
}
