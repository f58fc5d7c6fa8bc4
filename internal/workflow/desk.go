package workflow

import (
	"context"

	"github.com/tejzpr/training-desk/internal/auth"
	"github.com/tejzpr/training-desk/internal/db"
)

// Desk is the command surface gateways drive. *Engine implements it in the
// process that owns the database; webserver.Client forwards to that process.
type Desk interface {
	SubmitStandard(ctx context.Context, actor auth.Actor, cmd SubmitStandard) (*SubmitResult, error)
	SubmitElevated(ctx context.Context, actor auth.Actor, cmd SubmitElevated) (*SubmitResult, error)
	Accept(ctx context.Context, actor auth.Actor, cmd Accept) (*AcceptResult, error)
	LogResult(ctx context.Context, actor auth.Actor, cmd LogResult) (*ResultLogged, error)
	Get(ctx context.Context, actor auth.Actor, id string) (*db.Request, error)
	List(ctx context.Context, actor auth.Actor, q ListQuery) ([]db.Request, error)
}

var _ Desk = (*Engine)(nil)
