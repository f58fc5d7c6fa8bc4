// Package workflow is the training request lifecycle: eligibility, cooldown,
// id allocation, persistence, review and notification.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tejzpr/training-desk/internal/allocator"
	"github.com/tejzpr/training-desk/internal/auth"
	"github.com/tejzpr/training-desk/internal/cooldown"
	"github.com/tejzpr/training-desk/internal/db"
	"github.com/tejzpr/training-desk/internal/errcodes"
	"github.com/tejzpr/training-desk/internal/notify"
	"github.com/tejzpr/training-desk/internal/store"
	"gorm.io/gorm"
)

// Claims names the authorization claim each command requires.
type Claims struct {
	Standard string
	Elevated string
	Reviewer string
}

type Config struct {
	Claims         Claims
	ReviewChannel  string
	ResultsChannel string
	// ReviewRole is pinged on new submissions.
	ReviewRole     string
	CooldownWindow time.Duration
	StandardPrefix string
	ElevatedPrefix string
}

type Engine struct {
	// mu guards the cooldown check, id allocation and record insert of a
	// submission. Everything else runs outside it.
	mu sync.Mutex

	db         *gorm.DB
	store      *store.Store
	alloc      *allocator.Allocator
	gate       *cooldown.Gate
	dispatcher notify.Dispatcher
	validate   *validator.Validate

	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func New(d *gorm.DB, dispatcher notify.Dispatcher, cfg Config, opts ...Option) *Engine {
	if dispatcher == nil {
		dispatcher = notify.Discard{}
	}
	e := &Engine{
		db:    d,
		store: store.New(d),
		alloc: allocator.New(d,
			allocator.WithPrefix(db.CategoryStandard, cfg.StandardPrefix),
			allocator.WithPrefix(db.CategoryElevated, cfg.ElevatedPrefix),
		),
		gate:       cooldown.New(d, cfg.CooldownWindow),
		dispatcher: dispatcher,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		cfg:        cfg,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) SubmitStandard(ctx context.Context, actor auth.Actor, cmd SubmitStandard) (*SubmitResult, error) {
	if err := auth.Require(actor, e.cfg.Claims.Standard); err != nil {
		e.logger.Info("training submission without DST claim", "actor", actor.ID)
		return nil, reject(errcodes.StandardRoleRequired, err)
	}
	cmd.Availability = strings.TrimSpace(cmd.Availability)
	if err := e.validate.Struct(cmd); err != nil {
		return nil, reject(errcodes.InvalidInput, fmt.Errorf("%w: %w", ErrInvalidCommand, err))
	}
	if !cmd.Eligible {
		return nil, reject(errcodes.NotEligible, ErrNotEligible)
	}
	return e.submit(ctx, actor, db.CategoryStandard, cmd.Availability)
}

// SubmitElevated files an EVOC request. The category implies eligibility.
func (e *Engine) SubmitElevated(ctx context.Context, actor auth.Actor, cmd SubmitElevated) (*SubmitResult, error) {
	if err := auth.Require(actor, e.cfg.Claims.Elevated); err != nil {
		e.logger.Info("EVOC submission without elevated claim", "actor", actor.ID)
		return nil, reject(errcodes.ElevatedRoleRequired, err)
	}
	cmd.Availability = strings.TrimSpace(cmd.Availability)
	if err := e.validate.Struct(cmd); err != nil {
		return nil, reject(errcodes.InvalidInput, fmt.Errorf("%w: %w", ErrInvalidCommand, err))
	}
	return e.submit(ctx, actor, db.CategoryElevated, cmd.Availability)
}

func (e *Engine) submit(ctx context.Context, actor auth.Actor, category db.Category, availability string) (*SubmitResult, error) {
	rec := db.Request{
		SubmitterID:   actor.ID,
		SubmitterName: actor.Name,
		Category:      category,
		Availability:  availability,
		Eligible:      true,
		Status:        db.StatusPending,
	}

	e.mu.Lock()
	now := e.now()
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.gate.WithTx(tx).CheckAndRecord(ctx, actor.ID, now); err != nil {
			return err
		}
		id, err := e.alloc.WithTx(tx).Allocate(ctx, category)
		if err != nil {
			return err
		}
		rec.ID = id
		return e.store.WithTx(tx).Create(ctx, &rec)
	})
	e.mu.Unlock()

	if err != nil {
		var remaining *cooldown.RemainingError
		switch {
		case errors.As(err, &remaining):
			e.logger.Debug("submission on cooldown", "actor", actor.ID, "remaining", remaining.Remaining)
			return nil, reject(errcodes.Cooldown, err)
		case errors.Is(err, store.ErrDuplicateID):
			e.logger.Error("allocated id already exists", "id", rec.ID, "error", err)
		default:
			e.logger.Error("submission failed", "actor", actor.ID, "category", category, "error", err)
		}
		return nil, fmt.Errorf("submit %s training: %w", category, err)
	}

	e.logger.Info("training submitted", "id", rec.ID, "category", category, "actor", actor.ID)

	result := &SubmitResult{}
	e.announceSubmission(ctx, &rec, result)
	result.Request = rec
	return result, nil
}

// announceSubmission runs after the record is committed; nothing here can
// undo the submission.
func (e *Engine) announceSubmission(ctx context.Context, rec *db.Request, result *SubmitResult) {
	ref, ok := e.dispatcher.Deliver(ctx, e.submissionPost(rec))
	if !ok {
		e.logger.Warn("review channel post failed", "id", rec.ID, "channel", e.cfg.ReviewChannel)
		result.Warnings = append(result.Warnings, Warning{
			Code:    errcodes.ChannelNotFound,
			Message: "Training submitted, but the review channel could not be notified.",
		})
	} else if err := e.store.SetNotificationRef(ctx, rec.ID, ref); err != nil {
		e.logger.Error("failed to store notification ref", "id", rec.ID, "error", err)
	} else {
		rec.NotificationRef = &ref
	}

	if _, ok := e.dispatcher.Deliver(ctx, submissionConfirmation(rec)); !ok {
		e.logger.Warn("submitter unreachable", "id", rec.ID, "actor", rec.SubmitterID)
		result.Warnings = append(result.Warnings, Warning{
			Code:    errcodes.ChannelNotFound,
			Message: "Training submitted, but I couldn't DM you. Please enable DMs from server members.",
		})
	}
}

// Accept moves a pending request to accepted. The transition commits before
// any notification is attempted and is never rolled back.
func (e *Engine) Accept(ctx context.Context, actor auth.Actor, cmd Accept) (*AcceptResult, error) {
	if !actor.Has(e.cfg.Claims.Reviewer) {
		e.logger.Info("accept without reviewer claim", "actor", actor.ID, "id", cmd.ID)
		return nil, reject(errcodes.PermissionDenied, ErrPermissionDenied)
	}
	cmd.ID = strings.TrimSpace(cmd.ID)
	if err := e.validate.Struct(cmd); err != nil {
		return nil, reject(errcodes.InvalidInput, fmt.Errorf("%w: %w", ErrInvalidCommand, err))
	}

	rec, err := e.store.Get(ctx, cmd.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, reject(errcodes.NotFound, err)
		}
		e.logger.Error("accept lookup failed", "id", cmd.ID, "error", err)
		return nil, fmt.Errorf("accept %s: %w", cmd.ID, err)
	}
	if rec.IsAccepted() {
		return nil, reject(errcodes.AlreadyAccepted, fmt.Errorf("%s: %w", cmd.ID, ErrAlreadyAccepted))
	}

	now := e.now()
	if err := e.store.MarkAccepted(ctx, rec.ID, actor.ID, now); err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyInStatus):
			return nil, reject(errcodes.AlreadyAccepted, fmt.Errorf("%s: %w", cmd.ID, ErrAlreadyAccepted))
		case errors.Is(err, store.ErrNotFound):
			return nil, reject(errcodes.NotFound, err)
		}
		e.logger.Error("accept failed", "id", rec.ID, "error", err)
		return nil, fmt.Errorf("accept %s: %w", cmd.ID, err)
	}
	rec.Status = db.StatusAccepted
	rec.AcceptedBy = actor.ID
	rec.AcceptedAt = &now

	e.logger.Info("training accepted", "id", rec.ID, "reviewer", actor.ID)

	result := &AcceptResult{Request: *rec}
	if _, ok := e.dispatcher.Deliver(ctx, acceptedMessage(rec)); !ok {
		e.logger.Warn("submitter unreachable", "id", rec.ID, "actor", rec.SubmitterID)
		result.Warnings = append(result.Warnings, Warning{
			Code:    errcodes.ChannelNotFound,
			Message: fmt.Sprintf("Training accepted, but the user with ID %s could not be reached.", rec.SubmitterID),
		})
	}
	if _, ok := e.dispatcher.Deliver(ctx, e.acceptedPost(rec)); !ok {
		e.logger.Warn("review channel post failed", "id", rec.ID, "channel", e.cfg.ReviewChannel)
		result.Warnings = append(result.Warnings, Warning{
			Code:    errcodes.ChannelNotFound,
			Message: "Training accepted, but the review channel could not be notified.",
		})
	}
	return result, nil
}

// LogResult posts a training outcome to the results channel. Nothing is stored.
func (e *Engine) LogResult(ctx context.Context, actor auth.Actor, cmd LogResult) (*ResultLogged, error) {
	if !actor.Has(e.cfg.Claims.Reviewer) {
		e.logger.Info("result logging without reviewer claim", "actor", actor.ID)
		return nil, reject(errcodes.PermissionDenied, ErrPermissionDenied)
	}
	cmd.Trainee = strings.TrimSpace(cmd.Trainee)
	cmd.Score = strings.TrimSpace(cmd.Score)
	if err := e.validate.Struct(cmd); err != nil {
		return nil, reject(errcodes.InvalidInput, fmt.Errorf("%w: %w", ErrInvalidCommand, err))
	}

	ref, ok := e.dispatcher.Deliver(ctx, e.resultPost(actor.ID, cmd))
	if !ok {
		e.logger.Error("results channel post failed", "channel", e.cfg.ResultsChannel)
		return nil, reject(errcodes.ChannelNotFound, ErrDeliveryFailed)
	}
	e.logger.Info("training results logged", "trainee", cmd.Trainee, "host", actor.ID)
	return &ResultLogged{Ref: ref}, nil
}

// Get returns a request to its submitter or to a reviewer.
func (e *Engine) Get(ctx context.Context, actor auth.Actor, id string) (*db.Request, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, reject(errcodes.NotFound, err)
		}
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if rec.SubmitterID != actor.ID && !actor.Has(e.cfg.Claims.Reviewer) {
		return nil, reject(errcodes.PermissionDenied, ErrPermissionDenied)
	}
	return rec, nil
}

// List returns requests matching q. Non-reviewers only see their own.
func (e *Engine) List(ctx context.Context, actor auth.Actor, q ListQuery) ([]db.Request, error) {
	if !actor.Has(e.cfg.Claims.Reviewer) {
		q.SubmitterID = actor.ID
	}
	requests, err := e.store.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return requests, nil
}
