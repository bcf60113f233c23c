// Package pipeline runs a single contact-form submission through token
// validation, field extraction, enrichment, persistence, and notification.
package pipeline

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-form/internal/auth"
	"github.com/JakeFAU/contact-form/internal/contact"
	"github.com/JakeFAU/contact-form/internal/metrics"
	"github.com/JakeFAU/contact-form/internal/publisher"
	"github.com/JakeFAU/contact-form/internal/store"
)

// TokenValidator checks the Authorization header against the caller IP.
type TokenValidator interface {
	Validate(authorization, ip string) (token string, ok bool, err error)
}

// Enricher adds location data to a submission. It never fails.
type Enricher interface {
	Enrich(ctx context.Context, sub contact.Submission) contact.Submission
}

// RecordStore appends submissions to the remote snapshot.
type RecordStore interface {
	FetchOrCreate(ctx context.Context) (*store.Snapshot, error)
	Append(ctx context.Context, snap *store.Snapshot, sub contact.Submission) (store.Record, error)
	Persist(ctx context.Context, snap *store.Snapshot) error
}

// Notifier tells the operator about a persisted record.
type Notifier interface {
	Notify(ctx context.Context, fields []contact.Field) error
}

// Deps are the collaborators of a Pipeline. Publisher may be nil.
type Deps struct {
	Validator TokenValidator
	Enricher  Enricher
	Store     RecordStore
	Notifier  Notifier
	Publisher publisher.Publisher
}

// Config tunes pipeline behaviour.
type Config struct {
	PhoneRegion string
	// BestEffortNotify logs notification failures instead of failing the
	// request. The row is already persisted either way.
	BestEffortNotify bool
	// Topic is passed to the publisher for submission events.
	Topic string
}

// Request is the transport-independent view of an inbound submission.
type Request struct {
	RequestID     string
	Method        string
	Authorization string
	ForwardedFor  string
	RemoteAddr    string
	Origin        string
	Body          []byte
}

// Outcome is the terminal result of Handle. Err is set iff State is Failed.
type Outcome struct {
	State State
	// Reached is the last step completed before State. A stored submission
	// whose best-effort mail failed stops at Persisted instead of Notified.
	Reached State
	Record  store.Record
	Err     *Error
}

// Pipeline orchestrates one submission per Handle call and holds no
// per-request state between calls.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New builds a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}
}

// Handle runs req to a terminal state.
func (p *Pipeline) Handle(ctx context.Context, req Request) Outcome {
	logger := p.logger.With(zap.String("request_id", req.RequestID))

	if req.Method == http.MethodOptions {
		metrics.ObserveSubmission("preflight")
		return Outcome{State: Complete, Reached: Received}
	}

	out := p.run(ctx, req, logger)
	if out.Err != nil {
		metrics.ObserveSubmission(out.Err.Kind.String())
		fields := []zap.Field{
			zap.String("kind", out.Err.Kind.String()),
			zap.Stringer("state", out.Err.State),
			zap.Error(out.Err.Err),
		}
		if out.Err.Kind == KindInternal {
			logger.Error("submission failed", fields...)
		} else {
			logger.Warn("submission rejected", fields...)
		}
		return out
	}

	metrics.ObserveSubmission("ok")
	logger.Info("submission stored",
		zap.Int64("contact_id", out.Record.ID),
		zap.Stringer("reached", out.Reached),
	)
	return out
}

func (p *Pipeline) run(ctx context.Context, req Request, logger *zap.Logger) Outcome {
	state := Received
	fail := func(kind Kind, err error) Outcome {
		return Outcome{State: Failed, Reached: state, Err: &Error{State: state, Kind: kind, Err: err}}
	}

	ip := auth.ClientIPFrom(req.ForwardedFor, req.RemoteAddr)
	token, _, err := p.deps.Validator.Validate(req.Authorization, ip)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidSignature) {
			return fail(KindUnauthorized, err)
		}
		return fail(KindBadRequest, err)
	}
	state = Validated

	sub, err := contact.Extract(req.Body, contact.Derived{IP: ip, Token: token, Origin: req.Origin},
		contact.Options{PhoneRegion: p.cfg.PhoneRegion})
	if err != nil {
		if errors.Is(err, contact.ErrMalformedBody) {
			return fail(KindInternal, err)
		}
		return fail(KindBadRequest, err)
	}
	state = Extracted

	sub = p.deps.Enricher.Enrich(ctx, sub)
	state = Enriched

	rec, err := p.persist(ctx, sub, logger)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			metrics.ObserveSnapshotConflict()
			return fail(KindConflict, err)
		}
		return fail(KindInternal, err)
	}
	state = Persisted

	p.publish(ctx, rec, logger)

	if err := p.deps.Notifier.Notify(ctx, rec.Fields()); err != nil {
		if !p.cfg.BestEffortNotify {
			out := fail(KindBadRequest, err)
			out.Record = rec
			return out
		}
		logger.Warn("notification failed, submission kept",
			zap.Int64("contact_id", rec.ID),
			zap.Error(err),
		)
	} else {
		state = Notified
	}

	return Outcome{State: Complete, Reached: state, Record: rec}
}

func (p *Pipeline) persist(ctx context.Context, sub contact.Submission, logger *zap.Logger) (store.Record, error) {
	snap, err := p.deps.Store.FetchOrCreate(ctx)
	if err != nil {
		return store.Record{}, err
	}
	defer func() {
		if cerr := snap.Close(); cerr != nil {
			logger.Warn("snapshot cleanup failed", zap.Error(cerr))
		}
	}()

	rec, err := p.deps.Store.Append(ctx, snap, sub)
	if err != nil {
		return store.Record{}, err
	}
	if err := p.deps.Store.Persist(ctx, snap); err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

func (p *Pipeline) publish(ctx context.Context, rec store.Record, logger *zap.Logger) {
	if p.deps.Publisher == nil {
		return
	}
	event := publisher.NewContactSubmitted(rec.ID, rec.CreatedAt, rec.Submission.Fields())
	id, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, event)
	if err != nil {
		logger.Warn("submission event not published", zap.Int64("contact_id", rec.ID), zap.Error(err))
		return
	}
	logger.Debug("submission event published", zap.String("message_id", id))
}
