package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/freemre/avatargen/internal/altspace"
	"github.com/freemre/avatargen/internal/render"
	"github.com/freemre/avatargen/internal/requestlog"
)

// Outcome is the single terminal result of a request. Every stage failure
// maps to exactly one outcome; no stage retries itself.
type Outcome int

const (
	Delivered Outcome = iota
	UserNotFound
	QuotaExceeded
	RenderFailed
	DeliveryFailed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case UserNotFound:
		return "user_not_found"
	case QuotaExceeded:
		return "quota_exceeded"
	case RenderFailed:
		return "render_failed"
	case DeliveryFailed:
		return "delivery_failed"
	default:
		return "unknown"
	}
}

// Request is one inbound avatar generation call. Immutable; only log lines
// outlive the pipeline run.
type Request struct {
	Username   string
	Email      string
	ExtraThicc bool
	Autorig    bool
	SourceIP   string
}

// Result pairs the terminal outcome with a message safe to show the
// requester directly.
type Result struct {
	Outcome Outcome
	Message string
}

type CustomizationFetcher interface {
	FetchCustomization(ctx context.Context, username string) (altspace.Customization, error)
}

type QuotaChecker interface {
	Check(email string) error
}

type Renderer interface {
	Render(ctx context.Context, payload []byte, email, username string, opts render.Options) (string, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, email, username, artifactPath string) error
}

type Notifier interface {
	Requested(username, email, sourceIP string)
	Completed(username, email string)
}

// Orchestrator drives one request through fetch, quota check, render and
// delivery, short-circuiting on the first failure.
type Orchestrator struct {
	fetcher   CustomizationFetcher
	quota     QuotaChecker
	renderer  Renderer
	deliverer Deliverer
	notifier  Notifier
	log       *requestlog.Logger
}

func NewOrchestrator(fetcher CustomizationFetcher, quota QuotaChecker, renderer Renderer, deliverer Deliverer, notifier Notifier, log *requestlog.Logger) *Orchestrator {
	return &Orchestrator{
		fetcher:   fetcher,
		quota:     quota,
		renderer:  renderer,
		deliverer: deliverer,
		notifier:  notifier,
		log:       log,
	}
}

// Process runs the pipeline to its terminal outcome. It does not retry and
// does not abandon work when the caller goes away; cancellation of the
// inbound connection is not propagated.
func (o *Orchestrator) Process(ctx context.Context, req Request) Result {
	// Detach from the inbound connection so a disconnecting caller cannot
	// kill a render in flight or fail a login other requests are waiting
	// on. The render timeout still applies downstream.
	ctx = context.WithoutCancel(ctx)

	id := uuid.NewString()
	o.record("req=%s received user=%s email=%s ip=%s flags=%s", id, req.Username, req.Email, req.SourceIP, render.Options{ExtraThicc: req.ExtraThicc, Autorig: req.Autorig}.Flags())
	o.notifier.Requested(req.Username, req.Email, req.SourceIP)

	customization, err := o.fetcher.FetchCustomization(ctx, req.Username)
	if err != nil {
		// Transient upstream failures and session failures end the request
		// the same way as a bad username; the log tells them apart.
		switch {
		case errors.Is(err, altspace.ErrUserNotFound):
			o.record("req=%s outcome=%s reason=unknown_username", id, UserNotFound)
		case errors.Is(err, altspace.ErrSessionUnavailable):
			slog.Error("Upstream login failed", "request_id", id, "error", err)
			o.record("req=%s outcome=%s reason=session_unavailable", id, UserNotFound)
		default:
			slog.Error("Upstream fetch failed", "request_id", id, "error", err)
			o.record("req=%s outcome=%s reason=upstream_error", id, UserNotFound)
		}
		return Result{
			Outcome: UserNotFound,
			Message: "User not found, username is case sensitive, check spelling and case",
		}
	}

	if err := o.quota.Check(req.Email); err != nil {
		if !errors.Is(err, render.ErrQuotaExceeded) {
			// A filesystem fault is an operational failure, not the
			// requester hitting their ceiling.
			slog.Error("Quota check failed", "request_id", id, "error", err)
			o.record("req=%s outcome=%s reason=quota_io", id, RenderFailed)
			return Result{
				Outcome: RenderFailed,
				Message: "Failed to generate 3D model, please try again later",
			}
		}
		o.record("req=%s outcome=%s", id, QuotaExceeded)
		return Result{
			Outcome: QuotaExceeded,
			Message: "Exceeded limit for current email",
		}
	}

	opts := render.Options{ExtraThicc: req.ExtraThicc, Autorig: req.Autorig}
	artifact, err := o.renderer.Render(ctx, customization.Raw, req.Email, req.Username, opts)
	if err != nil {
		var procErr *render.ProcessError
		if errors.As(err, &procErr) {
			slog.Error("Renderer failed", "request_id", id, "error", err, "output", string(procErr.Output))
		} else {
			slog.Error("Renderer failed", "request_id", id, "error", err)
		}
		o.record("req=%s outcome=%s", id, RenderFailed)
		return Result{
			Outcome: RenderFailed,
			Message: "Failed to generate 3D model, please try again later",
		}
	}

	if err := o.deliverer.Deliver(ctx, req.Email, req.Username, artifact); err != nil {
		// The artifact stays on disk; the preview endpoint still serves it.
		slog.Error("Mail delivery failed", "request_id", id, "error", err)
		o.record("req=%s outcome=%s artifact=%s", id, DeliveryFailed, artifact)
		return Result{
			Outcome: DeliveryFailed,
			Message: "Failed to send email, please try again later",
		}
	}

	o.record("req=%s outcome=%s artifact=%s", id, Delivered, artifact)
	o.notifier.Completed(req.Username, req.Email)
	return Result{Outcome: Delivered, Message: "success"}
}

func (o *Orchestrator) record(format string, args ...any) {
	if o.log == nil {
		return
	}
	if err := o.log.Append(format, args...); err != nil {
		slog.Warn("Request log append failed", "error", err)
	}
}
