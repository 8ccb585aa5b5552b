// Package lifecycle owns the install job state machine. The platform has no
// control channel to the remote install, so forward progress is inferred
// from passive delivery accesses; completion and failure arrive as explicit
// control calls.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/provisboard/provisd/internal/provisd/domain"
	"github.com/provisboard/provisd/internal/provisd/quota"
	"github.com/provisboard/provisd/pkg/errors"
	"github.com/provisboard/provisd/pkg/logger"
)

// Publisher receives one event per successful transition
type Publisher interface {
	Publish(event domain.TransitionEvent)
}

// CreateRequest carries everything needed to create an install job
type CreateRequest struct {
	Owner       string
	Target      string
	Variant     string
	BootSecret  string
	AdminSecret string
}

// Tracker is the install job state machine. Per-owner mutations are
// serialized through a keyed mutex; cross-owner operations run in parallel.
type Tracker struct {
	store    Store
	ledger   quota.Ledger
	hub      Publisher
	variants map[string]struct{}
	logger   *logger.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// now is swappable for tests
	now func() time.Time
}

// NewTracker creates a tracker over the given collaborators. variants is the
// set of valid install catalog keys.
func NewTracker(store Store, ledger quota.Ledger, hub Publisher, variants []string) *Tracker {
	known := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		known[v] = struct{}{}
	}

	return &Tracker{
		store:    store,
		ledger:   ledger,
		hub:      hub,
		variants: known,
		logger:   logger.WithField("component", "lifecycle-tracker"),
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

// ownerLock returns the mutex serializing mutations for one owner
func (t *Tracker) ownerLock(owner string) *sync.Mutex {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()

	mu, exists := t.locks[owner]
	if !exists {
		mu = &sync.Mutex{}
		t.locks[owner] = mu
	}
	return mu
}

// Create validates the request, reserves one quota unit and inserts the job
// in PENDING. Validation and resource checks happen before any mutation.
func (t *Tracker) Create(ctx context.Context, req CreateRequest) (*domain.InstallJob, error) {
	if err := domain.ValidateTarget(req.Target); err != nil {
		return nil, err
	}
	if _, known := t.variants[req.Variant]; !known {
		return nil, errors.ErrInvalidVariant
	}
	if err := domain.ValidateSecret(req.BootSecret); err != nil {
		return nil, err
	}
	if err := domain.ValidateSecret(req.AdminSecret); err != nil {
		return nil, err
	}

	mu := t.ownerLock(req.Owner)
	mu.Lock()
	defer mu.Unlock()

	active, err := t.store.List(ctx, &Filter{
		Owner:      req.Owner,
		Target:     req.Target,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, errors.WrapJobError(active[0].Id, "create", errors.ErrDuplicateActiveJob)
	}

	if err := t.ledger.Reserve(ctx, req.Owner); err != nil {
		return nil, err
	}

	now := t.now()
	job := &domain.InstallJob{
		Id:          uuid.NewString(),
		Owner:       req.Owner,
		Target:      req.Target,
		Variant:     req.Variant,
		BootSecret:  req.BootSecret,
		AdminSecret: req.AdminSecret,
		Status:      domain.StatusPending,
		Message:     "install queued, waiting for the remote host",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := t.store.Create(ctx, job); err != nil {
		// Undo the reservation so a storage fault never burns quota
		if refundErr := t.ledger.Refund(ctx, req.Owner); refundErr != nil {
			t.logger.Error("failed to refund after store error",
				"owner", req.Owner, "error", refundErr)
		}
		return nil, errors.WrapJobError(job.Id, "create", err)
	}

	t.logger.Info("install job created",
		"jobId", job.Id,
		"owner", job.Owner,
		"target", job.Target,
		"variant", job.Variant)

	t.publish(job, "created")

	return job.DeepCopy(), nil
}

// OnAccessEvent advances job state from a passive delivery access. Events
// with no matching active job, or arriving after a terminal state, are
// logged and swallowed; passive telemetry never surfaces errors to the
// delivery path.
func (t *Tracker) OnAccessEvent(ctx context.Context, event domain.AccessEvent) {
	job, err := t.findAccessTarget(ctx, event)
	if err != nil || job == nil {
		t.logger.Debug("access event without matching active job",
			"addr", event.Addr, "artifact", event.Artifact, "tool", event.Tool)
		return
	}

	mu := t.ownerLock(job.Owner)
	mu.Lock()
	defer mu.Unlock()

	// Reload under the lock; a control call may have won the race
	job, err = t.store.Get(ctx, job.Id)
	if err != nil {
		return
	}
	if job.Status.Terminal() {
		t.logger.Debug("access event after terminal state ignored",
			"jobId", job.Id, "status", job.Status)
		return
	}

	var next domain.InstallStatus
	var message string
	switch {
	case event.Class == domain.ToolSimpleFetch && job.Status == domain.StatusPending:
		next = domain.StatusPreparing
		message = "remote host fetched install configuration"
	case event.Class == domain.ToolResumableFetch &&
		(job.Status == domain.StatusPending || job.Status == domain.StatusPreparing):
		next = domain.StatusRunning
		message = "remote host is downloading the install payload"
	default:
		// Repeated fetches at the same stage carry no new information
		t.logger.Debug("access event without transition",
			"jobId", job.Id, "status", job.Status, "class", event.Class.String())
		return
	}

	if err := t.transition(ctx, job, next, message); err != nil {
		t.logger.Warn("passive transition failed",
			"jobId", job.Id, "error", err)
	}
}

// findAccessTarget resolves the job an access event refers to: by explicit
// correlation when present, otherwise the most recent active job for the
// client address.
func (t *Tracker) findAccessTarget(ctx context.Context, event domain.AccessEvent) (*domain.InstallJob, error) {
	if event.JobID != "" {
		job, err := t.store.Get(ctx, event.JobID)
		if err != nil {
			return nil, err
		}
		return job, nil
	}

	jobs, err := t.store.List(ctx, &Filter{
		Target:     event.Addr,
		ActiveOnly: true,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// Complete marks a job COMPLETED. Permitted from RUNNING, and from
// PREPARING as a tolerant fallback for installs whose payload fetch was
// never observed. Completing an already-terminal job is an idempotent no-op
// returning the existing terminal state.
func (t *Tracker) Complete(ctx context.Context, jobID, details string) (*domain.InstallJob, error) {
	return t.finish(ctx, jobID, domain.StatusCompleted, details)
}

// Fail marks a job FAILED. Same state rules as Complete. No quota refund:
// the remote install consumed resources before failing; refund policy for
// failures belongs to the business layer, not this core.
func (t *Tracker) Fail(ctx context.Context, jobID, reason string) (*domain.InstallJob, error) {
	return t.finish(ctx, jobID, domain.StatusFailed, reason)
}

func (t *Tracker) finish(ctx context.Context, jobID string, terminal domain.InstallStatus, message string) (*domain.InstallJob, error) {
	job, err := t.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	mu := t.ownerLock(job.Owner)
	mu.Lock()
	defer mu.Unlock()

	job, err = t.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status.Terminal() {
		return job, nil
	}

	if job.Status != domain.StatusRunning && job.Status != domain.StatusPreparing {
		return nil, errors.WrapJobError(jobID, "finish", errors.ErrInvalidTransition)
	}

	if err := t.transition(ctx, job, terminal, message); err != nil {
		return nil, err
	}

	return job.DeepCopy(), nil
}

// Cancel cancels a PENDING job and refunds its quota unit. Once the job is
// PREPARING or later the remote side may already be acting, so cancellation
// is rejected and state and balance are left untouched.
func (t *Tracker) Cancel(ctx context.Context, jobID, owner string) (*domain.InstallJob, error) {
	job, err := t.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Owner != owner {
		// Do not reveal other owners' job ids
		return nil, errors.NewJobNotFoundError(jobID)
	}

	mu := t.ownerLock(owner)
	mu.Lock()
	defer mu.Unlock()

	job, err = t.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != domain.StatusPending {
		return nil, errors.WrapJobError(jobID, "cancel", errors.ErrInvalidTransition)
	}

	if err := t.transition(ctx, job, domain.StatusCancelled, "cancelled by owner"); err != nil {
		return nil, err
	}

	// Exactly one refund per job, and only on the cancellation path
	if err := t.ledger.Refund(ctx, owner); err != nil {
		t.logger.Error("refund after cancellation failed",
			"jobId", jobID, "owner", owner, "error", err)
	}

	return job.DeepCopy(), nil
}

// Get returns a job by id
func (t *Tracker) Get(ctx context.Context, jobID string) (*domain.InstallJob, error) {
	return t.store.Get(ctx, jobID)
}

// ListActive returns the owner's non-terminal jobs, most recent first
func (t *Tracker) ListActive(ctx context.Context, owner string) ([]*domain.InstallJob, error) {
	return t.store.List(ctx, &Filter{Owner: owner, ActiveOnly: true})
}

// transition moves job to next, persists it and emits one hub event.
// Callers must hold the owner lock and have verified the transition.
func (t *Tracker) transition(ctx context.Context, job *domain.InstallJob, next domain.InstallStatus, message string) error {
	job.Status = next
	job.Message = message
	job.UpdatedAt = t.now()

	if err := t.store.Update(ctx, job); err != nil {
		return errors.WrapJobError(job.Id, "transition", err)
	}

	t.logger.Info("install job transitioned",
		"jobId", job.Id,
		"status", job.Status,
		"message", message)

	t.publish(job, "status")
	return nil
}

func (t *Tracker) publish(job *domain.InstallJob, eventType string) {
	if t.hub == nil {
		return
	}
	t.hub.Publish(domain.TransitionEvent{
		Type:      eventType,
		JobID:     job.Id,
		Owner:     job.Owner,
		Status:    job.Status,
		Message:   job.Message,
		Timestamp: job.UpdatedAt,
	})
}
