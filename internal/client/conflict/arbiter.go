// Package conflict implements the client's conflict arbiter
// (component-design.md §4.10): the single decision point consulted
// whenever the engine dequeues a CONFLICT_RESOLVE task, exposing
// resolve(path) -> {USE_LOCAL, USE_SERVER, USE_MERGED, CANCELLED} with
// grace periods against re-triggering and per-path single-flight so a
// burst of duplicate conflict notifications for the same path only
// consults the policy once.
package conflict

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Decision is the arbiter's resolution outcome for one conflicted path.
type Decision string

// Recognized decisions (spec.md §4.10).
const (
	UseLocal  Decision = "USE_LOCAL"
	UseServer Decision = "USE_SERVER"
	UseMerged Decision = "USE_MERGED"
	Cancelled Decision = "CANCELLED"
)

// resolvedGrace is how long a path stays "recently resolved" after a
// decision, during which further CONFLICT_RESOLVE requests for the same
// path are a no-op — prevents pong-pong loops with the push channel
// re-announcing the same conflict before the resolution lands.
const resolvedGrace = 15 * time.Second

// uploadedGrace suppresses metadata-conflict follow-ups shortly after
// this client's own upload completes, since that upload is what the
// server's next event will be reporting back.
const uploadedGrace = 10 * time.Second

// Policy decides the resolution for a conflicted path. The default
// automatic policy (see NewAutomaticArbiter) always picks UseLocal
// (last-write-wins via local upload); an interactive implementation
// would prompt the user instead. Per "the sync worker MUST NOT block
// waiting for UI" (spec.md §4.10), an interactive Policy must itself
// return promptly — e.g. by posting a request to a UI queue and
// returning Cancelled if ctx is done before the user responds — the
// arbiter does not impose a timeout of its own.
type Policy interface {
	Decide(ctx context.Context, path string) (Decision, error)
}

// AutomaticPolicy always resolves in favor of the local copy.
type AutomaticPolicy struct{}

func (AutomaticPolicy) Decide(_ context.Context, _ string) (Decision, error) {
	return UseLocal, nil
}

// Arbiter consults a Policy for each conflicted path, applying grace
// periods and de-duplicating concurrent requests for the same path.
type Arbiter struct {
	policy Policy
	logger *slog.Logger
	group  singleflight.Group

	mu               sync.Mutex
	recentlyResolved map[string]time.Time
	recentlyUploaded map[string]time.Time
}

// NewAutomaticArbiter builds an Arbiter backed by AutomaticPolicy, the
// default when no interactive arbiter is attached (spec.md §4.10).
func NewAutomaticArbiter(logger *slog.Logger) *Arbiter {
	return New(AutomaticPolicy{}, logger)
}

// New builds an Arbiter backed by the given Policy.
func New(policy Policy, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Arbiter{
		policy:           policy,
		logger:           logger,
		recentlyResolved: make(map[string]time.Time),
		recentlyUploaded: make(map[string]time.Time),
	}
}

// Resolve returns the arbiter's decision for path, or Cancelled with no
// error if path is within its post-resolution grace period (a no-op,
// not a failure — the caller should simply drop the queue entry).
func (a *Arbiter) Resolve(ctx context.Context, path string) (Decision, error) {
	if a.withinGrace(path) {
		a.logger.Debug("conflict resolution suppressed by grace period", slog.String("path", path))
		return Cancelled, nil
	}

	result, err, _ := a.group.Do(path, func() (any, error) {
		decision, err := a.policy.Decide(ctx, path)
		if err != nil {
			return Decision(""), err
		}

		a.markResolved(path)

		return decision, nil
	})
	if err != nil {
		return "", err
	}

	return result.(Decision), nil
}

// MarkUploaded records that this client just finished uploading path,
// starting the "recently uploaded" suppression window.
func (a *Arbiter) MarkUploaded(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.recentlyUploaded[path] = time.Now()
}

// RecentlyUploaded reports whether path completed an upload within the
// last uploadedGrace — callers use this to suppress a metadata-only
// conflict follow-up their own upload is about to trigger.
func (a *Arbiter) RecentlyUploaded(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.recentlyUploaded[path]

	return ok && time.Since(t) < uploadedGrace
}

func (a *Arbiter) markResolved(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.recentlyResolved[path] = time.Now()
}

func (a *Arbiter) withinGrace(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.recentlyResolved[path]

	return ok && time.Since(t) < resolvedGrace
}
