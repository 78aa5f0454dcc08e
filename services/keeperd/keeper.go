package keeperd

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"kusdcore/observability"
)

// Outcome labels recorded per sweep.
const (
	OutcomeReleased = "released"
	OutcomeIdle     = "idle"
	OutcomeError    = "error"
)

// Releaser is the node call the keeper drives. *NodeClient implements it;
// tests substitute a stub.
type Releaser interface {
	ReleaseFromActive(ctx context.Context, caller string, max int, corrID string) (ReleaseResult, error)
}

// Keeper drives periodic release sweeps against the node.
type Keeper struct {
	client   Releaser
	history  *History
	metrics  *observability.KeeperMetrics
	logger   *slog.Logger
	caller   string
	max      int
	interval time.Duration
	now      func() time.Time
}

// KeeperOption customises the keeper instance.
type KeeperOption func(*Keeper)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) KeeperOption {
	return func(k *Keeper) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.KeeperMetrics) KeeperOption {
	return func(k *Keeper) { k.metrics = m }
}

// WithHistory attaches the sweep log.
func WithHistory(h *History) KeeperOption {
	return func(k *Keeper) { k.history = h }
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) KeeperOption {
	return func(k *Keeper) {
		if clock != nil {
			k.now = clock
		}
	}
}

// NewKeeper constructs a keeper sweeping at the configured cadence.
func NewKeeper(client Releaser, caller string, max int, interval time.Duration, opts ...KeeperOption) *Keeper {
	k := &Keeper{
		client:   client,
		caller:   caller,
		max:      max,
		interval: interval,
		metrics:  observability.Keeper(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Run sweeps immediately and then on every tick until the context ends.
func (k *Keeper) Run(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.Sweep(ctx)
		}
	}
}

// Sweep performs one release pass and records the result. An idle pass,
// where the node reports nothing due, counts as success.
func (k *Keeper) Sweep(ctx context.Context) (int, error) {
	tracer := otel.Tracer("kusdcore/services/keeperd")
	ctx, span := tracer.Start(ctx, "keeper.sweep")
	defer span.End()

	corrID := uuid.NewString()
	started := k.now()
	result, err := k.client.ReleaseFromActive(ctx, k.caller, k.max, corrID)
	elapsed := k.now().Sub(started)

	sweep := Sweep{
		CorrelationID: corrID,
		StartedAt:     started,
		Duration:      elapsed,
		Released:      result.Released,
		Active:        result.Active,
	}
	switch {
	case err == nil:
		sweep.Outcome = OutcomeReleased
		span.SetAttributes(attribute.Int("keeper.released", result.Released))
		k.metrics.SetLastSuccess(k.now())
		k.logger.Info("release sweep completed",
			"released", result.Released,
			"active", result.Active,
			"correlationId", corrID,
		)
	case IsNothingDue(err):
		sweep.Outcome = OutcomeIdle
		err = nil
		k.metrics.SetLastSuccess(k.now())
		k.logger.Debug("release sweep idle", "correlationId", corrID)
	default:
		sweep.Outcome = OutcomeError
		sweep.Detail = err.Error()
		span.RecordError(err)
		k.logger.Error("release sweep failed", "error", err, "correlationId", corrID)
	}
	k.metrics.RecordSweep(sweep.Outcome, sweep.Released, elapsed)

	if k.history != nil {
		// Detached context: the row should land even when the parent is
		// tearing down.
		recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if recordErr := k.history.Record(recordCtx, sweep); recordErr != nil {
			k.logger.Error("sweep history write failed", "error", recordErr, "correlationId", corrID)
		}
	}
	return sweep.Released, err
}
