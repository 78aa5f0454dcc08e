package yield

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"kusdcore/core/events"
	"kusdcore/core/types"
	"kusdcore/crypto"
	nativecommon "kusdcore/native/common"
	"kusdcore/native/stable"
)

// Sink receives released yield: the scheduler credits the sink reserve with
// the raw asset and then calls MintKUSDForVault so the vault's backing grows.
type Sink interface {
	MintKUSDForVault(asset stable.Asset, amount *big.Int) error
	ExchangeRate() *big.Int
}

// AssetView answers whether an asset is accepted by the deposit pipeline.
// The stable engine satisfies it.
type AssetView interface {
	IsAssetSupported(asset stable.Asset) bool
}

type yieldEvent struct {
	evt *types.Event
}

func (e yieldEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e yieldEvent) Event() *types.Event { return e.evt }

// Scheduler owns the distribution registry and the active set. Releases are
// permissionless; registration and cancellation are admin operations.
type Scheduler struct {
	params        Params
	distributions map[uint64]*Distribution
	lastID        uint64
	active        *ActiveSet
	ledger        stable.TokenLedger
	auth          stable.AuthorizationOracle
	assets        AssetView
	sink          Sink
	custody       crypto.Address
	sinkReserve   crypto.Address
	pauses        nativecommon.PauseView
	guard         nativecommon.CallGuard
	emitter       events.Emitter
	nowFn         func() int64
}

// NewScheduler creates a scheduler with empty state, a no-op emitter, and
// the wall clock. Collaborators are wired via the Set* methods.
func NewScheduler() *Scheduler {
	return &Scheduler{
		distributions: make(map[uint64]*Distribution),
		active:        NewActiveSet(),
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetParams validates and installs the registration bounds.
func (s *Scheduler) SetParams(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	s.params = params
	return nil
}

func (s *Scheduler) Params() Params { return s.params }

func (s *Scheduler) SetLedger(ledger stable.TokenLedger) { s.ledger = ledger }

func (s *Scheduler) SetAuthorization(oracle stable.AuthorizationOracle) { s.auth = oracle }

func (s *Scheduler) SetAssets(view AssetView) { s.assets = view }

func (s *Scheduler) SetSink(sink Sink) { s.sink = sink }

// SetCustody sets the account holding unvested pre-funded totals.
func (s *Scheduler) SetCustody(addr crypto.Address) { s.custody = addr }

// SetSinkReserve sets the account credited with released assets before the
// sink mint runs. In production this is the stable module's custody.
func (s *Scheduler) SetSinkReserve(addr crypto.Address) { s.sinkReserve = addr }

func (s *Scheduler) SetPauses(pauses nativecommon.PauseView) { s.pauses = pauses }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (s *Scheduler) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		s.emitter = events.NoopEmitter{}
		return
	}
	s.emitter = emitter
}

// SetNowFunc overrides the clock, primarily for tests. Passing nil restores
// the wall clock.
func (s *Scheduler) SetNowFunc(now func() int64) {
	if now == nil {
		s.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	s.nowFn = now
}

func (s *Scheduler) now() int64 {
	if s.nowFn == nil {
		return time.Now().Unix()
	}
	return s.nowFn()
}

func (s *Scheduler) emit(evt *types.Event) {
	if s.emitter == nil || evt == nil {
		return
	}
	s.emitter.Emit(yieldEvent{evt: evt})
}

// Register opens a pre-funded linear distribution: the admin's total moves
// into scheduler custody up front and vests from startTime over duration.
// Returns the new distribution id.
func (s *Scheduler) Register(admin crypto.Address, asset stable.Asset, total *big.Int, startTime, duration int64) (uint64, error) {
	if err := nativecommon.Guard(s.pauses, nativecommon.ModuleYield); err != nil {
		return 0, err
	}
	release, err := s.guard.Enter("register")
	if err != nil {
		return 0, err
	}
	defer release()
	if s.ledger == nil {
		return 0, fmt.Errorf("yield: token ledger not configured")
	}
	if s.auth == nil || !s.auth.IsAdmin(admin) {
		return 0, ErrUnauthorized
	}
	if s.assets == nil || !s.assets.IsAssetSupported(asset) {
		return 0, ErrAssetNotSupported
	}
	if total == nil || total.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if duration < s.params.MinDurationSeconds || duration > s.params.MaxDurationSeconds {
		return 0, ErrDurationOutOfRange
	}
	if startTime < s.now() {
		return 0, ErrStartInPast
	}
	if uint32(s.active.Len()) >= s.params.MaxActive {
		return 0, ErrTooManyActive
	}
	if err := s.ledger.Transfer(asset.String(), admin, s.custody, total); err != nil {
		return 0, fmt.Errorf("yield: fund distribution: %w", err)
	}
	s.lastID++
	dist := &Distribution{
		ID:             s.lastID,
		Asset:          asset,
		TotalAmount:    new(big.Int).Set(total),
		ReleasedAmount: big.NewInt(0),
		StartTime:      startTime,
		Duration:       duration,
		Active:         true,
	}
	s.distributions[dist.ID] = dist
	s.active.Add(dist.ID)
	s.emit(NewDistributionRegisteredEvent(admin, dist))
	return dist.ID, nil
}

// pendingFor computes the due amount at now: vested-so-far minus already
// released, floored and clamped at zero. The product is taken before the
// division so nothing is lost to intermediate truncation.
func (s *Scheduler) pendingFor(d *Distribution, now int64) *big.Int {
	if d == nil || !d.Active || d.TotalAmount == nil || d.Duration <= 0 {
		return big.NewInt(0)
	}
	elapsed := now - d.StartTime
	if elapsed <= 0 {
		return big.NewInt(0)
	}
	if elapsed > d.Duration {
		elapsed = d.Duration
	}
	vested := new(big.Int).Mul(d.TotalAmount, big.NewInt(elapsed))
	vested.Quo(vested, big.NewInt(d.Duration))
	if d.ReleasedAmount != nil {
		vested.Sub(vested, d.ReleasedAmount)
	}
	if vested.Sign() < 0 {
		vested.SetInt64(0)
	}
	return vested
}

// Pending reports the amount currently due on id. Inactive distributions
// pend zero. Callable while paused.
func (s *Scheduler) Pending(id uint64) (*big.Int, error) {
	d, ok := s.distributions[id]
	if !ok {
		return nil, ErrDistributionNotFound
	}
	return s.pendingFor(d, s.now()), nil
}

// releaseOne moves pending from custody to the sink reserve, lets the sink
// mint against it, and retires the distribution when it completes.
func (s *Scheduler) releaseOne(caller crypto.Address, d *Distribution, pending *big.Int) error {
	if s.sink == nil {
		return fmt.Errorf("yield: sink not configured")
	}
	balance := s.ledger.BalanceOf(d.Asset.String(), s.custody)
	if balance == nil || balance.Cmp(pending) < 0 {
		return ErrInsufficientCustody
	}
	if err := s.ledger.Transfer(d.Asset.String(), s.custody, s.sinkReserve, pending); err != nil {
		return fmt.Errorf("yield: move yield: %w", err)
	}
	if err := s.sink.MintKUSDForVault(d.Asset, pending); err != nil {
		_ = s.ledger.Transfer(d.Asset.String(), s.sinkReserve, s.custody, pending)
		return fmt.Errorf("yield: sink mint: %w", err)
	}
	d.ReleasedAmount.Add(d.ReleasedAmount, pending)
	s.emit(NewReleasedEvent(caller, d, pending))
	if d.ReleasedAmount.Cmp(d.TotalAmount) == 0 {
		d.Active = false
		s.active.Remove(d.ID)
		s.emit(NewDistributionCompletedEvent(d))
	}
	return nil
}

// Release sweeps the given ids in order, releasing whatever is due on each.
// Missing, inactive, and zero-pending ids are skipped. Per-id progress
// commits individually: a mid-batch failure surfaces alongside the count of
// releases already applied. ErrNothingDue only when not a single id paid
// out. Permissionless.
func (s *Scheduler) Release(caller crypto.Address, ids []uint64) (int, error) {
	if err := nativecommon.Guard(s.pauses, nativecommon.ModuleYield); err != nil {
		return 0, err
	}
	release, err := s.guard.Enter("release")
	if err != nil {
		return 0, err
	}
	defer release()
	if s.ledger == nil {
		return 0, fmt.Errorf("yield: token ledger not configured")
	}
	now := s.now()
	released := 0
	for _, id := range ids {
		d, ok := s.distributions[id]
		if !ok || !d.Active {
			continue
		}
		pending := s.pendingFor(d, now)
		if pending.Sign() == 0 {
			continue
		}
		if err := s.releaseOne(caller, d, pending); err != nil {
			return released, fmt.Errorf("yield: release %d: %w", id, err)
		}
		released++
	}
	if released == 0 {
		return 0, ErrNothingDue
	}
	return released, nil
}

// ReleaseFromActive sweeps up to max ids off a snapshot of the active
// sequence. The snapshot is taken before any release so completion-driven
// swap-removal cannot skip or double-visit an id. Returns the number of
// distributions that paid out. Permissionless.
func (s *Scheduler) ReleaseFromActive(caller crypto.Address, max int) (int, error) {
	if err := nativecommon.Guard(s.pauses, nativecommon.ModuleYield); err != nil {
		return 0, err
	}
	release, err := s.guard.Enter("release_from_active")
	if err != nil {
		return 0, err
	}
	defer release()
	if s.ledger == nil {
		return 0, fmt.Errorf("yield: token ledger not configured")
	}
	if max <= 0 {
		return 0, ErrInvalidAmount
	}
	snapshot := s.active.Snapshot()
	if len(snapshot) > max {
		snapshot = snapshot[:max]
	}
	now := s.now()
	released := 0
	for _, id := range snapshot {
		d, ok := s.distributions[id]
		if !ok || !d.Active {
			continue
		}
		pending := s.pendingFor(d, now)
		if pending.Sign() == 0 {
			continue
		}
		if err := s.releaseOne(caller, d, pending); err != nil {
			return released, fmt.Errorf("yield: release %d: %w", id, err)
		}
		released++
	}
	if released == 0 {
		return 0, ErrNothingDue
	}
	return released, nil
}

// Cancel retires an active distribution and refunds the unvested remainder
// to the admin. Admin only.
func (s *Scheduler) Cancel(admin crypto.Address, id uint64) (*big.Int, error) {
	if err := nativecommon.Guard(s.pauses, nativecommon.ModuleYield); err != nil {
		return nil, err
	}
	release, err := s.guard.Enter("cancel")
	if err != nil {
		return nil, err
	}
	defer release()
	if s.ledger == nil {
		return nil, fmt.Errorf("yield: token ledger not configured")
	}
	if s.auth == nil || !s.auth.IsAdmin(admin) {
		return nil, ErrUnauthorized
	}
	d, ok := s.distributions[id]
	if !ok {
		return nil, ErrDistributionNotFound
	}
	if !d.Active {
		return nil, ErrDistributionInactive
	}
	remainder := new(big.Int).Sub(d.TotalAmount, d.ReleasedAmount)
	if remainder.Sign() > 0 {
		balance := s.ledger.BalanceOf(d.Asset.String(), s.custody)
		if balance == nil || balance.Cmp(remainder) < 0 {
			return nil, ErrInsufficientCustody
		}
		if err := s.ledger.Transfer(d.Asset.String(), s.custody, admin, remainder); err != nil {
			return nil, fmt.Errorf("yield: refund: %w", err)
		}
	}
	d.Active = false
	s.active.Remove(d.ID)
	s.emit(NewDistributionCancelledEvent(admin, d, remainder))
	return remainder, nil
}

// Get returns a copy of the distribution. Callable while paused.
func (s *Scheduler) Get(id uint64) (*Distribution, error) {
	d, ok := s.distributions[id]
	if !ok {
		return nil, ErrDistributionNotFound
	}
	return d.Clone(), nil
}

// ActiveIDs returns a copy of the active sequence in its current order.
func (s *Scheduler) ActiveIDs() []uint64 {
	return s.active.Snapshot()
}

// Export returns a deterministic deep copy of the scheduler state for
// snapshot persistence.
func (s *Scheduler) Export() SchedulerExport {
	out := SchedulerExport{
		LastID:    s.lastID,
		ActiveIDs: s.active.Snapshot(),
	}
	for _, d := range s.distributions {
		out.Distributions = append(out.Distributions, d.Clone())
	}
	sort.Slice(out.Distributions, func(i, j int) bool {
		return out.Distributions[i].ID < out.Distributions[j].ID
	})
	return out
}

// Restore replaces the scheduler state with an exported snapshot.
func (s *Scheduler) Restore(export SchedulerExport) {
	s.distributions = make(map[uint64]*Distribution, len(export.Distributions))
	s.lastID = export.LastID
	for _, d := range export.Distributions {
		if d == nil || d.ID == 0 {
			continue
		}
		s.distributions[d.ID] = d.Clone()
		if d.ID > s.lastID {
			s.lastID = d.ID
		}
	}
	s.active = NewActiveSet()
	for _, id := range export.ActiveIDs {
		if d, ok := s.distributions[id]; ok && d.Active {
			s.active.Add(id)
		}
	}
}
