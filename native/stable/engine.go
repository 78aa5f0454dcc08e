package stable

import (
	"fmt"
	"math/big"
	"time"

	"kusdcore/core/events"
	"kusdcore/core/types"
	"kusdcore/crypto"
	nativecommon "kusdcore/native/common"
)

// AuthorizationOracle answers role checks for privileged operations.
type AuthorizationOracle interface {
	IsAdmin(addr crypto.Address) bool
	IsManager(addr crypto.Address) bool
	IsPauser(addr crypto.Address) bool
}

// AccountPolicy is the allowlist/forbidden oracle consulted on user-facing
// deposit and redemption paths.
type AccountPolicy interface {
	IsAllowed(addr crypto.Address) bool
	IsForbidden(addr crypto.Address) bool
}

// TokenLedger is the external balance book: reserve assets and KUSD itself
// are symbols on it. BalanceOf returns a copy the caller may mutate, or nil
// for an unknown account.
type TokenLedger interface {
	BalanceOf(symbol string, addr crypto.Address) *big.Int
	Transfer(symbol string, from, to crypto.Address, amount *big.Int) error
	Mint(symbol string, to crypto.Address, amount *big.Int) error
	Burn(symbol string, from crypto.Address, amount *big.Int) error
	Decimals(symbol string) (uint8, bool)
}

type stableEvent struct {
	evt *types.Event
}

func (e stableEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e stableEvent) Event() *types.Event { return e.evt }

// Engine owns the deposit pipeline and the redemption book. All mutating
// entry points run under the module pause flag and the engine's own
// re-entrancy guard; collaborators are injected via setters.
type Engine struct {
	params   Params
	capacity *CapacityLedger
	book     *RedemptionBook
	ledger   TokenLedger
	auth     AuthorizationOracle
	policy   AccountPolicy
	pauses   nativecommon.PauseView
	guard    nativecommon.CallGuard
	custody  crypto.Address
	vault    crypto.Address
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine creates an engine with empty state, a no-op emitter, and the
// wall clock. Callers wire collaborators via the Set* methods before use.
func NewEngine() *Engine {
	return &Engine{
		capacity: NewCapacityLedger(),
		book:     NewRedemptionBook(),
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetParams validates and installs the deposit/redemption policy.
func (e *Engine) SetParams(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	e.params = params.Clone()
	return nil
}

func (e *Engine) Params() Params { return e.params.Clone() }

// IsAssetSupported reports whether asset is a configured reserve asset.
func (e *Engine) IsAssetSupported(asset Asset) bool {
	return e.params.IsAssetSupported(asset)
}

func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

func (e *Engine) SetAuthorization(oracle AuthorizationOracle) { e.auth = oracle }

// SetPolicy installs the allowlist oracle. A nil policy admits everyone.
func (e *Engine) SetPolicy(policy AccountPolicy) { e.policy = policy }

func (e *Engine) SetPauses(pauses nativecommon.PauseView) { e.pauses = pauses }

// SetCustody sets the module account holding deposited reserves and escrowed
// KUSD.
func (e *Engine) SetCustody(addr crypto.Address) { e.custody = addr }

// SetVaultAccount sets the account credited by the vault mint path.
func (e *Engine) SetVaultAccount(addr crypto.Address) { e.vault = addr }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock, primarily for tests. Passing nil restores
// the wall clock.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Capacity exposes the live capacity ledger for persistence wiring.
func (e *Engine) Capacity() *CapacityLedger { return e.capacity }

// Book exposes the live redemption book for persistence wiring.
func (e *Engine) Book() *RedemptionBook { return e.book }

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(stableEvent{evt: evt})
}

func (e *Engine) checkPolicy(addr crypto.Address) error {
	if e.policy == nil {
		return nil
	}
	if !e.policy.IsAllowed(addr) {
		return ErrNotAllowed
	}
	if e.policy.IsForbidden(addr) {
		return ErrForbidden
	}
	return nil
}

// admit runs the shared admission pipeline: asset support, positive amount,
// normalization, optional minimum floor, capacity reservation. On success the
// reservation is already taken; callers that fail afterwards must unreserve.
func (e *Engine) admit(asset Asset, rawAmount *big.Int, enforceMinimum bool) (*big.Int, error) {
	if e.ledger == nil {
		return nil, fmt.Errorf("stable: token ledger not configured")
	}
	if !e.params.IsAssetSupported(asset) {
		return nil, ErrAssetNotSupported
	}
	if rawAmount == nil || rawAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	decimals, ok := e.ledger.Decimals(asset.String())
	if !ok {
		return nil, fmt.Errorf("%w: unknown decimals for %s", ErrAssetNotSupported, asset)
	}
	minted := NormalizeAmount(rawAmount, decimals)
	if minted.Sign() == 0 {
		return nil, ErrAmountTooSmall
	}
	if enforceMinimum && e.params.MinDepositWei != nil && e.params.MinDepositWei.Sign() > 0 {
		if minted.Cmp(e.params.MinDepositWei) < 0 {
			return nil, ErrBelowMinimum
		}
	}
	if err := e.capacity.Reserve(asset, minted); err != nil {
		return nil, err
	}
	return minted, nil
}

// Deposit pulls rawAmount of asset from the caller into custody and mints
// the normalized KUSD value back to them. The first failed check wins and
// no partial state survives a failure.
func (e *Engine) Deposit(caller crypto.Address, asset Asset, rawAmount *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleStable); err != nil {
		return nil, err
	}
	release, err := e.guard.Enter("deposit")
	if err != nil {
		return nil, err
	}
	defer release()
	if err := e.checkPolicy(caller); err != nil {
		return nil, err
	}
	minted, err := e.admit(asset, rawAmount, true)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Transfer(asset.String(), caller, e.custody, rawAmount); err != nil {
		e.capacity.unreserve(asset, minted)
		return nil, fmt.Errorf("stable: collect deposit: %w", err)
	}
	if err := e.ledger.Mint(KUSDSymbol, caller, minted); err != nil {
		e.capacity.unreserve(asset, minted)
		_ = e.ledger.Transfer(asset.String(), e.custody, caller, rawAmount)
		return nil, fmt.Errorf("stable: mint: %w", err)
	}
	e.emit(NewDepositEvent(caller, asset, rawAmount, minted))
	return new(big.Int).Set(minted), nil
}

// DepositForVault is the restricted admission path behind the yield sink's
// mint. The raw asset has already been credited to custody by the caller, so
// there is no pull here; capacity still binds while the allowlist and the
// minimum floor do not.
func (e *Engine) DepositForVault(asset Asset, rawAmount *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleStable); err != nil {
		return nil, err
	}
	release, err := e.guard.Enter("vault_deposit")
	if err != nil {
		return nil, err
	}
	defer release()
	if e.vault.IsZero() {
		return nil, fmt.Errorf("stable: vault account not configured")
	}
	minted, err := e.admit(asset, rawAmount, false)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Mint(KUSDSymbol, e.vault, minted); err != nil {
		e.capacity.unreserve(asset, minted)
		return nil, fmt.Errorf("stable: mint for vault: %w", err)
	}
	e.emit(NewVaultMintEvent(asset, rawAmount, minted))
	return new(big.Int).Set(minted), nil
}

// PreviewDeposit reports the KUSD value a deposit would mint and the
// effective capacity left after it, without touching state. Callable while
// paused.
func (e *Engine) PreviewDeposit(asset Asset, rawAmount *big.Int) (*big.Int, *big.Int, error) {
	if e.ledger == nil {
		return nil, nil, fmt.Errorf("stable: token ledger not configured")
	}
	if !e.params.IsAssetSupported(asset) {
		return nil, nil, ErrAssetNotSupported
	}
	if rawAmount == nil || rawAmount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	decimals, ok := e.ledger.Decimals(asset.String())
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown decimals for %s", ErrAssetNotSupported, asset)
	}
	minted := NormalizeAmount(rawAmount, decimals)
	headroom := e.capacity.EffectiveRemaining(asset)
	if !IsUnlimited(headroom) {
		headroom.Sub(headroom, minted)
		if headroom.Sign() < 0 {
			headroom.SetInt64(0)
		}
	}
	return minted, headroom, nil
}

// Limits returns the capacity position across the configured assets.
func (e *Engine) Limits() Limits {
	out := Limits{
		GlobalLimit:     e.capacity.GlobalLimit(),
		TotalDeposited:  e.capacity.TotalDeposited(),
		RemainingGlobal: e.capacity.RemainingGlobal(),
	}
	for _, asset := range e.params.Assets {
		out.Assets = append(out.Assets, AssetLimit{
			Asset:     asset,
			Limit:     e.capacity.AssetLimit(asset),
			Deposited: e.capacity.DepositedForAsset(asset),
			Remaining: e.capacity.RemainingForAsset(asset),
		})
	}
	return out
}

// SetGlobalLimit reconfigures the global deposit cap. Admin only; allowed
// while paused so operators can adjust caps during an incident.
func (e *Engine) SetGlobalLimit(admin crypto.Address, limit *big.Int) error {
	release, err := e.guard.Enter("set_global_limit")
	if err != nil {
		return err
	}
	defer release()
	if e.auth == nil || !e.auth.IsAdmin(admin) {
		return ErrUnauthorized
	}
	if err := e.capacity.SetGlobalLimit(limit); err != nil {
		return err
	}
	e.emit(NewLimitUpdatedEvent(ScopeGlobal, limit))
	return nil
}

// SetAssetLimit reconfigures one asset's deposit cap. Admin only.
func (e *Engine) SetAssetLimit(admin crypto.Address, asset Asset, limit *big.Int) error {
	release, err := e.guard.Enter("set_asset_limit")
	if err != nil {
		return err
	}
	defer release()
	if e.auth == nil || !e.auth.IsAdmin(admin) {
		return ErrUnauthorized
	}
	if !e.params.IsAssetSupported(asset) {
		return ErrAssetNotSupported
	}
	if err := e.capacity.SetAssetLimit(asset, limit); err != nil {
		return err
	}
	e.emit(NewLimitUpdatedEvent(string(asset), limit))
	return nil
}
