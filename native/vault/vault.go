package vault

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"kusdcore/core/events"
	"kusdcore/core/types"
	"kusdcore/crypto"
	nativecommon "kusdcore/native/common"
	"kusdcore/native/stable"
)

var (
	ErrInvalidAmount      = errors.New("vault: invalid amount")
	ErrAmountTooSmall     = errors.New("vault: amount too small")
	ErrInsufficientShares = errors.New("vault: insufficient shares")
)

// rateUnit is the fixed-point scale of the exchange rate: a rate of 1e18
// means one share redeems exactly one KUSD wei-for-wei.
var rateUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Minter is the slice of the stable engine the vault drives when yield
// arrives: a capacity-checked mint of KUSD against reserve assets already
// sitting in stable custody.
type Minter interface {
	DepositForVault(asset stable.Asset, amount *big.Int) (*big.Int, error)
}

type vaultEvent struct {
	evt *types.Event
}

func (e vaultEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e vaultEvent) Event() *types.Event { return e.evt }

// Vault issues shares against a growing KUSD backing. Stakers deposit KUSD
// for shares at the current exchange rate; released yield mints fresh KUSD
// straight into the vault account, lifting the rate for every holder.
type Vault struct {
	shares      map[crypto.Address]*big.Int
	totalShares *big.Int
	ledger      stable.TokenLedger
	minter      Minter
	account     crypto.Address
	pauses      nativecommon.PauseView
	guard       nativecommon.CallGuard
	emitter     events.Emitter
}

// NewVault returns an empty vault with a no-op emitter. Collaborators are
// wired via the Set* methods.
func NewVault() *Vault {
	return &Vault{
		shares:      make(map[crypto.Address]*big.Int),
		totalShares: big.NewInt(0),
		emitter:     events.NoopEmitter{},
	}
}

func (v *Vault) SetLedger(ledger stable.TokenLedger) { v.ledger = ledger }

func (v *Vault) SetMinter(minter Minter) { v.minter = minter }

// SetAccount sets the address holding the vault's KUSD backing. It must
// match the vault account configured on the stable engine.
func (v *Vault) SetAccount(addr crypto.Address) { v.account = addr }

func (v *Vault) SetPauses(pauses nativecommon.PauseView) { v.pauses = pauses }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (v *Vault) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		v.emitter = events.NoopEmitter{}
		return
	}
	v.emitter = emitter
}

func (v *Vault) emit(evt *types.Event) {
	if v.emitter == nil || evt == nil {
		return
	}
	v.emitter.Emit(vaultEvent{evt: evt})
}

// Account returns the address holding the vault backing.
func (v *Vault) Account() crypto.Address { return v.account }

// Backing returns the KUSD currently held by the vault account.
func (v *Vault) Backing() *big.Int {
	if v.ledger == nil {
		return big.NewInt(0)
	}
	bal := v.ledger.BalanceOf(stable.KUSDSymbol, v.account)
	if bal == nil {
		return big.NewInt(0)
	}
	return bal
}

// TotalShares returns a copy of the outstanding share count.
func (v *Vault) TotalShares() *big.Int { return new(big.Int).Set(v.totalShares) }

// SharesOf returns a copy of the share balance held by addr.
func (v *Vault) SharesOf(addr crypto.Address) *big.Int {
	if bal, ok := v.shares[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// ExchangeRate returns the KUSD value of one share scaled by 1e18. With no
// shares outstanding the rate is exactly 1e18.
func (v *Vault) ExchangeRate() *big.Int {
	if v.totalShares.Sign() == 0 {
		return new(big.Int).Set(rateUnit)
	}
	rate := new(big.Int).Mul(v.Backing(), rateUnit)
	return rate.Quo(rate, v.totalShares)
}

// MintKUSDForVault forwards released yield into the stable engine's vault
// deposit path. The raw asset is expected to already sit in stable custody;
// the resulting KUSD lands in the vault account and raises the exchange
// rate. Satisfies the yield scheduler's sink.
func (v *Vault) MintKUSDForVault(asset stable.Asset, amount *big.Int) error {
	release, err := v.guard.Enter("sink_mint")
	if err != nil {
		return err
	}
	defer release()
	if v.minter == nil {
		return fmt.Errorf("vault: minter not configured")
	}
	minted, err := v.minter.DepositForVault(asset, amount)
	if err != nil {
		return err
	}
	v.emit(NewBackingIncreasedEvent(asset, minted, v.ExchangeRate()))
	return nil
}

// Stake converts the caller's KUSD into vault shares at the current rate.
// Returns the number of shares issued.
func (v *Vault) Stake(caller crypto.Address, amount *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(v.pauses, nativecommon.ModuleStable); err != nil {
		return nil, err
	}
	release, err := v.guard.Enter("stake")
	if err != nil {
		return nil, err
	}
	defer release()
	if v.ledger == nil {
		return nil, fmt.Errorf("vault: token ledger not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	// Rate is fixed before the transfer so the staker's own deposit cannot
	// dilute the shares it buys.
	rate := v.ExchangeRate()
	minted := new(big.Int).Mul(amount, rateUnit)
	minted.Quo(minted, rate)
	if minted.Sign() == 0 {
		return nil, ErrAmountTooSmall
	}
	if err := v.ledger.Transfer(stable.KUSDSymbol, caller, v.account, amount); err != nil {
		return nil, fmt.Errorf("vault: stake: %w", err)
	}
	holding, ok := v.shares[caller]
	if !ok {
		holding = big.NewInt(0)
		v.shares[caller] = holding
	}
	holding.Add(holding, minted)
	v.totalShares.Add(v.totalShares, minted)
	v.emit(NewStakedEvent(caller, amount, minted))
	return new(big.Int).Set(minted), nil
}

// Unstake redeems shares for KUSD at the current rate. Returns the KUSD
// paid out.
func (v *Vault) Unstake(caller crypto.Address, shareAmount *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(v.pauses, nativecommon.ModuleStable); err != nil {
		return nil, err
	}
	release, err := v.guard.Enter("unstake")
	if err != nil {
		return nil, err
	}
	defer release()
	if v.ledger == nil {
		return nil, fmt.Errorf("vault: token ledger not configured")
	}
	if shareAmount == nil || shareAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	holding, ok := v.shares[caller]
	if !ok || holding.Cmp(shareAmount) < 0 {
		return nil, ErrInsufficientShares
	}
	payout := new(big.Int).Mul(shareAmount, v.ExchangeRate())
	payout.Quo(payout, rateUnit)
	if payout.Sign() == 0 {
		return nil, ErrAmountTooSmall
	}
	if err := v.ledger.Transfer(stable.KUSDSymbol, v.account, caller, payout); err != nil {
		return nil, fmt.Errorf("vault: unstake: %w", err)
	}
	holding.Sub(holding, shareAmount)
	if holding.Sign() == 0 {
		delete(v.shares, caller)
	}
	v.totalShares.Sub(v.totalShares, shareAmount)
	v.emit(NewUnstakedEvent(caller, shareAmount, payout))
	return payout, nil
}

// ShareExport is one holder row in a vault snapshot.
type ShareExport struct {
	Address crypto.Address
	Amount  *big.Int
}

// VaultExport is a deterministic deep copy of the vault share registry.
type VaultExport struct {
	Shares      []ShareExport
	TotalShares *big.Int
}

// Export snapshots the share registry ordered by address.
func (v *Vault) Export() VaultExport {
	out := VaultExport{TotalShares: new(big.Int).Set(v.totalShares)}
	addrs := make([]crypto.Address, 0, len(v.shares))
	for addr, bal := range v.shares {
		if bal.Sign() > 0 {
			addrs = append(addrs, addr)
		}
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
	for _, addr := range addrs {
		out.Shares = append(out.Shares, ShareExport{
			Address: addr,
			Amount:  new(big.Int).Set(v.shares[addr]),
		})
	}
	return out
}

// Restore replaces the share registry with an exported snapshot. The total
// is recomputed from the rows so a tampered aggregate cannot drift.
func (v *Vault) Restore(export VaultExport) {
	v.shares = make(map[crypto.Address]*big.Int, len(export.Shares))
	v.totalShares = big.NewInt(0)
	for _, row := range export.Shares {
		if row.Amount == nil || row.Amount.Sign() <= 0 {
			continue
		}
		v.shares[row.Address] = new(big.Int).Set(row.Amount)
		v.totalShares.Add(v.totalShares, row.Amount)
	}
}
