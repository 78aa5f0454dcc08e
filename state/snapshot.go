package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"kusdcore/crypto"
	"kusdcore/native/bank"
	"kusdcore/native/stable"
	"kusdcore/native/vault"
	"kusdcore/native/yield"
	"kusdcore/storage"
)

// SnapshotVersion is the current stored layout. Version 1 predates the
// vault share registry and the role/policy registries; migrateSnapshot
// upgrades it on load.
const SnapshotVersion = 2

var (
	ErrSnapshotCorrupted = errors.New("state: snapshot digest mismatch")

	snapshotKey = []byte("state/snapshot")
)

// Components are the live engines and registries collected into one
// snapshot. All fields must be set.
type Components struct {
	Bank   *bank.Ledger
	Stable *stable.Engine
	Yield  *yield.Scheduler
	Vault  *vault.Vault
	Pauses *PauseRegistry
	Roles  *RoleRegistry
	Policy *PolicyRegistry
}

func (c Components) check() error {
	if c.Bank == nil || c.Stable == nil || c.Yield == nil || c.Vault == nil ||
		c.Pauses == nil || c.Roles == nil || c.Policy == nil {
		return fmt.Errorf("state: all components must be configured")
	}
	return nil
}

// Stored shadow structs. RLP has no signed integers or maps, so timestamps
// ride as uint64 and big.Int amounts as decimal strings, matching the
// voucher store convention.

type storedEnvelope struct {
	Payload []byte
	Digest  []byte
}

type storedVersionProbe struct {
	Version uint32
	Rest    []rlp.RawValue `rlp:"tail"`
}

type storedAssetAmount struct {
	Asset  string
	Amount string
}

type storedCapacity struct {
	GlobalLimit    string
	TotalDeposited string
	AssetLimits    []storedAssetAmount
	AssetTotals    []storedAssetAmount
}

type storedRedemption struct {
	User       []byte
	ID         uint64
	Asset      string
	Amount     string
	UnlockTime uint64
	Completed  bool
}

type storedSequence struct {
	User   []byte
	LastID uint64
}

type storedStableState struct {
	Capacity    storedCapacity
	Redemptions []storedRedemption
	Sequences   []storedSequence
}

type storedDistribution struct {
	ID        uint64
	Asset     string
	Total     string
	Released  string
	StartTime uint64
	Duration  uint64
	Active    bool
}

type storedYieldState struct {
	Distributions []storedDistribution
	LastID        uint64
	ActiveIDs     []uint64
}

type storedToken struct {
	Symbol     string
	Name       string
	Decimals   uint8
	MintPaused bool
}

type storedBalance struct {
	Symbol  string
	Address []byte
	Amount  string
}

type storedSupply struct {
	Symbol string
	Amount string
}

type storedBankState struct {
	Tokens   []storedToken
	Balances []storedBalance
	Supplies []storedSupply
}

type storedShare struct {
	Address []byte
	Amount  string
}

type storedVaultState struct {
	Shares []storedShare
}

type storedRole struct {
	Role    string
	Members [][]byte
}

type storedPolicy struct {
	AllowlistEnabled bool
	Allowed          [][]byte
	Denied           [][]byte
}

type storedSnapshot struct {
	Version uint32
	Stable  storedStableState
	Yield   storedYieldState
	Bank    storedBankState
	Vault   storedVaultState
	Paused  []string
	Roles   []storedRole
	Policy  storedPolicy
}

// storedSnapshotV1 is the pre-vault layout kept for migration.
type storedSnapshotV1 struct {
	Version uint32
	Stable  storedStableState
	Yield   storedYieldState
	Bank    storedBankState
	Paused  []string
}

// Database is the slice of the storage layer the snapshot codec needs.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
}

// Save captures every component into a versioned snapshot, seals it with a
// BLAKE3 digest, and writes it under a single key.
func Save(db Database, c Components) error {
	if db == nil {
		return fmt.Errorf("state: database required")
	}
	if err := c.check(); err != nil {
		return err
	}
	snap := capture(c)
	payload, err := rlp.EncodeToBytes(snap)
	if err != nil {
		return fmt.Errorf("state: encode snapshot: %w", err)
	}
	digest := blake3.Sum256(payload)
	encoded, err := rlp.EncodeToBytes(storedEnvelope{Payload: payload, Digest: digest[:]})
	if err != nil {
		return fmt.Errorf("state: encode envelope: %w", err)
	}
	return db.Put(snapshotKey, encoded)
}

// Load restores every component from the stored snapshot. Returns false
// with a nil error when no snapshot exists yet.
func Load(db Database, c Components) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("state: database required")
	}
	if err := c.check(); err != nil {
		return false, err
	}
	raw, err := db.Get(snapshotKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	var env storedEnvelope
	if err := rlp.DecodeBytes(raw, &env); err != nil {
		return false, fmt.Errorf("state: decode envelope: %w", err)
	}
	digest := blake3.Sum256(env.Payload)
	if !bytes.Equal(digest[:], env.Digest) {
		return false, ErrSnapshotCorrupted
	}
	snap, err := decodeSnapshot(env.Payload)
	if err != nil {
		return false, err
	}
	if err := apply(snap, c); err != nil {
		return false, err
	}
	return true, nil
}

func decodeSnapshot(payload []byte) (*storedSnapshot, error) {
	var probe storedVersionProbe
	if err := rlp.DecodeBytes(payload, &probe); err != nil {
		return nil, fmt.Errorf("state: probe snapshot version: %w", err)
	}
	switch probe.Version {
	case 1:
		var v1 storedSnapshotV1
		if err := rlp.DecodeBytes(payload, &v1); err != nil {
			return nil, fmt.Errorf("state: decode v1 snapshot: %w", err)
		}
		return migrateSnapshot(&v1), nil
	case SnapshotVersion:
		snap := new(storedSnapshot)
		if err := rlp.DecodeBytes(payload, snap); err != nil {
			return nil, fmt.Errorf("state: decode snapshot: %w", err)
		}
		return snap, nil
	default:
		return nil, fmt.Errorf("state: unsupported snapshot version %d", probe.Version)
	}
}

// migrateSnapshot lifts a v1 layout to the current one. The vault, role,
// and policy registries did not exist in v1, so they start empty; kusdd
// re-grants operator roles from config after every load.
func migrateSnapshot(v1 *storedSnapshotV1) *storedSnapshot {
	return &storedSnapshot{
		Version: SnapshotVersion,
		Stable:  v1.Stable,
		Yield:   v1.Yield,
		Bank:    v1.Bank,
		Paused:  v1.Paused,
	}
}

func capture(c Components) *storedSnapshot {
	snap := &storedSnapshot{Version: SnapshotVersion}
	snap.Stable = captureStable(c.Stable)
	snap.Yield = captureYield(c.Yield)
	snap.Bank = captureBank(c.Bank)
	snap.Vault = captureVault(c.Vault)
	snap.Paused = c.Pauses.Snapshot()
	for _, role := range c.Roles.Export() {
		stored := storedRole{Role: role.Role}
		for _, addr := range role.Members {
			stored.Members = append(stored.Members, addr.Bytes())
		}
		snap.Roles = append(snap.Roles, stored)
	}
	policy := c.Policy.Export()
	snap.Policy.AllowlistEnabled = policy.AllowlistEnabled
	for _, addr := range policy.Allowed {
		snap.Policy.Allowed = append(snap.Policy.Allowed, addr.Bytes())
	}
	for _, addr := range policy.Denied {
		snap.Policy.Denied = append(snap.Policy.Denied, addr.Bytes())
	}
	return snap
}

func captureStable(eng *stable.Engine) storedStableState {
	out := storedStableState{}
	capacity := eng.Capacity().Export()
	out.Capacity = storedCapacity{
		GlobalLimit:    amountString(capacity.GlobalLimit),
		TotalDeposited: amountString(capacity.TotalDeposited),
		AssetLimits:    assetRows(capacity.AssetLimits),
		AssetTotals:    assetRows(capacity.AssetTotals),
	}
	book := eng.Book().Export()
	for _, rec := range book.Records {
		out.Redemptions = append(out.Redemptions, storedRedemption{
			User:       rec.User.Bytes(),
			ID:         rec.ID,
			Asset:      rec.Redemption.Asset.String(),
			Amount:     amountString(rec.Redemption.Amount),
			UnlockTime: sanitizeUnix(rec.Redemption.UnlockTime),
			Completed:  rec.Redemption.Completed,
		})
	}
	for _, seq := range book.Sequences {
		out.Sequences = append(out.Sequences, storedSequence{
			User:   seq.User.Bytes(),
			LastID: seq.LastID,
		})
	}
	return out
}

func captureYield(sched *yield.Scheduler) storedYieldState {
	export := sched.Export()
	out := storedYieldState{LastID: export.LastID, ActiveIDs: export.ActiveIDs}
	for _, dist := range export.Distributions {
		out.Distributions = append(out.Distributions, storedDistribution{
			ID:        dist.ID,
			Asset:     dist.Asset.String(),
			Total:     amountString(dist.TotalAmount),
			Released:  amountString(dist.ReleasedAmount),
			StartTime: sanitizeUnix(dist.StartTime),
			Duration:  sanitizeUnix(dist.Duration),
			Active:    dist.Active,
		})
	}
	return out
}

func captureBank(ledger *bank.Ledger) storedBankState {
	export := ledger.Export()
	out := storedBankState{}
	for _, tok := range export.Tokens {
		out.Tokens = append(out.Tokens, storedToken{
			Symbol:     tok.Symbol,
			Name:       tok.Name,
			Decimals:   tok.Decimals,
			MintPaused: tok.MintPaused,
		})
	}
	for _, row := range export.Balances {
		out.Balances = append(out.Balances, storedBalance{
			Symbol:  row.Symbol,
			Address: row.Address.Bytes(),
			Amount:  amountString(row.Amount),
		})
	}
	for _, row := range export.Supplies {
		out.Supplies = append(out.Supplies, storedSupply{
			Symbol: row.Symbol,
			Amount: amountString(row.Amount),
		})
	}
	return out
}

func captureVault(v *vault.Vault) storedVaultState {
	export := v.Export()
	out := storedVaultState{}
	for _, row := range export.Shares {
		out.Shares = append(out.Shares, storedShare{
			Address: row.Address.Bytes(),
			Amount:  amountString(row.Amount),
		})
	}
	return out
}

func apply(snap *storedSnapshot, c Components) error {
	if err := applyStable(snap.Stable, c.Stable); err != nil {
		return err
	}
	if err := applyYield(snap.Yield, c.Yield); err != nil {
		return err
	}
	if err := applyBank(snap.Bank, c.Bank); err != nil {
		return err
	}
	if err := applyVault(snap.Vault, c.Vault); err != nil {
		return err
	}
	c.Pauses.Restore(snap.Paused)
	roles := make([]RoleExport, 0, len(snap.Roles))
	for _, stored := range snap.Roles {
		row := RoleExport{Role: stored.Role}
		for _, raw := range stored.Members {
			addr, err := crypto.AddressFromBytes(raw)
			if err != nil {
				return fmt.Errorf("state: role %s member: %w", stored.Role, err)
			}
			row.Members = append(row.Members, addr)
		}
		roles = append(roles, row)
	}
	c.Roles.Restore(roles)
	policy := PolicyExport{AllowlistEnabled: snap.Policy.AllowlistEnabled}
	for _, raw := range snap.Policy.Allowed {
		addr, err := crypto.AddressFromBytes(raw)
		if err != nil {
			return fmt.Errorf("state: allowlist entry: %w", err)
		}
		policy.Allowed = append(policy.Allowed, addr)
	}
	for _, raw := range snap.Policy.Denied {
		addr, err := crypto.AddressFromBytes(raw)
		if err != nil {
			return fmt.Errorf("state: denylist entry: %w", err)
		}
		policy.Denied = append(policy.Denied, addr)
	}
	c.Policy.Restore(policy)
	return nil
}

func applyStable(stored storedStableState, eng *stable.Engine) error {
	globalLimit, err := parseAmount(stored.Capacity.GlobalLimit)
	if err != nil {
		return fmt.Errorf("state: global limit: %w", err)
	}
	total, err := parseAmount(stored.Capacity.TotalDeposited)
	if err != nil {
		return fmt.Errorf("state: total deposited: %w", err)
	}
	capacity := stable.CapacityExport{
		GlobalLimit:    globalLimit,
		TotalDeposited: total,
		AssetLimits:    make(map[stable.Asset]*big.Int, len(stored.Capacity.AssetLimits)),
		AssetTotals:    make(map[stable.Asset]*big.Int, len(stored.Capacity.AssetTotals)),
	}
	for _, row := range stored.Capacity.AssetLimits {
		amount, err := parseAmount(row.Amount)
		if err != nil {
			return fmt.Errorf("state: limit for %s: %w", row.Asset, err)
		}
		capacity.AssetLimits[stable.Asset(row.Asset)] = amount
	}
	for _, row := range stored.Capacity.AssetTotals {
		amount, err := parseAmount(row.Amount)
		if err != nil {
			return fmt.Errorf("state: total for %s: %w", row.Asset, err)
		}
		capacity.AssetTotals[stable.Asset(row.Asset)] = amount
	}
	eng.Capacity().Restore(capacity)

	book := stable.BookExport{}
	for _, rec := range stored.Redemptions {
		user, err := crypto.AddressFromBytes(rec.User)
		if err != nil {
			return fmt.Errorf("state: redemption %d user: %w", rec.ID, err)
		}
		amount, err := parseAmount(rec.Amount)
		if err != nil {
			return fmt.Errorf("state: redemption %d amount: %w", rec.ID, err)
		}
		book.Records = append(book.Records, stable.RedemptionExport{
			User: user,
			ID:   rec.ID,
			Redemption: &stable.Redemption{
				Asset:      stable.Asset(rec.Asset),
				Amount:     amount,
				UnlockTime: int64(rec.UnlockTime),
				Completed:  rec.Completed,
			},
		})
	}
	for _, seq := range stored.Sequences {
		user, err := crypto.AddressFromBytes(seq.User)
		if err != nil {
			return fmt.Errorf("state: sequence user: %w", err)
		}
		book.Sequences = append(book.Sequences, stable.SequenceExport{User: user, LastID: seq.LastID})
	}
	eng.Book().Restore(book)
	return nil
}

func applyYield(stored storedYieldState, sched *yield.Scheduler) error {
	export := yield.SchedulerExport{LastID: stored.LastID, ActiveIDs: stored.ActiveIDs}
	for _, dist := range stored.Distributions {
		total, err := parseAmount(dist.Total)
		if err != nil {
			return fmt.Errorf("state: distribution %d total: %w", dist.ID, err)
		}
		released, err := parseAmount(dist.Released)
		if err != nil {
			return fmt.Errorf("state: distribution %d released: %w", dist.ID, err)
		}
		export.Distributions = append(export.Distributions, &yield.Distribution{
			ID:             dist.ID,
			Asset:          stable.Asset(dist.Asset),
			TotalAmount:    total,
			ReleasedAmount: released,
			StartTime:      int64(dist.StartTime),
			Duration:       int64(dist.Duration),
			Active:         dist.Active,
		})
	}
	sched.Restore(export)
	return nil
}

func applyBank(stored storedBankState, ledger *bank.Ledger) error {
	export := bank.LedgerExport{}
	for _, tok := range stored.Tokens {
		export.Tokens = append(export.Tokens, bank.Token{
			Symbol:     tok.Symbol,
			Name:       tok.Name,
			Decimals:   tok.Decimals,
			MintPaused: tok.MintPaused,
		})
	}
	for _, row := range stored.Balances {
		addr, err := crypto.AddressFromBytes(row.Address)
		if err != nil {
			return fmt.Errorf("state: balance holder: %w", err)
		}
		amount, err := parseAmount(row.Amount)
		if err != nil {
			return fmt.Errorf("state: balance for %s: %w", row.Symbol, err)
		}
		export.Balances = append(export.Balances, bank.BalanceExport{
			Symbol:  row.Symbol,
			Address: addr,
			Amount:  amount,
		})
	}
	for _, row := range stored.Supplies {
		amount, err := parseAmount(row.Amount)
		if err != nil {
			return fmt.Errorf("state: supply for %s: %w", row.Symbol, err)
		}
		export.Supplies = append(export.Supplies, bank.SupplyExport{Symbol: row.Symbol, Amount: amount})
	}
	ledger.Restore(export)
	return nil
}

func applyVault(stored storedVaultState, v *vault.Vault) error {
	export := vault.VaultExport{TotalShares: big.NewInt(0)}
	for _, row := range stored.Shares {
		addr, err := crypto.AddressFromBytes(row.Address)
		if err != nil {
			return fmt.Errorf("state: share holder: %w", err)
		}
		amount, err := parseAmount(row.Amount)
		if err != nil {
			return fmt.Errorf("state: shares: %w", err)
		}
		export.Shares = append(export.Shares, vault.ShareExport{Address: addr, Amount: amount})
	}
	v.Restore(export)
	return nil
}

func assetRows(m map[stable.Asset]*big.Int) []storedAssetAmount {
	assets := make([]string, 0, len(m))
	for asset := range m {
		assets = append(assets, asset.String())
	}
	sort.Strings(assets)
	out := make([]storedAssetAmount, 0, len(assets))
	for _, asset := range assets {
		out = append(out, storedAssetAmount{
			Asset:  asset,
			Amount: amountString(m[stable.Asset(asset)]),
		})
	}
	return out
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func sanitizeUnix(value int64) uint64 {
	if value < 0 {
		return 0
	}
	return uint64(value)
}
