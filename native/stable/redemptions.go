package stable

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"kusdcore/crypto"
	nativecommon "kusdcore/native/common"
)

// RedemptionBook journals every user's time-locked exits. Sequence ids are
// per user, 1-based, strictly increasing and never reused, so a cancelled
// id stays dead forever.
type RedemptionBook struct {
	redemptions map[crypto.Address]map[uint64]*Redemption
	lastID      map[crypto.Address]uint64
	openCount   map[crypto.Address]uint32
}

func NewRedemptionBook() *RedemptionBook {
	return &RedemptionBook{
		redemptions: make(map[crypto.Address]map[uint64]*Redemption),
		lastID:      make(map[crypto.Address]uint64),
		openCount:   make(map[crypto.Address]uint32),
	}
}

// get returns the live record for (user, id), nil when the id is absent or
// the stored amount is the zero sentinel.
func (b *RedemptionBook) get(user crypto.Address, id uint64) *Redemption {
	rec, ok := b.redemptions[user][id]
	if !ok || rec == nil || rec.Amount == nil || rec.Amount.Sign() == 0 {
		return nil
	}
	return rec
}

// append stores rec under the user's next sequence id and returns that id.
func (b *RedemptionBook) append(user crypto.Address, rec *Redemption) uint64 {
	byID, ok := b.redemptions[user]
	if !ok {
		byID = make(map[uint64]*Redemption)
		b.redemptions[user] = byID
	}
	id := b.lastID[user] + 1
	b.lastID[user] = id
	byID[id] = rec
	b.openCount[user]++
	return id
}

// markCompleted flips the record's completed flag and releases its open slot.
func (b *RedemptionBook) markCompleted(user crypto.Address, id uint64) {
	rec := b.get(user, id)
	if rec == nil || rec.Completed {
		return
	}
	rec.Completed = true
	b.decrementOpen(user)
}

// remove deletes an uncompleted record (the cancel path) and releases its
// open slot.
func (b *RedemptionBook) remove(user crypto.Address, id uint64) {
	rec := b.get(user, id)
	if rec == nil {
		return
	}
	if !rec.Completed {
		b.decrementOpen(user)
	}
	delete(b.redemptions[user], id)
	if len(b.redemptions[user]) == 0 {
		delete(b.redemptions, user)
	}
}

func (b *RedemptionBook) decrementOpen(user crypto.Address) {
	if count := b.openCount[user]; count > 0 {
		if count == 1 {
			delete(b.openCount, user)
			return
		}
		b.openCount[user] = count - 1
	}
}

// open returns how many of the user's redemptions are initiated but not yet
// completed or cancelled.
func (b *RedemptionBook) open(user crypto.Address) uint32 {
	return b.openCount[user]
}

// RedemptionEntry pairs a sequence id with its record for listings.
type RedemptionEntry struct {
	ID         uint64
	Redemption *Redemption
}

// list returns deep copies of the user's records in ascending id order.
func (b *RedemptionBook) list(user crypto.Address) []RedemptionEntry {
	byID := b.redemptions[user]
	if len(byID) == 0 {
		return nil
	}
	entries := make([]RedemptionEntry, 0, len(byID))
	for id, rec := range byID {
		if rec == nil || rec.Amount == nil || rec.Amount.Sign() == 0 {
			continue
		}
		entries = append(entries, RedemptionEntry{ID: id, Redemption: rec.Clone()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// RedemptionExport is one persisted record with its owner and id.
type RedemptionExport struct {
	User       crypto.Address
	ID         uint64
	Redemption *Redemption
}

// SequenceExport persists a user's last issued id independently of live
// records so cancelled ids are never reissued after a restart.
type SequenceExport struct {
	User   crypto.Address
	LastID uint64
}

// BookExport is the portable form of the book used by snapshot persistence.
type BookExport struct {
	Records   []RedemptionExport
	Sequences []SequenceExport
}

// Export returns a deterministic deep copy: records ordered by (user, id),
// sequences by user.
func (b *RedemptionBook) Export() BookExport {
	var out BookExport
	for user, byID := range b.redemptions {
		for id, rec := range byID {
			if rec == nil {
				continue
			}
			out.Records = append(out.Records, RedemptionExport{User: user, ID: id, Redemption: rec.Clone()})
		}
	}
	sort.Slice(out.Records, func(i, j int) bool {
		if cmp := bytes.Compare(out.Records[i].User[:], out.Records[j].User[:]); cmp != 0 {
			return cmp < 0
		}
		return out.Records[i].ID < out.Records[j].ID
	})
	for user, last := range b.lastID {
		out.Sequences = append(out.Sequences, SequenceExport{User: user, LastID: last})
	}
	sort.Slice(out.Sequences, func(i, j int) bool {
		return bytes.Compare(out.Sequences[i].User[:], out.Sequences[j].User[:]) < 0
	})
	return out
}

// Restore replaces the book contents with an exported snapshot, recomputing
// open counts from the surviving records.
func (b *RedemptionBook) Restore(export BookExport) {
	b.redemptions = make(map[crypto.Address]map[uint64]*Redemption)
	b.lastID = make(map[crypto.Address]uint64)
	b.openCount = make(map[crypto.Address]uint32)
	for _, seq := range export.Sequences {
		if seq.LastID > 0 {
			b.lastID[seq.User] = seq.LastID
		}
	}
	for _, entry := range export.Records {
		rec := entry.Redemption
		if entry.ID == 0 || rec == nil || rec.Amount == nil || rec.Amount.Sign() == 0 {
			continue
		}
		byID, ok := b.redemptions[entry.User]
		if !ok {
			byID = make(map[uint64]*Redemption)
			b.redemptions[entry.User] = byID
		}
		byID[entry.ID] = rec.Clone()
		if !rec.Completed {
			b.openCount[entry.User]++
		}
		if entry.ID > b.lastID[entry.User] {
			b.lastID[entry.User] = entry.ID
		}
	}
}

// InitiateRedemption escrows the caller's KUSD and opens a time-locked exit
// toward asset. Returns the caller-scoped sequence id of the new record.
func (e *Engine) InitiateRedemption(caller crypto.Address, asset Asset, amount *big.Int) (uint64, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleStable); err != nil {
		return 0, err
	}
	release, err := e.guard.Enter("initiate_redemption")
	if err != nil {
		return 0, err
	}
	defer release()
	if e.ledger == nil {
		return 0, fmt.Errorf("stable: token ledger not configured")
	}
	if err := e.checkPolicy(caller); err != nil {
		return 0, err
	}
	if !e.params.IsAssetSupported(asset) {
		return 0, ErrAssetNotSupported
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if e.book.open(caller) >= e.params.MaxOpenRedemptions {
		return 0, ErrTooManyOpenRedemptions
	}
	balance := e.ledger.BalanceOf(KUSDSymbol, caller)
	if balance == nil || balance.Cmp(amount) < 0 {
		return 0, ErrInsufficientBalance
	}
	if err := e.ledger.Transfer(KUSDSymbol, caller, e.custody, amount); err != nil {
		return 0, fmt.Errorf("stable: escrow redemption: %w", err)
	}
	rec := &Redemption{
		Asset:      asset,
		Amount:     new(big.Int).Set(amount),
		UnlockTime: e.now() + e.params.RedeemDelaySeconds,
	}
	id := e.book.append(caller, rec)
	e.emit(NewRedemptionInitiatedEvent(caller, id, rec))
	return id, nil
}

// CompleteRedemption settles the caller's own matured redemption: burns the
// escrowed KUSD and pays the reserve asset from custody. Returns the payout
// in raw asset units.
func (e *Engine) CompleteRedemption(caller crypto.Address, id uint64) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleStable); err != nil {
		return nil, err
	}
	release, err := e.guard.Enter("complete_redemption")
	if err != nil {
		return nil, err
	}
	defer release()
	return e.complete(caller, caller, id)
}

// CompleteRedemptionFor lets a manager settle a matured redemption on the
// user's behalf. The payout still goes to the user.
func (e *Engine) CompleteRedemptionFor(manager, user crypto.Address, id uint64) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleStable); err != nil {
		return nil, err
	}
	release, err := e.guard.Enter("complete_redemption_for")
	if err != nil {
		return nil, err
	}
	defer release()
	if e.auth == nil || !e.auth.IsManager(manager) {
		return nil, ErrUnauthorized
	}
	return e.complete(manager, user, id)
}

func (e *Engine) complete(by, user crypto.Address, id uint64) (*big.Int, error) {
	if e.ledger == nil {
		return nil, fmt.Errorf("stable: token ledger not configured")
	}
	rec := e.book.get(user, id)
	if rec == nil {
		return nil, ErrRedemptionNotFound
	}
	if rec.Completed {
		return nil, ErrRedemptionCompleted
	}
	if e.now() < rec.UnlockTime {
		return nil, ErrRedemptionNotReady
	}
	decimals, ok := e.ledger.Decimals(rec.Asset.String())
	if !ok {
		return nil, fmt.Errorf("%w: unknown decimals for %s", ErrAssetNotSupported, rec.Asset)
	}
	payout := DenormalizeAmount(rec.Amount, decimals)
	if payout.Sign() == 0 {
		return nil, ErrAmountTooSmall
	}
	reserve := e.ledger.BalanceOf(rec.Asset.String(), e.custody)
	if reserve == nil || reserve.Cmp(payout) < 0 {
		return nil, ErrInsufficientReserve
	}
	if err := e.ledger.Burn(KUSDSymbol, e.custody, rec.Amount); err != nil {
		return nil, fmt.Errorf("stable: burn escrow: %w", err)
	}
	if err := e.ledger.Transfer(rec.Asset.String(), e.custody, user, payout); err != nil {
		_ = e.ledger.Mint(KUSDSymbol, e.custody, rec.Amount)
		return nil, fmt.Errorf("stable: pay redemption: %w", err)
	}
	e.book.markCompleted(user, id)
	e.emit(NewRedemptionCompletedEvent(user, id, rec, payout, by))
	return payout, nil
}

// CancelRedemption returns the escrowed KUSD to the caller and deletes the
// record. No unlock-time check: a pending exit can always be abandoned.
func (e *Engine) CancelRedemption(caller crypto.Address, id uint64) error {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleStable); err != nil {
		return err
	}
	release, err := e.guard.Enter("cancel_redemption")
	if err != nil {
		return err
	}
	defer release()
	if e.ledger == nil {
		return fmt.Errorf("stable: token ledger not configured")
	}
	rec := e.book.get(caller, id)
	if rec == nil {
		return ErrRedemptionNotFound
	}
	if rec.Completed {
		return ErrRedemptionCompleted
	}
	if err := e.ledger.Transfer(KUSDSymbol, e.custody, caller, rec.Amount); err != nil {
		return fmt.Errorf("stable: refund escrow: %w", err)
	}
	e.book.remove(caller, id)
	e.emit(NewRedemptionCancelledEvent(caller, id, rec))
	return nil
}

// GetRedemption returns a copy of (user, id), ErrRedemptionNotFound when no
// live record exists. Callable while paused.
func (e *Engine) GetRedemption(user crypto.Address, id uint64) (*Redemption, error) {
	rec := e.book.get(user, id)
	if rec == nil {
		return nil, ErrRedemptionNotFound
	}
	return rec.Clone(), nil
}

// ListRedemptions returns copies of the user's records in ascending id
// order. Callable while paused.
func (e *Engine) ListRedemptions(user crypto.Address) []RedemptionEntry {
	return e.book.list(user)
}

// OpenRedemptions reports how many exits the user currently has in flight.
func (e *Engine) OpenRedemptions(user crypto.Address) uint32 {
	return e.book.open(user)
}
