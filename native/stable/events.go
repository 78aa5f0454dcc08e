package stable

import (
	"math/big"
	"strconv"

	"kusdcore/core/types"
	"kusdcore/crypto"
)

const (
	EventTypeDeposit             = "stable.deposit"
	EventTypeVaultMint           = "stable.vault.mint"
	EventTypeRedemptionInitiated = "stable.redemption.initiated"
	EventTypeRedemptionCompleted = "stable.redemption.completed"
	EventTypeRedemptionCancelled = "stable.redemption.cancelled"
	EventTypeLimitUpdated        = "stable.limit.updated"
)

// NewDepositEvent returns the canonical payload for a completed user deposit.
func NewDepositEvent(caller crypto.Address, asset Asset, raw, minted *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeDeposit,
		Attributes: map[string]string{
			"caller":    caller.String(),
			"asset":     asset.String(),
			"rawAmount": bigString(raw),
			"mintedWei": bigString(minted),
		},
	}
}

// NewVaultMintEvent returns the payload emitted when yield is minted to the
// vault account through the restricted deposit path.
func NewVaultMintEvent(asset Asset, raw, minted *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeVaultMint,
		Attributes: map[string]string{
			"asset":     asset.String(),
			"rawAmount": bigString(raw),
			"mintedWei": bigString(minted),
		},
	}
}

// NewRedemptionInitiatedEvent returns the payload for a newly opened exit.
func NewRedemptionInitiatedEvent(user crypto.Address, id uint64, rec *Redemption) *types.Event {
	attrs := map[string]string{
		"user": user.String(),
		"id":   strconv.FormatUint(id, 10),
	}
	if rec != nil {
		attrs["asset"] = rec.Asset.String()
		attrs["amountWei"] = bigString(rec.Amount)
		attrs["unlockTime"] = strconv.FormatInt(rec.UnlockTime, 10)
	}
	return &types.Event{Type: EventTypeRedemptionInitiated, Attributes: attrs}
}

// NewRedemptionCompletedEvent returns the payload for a settled exit,
// including who drove the completion and the raw payout.
func NewRedemptionCompletedEvent(user crypto.Address, id uint64, rec *Redemption, payout *big.Int, by crypto.Address) *types.Event {
	attrs := map[string]string{
		"user":        user.String(),
		"id":          strconv.FormatUint(id, 10),
		"payout":      bigString(payout),
		"completedBy": by.String(),
	}
	if rec != nil {
		attrs["asset"] = rec.Asset.String()
		attrs["amountWei"] = bigString(rec.Amount)
	}
	return &types.Event{Type: EventTypeRedemptionCompleted, Attributes: attrs}
}

// NewRedemptionCancelledEvent returns the payload for an abandoned exit.
func NewRedemptionCancelledEvent(user crypto.Address, id uint64, rec *Redemption) *types.Event {
	attrs := map[string]string{
		"user": user.String(),
		"id":   strconv.FormatUint(id, 10),
	}
	if rec != nil {
		attrs["asset"] = rec.Asset.String()
		attrs["amountWei"] = bigString(rec.Amount)
	}
	return &types.Event{Type: EventTypeRedemptionCancelled, Attributes: attrs}
}

// NewLimitUpdatedEvent returns the payload for an admin cap change; scope is
// either ScopeGlobal or the asset symbol.
func NewLimitUpdatedEvent(scope string, limit *big.Int) *types.Event {
	value := "unlimited"
	if !IsUnlimited(limit) {
		value = bigString(limit)
	}
	return &types.Event{
		Type: EventTypeLimitUpdated,
		Attributes: map[string]string{
			"scope": scope,
			"limit": value,
		},
	}
}
