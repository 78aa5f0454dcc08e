package vault

import (
	"math/big"

	"kusdcore/core/types"
	"kusdcore/crypto"
	"kusdcore/native/stable"
)

const (
	EventTypeStaked          = "vault.staked"
	EventTypeUnstaked        = "vault.unstaked"
	EventTypeBackingIncrease = "vault.backing.increased"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func NewStakedEvent(caller crypto.Address, amount, shares *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeStaked,
		Attributes: map[string]string{
			"staker": caller.String(),
			"amount": amountString(amount),
			"shares": amountString(shares),
		},
	}
}

func NewUnstakedEvent(caller crypto.Address, shares, payout *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeUnstaked,
		Attributes: map[string]string{
			"staker": caller.String(),
			"shares": amountString(shares),
			"payout": amountString(payout),
		},
	}
}

func NewBackingIncreasedEvent(asset stable.Asset, minted, rate *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeBackingIncrease,
		Attributes: map[string]string{
			"asset":  asset.String(),
			"minted": amountString(minted),
			"rate":   amountString(rate),
		},
	}
}
