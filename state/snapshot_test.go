package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"

	"kusdcore/crypto"
	"kusdcore/native/bank"
	nativecommon "kusdcore/native/common"
	"kusdcore/native/stable"
	"kusdcore/native/vault"
	"kusdcore/native/yield"
	"kusdcore/storage"
)

var (
	custodyAddr  = regAddr(0xc0)
	vaultAddr    = regAddr(0xa1)
	yieldCustody = regAddr(0xd1)
	userAddr     = regAddr(0x11)
	adminAddr    = regAddr(0xad)
	bannedAddr   = regAddr(0xbb)
	keeperAddr   = regAddr(0x55)
)

const snapStart int64 = 1_900_000_000

// newComponents wires the full protocol graph: bank as the book of record,
// the stable engine as minter, the vault as yield sink, and the registries
// as auth/policy/pause sources.
func newComponents(t *testing.T, now *int64) Components {
	t.Helper()
	ledger := bank.NewLedger()
	require.NoError(t, ledger.RegisterToken("USDC", "USD Coin", 6))
	require.NoError(t, ledger.RegisterToken(stable.KUSDSymbol, "KUSD Stablecoin", 18))

	pauses := NewPauseRegistry()
	roles := NewRoleRegistry()
	policy := NewPolicyRegistry()

	eng := stable.NewEngine()
	require.NoError(t, eng.SetParams(stable.Params{
		Assets:             []stable.Asset{"USDC"},
		RedeemDelaySeconds: 3600,
		MaxOpenRedemptions: 4,
	}))
	eng.SetLedger(ledger)
	eng.SetCustody(custodyAddr)
	eng.SetVaultAccount(vaultAddr)
	eng.SetAuthorization(roles)
	eng.SetPolicy(policy)
	eng.SetPauses(pauses)
	eng.SetNowFunc(func() int64 { return *now })

	v := vault.NewVault()
	v.SetLedger(ledger)
	v.SetMinter(eng)
	v.SetAccount(vaultAddr)
	v.SetPauses(pauses)

	sched := yield.NewScheduler()
	require.NoError(t, sched.SetParams(yield.Params{
		MinDurationSeconds: 5,
		MaxDurationSeconds: 1_000_000,
		MaxActive:          8,
	}))
	sched.SetLedger(ledger)
	sched.SetAuthorization(roles)
	sched.SetAssets(eng)
	sched.SetSink(v)
	sched.SetCustody(yieldCustody)
	sched.SetSinkReserve(custodyAddr)
	sched.SetPauses(pauses)
	sched.SetNowFunc(func() int64 { return *now })

	return Components{
		Bank:   ledger,
		Stable: eng,
		Yield:  sched,
		Vault:  v,
		Pauses: pauses,
		Roles:  roles,
		Policy: policy,
	}
}

func kusdWei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
}

// populate drives real operations through every component so the snapshot
// has representative state: a deposit, an open redemption, a part-released
// distribution flowing through the vault sink, a stake, and registry edits.
func populate(t *testing.T, c Components, now *int64) {
	t.Helper()
	c.Roles.Grant(RoleAdmin, adminAddr)
	c.Roles.Grant(RoleManager, adminAddr)
	c.Policy.Forbid(bannedAddr)
	require.NoError(t, c.Bank.Mint("USDC", userAddr, big.NewInt(5_000_000)))
	require.NoError(t, c.Bank.Mint("USDC", adminAddr, big.NewInt(1000)))

	require.NoError(t, c.Stable.SetGlobalLimit(adminAddr, kusdWei(100)))
	minted, err := c.Stable.Deposit(userAddr, "USDC", big.NewInt(2_000_000))
	require.NoError(t, err)
	require.Zero(t, minted.Cmp(kusdWei(20)))

	id, err := c.Stable.InitiateRedemption(userAddr, "USDC", kusdWei(10))
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	distID, err := c.Yield.Register(adminAddr, "USDC", big.NewInt(1000), *now, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(1), distID)

	// Half the vesting window elapses; the release flows scheduler →
	// vault sink → stable vault deposit.
	*now += 50
	released, err := c.Yield.Release(keeperAddr, []uint64{distID})
	require.NoError(t, err)
	require.Equal(t, 1, released)

	_, err = c.Vault.Stake(userAddr, kusdWei(5))
	require.NoError(t, err)

	c.Pauses.Pause(nativecommon.ModuleYield)
}

func TestSnapshotRoundTrip(t *testing.T) {
	now := snapStart
	source := newComponents(t, &now)
	populate(t, source, &now)
	db := storage.NewMemDB()
	require.NoError(t, Save(db, source))

	restoredNow := now
	restored := newComponents(t, &restoredNow)
	ok, err := Load(db, restored)
	require.NoError(t, err)
	require.True(t, ok)

	// Bank balances and supply.
	require.Zero(t, restored.Bank.BalanceOf("USDC", userAddr).Cmp(big.NewInt(3_000_000)))
	require.Zero(t, restored.Bank.BalanceOf("USDC", custodyAddr).Cmp(big.NewInt(2_000_500)))
	require.Zero(t, restored.Bank.TotalSupply("USDC").Cmp(big.NewInt(5_001_000)))

	// Stable capacity: 2 KUSD deposit + 500 micro-USDC of vault yield.
	yieldWei := new(big.Int).Mul(big.NewInt(500), new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil))
	wantTotal := new(big.Int).Add(kusdWei(20), yieldWei)
	limits := restored.Stable.Limits()
	require.Zero(t, limits.TotalDeposited.Cmp(wantTotal))
	require.Zero(t, limits.GlobalLimit.Cmp(kusdWei(100)))

	// Open redemption survives with its escrow schedule.
	rec, err := restored.Stable.GetRedemption(userAddr, 1)
	require.NoError(t, err)
	require.False(t, rec.Completed)
	require.Zero(t, rec.Amount.Cmp(kusdWei(10)))
	require.Equal(t, snapStart+3600, rec.UnlockTime)

	// Distribution is half released and still active.
	dist, err := restored.Yield.Get(1)
	require.NoError(t, err)
	require.True(t, dist.Active)
	require.Zero(t, dist.ReleasedAmount.Cmp(big.NewInt(500)))
	require.Equal(t, []uint64{1}, restored.Yield.ActiveIDs())

	// Vault shares and registries.
	require.Zero(t, restored.Vault.SharesOf(userAddr).Cmp(kusdWei(5)))
	require.True(t, restored.Pauses.IsPaused(nativecommon.ModuleYield))
	require.False(t, restored.Pauses.IsPaused(nativecommon.ModuleStable))
	require.True(t, restored.Roles.IsAdmin(adminAddr))
	require.True(t, restored.Policy.IsForbidden(bannedAddr))
	require.False(t, restored.Policy.AllowlistEnabled())
}

func TestLoadMissingSnapshot(t *testing.T) {
	now := snapStart
	c := newComponents(t, &now)
	db := storage.NewMemDB()
	ok, err := Load(db, c)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadRejectsTamperedPayload(t *testing.T) {
	now := snapStart
	source := newComponents(t, &now)
	populate(t, source, &now)
	db := storage.NewMemDB()
	require.NoError(t, Save(db, source))

	raw, err := db.Get(snapshotKey)
	require.NoError(t, err)
	var env storedEnvelope
	require.NoError(t, rlp.DecodeBytes(raw, &env))
	env.Payload[len(env.Payload)/2] ^= 0xff
	tampered, err := rlp.EncodeToBytes(env)
	require.NoError(t, err)
	require.NoError(t, db.Put(snapshotKey, tampered))

	restoredNow := now
	_, err = Load(db, newComponents(t, &restoredNow))
	require.True(t, errors.Is(err, ErrSnapshotCorrupted))
}

func TestLoadMigratesV1Snapshot(t *testing.T) {
	v1 := storedSnapshotV1{
		Version: 1,
		Stable: storedStableState{
			Capacity: storedCapacity{
				GlobalLimit:    stable.Unlimited.String(),
				TotalDeposited: "1000000000000000000",
				AssetTotals:    []storedAssetAmount{{Asset: "USDC", Amount: "1000000000000000000"}},
			},
		},
		Bank: storedBankState{
			Tokens: []storedToken{
				{Symbol: "USDC", Name: "USD Coin", Decimals: 6},
				{Symbol: "KUSD", Name: "KUSD Stablecoin", Decimals: 18},
			},
			Balances: []storedBalance{
				{Symbol: "USDC", Address: userAddr.Bytes(), Amount: "250"},
			},
			Supplies: []storedSupply{{Symbol: "USDC", Amount: "250"}},
		},
		Paused: []string{nativecommon.ModuleStable},
	}
	payload, err := rlp.EncodeToBytes(v1)
	require.NoError(t, err)
	digest := blake3.Sum256(payload)
	encoded, err := rlp.EncodeToBytes(storedEnvelope{Payload: payload, Digest: digest[:]})
	require.NoError(t, err)
	db := storage.NewMemDB()
	require.NoError(t, db.Put(snapshotKey, encoded))

	now := snapStart
	c := newComponents(t, &now)
	ok, err := Load(db, c)
	require.NoError(t, err)
	require.True(t, ok)

	require.Zero(t, c.Bank.BalanceOf("USDC", userAddr).Cmp(big.NewInt(250)))
	require.Zero(t, c.Stable.Limits().TotalDeposited.Cmp(big.NewInt(1_000_000_000_000_000_000)))
	require.True(t, c.Pauses.IsPaused(nativecommon.ModuleStable))
	// Post-v1 registries start empty after migration.
	require.Zero(t, c.Vault.TotalShares().Sign())
	require.Empty(t, c.Roles.Export())
	require.False(t, c.Policy.AllowlistEnabled())
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	future := storedSnapshot{Version: 99}
	payload, err := rlp.EncodeToBytes(future)
	require.NoError(t, err)
	digest := blake3.Sum256(payload)
	encoded, err := rlp.EncodeToBytes(storedEnvelope{Payload: payload, Digest: digest[:]})
	require.NoError(t, err)
	db := storage.NewMemDB()
	require.NoError(t, db.Put(snapshotKey, encoded))

	now := snapStart
	_, err = Load(db, newComponents(t, &now))
	require.Error(t, err)
}
