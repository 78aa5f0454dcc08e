package yield

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"kusdcore/core/events"
	"kusdcore/crypto"
	nativecommon "kusdcore/native/common"
	"kusdcore/native/stable"
)

func testAddr(b byte) crypto.Address {
	var addr crypto.Address
	for i := range addr {
		addr[i] = b
	}
	return addr
}

var (
	adminAddr   = testAddr(0xad)
	callerAddr  = testAddr(0x55)
	custodyAddr = testAddr(0xd1)
	reserveAddr = testAddr(0xd2)
)

const testStart int64 = 1_800_000_000

type testLedger struct {
	balances map[string]map[crypto.Address]*big.Int
}

func newTestLedger() *testLedger {
	return &testLedger{balances: make(map[string]map[crypto.Address]*big.Int)}
}

func (m *testLedger) account(symbol string, addr crypto.Address) *big.Int {
	bySym, ok := m.balances[symbol]
	if !ok {
		bySym = make(map[crypto.Address]*big.Int)
		m.balances[symbol] = bySym
	}
	bal, ok := bySym[addr]
	if !ok {
		bal = big.NewInt(0)
		bySym[addr] = bal
	}
	return bal
}

func (m *testLedger) fund(symbol string, addr crypto.Address, amount int64) {
	m.account(symbol, addr).Add(m.account(symbol, addr), big.NewInt(amount))
}

func (m *testLedger) setBalance(symbol string, addr crypto.Address, amount int64) {
	m.account(symbol, addr).SetInt64(amount)
}

func (m *testLedger) BalanceOf(symbol string, addr crypto.Address) *big.Int {
	return new(big.Int).Set(m.account(symbol, addr))
}

func (m *testLedger) Transfer(symbol string, from, to crypto.Address, amount *big.Int) error {
	bal := m.account(symbol, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("test ledger: insufficient %s balance", symbol)
	}
	bal.Sub(bal, amount)
	m.account(symbol, to).Add(m.account(symbol, to), amount)
	return nil
}

func (m *testLedger) Mint(symbol string, to crypto.Address, amount *big.Int) error {
	m.account(symbol, to).Add(m.account(symbol, to), amount)
	return nil
}

func (m *testLedger) Burn(symbol string, from crypto.Address, amount *big.Int) error {
	bal := m.account(symbol, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("test ledger: burn exceeds balance")
	}
	bal.Sub(bal, amount)
	return nil
}

func (m *testLedger) Decimals(symbol string) (uint8, bool) { return 18, true }

type testAuth struct {
	admins map[crypto.Address]bool
}

func (a *testAuth) IsAdmin(addr crypto.Address) bool   { return a.admins[addr] }
func (a *testAuth) IsManager(addr crypto.Address) bool { return false }
func (a *testAuth) IsPauser(addr crypto.Address) bool  { return false }

type assetSet map[stable.Asset]bool

func (s assetSet) IsAssetSupported(asset stable.Asset) bool { return s[asset] }

type testSink struct {
	minted map[stable.Asset]*big.Int
	calls  int
	fail   func(call int) error
}

func (s *testSink) MintKUSDForVault(asset stable.Asset, amount *big.Int) error {
	s.calls++
	if s.fail != nil {
		if err := s.fail(s.calls); err != nil {
			return err
		}
	}
	total, ok := s.minted[asset]
	if !ok {
		total = big.NewInt(0)
		s.minted[asset] = total
	}
	total.Add(total, amount)
	return nil
}

func (s *testSink) ExchangeRate() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
}

type pauseFlags map[string]bool

func (p pauseFlags) IsPaused(module string) bool { return p[module] }

type captureEmitter struct {
	types []string
}

func (c *captureEmitter) Emit(evt events.Event) { c.types = append(c.types, evt.EventType()) }

type schedFixture struct {
	sched  *Scheduler
	ledger *testLedger
	sink   *testSink
	now    int64
}

func newTestScheduler(t *testing.T) *schedFixture {
	t.Helper()
	f := &schedFixture{now: testStart}
	f.ledger = newTestLedger()
	f.sink = &testSink{minted: make(map[stable.Asset]*big.Int)}
	f.sched = NewScheduler()
	err := f.sched.SetParams(Params{
		MinDurationSeconds: 5,
		MaxDurationSeconds: 1_000_000,
		MaxActive:          3,
	})
	if err != nil {
		t.Fatalf("set params: %v", err)
	}
	f.sched.SetLedger(f.ledger)
	f.sched.SetAuthorization(&testAuth{admins: map[crypto.Address]bool{adminAddr: true}})
	f.sched.SetAssets(assetSet{"USDC": true, "USDM": true})
	f.sched.SetSink(f.sink)
	f.sched.SetCustody(custodyAddr)
	f.sched.SetSinkReserve(reserveAddr)
	f.sched.SetNowFunc(func() int64 { return f.now })
	return f
}

func (f *schedFixture) register(t *testing.T, total int64, start, duration int64) uint64 {
	t.Helper()
	f.ledger.fund("USDC", adminAddr, total)
	id, err := f.sched.Register(adminAddr, "USDC", big.NewInt(total), start, duration)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return id
}

func TestLinearReleaseOverLifetime(t *testing.T) {
	f := newTestScheduler(t)
	emitter := &captureEmitter{}
	f.sched.SetEmitter(emitter)
	id := f.register(t, 1000, testStart, 100)

	if got := f.ledger.BalanceOf("USDC", custodyAddr); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("custody after register: got %s", got)
	}

	// Nothing has vested at the start boundary.
	if _, err := f.sched.Release(callerAddr, []uint64{id}); !errors.Is(err, ErrNothingDue) {
		t.Fatalf("release at start: got %v", err)
	}

	f.now = testStart + 50
	released, err := f.sched.Release(callerAddr, []uint64{id})
	if err != nil {
		t.Fatalf("release at midpoint: %v", err)
	}
	if released != 1 {
		t.Fatalf("released count: got %d", released)
	}
	if got := f.sink.minted["USDC"]; got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("sink minted at midpoint: got %s", got)
	}
	if got := f.ledger.BalanceOf("USDC", reserveAddr); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("reserve at midpoint: got %s", got)
	}

	// Same instant again: everything due is already out.
	if _, err := f.sched.Release(callerAddr, []uint64{id}); !errors.Is(err, ErrNothingDue) {
		t.Fatalf("repeat release: got %v", err)
	}

	f.now = testStart + 100
	if _, err := f.sched.Release(callerAddr, []uint64{id}); err != nil {
		t.Fatalf("release at end: %v", err)
	}
	if got := f.sink.minted["USDC"]; got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("sink minted at end: got %s", got)
	}
	dist, err := f.sched.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if dist.Active {
		t.Fatal("distribution should be complete")
	}
	if dist.ReleasedAmount.Cmp(dist.TotalAmount) != 0 {
		t.Fatalf("released: got %s want %s", dist.ReleasedAmount, dist.TotalAmount)
	}
	if ids := f.sched.ActiveIDs(); len(ids) != 0 {
		t.Fatalf("active after completion: got %v", ids)
	}
	last := emitter.types[len(emitter.types)-1]
	if last != EventTypeDistributionCompleted {
		t.Fatalf("final event: got %q", last)
	}
}

func TestVestingFloorsIntermediateAmounts(t *testing.T) {
	f := newTestScheduler(t)
	id := f.register(t, 1000, testStart, 30)

	f.now = testStart + 10
	if _, err := f.sched.Release(callerAddr, []uint64{id}); err != nil {
		t.Fatalf("first third: %v", err)
	}
	if got := f.sink.minted["USDC"]; got.Cmp(big.NewInt(333)) != 0 {
		t.Fatalf("first third: got %s", got)
	}
	f.now = testStart + 20
	if _, err := f.sched.Release(callerAddr, []uint64{id}); err != nil {
		t.Fatalf("second third: %v", err)
	}
	if got := f.sink.minted["USDC"]; got.Cmp(big.NewInt(666)) != 0 {
		t.Fatalf("second third: got %s", got)
	}
	// The final slice carries the rounding remainder so the sum is exact.
	f.now = testStart + 30
	if _, err := f.sched.Release(callerAddr, []uint64{id}); err != nil {
		t.Fatalf("final slice: %v", err)
	}
	if got := f.sink.minted["USDC"]; got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("total minted: got %s", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newTestScheduler(t)
	f.ledger.fund("USDC", adminAddr, 1000)
	total := big.NewInt(100)

	if _, err := f.sched.Register(callerAddr, "USDC", total, testStart, 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin: got %v", err)
	}
	if _, err := f.sched.Register(adminAddr, "XAU", total, testStart, 100); !errors.Is(err, ErrAssetNotSupported) {
		t.Fatalf("unsupported asset: got %v", err)
	}
	if _, err := f.sched.Register(adminAddr, "USDC", big.NewInt(0), testStart, 100); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero total: got %v", err)
	}
	if _, err := f.sched.Register(adminAddr, "USDC", nil, testStart, 100); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("nil total: got %v", err)
	}
	if _, err := f.sched.Register(adminAddr, "USDC", total, testStart, 4); !errors.Is(err, ErrDurationOutOfRange) {
		t.Fatalf("below min duration: got %v", err)
	}
	if _, err := f.sched.Register(adminAddr, "USDC", total, testStart, 2_000_000); !errors.Is(err, ErrDurationOutOfRange) {
		t.Fatalf("above max duration: got %v", err)
	}
	if _, err := f.sched.Register(adminAddr, "USDC", total, testStart-1, 100); !errors.Is(err, ErrStartInPast) {
		t.Fatalf("start in past: got %v", err)
	}
	// No failed attempt may have moved funds.
	if got := f.ledger.BalanceOf("USDC", custodyAddr); got.Sign() != 0 {
		t.Fatalf("custody after rejections: got %s", got)
	}
}

func TestRegisterActiveCap(t *testing.T) {
	f := newTestScheduler(t)
	for i := 0; i < 3; i++ {
		f.register(t, 100, testStart, 100)
	}
	f.ledger.fund("USDC", adminAddr, 100)
	if _, err := f.sched.Register(adminAddr, "USDC", big.NewInt(100), testStart, 100); !errors.Is(err, ErrTooManyActive) {
		t.Fatalf("fourth active: got %v", err)
	}
	// Completing one frees a slot.
	f.now = testStart + 100
	if _, err := f.sched.Release(callerAddr, []uint64{1}); err != nil {
		t.Fatalf("complete first: %v", err)
	}
	id, err := f.sched.Register(adminAddr, "USDC", big.NewInt(100), f.now, 100)
	if err != nil {
		t.Fatalf("register after completion: %v", err)
	}
	if id != 4 {
		t.Fatalf("ids keep climbing: got %d", id)
	}
}

func TestReleaseSkipsUnknownAndInactive(t *testing.T) {
	f := newTestScheduler(t)
	id := f.register(t, 100, testStart, 10)
	f.now = testStart + 10
	if _, err := f.sched.Release(callerAddr, []uint64{99, id}); err != nil {
		t.Fatalf("release with unknown id: %v", err)
	}
	// Completed distribution and unknown id alike pend nothing.
	if _, err := f.sched.Release(callerAddr, []uint64{99, id}); !errors.Is(err, ErrNothingDue) {
		t.Fatalf("nothing due: got %v", err)
	}
}

func TestReleaseBatchCommitsPerDistribution(t *testing.T) {
	f := newTestScheduler(t)
	first := f.register(t, 100, testStart, 10)
	second := f.register(t, 200, testStart, 10)
	f.sink.fail = func(call int) error {
		if call == 2 {
			return fmt.Errorf("sink offline")
		}
		return nil
	}

	f.now = testStart + 10
	released, err := f.sched.Release(callerAddr, []uint64{first, second})
	if err == nil {
		t.Fatal("expected mid-batch failure")
	}
	if released != 1 {
		t.Fatalf("committed releases: got %d", released)
	}
	// The first release stays applied.
	d1, _ := f.sched.Get(first)
	if d1.Active || d1.ReleasedAmount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("first distribution: %+v", d1)
	}
	// The failed one is fully unwound: funds back in custody, still active.
	d2, _ := f.sched.Get(second)
	if !d2.Active || d2.ReleasedAmount.Sign() != 0 {
		t.Fatalf("second distribution: %+v", d2)
	}
	if got := f.ledger.BalanceOf("USDC", custodyAddr); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("custody after unwind: got %s", got)
	}
	// Retry succeeds once the sink recovers.
	f.sink.fail = nil
	if _, err := f.sched.Release(callerAddr, []uint64{second}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := f.sink.minted["USDC"]; got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("sink total: got %s", got)
	}
}

func TestReleaseFromActiveSweepsSnapshot(t *testing.T) {
	f := newTestScheduler(t)
	for i := 0; i < 3; i++ {
		f.register(t, 100, testStart, 10)
	}
	f.now = testStart + 10
	// Every distribution completes during the sweep, so swap-removal
	// reshuffles the live active sequence under the iteration.
	released, err := f.sched.ReleaseFromActive(callerAddr, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if released != 3 {
		t.Fatalf("released count: got %d", released)
	}
	if got := f.sink.minted["USDC"]; got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("sink total: got %s", got)
	}
	if ids := f.sched.ActiveIDs(); len(ids) != 0 {
		t.Fatalf("active after sweep: got %v", ids)
	}
}

func TestReleaseFromActiveHonorsMax(t *testing.T) {
	f := newTestScheduler(t)
	for i := 0; i < 3; i++ {
		f.register(t, 100, testStart, 10)
	}
	f.now = testStart + 10
	if _, err := f.sched.ReleaseFromActive(callerAddr, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero max: got %v", err)
	}
	released, err := f.sched.ReleaseFromActive(callerAddr, 2)
	if err != nil {
		t.Fatalf("capped sweep: %v", err)
	}
	if released != 2 {
		t.Fatalf("released count: got %d", released)
	}
	ids := f.sched.ActiveIDs()
	if len(ids) != 1 || ids[0] != 3 {
		t.Fatalf("remaining active: got %v", ids)
	}
}

func TestReleaseInsufficientCustody(t *testing.T) {
	f := newTestScheduler(t)
	id := f.register(t, 1000, testStart, 10)
	f.ledger.setBalance("USDC", custodyAddr, 5)
	f.now = testStart + 10
	released, err := f.sched.Release(callerAddr, []uint64{id})
	if !errors.Is(err, ErrInsufficientCustody) {
		t.Fatalf("expected custody error, got %v", err)
	}
	if released != 0 {
		t.Fatalf("released count: got %d", released)
	}
	d, _ := f.sched.Get(id)
	if !d.Active || d.ReleasedAmount.Sign() != 0 {
		t.Fatalf("distribution after failure: %+v", d)
	}
}

func TestCancelRefundsRemainder(t *testing.T) {
	f := newTestScheduler(t)
	emitter := &captureEmitter{}
	f.sched.SetEmitter(emitter)
	id := f.register(t, 1000, testStart, 100)

	f.now = testStart + 40
	if _, err := f.sched.Release(callerAddr, []uint64{id}); err != nil {
		t.Fatalf("partial release: %v", err)
	}

	if _, err := f.sched.Cancel(callerAddr, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin cancel: got %v", err)
	}
	remainder, err := f.sched.Cancel(adminAddr, id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if remainder.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("remainder: got %s", remainder)
	}
	if got := f.ledger.BalanceOf("USDC", adminAddr); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("admin refund: got %s", got)
	}
	if got := f.ledger.BalanceOf("USDC", custodyAddr); got.Sign() != 0 {
		t.Fatalf("custody after cancel: got %s", got)
	}
	d, err := f.sched.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.Active || d.ReleasedAmount.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("cancelled distribution: %+v", d)
	}
	if ids := f.sched.ActiveIDs(); len(ids) != 0 {
		t.Fatalf("active after cancel: got %v", ids)
	}
	if _, err := f.sched.Cancel(adminAddr, id); !errors.Is(err, ErrDistributionInactive) {
		t.Fatalf("double cancel: got %v", err)
	}
	if _, err := f.sched.Cancel(adminAddr, 99); !errors.Is(err, ErrDistributionNotFound) {
		t.Fatalf("unknown cancel: got %v", err)
	}
	last := emitter.types[len(emitter.types)-1]
	if last != EventTypeDistributionCancelled {
		t.Fatalf("final event: got %q", last)
	}
}

func TestPendingView(t *testing.T) {
	f := newTestScheduler(t)
	id := f.register(t, 1000, testStart+10, 100)

	if _, err := f.sched.Pending(99); !errors.Is(err, ErrDistributionNotFound) {
		t.Fatalf("unknown pending: got %v", err)
	}
	pending, err := f.sched.Pending(id)
	if err != nil {
		t.Fatalf("pending before start: %v", err)
	}
	if pending.Sign() != 0 {
		t.Fatalf("pending before start: got %s", pending)
	}
	f.now = testStart + 60
	pending, _ = f.sched.Pending(id)
	if pending.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("pending at midpoint: got %s", pending)
	}
	// Time past the end clamps to the full remainder, never beyond.
	f.now = testStart + 10_000
	pending, _ = f.sched.Pending(id)
	if pending.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("pending after end: got %s", pending)
	}
}

func TestSchedulerPaused(t *testing.T) {
	f := newTestScheduler(t)
	id := f.register(t, 1000, testStart, 100)
	f.sched.SetPauses(pauseFlags{nativecommon.ModuleYield: true})
	f.now = testStart + 50

	f.ledger.fund("USDC", adminAddr, 100)
	if _, err := f.sched.Register(adminAddr, "USDC", big.NewInt(100), f.now, 100); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("register while paused: got %v", err)
	}
	if _, err := f.sched.Release(callerAddr, []uint64{id}); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("release while paused: got %v", err)
	}
	if _, err := f.sched.ReleaseFromActive(callerAddr, 1); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("sweep while paused: got %v", err)
	}
	if _, err := f.sched.Cancel(adminAddr, id); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("cancel while paused: got %v", err)
	}
	// Reads stay open.
	if _, err := f.sched.Pending(id); err != nil {
		t.Fatalf("pending while paused: %v", err)
	}
	if _, err := f.sched.Get(id); err != nil {
		t.Fatalf("get while paused: %v", err)
	}
}

func TestSchedulerExportRestore(t *testing.T) {
	f := newTestScheduler(t)
	first := f.register(t, 1000, testStart, 100)
	second := f.register(t, 500, testStart, 100)
	f.now = testStart + 50
	if _, err := f.sched.Release(callerAddr, []uint64{first}); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := f.sched.Cancel(adminAddr, second); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	export := f.sched.Export()
	// A stale active entry for an inactive distribution must not revive it.
	export.ActiveIDs = append(export.ActiveIDs, second)

	restored := NewScheduler()
	restored.Restore(export)
	if ids := restored.ActiveIDs(); len(ids) != 1 || ids[0] != first {
		t.Fatalf("restored active: got %v", ids)
	}
	d1, err := restored.Get(first)
	if err != nil {
		t.Fatalf("restored get: %v", err)
	}
	if !d1.Active || d1.ReleasedAmount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("restored first: %+v", d1)
	}
	d2, err := restored.Get(second)
	if err != nil {
		t.Fatalf("restored get second: %v", err)
	}
	if d2.Active {
		t.Fatal("cancelled distribution restored active")
	}
	// New registrations continue the id sequence.
	restored.SetLedger(f.ledger)
	restored.SetAuthorization(&testAuth{admins: map[crypto.Address]bool{adminAddr: true}})
	restored.SetAssets(assetSet{"USDC": true})
	restored.SetSink(f.sink)
	restored.SetCustody(custodyAddr)
	restored.SetSinkReserve(reserveAddr)
	restored.SetNowFunc(func() int64 { return f.now })
	f.ledger.fund("USDC", adminAddr, 100)
	id, err := restored.Register(adminAddr, "USDC", big.NewInt(100), f.now, 100)
	if err != nil {
		t.Fatalf("register after restore: %v", err)
	}
	if id != 3 {
		t.Fatalf("next id after restore: got %d", id)
	}
}
