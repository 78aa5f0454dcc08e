package bank

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"kusdcore/crypto"
)

var (
	ErrTokenNotRegistered  = errors.New("bank: token not registered")
	ErrTokenExists         = errors.New("bank: token already registered")
	ErrInvalidAmount       = errors.New("bank: invalid amount")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrMintPaused          = errors.New("bank: minting paused")
)

// Token describes a registered token.
type Token struct {
	Symbol     string
	Name       string
	Decimals   uint8
	MintPaused bool
}

// Ledger tracks token registrations, per-account balances, and circulating
// supply for every registered symbol. It is the in-process book of record
// behind deposits, redemptions, and yield custody moves.
type Ledger struct {
	tokens   map[string]*Token
	balances map[string]map[crypto.Address]*big.Int
	supply   map[string]*big.Int
}

// NewLedger returns an empty ledger with no tokens registered.
func NewLedger() *Ledger {
	return &Ledger{
		tokens:   make(map[string]*Token),
		balances: make(map[string]map[crypto.Address]*big.Int),
		supply:   make(map[string]*big.Int),
	}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// RegisterToken adds a token to the registry. Symbols are normalised to
// upper case and must be unique.
func (l *Ledger) RegisterToken(symbol, name string, decimals uint8) error {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("bank: token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("bank: token %s: name must not be empty", normalized)
	}
	if _, ok := l.tokens[normalized]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, normalized)
	}
	l.tokens[normalized] = &Token{Symbol: normalized, Name: name, Decimals: decimals}
	return nil
}

// Token returns a copy of the metadata for symbol.
func (l *Ledger) Token(symbol string) (Token, bool) {
	tok, ok := l.tokens[normalizeSymbol(symbol)]
	if !ok {
		return Token{}, false
	}
	return *tok, true
}

// TokenList returns all registered symbols in sorted order.
func (l *Ledger) TokenList() []string {
	list := make([]string, 0, len(l.tokens))
	for symbol := range l.tokens {
		list = append(list, symbol)
	}
	sort.Strings(list)
	return list
}

// TokenExists reports whether symbol is registered.
func (l *Ledger) TokenExists(symbol string) bool {
	_, ok := l.tokens[normalizeSymbol(symbol)]
	return ok
}

// Decimals reports the registered precision for symbol.
func (l *Ledger) Decimals(symbol string) (uint8, bool) {
	tok, ok := l.tokens[normalizeSymbol(symbol)]
	if !ok {
		return 0, false
	}
	return tok.Decimals, true
}

// SetMintPaused toggles minting for a token without touching balances.
func (l *Ledger) SetMintPaused(symbol string, paused bool) error {
	tok, ok := l.tokens[normalizeSymbol(symbol)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTokenNotRegistered, normalizeSymbol(symbol))
	}
	tok.MintPaused = paused
	return nil
}

func (l *Ledger) account(symbol string, addr crypto.Address) *big.Int {
	bySym, ok := l.balances[symbol]
	if !ok {
		bySym = make(map[crypto.Address]*big.Int)
		l.balances[symbol] = bySym
	}
	bal, ok := bySym[addr]
	if !ok {
		bal = big.NewInt(0)
		bySym[addr] = bal
	}
	return bal
}

func (l *Ledger) supplyOf(symbol string) *big.Int {
	s, ok := l.supply[symbol]
	if !ok {
		s = big.NewInt(0)
		l.supply[symbol] = s
	}
	return s
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// BalanceOf returns a copy of the balance held by addr. Unknown symbols and
// untouched accounts report zero.
func (l *Ledger) BalanceOf(symbol string, addr crypto.Address) *big.Int {
	if bySym, ok := l.balances[normalizeSymbol(symbol)]; ok {
		if bal, ok := bySym[addr]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return big.NewInt(0)
}

// TotalSupply returns a copy of the circulating supply of symbol.
func (l *Ledger) TotalSupply(symbol string) *big.Int {
	if s, ok := l.supply[normalizeSymbol(symbol)]; ok {
		return new(big.Int).Set(s)
	}
	return big.NewInt(0)
}

// Transfer moves amount between accounts. The token must be registered and
// the sender funded.
func (l *Ledger) Transfer(symbol string, from, to crypto.Address, amount *big.Int) error {
	normalized := normalizeSymbol(symbol)
	if !l.TokenExists(normalized) {
		return fmt.Errorf("%w: %s", ErrTokenNotRegistered, normalized)
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	bal := l.account(normalized, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, normalized)
	}
	bal.Sub(bal, amount)
	l.account(normalized, to).Add(l.account(normalized, to), amount)
	return nil
}

// Mint issues amount to the account and grows the supply.
func (l *Ledger) Mint(symbol string, to crypto.Address, amount *big.Int) error {
	normalized := normalizeSymbol(symbol)
	tok, ok := l.tokens[normalized]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTokenNotRegistered, normalized)
	}
	if tok.MintPaused {
		return fmt.Errorf("%w: %s", ErrMintPaused, normalized)
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.account(normalized, to).Add(l.account(normalized, to), amount)
	l.supplyOf(normalized).Add(l.supplyOf(normalized), amount)
	return nil
}

// Burn destroys amount from the account and shrinks the supply.
func (l *Ledger) Burn(symbol string, from crypto.Address, amount *big.Int) error {
	normalized := normalizeSymbol(symbol)
	if !l.TokenExists(normalized) {
		return fmt.Errorf("%w: %s", ErrTokenNotRegistered, normalized)
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	bal := l.account(normalized, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, normalized)
	}
	bal.Sub(bal, amount)
	supply := l.supplyOf(normalized)
	supply.Sub(supply, amount)
	if supply.Sign() < 0 {
		supply.SetInt64(0)
	}
	return nil
}

// SetBalance overwrites an account balance, adjusting the tracked supply by
// the delta. Used when seeding genesis allocations.
func (l *Ledger) SetBalance(symbol string, addr crypto.Address, amount *big.Int) error {
	normalized := normalizeSymbol(symbol)
	if !l.TokenExists(normalized) {
		return fmt.Errorf("%w: %s", ErrTokenNotRegistered, normalized)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	bal := l.account(normalized, addr)
	delta := new(big.Int).Sub(amount, bal)
	bal.Set(amount)
	supply := l.supplyOf(normalized)
	supply.Add(supply, delta)
	if supply.Sign() < 0 {
		supply.SetInt64(0)
	}
	return nil
}

// BalanceExport is one account row in a ledger snapshot.
type BalanceExport struct {
	Symbol  string
	Address crypto.Address
	Amount  *big.Int
}

// SupplyExport is one circulating-supply row in a ledger snapshot.
type SupplyExport struct {
	Symbol string
	Amount *big.Int
}

// LedgerExport is a deterministic deep copy of the full ledger state.
type LedgerExport struct {
	Tokens   []Token
	Balances []BalanceExport
	Supplies []SupplyExport
}

// Export snapshots the ledger. Rows are ordered by symbol then address so
// repeated exports of the same state are byte-identical once encoded.
func (l *Ledger) Export() LedgerExport {
	out := LedgerExport{}
	for _, symbol := range l.TokenList() {
		out.Tokens = append(out.Tokens, *l.tokens[symbol])
		if s, ok := l.supply[symbol]; ok && s.Sign() > 0 {
			out.Supplies = append(out.Supplies, SupplyExport{Symbol: symbol, Amount: new(big.Int).Set(s)})
		}
		bySym := l.balances[symbol]
		addrs := make([]crypto.Address, 0, len(bySym))
		for addr, bal := range bySym {
			if bal.Sign() > 0 {
				addrs = append(addrs, addr)
			}
		}
		sort.Slice(addrs, func(i, j int) bool {
			return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
		})
		for _, addr := range addrs {
			out.Balances = append(out.Balances, BalanceExport{
				Symbol:  symbol,
				Address: addr,
				Amount:  new(big.Int).Set(bySym[addr]),
			})
		}
	}
	return out
}

// Restore replaces the ledger state with an exported snapshot.
func (l *Ledger) Restore(export LedgerExport) {
	l.tokens = make(map[string]*Token, len(export.Tokens))
	l.balances = make(map[string]map[crypto.Address]*big.Int)
	l.supply = make(map[string]*big.Int)
	for i := range export.Tokens {
		tok := export.Tokens[i]
		tok.Symbol = normalizeSymbol(tok.Symbol)
		if tok.Symbol == "" {
			continue
		}
		copied := tok
		l.tokens[tok.Symbol] = &copied
	}
	for _, row := range export.Balances {
		symbol := normalizeSymbol(row.Symbol)
		if _, ok := l.tokens[symbol]; !ok || row.Amount == nil || row.Amount.Sign() <= 0 {
			continue
		}
		l.account(symbol, row.Address).Set(row.Amount)
	}
	for _, row := range export.Supplies {
		symbol := normalizeSymbol(row.Symbol)
		if _, ok := l.tokens[symbol]; !ok || row.Amount == nil || row.Amount.Sign() <= 0 {
			continue
		}
		l.supplyOf(symbol).Set(row.Amount)
	}
}
