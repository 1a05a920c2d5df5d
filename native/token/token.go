package token

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"greenledger/core/state"
)

var (
	ErrNilState            = errors.New("token: state not configured")
	ErrMintAuthority       = errors.New("token: mint authority mismatch")
	ErrMintPaused          = errors.New("token: minting paused")
	ErrInvalidAmount       = errors.New("token: amount must be positive")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrBurnAuthority       = errors.New("token: burn requires balance owner")
)

// ledgerState describes the persistence the token ledger needs from the
// surrounding state implementation.
type ledgerState interface {
	Token(symbol string) (*state.TokenMetadata, error)
	SetTokenMintAuthority(symbol string, authority []byte) error
	Balance(addr []byte, symbol string) (*big.Int, error)
	SetBalance(addr []byte, symbol string, amount *big.Int) error
}

// Ledger performs mint and burn bookkeeping for fungible reward tokens. It is
// the collaborator that actually holds spendable balances; callers supply the
// authority under which each mutation runs and the ledger enforces that the
// authority matches the token's configuration.
type Ledger struct {
	state ledgerState
}

// NewLedger creates a token ledger backed by the provided state.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

// Mint credits amount units of the token to the target balance. The supplied
// authority must equal the mint authority configured on the token record;
// nothing else may create supply.
func (l *Ledger) Mint(authority []byte, symbol string, to []byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	meta, err := l.state.Token(symbol)
	if err != nil {
		return err
	}
	if meta.MintPaused {
		return ErrMintPaused
	}
	if len(meta.MintAuthority) == 0 || !bytes.Equal(meta.MintAuthority, authority) {
		return fmt.Errorf("%w: token %s", ErrMintAuthority, meta.Symbol)
	}
	balance, err := l.state.Balance(to, meta.Symbol)
	if err != nil {
		return err
	}
	return l.state.SetBalance(to, meta.Symbol, new(big.Int).Add(balance, amount))
}

// Burn debits amount units of the token from the source balance. Burns are
// self-custodial: the authority must be the balance owner, never the mint
// authority or any third party.
func (l *Ledger) Burn(authority []byte, symbol string, from []byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !bytes.Equal(authority, from) {
		return ErrBurnAuthority
	}
	meta, err := l.state.Token(symbol)
	if err != nil {
		return err
	}
	balance, err := l.state.Balance(from, meta.Symbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, amount)
	}
	return l.state.SetBalance(from, meta.Symbol, new(big.Int).Sub(balance, amount))
}

// Balance returns the spendable balance the address holds for the token.
func (l *Ledger) Balance(addr []byte, symbol string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	meta, err := l.state.Token(symbol)
	if err != nil {
		return nil, err
	}
	return l.state.Balance(addr, meta.Symbol)
}

// MintAuthority returns the identity currently allowed to mint the token.
func (l *Ledger) MintAuthority(symbol string) ([]byte, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	meta, err := l.state.Token(symbol)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), meta.MintAuthority...), nil
}

// SetMintAuthority assigns the identity allowed to mint the token.
func (l *Ledger) SetMintAuthority(symbol string, authority []byte) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	return l.state.SetTokenMintAuthority(symbol, authority)
}
