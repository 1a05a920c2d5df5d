package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"greenledger/storage"
)

// ErrKVExists is returned by KVPutNew when the target address already holds a
// record. It is the mechanism behind idempotent, collision-free creation: the
// caller either wins the address or fails, there is no overwrite path.
var ErrKVExists = errors.New("kv: record already exists")

// Manager provides deterministic, content-addressed access to ledger state.
// Every logical key is hashed with keccak256 before touching the underlying
// database and every value is RLP encoded, so records can be located purely
// from their namespace and key fields without a separate index.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// TokenMetadata describes a fungible token tracked by the ledger.
type TokenMetadata struct {
	Symbol        string
	Name          string
	Decimals      uint8
	MintAuthority []byte
	MintPaused    bool
}

var (
	tokenPrefix   = []byte("token:")
	tokenListKey  = ethcrypto.Keccak256([]byte("token-list"))
	balancePrefix = []byte("balance:")
)

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, len(tokenPrefix)+len(symbol))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(addr []byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr)
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (m *Manager) loadTokenList() ([]string, error) {
	data, err := m.db.Get(tokenListKey)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []string{}, nil
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) writeTokenList(list []string) error {
	sort.Strings(list)
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.db.Put(tokenListKey, encoded)
}

// RegisterToken records metadata for a new token symbol. Registering the same
// symbol twice fails so deployments cannot silently redefine a live token.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("token: symbol must not be empty")
	}
	list, err := m.loadTokenList()
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == normalized {
			return fmt.Errorf("token: %s already registered", normalized)
		}
	}
	meta := &TokenMetadata{Symbol: normalized, Name: name, Decimals: decimals}
	encoded, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	if err := m.db.Put(tokenMetadataKey(normalized), encoded); err != nil {
		return err
	}
	return m.writeTokenList(append(list, normalized))
}

// Token retrieves the metadata stored for the supplied symbol.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	normalized := normalizeSymbol(symbol)
	data, err := m.db.Get(tokenMetadataKey(normalized))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("token: %s not registered", normalized)
	}
	meta := new(TokenMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// TokenExists reports whether the symbol is known to the ledger.
func (m *Manager) TokenExists(symbol string) bool {
	ok, err := m.db.Has(tokenMetadataKey(normalizeSymbol(symbol)))
	if err != nil {
		return false
	}
	return ok
}

// SetTokenMintAuthority assigns the identity allowed to authorize mints for
// the supplied token.
func (m *Manager) SetTokenMintAuthority(symbol string, authority []byte) error {
	meta, err := m.Token(symbol)
	if err != nil {
		return err
	}
	meta.MintAuthority = append([]byte(nil), authority...)
	encoded, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	return m.db.Put(tokenMetadataKey(meta.Symbol), encoded)
}

// SetTokenMintPaused toggles minting for the supplied token.
func (m *Manager) SetTokenMintPaused(symbol string, paused bool) error {
	meta, err := m.Token(symbol)
	if err != nil {
		return err
	}
	meta.MintPaused = paused
	encoded, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	return m.db.Put(tokenMetadataKey(meta.Symbol), encoded)
}

// Balance returns the token balance held by the address. Unknown addresses
// hold a zero balance.
func (m *Manager) Balance(addr []byte, symbol string) (*big.Int, error) {
	data, err := m.db.Get(balanceKey(addr, normalizeSymbol(symbol)))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// SetBalance overwrites the token balance held by the address.
func (m *Manager) SetBalance(addr []byte, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("balance: amount must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.db.Put(balanceKey(addr, normalizeSymbol(symbol)), encoded)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256 so arbitrary-length logical
// keys map onto fixed-size storage addresses.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(kvKey(key), encoded)
}

// KVPutNew stores the value only when the address is still vacant. It returns
// ErrKVExists when a record is already present, which callers rely on for
// exactly-once creation semantics.
func (m *Manager) KVPutNew(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	exists, err := m.db.Has(hashed)
	if err != nil {
		return err
	}
	if exists {
		return ErrKVExists
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(hashed, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.db.Get(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.db.Put(hashed, encoded)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice to avoid nil
// surprises for callers.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
