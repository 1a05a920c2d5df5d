package rewards

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"greenledger/core/events"
)

// Initialize creates the control plane: one record per deployment, keyed by
// the admin identity. The points token must already exist on the external
// ledger with its mint authority set to the control-plane address; anything
// else would let keys outside this module create supply.
func (e *Engine) Initialize(admin [20]byte, pointsToken string, vault [20]byte, verifiers [][20]byte, params Params) ([32]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var zero [32]byte
	if e.state == nil {
		return zero, errNilState
	}
	if e.ledger == nil {
		return zero, fmt.Errorf("rewards: ledger not configured")
	}
	symbol := strings.ToUpper(strings.TrimSpace(pointsToken))
	if symbol == "" {
		return zero, fmt.Errorf("rewards: points token symbol required")
	}

	// An authority already held by any other identity is a broken
	// deployment. Read-only check; nothing is written until the control
	// plane is reserved.
	addr := globalAddr(admin)
	authority, err := e.ledger.MintAuthority(symbol)
	if err != nil {
		return zero, err
	}
	if len(authority) > 0 && !bytes.Equal(authority, addr[:]) {
		return zero, ErrBadMintAuthority
	}

	createdAt := e.now()
	global := &GlobalState{
		Admin:       admin,
		PointsToken: symbol,
		Vault:       vault,
		Verifiers:   dedupVerifiers(verifiers),
		Params:      params,
		Salt:        derivationSalt(admin, createdAt),
		CreatedAt:   createdAt,
	}

	// Reserving the control plane comes first: a duplicate initialization
	// must fail before any token record is touched.
	if err := e.state.KVPutNew(activeGlobalKey, addr); err != nil {
		if mapped := mapDuplicate(err); mapped == ErrDuplicateRecord {
			return zero, ErrAlreadyInitialized
		}
		return zero, err
	}
	if len(authority) == 0 {
		if err := e.ledger.SetMintAuthority(symbol, addr[:]); err != nil {
			return zero, err
		}
	}
	if err := e.state.KVPutNew(addr[:], global); err != nil {
		return zero, mapDuplicate(err)
	}

	e.emit(events.RewardsInitialized{Admin: admin, PointsToken: symbol})
	return addr, nil
}

func dedupVerifiers(verifiers [][20]byte) [][20]byte {
	out := make([][20]byte, 0, len(verifiers))
	seen := make(map[[20]byte]struct{}, len(verifiers))
	for _, v := range verifiers {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func derivationSalt(admin [20]byte, createdAt uint64) [32]byte {
	buf := make([]byte, 0, len(admin)+8)
	buf = append(buf, admin[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], createdAt)
	buf = append(buf, ts[:]...)
	var salt [32]byte
	copy(salt[:], ethcrypto.Keccak256(buf))
	return salt
}

// RegisterActionType adds a catalog entry. Slugs are unique per control plane;
// re-registering an existing slug fails rather than overwriting.
func (e *Engine) RegisterActionType(caller [20]byte, at *ActionType) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if at == nil {
		return fmt.Errorf("%w: nil action type", ErrInvalidActionType)
	}
	_, globalKey, err := e.requireAdmin(caller)
	if err != nil {
		return err
	}
	sanitized, err := sanitizeActionType(at)
	if err != nil {
		return err
	}
	sanitized.Global = globalKey
	key := actionTypeAddr(globalKey, sanitized.Slug)
	return mapDuplicate(e.state.KVPutNew(key[:], sanitized))
}

// UpdateActionType overwrites the mutable fields of an existing catalog
// entry. The change applies to future approvals only; points already awarded
// are never recomputed.
func (e *Engine) UpdateActionType(caller [20]byte, at *ActionType) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if at == nil {
		return fmt.Errorf("%w: nil action type", ErrInvalidActionType)
	}
	_, globalKey, err := e.requireAdmin(caller)
	if err != nil {
		return err
	}
	key := actionTypeAddr(globalKey, at.Slug)
	existing := new(ActionType)
	found, err := e.state.KVGet(key[:], existing)
	if err != nil {
		return err
	}
	if !found {
		return ErrActionTypeNotFound
	}
	sanitized, err := sanitizeActionType(at)
	if err != nil {
		return err
	}

	existing.Name = sanitized.Name
	existing.PointsPerUnit = sanitized.PointsPerUnit
	existing.Unit = sanitized.Unit
	existing.BadgeURI = sanitized.BadgeURI
	existing.CooldownSecs = sanitized.CooldownSecs
	existing.PerTxCap = sanitized.PerTxCap

	return e.state.KVPut(key[:], existing)
}

func sanitizeActionType(at *ActionType) (*ActionType, error) {
	out := *at
	out.Name = strings.TrimSpace(out.Name)
	if out.Name == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidActionType)
	}
	if out.Slug == (Slug{}) {
		return nil, fmt.Errorf("%w: slug required", ErrInvalidActionType)
	}
	if out.PerTxCap == 0 {
		return nil, fmt.Errorf("%w: per-tx cap must be positive", ErrInvalidActionType)
	}
	return &out, nil
}

// SetParams overwrites the whole parameter set. No validation beyond
// authorization; the unenforced caps are carried verbatim.
func (e *Engine) SetParams(caller [20]byte, params Params) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	global, addr, err := e.requireAdmin(caller)
	if err != nil {
		return err
	}
	global.Params = params
	if err := e.state.KVPut(addr[:], global); err != nil {
		return err
	}
	e.emit(events.ParamsUpdated{Admin: caller})
	return nil
}

// Pause enables the control-plane pause switch. Claim creation and redemption
// stop; claim resolution and admin operations continue.
func (e *Engine) Pause(caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	global, addr, err := e.requireAdmin(caller)
	if err != nil {
		return err
	}
	global.Params.Paused = true
	if err := e.state.KVPut(addr[:], global); err != nil {
		return err
	}
	e.emit(events.RewardsPaused{By: caller})
	return nil
}

// Unpause disables the control-plane pause switch.
func (e *Engine) Unpause(caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	global, addr, err := e.requireAdmin(caller)
	if err != nil {
		return err
	}
	global.Params.Paused = false
	if err := e.state.KVPut(addr[:], global); err != nil {
		return err
	}
	e.emit(events.RewardsUnpaused{By: caller})
	return nil
}

// Global returns a copy of the control plane.
func (e *Engine) Global() (*GlobalState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	global, _, err := e.loadGlobal()
	if err != nil {
		return nil, err
	}
	return global.Clone(), nil
}

// GetActionType retrieves a catalog entry by slug.
func (e *Engine) GetActionType(slug Slug) (*ActionType, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, globalKey, err := e.loadGlobal()
	if err != nil {
		return nil, err
	}
	key := actionTypeAddr(globalKey, slug)
	out := new(ActionType)
	found, err := e.state.KVGet(key[:], out)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrActionTypeNotFound
	}
	return out, nil
}

// GetMember retrieves a member record by owner identity.
func (e *Engine) GetMember(owner [20]byte) (*Member, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.getMemberLocked(owner)
}

func (e *Engine) getMemberLocked(owner [20]byte) (*Member, error) {
	if e.state == nil {
		return nil, errNilState
	}
	key := memberAddr(owner)
	out := new(Member)
	found, err := e.state.KVGet(key[:], out)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrMemberNotFound
	}
	return out, nil
}

// GetSubmission retrieves a submission by its owning identity and nonce.
func (e *Engine) GetSubmission(owner [20]byte, nonce uint64) (*Submission, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.getSubmissionLocked(owner, nonce)
}

func (e *Engine) getSubmissionLocked(owner [20]byte, nonce uint64) (*Submission, error) {
	if e.state == nil {
		return nil, errNilState
	}
	key := submissionAddr(owner, nonce)
	out := new(Submission)
	found, err := e.state.KVGet(key[:], out)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSubmissionNotFound
	}
	return out, nil
}
