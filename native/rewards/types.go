package rewards

import (
	"bytes"
	"fmt"
	"strings"
)

// Slug is the fixed-width identifier of a catalog action, unique within a
// control plane. Shorter names are zero padded.
type Slug [16]byte

// NewSlug builds a slug from a human-readable name.
func NewSlug(name string) (Slug, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Slug{}, fmt.Errorf("slug must not be empty")
	}
	if len(trimmed) > len(Slug{}) {
		return Slug{}, fmt.Errorf("slug %q exceeds %d bytes", trimmed, len(Slug{}))
	}
	var s Slug
	copy(s[:], trimmed)
	return s, nil
}

func (s Slug) String() string {
	return string(bytes.TrimRight(s[:], "\x00"))
}

// Status tracks the lifecycle of a submission. The only legal transition is
// Pending to one of the two terminal states.
type Status uint8

const (
	StatusPending Status = iota
	StatusApproved
	StatusRejected
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Params holds the admin-controlled control-plane switches. DailyCap,
// PerTxCapDefault and CooldownSecsDefault are carried as configuration only;
// no code path enforces them yet.
type Params struct {
	Paused              bool
	DailyCap            uint64
	PerTxCapDefault     uint64
	CooldownSecsDefault uint32
}

// GlobalState is the singleton control plane: the admin identity, the points
// token it governs, the verifier set and the operating parameters.
type GlobalState struct {
	Admin       [20]byte
	PointsToken string
	Vault       [20]byte
	Verifiers   [][20]byte
	Params      Params
	Salt        [32]byte
	CreatedAt   uint64
}

// HasVerifier reports whether the address belongs to the verifier set.
func (g *GlobalState) HasVerifier(addr [20]byte) bool {
	if g == nil {
		return false
	}
	for _, v := range g.Verifiers {
		if v == addr {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hand the state out without
// exposing the stored slices to mutation.
func (g *GlobalState) Clone() *GlobalState {
	if g == nil {
		return nil
	}
	out := *g
	out.Verifiers = make([][20]byte, len(g.Verifiers))
	copy(out.Verifiers, g.Verifiers)
	return &out
}

// ActionType is an admin-defined claimable action. PerTxCap bounds the amount
// of a single submission; CooldownSecs is configuration-only.
type ActionType struct {
	Global        [32]byte
	Slug          Slug
	Name          string
	PointsPerUnit uint64
	Unit          uint8
	BadgeURI      string
	CooldownSecs  uint32
	PerTxCap      uint64
}

// Member is the participant record. Points is a lifetime-earned tally: it
// grows with every approved submission and is never reduced by redemption.
type Member struct {
	Owner      [20]byte
	Points     uint64
	JoinedAt   uint64
	ProfileURI string
}

// Submission is a participant's claim of having performed a catalog action.
// MemberOwner duplicates the owner identity so verifiers can inspect a claim
// without resolving the member record first.
type Submission struct {
	Member       [32]byte
	MemberOwner  [20]byte
	ActionType   [32]byte
	Amount       uint64
	EvidenceHash [32]byte
	LocationHash [32]byte
	Status       Status
	CreatedAt    uint64
	ClientNonce  uint64
}
