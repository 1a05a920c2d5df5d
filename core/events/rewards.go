package events

import (
	"encoding/hex"
	"strconv"

	"greenledger/core/types"
	"greenledger/crypto"
)

const (
	// TypeRewardsInitialized is emitted once when the control plane is created.
	TypeRewardsInitialized = "rewards.initialized"
	// TypeActionSubmitted is emitted when a participant files a claim.
	TypeActionSubmitted = "rewards.action.submitted"
	// TypeActionApproved is emitted when a verifier approves a claim and the
	// matching points have been minted.
	TypeActionApproved = "rewards.action.approved"
	// TypeActionRejected is emitted when a verifier rejects a claim.
	TypeActionRejected = "rewards.action.rejected"
	// TypeRedeemed is emitted when a participant burns points with a partner.
	TypeRedeemed = "rewards.redeemed"
	// TypeParamsUpdated is emitted when the admin overwrites the parameter set.
	TypeParamsUpdated = "rewards.params.updated"
	// TypeRewardsPaused is emitted when the admin flips the pause switch on.
	TypeRewardsPaused = "rewards.paused"
	// TypeRewardsUnpaused is emitted when the admin flips the pause switch off.
	TypeRewardsUnpaused = "rewards.unpaused"
)

func addressString(addr [20]byte) string {
	return crypto.MustNewAddress(crypto.GreenPrefix, addr[:]).String()
}

// RewardsInitialized captures the creation of the control plane.
type RewardsInitialized struct {
	Admin       [20]byte
	PointsToken string
}

// EventType implements the Event interface.
func (RewardsInitialized) EventType() string { return TypeRewardsInitialized }

func (e RewardsInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardsInitialized,
		Attributes: map[string]string{
			"admin":       addressString(e.Admin),
			"pointsToken": e.PointsToken,
		},
	}
}

// ActionSubmitted captures a freshly created claim.
type ActionSubmitted struct {
	Member     [20]byte
	ActionType string
	Amount     uint64
	Nonce      uint64
}

// EventType implements the Event interface.
func (ActionSubmitted) EventType() string { return TypeActionSubmitted }

func (e ActionSubmitted) Event() *types.Event {
	return &types.Event{
		Type: TypeActionSubmitted,
		Attributes: map[string]string{
			"member":     addressString(e.Member),
			"actionType": e.ActionType,
			"amount":     strconv.FormatUint(e.Amount, 10),
			"nonce":      strconv.FormatUint(e.Nonce, 10),
		},
	}
}

// ActionApproved captures an approved claim and the points it minted.
type ActionApproved struct {
	Member     [20]byte
	ActionType string
	Points     uint64
	Verifier   [20]byte
}

// EventType implements the Event interface.
func (ActionApproved) EventType() string { return TypeActionApproved }

func (e ActionApproved) Event() *types.Event {
	return &types.Event{
		Type: TypeActionApproved,
		Attributes: map[string]string{
			"member":     addressString(e.Member),
			"actionType": e.ActionType,
			"points":     strconv.FormatUint(e.Points, 10),
			"verifier":   addressString(e.Verifier),
		},
	}
}

// ActionRejected captures a rejected claim.
type ActionRejected struct {
	Member     [20]byte
	Submission [32]byte
	Verifier   [20]byte
}

// EventType implements the Event interface.
func (ActionRejected) EventType() string { return TypeActionRejected }

func (e ActionRejected) Event() *types.Event {
	return &types.Event{
		Type: TypeActionRejected,
		Attributes: map[string]string{
			"member":     addressString(e.Member),
			"submission": hex.EncodeToString(e.Submission[:]),
			"verifier":   addressString(e.Verifier),
		},
	}
}

// Redeemed captures a burn of points against a partner offer.
type Redeemed struct {
	Member  [20]byte
	Partner string
	Points  uint64
}

// EventType implements the Event interface.
func (Redeemed) EventType() string { return TypeRedeemed }

func (e Redeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeRedeemed,
		Attributes: map[string]string{
			"member":  addressString(e.Member),
			"partner": e.Partner,
			"points":  strconv.FormatUint(e.Points, 10),
		},
	}
}

// ParamsUpdated captures an admin overwrite of the parameter set.
type ParamsUpdated struct {
	Admin [20]byte
}

// EventType implements the Event interface.
func (ParamsUpdated) EventType() string { return TypeParamsUpdated }

func (e ParamsUpdated) Event() *types.Event {
	return &types.Event{
		Type:       TypeParamsUpdated,
		Attributes: map[string]string{"admin": addressString(e.Admin)},
	}
}

// RewardsPaused captures the pause switch being enabled.
type RewardsPaused struct {
	By [20]byte
}

// EventType implements the Event interface.
func (RewardsPaused) EventType() string { return TypeRewardsPaused }

func (e RewardsPaused) Event() *types.Event {
	return &types.Event{
		Type:       TypeRewardsPaused,
		Attributes: map[string]string{"by": addressString(e.By)},
	}
}

// RewardsUnpaused captures the pause switch being disabled.
type RewardsUnpaused struct {
	By [20]byte
}

// EventType implements the Event interface.
func (RewardsUnpaused) EventType() string { return TypeRewardsUnpaused }

func (e RewardsUnpaused) Event() *types.Event {
	return &types.Event{
		Type:       TypeRewardsUnpaused,
		Attributes: map[string]string{"by": addressString(e.By)},
	}
}
