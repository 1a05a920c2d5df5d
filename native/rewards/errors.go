package rewards

import "errors"

var (
	ErrNotInitialized       = errors.New("rewards: control plane not initialized")
	ErrAlreadyInitialized   = errors.New("rewards: control plane already initialized")
	ErrPaused               = errors.New("rewards: paused")
	ErrUnauthorizedAdmin    = errors.New("rewards: caller is not the admin")
	ErrUnauthorizedVerifier = errors.New("rewards: caller is not a verifier")
	ErrInvalidAmount        = errors.New("rewards: invalid amount")
	ErrNotPending           = errors.New("rewards: submission is not pending")
	ErrMathOverflow         = errors.New("rewards: math overflow")
	ErrDuplicateRecord      = errors.New("rewards: record already exists")
	ErrBadMintAuthority     = errors.New("rewards: points token mint authority must be the control plane")
	ErrActionTypeNotFound   = errors.New("rewards: action type not found")
	ErrMemberNotFound       = errors.New("rewards: member not found")
	ErrSubmissionNotFound   = errors.New("rewards: submission not found")
	ErrInvalidActionType    = errors.New("rewards: invalid action type")
)
