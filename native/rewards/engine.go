package rewards

import (
	"errors"
	"math/big"
	"strings"

	"greenledger/core/events"
	"greenledger/native/token"
)

// Join creates the member record for the caller. The identity-to-record
// mapping is permanent; joining twice fails with ErrDuplicateRecord.
func (e *Engine) Join(caller [20]byte, profileURI string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return errNilState
	}
	if err := e.guardModule(); err != nil {
		return err
	}
	member := &Member{
		Owner:      caller,
		Points:     0,
		JoinedAt:   e.now(),
		ProfileURI: strings.TrimSpace(profileURI),
	}
	key := memberAddr(caller)
	return mapDuplicate(e.state.KVPutNew(key[:], member))
}

// SubmitAction files a claim of having performed a catalog action. The claim
// lands at the deterministic address for (caller, nonce); a reused nonce hits
// an occupied address and fails, which is what makes creation race-safe.
func (e *Engine) SubmitAction(caller [20]byte, slug Slug, amount, nonce uint64, evidenceHash, locationHash [32]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.guardModule(); err != nil {
		return err
	}
	global, globalKey, err := e.loadGlobal()
	if err != nil {
		return err
	}
	if global.Params.Paused {
		return ErrPaused
	}

	memberKey := memberAddr(caller)
	if _, err := e.getMemberLocked(caller); err != nil {
		return err
	}

	atKey := actionTypeAddr(globalKey, slug)
	at := new(ActionType)
	found, err := e.state.KVGet(atKey[:], at)
	if err != nil {
		return err
	}
	if !found {
		return ErrActionTypeNotFound
	}

	if amount == 0 || amount > at.PerTxCap {
		return ErrInvalidAmount
	}

	submission := &Submission{
		Member:       memberKey,
		MemberOwner:  caller,
		ActionType:   atKey,
		Amount:       amount,
		EvidenceHash: evidenceHash,
		LocationHash: locationHash,
		Status:       StatusPending,
		CreatedAt:    e.now(),
		ClientNonce:  nonce,
	}
	subKey := submissionAddr(caller, nonce)
	if err := mapDuplicate(e.state.KVPutNew(subKey[:], submission)); err != nil {
		return err
	}

	e.emit(events.ActionSubmitted{
		Member:     caller,
		ActionType: slug.String(),
		Amount:     amount,
		Nonce:      nonce,
	})
	return nil
}

// VerifyAction resolves a pending claim. Rejection flips the status and
// stops. Approval computes the reward with overflow-checked arithmetic, mints
// it on the external ledger under the control-plane capability, then commits
// the member tally and the terminal status. Any failure before the first
// write leaves the claim pending and retry-safe.
//
// The control-plane pause switch deliberately does not gate this operation:
// claims filed before a pause can still be drained.
func (e *Engine) VerifyAction(caller, owner [20]byte, nonce uint64, approve bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	global, globalKey, err := e.loadGlobal()
	if err != nil {
		return err
	}
	if !global.HasVerifier(caller) {
		return ErrUnauthorizedVerifier
	}

	subKey := submissionAddr(owner, nonce)
	submission, err := e.getSubmissionLocked(owner, nonce)
	if err != nil {
		return err
	}
	if submission.Status != StatusPending {
		return ErrNotPending
	}

	if !approve {
		submission.Status = StatusRejected
		if err := e.state.KVPut(subKey[:], submission); err != nil {
			return err
		}
		e.emit(events.ActionRejected{
			Member:     submission.MemberOwner,
			Submission: subKey,
			Verifier:   caller,
		})
		return nil
	}

	at := new(ActionType)
	found, err := e.state.KVGet(submission.ActionType[:], at)
	if err != nil {
		return err
	}
	if !found {
		return ErrActionTypeNotFound
	}

	member, err := e.getMemberLocked(submission.MemberOwner)
	if err != nil {
		return err
	}

	points, ok := checkedMul(at.PointsPerUnit, submission.Amount)
	if !ok {
		return ErrMathOverflow
	}
	newTally, ok := checkedAdd(member.Points, points)
	if !ok {
		return ErrMathOverflow
	}

	// The mint runs first: it is the only step that can fail for external
	// reasons, and nothing local has been written yet when it does.
	mintErr := e.ledger.Mint(globalKey[:], global.PointsToken, submission.MemberOwner[:], new(big.Int).SetUint64(points))
	if mintErr != nil {
		if errors.Is(mintErr, token.ErrMintAuthority) {
			return ErrBadMintAuthority
		}
		return mintErr
	}

	// Once the mint has landed, the tally and status writes must both
	// follow. A storage failure between them leaves the claim pending with
	// points already minted, and a retry would mint again; errors past this
	// point need operator attention, not a blind retry.
	member.Points = newTally
	if err := e.state.KVPut(submission.Member[:], member); err != nil {
		return err
	}
	submission.Status = StatusApproved
	if err := e.state.KVPut(subKey[:], submission); err != nil {
		return err
	}

	e.emit(events.ActionApproved{
		Member:     submission.MemberOwner,
		ActionType: at.Slug.String(),
		Points:     points,
		Verifier:   caller,
	})
	return nil
}

// Redeem burns points on the external ledger against a partner offer. The
// partner slug is an opaque tag; the local lifetime tally is left untouched.
// There is no idempotency key: identical calls each debit the external
// balance until it runs out.
func (e *Engine) Redeem(caller [20]byte, points uint64, partnerSlug Slug) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.guardModule(); err != nil {
		return err
	}
	global, _, err := e.loadGlobal()
	if err != nil {
		return err
	}
	if global.Params.Paused {
		return ErrPaused
	}
	if points == 0 {
		return ErrInvalidAmount
	}

	if err := e.ledger.Burn(caller[:], global.PointsToken, caller[:], new(big.Int).SetUint64(points)); err != nil {
		return err
	}

	e.emit(events.Redeemed{
		Member:  caller,
		Partner: partnerSlug.String(),
		Points:  points,
	})
	return nil
}

// PointsBalance returns the spendable balance held on the external ledger.
// Together with Member.Points it exposes both sides of the earned-vs-spendable
// split: the local tally only ever grows, the external balance moves with
// every mint and burn.
func (e *Engine) PointsBalance(owner [20]byte) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	global, _, err := e.loadGlobal()
	if err != nil {
		return nil, err
	}
	return e.ledger.Balance(owner[:], global.PointsToken)
}
