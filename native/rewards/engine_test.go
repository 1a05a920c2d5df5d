package rewards_test

import (
	"errors"
	"math"
	"math/big"
	"sync"
	"testing"

	"greenledger/core/events"
	"greenledger/core/state"
	"greenledger/native/rewards"
	"greenledger/native/token"
	"greenledger/storage"
)

const pointsToken = "GPN"

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(e events.Event) {
	c.events = append(c.events, e)
}

func (c *capturingEmitter) countType(eventType string) int {
	count := 0
	for _, e := range c.events {
		if e.EventType() == eventType {
			count++
		}
	}
	return count
}

func testAddr(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

func mustSlug(t *testing.T, name string) rewards.Slug {
	t.Helper()
	slug, err := rewards.NewSlug(name)
	if err != nil {
		t.Fatalf("new slug: %v", err)
	}
	return slug
}

func newTestEngine(t *testing.T) (*rewards.Engine, *state.Manager, *capturingEmitter) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	manager := state.NewManager(db)
	if err := manager.RegisterToken(pointsToken, "GreenPoints", 0); err != nil {
		t.Fatalf("register token: %v", err)
	}
	engine := rewards.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(token.NewLedger(manager))
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine, manager, emitter
}

func initControlPlane(t *testing.T, engine *rewards.Engine, admin [20]byte, verifiers ...[20]byte) [32]byte {
	t.Helper()
	globalKey, err := engine.Initialize(admin, pointsToken, testAddr(0xFE), verifiers, rewards.Params{})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return globalKey
}

func registerAction(t *testing.T, engine *rewards.Engine, admin [20]byte, slug rewards.Slug, rate, cap uint64) {
	t.Helper()
	err := engine.RegisterActionType(admin, &rewards.ActionType{
		Slug:          slug,
		Name:          "Plant a tree",
		PointsPerUnit: rate,
		Unit:          0,
		PerTxCap:      cap,
	})
	if err != nil {
		t.Fatalf("register action type: %v", err)
	}
}

func TestInitializeClaimsMintAuthority(t *testing.T) {
	engine, manager, emitter := newTestEngine(t)
	admin := testAddr(0x01)

	globalKey := initControlPlane(t, engine, admin, testAddr(0x02))

	meta, err := manager.Token(pointsToken)
	if err != nil {
		t.Fatalf("token metadata: %v", err)
	}
	if string(meta.MintAuthority) != string(globalKey[:]) {
		t.Fatalf("mint authority not claimed by control plane")
	}
	if emitter.countType(events.TypeRewardsInitialized) != 1 {
		t.Fatalf("expected one initialized event, got %d", emitter.countType(events.TypeRewardsInitialized))
	}
}

func TestInitializeRejectsForeignMintAuthority(t *testing.T) {
	engine, manager, _ := newTestEngine(t)
	if err := manager.SetTokenMintAuthority(pointsToken, []byte("someone-else")); err != nil {
		t.Fatalf("set authority: %v", err)
	}
	_, err := engine.Initialize(testAddr(0x01), pointsToken, [20]byte{}, nil, rewards.Params{})
	if !errors.Is(err, rewards.ErrBadMintAuthority) {
		t.Fatalf("expected ErrBadMintAuthority, got %v", err)
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	admin := testAddr(0x01)
	initControlPlane(t, engine, admin)
	if _, err := engine.Initialize(admin, pointsToken, [20]byte{}, nil, rewards.Params{}); !errors.Is(err, rewards.ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestJoinIsPermanent(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	participant := testAddr(0x10)
	if err := engine.Join(participant, "ipfs://profile"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := engine.Join(participant, ""); !errors.Is(err, rewards.ErrDuplicateRecord) {
		t.Fatalf("expected ErrDuplicateRecord, got %v", err)
	}
	member, err := engine.GetMember(participant)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if member.ProfileURI != "ipfs://profile" {
		t.Fatalf("unexpected profile: %q", member.ProfileURI)
	}
	if member.Points != 0 {
		t.Fatalf("fresh member should hold zero points, got %d", member.Points)
	}
}

func TestSubmitRejectsInvalidAmount(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	admin, participant := testAddr(0x01), testAddr(0x10)
	initControlPlane(t, engine, admin, testAddr(0x02))
	slug := mustSlug(t, "TREE")
	registerAction(t, engine, admin, slug, 100, 10)
	if err := engine.Join(participant, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	for _, amount := range []uint64{0, 11} {
		err := engine.SubmitAction(participant, slug, amount, 1, [32]byte{}, [32]byte{})
		if !errors.Is(err, rewards.ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	if _, err := engine.GetSubmission(participant, 1); !errors.Is(err, rewards.ErrSubmissionNotFound) {
		t.Fatalf("no record should exist after rejected creation, got %v", err)
	}
}

func TestSubmitDuplicateNonce(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	admin, participant := testAddr(0x01), testAddr(0x10)
	initControlPlane(t, engine, admin, testAddr(0x02))
	slug := mustSlug(t, "TREE")
	registerAction(t, engine, admin, slug, 100, 10)
	if err := engine.Join(participant, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := engine.SubmitAction(participant, slug, 3, 1, [32]byte{}, [32]byte{}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := engine.SubmitAction(participant, slug, 3, 1, [32]byte{}, [32]byte{}); !errors.Is(err, rewards.ErrDuplicateRecord) {
		t.Fatalf("reused nonce: expected ErrDuplicateRecord, got %v", err)
	}
	if err := engine.SubmitAction(participant, slug, 3, 2, [32]byte{}, [32]byte{}); err != nil {
		t.Fatalf("fresh nonce should succeed: %v", err)
	}
}

func TestApproveAwardsPointsExactlyOnce(t *testing.T) {
	engine, _, emitter := newTestEngine(t)
	admin, verifier, participant := testAddr(0x01), testAddr(0x02), testAddr(0x10)
	initControlPlane(t, engine, admin, verifier)
	slug := mustSlug(t, "TREE")
	registerAction(t, engine, admin, slug, 100, 10)
	if err := engine.Join(participant, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := engine.SubmitAction(participant, slug, 3, 1, [32]byte{0xAA}, [32]byte{0xBB}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := engine.VerifyAction(verifier, participant, 1, true); err != nil {
		t.Fatalf("approve: %v", err)
	}

	member, err := engine.GetMember(participant)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if member.Points != 300 {
		t.Fatalf("tally = %d, want 300", member.Points)
	}
	balance, err := engine.PointsBalance(participant)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("external balance = %s, want 300", balance)
	}
	submission, err := engine.GetSubmission(participant, 1)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if submission.Status != rewards.StatusApproved {
		t.Fatalf("status = %s, want approved", submission.Status)
	}
	if got := emitter.countType(events.TypeActionApproved); got != 1 {
		t.Fatalf("expected exactly one approval event, got %d", got)
	}

	// A second resolution of any kind must fail without touching state.
	if err := engine.VerifyAction(verifier, participant, 1, true); !errors.Is(err, rewards.ErrNotPending) {
		t.Fatalf("second approve: expected ErrNotPending, got %v", err)
	}
	if err := engine.VerifyAction(verifier, participant, 1, false); !errors.Is(err, rewards.ErrNotPending) {
		t.Fatalf("approve then reject: expected ErrNotPending, got %v", err)
	}
	member, _ = engine.GetMember(participant)
	if member.Points != 300 {
		t.Fatalf("tally changed on failed resolution: %d", member.Points)
	}
	balance, _ = engine.PointsBalance(participant)
	if balance.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("balance changed on failed resolution: %s", balance)
	}
}

func TestRejectHasNoAccountingSideEffects(t *testing.T) {
	engine, _, emitter := newTestEngine(t)
	admin, verifier, participant := testAddr(0x01), testAddr(0x02), testAddr(0x10)
	initControlPlane(t, engine, admin, verifier)
	slug := mustSlug(t, "TREE")
	registerAction(t, engine, admin, slug, 100, 10)
	if err := engine.Join(participant, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := engine.SubmitAction(participant, slug, 3, 1, [32]byte{}, [32]byte{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := engine.VerifyAction(verifier, participant, 1, false); err != nil {
		t.Fatalf("reject: %v", err)
	}
	submission, _ := engine.GetSubmission(participant, 1)
	if submission.Status != rewards.StatusRejected {
		t.Fatalf("status = %s, want rejected", submission.Status)
	}
	member, _ := engine.GetMember(participant)
	if member.Points != 0 {
		t.Fatalf("reject must not award points, got %d", member.Points)
	}
	if emitter.countType(events.TypeActionRejected) != 1 {
		t.Fatalf("expected one rejection event")
	}

	if err := engine.VerifyAction(verifier, participant, 1, true); !errors.Is(err, rewards.ErrNotPending) {
		t.Fatalf("reject then approve: expected ErrNotPending, got %v", err)
	}
}

func TestNonVerifierCannotResolve(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	admin, verifier, participant := testAddr(0x01), testAddr(0x02), testAddr(0x10)
	initControlPlane(t, engine, admin, verifier)
	slug := mustSlug(t, "TREE")
	registerAction(t, engine, admin, slug, 100, 10)
	if err := engine.Join(participant, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := engine.SubmitAction(participant, slug, 3, 1, [32]byte{}, [32]byte{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	for _, caller := range [][20]byte{admin, participant, testAddr(0x77)} {
		if err := engine.VerifyAction(caller, participant, 1, true); !errors.Is(err, rewards.ErrUnauthorizedVerifier) {
			t.Fatalf("caller %x: expected ErrUnauthorizedVerifier, got %v", caller, err)
		}
	}
	submission, _ := engine.GetSubmission(participant, 1)
	if submission.Status != rewards.StatusPending {
		t.Fatalf("claim must stay pending, got %s", submission.Status)
	}
}

func TestOverflowAbortsResolution(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	admin, verifier, participant := testAddr(0x01), testAddr(0x02), testAddr(0x10)
	initControlPlane(t, engine, admin, verifier)
	slug := mustSlug(t, "MEGA")
	registerAction(t, engine, admin, slug, math.MaxUint64, 10)
	if err := engine.Join(participant, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := engine.SubmitAction(participant, slug, 2, 1, [32]byte{}, [32]byte{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := engine.VerifyAction(verifier, participant, 1, true); !errors.Is(err, rewards.ErrMathOverflow) {
		t.Fatalf("expected ErrMathOverflow, got %v", err)
	}
	submission, _ := engine.GetSubmission(participant, 1)
	if submission.Status != rewards.StatusPending {
		t.Fatalf("overflow must leave the claim pending, got %s", submission.Status)
	}
	balance, err := engine.PointsBalance(participant)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("overflow must not mint, balance = %s", balance)
	}
}

func TestRedeemBurnsWithoutTouchingTally(t *testing.T) {
	engine, _, emitter := newTestEngine(t)
	admin, verifier, participant := testAddr(0x01), testAddr(0x02), testAddr(0x10)
	initControlPlane(t, engine, admin, verifier)
	slug := mustSlug(t, "TREE")
	registerAction(t, engine, admin, slug, 100, 10)
	if err := engine.Join(participant, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := engine.SubmitAction(participant, slug, 3, 1, [32]byte{}, [32]byte{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := engine.VerifyAction(verifier, participant, 1, true); err != nil {
		t.Fatalf("approve: %v", err)
	}

	partner := mustSlug(t, "PARTNER-X")
	if err := engine.Redeem(participant, 150, partner); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	balance, _ := engine.PointsBalance(participant)
	if balance.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("balance = %s, want 150", balance)
	}
	member, _ := engine.GetMember(participant)
	if member.Points != 300 {
		t.Fatalf("lifetime tally must not shrink on redemption, got %d", member.Points)
	}
	if emitter.countType(events.TypeRedeemed) != 1 {
		t.Fatalf("expected one redemption event")
	}

	// Redemptions are independent events; the ledger is the only backstop.
	if err := engine.Redeem(participant, 150, partner); err != nil {
		t.Fatalf("second redeem: %v", err)
	}
	if err := engine.Redeem(participant, 1, partner); !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := engine.Redeem(participant, 0, partner); !errors.Is(err, rewards.ErrInvalidAmount) {
		t.Fatalf("zero redemption: expected ErrInvalidAmount, got %v", err)
	}
}

func TestPauseGatesSubmitAndRedeemOnly(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	admin, verifier, participant := testAddr(0x01), testAddr(0x02), testAddr(0x10)
	initControlPlane(t, engine, admin, verifier)
	slug := mustSlug(t, "TREE")
	registerAction(t, engine, admin, slug, 100, 10)
	if err := engine.Join(participant, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := engine.SubmitAction(participant, slug, 3, 1, [32]byte{}, [32]byte{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := engine.Pause(admin); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if err := engine.SubmitAction(participant, slug, 3, 2, [32]byte{}, [32]byte{}); !errors.Is(err, rewards.ErrPaused) {
		t.Fatalf("submit while paused: expected ErrPaused, got %v", err)
	}
	if _, err := engine.GetSubmission(participant, 2); !errors.Is(err, rewards.ErrSubmissionNotFound) {
		t.Fatalf("paused submit must not create a record, got %v", err)
	}
	if err := engine.Redeem(participant, 1, slug); !errors.Is(err, rewards.ErrPaused) {
		t.Fatalf("redeem while paused: expected ErrPaused, got %v", err)
	}

	// Pending claims can still be drained while paused.
	if err := engine.VerifyAction(verifier, participant, 1, true); err != nil {
		t.Fatalf("verify while paused: %v", err)
	}

	if err := engine.Unpause(admin); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := engine.SubmitAction(participant, slug, 3, 2, [32]byte{}, [32]byte{}); err != nil {
		t.Fatalf("submit after unpause: %v", err)
	}
}

func TestPauseRequiresAdmin(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	admin, verifier := testAddr(0x01), testAddr(0x02)
	initControlPlane(t, engine, admin, verifier)

	if err := engine.Pause(verifier); !errors.Is(err, rewards.ErrUnauthorizedAdmin) {
		t.Fatalf("expected ErrUnauthorizedAdmin, got %v", err)
	}
	if err := engine.SetParams(verifier, rewards.Params{}); !errors.Is(err, rewards.ErrUnauthorizedAdmin) {
		t.Fatalf("expected ErrUnauthorizedAdmin, got %v", err)
	}
}

func TestUpdatedRateAppliesToFutureApprovalsOnly(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	admin, verifier, participant := testAddr(0x01), testAddr(0x02), testAddr(0x10)
	initControlPlane(t, engine, admin, verifier)
	slug := mustSlug(t, "TREE")
	registerAction(t, engine, admin, slug, 100, 10)
	if err := engine.Join(participant, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := engine.SubmitAction(participant, slug, 1, 1, [32]byte{}, [32]byte{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := engine.VerifyAction(verifier, participant, 1, true); err != nil {
		t.Fatalf("approve: %v", err)
	}

	err := engine.UpdateActionType(admin, &rewards.ActionType{
		Slug:          slug,
		Name:          "Plant a tree",
		PointsPerUnit: 7,
		PerTxCap:      10,
	})
	if err != nil {
		t.Fatalf("update action type: %v", err)
	}

	if err := engine.SubmitAction(participant, slug, 1, 2, [32]byte{}, [32]byte{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := engine.VerifyAction(verifier, participant, 2, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	member, _ := engine.GetMember(participant)
	if member.Points != 107 {
		t.Fatalf("tally = %d, want 100 at the old rate plus 7 at the new", member.Points)
	}
}

func TestConcurrentSubmitSameNonceHasOneWinner(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	admin, verifier, participant := testAddr(0x01), testAddr(0x02), testAddr(0x10)
	initControlPlane(t, engine, admin, verifier)
	slug := mustSlug(t, "TREE")
	registerAction(t, engine, admin, slug, 100, 10)
	if err := engine.Join(participant, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- engine.SubmitAction(participant, slug, 3, 1, [32]byte{}, [32]byte{})
		}()
	}
	wg.Wait()
	close(results)

	wins, losses := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, rewards.ErrDuplicateRecord):
			losses++
		default:
			t.Fatalf("unexpected submit error: %v", err)
		}
	}
	if wins != 1 || losses != workers-1 {
		t.Fatalf("wins = %d, losses = %d, want exactly one winner", wins, losses)
	}
}

func TestConcurrentResolutionAwardsOnce(t *testing.T) {
	engine, _, emitter := newTestEngine(t)
	admin, verifier, participant := testAddr(0x01), testAddr(0x02), testAddr(0x10)
	initControlPlane(t, engine, admin, verifier)
	slug := mustSlug(t, "TREE")
	registerAction(t, engine, admin, slug, 100, 10)
	if err := engine.Join(participant, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := engine.SubmitAction(participant, slug, 3, 1, [32]byte{}, [32]byte{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- engine.VerifyAction(verifier, participant, 1, true)
		}()
	}
	wg.Wait()
	close(results)

	wins, losses := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, rewards.ErrNotPending):
			losses++
		default:
			t.Fatalf("unexpected resolution error: %v", err)
		}
	}
	if wins != 1 || losses != workers-1 {
		t.Fatalf("wins = %d, losses = %d, want exactly one winner", wins, losses)
	}

	member, err := engine.GetMember(participant)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if member.Points != 300 {
		t.Fatalf("tally = %d, want exactly one award of 300", member.Points)
	}
	balance, _ := engine.PointsBalance(participant)
	if balance.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("balance = %s, want 300", balance)
	}
	if got := emitter.countType(events.TypeActionApproved); got != 1 {
		t.Fatalf("approval events = %d, want 1", got)
	}
}

func TestEndToEndScenario(t *testing.T) {
	engine, _, emitter := newTestEngine(t)
	admin, verifier, participant := testAddr(0x01), testAddr(0x02), testAddr(0x10)

	initControlPlane(t, engine, admin, verifier)
	slug := mustSlug(t, "TREE")
	registerAction(t, engine, admin, slug, 100, 100)
	if err := engine.Join(participant, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := engine.SubmitAction(participant, slug, 3, 1, [32]byte{0x01}, [32]byte{0x02}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	submission, err := engine.GetSubmission(participant, 1)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if submission.Status != rewards.StatusPending {
		t.Fatalf("status = %s, want pending", submission.Status)
	}

	if err := engine.VerifyAction(verifier, participant, 1, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	member, _ := engine.GetMember(participant)
	if member.Points != 300 {
		t.Fatalf("tally = %d, want 300", member.Points)
	}

	if err := engine.Redeem(participant, 150, mustSlug(t, "X")); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	balance, _ := engine.PointsBalance(participant)
	if balance.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("balance = %s, want 150", balance)
	}
	member, _ = engine.GetMember(participant)
	if member.Points != 300 {
		t.Fatalf("tally after redemption = %d, want 300", member.Points)
	}

	for _, expected := range []struct {
		eventType string
		count     int
	}{
		{events.TypeRewardsInitialized, 1},
		{events.TypeActionSubmitted, 1},
		{events.TypeActionApproved, 1},
		{events.TypeRedeemed, 1},
	} {
		if got := emitter.countType(expected.eventType); got != expected.count {
			t.Fatalf("%s: got %d events, want %d", expected.eventType, got, expected.count)
		}
	}
}
