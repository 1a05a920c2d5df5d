package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"greenledger/crypto"
	"greenledger/native/rewards"
	"greenledger/native/token"
)

type rewardsParamsPayload struct {
	Paused              bool   `json:"paused"`
	DailyCap            uint64 `json:"dailyCap"`
	PerTxCapDefault     uint64 `json:"perTxCapDefault"`
	CooldownSecsDefault uint32 `json:"cooldownSecsDefault"`
}

func (p rewardsParamsPayload) toParams() rewards.Params {
	return rewards.Params{
		Paused:              p.Paused,
		DailyCap:            p.DailyCap,
		PerTxCapDefault:     p.PerTxCapDefault,
		CooldownSecsDefault: p.CooldownSecsDefault,
	}
}

type initializeParams struct {
	Admin       string               `json:"admin"`
	PointsToken string               `json:"pointsToken"`
	Vault       string               `json:"vault,omitempty"`
	Verifiers   []string             `json:"verifiers"`
	Params      rewardsParamsPayload `json:"params"`
}

type actionTypeParams struct {
	Caller        string `json:"caller"`
	Slug          string `json:"slug"`
	Name          string `json:"name"`
	PointsPerUnit uint64 `json:"pointsPerUnit"`
	Unit          uint8  `json:"unit"`
	BadgeURI      string `json:"badgeUri,omitempty"`
	CooldownSecs  uint32 `json:"cooldownSecs,omitempty"`
	PerTxCap      uint64 `json:"perTxCap"`
}

type joinParams struct {
	Caller     string `json:"caller"`
	ProfileURI string `json:"profileUri,omitempty"`
}

type submitActionParams struct {
	Caller       string `json:"caller"`
	Slug         string `json:"slug"`
	Amount       uint64 `json:"amount"`
	Nonce        uint64 `json:"nonce"`
	EvidenceHash string `json:"evidenceHash"`
	LocationHash string `json:"locationHash"`
}

type verifyActionParams struct {
	Caller  string `json:"caller"`
	Owner   string `json:"owner"`
	Nonce   uint64 `json:"nonce"`
	Approve bool   `json:"approve"`
}

type redeemParams struct {
	Caller      string `json:"caller"`
	Points      uint64 `json:"points"`
	PartnerSlug string `json:"partnerSlug"`
}

type setParamsParams struct {
	Caller string               `json:"caller"`
	Params rewardsParamsPayload `json:"params"`
}

type callerParams struct {
	Caller string `json:"caller"`
}

type slugParams struct {
	Slug string `json:"slug"`
}

type ownerParams struct {
	Owner string `json:"owner"`
}

type submissionQueryParams struct {
	Owner string `json:"owner"`
	Nonce uint64 `json:"nonce"`
}

type globalResult struct {
	Admin       string               `json:"admin"`
	PointsToken string               `json:"pointsToken"`
	Vault       string               `json:"vault"`
	Verifiers   []string             `json:"verifiers"`
	Params      rewardsParamsPayload `json:"params"`
	CreatedAt   uint64               `json:"createdAt"`
}

type actionTypeResult struct {
	Slug          string `json:"slug"`
	Name          string `json:"name"`
	PointsPerUnit uint64 `json:"pointsPerUnit"`
	Unit          uint8  `json:"unit"`
	BadgeURI      string `json:"badgeUri,omitempty"`
	CooldownSecs  uint32 `json:"cooldownSecs"`
	PerTxCap      uint64 `json:"perTxCap"`
}

type memberResult struct {
	Owner            string `json:"owner"`
	Points           uint64 `json:"points"`
	SpendableBalance string `json:"spendableBalance"`
	JoinedAt         uint64 `json:"joinedAt"`
	ProfileURI       string `json:"profileUri,omitempty"`
}

type submissionResult struct {
	Owner        string `json:"owner"`
	ActionType   string `json:"actionType"`
	Amount       uint64 `json:"amount"`
	EvidenceHash string `json:"evidenceHash"`
	LocationHash string `json:"locationHash"`
	Status       string `json:"status"`
	CreatedAt    uint64 `json:"createdAt"`
	Nonce        uint64 `json:"nonce"`
}

func decodeBech32(addr string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(addr))
	if err != nil {
		return out, err
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

func encodeAddr(addr [20]byte) string {
	return crypto.MustNewAddress(crypto.GreenPrefix, addr[:]).String()
}

func decodeHash32(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// decodeSingleParam enforces the one-parameter-object convention shared by
// every rewards method.
func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

// writeEngineError translates the module's sentinel errors into JSON-RPC
// error codes and HTTP statuses.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, rewards.ErrUnauthorizedAdmin), errors.Is(err, rewards.ErrUnauthorizedVerifier):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, rewards.ErrDuplicateRecord), errors.Is(err, rewards.ErrAlreadyInitialized):
		writeError(w, http.StatusConflict, id, codeDuplicate, err.Error(), nil)
	case errors.Is(err, rewards.ErrNotPending), errors.Is(err, rewards.ErrPaused):
		writeError(w, http.StatusConflict, id, codeServerError, err.Error(), nil)
	case errors.Is(err, rewards.ErrActionTypeNotFound),
		errors.Is(err, rewards.ErrMemberNotFound),
		errors.Is(err, rewards.ErrSubmissionNotFound),
		errors.Is(err, rewards.ErrNotInitialized):
		writeError(w, http.StatusNotFound, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, rewards.ErrInvalidAmount),
		errors.Is(err, rewards.ErrInvalidActionType),
		errors.Is(err, rewards.ErrMathOverflow):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, token.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, id, codeServerError, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, req *RPCRequest) {
	var params initializeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	admin, err := decodeBech32(params.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid admin address", err.Error())
		return
	}
	var vault [20]byte
	if strings.TrimSpace(params.Vault) != "" {
		if vault, err = decodeBech32(params.Vault); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid vault address", err.Error())
			return
		}
	}
	verifiers := make([][20]byte, 0, len(params.Verifiers))
	for _, v := range params.Verifiers {
		addr, err := decodeBech32(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid verifier address", err.Error())
			return
		}
		verifiers = append(verifiers, addr)
	}
	globalKey, err := s.engine.Initialize(admin, params.PointsToken, vault, verifiers, params.Params.toParams())
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, hex.EncodeToString(globalKey[:]))
}

func (s *Server) actionTypeFromParams(w http.ResponseWriter, req *RPCRequest) ([20]byte, *rewards.ActionType, bool) {
	var params actionTypeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return [20]byte{}, nil, false
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return [20]byte{}, nil, false
	}
	slug, err := rewards.NewSlug(params.Slug)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid slug", err.Error())
		return [20]byte{}, nil, false
	}
	at := &rewards.ActionType{
		Slug:          slug,
		Name:          params.Name,
		PointsPerUnit: params.PointsPerUnit,
		Unit:          params.Unit,
		BadgeURI:      params.BadgeURI,
		CooldownSecs:  params.CooldownSecs,
		PerTxCap:      params.PerTxCap,
	}
	return caller, at, true
}

func (s *Server) handleRegisterActionType(w http.ResponseWriter, req *RPCRequest) {
	caller, at, ok := s.actionTypeFromParams(w, req)
	if !ok {
		return
	}
	if err := s.engine.RegisterActionType(caller, at); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, at.Slug.String())
}

func (s *Server) handleUpdateActionType(w http.ResponseWriter, req *RPCRequest) {
	caller, at, ok := s.actionTypeFromParams(w, req)
	if !ok {
		return
	}
	if err := s.engine.UpdateActionType(caller, at); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, at.Slug.String())
}

func (s *Server) handleJoin(w http.ResponseWriter, req *RPCRequest) {
	var params joinParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.engine.Join(caller, params.ProfileURI); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, encodeAddr(caller))
}

func (s *Server) handleSubmitAction(w http.ResponseWriter, req *RPCRequest) {
	var params submitActionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	slug, err := rewards.NewSlug(params.Slug)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid slug", err.Error())
		return
	}
	evidenceHash, err := decodeHash32(params.EvidenceHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid evidence hash", err.Error())
		return
	}
	locationHash, err := decodeHash32(params.LocationHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid location hash", err.Error())
		return
	}
	if err := s.engine.SubmitAction(caller, slug, params.Amount, params.Nonce, evidenceHash, locationHash); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"status": rewards.StatusPending.String(), "nonce": params.Nonce})
}

func (s *Server) handleVerifyAction(w http.ResponseWriter, req *RPCRequest) {
	var params verifyActionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	owner, err := decodeBech32(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner address", err.Error())
		return
	}
	if err := s.engine.VerifyAction(caller, owner, params.Nonce, params.Approve); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	status := rewards.StatusRejected
	if params.Approve {
		status = rewards.StatusApproved
	}
	writeResult(w, req.ID, status.String())
}

func (s *Server) handleRedeem(w http.ResponseWriter, req *RPCRequest) {
	var params redeemParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	partner, err := rewards.NewSlug(params.PartnerSlug)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid partner slug", err.Error())
		return
	}
	if err := s.engine.Redeem(caller, params.Points, partner); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, params.Points)
}

func (s *Server) handleSetParams(w http.ResponseWriter, req *RPCRequest) {
	var params setParamsParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.engine.SetParams(caller, params.Params.toParams()); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handlePauseSwitch(w http.ResponseWriter, req *RPCRequest, pause bool) {
	var params callerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if pause {
		err = s.engine.Pause(caller)
	} else {
		err = s.engine.Unpause(caller)
	}
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handlePause(w http.ResponseWriter, req *RPCRequest) {
	s.handlePauseSwitch(w, req, true)
}

func (s *Server) handleUnpause(w http.ResponseWriter, req *RPCRequest) {
	s.handlePauseSwitch(w, req, false)
}

func (s *Server) handleGetGlobal(w http.ResponseWriter, req *RPCRequest) {
	global, err := s.engine.Global()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	verifiers := make([]string, 0, len(global.Verifiers))
	for _, v := range global.Verifiers {
		verifiers = append(verifiers, encodeAddr(v))
	}
	writeResult(w, req.ID, globalResult{
		Admin:       encodeAddr(global.Admin),
		PointsToken: global.PointsToken,
		Vault:       encodeAddr(global.Vault),
		Verifiers:   verifiers,
		Params: rewardsParamsPayload{
			Paused:              global.Params.Paused,
			DailyCap:            global.Params.DailyCap,
			PerTxCapDefault:     global.Params.PerTxCapDefault,
			CooldownSecsDefault: global.Params.CooldownSecsDefault,
		},
		CreatedAt: global.CreatedAt,
	})
}

func (s *Server) handleGetActionType(w http.ResponseWriter, req *RPCRequest) {
	var params slugParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	slug, err := rewards.NewSlug(params.Slug)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid slug", err.Error())
		return
	}
	at, err := s.engine.GetActionType(slug)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, actionTypeResult{
		Slug:          at.Slug.String(),
		Name:          at.Name,
		PointsPerUnit: at.PointsPerUnit,
		Unit:          at.Unit,
		BadgeURI:      at.BadgeURI,
		CooldownSecs:  at.CooldownSecs,
		PerTxCap:      at.PerTxCap,
	})
}

func (s *Server) handleGetMember(w http.ResponseWriter, req *RPCRequest) {
	var params ownerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	owner, err := decodeBech32(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner address", err.Error())
		return
	}
	member, err := s.engine.GetMember(owner)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	balance, err := s.engine.PointsBalance(owner)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, memberResult{
		Owner:            encodeAddr(member.Owner),
		Points:           member.Points,
		SpendableBalance: balance.String(),
		JoinedAt:         member.JoinedAt,
		ProfileURI:       member.ProfileURI,
	})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, req *RPCRequest) {
	var params submissionQueryParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	owner, err := decodeBech32(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner address", err.Error())
		return
	}
	submission, err := s.engine.GetSubmission(owner, params.Nonce)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, submissionResult{
		Owner:        encodeAddr(submission.MemberOwner),
		ActionType:   hex.EncodeToString(submission.ActionType[:]),
		Amount:       submission.Amount,
		EvidenceHash: hex.EncodeToString(submission.EvidenceHash[:]),
		LocationHash: hex.EncodeToString(submission.LocationHash[:]),
		Status:       submission.Status.String(),
		CreatedAt:    submission.CreatedAt,
		Nonce:        submission.ClientNonce,
	})
}
