package rewards

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Records live at addresses derived purely from a namespace tag and their key
// fields. Identical inputs always resolve to the identical address, so lookup
// needs no index and creation can rely on insert-if-absent semantics at the
// storage layer.
var (
	globalNamespace     = []byte("global")
	actionTypeNamespace = []byte("action_type")
	memberNamespace     = []byte("member")
	submissionNamespace = []byte("submission")

	// activeGlobalKey resolves the live control plane without knowing the
	// admin identity up front. Written exactly once at initialization.
	activeGlobalKey = []byte("rewards/global/active")
)

func globalAddr(admin [20]byte) [32]byte {
	buf := make([]byte, 0, len(globalNamespace)+len(admin))
	buf = append(buf, globalNamespace...)
	buf = append(buf, admin[:]...)
	var addr [32]byte
	copy(addr[:], ethcrypto.Keccak256(buf))
	return addr
}

func actionTypeAddr(global [32]byte, slug Slug) [32]byte {
	buf := make([]byte, 0, len(actionTypeNamespace)+len(global)+len(slug))
	buf = append(buf, actionTypeNamespace...)
	buf = append(buf, global[:]...)
	buf = append(buf, slug[:]...)
	var addr [32]byte
	copy(addr[:], ethcrypto.Keccak256(buf))
	return addr
}

func memberAddr(owner [20]byte) [32]byte {
	buf := make([]byte, 0, len(memberNamespace)+len(owner))
	buf = append(buf, memberNamespace...)
	buf = append(buf, owner[:]...)
	var addr [32]byte
	copy(addr[:], ethcrypto.Keccak256(buf))
	return addr
}

func submissionAddr(owner [20]byte, nonce uint64) [32]byte {
	var nonceBytes [8]byte
	binary.LittleEndian.PutUint64(nonceBytes[:], nonce)
	buf := make([]byte, 0, len(submissionNamespace)+len(owner)+len(nonceBytes))
	buf = append(buf, submissionNamespace...)
	buf = append(buf, owner[:]...)
	buf = append(buf, nonceBytes[:]...)
	var addr [32]byte
	copy(addr[:], ethcrypto.Keccak256(buf))
	return addr
}
