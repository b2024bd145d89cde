package proof

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"starbridge/native/bridge"
)

// envelope is the wire form of an attested proof: the decoded log batch plus
// a 65-byte secp256k1 signature over its keccak hash.
type envelope struct {
	Logs      []byte
	Signature []byte
}

// Seal wraps a decoded log batch into an attested proof signed by the given
// key. Used by relayer tooling and tests.
func Seal(logs []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := ethcrypto.Sign(ethcrypto.Keccak256(logs), key)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&envelope{Logs: logs, Signature: sig})
}

// AttestedVerifier implements the proof oracle boundary with a per-chain
// attestor signature check. It stands in for a light-client verifier wherever
// one is not deployed; the settlement engine only sees the oracle contract
// (ok, diagnostic, decoded log bytes).
type AttestedVerifier struct {
	mu        sync.RWMutex
	attestors map[bridge.ChainID]ethcommon.Address
}

// NewAttestedVerifier constructs an empty verifier.
func NewAttestedVerifier() *AttestedVerifier {
	return &AttestedVerifier{attestors: make(map[bridge.ChainID]ethcommon.Address)}
}

// SetAttestor registers the attestor address trusted for the source chain.
func (v *AttestedVerifier) SetAttestor(chain bridge.ChainID, attestor ethcommon.Address) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.attestors[chain] = attestor
}

// Verify implements bridge.Verifier.
func (v *AttestedVerifier) Verify(source bridge.ChainID, proofBytes []byte) (bool, string, []byte) {
	v.mu.RLock()
	attestor, ok := v.attestors[source]
	v.mu.RUnlock()
	if !ok {
		return false, fmt.Sprintf("no attestor for chain %d", source), nil
	}
	var env envelope
	if err := rlp.DecodeBytes(proofBytes, &env); err != nil {
		return false, fmt.Sprintf("malformed proof envelope: %v", err), nil
	}
	if len(env.Signature) != 65 {
		return false, "malformed attestor signature", nil
	}
	pub, err := ethcrypto.SigToPub(ethcrypto.Keccak256(env.Logs), env.Signature)
	if err != nil {
		return false, fmt.Sprintf("signature recovery failed: %v", err), nil
	}
	if ethcrypto.PubkeyToAddress(*pub) != attestor {
		return false, "attestor signature mismatch", nil
	}
	return true, "", env.Logs
}
