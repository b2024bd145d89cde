package proof

import (
	"bytes"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"starbridge/native/bridge"
)

func TestSealAndVerify(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	logs := []byte("decoded log batch")
	sealed, err := Seal(logs, key)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	v := NewAttestedVerifier()
	v.SetAttestor(bridge.ChainID(2), ethcrypto.PubkeyToAddress(key.PublicKey))

	ok, diag, decoded := v.Verify(bridge.ChainID(2), sealed)
	if !ok {
		t.Fatalf("verify failed: %s", diag)
	}
	if !bytes.Equal(decoded, logs) {
		t.Fatalf("decoded = %q, want original logs", decoded)
	}
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	trusted, _ := ethcrypto.GenerateKey()
	rogue, _ := ethcrypto.GenerateKey()
	sealed, err := Seal([]byte("logs"), rogue)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	v := NewAttestedVerifier()
	v.SetAttestor(bridge.ChainID(2), ethcrypto.PubkeyToAddress(trusted.PublicKey))

	ok, diag, _ := v.Verify(bridge.ChainID(2), sealed)
	if ok {
		t.Fatalf("rogue signature accepted")
	}
	if !strings.Contains(diag, "mismatch") {
		t.Fatalf("diag = %q", diag)
	}
}

func TestVerifyRejectsUnknownChainAndGarbage(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	sealed, err := Seal([]byte("logs"), key)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	v := NewAttestedVerifier()
	if ok, diag, _ := v.Verify(bridge.ChainID(9), sealed); ok || !strings.Contains(diag, "no attestor") {
		t.Fatalf("unknown chain: ok=%v diag=%q", ok, diag)
	}

	v.SetAttestor(bridge.ChainID(2), ethcrypto.PubkeyToAddress(key.PublicKey))
	if ok, diag, _ := v.Verify(bridge.ChainID(2), []byte{0xff, 0x01}); ok || !strings.Contains(diag, "malformed proof envelope") {
		t.Fatalf("garbage envelope: ok=%v diag=%q", ok, diag)
	}
}
