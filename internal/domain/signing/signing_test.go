package signing

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tollgate-labs/tollgate/pkg/rpc"
)

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"lowercase", "0x948426aa46593681b609b896d6246eba1c7e932d", "0x948426aa46593681b609b896d6246eBA1C7e932D", false},
		{"already checksummed", "0x948426aa46593681b609b896d6246eBA1C7e932D", "0x948426aa46593681b609b896d6246eBA1C7e932D", false},
		{"surrounding space", "  0x948426AA46593681B609B896D6246EBA1C7E932D ", "0x948426aa46593681b609b896d6246eBA1C7e932D", false},
		{"too short", "0x1234", "", true},
		{"not hex", "0xZZ8426aa46593681b609b896d6246eba1c7e932d", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeAddress(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("NormalizeAddress(%q) error = %v, want ErrInvalidAddress", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeAddress(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSameAddress(t *testing.T) {
	t.Parallel()

	if !SameAddress("0x948426aa46593681b609b896d6246eba1c7e932d", "0x948426aa46593681b609b896d6246eBA1C7e932D") {
		t.Error("expected case-insensitive match")
	}
	if SameAddress("0x948426aa46593681b609b896d6246eba1c7e932d", "bogus") {
		t.Error("expected mismatch for invalid address")
	}
}

func TestSessionKey_SignRecovers(t *testing.T) {
	t.Parallel()

	key, err := NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey failed: %v", err)
	}

	payload := []byte(`[1,"transfer",{},1700000000000]`)
	sig, err := key.Sign(payload)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	got, err := RecoverAddress(crypto.Keccak256(payload), sig)
	if err != nil {
		t.Fatalf("RecoverAddress failed: %v", err)
	}
	if got != key.Address() {
		t.Errorf("recovered %s, want %s", got, key.Address())
	}
}

func TestSessionKey_Fresh(t *testing.T) {
	t.Parallel()

	a, err := NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey failed: %v", err)
	}
	b, err := NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey failed: %v", err)
	}
	if a.Address() == b.Address() {
		t.Error("two session keys share an address")
	}
}

func TestSessionKey_NilSign(t *testing.T) {
	t.Parallel()

	var key *SessionKey
	if _, err := key.Sign([]byte("x")); !errors.Is(err, ErrNoSessionKey) {
		t.Errorf("Sign on nil key error = %v, want ErrNoSessionKey", err)
	}
	if key.Address() != "" {
		t.Errorf("Address on nil key = %q, want empty", key.Address())
	}
}

func testPolicy() Policy {
	return Policy{
		Application: "clearnode",
		Challenge:   "9f1d3e2a-challenge",
		Scope:       "console",
		Wallet:      "0x948426aa46593681b609b896d6246eBA1C7e932D",
		SessionKey:  "0x0000000000000000000000000000000000000001",
		ExpiresAt:   1700086400,
		Allowances:  []rpc.Allowance{},
	}
}

func TestPolicyHash_Deterministic(t *testing.T) {
	t.Parallel()

	h1, err := testPolicy().Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	h2, err := testPolicy().Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if len(h1) != 32 {
		t.Errorf("hash length = %d, want 32", len(h1))
	}
	if string(h1) != string(h2) {
		t.Error("hash is not deterministic")
	}

	// A different challenge must change the digest.
	p := testPolicy()
	p.Challenge = "other"
	h3, err := p.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if string(h1) == string(h3) {
		t.Error("challenge does not affect the digest")
	}
}

func TestPolicyHash_WithAllowances(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	p.Allowances = []rpc.Allowance{{Asset: "ytest.usd", Amount: "100"}}
	if _, err := p.Hash(); err != nil {
		t.Fatalf("Hash with allowances failed: %v", err)
	}
}

func TestPolicyHash_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{"empty challenge", func(p *Policy) { p.Challenge = "" }},
		{"empty application", func(p *Policy) { p.Application = "" }},
		{"bad wallet", func(p *Policy) { p.Wallet = "not-an-address" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := testPolicy()
			tt.mutate(&p)
			if _, err := p.Hash(); !errors.Is(err, ErrMalformedChallenge) {
				t.Errorf("Hash() error = %v, want ErrMalformedChallenge", err)
			}
		})
	}
}
