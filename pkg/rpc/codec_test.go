package rpc

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestRequestMarshal_PositionalArray(t *testing.T) {
	t.Parallel()

	req := Request{
		ID:        7,
		Method:    MethodTransfer,
		Params:    TransferParams{Destination: "0xabc", Allocations: []TransferAllocation{{Asset: "ytest.usd", Amount: decimal.NewFromInt(1500000)}}},
		Timestamp: 1700000000000,
	}

	got, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `[7,"transfer",{"destination":"0xabc","allocations":[{"asset":"ytest.usd","amount":"1500000"}]},1700000000000]`
	if string(got) != want {
		t.Errorf("Marshal = %s, want %s", got, want)
	}
}

func TestRequestMarshal_NilParamsIsEmptyObject(t *testing.T) {
	t.Parallel()

	got, err := json.Marshal(Request{ID: 1, Method: MethodGetLedgerBalances, Timestamp: 5})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(got) != `[1,"get_ledger_balances",{},5]` {
		t.Errorf("Marshal = %s", got)
	}
}

func TestEncodeEnvelope(t *testing.T) {
	t.Parallel()

	// Unsigned, no token
	data, err := EncodeEnvelope(Envelope{Req: Request{ID: 1, Method: MethodAuthRequest, Timestamp: 1}})
	if err != nil {
		t.Fatalf("EncodeEnvelope failed: %v", err)
	}
	if !strings.Contains(string(data), `"sig":[]`) {
		t.Errorf("expected empty sig array, got %s", data)
	}
	if strings.Contains(string(data), "token") {
		t.Errorf("token must be omitted when empty, got %s", data)
	}

	// Signed with token
	data, err = EncodeEnvelope(Envelope{
		Req:   Request{ID: 2, Method: MethodTransfer, Timestamp: 1},
		Sig:   []string{"0xsig"},
		Token: "jwt",
	})
	if err != nil {
		t.Fatalf("EncodeEnvelope failed: %v", err)
	}
	if !strings.Contains(string(data), `"sig":["0xsig"]`) || !strings.Contains(string(data), `"token":"jwt"`) {
		t.Errorf("unexpected envelope %s", data)
	}
}

func TestDecodeInbound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		frame  string
		method Method
		check  func(t *testing.T, in Inbound)
	}{
		{
			name:   "auth challenge",
			frame:  `{"res":[1,"auth_challenge",{"challenge_message":"c-123"}],"sig":[]}`,
			method: MethodAuthChallenge,
			check: func(t *testing.T, in Inbound) {
				if in.Challenge == nil || in.Challenge.ChallengeMessage != "c-123" {
					t.Errorf("Challenge = %+v", in.Challenge)
				}
			},
		},
		{
			name:   "auth verify",
			frame:  `{"res":[2,"auth_verify",{"success":true,"jwt_token":"tok","address":"0x1","session_key":"0x2"}]}`,
			method: MethodAuthVerify,
			check: func(t *testing.T, in Inbound) {
				if in.Verify == nil || !in.Verify.Success || in.Verify.JWTToken != "tok" {
					t.Errorf("Verify = %+v", in.Verify)
				}
			},
		},
		{
			name:   "ledger balances",
			frame:  `{"res":[3,"get_ledger_balances",{"ledger_balances":[{"asset":"ytest.usd","amount":"500000000"}]}]}`,
			method: MethodGetLedgerBalances,
			check: func(t *testing.T, in Inbound) {
				b, ok := in.Balances.Find("ytest.usd")
				if !ok {
					t.Fatal("expected ytest.usd balance")
				}
				if b.Amount.IntPart() != 500000000 {
					t.Errorf("Amount = %s, want 500000000", b.Amount)
				}
			},
		},
		{
			name:   "balance push",
			frame:  `{"res":[0,"bu",{"balance_updates":[{"asset":"ytest.usd","amount":"1"}]}]}`,
			method: MethodBalanceUpdate,
			check: func(t *testing.T, in Inbound) {
				if !in.Method.IsPush() {
					t.Error("bu should be a push")
				}
				if len(in.BalanceUpdate.BalanceUpdates) != 1 {
					t.Errorf("BalanceUpdates = %d, want 1", len(in.BalanceUpdate.BalanceUpdates))
				}
			},
		},
		{
			name:   "error",
			frame:  `{"res":[4,"error",{"error":"insufficient funds"}]}`,
			method: MethodError,
			check: func(t *testing.T, in Inbound) {
				err := in.Err()
				if !errors.Is(err, ErrServerRejected) {
					t.Errorf("Err() = %v, want ErrServerRejected", err)
				}
				if !strings.Contains(err.Error(), "insufficient funds") {
					t.Errorf("Err() = %q, want reason", err.Error())
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in, err := DecodeInbound([]byte(tt.frame))
			if err != nil {
				t.Fatalf("DecodeInbound failed: %v", err)
			}
			if in.Method != tt.method {
				t.Errorf("Method = %q, want %q", in.Method, tt.method)
			}
			tt.check(t, in)
		})
	}
}

func TestDecodeInbound_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `nope`, ErrMalformedFrame},
		{"short res", `{"res":[1,"transfer"]}`, ErrMalformedFrame},
		{"bad id", `{"res":["x","transfer",{}]}`, ErrMalformedFrame},
		{"unknown method", `{"res":[1,"get_channels",{}]}`, ErrUnknownMethod},
		{"challenge missing message", `{"res":[1,"auth_challenge",{}]}`, ErrMalformedFrame},
		{"balance without asset", `{"res":[1,"get_ledger_balances",{"ledger_balances":[{"amount":"1"}]}]}`, ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeInbound([]byte(tt.frame))
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeInbound(%s) error = %v, want %v", tt.frame, err, tt.want)
			}
		})
	}
}

func TestInboundErr_NilForNonError(t *testing.T) {
	t.Parallel()

	in := Inbound{Method: MethodTransfer, Transfer: &TransferResult{}}
	if err := in.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}
