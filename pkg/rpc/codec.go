package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// EncodeEnvelope serializes an outbound frame. A nil Sig is sent as an
// empty array because the node rejects a missing sig field.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if env.Sig == nil {
		env.Sig = []string{}
	}
	return json.Marshal(env)
}

// DecodeInbound parses a {res:[id, method, payload]} frame into an Inbound.
// Unknown methods and payloads that fail validation are rejected here so
// that nothing untyped reaches the services.
func DecodeInbound(data []byte) (Inbound, error) {
	var frame struct {
		Res []json.RawMessage `json:"res"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(frame.Res) < 3 {
		return Inbound{}, fmt.Errorf("%w: res has %d elements", ErrMalformedFrame, len(frame.Res))
	}

	var in Inbound
	if err := json.Unmarshal(frame.Res[0], &in.ID); err != nil {
		return Inbound{}, fmt.Errorf("%w: id: %v", ErrMalformedFrame, err)
	}
	var method string
	if err := json.Unmarshal(frame.Res[1], &method); err != nil {
		return Inbound{}, fmt.Errorf("%w: method: %v", ErrMalformedFrame, err)
	}
	in.Method = Method(method)
	payload := frame.Res[2]

	var target any
	switch in.Method {
	case MethodAuthChallenge:
		in.Challenge = &AuthChallenge{}
		target = in.Challenge
	case MethodAuthVerify:
		in.Verify = &AuthVerifyResult{}
		target = in.Verify
	case MethodGetLedgerBalances:
		in.Balances = &LedgerBalances{}
		target = in.Balances
	case MethodTransfer:
		in.Transfer = &TransferResult{}
		target = in.Transfer
	case MethodBalanceUpdate:
		in.BalanceUpdate = &BalanceUpdate{}
		target = in.BalanceUpdate
	case MethodTransferNotification:
		in.TransferNotice = &TransferNotification{}
		target = in.TransferNotice
	case MethodError:
		in.Error = &ErrorResult{}
		target = in.Error
	default:
		return in, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}

	if err := json.Unmarshal(payload, target); err != nil {
		return in, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, in.Method, err)
	}
	if err := validate.Struct(target); err != nil {
		return in, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, in.Method, err)
	}
	return in, nil
}
