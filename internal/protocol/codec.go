package protocol

import (
	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"tradepulse/internal/model"
	"tradepulse/pkg/exception"
)

// EncodeTick renders one tick frame. Hot path: one call per delivered tick.
func EncodeTick(tick model.Tick) ([]byte, error) {
	frame := TickFrame{
		Symbol:     tick.Symbol,
		Price:      tick.Price,
		Volume:     tick.Volume,
		Timestamp:  tick.Timestamp.UnixMilli(),
		ProviderID: tick.ProviderID,
	}

	payload, err := sonic.ConfigFastest.Marshal(frame)
	if err != nil {
		return nil, errors.Wrap(err, "marshal tick frame").With("symbol", tick.Symbol)
	}

	return payload, nil
}

// DecodeClientRequest parses one client message envelope.
func DecodeClientRequest(payload []byte) (ClientRequest, error) {
	var req ClientRequest
	if err := sonic.ConfigFastest.Unmarshal(payload, &req); err != nil {
		return ClientRequest{}, errors.Wrapf(exception.ErrDecodeMessage, "%v", err)
	}

	switch req.Op {
	case OpSubscribe, OpUnsubscribe, OpOrder:
		return req, nil
	default:
		return ClientRequest{}, errors.Wrapf(exception.ErrUnsupportedOp, "%q", req.Op)
	}
}

// EncodeDecision renders the reply for one risk decision.
func EncodeDecision(decision model.RiskDecision) ([]byte, error) {
	frame := DecisionFrame{
		Op:      OpDecision,
		OrderID: decision.OrderID,
		Outcome: decision.Outcome.String(),
	}
	if !decision.Accepted() {
		frame.Reason = decision.Reason.String()
	}

	payload, err := sonic.ConfigFastest.Marshal(frame)
	if err != nil {
		return nil, errors.Wrap(err, "marshal decision frame").With("order_id", decision.OrderID)
	}

	return payload, nil
}

// EncodeUniverse renders a universe refresh broadcast.
func EncodeUniverse(frame UniverseFrame) ([]byte, error) {
	frame.Op = OpUniverse
	if frame.Added == nil {
		frame.Added = []string{}
	}
	if frame.Removed == nil {
		frame.Removed = []string{}
	}
	if frame.Universe == nil {
		frame.Universe = []string{}
	}

	payload, err := sonic.ConfigFastest.Marshal(frame)
	if err != nil {
		return nil, errors.Wrap(err, "marshal universe frame")
	}

	return payload, nil
}

// EncodeError renders a request error reply.
func EncodeError(message string) []byte {
	payload, err := sonic.ConfigFastest.Marshal(ErrorFrame{Op: OpError, Message: message})
	if err != nil {
		return []byte(`{"op":"error","message":"` + exception.ErrInternal.Error() + `"}`)
	}

	return payload
}
