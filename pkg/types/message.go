package types

// MessageKey identifies a user-facing status message. Renderers map keys to
// display text; the engine never builds display strings itself.
type MessageKey string

const (
	MsgSetAllowance       MessageKey = "allowance.set"
	MsgAllowanceWait      MessageKey = "allowance.wait"
	MsgAllowanceDone      MessageKey = "allowance.done"
	MsgPrepareTransaction MessageKey = "tx.prepare"
	MsgSignTransaction    MessageKey = "tx.sign"
	MsgWaitTransaction    MessageKey = "tx.wait"
	MsgTransactionSent    MessageKey = "tx.sent"
	MsgSwapDone           MessageKey = "swap.done"
	MsgWaitReceiver       MessageKey = "receiver.wait"
	MsgReceiverPrepared   MessageKey = "receiver.prepared"
	MsgReadyToSign        MessageKey = "claim.sign"
	MsgSignedWaitClaim    MessageKey = "claim.wait"
	MsgFundsClaimed       MessageKey = "claim.done"
	MsgDepositSent        MessageKey = "deposit.sent"
	MsgWaitSettlement     MessageKey = "settlement.wait"
	MsgSettled            MessageKey = "settlement.done"
	MsgFailed             MessageKey = "failed"
	MsgCounterpartyWait   MessageKey = "counterparty.timeout"
	MsgSwitchChain        MessageKey = "chain.switch"
)

// Message is a structured status message: a key plus named parameters
type Message struct {
	Key    MessageKey        `json:"key"`
	Params map[string]string `json:"params,omitempty"`
}

// NewMessage builds a message from a key and alternating name/value pairs
func NewMessage(key MessageKey, kv ...string) Message {
	msg := Message{Key: key}
	if len(kv) == 0 {
		return msg
	}
	msg.Params = make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		msg.Params[kv[i]] = kv[i+1]
	}
	return msg
}

// Param returns a named parameter or an empty string
func (m Message) Param(name string) string {
	if m.Params == nil {
		return ""
	}
	return m.Params[name]
}
