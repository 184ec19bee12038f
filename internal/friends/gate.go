// ABOUTME: Pure gate combining relationship and conversation state into allowed actions
// ABOUTME: The UI layer renders exactly what this returns, nothing is decided there

package friends

// Actions is the set of conversation actions currently permitted.
type Actions struct {
	CanSendRequest bool
	CanSend        bool
	CanAccept      bool
	CanReject      bool
}

// AllowedActions computes the permitted actions from the relationship
// status, the conversation status, and whether the local user initiated
// the conversation. Deterministic, no I/O; any combination not listed
// leaves the conversation read-only.
func AllowedActions(rel Status, conv ConversationStatus, localIsInitiator bool) Actions {
	switch {
	case rel == StatusAccepted && (conv == ConvAccepted || conv == ConvActive):
		return Actions{CanSend: true}
	case rel == StatusPendingIncoming && conv == ConvInitiate && !localIsInitiator:
		return Actions{CanAccept: true, CanReject: true}
	case rel == StatusNone || rel == StatusRejected:
		return Actions{CanSendRequest: true}
	default:
		return Actions{}
	}
}
