package routing

import (
	"errors"
	"fmt"
)

var (
	// ErrAllAgentsBusy means no team member could be reserved. The call goes
	// to the queue or voicemail.
	ErrAllAgentsBusy = errors.New("routing: all agents busy")
	// ErrReservationRaceLost is a simultaneous-ring agent answering after
	// another agent already took the call.
	ErrReservationRaceLost = errors.New("routing: reservation race lost")
)

// ProviderTimeoutError is a call-control command that failed or timed out at
// the provider. Ring failures are retried up to the rule's max ring attempts.
type ProviderTimeoutError struct {
	Verb    string
	CallID  string
	AgentID string
	Err     error
}

func (e *ProviderTimeoutError) Error() string {
	if e.AgentID != "" {
		return fmt.Sprintf("routing: provider %s for call %s agent %s: %v", e.Verb, e.CallID, e.AgentID, e.Err)
	}
	return fmt.Sprintf("routing: provider %s for call %s: %v", e.Verb, e.CallID, e.Err)
}

func (e *ProviderTimeoutError) Unwrap() error { return e.Err }

func providerErr(verb, callID, agentID string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderTimeoutError{Verb: verb, CallID: callID, AgentID: agentID, Err: err}
}
