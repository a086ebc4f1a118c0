package broker

import (
	"context"

	"github.com/LordBaryhobal/dragonfly/authz"
)

// Authorizer is satisfied by both *authz.Policy directly and
// *authzcache.Cache (SPEC_FULL.md §4.4's decision cache), so the broker
// never has to know which one it was constructed with.
type Authorizer interface {
	CheckConnect(username, password *string) bool
	Check(ctx context.Context, action authz.Action, connected bool, username, password *string, topicName string) bool
}

// policyAuthorizer adapts a bare *authz.Policy (no cache) to Authorizer.
type policyAuthorizer struct{ policy *authz.Policy }

func (a policyAuthorizer) CheckConnect(username, password *string) bool {
	return a.policy.CheckConnect(username, password)
}

func (a policyAuthorizer) Check(_ context.Context, action authz.Action, connected bool, username, password *string, topicName string) bool {
	return a.policy.Check(action, connected, username, password, topicName)
}
