// Package authz implements Dragonfly's authorization engine (spec.md
// §4.4): resolving whether a (session, action, topic?) triple is
// permitted, against a Policy compiled once from config.Config at broker
// startup. Grounded on the teacher's hook/auth.go (constant-time password
// comparison) and hook/manager.go (ordered, later-wins rule chain).
package authz

import (
	"crypto/subtle"

	"github.com/LordBaryhobal/dragonfly/config"
	"github.com/LordBaryhobal/dragonfly/topic"
)

// Action identifies which of the four scopes spec.md §4.4 defines is being
// checked. Anything else is a programmer error, never a client input.
type Action int

const (
	ActionConnect Action = iota
	ActionPublish
	ActionSubscribe
	ActionUnsubscribe
)

// rule is one compiled "topic <pattern> <rights>" line: its pattern and the
// rights atoms split out of the pipe-separated string (spec.md §3).
type rule struct {
	pattern *topic.Pattern
	atoms   []string
}

func compileRules(rules []config.TopicRule) ([]rule, error) {
	out := make([]rule, 0, len(rules))
	for _, r := range rules {
		p, err := topic.CompilePattern(r.Pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, rule{pattern: p, atoms: splitRights(r.Rights)})
	}
	return out, nil
}

func splitRights(s string) []string {
	if s == "" {
		return nil
	}
	parts := make([]string, 0, 2)
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// Policy is Dragonfly's compiled, immutable authorization policy: the
// require_auth flag, the compiled global rights table, and compiled
// per-user overlays, keyed by username for O(1) lookup after the
// lookupUser scan resolves which user record applies.
type Policy struct {
	requireAuth bool
	global      []rule
	users       []config.User
	userRules   map[string][]rule
}

// New compiles cfg into a Policy, failing if any configured pattern is an
// invalid or over-long regex (spec.md §9's regex-hazard mitigation applies
// here too: a broker refuses to start on an unusable policy rather than
// discovering it at the first SUBSCRIBE).
func New(cfg *config.Config) (*Policy, error) {
	global, err := compileRules(cfg.Topics)
	if err != nil {
		return nil, err
	}

	userRules := make(map[string][]rule, len(cfg.Users))
	for _, u := range cfg.Users {
		rules, err := compileRules(u.Topics)
		if err != nil {
			return nil, err
		}
		userRules[u.Username] = rules
	}

	return &Policy{
		requireAuth: cfg.RequireAuth,
		global:      global,
		users:       cfg.Users,
		userRules:   userRules,
	}, nil
}

// lookupUser mirrors config.Config.LookupUser's existential semantics
// (spec.md §4.4: allow iff a user record *exists* whose username and
// password both match) — a username match with a failing password does not
// stop the scan, since a later record can repeat the username with a
// different password.
func (p *Policy) lookupUser(username *string, password *string) *config.User {
	if username == nil {
		return nil
	}
	for i := range p.users {
		u := &p.users[i]
		if u.Username != *username {
			continue
		}
		if u.Password == nil {
			return u
		}
		if password != nil && constantTimeEqual(*u.Password, *password) {
			return u
		}
	}
	return nil
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// CheckConnect resolves CONNECT authorization (spec.md §4.4): allowed
// unconditionally when require_auth is false, otherwise only when a user
// record matches the presented credentials.
func (p *Policy) CheckConnect(username, password *string) bool {
	if !p.requireAuth {
		return true
	}
	return p.lookupUser(username, password) != nil
}

// Check resolves PUBLISH/SUBSCRIBE/UNSUBSCRIBE authorization for a
// CONNECTED session. connected must reflect the session's current state;
// PUBLISH and SUBSCRIBE are refused outright when false. CONNECT is not a
// valid Action for this method — call CheckConnect instead.
func (p *Policy) Check(action Action, connected bool, username, password *string, topicName string) bool {
	switch action {
	case ActionUnsubscribe:
		return true
	case ActionPublish, ActionSubscribe:
		if !connected {
			return false
		}
		return p.resolve(action, username, password, topicName)
	default:
		panic(ErrInvalidScope)
	}
}

func (p *Policy) resolve(action Action, username, password *string, topicName string) bool {
	grant, deny := actionAtoms(action)

	allow := true
	for _, r := range p.global {
		if !r.pattern.Matches(topicName) {
			continue
		}
		allow = applyAtoms(allow, r.atoms, grant, deny)
	}

	if u := p.lookupUser(username, password); u != nil {
		for _, r := range p.userRules[u.Username] {
			if !r.pattern.Matches(topicName) {
				continue
			}
			allow = applyAtoms(allow, r.atoms, grant, deny)
		}
	}

	return allow
}

func actionAtoms(action Action) (grant, deny string) {
	if action == ActionPublish {
		return "pub", "!pub"
	}
	return "sub", "!sub"
}

func applyAtoms(allow bool, atoms []string, grant, deny string) bool {
	for _, a := range atoms {
		switch a {
		case grant:
			allow = true
		case deny:
			allow = false
		}
	}
	return allow
}
