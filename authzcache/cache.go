// Package authzcache memoizes authorization decisions behind the teacher's
// generic store.Store[T] interface (SPEC_FULL.md §4.4 AMBIENT/DOMAIN
// ADDITION). It is a pure performance cache: a miss or a backend outage
// always falls through to Policy.Check against the in-memory policy, so it
// never becomes a correctness dependency and never reintroduces message or
// session persistence.
package authzcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"

	"github.com/LordBaryhobal/dragonfly/authz"
	"github.com/LordBaryhobal/dragonfly/pkg/logger"
	"github.com/LordBaryhobal/dragonfly/store"
)

// Cache wraps a store.Store[bool] keyed by (action, username, password,
// topic), falling back to recompute on any backend error. nil username is
// hashed as the empty string, matching an anonymous CONNECT.
type Cache struct {
	policy *authz.Policy
	store  store.Store[bool]
	log    logger.Logger
}

// New wraps policy with a decision cache backed by backend. Pass
// store.NewMemoryStore[bool]() for the default in-process cache, or a
// store.RedisStore[bool] to share decisions across broker processes
// running against the same policy file.
func New(policy *authz.Policy, backend store.Store[bool], log logger.Logger) *Cache {
	return &Cache{policy: policy, store: backend, log: log}
}

// Check resolves (action, username, topic) through the cache, recomputing
// and populating it on a miss. Any store error is logged and treated as a
// miss — the cache never blocks or alters the authorization result.
func (c *Cache) Check(ctx context.Context, action authz.Action, connected bool, username, password *string, topicName string) bool {
	if action == authz.ActionUnsubscribe {
		return true
	}

	// A session that is not connected is refused by the policy itself; that
	// answer is not cached, so it is never served to a connected session.
	if !connected {
		return c.policy.Check(action, connected, username, password, topicName)
	}

	key := cacheKey(action, username, password, topicName)

	if cached, err := c.store.Load(ctx, key); err == nil {
		return cached
	} else if !errors.Is(err, store.ErrNotFound) && c.log != nil {
		c.log.Warn("authzcache: load failed, recomputing", "error", err)
	}

	decision := c.policy.Check(action, connected, username, password, topicName)

	if err := c.store.Save(ctx, key, decision); err != nil && c.log != nil {
		c.log.Warn("authzcache: save failed, decision not cached", "error", err)
	}

	return decision
}

// CheckConnect bypasses the cache: CONNECT happens once per session, so
// memoizing it saves nothing and would wrongly pin a decision across
// config reloads of a user's credentials.
func (c *Cache) CheckConnect(username, password *string) bool {
	return c.policy.CheckConnect(username, password)
}

func cacheKey(action authz.Action, username, password *string, topicName string) string {
	u := ""
	if username != nil {
		u = *username
	}
	h := sha256.New()
	h.Write([]byte(strconv.Itoa(int(action))))
	h.Write([]byte{0})
	h.Write([]byte(u))
	h.Write([]byte{0})
	if password != nil {
		h.Write([]byte{1})
		h.Write([]byte(*password))
	}
	h.Write([]byte{0})
	h.Write([]byte(topicName))
	return hex.EncodeToString(h.Sum(nil))
}
