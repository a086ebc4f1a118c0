// Package config loads Dragonfly's line-oriented policy file (spec.md §6):
// "# General"/"# User" blocks of "key value [value...]" lines, feeding the
// authorization engine's require_auth flag, global rights table, and user
// records. Grounded on the teacher corpus's line-oriented config parsers
// and, for exact field semantics, on the reference implementation's
// config.py (kept for ambiguous-case fidelity — see DESIGN.md).
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/LordBaryhobal/dragonfly/pkg/logger"
)

// TopicRule is one "topic <pattern> <rights>" line. Order matters: the
// authorization engine (package authz) walks rules in declaration order,
// later rules overriding earlier ones (spec.md §4.4).
type TopicRule struct {
	Pattern string
	Rights  string
}

// User is one "# User" block: a username, an optional password (absent
// means "matches any presented password", per config.py's get_user), and a
// per-user topic->rights overlay in declaration order.
type User struct {
	Username string
	Password *string
	Topics   []TopicRule
}

// Config is Dragonfly's policy, loaded once at broker startup and never
// mutated afterward (spec.md §3 Lifecycle).
type Config struct {
	RequireAuth bool
	Topics      []TopicRule
	Users       []User
}

// LookupUser returns the first user record whose username equals username
// and whose password is either absent or equal to password, replicating
// config.py's get_user: the loop keeps scanning past a username match with
// a failing password, since a later record can carry the same username
// with a different password.
func (c *Config) LookupUser(username string, password *string) *User {
	for i := range c.Users {
		u := &c.Users[i]
		if u.Username != username {
			continue
		}
		if u.Password == nil {
			return u
		}
		if password != nil && *u.Password == *password {
			return u
		}
	}
	return nil
}

var headerRe = regexp.MustCompile(`^#\s*(.+)$`)

type blockKind int

const (
	blockGeneral blockKind = iota
	blockUser
)

// orderedTopics preserves a topic rule's first declaration position while
// letting a later "topic <same pattern> <new rights>" line overwrite its
// value in place, matching Python dict insertion-order semantics (re-
// assigning an existing key does not move it).
type orderedTopics struct {
	order  []string
	rights map[string]string
}

func newOrderedTopics() *orderedTopics {
	return &orderedTopics{rights: make(map[string]string)}
}

func (t *orderedTopics) set(pattern, rights string) {
	if _, ok := t.rights[pattern]; !ok {
		t.order = append(t.order, pattern)
	}
	t.rights[pattern] = rights
}

func (t *orderedTopics) list() []TopicRule {
	out := make([]TopicRule, len(t.order))
	for i, p := range t.order {
		out[i] = TopicRule{Pattern: p, Rights: t.rights[p]}
	}
	return out
}

// block accumulates one "# General"/"# User" section's key-values while it
// is open.
type block struct {
	kind        blockKind
	requireAuth *bool
	topics      *orderedTopics
	username    string
	password    *string
}

func newBlock(kind blockKind) *block {
	return &block{kind: kind, topics: newOrderedTopics()}
}

// Load reads and parses a policy file from path.
func Load(path string, log logger.Logger) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	return Parse(f, log)
}

// Parse parses the policy file format from r. Split out from Load so tests
// and the config fuzz target can feed an in-memory reader directly.
func Parse(r io.Reader, log logger.Logger) (*Config, error) {
	cfg := &Config{}
	globalTopics := newOrderedTopics()

	var (
		state    int // 0 = between blocks, 1 = inside a block
		skipping bool
		cur      *block
	)

	finalize := func() {
		if cur == nil {
			return
		}
		switch cur.kind {
		case blockGeneral:
			if cur.requireAuth != nil {
				cfg.RequireAuth = *cur.requireAuth
			}
			for _, rule := range cur.topics.list() {
				globalTopics.set(rule.Pattern, rule.Rights)
			}
		case blockUser:
			cfg.Users = append(cfg.Users, User{
				Username: cur.username,
				Password: cur.password,
				Topics:   cur.topics.list(),
			})
		}
		cur = nil
		state = 0
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		left := strings.TrimLeft(line, " \t")
		right := strings.TrimRight(line, " \t\r")

		// Comment handling mirrors the reference parser's if/elif/elif
		// chain exactly: a line opening "/*" does not self-close even if
		// it also ends in "*/" on the same line (see DESIGN.md).
		if strings.HasPrefix(left, "//") {
			continue
		} else if strings.HasPrefix(left, "/*") {
			skipping = true
		} else if strings.HasSuffix(right, "*/") {
			skipping = false
		}
		if skipping {
			continue
		}

		if state == 0 {
			m := headerRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			kind := strings.ToLower(strings.TrimSpace(m[1]))
			switch kind {
			case "general":
				cur = newBlock(blockGeneral)
			case "user":
				cur = newBlock(blockUser)
			default:
				if log != nil {
					log.Warn("config: skipping unrecognized block", "kind", kind)
				}
				continue
			}
			state = 1
			continue
		}

		// state == 1: inside a block.
		if strings.TrimSpace(line) == "" {
			finalize()
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		key := strings.ToLower(fields[0])

		switch {
		case key == "topic" && len(fields) >= 3:
			cur.topics.set(fields[1], fields[2])
		case key == "username":
			cur.username = unquote(fields[1])
		case key == "password":
			if isNull(fields[1]) {
				cur.password = nil
			} else {
				s := unquote(fields[1])
				cur.password = &s
			}
		case key == "require_auth":
			b := parseBool(fields[1])
			cur.requireAuth = &b
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: scan: %w", err)
	}

	// The reference parser only commits a block on a trailing blank line;
	// a file ending mid-block without one would silently drop it. Finalize
	// here instead so well-formed files without a final newline still load
	// (an intentional strengthening — see DESIGN.md).
	finalize()

	cfg.Topics = globalTopics.list()
	return cfg, nil
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}

func isNull(s string) bool {
	return strings.EqualFold(s, "null")
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		return false
	}
	return b
}
