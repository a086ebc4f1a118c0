package client

import "github.com/LordBaryhobal/dragonfly/protocol"

// Hooks is the client-side callback surface spec.md §6 calls for: each
// hook receives the Client instance so a caller can close over nothing and
// still act (re-subscribe after reconnect, log, etc). Any hook left nil is
// simply not called.
type Hooks struct {
	Connected    func(c *Client, code protocol.AckCode)
	Disconnected func(c *Client, code protocol.AckCode)
	Subscribed   func(c *Client, pattern string, code protocol.AckCode)
	Unsubscribed func(c *Client, pattern string, code protocol.AckCode)
	Published    func(c *Client, code protocol.AckCode)
	Message      func(c *Client, topic, body string)
}

func (h Hooks) connected(c *Client, code protocol.AckCode) {
	if h.Connected != nil {
		h.Connected(c, code)
	}
}

func (h Hooks) disconnected(c *Client, code protocol.AckCode) {
	if h.Disconnected != nil {
		h.Disconnected(c, code)
	}
}

func (h Hooks) subscribed(c *Client, pattern string, code protocol.AckCode) {
	if h.Subscribed != nil {
		h.Subscribed(c, pattern, code)
	}
}

func (h Hooks) unsubscribed(c *Client, pattern string, code protocol.AckCode) {
	if h.Unsubscribed != nil {
		h.Unsubscribed(c, pattern, code)
	}
}

func (h Hooks) published(c *Client, code protocol.AckCode) {
	if h.Published != nil {
		h.Published(c, code)
	}
}

func (h Hooks) message(c *Client, topic, body string) {
	if h.Message != nil {
		h.Message(c, topic, body)
	}
}
