// Command dragonfly-client is a minimal composition root over package
// client: connect, optionally subscribe to a pattern, optionally publish
// one message, and print every inbound PUBLISH until interrupted. It is
// deliberately thin — the simple_chat_room example applications referenced
// by spec.md §1 remain out of scope; this only demonstrates the client
// library's wiring.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	dfclient "github.com/LordBaryhobal/dragonfly/client"
	"github.com/LordBaryhobal/dragonfly/pkg/logger"
	"github.com/LordBaryhobal/dragonfly/protocol"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", "localhost:1869", "broker address")
	username := flag.String("username", "", "CONNECT username (empty omits the field)")
	password := flag.String("password", "", "CONNECT password (empty omits the field)")
	subscribe := flag.String("subscribe", "", "topic pattern to subscribe to on connect (empty skips subscribing)")
	publishTopic := flag.String("publish-topic", "", "topic to publish a single message to, then exit")
	publishBody := flag.String("publish-body", "", "body of the single published message")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := logger.NewSlogLogger(level, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	done := make(chan struct{})
	hooks := dfclient.Hooks{
		Connected: func(c *dfclient.Client, code protocol.AckCode) {
			if code.Failure() {
				fmt.Fprintf(out, "connect refused: code=0x%02x\n", byte(code))
				out.Flush()
				close(done)
				return
			}
			fmt.Fprintln(out, "connected")
			if *subscribe != "" {
				if err := c.Subscribe(*subscribe); err != nil {
					log.Error("dragonfly-client: subscribe failed", "error", err)
				}
			}
			if *publishTopic != "" {
				if err := c.Publish(*publishTopic, *publishBody); err != nil {
					log.Error("dragonfly-client: publish failed", "error", err)
				}
			}
			out.Flush()
		},
		Subscribed: func(c *dfclient.Client, pattern string, code protocol.AckCode) {
			fmt.Fprintf(out, "subscribed: pattern=%q code=0x%02x\n", pattern, byte(code))
			out.Flush()
		},
		Published: func(c *dfclient.Client, code protocol.AckCode) {
			fmt.Fprintf(out, "published: code=0x%02x\n", byte(code))
			out.Flush()
			if *subscribe == "" {
				close(done)
			}
		},
		Message: func(c *dfclient.Client, topic, body string) {
			fmt.Fprintf(out, "message: topic=%q body=%q\n", topic, body)
			out.Flush()
		},
		Disconnected: func(c *dfclient.Client, code protocol.AckCode) {
			fmt.Fprintln(out, "disconnected")
			out.Flush()
		},
	}

	c := dfclient.New(dfclient.Options{
		Address:  *addr,
		Username: nonEmpty(*username),
		Password: nonEmpty(*password),
		Logger:   log,
		Hooks:    hooks,
	})

	if err := c.Connect(ctx); err != nil {
		log.Error("dragonfly-client: connect failed", "error", err)
		return 1
	}
	defer c.Close()

	select {
	case <-done:
	case <-ctx.Done():
		_ = c.Disconnect()
	case <-c.Done():
	}
	return 0
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
