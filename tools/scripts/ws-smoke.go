// Package main provides a CI-friendly end-to-end smoke test for a
// running Ripple server.
//
// It validates:
//   - signup + login token issuance over the HTTP API
//   - WebSocket handshake, subprotocol selection, and hello/ack
//   - send -> receiver-only push fanout (sender stays silent)
//   - conversation history via the paginated messages endpoints
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"ripple/internal/chat"
	"ripple/internal/chatclient"
)

func main() {
	var (
		apiURL  = flag.String("api", "http://127.0.0.1:8080", "HTTP API base URL")
		wsURL   = flag.String("ws", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		text    = flag.String("text", "hello ripple 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -ws: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	suffix := time.Now().UnixNano()

	alice, aliceUser := mustSignup(root, *apiURL, "Smoke Alice", fmt.Sprintf("smoke-alice-%d@example.com", suffix), *timeout)
	bob, bobUser := mustSignup(root, *apiURL, "Smoke Bob", fmt.Sprintf("smoke-bob-%d@example.com", suffix), *timeout)

	if *verbose {
		fmt.Printf("signed up: alice=%s bob=%s\n", aliceUser.ID, bobUser.ID)
	}

	bobInbox := make(chan chat.Message, 16)
	bobSub := mustSubscribe(root, *wsURL, *origin, bob, bobInbox, *timeout)
	defer bobSub.Close()

	aliceInbox := make(chan chat.Message, 16)
	aliceSub := mustSubscribe(root, *wsURL, *origin, alice, aliceInbox, *timeout)
	defer aliceSub.Close()

	sendCtx, cancel := context.WithTimeout(root, *timeout)
	sent, err := alice.Send(sendCtx, bobUser.ID, *text, "")
	cancel()
	if err != nil {
		fatalf("send: %v", err)
	}

	got := mustReceive(bobInbox, sent.ID, *timeout)
	if got.SenderID != aliceUser.ID {
		fatalf("push sender mismatch: got=%q want=%q", got.SenderID, aliceUser.ID)
	}
	if got.Text != *text {
		fatalf("push text mismatch: got=%q want=%q", got.Text, *text)
	}

	// The sender must not receive their own message on the push channel.
	mustStaySilent(aliceInbox, 1200*time.Millisecond)

	histCtx, cancel := context.WithTimeout(root, *timeout)
	page, err := bob.FetchPage(histCtx, aliceUser.ID, 1, 50)
	cancel()
	if err != nil {
		fatalf("fetch page: %v", err)
	}
	if !pageContains(page, sent.ID) {
		fatalf("history missing message %s", sent.ID)
	}
	if page.Meta.TotalMessages < 1 {
		fatalf("history meta totalMessages=%d, want >= 1", page.Meta.TotalMessages)
	}

	latestCtx, cancel := context.WithTimeout(root, *timeout)
	latest, err := bob.Latest(latestCtx, aliceUser.ID, 20)
	cancel()
	if err != nil {
		fatalf("fetch latest: %v", err)
	}
	if len(latest) == 0 || latest[len(latest)-1].ID != sent.ID {
		fatalf("latest tail mismatch: got %d messages", len(latest))
	}

	fmt.Printf("OK: alice=%s bob=%s msg_id=%s total=%d\n", aliceUser.ID, bobUser.ID, sent.ID, page.Meta.TotalMessages)
}

func mustSignup(parent context.Context, apiURL, fullName, email string, stepTimeout time.Duration) (*chatclient.Client, chatclient.User) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	c := chatclient.NewClient(apiURL)
	u, err := c.Signup(ctx, email, fullName, "smoke-test-password-1", false)
	if err != nil {
		fatalf("signup %s: %v", email, err)
	}
	return c, u
}

func mustSubscribe(parent context.Context, wsURL, origin string, c *chatclient.Client, inbox chan chat.Message, stepTimeout time.Duration) *chatclient.Subscription {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	opts := []chatclient.SubscriptionOption{}
	if strings.TrimSpace(origin) != "" {
		opts = append(opts, chatclient.WithDialOrigin(origin))
	}

	sub, err := chatclient.Subscribe(ctx, wsURL, c.AccessToken(), func(m chat.Message) {
		select {
		case inbox <- m:
		default:
		}
	}, opts...)
	if err != nil {
		fatalf("subscribe: %v", err)
	}
	return sub
}

func mustReceive(inbox <-chan chat.Message, wantID string, wait time.Duration) chat.Message {
	deadline := time.After(wait)
	for {
		select {
		case <-deadline:
			fatalf("timeout waiting for push of message %s", wantID)
		case m := <-inbox:
			if m.ID == wantID {
				return m
			}
		}
	}
}

func mustStaySilent(inbox <-chan chat.Message, wait time.Duration) {
	select {
	case m := <-inbox:
		fatalf("unexpected push delivery to sender: msg_id=%s", m.ID)
	case <-time.After(wait):
	}
}

func pageContains(page chat.Page, id string) bool {
	for _, m := range page.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
