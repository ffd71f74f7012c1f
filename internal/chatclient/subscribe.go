package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"ripple/internal/chat"
	"ripple/internal/push"
)

const (
	subscribeHelloTimeout = 10 * time.Second
	subscribeWriteTimeout = 5 * time.Second
)

// Subscription is a scoped handle on the push channel. It is acquired
// explicitly and released with Close, so handlers are neither
// duplicated nor leaked across re-subscribes.
type Subscription struct {
	log    *slog.Logger
	conn   *websocket.Conn
	origin string

	onMessage func(chat.Message)
	onClosed  func(error)

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// SubscriptionOption configures a Subscription.
type SubscriptionOption func(*Subscription)

// WithSubscriptionLogger overrides the logger.
func WithSubscriptionLogger(log *slog.Logger) SubscriptionOption {
	return func(s *Subscription) {
		if log != nil {
			s.log = log
		}
	}
}

// WithDialOrigin sets the Origin header sent on the handshake.
// Browsers set this automatically; Go clients talking to a gateway
// with a required-origin policy must supply one explicitly.
func WithDialOrigin(origin string) SubscriptionOption {
	return func(s *Subscription) {
		s.origin = origin
	}
}

// WithOnClosed registers a callback invoked once when the read loop
// exits; its argument is nil on clean close.
func WithOnClosed(fn func(error)) SubscriptionOption {
	return func(s *Subscription) {
		if fn != nil {
			s.onClosed = fn
		}
	}
}

// Subscribe dials the push endpoint, authenticates with the access
// token, and invokes onMessage for every delivered message until the
// subscription is closed or the connection drops.
func Subscribe(ctx context.Context, wsURL, accessToken string, onMessage func(chat.Message), opts ...SubscriptionOption) (*Subscription, error) {
	if onMessage == nil {
		return nil, errors.New("chatclient: nil message handler")
	}

	s := &Subscription{
		log:       slog.Default(),
		onMessage: onMessage,
		onClosed:  func(error) {},
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	dialOpts := &websocket.DialOptions{
		Subprotocols: []string{push.Subprotocol},
	}
	if s.origin != "" {
		dialOpts.HTTPHeader = http.Header{"Origin": []string{s.origin}}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, dialOpts)
	if err != nil {
		return nil, fmt.Errorf("chatclient: dial push channel: %w", err)
	}
	s.conn = conn

	if err := s.hello(ctx, accessToken); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "hello failed")
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	go s.readLoop(loopCtx)

	return s, nil
}

// Done is closed when the read loop has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close releases the subscription (idempotent).
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.conn.Close(websocket.StatusNormalClosure, "bye")
	})
}

func (s *Subscription) hello(ctx context.Context, accessToken string) error {
	helloCtx, cancel := context.WithTimeout(ctx, subscribeHelloTimeout)
	defer cancel()

	payload, err := json.Marshal(push.HelloPayload{Token: accessToken})
	if err != nil {
		return err
	}
	env := push.NewEnvelope(push.TypeHello, payload, time.Now().UTC())

	if err := s.write(helloCtx, env); err != nil {
		return fmt.Errorf("chatclient: send hello: %w", err)
	}

	ack, err := s.read(helloCtx)
	if err != nil {
		return fmt.Errorf("chatclient: await hello.ack: %w", err)
	}
	if ack.Type == push.TypeError {
		var p push.ErrorPayload
		_ = json.Unmarshal(ack.Payload, &p)
		return fmt.Errorf("chatclient: hello rejected: %s: %s", p.Code, p.Message)
	}
	if ack.Type != push.TypeHelloAck {
		return fmt.Errorf("chatclient: unexpected handshake reply: %s", ack.Type)
	}
	return nil
}

func (s *Subscription) readLoop(ctx context.Context) {
	defer close(s.done)

	for {
		env, err := s.read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				errors.Is(err, context.Canceled) {
				s.onClosed(nil)
				return
			}
			s.log.Info("chatclient.subscription.read.fail", "err", err)
			s.onClosed(err)
			return
		}

		switch env.Type {
		case push.TypeMessageNew:
			var p push.MessageNewPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				s.log.Info("chatclient.subscription.bad_payload", "err", err)
				continue
			}
			s.onMessage(p.Message)

		case push.TypeError:
			var p push.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			s.log.Info("chatclient.subscription.server_error", "code", p.Code, "msg", p.Message)

		default:
			// Heartbeats are handled by the websocket layer; anything
			// else is ignored.
		}
	}
}

func (s *Subscription) read(ctx context.Context) (push.Envelope, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return push.Envelope{}, err
	}
	var env push.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return push.Envelope{}, err
	}
	return env, nil
}

func (s *Subscription) write(ctx context.Context, env push.Envelope) error {
	writeCtx, cancel := context.WithTimeout(ctx, subscribeWriteTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.conn.Write(writeCtx, websocket.MessageText, b)
}
