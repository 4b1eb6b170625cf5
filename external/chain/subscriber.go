package chain

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/degenduel/duel-settlement/entities"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ErrMalformedMessage is returned by Subscription.Next for frames that are not valid
// subscription notifications.
var ErrMalformedMessage = errors.New("malformed subscription message")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcMessage struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Params *struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params,omitempty"`
}

// Subscriber opens log subscriptions over a websocket endpoint.
type Subscriber struct {
	url     string
	address common.Address
	timeout time.Duration
}

func NewSubscriber(url, contractAddress string, connectTimeout time.Duration) *Subscriber {
	return &Subscriber{
		url:     url,
		address: common.HexToAddress(contractAddress),
		timeout: connectTimeout,
	}
}

// Dial connects and subscribes. Connecting and confirming the subscription must both
// finish within the connect timeout.
func (s *Subscriber) Dial(ctx context.Context) (*Subscription, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: s.timeout}
	conn, _, err := dialer.DialContext(dialCtx, s.url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to [%s]", s.url)
	}

	deadline, _ := dialCtx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params:  []any{"logs", logFilter(s.address)},
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "sending subscription request")
	}

	var reply rpcMessage
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "reading subscription reply")
	}
	if reply.Error != nil {
		conn.Close()
		return nil, errors.Errorf("subscription rejected: %s (%d)", reply.Error.Message, reply.Error.Code)
	}
	var id string
	if err := json.Unmarshal(reply.Result, &id); err != nil || id == "" {
		conn.Close()
		return nil, errors.New("subscription reply without id")
	}

	_ = conn.SetWriteDeadline(time.Time{})
	_ = conn.SetReadDeadline(time.Time{})
	return &Subscription{id: id, conn: conn}, nil
}

// Subscription is an open log subscription. Close releases the connection exactly once.
type Subscription struct {
	id        string
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (s *Subscription) ID() string {
	return s.id
}

// Next blocks until the next duel event. A normal close by the server yields io.EOF.
func (s *Subscription) Next() (entities.DuelEvent, error) {
	l, err := s.NextLog()
	if err != nil {
		return entities.DuelEvent{}, err
	}
	event, err := DecodeLog(l, time.Now())
	if err != nil {
		return entities.DuelEvent{}, errors.Wrapf(ErrMalformedMessage, "%v", err)
	}
	return event, nil
}

// NextLog blocks until the next log notification. Frames that are not JSON or not a log
// yield ErrMalformedMessage, other errors mean the connection is gone.
func (s *Subscription) NextLog() (types.Log, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return types.Log{}, io.EOF
			}
			return types.Log{}, errors.Wrap(err, "reading subscription")
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return types.Log{}, errors.Wrapf(ErrMalformedMessage, "%v", err)
		}
		if msg.Method != "eth_subscription" || msg.Params == nil {
			continue
		}

		var l types.Log
		if err := json.Unmarshal(msg.Params.Result, &l); err != nil {
			return types.Log{}, errors.Wrapf(ErrMalformedMessage, "decoding log: %v", err)
		}
		return l, nil
	}
}

func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
