package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 15 * time.Second
	closeTimeout     = time.Second
)

// GorillaSocket 基于 gorilla/websocket 的 Socket 实现
type GorillaSocket struct {
	dialer *websocket.Dialer

	mu          sync.Mutex
	conn        *websocket.Conn
	address     string
	cancelDial  context.CancelFunc // 握手进行中时非空
	dialAborted bool

	state atomic.Int32
}

// NewGorillaSocket 创建一个未连接的 Socket，dialer 为 nil 时使用默认配置
func NewGorillaSocket(dialer *websocket.Dialer) *GorillaSocket {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}
	return &GorillaSocket{dialer: dialer}
}

// Connect 建立 WebSocket 连接。握手期间不持有锁，并发的 Close 会中止握手。
func (s *GorillaSocket) Connect(ctx context.Context, address string) error {
	u, err := url.Parse(address)
	if err != nil {
		return &ConnectionError{Op: "dial", Address: address, Err: fmt.Errorf("invalid url: %w", err)}
	}
	// 交易所有时返回 http(s) 地址
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	s.mu.Lock()
	if s.conn != nil || s.cancelDial != nil {
		s.mu.Unlock()
		return &ConnectionError{Op: "dial", Address: address, Err: ErrAlreadyConnected}
	}
	dialCtx, cancel := context.WithCancel(ctx)
	s.cancelDial = cancel
	s.dialAborted = false
	s.mu.Unlock()

	conn, _, err := s.dialer.DialContext(dialCtx, u.String(), nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	aborted := s.dialAborted
	s.cancelDial = nil
	cancel()

	if aborted {
		if conn != nil {
			_ = conn.Close()
		}
		return &ConnectionError{Op: "dial", Address: address, Err: ErrSocketClosed}
	}
	if err != nil {
		return &ConnectionError{Op: "dial", Address: address, Err: err}
	}

	s.conn = conn
	s.address = address
	s.state.Store(int32(StateOpen))
	return nil
}

// Receive 读取下一帧。超过 buf 的部分会被丢弃，此时 final 为 false。
// 对端的关闭帧以 MessageClose 返回，不算错误。
func (s *GorillaSocket) Receive(ctx context.Context, buf []byte) (int, MessageKind, bool, error) {
	s.mu.Lock()
	conn, address := s.conn, s.address
	s.mu.Unlock()

	if conn == nil || s.State() != StateOpen {
		return 0, MessageClose, true, &ConnectionError{Op: "read", Address: address, Err: ErrNotConnected}
	}

	// gorilla 的读不支持 ctx，取消时用读超时打断阻塞
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	msgType, r, err := conn.NextReader()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
			return 0, MessageClose, true, nil
		}
		return 0, MessageClose, true, s.readFailed(ctx, conn, address, err)
	}

	kind := MessageText
	if msgType == websocket.BinaryMessage {
		kind = MessageBinary
	}

	n, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
		rest, err := io.Copy(io.Discard, r)
		if err != nil {
			return n, kind, false, s.readFailed(ctx, conn, address, err)
		}
		return n, kind, rest == 0, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return n, kind, true, nil
	default:
		return n, kind, false, s.readFailed(ctx, conn, address, err)
	}
}

// readFailed gorilla 的读错误不可恢复，连接直接作废
func (s *GorillaSocket) readFailed(ctx context.Context, conn *websocket.Conn, address string, err error) error {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()

	s.state.Store(int32(StateClosed))
	_ = conn.Close()
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return &ConnectionError{Op: "read", Address: address, Err: err}
}

// Close 发送关闭帧并关闭底层连接，可重复调用
func (s *GorillaSocket) Close(ctx context.Context, code int, reason string) error {
	s.mu.Lock()
	conn, address := s.conn, s.address
	s.conn = nil
	if s.cancelDial != nil {
		s.dialAborted = true
		s.cancelDial()
	}
	s.mu.Unlock()

	s.state.Store(int32(StateClosed))
	if conn == nil {
		return nil
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(closeTimeout)
	}

	var closeErr error
	err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	// 收到对端关闭帧时 gorilla 已经回过关闭帧
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		closeErr = &ConnectionError{Op: "close", Address: address, Err: err}
	}
	if err := conn.Close(); err != nil && closeErr == nil {
		closeErr = &ConnectionError{Op: "close", Address: address, Err: err}
	}
	return closeErr
}

// State 当前连接状态
func (s *GorillaSocket) State() State {
	return State(s.state.Load())
}
