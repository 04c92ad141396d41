package ws

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// State 连接状态，由 Socket 自己维护，读循环只读取
type State int32

const (
	StateUnopened State = iota // 尚未连接
	StateOpen                  // 已连接，可读
	StateClosed                // 已关闭 (主动关闭、对端关闭或读错误)
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MessageKind 帧类型
type MessageKind int

const (
	MessageText MessageKind = iota
	MessageBinary
	MessageClose
)

func (k MessageKind) String() string {
	switch k {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	case MessageClose:
		return "close"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// CloseNormalClosure 正常关闭的状态码 (RFC 6455, 1000)
const CloseNormalClosure = websocket.CloseNormalClosure

var (
	ErrAlreadyConnected = errors.New("socket already connected")
	ErrNotConnected     = errors.New("socket not connected")
	ErrSocketClosed     = errors.New("socket closed during connect")
)

// ConnectionError 传输层错误 (连接失败、读失败)
type ConnectionError struct {
	Op      string // "dial" / "read" / "close"
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ws %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Socket 是双工 WebSocket 连接的抽象。只有它接触原始连接，
// 读循环通过它来收帧，测试里可以替换成 wstest.Socket。
type Socket interface {
	// Connect 连接到 address，失败返回 *ConnectionError
	Connect(ctx context.Context, address string) error

	// Receive 读取一帧到 buf。
	// 返回写入的字节数、帧类型，以及该帧是否完整 (final=false 表示消息超过 buf 被截断)。
	Receive(ctx context.Context, buf []byte) (n int, kind MessageKind, final bool, err error)

	// Close 发送关闭帧并释放连接
	Close(ctx context.Context, code int, reason string) error

	// State 当前连接状态
	State() State
}
