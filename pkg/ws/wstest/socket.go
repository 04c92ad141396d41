// Package wstest 提供内存中的 ws.Socket 实现，用于在没有网络的情况下测试读循环。
package wstest

import (
	"context"
	"sync"
	"sync/atomic"

	"bonfida-client/pkg/ws"
)

// Frame 预先编排的一帧
type Frame struct {
	Data  []byte
	Kind  ws.MessageKind
	Final bool
}

// Text 完整的文本帧
func Text(payload string) Frame {
	return Frame{Data: []byte(payload), Kind: ws.MessageText, Final: true}
}

// CloseFrame 对端关闭帧
func CloseFrame() Frame {
	return Frame{Kind: ws.MessageClose, Final: true}
}

// Socket 按顺序返回预先放入的帧。帧用完后 Receive 会阻塞，直到有新帧、ctx 取消或 Close。
type Socket struct {
	frames chan Frame
	closed chan struct{}

	mu         sync.Mutex
	connectErr error
	addresses  []string
	closeCodes []int
	closeOnce  sync.Once

	state atomic.Int32
}

// NewSocket 创建 Socket 并放入初始帧
func NewSocket(frames ...Frame) *Socket {
	s := &Socket{
		frames: make(chan Frame, len(frames)+64),
		closed: make(chan struct{}),
	}
	for _, f := range frames {
		s.frames <- f
	}
	return s
}

// FailConnect 让后续 Connect 返回 err
func (s *Socket) FailConnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
}

// Push 追加一帧
func (s *Socket) Push(f Frame) {
	s.frames <- f
}

func (s *Socket) Connect(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addresses = append(s.addresses, address)
	if s.connectErr != nil {
		return &ws.ConnectionError{Op: "dial", Address: address, Err: s.connectErr}
	}
	if s.State() == ws.StateOpen {
		return &ws.ConnectionError{Op: "dial", Address: address, Err: ws.ErrAlreadyConnected}
	}
	s.state.Store(int32(ws.StateOpen))
	return nil
}

func (s *Socket) Receive(ctx context.Context, buf []byte) (int, ws.MessageKind, bool, error) {
	if s.State() != ws.StateOpen {
		return 0, ws.MessageClose, true, &ws.ConnectionError{Op: "read", Err: ws.ErrNotConnected}
	}

	select {
	case f := <-s.frames:
		n := copy(buf, f.Data)
		return n, f.Kind, f.Final && n == len(f.Data), nil
	case <-ctx.Done():
		return 0, ws.MessageClose, true, &ws.ConnectionError{Op: "read", Err: ctx.Err()}
	case <-s.closed:
		return 0, ws.MessageClose, true, &ws.ConnectionError{Op: "read", Err: ws.ErrNotConnected}
	}
}

func (s *Socket) Close(ctx context.Context, code int, reason string) error {
	s.mu.Lock()
	s.closeCodes = append(s.closeCodes, code)
	s.mu.Unlock()

	s.state.Store(int32(ws.StateClosed))
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *Socket) State() ws.State {
	return ws.State(s.state.Load())
}

// Addresses 所有 Connect 调用的地址
func (s *Socket) Addresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.addresses...)
}

// CloseCodes 所有 Close 调用的状态码
func (s *Socket) CloseCodes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.closeCodes...)
}
