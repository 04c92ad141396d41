package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ReceiveBufferSize 每次读取使用的缓冲区大小。
// 超过该大小的单条消息会被截断，不做跨帧重组。
const ReceiveBufferSize = 32 * 1024

// PayloadHandler 处理一帧数据。返回错误会终止读循环。
// 在读循环的 goroutine 中同步调用，不能长时间阻塞。
type PayloadHandler func(payload []byte) error

// Listener 持有一个已连接的 Socket 和它唯一的读循环
type Listener struct {
	socket  Socket
	address string
	handler PayloadHandler
	logger  *zap.Logger

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

// Listen 连接 address 并在后台启动读循环，直到对端关闭、出错或调用 Stop
func Listen(ctx context.Context, socket Socket, address string, handler PayloadHandler, logger *zap.Logger) (*Listener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := socket.Connect(ctx, address); err != nil {
		logger.Error("Failed to connect to WS", zap.String("URL", address), zap.Error(err))
		return nil, err
	}
	logger.Info("Connected to WS", zap.String("URL", address))

	// 读循环的生命周期不跟随调用方的 ctx (例如订阅请求的超时)
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &Listener{
		socket:  socket,
		address: address,
		handler: handler,
		logger:  logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go l.readLoop(loopCtx)
	return l, nil
}

// readLoop 持续读取直到连接不再是 Open
func (l *Listener) readLoop(ctx context.Context) {
	defer close(l.done)
	defer l.cancel()

	for l.socket.State() == StateOpen {
		if err := l.readNext(ctx); err != nil {
			if ctx.Err() != nil {
				// Stop 引起的读错误
				break
			}
			l.err = err
			l.logger.Error("WS read loop terminated", zap.String("URL", l.address), zap.Error(err))
			break
		}
	}

	l.logger.Debug("Stopped reading messages", zap.String("URL", l.address), zap.Stringer("State", l.socket.State()))
}

// readNext 读取并分发一帧
func (l *Listener) readNext(ctx context.Context) error {
	buf := make([]byte, ReceiveBufferSize)
	n, kind, final, err := l.socket.Receive(ctx, buf)
	if err != nil {
		return err
	}

	if kind == MessageClose {
		l.logger.Info("WS closed by peer", zap.String("URL", l.address))
		return l.socket.Close(ctx, CloseNormalClosure, "")
	}

	if !final {
		l.logger.Warn("WS message exceeds receive buffer, payload truncated",
			zap.String("URL", l.address), zap.Int("BufferSize", ReceiveBufferSize))
	}

	return l.handler(buf[:n])
}

// Stop 停止读循环并关闭连接，不等待退出
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.cancel()
		if err := l.socket.Close(context.Background(), CloseNormalClosure, ""); err != nil {
			l.logger.Debug("WS close on stop", zap.String("URL", l.address), zap.Error(err))
		}
	})
}

// Done 读循环退出后关闭
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Wait 等待读循环退出，返回导致退出的错误 (对端正常关闭或 Stop 时为 nil)
func (l *Listener) Wait() error {
	<-l.done
	return l.err
}

// Address 连接地址
func (l *Listener) Address() string {
	return l.address
}
