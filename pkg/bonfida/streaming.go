package bonfida

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"bonfida-client/pkg/ws"
)

var ErrNilCallback = errors.New("nil trade callback")

// clientIDMarker 订阅地址中 client id 之前的路径
const clientIDMarker = "/ws/"

// SocketFactory 每个订阅使用独立的连接
type SocketFactory func() ws.Socket

// IStreamingClient 成交推送
type IStreamingClient interface {
	// SubscribeTrades 订阅成交推送，阻塞到连接建立。
	// 交易所没有返回地址时返回 (nil, nil)。
	SubscribeTrades(ctx context.Context, callback func(Trade)) (*TradeSubscription, error)

	// SubscribeTradesAsync 异步版本，结果从通道返回
	SubscribeTradesAsync(ctx context.Context, callback func(Trade)) <-chan SubscribeResult
}

// SubscribeResult SubscribeTradesAsync 的结果
type SubscribeResult struct {
	Subscription *TradeSubscription
	Err          error
}

// StreamingClient 通过 REST 握手拿到专属 WS 地址，再在该地址上读取成交
type StreamingClient struct {
	client    *Client
	newSocket SocketFactory
	logger    *zap.Logger
}

var _ IStreamingClient = (*StreamingClient)(nil)

// NewStreamingClient baseURL 为空时使用 DefaultStreamURL，newSocket 为空时使用 gorilla 实现
func NewStreamingClient(baseURL string, httpClient *http.Client, newSocket SocketFactory, logger *zap.Logger) *StreamingClient {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	if newSocket == nil {
		newSocket = func() ws.Socket { return ws.NewGorillaSocket(nil) }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamingClient{
		client:    NewClient(baseURL, httpClient, logger),
		newSocket: newSocket,
		logger:    logger,
	}
}

func (c *StreamingClient) SubscribeTrades(ctx context.Context, callback func(Trade)) (*TradeSubscription, error) {
	res := <-c.SubscribeTradesAsync(ctx, callback)
	return res.Subscription, res.Err
}

func (c *StreamingClient) SubscribeTradesAsync(ctx context.Context, callback func(Trade)) <-chan SubscribeResult {
	out := make(chan SubscribeResult, 1)
	go func() {
		defer close(out)
		sub, err := c.subscribeTrades(ctx, callback)
		out <- SubscribeResult{Subscription: sub, Err: err}
	}()
	return out
}

func (c *StreamingClient) subscribeTrades(ctx context.Context, callback func(Trade)) (*TradeSubscription, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}

	subscription, err := c.client.Subscribe(ctx, TradesChannel)
	if err != nil {
		return nil, fmt.Errorf("subscribe trades: %w", err)
	}
	if strings.TrimSpace(subscription.URL) == "" {
		c.logger.Warn("Subscribe returned no stream url, nothing to connect to",
			zap.Int("Status", subscription.StatusCode))
		return nil, nil
	}

	clientID := ClientIDFromURL(subscription.URL)
	s := &TradeSubscription{
		clientID: clientID,
		url:      subscription.URL,
		callback: callback,
		client:   c.client,
		logger:   c.logger.With(zap.String("ClientID", clientID)),
	}
	s.active = true

	listener, err := ws.Listen(ctx, c.newSocket(), subscription.URL, s.handlePayload, s.logger)
	if err != nil {
		return nil, fmt.Errorf("connect trade stream: %w", err)
	}
	s.listener = listener

	s.logger.Info("Subscribed to trades", zap.String("URL", subscription.URL))
	return s, nil
}

// ClientIDFromURL 订阅地址最后一个 "/ws/" 之后的部分；没有该标记时返回整个地址
func ClientIDFromURL(url string) string {
	idx := strings.LastIndex(url, clientIDMarker)
	if idx < 0 {
		return url
	}
	return url[idx+len(clientIDMarker):]
}

// TradeSubscription 一次成交订阅，拥有自己的连接和读循环
type TradeSubscription struct {
	clientID string
	url      string
	callback func(Trade)
	client   *Client
	listener *ws.Listener
	logger   *zap.Logger

	// mu 保护 active，并在回调期间持有，
	// 保证 Unsubscribe 返回后不会再有回调 (回调中只能用 UnsubscribeAsync)
	mu     sync.Mutex
	active bool
}

func (s *TradeSubscription) ClientID() string {
	return s.clientID
}

func (s *TradeSubscription) URL() string {
	return s.url
}

// handlePayload 解码一条成交并同步回调，解码失败会终止读循环
func (s *TradeSubscription) handlePayload(payload []byte) error {
	if ce := s.logger.Check(zap.DebugLevel, "Received"); ce != nil {
		ce.Write(zap.ByteString("Payload", payload))
	}

	var trade Trade
	if err := json.Unmarshal(payload, &trade); err != nil {
		return fmt.Errorf("decode trade: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.callback(trade)
	}
	return nil
}

// Unsubscribe 退订，阻塞到请求完成。不关闭连接，由服务端关闭。
// 返回后不会再有回调。不能在回调中调用，否则会死锁。
func (s *TradeSubscription) Unsubscribe(ctx context.Context) error {
	return <-s.UnsubscribeAsync(ctx)
}

func (s *TradeSubscription) UnsubscribeAsync(ctx context.Context) <-chan error {
	out := make(chan error, 1)
	go func() {
		defer close(out)
		out <- s.unsubscribe(ctx)
	}()
	return out
}

func (s *TradeSubscription) setActive(active bool) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
}

// unsubscribe 先停止回调 (等待正在执行的回调结束) 再发送退订请求，失败时恢复回调
func (s *TradeSubscription) unsubscribe(ctx context.Context) error {
	s.setActive(false)
	if err := s.client.Unsubscribe(ctx, s.clientID); err != nil {
		s.setActive(true)
		return fmt.Errorf("unsubscribe trades: %w", err)
	}
	s.logger.Info("Unsubscribed from trades")
	return nil
}

// Close 停止读循环并关闭连接，等待读循环退出
func (s *TradeSubscription) Close() error {
	s.listener.Stop()
	return s.listener.Wait()
}

// Done 读循环退出后关闭
func (s *TradeSubscription) Done() <-chan struct{} {
	return s.listener.Done()
}

// Wait 等待读循环退出，返回导致退出的错误
func (s *TradeSubscription) Wait() error {
	return s.listener.Wait()
}
