package bonfida

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	DefaultRESTURL   = "https://serum-api.bonfida.com"
	DefaultStreamURL = "https://serum-ws.bonfida.com"

	// TradesChannel 成交推送频道
	TradesChannel = "DEX"

	// 交易所按原样比对请求体，必须保留冒号后的空格
	subscriptionRequest = `{"channel": %s}`
)

// IClient Bonfida REST 行情接口
type IClient interface {
	// GetAllPairs 所有交易对名称
	GetAllPairs(ctx context.Context) (*RequestResult[[]string], error)

	// GetRecentTradesByMarketName 按交易对名称查询最近成交
	GetRecentTradesByMarketName(ctx context.Context, marketName string) (*RequestResult[[]Trade], error)

	// GetRecentTradesByMarketAddress 按市场地址查询最近成交
	GetRecentTradesByMarketAddress(ctx context.Context, marketAddress string) (*RequestResult[[]Trade], error)

	// GetAllRecentTrades 全市场最近成交
	GetAllRecentTrades(ctx context.Context) (*RequestResult[[]Trade], error)

	// GetVolume 交易对的成交量
	GetVolume(ctx context.Context, marketName string) (*RequestResult[[]VolumeInfo], error)

	// GetOrderBook 交易对的订单簿
	GetOrderBook(ctx context.Context, marketName string) (*RequestResult[OrderBook], error)
}

// Client REST 客户端，同时负责 WS 订阅/退订的握手请求
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ IClient = (*Client)(nil)

// NewClient baseURL 为空时使用 DefaultRESTURL
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultRESTURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// BaseURL 请求根地址
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + "/" + path
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	url := c.endpoint(path)
	c.logger.Info("Sending request", zap.String("Method", http.MethodGet), zap.String("URL", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create GET %s request: %w", path, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	url := c.endpoint(path)
	c.logger.Info("Sending request",
		zap.String("Method", http.MethodPost), zap.String("URL", url), zap.ByteString("Data", body))

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create POST %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	return resp, nil
}

func isSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}

func reasonPhrase(resp *http.Response) string {
	return strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" ")
}

// handleResponse 解析 {"success": ..., "data": ...} 响应包。
// 非 2xx 不算错误，返回不带数据的结果。
func handleResponse[T any](c *Client, resp *http.Response) (*RequestResult[T], error) {
	defer resp.Body.Close()

	result := &RequestResult[T]{
		HTTPStatusCode:           resp.StatusCode,
		Reason:                   reasonPhrase(resp),
		WasHTTPRequestSuccessful: isSuccessStatus(resp.StatusCode),
	}
	if !result.WasHTTPRequestSuccessful {
		c.logger.Warn("Request failed", zap.Int("Status", resp.StatusCode), zap.String("Reason", result.Reason))
		return result, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("Result", zap.ByteString("Body", data))

	var obj *requestResponse[T]
	if err := json.Unmarshal(data, &obj); err != nil {
		return result, fmt.Errorf("decode response: %w", err)
	}
	if obj != nil && obj.Data != nil {
		result.Data = *obj.Data
		result.WasRequestSuccessfullyHandled = true
	}
	return result, nil
}

func processRequest[T any](ctx context.Context, c *Client, path string) (*RequestResult[T], error) {
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	return handleResponse[T](c, resp)
}

func (c *Client) GetAllPairs(ctx context.Context) (*RequestResult[[]string], error) {
	return processRequest[[]string](ctx, c, "pairs")
}

func (c *Client) GetRecentTradesByMarketName(ctx context.Context, marketName string) (*RequestResult[[]Trade], error) {
	return processRequest[[]Trade](ctx, c, "trades/"+marketName)
}

func (c *Client) GetRecentTradesByMarketAddress(ctx context.Context, marketAddress string) (*RequestResult[[]Trade], error) {
	return processRequest[[]Trade](ctx, c, "trades/address/"+marketAddress)
}

func (c *Client) GetAllRecentTrades(ctx context.Context) (*RequestResult[[]Trade], error) {
	return processRequest[[]Trade](ctx, c, "trades/all/recent")
}

func (c *Client) GetVolume(ctx context.Context, marketName string) (*RequestResult[[]VolumeInfo], error) {
	return processRequest[[]VolumeInfo](ctx, c, "volumes/"+marketName)
}

func (c *Client) GetOrderBook(ctx context.Context, marketName string) (*RequestResult[OrderBook], error) {
	return processRequest[OrderBook](ctx, c, "orderbooks/"+marketName)
}

// Subscribe 申请 channel 的专属 WS 地址。
// 非 2xx 时返回空 Subscription (只带状态码)，不返回错误。
func (c *Client) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	name, err := json.Marshal(channel)
	if err != nil {
		return Subscription{}, fmt.Errorf("encode channel: %w", err)
	}

	resp, err := c.post(ctx, "subscribe", []byte(fmt.Sprintf(subscriptionRequest, name)))
	if err != nil {
		return Subscription{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Subscription{}, fmt.Errorf("read subscribe response: %w", err)
	}
	c.logger.Info("Result", zap.ByteString("Body", data))

	sub := Subscription{StatusCode: resp.StatusCode}
	if !isSuccessStatus(resp.StatusCode) {
		c.logger.Warn("Subscribe rejected", zap.String("Channel", channel), zap.Int("Status", resp.StatusCode))
		return sub, nil
	}
	if err := json.Unmarshal(data, &sub); err != nil {
		return sub, fmt.Errorf("decode subscription: %w", err)
	}
	return sub, nil
}

// Unsubscribe 退订，响应内容忽略
func (c *Client) Unsubscribe(ctx context.Context, clientID string) error {
	resp, err := c.post(ctx, "unsubscribe/"+clientID, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Debug("Failed to read unsubscribe response", zap.String("ClientID", clientID), zap.Error(err))
	}
	c.logger.Info("Result", zap.ByteString("Body", data))
	if !isSuccessStatus(resp.StatusCode) {
		c.logger.Warn("Unsubscribe rejected", zap.String("ClientID", clientID), zap.Int("Status", resp.StatusCode))
	}
	return nil
}
