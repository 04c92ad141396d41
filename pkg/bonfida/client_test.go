package bonfida_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"bonfida-client/pkg/bonfida"
)

type capturedRequest struct {
	Method string
	URL    string
	Body   string
}

type mockResponse struct {
	status  int
	body    string
	err     error
	bodyErr error // 读完 body 后返回的错误
}

// mockTransport 按顺序返回预设响应，并记录收到的请求
type mockTransport struct {
	mu        sync.Mutex
	responses []mockResponse
	current   int
	requests  []capturedRequest
}

func newMockClient(responses ...mockResponse) (*http.Client, *mockTransport) {
	m := &mockTransport{responses: responses}
	return &http.Client{Transport: m}, m
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}
	m.requests = append(m.requests, capturedRequest{Method: req.Method, URL: req.URL.String(), Body: string(body)})

	if m.current >= len(m.responses) {
		return nil, fmt.Errorf("no more responses")
	}
	resp := m.responses[m.current]
	m.current++
	if resp.err != nil {
		return nil, resp.err
	}
	var respBody io.Reader = bytes.NewBufferString(resp.body)
	if resp.bodyErr != nil {
		respBody = io.MultiReader(respBody, iotest.ErrReader(resp.bodyErr))
	}
	return &http.Response{
		StatusCode: resp.status,
		Status:     fmt.Sprintf("%d %s", resp.status, http.StatusText(resp.status)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(respBody),
		Request:    req,
	}, nil
}

func (m *mockTransport) captured() []capturedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]capturedRequest(nil), m.requests...)
}

func ok(body string) mockResponse {
	return mockResponse{status: http.StatusOK, body: body}
}

func fixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func assertCanonicalTrade(t *testing.T, trade bonfida.Trade) {
	t.Helper()
	assert.Equal(t, "ETH/USDT", trade.Market)
	assert.True(t, decimal.RequireFromString("451.51").Equal(trade.Price), "price %s", trade.Price)
	assert.True(t, decimal.RequireFromString("0.5").Equal(trade.Size), "size %s", trade.Size)
	assert.Equal(t, "buy", trade.Side)
	assert.Equal(t, uint64(1604767562476), trade.Time)
	assert.Equal(t, "833220983065386731245551", trade.OrderID)
	assert.True(t, decimal.RequireFromString("0.225755").Equal(trade.FeeCost), "feeCost %s", trade.FeeCost)
	assert.Equal(t, "5abZGhrELnUnfM9ZUnvK6XJPoBU5eShZwfFPkdhAC7o", trade.MarketAddress)
}

func TestClient_GetAllPairs(t *testing.T) {
	httpClient, transport := newMockClient(ok(fixture(t, "pairs_response.json")))
	sut := bonfida.NewClient("", httpClient, zaptest.NewLogger(t))

	res, err := sut.GetAllPairs(context.Background())
	require.NoError(t, err)
	assert.True(t, res.WasSuccessful())
	assert.Len(t, res.Data, 8)
	assert.Equal(t, "ETH/USDT", res.Data[0])

	reqs := transport.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodGet, reqs[0].Method)
	assert.Equal(t, bonfida.DefaultRESTURL+"/pairs", reqs[0].URL)
}

func TestClient_RecentTrades(t *testing.T) {
	tests := []struct {
		name    string
		call    func(*bonfida.Client) (*bonfida.RequestResult[[]bonfida.Trade], error)
		wantURL string
	}{
		{
			name: "by market name",
			call: func(c *bonfida.Client) (*bonfida.RequestResult[[]bonfida.Trade], error) {
				return c.GetRecentTradesByMarketName(context.Background(), "ETHUSDT")
			},
			wantURL: bonfida.DefaultRESTURL + "/trades/ETHUSDT",
		},
		{
			name: "by market address",
			call: func(c *bonfida.Client) (*bonfida.RequestResult[[]bonfida.Trade], error) {
				return c.GetRecentTradesByMarketAddress(context.Background(), "7dLVkUfBVfCGkFhSXDCq1ukM9usathSgS716t643iFGF")
			},
			wantURL: bonfida.DefaultRESTURL + "/trades/address/7dLVkUfBVfCGkFhSXDCq1ukM9usathSgS716t643iFGF",
		},
		{
			name: "all recent",
			call: func(c *bonfida.Client) (*bonfida.RequestResult[[]bonfida.Trade], error) {
				return c.GetAllRecentTrades(context.Background())
			},
			wantURL: bonfida.DefaultRESTURL + "/trades/all/recent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpClient, transport := newMockClient(ok(fixture(t, "trades_response.json")))
			sut := bonfida.NewClient("", httpClient, zaptest.NewLogger(t))

			res, err := tt.call(sut)
			require.NoError(t, err)
			assert.True(t, res.WasSuccessful())
			require.Len(t, res.Data, 1)
			assertCanonicalTrade(t, res.Data[0])

			reqs := transport.captured()
			require.Len(t, reqs, 1)
			assert.Equal(t, http.MethodGet, reqs[0].Method)
			assert.Equal(t, tt.wantURL, reqs[0].URL)
		})
	}
}

func TestClient_GetVolume(t *testing.T) {
	httpClient, transport := newMockClient(ok(fixture(t, "volume_response.json")))
	sut := bonfida.NewClient("", httpClient, zaptest.NewLogger(t))

	res, err := sut.GetVolume(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.True(t, decimal.RequireFromString("65.235").Equal(res.Data[0].Volume))
	assert.True(t, decimal.RequireFromString("158881.9445").Equal(res.Data[0].VolumeUsd))
	assert.Equal(t, bonfida.DefaultRESTURL+"/volumes/ETHUSDT", transport.captured()[0].URL)
}

func TestClient_GetOrderBook(t *testing.T) {
	httpClient, transport := newMockClient(ok(fixture(t, "orderbook_response.json")))
	sut := bonfida.NewClient("https://example.test/", httpClient, zaptest.NewLogger(t))

	res, err := sut.GetOrderBook(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, res.WasSuccessful())

	book := res.Data
	assert.Equal(t, "ETH/USDT", book.Market)
	assert.Equal(t, "7dLVkUfBVfCGkFhSXDCq1ukM9usathSgS716t643iFGF", book.MarketAddress)
	require.Len(t, book.Asks, 2)
	require.Len(t, book.Bids, 3)
	assert.True(t, decimal.RequireFromString("2399.36").Equal(book.Asks[0].Price))
	assert.True(t, decimal.RequireFromString("61.998").Equal(book.Asks[0].Size))
	assert.True(t, decimal.RequireFromString("2397.41").Equal(book.Bids[0].Price))
	assert.True(t, decimal.RequireFromString("79.335").Equal(book.Bids[0].Size))
	assert.Equal(t, "https://example.test/orderbooks/ETHUSDT", transport.captured()[0].URL)
}

func TestClient_NonSuccessStatus(t *testing.T) {
	httpClient, _ := newMockClient(mockResponse{status: http.StatusNotFound, body: "not found"})
	sut := bonfida.NewClient("", httpClient, zaptest.NewLogger(t))

	res, err := sut.GetOrderBook(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.False(t, res.WasHTTPRequestSuccessful)
	assert.False(t, res.WasRequestSuccessfullyHandled)
	assert.False(t, res.WasSuccessful())
	assert.Equal(t, http.StatusNotFound, res.HTTPStatusCode)
	assert.Equal(t, "Not Found", res.Reason)
	assert.Empty(t, res.Data.Market)
}

func TestClient_MissingData(t *testing.T) {
	httpClient, _ := newMockClient(ok(`{"success":false}`), ok(`null`))
	sut := bonfida.NewClient("", httpClient, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		res, err := sut.GetAllPairs(context.Background())
		require.NoError(t, err)
		assert.True(t, res.WasHTTPRequestSuccessful)
		assert.False(t, res.WasRequestSuccessfullyHandled)
		assert.Nil(t, res.Data)
	}
}

func TestClient_Errors(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		httpClient, _ := newMockClient(ok(`{"success":true,"data":[`))
		sut := bonfida.NewClient("", httpClient, zaptest.NewLogger(t))

		_, err := sut.GetAllPairs(context.Background())
		assert.Error(t, err)
	})

	t.Run("transport failure", func(t *testing.T) {
		refused := errors.New("connection refused")
		httpClient, _ := newMockClient(mockResponse{err: refused})
		sut := bonfida.NewClient("", httpClient, zaptest.NewLogger(t))

		res, err := sut.GetAllRecentTrades(context.Background())
		assert.Nil(t, res)
		assert.ErrorIs(t, err, refused)
	})
}

func TestClient_SubscribeRequestBody(t *testing.T) {
	httpClient, transport := newMockClient(ok(fixture(t, "subscribe_response.json")))
	sut := bonfida.NewClient(bonfida.DefaultStreamURL, httpClient, zaptest.NewLogger(t))

	sub, err := sut.Subscribe(context.Background(), "DEX")
	require.NoError(t, err)
	assert.Equal(t, "wss://serum-ws.bonfida.com/ws/abc123", sub.URL)
	assert.Equal(t, http.StatusOK, sub.StatusCode)

	reqs := transport.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, bonfida.DefaultStreamURL+"/subscribe", reqs[0].URL)
	assert.Equal(t, `{"channel": "DEX"}`, reqs[0].Body)
	assert.Equal(t, fixture(t, "subscribe_request.json"), reqs[0].Body)
}

func TestClient_SubscribeRateLimited(t *testing.T) {
	httpClient, _ := newMockClient(mockResponse{status: http.StatusTooManyRequests, body: "slow down"})
	sut := bonfida.NewClient(bonfida.DefaultStreamURL, httpClient, zaptest.NewLogger(t))

	sub, err := sut.Subscribe(context.Background(), "DEX")
	require.NoError(t, err)
	assert.Empty(t, sub.URL)
	assert.Equal(t, http.StatusTooManyRequests, sub.StatusCode)
}

func TestClient_Unsubscribe(t *testing.T) {
	httpClient, transport := newMockClient(ok(`{"success":true}`), mockResponse{status: http.StatusInternalServerError})
	sut := bonfida.NewClient(bonfida.DefaultStreamURL, httpClient, zaptest.NewLogger(t))

	require.NoError(t, sut.Unsubscribe(context.Background(), "abc123"))
	// 响应内容和状态码都被忽略
	require.NoError(t, sut.Unsubscribe(context.Background(), "abc123"))

	reqs := transport.captured()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, bonfida.DefaultStreamURL+"/unsubscribe/abc123", reqs[0].URL)
	assert.Empty(t, reqs[0].Body)
}

func TestClient_UnsubscribeLogsBodyReadFailure(t *testing.T) {
	reset := errors.New("connection reset")
	httpClient, _ := newMockClient(mockResponse{status: http.StatusOK, body: `{"succ`, bodyErr: reset})
	core, logs := observer.New(zap.DebugLevel)
	sut := bonfida.NewClient(bonfida.DefaultStreamURL, httpClient, zap.New(core))

	require.NoError(t, sut.Unsubscribe(context.Background(), "abc123"))

	entries := logs.FilterMessage("Failed to read unsubscribe response").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, "abc123", entries[0].ContextMap()["ClientID"])
	assert.Equal(t, reset.Error(), entries[0].ContextMap()["error"])
}

func TestFactory(t *testing.T) {
	assert.NotNil(t, bonfida.GetClient(nil))
	assert.NotNil(t, bonfida.GetStreamingClient(zaptest.NewLogger(t)))
}
