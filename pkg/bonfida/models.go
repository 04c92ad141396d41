package bonfida

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trade 一笔成交 (REST 最近成交和 WS 推送共用)
type Trade struct {
	Market        string          `json:"market"`        // 交易对名称，例如 "ETH/USDT"
	MarketAddress string          `json:"marketAddress"` // 市场地址
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	Side          string          `json:"side"` // "buy" 或 "sell"
	Time          uint64          `json:"time"` // 毫秒时间戳
	OrderID       string          `json:"orderId"`
	FeeCost       decimal.Decimal `json:"feeCost"`
}

// Timestamp 成交时间
func (t Trade) Timestamp() time.Time {
	return time.UnixMilli(int64(t.Time))
}

// Equal 逐字段比较，数值按十进制值比较
func (t Trade) Equal(o Trade) bool {
	return t.Market == o.Market &&
		t.MarketAddress == o.MarketAddress &&
		t.Price.Equal(o.Price) &&
		t.Size.Equal(o.Size) &&
		t.Side == o.Side &&
		t.Time == o.Time &&
		t.OrderID == o.OrderID &&
		t.FeeCost.Equal(o.FeeCost)
}

// number 十进制数值按 JSON 数字输出 (不加引号)，保留原始精度
func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// MarshalJSON 与交易所推送的字段顺序和类型一致，数值字段为 JSON 数字
func (t Trade) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Market        string      `json:"market"`
		Price         json.Number `json:"price"`
		Size          json.Number `json:"size"`
		Side          string      `json:"side"`
		Time          uint64      `json:"time"`
		OrderID       string      `json:"orderId"`
		FeeCost       json.Number `json:"feeCost"`
		MarketAddress string      `json:"marketAddress"`
	}{
		Market:        t.Market,
		Price:         number(t.Price),
		Size:          number(t.Size),
		Side:          t.Side,
		Time:          t.Time,
		OrderID:       t.OrderID,
		FeeCost:       number(t.FeeCost),
		MarketAddress: t.MarketAddress,
	})
}

func (t Trade) String() string {
	return fmt.Sprintf("Trade - Market: %s Side: %s Price: %s Size: %s",
		t.Market, t.Side, t.Price, t.Size)
}

// Order 订单簿中的一档
type Order struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Price json.Number `json:"price"`
		Size  json.Number `json:"size"`
	}{number(o.Price), number(o.Size)})
}

// OrderBook 订单簿快照
type OrderBook struct {
	Market        string  `json:"market"`
	MarketAddress string  `json:"marketAddress"`
	Bids          []Order `json:"bids"`
	Asks          []Order `json:"asks"`
}

// VolumeInfo 24h 成交量
type VolumeInfo struct {
	VolumeUsd decimal.Decimal `json:"volumeUsd"`
	Volume    decimal.Decimal `json:"volume"`
}

func (v VolumeInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		VolumeUsd json.Number `json:"volumeUsd"`
		Volume    json.Number `json:"volume"`
	}{number(v.VolumeUsd), number(v.Volume)})
}

// Subscription 订阅接口返回的专属 WS 地址
type Subscription struct {
	URL string `json:"url"`

	// StatusCode 订阅请求的 HTTP 状态码，调用方可据此处理 429
	StatusCode int `json:"-"`
}

// requestResponse REST 接口的通用响应包
type requestResponse[T any] struct {
	Success bool `json:"success"`
	Data    *T   `json:"data"`
}

// RequestResult REST 请求结果
type RequestResult[T any] struct {
	HTTPStatusCode int
	Reason         string
	Data           T

	WasHTTPRequestSuccessful      bool
	WasRequestSuccessfullyHandled bool // 成功解析出 data
}

// WasSuccessful HTTP 成功且拿到了数据
func (r *RequestResult[T]) WasSuccessful() bool {
	return r.WasHTTPRequestSuccessful && r.WasRequestSuccessfullyHandled
}
