package service

import (
	"time"

	"github.com/shopspring/decimal"
)

// NextBackoff 指数退避，下一次等待时间翻倍，不超过 limit
func NextBackoff(current, limit time.Duration) time.Duration {
	if current <= 0 {
		return min(time.Second, limit)
	}
	next := current * 2
	if next > limit || next <= 0 {
		return limit
	}
	return next
}

// FormatTradeTime 将毫秒时间戳格式化为 UTC 时间字符串，例如 "2020-11-07 16:46:02.476"
func FormatTradeTime(ms uint64) string {
	return time.UnixMilli(int64(ms)).UTC().Format("2006-01-02 15:04:05.000")
}

// FormatNotional 成交额 = 价格 × 数量，保留 places 位小数
func FormatNotional(price, size decimal.Decimal, places int32) string {
	return price.Mul(size).StringFixed(places)
}
