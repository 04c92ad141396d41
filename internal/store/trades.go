// Package store 把收到的成交记录到本地 sqlite 文件
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"bonfida-client/pkg/bonfida"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	market         TEXT    NOT NULL,
	market_address TEXT    NOT NULL,
	price          TEXT    NOT NULL,
	size           TEXT    NOT NULL,
	side           TEXT    NOT NULL,
	time           INTEGER NOT NULL,
	order_id       TEXT    NOT NULL,
	fee_cost       TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_market_time ON trades (market, time);
`

// TradeStore 成交记录
type TradeStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open 打开 (或创建) path 处的数据库并建表
func Open(path string, logger *zap.Logger) (*TradeStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// sqlite 单写者
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create trades table: %w", err)
	}

	logger.Info("Trade journal opened", zap.String("Path", path))
	return &TradeStore{db: db, path: path, logger: logger}, nil
}

// Save 记录一笔成交
func (s *TradeStore) Save(ctx context.Context, t bonfida.Trade) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (market, market_address, price, size, side, time, order_id, fee_cost)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Market, t.MarketAddress, t.Price.String(), t.Size.String(), t.Side, int64(t.Time), t.OrderID, t.FeeCost.String())
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.OrderID, err)
	}
	return nil
}

// Recent 按时间倒序返回 market 最近的 limit 笔成交，market 为空时不过滤
func (s *TradeStore) Recent(ctx context.Context, market string, limit int) ([]bonfida.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT market, market_address, price, size, side, time, order_id, fee_cost
		 FROM trades
		 WHERE ? = '' OR market = ?
		 ORDER BY time DESC, id DESC
		 LIMIT ?`,
		market, market, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []bonfida.Trade
	for rows.Next() {
		var (
			t  bonfida.Trade
			ms int64
		)
		if err := rows.Scan(&t.Market, &t.MarketAddress, &t.Price, &t.Size, &t.Side, &ms, &t.OrderID, &t.FeeCost); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Time = uint64(ms)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return trades, nil
}

// Count 已记录的成交数
func (s *TradeStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}

func (s *TradeStore) Close() error {
	s.logger.Info("Trade journal closed", zap.String("Path", s.path))
	return s.db.Close()
}
