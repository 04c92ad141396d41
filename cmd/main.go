package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"bonfida-client/internal/service"
	"bonfida-client/internal/store"
	"bonfida-client/pkg/bonfida"
)

const usage = `usage: bonfida [flags] <command> [arg]

commands:
  pairs                     list all market pairs
  trades <market>           recent trades of a market, e.g. ETHUSDT
  trades-address <address>  recent trades of a market address
  recent                    recent trades of all markets
  volume <market>           24h volume of a market
  orderbook <market>        order book of a market
  stream                    stream trades until interrupted
  journal [market]          trades recorded by stream (requires --sqlite)

flags:
`

var errUsage = errors.New("invalid usage")

// unsubscribeTimeout 退出时退订请求的最长等待时间
const unsubscribeTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("bonfida", pflag.ContinueOnError)
	flags.SetOutput(out)
	configDir := flags.String("config", "config", "directory containing config.yaml")
	flags.String("rest-url", "", "REST API base url")
	flags.String("stream-url", "", "subscribe/unsubscribe base url")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "also write logs to this rotating file")
	flags.String("sqlite", "", "record streamed trades into this sqlite file")
	limit := flags.Int("limit", 20, "number of journal entries to show")
	flags.Usage = func() {
		fmt.Fprint(out, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return err
	}

	v := service.NewViper()
	if err := service.BindFlags(v, flags); err != nil {
		return err
	}
	cfg, err := service.LoadConfig(v, *configDir)
	if err != nil {
		return err
	}
	if err := service.InitLogger(cfg.Logging); err != nil {
		return err
	}
	logger := service.Logger
	defer logger.Sync()

	cmdArgs := flags.Args()
	if len(cmdArgs) == 0 {
		flags.Usage()
		return errUsage
	}

	client := bonfida.NewClient(cfg.Exchange.RESTURL, nil, logger)
	command, rest := cmdArgs[0], cmdArgs[1:]

	switch command {
	case "pairs":
		res, err := client.GetAllPairs(ctx)
		return printResult(out, res, err)
	case "trades":
		market, err := requireArg(command, rest)
		if err != nil {
			return err
		}
		res, err := client.GetRecentTradesByMarketName(ctx, market)
		return printResult(out, res, err)
	case "trades-address":
		address, err := requireArg(command, rest)
		if err != nil {
			return err
		}
		res, err := client.GetRecentTradesByMarketAddress(ctx, address)
		return printResult(out, res, err)
	case "recent":
		res, err := client.GetAllRecentTrades(ctx)
		return printResult(out, res, err)
	case "volume":
		market, err := requireArg(command, rest)
		if err != nil {
			return err
		}
		res, err := client.GetVolume(ctx, market)
		return printResult(out, res, err)
	case "orderbook":
		market, err := requireArg(command, rest)
		if err != nil {
			return err
		}
		res, err := client.GetOrderBook(ctx, market)
		return printResult(out, res, err)
	case "stream":
		return streamTrades(ctx, cfg, out, logger)
	case "journal":
		market := ""
		if len(rest) > 0 {
			market = rest[0]
		}
		return printJournal(ctx, cfg.Storage.SQLitePath, market, *limit, out, logger)
	default:
		flags.Usage()
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func requireArg(command string, args []string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return "", fmt.Errorf("%w: %s requires an argument", errUsage, command)
	}
	return args[0], nil
}

// printResult 以缩进 JSON 输出请求结果中的数据
func printResult[T any](out io.Writer, res *bonfida.RequestResult[T], err error) error {
	if err != nil {
		return err
	}
	if !res.WasSuccessful() {
		return fmt.Errorf("request failed: %d %s", res.HTTPStatusCode, res.Reason)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Data)
}

func printTrade(out io.Writer, t bonfida.Trade) {
	fmt.Fprintf(out, "%s %-10s %-4s price=%s size=%s notional=%s order=%s\n",
		service.FormatTradeTime(t.Time), t.Market, t.Side, t.Price, t.Size,
		service.FormatNotional(t.Price, t.Size, 6), t.OrderID)
}

// streamTrades 订阅成交推送，订阅被拒绝时按退避间隔重试，
// 直到 ctx 取消 (退订并关闭连接) 或服务端关闭连接
func streamTrades(ctx context.Context, cfg *service.Config, out io.Writer, logger *zap.Logger) error {
	var journal *store.TradeStore
	if cfg.Storage.SQLitePath != "" {
		var err error
		journal, err = store.Open(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return err
		}
		defer journal.Close()
	}

	onTrade := func(t bonfida.Trade) {
		printTrade(out, t)
		if journal == nil {
			return
		}
		if err := journal.Save(context.WithoutCancel(ctx), t); err != nil {
			logger.Error("Failed to record trade", zap.String("OrderID", t.OrderID), zap.Error(err))
		}
	}

	streaming := bonfida.NewStreamingClient(cfg.Exchange.StreamURL, nil, nil, logger)

	var (
		sub     *bonfida.TradeSubscription
		delay   time.Duration
		retried bool
	)
	for sub == nil {
		s, err := streaming.SubscribeTrades(ctx, onTrade)
		if err != nil {
			return err
		}
		if s != nil {
			sub = s
			break
		}

		if !retried {
			delay = cfg.Stream.RetryInitial
			retried = true
		} else {
			delay = service.NextBackoff(delay, cfg.Stream.RetryMax)
		}
		logger.Info("No stream url yet, retrying", zap.Duration("Delay", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down trade stream", zap.String("ClientID", sub.ClientID()))
		unsubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unsubscribeTimeout)
		defer cancel()
		if err := sub.Unsubscribe(unsubCtx); err != nil {
			logger.Warn("Unsubscribe failed", zap.Error(err))
		}
		return sub.Close()
	case <-sub.Done():
		logger.Info("Trade stream ended", zap.String("ClientID", sub.ClientID()))
		return sub.Wait()
	}
}

func printJournal(ctx context.Context, path, market string, limit int, out io.Writer, logger *zap.Logger) error {
	if path == "" {
		return fmt.Errorf("%w: journal requires --sqlite", errUsage)
	}
	journal, err := store.Open(path, logger)
	if err != nil {
		return err
	}
	defer journal.Close()

	total, err := journal.Count(ctx)
	if err != nil {
		return err
	}
	trades, err := journal.Recent(ctx, market, limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "recorded trades: "+strconv.FormatInt(total, 10))
	for _, t := range trades {
		printTrade(out, t)
	}
	return nil
}
