package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/backtester/backtest"
	"github.com/dnldd/backtester/shared"
	"github.com/dnldd/backtester/store"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

const (
	// SQL statements.
	createResultTableSQL   = "CREATE TABLE IF NOT EXISTS backtest_results (id TEXT PRIMARY KEY, strategy TEXT, symbols TEXT, exchange TEXT, market_data_type TEXT, date_start INTEGER, date_end INTEGER, deposit REAL, commission REAL, start_deposit REAL, finish_deposit REAL, created_on INTEGER)"
	createMetricsTableSQL  = "CREATE TABLE IF NOT EXISTS backtest_metrics (result_id TEXT PRIMARY KEY, positions_number INTEGER, profit_positions_number INTEGER, profit_positions_percent REAL, loss_positions_number INTEGER, loss_positions_percent REAL, average_profit_position REAL, average_loss_position REAL, number_of_currency INTEGER, profit_per_position_in_percent REAL, profit_factor REAL, expected_payoff REAL, sortino REAL, average_position_size REAL, total_profit REAL, total_profit_percent REAL, max_deposit REAL, max_drawdown REAL, drawdown REAL, max_use_of_funds REAL)"
	createPositionTableSQL = "CREATE TABLE IF NOT EXISTS backtest_positions (id TEXT PRIMARY KEY, result_id TEXT, symbol TEXT, open_date INTEGER, close_date INTEGER, open_price REAL, close_price REAL, volume REAL, commission REAL, pnl REAL)"
	createMarketDataSQL    = "CREATE TABLE IF NOT EXISTS market_data (path TEXT PRIMARY KEY, exchange TEXT, symbol TEXT, market_data_type TEXT, date_start INTEGER, date_end INTEGER, updated_on INTEGER)"
	persistResultSQL       = "INSERT INTO backtest_results(id, strategy, symbols, exchange, market_data_type, date_start, date_end, deposit, commission, start_deposit, finish_deposit, created_on) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)"
	persistMetricsSQL      = "INSERT INTO backtest_metrics(result_id, positions_number, profit_positions_number, profit_positions_percent, loss_positions_number, loss_positions_percent, average_profit_position, average_loss_position, number_of_currency, profit_per_position_in_percent, profit_factor, expected_payoff, sortino, average_position_size, total_profit, total_profit_percent, max_deposit, max_drawdown, drawdown, max_use_of_funds) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)"
	persistPositionSQL     = "INSERT INTO backtest_positions(id, result_id, symbol, open_date, close_date, open_price, close_price, volume, commission, pnl) VALUES(?,?,?,?,?,?,?,?,?,?)"
	recordMarketDataSQL    = "INSERT OR REPLACE INTO market_data(path, exchange, symbol, market_data_type, date_start, date_end, updated_on) VALUES(?,?,?,?,?,?,?)"
	findMarketDataSQL      = "SELECT path, exchange, symbol, market_data_type, date_start, date_end FROM market_data ORDER BY path"
	findResultsSQL         = "SELECT r.id, r.strategy, r.symbols, r.created_on, m.positions_number, m.total_profit, m.total_profit_percent FROM backtest_results r JOIN backtest_metrics m ON m.result_id = r.id ORDER BY r.created_on DESC"
)

// ResultStorer defines the requirements for storing backtest results.
type ResultStorer interface {
	// PersistResult stores the provided backtest result to the database.
	PersistResult(ctx context.Context, strategy string, result *backtest.Result) error
}

// MarketDataRegistry defines the requirements for tracking stored market data files.
type MarketDataRegistry interface {
	// RecordMarketData records the span of the provided market data file.
	RecordMarketData(ctx context.Context, info store.FileInfo) error
	// FetchMarketData returns every recorded market data file.
	FetchMarketData(ctx context.Context) ([]store.FileInfo, error)
}

// DatabaseConfig is the configuration for the database.
type DatabaseConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Logger is the database logger.
	Logger *zerolog.Logger
}

// Database represents the database connection.
type Database struct {
	cfg    *DatabaseConfig
	client *rqlitehttp.Client
	now    func() time.Time
}

// Ensure the database implements the ResultStorer and MarketDataRegistry interfaces.
var _ ResultStorer = (*Database)(nil)
var _ MarketDataRegistry = (*Database)(nil)

// NewDatabase initializes a new database connection.
func NewDatabase(ctx context.Context, cfg *DatabaseConfig) (*Database, error) {
	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating database client: %w", err)
	}

	if cfg.User != "" {
		client.SetBasicAuth(cfg.User, cfg.Pass)
	}

	db := &Database{
		cfg:    cfg,
		client: client,
		now:    time.Now,
	}

	err = db.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping database: %w", err)
	}

	return db, nil
}

// execute runs the provided statements in a single transaction.
func (db *Database) execute(ctx context.Context, stmts rqlitehttp.SQLStatements) error {
	resp, err := db.client.Execute(ctx, stmts, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	has, idx, errStr := resp.HasError()
	if has {
		return fmt.Errorf("statement %d: %s", idx, errStr)
	}

	return nil
}

// query runs the provided statement and returns its rows keyed by column.
func (db *Database) query(ctx context.Context, sql string, params ...any) ([]map[string]any, error) {
	resp, err := db.client.Query(ctx, rqlitehttp.SQLStatements{
		{SQL: sql, PositionalParams: params},
	}, &rqlitehttp.QueryOptions{Associative: true})
	if err != nil {
		return nil, err
	}

	results := resp.GetQueryResultsAssoc()
	if len(results) == 0 {
		return nil, nil
	}
	if results[0].Error != "" {
		return nil, fmt.Errorf("querying: %s", results[0].Error)
	}

	return results[0].Rows, nil
}

// bootstrap initializes the database.
func (db *Database) bootstrap(ctx context.Context) error {
	return db.execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createResultTableSQL},
		{SQL: createMetricsTableSQL},
		{SQL: createPositionTableSQL},
		{SQL: createMarketDataSQL},
	})
}

// PersistResult stores the provided backtest result, its metrics and positions to the database
// in a single transaction.
func (db *Database) PersistResult(ctx context.Context, strategy string, res *backtest.Result) error {
	s := res.Settings
	m := res.Metrics
	stmts := rqlitehttp.SQLStatements{
		{
			SQL: persistResultSQL,
			PositionalParams: []any{res.ID, strategy, strings.Join(s.Symbols, ","), s.Exchange,
				s.MarketDataType.String(), s.DateStart, s.DateEnd, s.Deposit, s.Commission,
				res.StartDeposit, res.FinishDeposit, db.now().UnixMilli()},
		},
		{
			SQL: persistMetricsSQL,
			PositionalParams: []any{res.ID, m.PositionsNumber, m.ProfitPositionsNumber,
				m.ProfitPositionsPercent, m.LossPositionsNumber, m.LossPositionsPercent,
				m.AverageProfitPosition, m.AverageLossPosition, m.NumberOfCurrency,
				m.ProfitPerPositionInPercent, m.ProfitFactor, m.ExpectedPayoff, m.Sortino,
				m.AveragePositionSize, m.TotalProfit, m.TotalProfitPercent, m.MaxDeposit,
				m.MaxDrawdown, m.Drawdown, m.MaxUseOfFunds},
		},
	}

	for _, pos := range res.Positions {
		if pos.PnL == nil {
			db.cfg.Logger.Error().Msgf("persisting position without pnl: %s", spew.Sdump(pos))
			continue
		}

		stmts = append(stmts, rqlitehttp.SQLStatements{
			{
				SQL: persistPositionSQL,
				PositionalParams: []any{pos.ID, res.ID, pos.Symbol, pos.OpenDate(), pos.CloseDate(),
					pos.OpenPrice(), pos.LastPrice(), pos.VolumeBuy(),
					pos.CommissionBuy() + pos.CommissionSell(), *pos.PnL},
			},
		}...)
	}

	err := db.execute(ctx, stmts)
	if err != nil {
		return fmt.Errorf("persisting result %s: %w", res.ID, err)
	}

	db.cfg.Logger.Info().Msgf("persisted result %s with %d positions", res.ID, len(res.Positions))

	return nil
}

// RecordMarketData records the span of the provided market data file.
func (db *Database) RecordMarketData(ctx context.Context, info store.FileInfo) error {
	err := db.execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: recordMarketDataSQL,
			PositionalParams: []any{info.Path, info.Exchange, info.Symbol, info.MarketDataType.String(),
				info.DateStart, info.DateEnd, db.now().UnixMilli()},
		},
	})
	if err != nil {
		return fmt.Errorf("recording market data %s: %w", info.Path, err)
	}

	return nil
}

// asInt64 converts a decoded column value.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, _ := n.Float64()
			return int64(f)
		}
		return i
	default:
		return 0
	}
}

// asFloat64 converts a decoded column value.
func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

// asString converts a decoded column value.
func asString(v any) string {
	s, _ := v.(string)
	return s
}

// FetchMarketData returns every recorded market data file.
func (db *Database) FetchMarketData(ctx context.Context) ([]store.FileInfo, error) {
	rows, err := db.query(ctx, findMarketDataSQL)
	if err != nil {
		return nil, fmt.Errorf("fetching market data: %w", err)
	}

	infos := make([]store.FileInfo, 0, len(rows))
	for _, row := range rows {
		mdt, err := shared.ParseMarketDataType(asString(row["market_data_type"]))
		if err != nil {
			db.cfg.Logger.Error().Msgf("unexpected market data row: %s", spew.Sdump(row))
			continue
		}

		infos = append(infos, store.FileInfo{
			Path:           asString(row["path"]),
			Exchange:       asString(row["exchange"]),
			Symbol:         asString(row["symbol"]),
			MarketDataType: mdt,
			DateStart:      asInt64(row["date_start"]),
			DateEnd:        asInt64(row["date_end"]),
		})
	}

	return infos, nil
}

// ResultSummary represents a stored backtest result.
type ResultSummary struct {
	ID                 string
	Strategy           string
	Symbols            []string
	CreatedOn          int64
	PositionsNumber    int
	TotalProfit        float64
	TotalProfitPercent float64
}

// FetchResultSummaries returns the summaries of every stored backtest result, newest first.
func (db *Database) FetchResultSummaries(ctx context.Context) ([]ResultSummary, error) {
	rows, err := db.query(ctx, findResultsSQL)
	if err != nil {
		return nil, fmt.Errorf("fetching results: %w", err)
	}

	summaries := make([]ResultSummary, 0, len(rows))
	for _, row := range rows {
		symbols := []string{}
		if s := asString(row["symbols"]); s != "" {
			symbols = strings.Split(s, ",")
		}

		summaries = append(summaries, ResultSummary{
			ID:                 asString(row["id"]),
			Strategy:           asString(row["strategy"]),
			Symbols:            symbols,
			CreatedOn:          asInt64(row["created_on"]),
			PositionsNumber:    int(asInt64(row["positions_number"])),
			TotalProfit:        asFloat64(row["total_profit"]),
			TotalProfitPercent: asFloat64(row["total_profit_percent"]),
		})
	}

	return summaries, nil
}
