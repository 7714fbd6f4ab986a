package service

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/tidwall/gjson"
)

const (
	minute    = int64(60000)
	dateStart = int64(1682899200000)
)

const hodlSettings = `{
	"strategy": "hodl",
	"symbols": ["btcusdt"],
	"exchange": "binance",
	"market_data_type": "1m",
	"date_start": "2023-05-01",
	"date_end": "2023-05-02",
	"deposit": 1000,
	"commission": 0.1,
	"hodl": {
		"purchase_period": 3600000,
		"purchase_size": 10
	}
}`

// archiveServer serves a day of minute klines for every requested archive.
func archiveServer(t *testing.T) (*httptest.Server, *[]string) {
	var mtx sync.Mutex
	requested := []string{}

	var rows strings.Builder
	for idx := int64(0); idx < 1440; idx++ {
		price := 100 + float64(idx%60)
		fmt.Fprintf(&rows, "%d,%f,%f,%f,%f,1,%d,0,0,0,0,0\n", dateStart+idx*minute, price, price,
			price, price, dateStart+(idx+1)*minute-1)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mtx.Lock()
		requested = append(requested, r.URL.Path)
		mtx.Unlock()

		name := filepath.Base(r.URL.Path)
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		f, _ := zw.Create(strings.TrimSuffix(name, ".zip") + ".csv")
		f.Write([]byte(rows.String()))
		zw.Close()

		w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)

	return srv, &requested
}

// dbServer acknowledges every executed statement and answers queries with no rows.
func dbServer(t *testing.T) (*httptest.Server, *[]string) {
	var mtx sync.Mutex
	statements := []string{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mtx.Lock()
		defer mtx.Unlock()

		results := []string{}
		for _, stmt := range gjson.ParseBytes(body).Array() {
			if stmt.IsArray() {
				statements = append(statements, stmt.Array()[0].String())
			} else {
				statements = append(statements, stmt.String())
			}
			results = append(results, `{"rows_affected":1}`)
		}

		if strings.HasSuffix(r.URL.Path, "/db/query") {
			for idx := range results {
				results[idx] = `{"types":{},"rows":[]}`
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[` + strings.Join(results, ",") + `]}`))
	}))
	t.Cleanup(srv.Close)

	return srv, &statements
}

func writeSettings(t *testing.T, data string) string {
	path := filepath.Join(t.TempDir(), "settings.json")
	err := os.WriteFile(path, []byte(data), 0o644)
	assert.NoError(t, err)

	return path
}

func TestBacktesterConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *BacktesterConfig
		wantErr string
	}{
		{
			name:    "missing paths",
			cfg:     &BacktesterConfig{Cancel: func() {}},
			wantErr: "data path cannot be an empty string",
		},
		{
			name:    "missing cancel",
			cfg:     &BacktesterConfig{DataPath: "data", SettingsPath: "settings.json"},
			wantErr: "context cancellation function cannot be nil",
		},
		{
			name: "ingest without source",
			cfg: &BacktesterConfig{DataPath: "data", SettingsPath: "settings.json", Ingest: true,
				Cancel: func() {}},
			wantErr: "binance data url cannot be an empty string",
		},
		{
			name: "valid",
			cfg:  &BacktesterConfig{DataPath: "data", SettingsPath: "settings.json", Cancel: func() {}},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.cfg.Validate()
			if test.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), test.wantErr))
		})
	}
}

func TestBacktest(t *testing.T) {
	archives, requested := archiveServer(t)
	db, statements := dbServer(t)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &BacktesterConfig{
		DataPath:       t.TempDir(),
		Exchange:       "binance",
		BinanceDataURL: archives.URL,
		SettingsPath:   writeSettings(t, hodlSettings),
		Ingest:         true,
		DBEndpoint:     db.URL,
		Cancel:         cancel,
	}

	b, err := NewBacktester(context.Background(), cfg)
	assert.NoError(t, err)

	// Ensure market data is ingested, backtested and persisted.
	res, err := b.Backtest(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, len(*requested), 1)
	assert.True(t, strings.HasSuffix((*requested)[0], "/BTCUSDT/1m/BTCUSDT-1m-2023-05-01.zip"))
	assert.Equal(t, len(res.Positions), 24)
	assert.Equal(t, res.StartDeposit, float64(1000))

	inserted := map[string]int{}
	for _, stmt := range *statements {
		for _, prefix := range []string{"INSERT INTO backtest_results", "INSERT INTO backtest_positions",
			"INSERT OR REPLACE INTO market_data", "SELECT path", "SELECT r.id"} {
			if strings.HasPrefix(stmt, prefix) {
				inserted[prefix]++
			}
		}
	}
	assert.Equal(t, inserted["INSERT INTO backtest_results"], 1)
	assert.Equal(t, inserted["INSERT INTO backtest_positions"], 24)
	assert.Equal(t, inserted["INSERT OR REPLACE INTO market_data"], 1)

	// Ensure the registry and previous results are queried before the run.
	assert.Equal(t, inserted["SELECT path"], 1)
	assert.Equal(t, inserted["SELECT r.id"], 1)
}

func TestNewBacktesterErrors(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ensure missing run settings are reported.
	cfg := &BacktesterConfig{
		DataPath:     t.TempDir(),
		SettingsPath: filepath.Join(t.TempDir(), "missing.json"),
		Cancel:       cancel,
	}
	_, err := NewBacktester(context.Background(), cfg)
	assert.Error(t, err)

	// Ensure runs cannot be ingested from another exchange.
	cfg = &BacktesterConfig{
		DataPath:       t.TempDir(),
		Exchange:       "bybit",
		BinanceDataURL: "http://localhost",
		SettingsPath:   writeSettings(t, hodlSettings),
		Ingest:         true,
		Cancel:         cancel,
	}
	_, err = NewBacktester(context.Background(), cfg)
	assert.Error(t, err)

	// Ensure backtesting without stored market data fails.
	cfg = &BacktesterConfig{
		DataPath:     t.TempDir(),
		SettingsPath: writeSettings(t, hodlSettings),
		Cancel:       cancel,
	}
	b, err := NewBacktester(context.Background(), cfg)
	assert.NoError(t, err)
	_, err = b.Backtest(context.Background())
	assert.Error(t, err)
}

func TestBacktesterGracefulShutdown(t *testing.T) {
	archives, _ := archiveServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &BacktesterConfig{
		DataPath:       t.TempDir(),
		Exchange:       "binance",
		BinanceDataURL: archives.URL,
		SettingsPath:   writeSettings(t, hodlSettings),
		Ingest:         true,
		Schedule:       "00:00",
		Cancel:         cancel,
	}

	b, err := NewBacktester(ctx, cfg)
	assert.NoError(t, err)

	// Ensure the backtester can be run and gracefully terminated while syncs are scheduled.
	time.AfterFunc(time.Second*2, func() {
		cancel()
	})
	done := make(chan error)
	go func() {
		done <- b.Run(ctx)
	}()

	assert.NoError(t, <-done)
}
