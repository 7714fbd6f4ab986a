package ingest

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dnldd/backtester/fetch"
	"github.com/dnldd/backtester/shared"
	"github.com/dnldd/backtester/store"
	"github.com/go-co-op/gocron"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"
)

const (
	minute = int64(60000)
	day    = 1440 * minute
	// may1 is 2023-05-01 00:00 UTC.
	may1 = int64(1682899200000)
	// jun1 is 2023-06-01 00:00 UTC.
	jun1 = int64(1685577600000)
	// jun2 is 2023-06-02 00:00 UTC.
	jun2 = int64(1685664000000)
)

// DownloaderMock serves archives from memory, archives without content are not published.
type DownloaderMock struct {
	dir      string
	archives map[string]string
	err      error
}

func (d *DownloaderMock) Download(ctx context.Context, symbol string, mdt shared.MarketDataType, name string) (string, error) {
	if d.err != nil {
		return "", d.err
	}

	content, ok := d.archives[name]
	if !ok {
		return "", fetch.ErrArchiveNotFound
	}

	path := filepath.Join(d.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := zip.NewWriter(f)
	entry, err := w.Create(strings.TrimSuffix(name, ".zip") + ".csv")
	if err != nil {
		return "", err
	}
	_, err = entry.Write([]byte(content))
	if err != nil {
		return "", err
	}

	return path, w.Close()
}

// ExchangeMock serves a fixed set of klines.
type ExchangeMock struct {
	klines []shared.Kline
}

func (e *ExchangeMock) FetchKlines(ctx context.Context, symbol string, mdt shared.MarketDataType, start int64, end int64) ([]shared.Kline, error) {
	res := []shared.Kline{}
	for _, k := range e.klines {
		if k.Date >= start && k.Date <= end {
			res = append(res, k)
		}
	}

	return res, nil
}

// klineRows builds archive kline rows opened at the provided dates.
func klineRows(dates ...int64) string {
	var b strings.Builder
	for _, date := range dates {
		b.WriteString(strings.Join([]string{
			strconv.FormatInt(date, 10), "10", "11", "9", "10.5", "2",
			strconv.FormatInt(date+minute-1, 10), "21", "5", "1", "10", "0",
		}, ","))
		b.WriteString("\n")
	}

	return b.String()
}

func setupManager(t *testing.T, symbols []string, mdt shared.MarketDataType, downloader ArchiveDownloader) (*Manager, *[]store.FileInfo) {
	var mtx sync.Mutex
	recorded := []store.FileInfo{}
	mgr, err := NewManager(&ManagerConfig{
		Symbols:        symbols,
		Exchange:       "binance",
		MarketDataType: mdt,
		DataDir:        t.TempDir(),
		Downloader:     downloader,
		ExchangeClient: &ExchangeMock{klines: []shared.Kline{shared.NewFlatKline(jun2, 12)}},
		RecordMarketData: func(ctx context.Context, info store.FileInfo) error {
			mtx.Lock()
			recorded = append(recorded, info)
			mtx.Unlock()
			return nil
		},
		JobScheduler: gocron.NewScheduler(time.UTC),
		Logger:       &log.Logger,
	})
	assert.NoError(t, err)

	mgr.now = func() time.Time { return time.UnixMilli(jun2 + 12*time.Hour.Milliseconds()) }

	return mgr, &recorded
}

func TestManagerConfigValidate(t *testing.T) {
	baseCfg := &ManagerConfig{
		Symbols:        []string{"BTCUSDT"},
		Exchange:       "binance",
		MarketDataType: shared.OneMinute,
		DataDir:        "/data",
		Downloader:     &DownloaderMock{},
		Logger:         &log.Logger,
	}

	tests := []struct {
		name        string
		modify      func(cfg *ManagerConfig)
		wantErr     bool
		errContains []string
	}{
		{
			name:    "valid config returns nil",
			modify:  func(cfg *ManagerConfig) {},
			wantErr: false,
		},
		{
			name:    "trades are valid",
			modify:  func(cfg *ManagerConfig) { cfg.MarketDataType = shared.Trades },
			wantErr: false,
		},
		{
			name:        "unknown market data type",
			modify:      func(cfg *ManagerConfig) { cfg.MarketDataType = shared.MarketDataType(99) },
			wantErr:     true,
			errContains: []string{"unknown market data type"},
		},
		{
			name: "multiple missing fields",
			modify: func(cfg *ManagerConfig) {
				*cfg = ManagerConfig{MarketDataType: shared.OneMinute}
			},
			wantErr: true,
			errContains: []string{
				"no symbols provided",
				"exchange cannot be an empty string",
				"data directory cannot be an empty string",
				"downloader cannot be nil",
				"logger cannot be nil",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *baseCfg
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				for _, substr := range tt.errContains {
					assert.True(t, strings.Contains(err.Error(), substr))
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIngestSymbol(t *testing.T) {
	downloader := &DownloaderMock{
		dir: t.TempDir(),
		archives: map[string]string{
			"BTCUSDT-1m-2023-05.zip": klineRows(may1, may1+minute, may1+3*minute),
			"BTCUSDT-1m-2023-06-01.zip": "open_time,open,high,low,close,volume\n" +
				klineRows(jun1, jun1+minute),
		},
	}

	mgr, recorded := setupManager(t, []string{"BTCUSDT"}, shared.OneMinute, downloader)
	ctx := context.Background()

	// Ensure archives are stored contiguously, with gaps within and across archives filled and
	// the unpublished archive fetched from the exchange.
	stored, err := mgr.IngestSymbol(ctx, "BTCUSDT", may1, jun2)
	assert.NoError(t, err)
	assert.Equal(t, stored, int(32*day/minute)+1)
	assert.Equal(t, mgr.Ingested(), int64(stored))
	assert.Equal(t, mgr.Archives(), int64(2))
	assert.Equal(t, mgr.Missing(), int64(1))

	path := store.Path(mgr.cfg.DataDir, "binance", "BTCUSDT", shared.OneMinute)
	klines, err := store.NewKlineStore(&log.Logger).ReadAll(path)
	assert.NoError(t, err)
	assert.Equal(t, len(klines), stored)
	for idx, k := range klines {
		if k.Date != may1+int64(idx)*minute {
			t.Fatalf("kline %d dated %d, expected %d", idx, k.Date, may1+int64(idx)*minute)
		}
	}
	assert.Equal(t, klines[2], shared.NewFlatKline(may1+2*minute, 10.5))
	assert.Equal(t, klines[len(klines)-1].Close, float64(12))

	// Ensure ingested archives are removed.
	entries, err := os.ReadDir(downloader.dir)
	assert.NoError(t, err)
	assert.Equal(t, len(entries), 0)

	// Ensure the updated file span is recorded.
	assert.Equal(t, len(*recorded), 1)
	assert.Equal(t, (*recorded)[0].DateStart, may1)
	assert.Equal(t, (*recorded)[0].DateEnd, jun2)
	assert.Equal(t, (*recorded)[0].Symbol, "BTCUSDT")

	// Ensure rerunning the same span stores nothing new.
	stored, err = mgr.IngestSymbol(ctx, "BTCUSDT", may1, jun2)
	assert.NoError(t, err)
	assert.Equal(t, stored, 0)
	assert.Equal(t, mgr.Archives(), int64(2))
	klines, err = store.NewKlineStore(&log.Logger).ReadAll(path)
	assert.NoError(t, err)
	assert.Equal(t, len(klines), int(32*day/minute)+1)

	// Ensure unknown symbols error.
	_, err = mgr.IngestSymbol(ctx, "ETHUSDT", may1, jun2)
	assert.Error(t, err)

	// Ensure a cancelled context stops ingestion.
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = mgr.IngestSymbol(cctx, "BTCUSDT", may1, jun2+day)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestIngestTrades(t *testing.T) {
	downloader := &DownloaderMock{
		dir: t.TempDir(),
		archives: map[string]string{
			"BTCUSDT-trades-2023-05-01.zip": "1,29233.20,0.004,116.9328,1682899200015,True,True\n" +
				"2,29233.21,0.001,29.23321,1682899200016,False,True\n",
		},
	}

	mgr, recorded := setupManager(t, []string{"BTCUSDT"}, shared.Trades, downloader)
	mgr.cfg.KeepArchives = true

	stored, err := mgr.IngestSymbol(context.Background(), "BTCUSDT", may1, may1+day)
	assert.NoError(t, err)
	assert.Equal(t, stored, 2)

	// Ensure an unpublished trade archive is skipped.
	assert.Equal(t, mgr.Missing(), int64(1))

	trades, err := store.NewTradeStore(&log.Logger).ReadAll(
		store.Path(mgr.cfg.DataDir, "binance", "BTCUSDT", shared.Trades))
	assert.NoError(t, err)
	assert.Equal(t, trades[1], shared.Trade{ID: 2, Price: 29233.21, Qty: 0.001, BaseQty: 29.23321,
		Date: 1682899200016})
	assert.Equal(t, (*recorded)[0].MarketDataType, shared.Trades)

	// Ensure archives are kept when configured.
	_, err = os.Stat(filepath.Join(downloader.dir, "BTCUSDT-trades-2023-05-01.zip"))
	assert.NoError(t, err)
}

// FailingDownloader fails downloads for a single symbol.
type FailingDownloader struct {
	*DownloaderMock
	symbol string
}

func (d *FailingDownloader) Download(ctx context.Context, symbol string, mdt shared.MarketDataType, name string) (string, error) {
	if symbol == d.symbol {
		return "", errors.New("connection reset")
	}

	return d.DownloaderMock.Download(ctx, symbol, mdt, name)
}

func TestRun(t *testing.T) {
	downloader := &FailingDownloader{
		DownloaderMock: &DownloaderMock{
			dir: t.TempDir(),
			archives: map[string]string{
				"BTCUSDT-1m-2023-05-01.zip": klineRows(may1, may1+minute),
			},
		},
		symbol: "ETHUSDT",
	}

	mgr, _ := setupManager(t, []string{"BTCUSDT", "ETHUSDT"}, shared.OneMinute, downloader)

	// Ensure a failing symbol does not stop the others.
	err := mgr.Run(context.Background(), may1, may1)
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "ETHUSDT"))
	assert.Equal(t, mgr.Ingested(), int64(2))
	assert.Equal(t, mgr.LastSynced(), int64(0))

	downloader.symbol = ""
	downloader.archives["ETHUSDT-1m-2023-05-01.zip"] = klineRows(may1)
	err = mgr.Run(context.Background(), may1, may1)
	assert.NoError(t, err)
	assert.Equal(t, mgr.Ingested(), int64(3))
	assert.Equal(t, mgr.LastSynced(), may1)
}

func TestScheduleSync(t *testing.T) {
	mgr, _ := setupManager(t, []string{"BTCUSDT"}, shared.OneMinute, &DownloaderMock{dir: t.TempDir()})
	defer mgr.cfg.JobScheduler.Stop()

	ctx := context.Background()
	err := mgr.ScheduleSync(ctx, "01:00", may1)
	assert.NoError(t, err)
	assert.Equal(t, len(mgr.cfg.JobScheduler.Jobs()), 1)

	// Ensure a sync cannot be scheduled twice.
	err = mgr.ScheduleSync(ctx, "02:00", may1)
	assert.Error(t, err)

	// Ensure invalid times are rejected.
	other, _ := setupManager(t, []string{"BTCUSDT"}, shared.OneMinute, &DownloaderMock{dir: t.TempDir()})
	err = other.ScheduleSync(ctx, "25:99", may1)
	assert.Error(t, err)

	other.cfg.JobScheduler = nil
	err = other.ScheduleSync(ctx, "01:00", may1)
	assert.Error(t, err)

	// Ensure the sync job ingests from the provided start when nothing was synced yet.
	mgr.syncJob(ctx, mgr.now().UnixMilli())
	assert.Equal(t, mgr.LastSynced(), mgr.now().UnixMilli())
}
