package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dnldd/backtester/shared"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DataURL is the default base url of the exchange market data archives.
	DataURL = "https://data.binance.vision"
	// DefaultRetries is the default number of retries of a failed download.
	DefaultRetries = 3
	// defaultBackoff is the default wait before the first retry.
	defaultBackoff = 500 * time.Millisecond
)

var (
	// ErrArchiveNotFound is returned when the requested archive is not published.
	ErrArchiveNotFound = errors.New("archive not found")
)

// DownloaderConfig represents the archive downloader configuration.
type DownloaderConfig struct {
	// BaseURL is the base url of the market data archives.
	BaseURL string
	// ArchiveDir is the directory downloaded archives are saved to.
	ArchiveDir string
	// Limiter rate limits archive requests. Optional.
	Limiter *rate.Limiter
	// Retries is the number of retries of a failed download.
	Retries int
	// Backoff is the wait before the first retry, doubled on each further retry.
	Backoff time.Duration
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *DownloaderConfig) Validate() error {
	var errs error

	if cfg.BaseURL == "" {
		errs = errors.Join(errs, fmt.Errorf("base url cannot be an empty string"))
	}
	if cfg.ArchiveDir == "" {
		errs = errors.Join(errs, fmt.Errorf("archive directory cannot be an empty string"))
	}
	if cfg.Retries < 0 {
		errs = errors.Join(errs, fmt.Errorf("retries cannot be negative"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Downloader fetches market data archives.
type Downloader struct {
	cfg   *DownloaderConfig
	httpc http.Client
}

// NewDownloader initializes a new archive downloader.
func NewDownloader(cfg *DownloaderConfig) (*Downloader, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating downloader config: %w", err)
	}

	if cfg.Backoff == 0 {
		cfg.Backoff = defaultBackoff
	}

	return &Downloader{
		cfg:   cfg,
		httpc: http.Client{Timeout: time.Minute * 2},
	}, nil
}

// retryableError wraps download failures worth retrying.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// fetch downloads the archive at the provided url to path.
func (d *Downloader) fetch(ctx context.Context, url string, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := d.httpc.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("requesting %s: %w", url, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrArchiveNotFound, url)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return &retryableError{err: fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)}
	default:
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("creating archive file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return &retryableError{err: fmt.Errorf("reading archive body: %w", err)}
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("closing archive file: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}

// Download fetches the provided archive into the archive directory and returns its path.
// Archives already downloaded are not fetched again.
func (d *Downloader) Download(ctx context.Context, symbol string, mdt shared.MarketDataType, name string) (string, error) {
	path := filepath.Join(d.cfg.ArchiveDir, name)
	_, err := os.Stat(path)
	if err == nil {
		d.cfg.Logger.Debug().Msgf("archive %s already downloaded", name)
		return path, nil
	}

	url, err := ArchiveURL(d.cfg.BaseURL, symbol, mdt, name)
	if err != nil {
		return "", err
	}

	err = os.MkdirAll(d.cfg.ArchiveDir, 0o755)
	if err != nil {
		return "", fmt.Errorf("creating archive directory: %w", err)
	}

	for attempt := 0; attempt <= d.cfg.Retries; attempt++ {
		if d.cfg.Limiter != nil {
			err = d.cfg.Limiter.Wait(ctx)
			if err != nil {
				return "", err
			}
		}

		d.cfg.Logger.Info().Msgf("downloading archive %s", url)

		err = d.fetch(ctx, url, path)
		if err == nil {
			return path, nil
		}

		var retryable *retryableError
		if !errors.As(err, &retryable) || attempt == d.cfg.Retries {
			return "", err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * d.cfg.Backoff
		d.cfg.Logger.Warn().Msgf("downloading %s failed, retrying in %s: %v", name, wait, err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}

	return "", err
}
