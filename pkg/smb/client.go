package smb

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// SettingsSource resolves the share to talk to
type SettingsSource interface {
	Active(ctx context.Context) (*Settings, error)
}

// Options tunes the client
type Options struct {
	Pool          PoolOptions
	UploadTimeout time.Duration
	Retry         RetryPolicy
}

// Client uploads files to the active share. The pool is rebuilt whenever
// the resolved settings change.
type Client struct {
	source  SettingsSource
	dialer  Dialer
	opts    Options
	metrics *observability.Metrics
	logger  *logrus.Entry
	retry   *retrier

	mu      sync.Mutex
	pool    *Pool
	poolKey string
}

// NewClient creates a client. dialer defaults to NTLMDialer, clk to the
// wall clock and metrics to an unregistered set.
func NewClient(source SettingsSource, dialer Dialer, opts Options, clk clock.Clock, metrics *observability.Metrics, logger *logrus.Entry) *Client {
	if dialer == nil {
		dialer = NTLMDialer{}
	}
	def := DefaultPoolOptions()
	if opts.Pool.ConnectTimeout <= 0 {
		opts.Pool.ConnectTimeout = def.ConnectTimeout
	}
	if opts.Pool.ProbeTimeout <= 0 {
		opts.Pool.ProbeTimeout = def.ProbeTimeout
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 60 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if clk == nil {
		clk = clock.New()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("component", "smb")
	return &Client{
		source:  source,
		dialer:  dialer,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
		retry:   &retrier{policy: opts.Retry, clock: clk, metrics: metrics, logger: logger},
	}
}

func (c *Client) currentPool(s *Settings) *Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil && c.poolKey == s.key() {
		return c.pool
	}
	if c.pool != nil {
		c.logger.WithField("server", s.Server).Info("smb settings changed, rebuilding pool")
		go c.pool.Close()
	}
	c.pool = NewPool(s, c.dialer, c.opts.Pool, c.metrics, c.logger)
	c.poolKey = s.key()
	return c.pool
}

func (c *Client) withConn(ctx context.Context, fn func(s *Settings, conn Conn) error) error {
	s, err := c.source.Active(ctx)
	if err != nil {
		return err
	}
	conn, release, err := c.currentPool(s).Get(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(s, conn)
}

// EnsureFolder creates dir under the path prefix; existing folders are fine
func (c *Client) EnsureFolder(ctx context.Context, dir string) error {
	return c.retry.do(ctx, "ensure_folder", dir, func(ctx context.Context) error {
		return c.withConn(ctx, func(s *Settings, conn Conn) error {
			return conn.MkdirAll(ctx, s.Remote(dir))
		})
	})
}

// Upload copies localPath to remotePath, creating its folder first
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	start := time.Now()
	log := c.logger.WithFields(logrus.Fields{"local_path": localPath, "remote_path": remotePath})

	err := c.retry.do(ctx, "upload", remotePath, func(ctx context.Context) error {
		return c.withConn(ctx, func(s *Settings, conn Conn) error {
			full := s.Remote(remotePath)
			if err := conn.MkdirAll(ctx, path.Dir(full)); err != nil {
				return err
			}

			f, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("open %s: %w", localPath, err)
			}
			defer f.Close()

			uctx, cancel := context.WithTimeout(ctx, c.opts.UploadTimeout)
			defer cancel()
			return conn.WriteFile(uctx, full, f)
		})
	})

	c.metrics.SMBUploadSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.SMBUploadsTotal.WithLabelValues("failure").Inc()
		log.WithError(err).Error("smb upload failed")
		return err
	}
	c.metrics.SMBUploadsTotal.WithLabelValues("success").Inc()
	log.Info("smb upload finished")
	return nil
}

// TestConnection dials s once and lists its root without touching the pool
func (c *Client) TestConnection(ctx context.Context, s *Settings) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Pool.ConnectTimeout+c.opts.Pool.ProbeTimeout+time.Second)
	defer cancel()
	conn, err := c.dialer.Dial(ctx, s)
	if err != nil {
		return classify(s.Share, err)
	}
	defer conn.Close()
	if err := conn.Probe(ctx); err != nil {
		return classify(s.Share, err)
	}
	return nil
}

// Close releases the pool
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool == nil {
		return nil
	}
	err := c.pool.Close()
	c.pool = nil
	c.poolKey = ""
	return err
}
