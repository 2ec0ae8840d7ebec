package smb

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hirochachacha/go-smb2"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// Conn is one mounted share session
type Conn interface {
	// Probe lists the share root
	Probe(ctx context.Context) error
	// MkdirAll creates dir and its parents
	MkdirAll(ctx context.Context, dir string) error
	// WriteFile creates or truncates name and copies r into it
	WriteFile(ctx context.Context, name string, r io.Reader) error
	Close() error
}

// Dialer opens share sessions
type Dialer interface {
	Dial(ctx context.Context, s *Settings) (Conn, error)
}

// PoolOptions bounds the pool and its timeouts
type PoolOptions struct {
	Min            int
	Max            int
	ProbeTimeout   time.Duration
	ConnectTimeout time.Duration
}

// DefaultPoolOptions is [2, 5] with 5s probes and 15s connects
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{Min: 2, Max: 5, ProbeTimeout: 5 * time.Second, ConnectTimeout: 15 * time.Second}
}

type member struct {
	conn   Conn
	leases int
}

// Pool keeps between Min and Max sessions to one share. A session may be
// handed to several callers at once when every member is busy.
type Pool struct {
	settings *Settings
	dialer   Dialer
	opts     PoolOptions
	metrics  *observability.Metrics
	logger   *logrus.Entry

	mu      sync.Mutex
	members []*member
	closed  bool
}

// NewPool creates an empty pool for settings
func NewPool(settings *Settings, dialer Dialer, opts PoolOptions, metrics *observability.Metrics, logger *logrus.Entry) *Pool {
	def := DefaultPoolOptions()
	if opts.Min < 1 {
		opts.Min = def.Min
	}
	if opts.Max < opts.Min {
		opts.Max = opts.Min
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = def.ProbeTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	return &Pool{
		settings: settings,
		dialer:   dialer,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
	}
}

// Size returns the number of held sessions
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members)
}

// Warm dials sessions until Min are held
func (p *Pool) Warm(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.members) < p.opts.Min {
		if _, err := p.dialLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Get leases a live session. Dead members are evicted first; an idle live
// member is preferred, then a new session up to Max, then the first live one.
func (p *Pool) Get(ctx context.Context) (Conn, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, fmt.Errorf("smb pool closed")
	}

	live := p.members[:0]
	for _, m := range p.members {
		if err := p.probe(ctx, m.conn); err != nil {
			p.logger.WithError(err).Debug("evicting dead smb session")
			m.conn.Close()
			continue
		}
		live = append(live, m)
	}
	for i := len(live); i < len(p.members); i++ {
		p.members[i] = nil
	}
	p.members = live

	var picked *member
	for _, m := range p.members {
		if m.leases == 0 {
			picked = m
			break
		}
	}
	if picked == nil && len(p.members) < p.opts.Max {
		m, err := p.dialLocked(ctx)
		if err != nil && len(p.members) == 0 {
			return nil, nil, err
		}
		picked = m
	}
	if picked == nil {
		picked = p.members[0]
	}
	picked.leases++
	p.metrics.SMBPoolSize.Set(float64(len(p.members)))

	var once sync.Once
	release := func() {
		once.Do(func() {
			p.mu.Lock()
			picked.leases--
			p.mu.Unlock()
		})
	}
	return picked.conn, release, nil
}

func (p *Pool) probe(ctx context.Context, c Conn) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ProbeTimeout)
	defer cancel()
	return c.Probe(ctx)
}

func (p *Pool) dialLocked(ctx context.Context) (*member, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	defer cancel()
	conn, err := p.dialer.Dial(ctx, p.settings)
	if err != nil {
		p.logger.WithError(err).WithField("server", p.settings.Server).Warn("smb connect failed")
		return nil, classify(p.settings.Share, err)
	}
	m := &member{conn: conn}
	p.members = append(p.members, m)
	p.metrics.SMBPoolSize.Set(float64(len(p.members)))
	return m, nil
}

// Close logs off every session
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	var first error
	for _, m := range p.members {
		if err := m.conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.members = nil
	p.metrics.SMBPoolSize.Set(0)
	return first
}

// NTLMDialer opens sessions over TCP with NTLMv2 authentication
type NTLMDialer struct{}

// Dial connects, authenticates and mounts the share
func (NTLMDialer) Dial(ctx context.Context, s *Settings) (Conn, error) {
	var d net.Dialer
	tcp, err := d.DialContext(ctx, "tcp", net.JoinHostPort(s.Server, strconv.Itoa(s.port())))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.Server, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = tcp.SetDeadline(deadline)
	}

	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     s.Username,
			Password: s.Password,
			Domain:   s.Domain,
		},
	}
	session, err := dialer.DialContext(ctx, tcp)
	if err != nil {
		tcp.Close()
		return nil, fmt.Errorf("authenticate to %s: %w", s.Server, err)
	}
	share, err := session.Mount(s.Share)
	if err != nil {
		session.Logoff()
		tcp.Close()
		return nil, fmt.Errorf("mount %s: %w", s.Share, err)
	}
	_ = tcp.SetDeadline(time.Time{})
	return &shareConn{tcp: tcp, session: session, share: share}, nil
}

type shareConn struct {
	tcp     net.Conn
	session *smb2.Session
	share   *smb2.Share
}

func (c *shareConn) Probe(ctx context.Context) error {
	_, err := c.share.WithContext(ctx).ReadDir(".")
	return err
}

func (c *shareConn) MkdirAll(ctx context.Context, dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	err := c.share.WithContext(ctx).MkdirAll(dir, 0o755)
	if err != nil && isExist(err) {
		return nil
	}
	return err
}

func (c *shareConn) WriteFile(ctx context.Context, name string, r io.Reader) error {
	f, err := c.share.WithContext(ctx).Create(name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (c *shareConn) Close() error {
	c.share.Umount()
	c.session.Logoff()
	return c.tcp.Close()
}
