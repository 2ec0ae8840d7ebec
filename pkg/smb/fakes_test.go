package smb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/hirochachacha/go-smb2"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

var errSharing = &smb2.ResponseError{Code: StatusSharingViolation}

type fakeConn struct {
	mu       sync.Mutex
	id       int
	dead     bool
	closed   bool
	dirs     []string
	files    map[string][]byte
	writeErr []error
	writes   int
}

func (c *fakeConn) Probe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return errors.New("connection reset")
	}
	return nil
}

func (c *fakeConn) MkdirAll(ctx context.Context, dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirs = append(c.dirs, dir)
	return nil
}

func (c *fakeConn) WriteFile(ctx context.Context, name string, r io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if len(c.writeErr) > 0 {
		err := c.writeErr[0]
		c.writeErr = c.writeErr[1:]
		if err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	if c.files == nil {
		c.files = map[string][]byte{}
	}
	c.files[name] = buf.Bytes()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	err      error
	writeErr []error
	dialed   []*Settings
}

func (d *fakeDialer) Dial(ctx context.Context, s *Settings) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, s)
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{id: len(d.conns) + 1, writeErr: d.writeErr}
	d.writeErr = nil
	d.conns = append(d.conns, c)
	return c, nil
}

type staticSource struct {
	settings *Settings
	err      error
}

func (s *staticSource) Active(ctx context.Context) (*Settings, error) {
	return s.settings, s.err
}

func testLogger() (*logrus.Entry, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	return logrus.NewEntry(logger), hook
}
