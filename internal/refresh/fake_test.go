package refresh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/BadgerOps/pqrefresh/internal/backup"
	"github.com/BadgerOps/pqrefresh/internal/workbook"
)

// fakeConn reports refreshing for busyPolls checks, then settles.
type fakeConn struct {
	name       string
	refreshErr error
	pollErr    error
	busyPolls  int

	mu        sync.Mutex
	refreshed int
	polls     int
}

func (c *fakeConn) Name() string { return c.name }

func (c *fakeConn) Refresh(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshed++
	return c.refreshErr
}

func (c *fakeConn) Refreshing(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollErr != nil {
		return false, c.pollErr
	}
	c.polls++
	return c.polls <= c.busyPolls, nil
}

// hangConn stops answering once refreshed: every state check blocks
// until ctx ends.
type hangConn struct {
	mu    sync.Mutex
	polls int
}

func (c *hangConn) Name() string { return "stalled" }

func (c *hangConn) Refresh(context.Context) error { return nil }

func (c *hangConn) Refreshing(ctx context.Context) (bool, error) {
	c.mu.Lock()
	c.polls++
	c.mu.Unlock()
	<-ctx.Done()
	return false, ctx.Err()
}

// docBehavior scripts what the fake application does for one path.
type docBehavior struct {
	openErr    error
	connsErr   error
	conns      []*fakeConn
	extra      []Connection
	saveErr    error
	panicOnDoc bool
}

type fakeDoc struct {
	b     *docBehavior
	saves int
}

func (d *fakeDoc) Connections(context.Context) ([]Connection, error) {
	if d.b.connsErr != nil {
		return nil, d.b.connsErr
	}
	out := make([]Connection, 0, len(d.b.conns))
	for _, c := range d.b.conns {
		out = append(out, c)
	}
	return append(out, d.b.extra...), nil
}

func (d *fakeDoc) Save(context.Context) error {
	d.saves++
	return d.b.saveErr
}

type fakeApp struct {
	driver   *fakeDriver
	visible  bool
	closed   int
	closeErr error
	docs     []*fakeDoc
}

func (a *fakeApp) OpenDocument(_ context.Context, path string) (Document, error) {
	a.driver.opened = append(a.driver.opened, path)
	b, ok := a.driver.docs[path]
	if !ok {
		b = &docBehavior{}
	}
	if b.panicOnDoc {
		panic("automation server went away")
	}
	if b.openErr != nil {
		return nil, b.openErr
	}
	d := &fakeDoc{b: b}
	a.docs = append(a.docs, d)
	return d, nil
}

func (a *fakeApp) Close() error {
	a.closed++
	return a.closeErr
}

type fakeDriver struct {
	availErr error
	openErr  error
	docs     map[string]*docBehavior

	apps   []*fakeApp
	opened []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{docs: map[string]*docBehavior{}}
}

func (d *fakeDriver) Available() error { return d.availErr }

func (d *fakeDriver) Open(_ context.Context, visible bool) (Application, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	app := &fakeApp{driver: d, visible: visible}
	d.apps = append(d.apps, app)
	return app, nil
}

func (d *fakeDriver) totalSaves() int {
	n := 0
	for _, a := range d.apps {
		for _, doc := range a.docs {
			n += doc.saves
		}
	}
	return n
}

type failingBackuper struct{ calls int }

func (b *failingBackuper) Backup(string, bool) (string, error) {
	b.calls++
	return "", errors.New("disk full")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	fs        afero.Fs
	driver    *fakeDriver
	backups   *backup.Store
	refresher *Refresher
}

func newHarness(t *testing.T, paths ...string) *harness {
	t.Helper()

	fs := afero.NewMemMapFs()
	for _, p := range paths {
		require.NoError(t, afero.WriteFile(fs, p, []byte("workbook "+p), 0o644))
	}

	logger := discardLogger()
	store, err := backup.New(fs, "/backups", logger)
	require.NoError(t, err)

	drv := newFakeDriver()
	r := NewRefresher(drv, workbook.NewValidator(fs, logger), store, logger)
	r.PollInterval = time.Millisecond
	r.minute = 20 * time.Millisecond

	return &harness{fs: fs, driver: drv, backups: store, refresher: r}
}
