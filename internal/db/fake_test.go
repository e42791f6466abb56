package db

import (
	"context"
	"errors"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/HanTheDev/genie-analytics/internal/models"
)

var setConfigName = regexp.MustCompile(`set_config\('([^']+)'`)

type queryFunc func(ctx context.Context, sql string, args []any, session models.Row) ([]models.Row, error)

// fakeConn keeps session variables the way a server-side session would, so
// tests can observe leakage between borrowers.
type fakeConn struct {
	id   int
	pool *fakePool

	mu        sync.Mutex
	vars      map[string]string
	failSet   bool
	failReset bool
	discarded bool
}

func (c *fakeConn) Exec(_ context.Context, sql string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case strings.HasPrefix(sql, "SELECT set_config("):
		if c.failSet {
			return errors.New("connection reset by peer")
		}
		name := setConfigName.FindStringSubmatch(sql)[1]
		c.vars[name] = args[0].(string)
	case strings.HasPrefix(sql, "RESET "):
		if c.failReset {
			return errors.New("connection lost during reset")
		}
		delete(c.vars, strings.TrimPrefix(sql, "RESET "))
	}
	return nil
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) ([]models.Row, error) {
	c.mu.Lock()
	session := models.Row{
		"conn":   c.id,
		"tenant": c.vars["app.current_tenant_id"],
		"user":   c.vars["app.current_user_id"],
		"role":   c.vars["app.current_role"],
	}
	c.mu.Unlock()

	c.pool.mu.Lock()
	c.pool.queries = append(c.pool.queries, executed{sql: sql, args: args})
	query := c.pool.query
	c.pool.mu.Unlock()

	if query != nil {
		return query(ctx, sql, args, session)
	}
	runtime.Gosched()
	return []models.Row{session}, nil
}

func (c *fakeConn) Release() { c.pool.release(c) }

func (c *fakeConn) Discard(context.Context) { c.pool.discard(c) }

func (c *fakeConn) session() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

type executed struct {
	sql  string
	args []any
}

type fakePool struct {
	sem chan struct{}

	mu            sync.Mutex
	idle          []*fakeConn
	all           []*fakeConn
	inUse         int
	maxInUse      int
	acquires      int
	dirtyReleases int
	discards      int
	closed        bool
	queries       []executed

	acquireErr error
	query      queryFunc
	configure  func(*fakeConn)
}

func newFakePool(size int) *fakePool {
	return &fakePool{sem: make(chan struct{}, size)}
}

func (p *fakePool) Acquire(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	p.acquires++
	err := p.acquireErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse++
	if p.inUse > p.maxInUse {
		p.maxInUse = p.inUse
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return c, nil
	}
	c := &fakeConn{id: len(p.all) + 1, pool: p, vars: map[string]string{}}
	if p.configure != nil {
		p.configure(c)
	}
	p.all = append(p.all, c)
	return c, nil
}

func (p *fakePool) release(c *fakeConn) {
	dirty := len(c.session()) > 0

	p.mu.Lock()
	if dirty {
		p.dirtyReleases++
	}
	p.idle = append(p.idle, c)
	p.inUse--
	p.mu.Unlock()
	<-p.sem
}

func (p *fakePool) discard(c *fakeConn) {
	c.mu.Lock()
	c.discarded = true
	c.mu.Unlock()

	p.mu.Lock()
	p.discards++
	p.inUse--
	p.mu.Unlock()
	<-p.sem
}

func (p *fakePool) Stat() PoolStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStat{
		Total:    int32(len(p.all) - p.discards),
		Acquired: int32(p.inUse),
		Idle:     int32(len(p.idle)),
		Max:      int32(cap(p.sem)),
	}
}

func (p *fakePool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePool) acquireCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquires
}
