// Package etcd adapts an etcd connection into the daemon's leader-election
// mechanism: in a multi-replica deployment of the daemon, only the elected
// leader runs the dmClock idle-purge ticker, so replicas never race each
// other purging the same client (SPEC_FULL §11).
package etcd

import (
	"context"
	"fmt"
	"time"

	"github.com/aresqos/qosd/pkg/logger"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// Client wraps an etcd connection used solely to mint election sessions.
type Client struct {
	cli *clientv3.Client
	log *logger.Logger
}

// New dials endpoints, failing fast if no member is reachable within
// dialTimeout.
func New(endpoints []string, dialTimeout time.Duration) (*Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		logger.Get().Error("failed to connect to etcd: %v", err)
		return nil, fmt.Errorf("etcd: connect %v: %w", endpoints, err)
	}

	logger.Get().Info("connected to etcd at %v", endpoints)
	return &Client{cli: cli, log: logger.Get()}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Elector wraps a concurrency.Election bound to one session, scoped to a
// single election key.
type Elector struct {
	session *concurrency.Session
	elect   *concurrency.Election
	log     *logger.Logger
}

// NewElector opens a session with the given lease TTL (seconds) and binds
// an election under key. The session's lease is kept alive by the etcd
// client library until Close is called or the connection is lost.
func (c *Client) NewElector(key string, ttlSeconds int) (*Elector, error) {
	sess, err := concurrency.NewSession(c.cli, concurrency.WithTTL(ttlSeconds))
	if err != nil {
		return nil, fmt.Errorf("etcd: new session: %w", err)
	}
	c.log.Debug("opened election session, lease %d", sess.Lease())

	return &Elector{
		session: sess,
		elect:   concurrency.NewElection(sess, key),
		log:     c.log,
	}, nil
}

// Campaign blocks until this elector becomes the leader under val, or ctx
// is canceled. Call once per process; it does not return until leadership
// is acquired.
func (e *Elector) Campaign(ctx context.Context, val string) error {
	if err := e.elect.Campaign(ctx, val); err != nil {
		return fmt.Errorf("etcd: campaign: %w", err)
	}
	e.log.Info("acquired leadership as %s", val)
	return nil
}

// Resign releases leadership voluntarily without closing the session, so a
// future Campaign call on the same elector can try again.
func (e *Elector) Resign(ctx context.Context) error {
	if err := e.elect.Resign(ctx); err != nil {
		return fmt.Errorf("etcd: resign: %w", err)
	}
	e.log.Info("resigned leadership")
	return nil
}

// Observe returns the channel of leadership-change notifications; a new
// value arrives each time leadership changes hands.
func (e *Elector) Observe(ctx context.Context) <-chan clientv3.GetResponse {
	return e.elect.Observe(ctx)
}

// Done signals when the underlying session's lease expires or is revoked,
// e.g. on a lost connection — the caller must stop acting as leader.
func (e *Elector) Done() <-chan struct{} {
	return e.session.Done()
}

// Close releases the election session, revoking its lease and triggering
// an immediate leadership handoff.
func (e *Elector) Close() error {
	return e.session.Close()
}
