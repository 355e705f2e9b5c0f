package dialer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultChannel is the NOTIFY channel the signup trigger publishes on.
const DefaultChannel = "user_signup"

// notifyConn is a dedicated connection that can LISTEN.
type notifyConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release()
}

type poolConn struct {
	*pgxpool.Conn
}

func (c poolConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return c.Conn.Conn().WaitForNotification(ctx)
}

// Listener feeds signup notifications into a Scheduler.
type Listener struct {
	connect   func(ctx context.Context) (notifyConn, error)
	channel   string
	scheduler *Scheduler
	now       func() time.Time
	reconnect time.Duration
}

// NewListener creates a Listener on pool. An empty channel uses
// DefaultChannel.
func NewListener(pool *pgxpool.Pool, channel string, scheduler *Scheduler) *Listener {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Listener{
		connect: func(ctx context.Context) (notifyConn, error) {
			c, err := pool.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			return poolConn{c}, nil
		},
		channel:   channel,
		scheduler: scheduler,
		now:       time.Now,
		reconnect: 5 * time.Second,
	}
}

// Run listens until ctx is canceled, reconnecting after connection loss.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		zap.L().Error("dialer: listener disconnected, reconnecting",
			zap.String("channel", l.channel),
			zap.Duration("after", l.reconnect),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.reconnect):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.connect(ctx)
	if err != nil {
		return eris.Wrap(err, "dialer: acquire listen connection")
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return eris.Wrapf(err, "dialer: listen %s", l.channel)
	}
	zap.L().Info("dialer: listening for signups", zap.String("channel", l.channel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return eris.Wrap(err, "dialer: wait for notification")
		}
		l.handle(ctx, n)
	}
}

func (l *Listener) handle(ctx context.Context, n *pgconn.Notification) {
	su, err := ParseSignup([]byte(n.Payload), l.now())
	if err != nil {
		zap.L().Warn("dialer: bad signup payload", zap.String("payload", n.Payload), zap.Error(err))
		return
	}
	l.scheduler.Schedule(ctx, su)
}
