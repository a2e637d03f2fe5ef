package listener

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// pgxConn adapts a dedicated pgx connection to NotificationConn.
type pgxConn struct {
	conn *pgx.Conn
}

// connectPgx opens the dedicated listening connection. It must not come
// from the store's pool: LISTEN binds to a session, and a pooled session
// could be handed to someone else between waits.
func connectPgx(ctx context.Context, dsn string) (NotificationConn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting listener: %w", err)
	}
	return &pgxConn{conn: conn}, nil
}

func (c *pgxConn) Listen(ctx context.Context, channel string) error {
	if _, err := c.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("listening on %q: %w", channel, err)
	}
	return nil
}

func (c *pgxConn) WaitForNotification(ctx context.Context) (*Notification, error) {
	n, err := c.conn.WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}
	return &Notification{Channel: n.Channel, Payload: n.Payload}, nil
}

func (c *pgxConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
