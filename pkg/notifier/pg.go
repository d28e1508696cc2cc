package notifier

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DefaultChannel is the Postgres notification channel the store's insert
// trigger raises.
const DefaultChannel = "device_readings"

// PGConnector establishes LISTEN subscriptions on a dedicated Postgres
// connection. Pooled connections are unsuitable for LISTEN because the
// subscription is bound to the session, so the connector dials its own.
type PGConnector struct {
	connString string
	channel    string
}

// NewPGConnector creates a connector for the given connection string and
// notification channel. An empty channel uses DefaultChannel.
func NewPGConnector(connString, channel string) *PGConnector {
	if channel == "" {
		channel = DefaultChannel
	}
	return &PGConnector{connString: connString, channel: channel}
}

// Connect dials Postgres and issues LISTEN.
func (c *PGConnector) Connect(ctx context.Context) (Listener, error) {
	conn, err := pgx.Connect(ctx, c.connString)
	if err != nil {
		return nil, fmt.Errorf("connect for LISTEN: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{c.channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("LISTEN %s: %w", c.channel, err)
	}

	return &pgListener{conn: conn}, nil
}

// pgListener wraps the dedicated LISTEN connection.
type pgListener struct {
	conn *pgx.Conn
}

// Wait blocks for the next NOTIFY. The payload is the device identifier
// set by the insert trigger.
func (l *pgListener) Wait(ctx context.Context) (string, error) {
	n, err := l.conn.WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

// Close releases the connection.
func (l *pgListener) Close(ctx context.Context) error {
	return l.conn.Close(ctx)
}

// Compile-time interface satisfaction checks.
var (
	_ Connector = (*PGConnector)(nil)
	_ Listener  = (*pgListener)(nil)
)
