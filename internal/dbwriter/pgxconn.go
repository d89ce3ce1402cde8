package dbwriter

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxDB adapts *pgxpool.Pool to the DB interface.
type pgxDB struct {
	pool *pgxpool.Pool
}

// NewPgxDB wraps an already-connected pgxpool.Pool for use by a Writer.
func NewPgxDB(pool *pgxpool.Pool) DB {
	return &pgxDB{pool: pool}
}

func (d *pgxDB) Acquire(ctx context.Context) (Conn, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: conn}, nil
}

// pgxConn adapts a pooled *pgxpool.Conn to the Conn interface. Prepared
// statement names are scoped to conn's specific underlying connection,
// mirroring the original implementation's per-connection Statement
// handles; see DESIGN.md for the caveat this carries across pool
// acquisitions.
type pgxConn struct {
	conn *pgxpool.Conn
}

func (c *pgxConn) Prepare(ctx context.Context, name, sql string) error {
	_, err := c.conn.Conn().Prepare(ctx, name, sql)
	return err
}

func (c *pgxConn) ExecPrepared(ctx context.Context, name string, args []interface{}) (int64, error) {
	tag, err := c.conn.Conn().Exec(ctx, name, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *pgxConn) Release() {
	c.conn.Release()
}
