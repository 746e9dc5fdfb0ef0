package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/showdeck/outline-engine/internal/outline"
)

const nodeColumns = `uuid, container_id, parent_id, prev_id, content, creator_id, inserted_at, updated_at`

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Store backed by the given pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgTx adapts a pgx transaction to the Tx interface.
type pgTx struct {
	tx pgx.Tx
}

// WithinTransaction runs fn inside a repeatable-read transaction so the
// serializer sees one snapshot across its read and write phase.
func (p *Postgres) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("repository: begin: %w", mapPgError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: commit: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) LoadTree(ctx context.Context, containerID uuid.UUID) (*outline.Tree, error) {
	nodes, err := queryNodes(ctx, t.tx,
		`SELECT `+nodeColumns+` FROM nodes WHERE container_id = $1`, containerID)
	if err != nil {
		return nil, err
	}
	return outline.NewTree(containerID, nodes), nil
}

func (t *pgTx) UpsertNodes(ctx context.Context, nodes []*outline.Node) error {
	if len(nodes) == 0 {
		return nil
	}

	// Detach the dirty rows' prev pointers first. Within one statement
	// the forked-prev index is checked per row, so rotating a chain in
	// place would otherwise hit transient duplicates.
	ids := make([]uuid.UUID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.UUID
	}
	if _, err := t.tx.Exec(ctx,
		`UPDATE nodes SET prev_id = NULL WHERE uuid = ANY($1)`, ids); err != nil {
		return fmt.Errorf("repository: detach prev: %w", mapPgError(err))
	}

	for _, n := range nodes {
		_, err := t.tx.Exec(ctx,
			`INSERT INTO nodes (uuid, container_id, parent_id, prev_id, content, creator_id, inserted_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (uuid) DO UPDATE SET
			   container_id = EXCLUDED.container_id,
			   parent_id    = EXCLUDED.parent_id,
			   prev_id      = EXCLUDED.prev_id,
			   content      = EXCLUDED.content,
			   updated_at   = EXCLUDED.updated_at`,
			n.UUID, n.ContainerID, n.ParentID, n.PrevID, n.Content, n.CreatorID,
			n.InsertedAt, n.UpdatedAt)
		if err != nil {
			return fmt.Errorf("repository: upsert node %s: %w", n.UUID, mapPgError(err))
		}
	}
	return nil
}

func (t *pgTx) DeleteNodes(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM nodes WHERE uuid = ANY($1)`, ids); err != nil {
		return fmt.Errorf("repository: delete nodes: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) ReplaceURLs(ctx context.Context, nodeID uuid.UUID, urls []outline.URLRecord) error {
	return replaceURLs(ctx, t.tx, nodeID, urls)
}

func (t *pgTx) AppendEvent(ctx context.Context, ev *outline.Event) (int64, error) {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO event_data (container_id, sequence, event_id, event_type, payload, user_id)
		 VALUES ($1, COALESCE((SELECT MAX(sequence) FROM event_data WHERE container_id = $1), 0) + 1, $2, $3, $4, $5)
		 RETURNING sequence, inserted_at`,
		ev.ContainerID, ev.EventID, string(ev.Type), []byte(ev.Payload), ev.UserID,
	).Scan(&ev.Sequence, &ev.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("repository: append event: %w", mapPgError(err))
	}
	return ev.Sequence, nil
}

func (p *Postgres) Get(ctx context.Context, id uuid.UUID) (*outline.Node, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE uuid = $1`, id)
	n, err := scanNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("repository: node %s: %w", id, outline.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get node: %w", mapPgError(err))
	}
	return n, nil
}

func (p *Postgres) ListByContainer(ctx context.Context, containerID uuid.UUID) ([]*outline.Node, error) {
	nodes, err := queryNodes(ctx, p.pool,
		`SELECT `+nodeColumns+` FROM nodes WHERE container_id = $1`, containerID)
	if err != nil {
		return nil, err
	}
	return outline.NewTree(containerID, nodes).Preorder(), nil
}

func (p *Postgres) NodeAbove(ctx context.Context, id uuid.UUID) (*outline.Node, error) {
	t, err := p.treeOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.Above(id), nil
}

func (p *Postgres) NodeBelow(ctx context.Context, id uuid.UUID) (*outline.Node, error) {
	t, err := p.treeOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.Below(id), nil
}

func (p *Postgres) CountByContainer(ctx context.Context, containerID uuid.UUID) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM nodes WHERE container_id = $1`, containerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("repository: count: %w", mapPgError(err))
	}
	return count, nil
}

func (p *Postgres) AllChildren(ctx context.Context, id uuid.UUID) ([]*outline.Node, error) {
	return queryNodes(ctx, p.pool,
		`WITH RECURSIVE descendants AS (
		   SELECT `+nodeColumns+` FROM nodes WHERE parent_id = $1
		   UNION ALL
		   SELECT n.uuid, n.container_id, n.parent_id, n.prev_id, n.content, n.creator_id, n.inserted_at, n.updated_at
		   FROM nodes n JOIN descendants d ON n.parent_id = d.uuid
		 )
		 SELECT `+nodeColumns+` FROM descendants`, id)
}

func (p *Postgres) DirectSiblings(ctx context.Context, id uuid.UUID) ([]*outline.Node, error) {
	n, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := p.loadTree(ctx, n.ContainerID)
	if err != nil {
		return nil, err
	}
	var out []*outline.Node
	for _, s := range t.Children(n.ParentID) {
		if s.UUID != id {
			out = append(out, s)
		}
	}
	return out, nil
}

func (p *Postgres) ListURLsByContainer(ctx context.Context, containerID uuid.UUID) (map[uuid.UUID][]outline.URLRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT u.node_id, u.url, u.start_bytes, u.size_bytes, u.metadata
		 FROM urls u JOIN nodes n ON n.uuid = u.node_id
		 WHERE n.container_id = $1
		 ORDER BY u.node_id, u.position`, containerID)
	if err != nil {
		return nil, fmt.Errorf("repository: list urls: %w", mapPgError(err))
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]outline.URLRecord)
	for rows.Next() {
		var rec outline.URLRecord
		var meta []byte
		if err := rows.Scan(&rec.NodeID, &rec.URL, &rec.StartBytes, &rec.SizeBytes, &meta); err != nil {
			return nil, fmt.Errorf("repository: scan url: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("repository: decode url metadata: %w", err)
			}
		}
		out[rec.NodeID] = append(out[rec.NodeID], rec)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateContainer(ctx context.Context, c *outline.Container) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO containers (id, label) VALUES ($1, $2) RETURNING created_at`,
		c.ID, c.Label).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: create container: %w", mapPgError(err))
	}
	return nil
}

func (p *Postgres) GetContainer(ctx context.Context, id uuid.UUID) (*outline.Container, error) {
	c := &outline.Container{ID: id}
	err := p.pool.QueryRow(ctx,
		`SELECT label, created_at FROM containers WHERE id = $1`, id,
	).Scan(&c.Label, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("repository: container %s: %w", id, outline.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get container: %w", mapPgError(err))
	}
	return c, nil
}

func (p *Postgres) DeleteContainer(ctx context.Context, id uuid.UUID) error {
	return p.WithinTransaction(ctx, func(ctx context.Context, tx Tx) error {
		pt := tx.(*pgTx)
		if _, err := pt.tx.Exec(ctx,
			`DELETE FROM event_data WHERE container_id = $1`, id); err != nil {
			return fmt.Errorf("repository: delete events: %w", mapPgError(err))
		}
		tag, err := pt.tx.Exec(ctx, `DELETE FROM containers WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("repository: delete container: %w", mapPgError(err))
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("repository: container %s: %w", id, outline.ErrNotFound)
		}
		return nil
	})
}

func (p *Postgres) EventsByContainer(ctx context.Context, containerID uuid.UUID, since int64) ([]*outline.Event, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT event_id, event_type, payload, user_id, sequence, inserted_at
		 FROM event_data WHERE container_id = $1 AND sequence > $2
		 ORDER BY sequence ASC`, containerID, since)
	if err != nil {
		return nil, fmt.Errorf("repository: query events: %w", mapPgError(err))
	}
	defer rows.Close()

	var out []*outline.Event
	for rows.Next() {
		ev := &outline.Event{ContainerID: containerID}
		var typ string
		var payload []byte
		if err := rows.Scan(&ev.EventID, &typ, &payload, &ev.UserID, &ev.Sequence, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan event: %w", err)
		}
		ev.Type = outline.EventType(typ)
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *Postgres) LatestSequence(ctx context.Context, containerID uuid.UUID) (int64, error) {
	var seq int64
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM event_data WHERE container_id = $1`,
		containerID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("repository: latest sequence: %w", mapPgError(err))
	}
	return seq, nil
}

// loadTree loads a container's nodes outside a transaction.
func (p *Postgres) loadTree(ctx context.Context, containerID uuid.UUID) (*outline.Tree, error) {
	nodes, err := queryNodes(ctx, p.pool,
		`SELECT `+nodeColumns+` FROM nodes WHERE container_id = $1`, containerID)
	if err != nil {
		return nil, err
	}
	return outline.NewTree(containerID, nodes), nil
}

// treeOf loads the tree of the container holding node id.
func (p *Postgres) treeOf(ctx context.Context, id uuid.UUID) (*outline.Tree, error) {
	n, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.loadTree(ctx, n.ContainerID)
}

func queryNodes(ctx context.Context, q querier, sql string, args ...any) ([]*outline.Node, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: query nodes: %w", mapPgError(err))
	}
	defer rows.Close()

	var out []*outline.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNode(row pgx.Row) (*outline.Node, error) {
	var n outline.Node
	var parent, prev uuid.NullUUID
	err := row.Scan(&n.UUID, &n.ContainerID, &parent, &prev, &n.Content,
		&n.CreatorID, &n.InsertedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		v := parent.UUID
		n.ParentID = &v
	}
	if prev.Valid {
		v := prev.UUID
		n.PrevID = &v
	}
	return &n, nil
}

func replaceURLs(ctx context.Context, q querier, nodeID uuid.UUID, urls []outline.URLRecord) error {
	if _, err := q.Exec(ctx, `DELETE FROM urls WHERE node_id = $1`, nodeID); err != nil {
		return fmt.Errorf("repository: clear urls: %w", mapPgError(err))
	}
	for i, u := range urls {
		var meta []byte
		if u.Metadata != nil {
			b, err := json.Marshal(u.Metadata)
			if err != nil {
				return fmt.Errorf("repository: encode url metadata: %w", err)
			}
			meta = b
		}
		_, err := q.Exec(ctx,
			`INSERT INTO urls (node_id, url, start_bytes, size_bytes, position, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			nodeID, u.URL, u.StartBytes, u.SizeBytes, i, meta)
		if err != nil {
			return fmt.Errorf("repository: insert url: %w", mapPgError(err))
		}
	}
	return nil
}

// mapPgError translates driver failures into the engine's error kinds:
// unique violations and serialization failures become ErrConflict,
// anything else infrastructure-shaped becomes ErrTransient.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return fmt.Errorf("%v: %w", err, outline.ErrConflict)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%v: %w", err, outline.ErrTransient)
}
