// Package database manages the PostgreSQL connection pool and
// bootstraps the schema on startup.
package database

// Schema contains the SQL statements for the outline engine database.
const Schema = `
-- containers: Each row is a scope owning exactly one outline tree.
-- An episode references two containers (outline + inbox); a show
-- references one. Rows are created and destroyed with their owner.
CREATE TABLE IF NOT EXISTS containers (
    id          UUID PRIMARY KEY,
    label       VARCHAR(255) NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- nodes: One row per outline line. parent_id/prev_id model the tree as
-- identifier references; the sibling order under a parent is the linked
-- list formed by prev_id, with the head carrying prev_id = NULL.
CREATE TABLE IF NOT EXISTS nodes (
    uuid         UUID PRIMARY KEY,
    container_id UUID NOT NULL REFERENCES containers(id) ON DELETE CASCADE,
    parent_id    UUID,
    prev_id      UUID,
    content      TEXT NOT NULL DEFAULT '',
    creator_id   VARCHAR(255) NOT NULL,
    inserted_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_nodes_container ON nodes(container_id);
CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(container_id, parent_id);

-- A forked sibling chain (two nodes naming the same prev) can never
-- commit, even if a bug slips past the serializer.
CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_prev
    ON nodes(container_id, parent_id, prev_id) WHERE prev_id IS NOT NULL;

-- event_data: Append-only per-container event log. sequence is assigned
-- at append time inside the same transaction as the node writes; the
-- primary key makes concurrent appends to one container collide instead
-- of interleaving.
CREATE TABLE IF NOT EXISTS event_data (
    container_id UUID NOT NULL,
    sequence     BIGINT NOT NULL,
    event_id     VARCHAR(255) NOT NULL,
    event_type   VARCHAR(64) NOT NULL,
    payload      JSONB NOT NULL,
    user_id      VARCHAR(255) NOT NULL DEFAULT '',
    inserted_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (container_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_event_data_event_id ON event_data(event_id);

-- urls: URL records derived from node content, rebuilt by the analyzer
-- on each content change. position preserves order of first appearance.
CREATE TABLE IF NOT EXISTS urls (
    id          BIGSERIAL PRIMARY KEY,
    node_id     UUID NOT NULL REFERENCES nodes(uuid) ON DELETE CASCADE,
    url         TEXT NOT NULL,
    start_bytes INT NOT NULL,
    size_bytes  INT NOT NULL,
    position    INT NOT NULL,
    metadata    JSONB,
    inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_urls_node ON urls(node_id);
`
