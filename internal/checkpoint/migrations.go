package checkpoint

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
    id TEXT PRIMARY KEY,
    ticket_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    type TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_ticket_id ON checkpoints(ticket_id);
CREATE INDEX IF NOT EXISTS idx_checkpoints_created_at ON checkpoints(created_at);
CREATE INDEX IF NOT EXISTS idx_checkpoints_type ON checkpoints(ticket_id, type);
`
