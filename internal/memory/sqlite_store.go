package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// sqliteStore is the C1 persistent backing store: one row per MemoryNode in
// a memory_nodes table, with secondary indexes on (task_context, timestamp)
// and agent_id. QueryTemporal's day-bucket lookup runs on the Graph's
// in-memory index, not on this table.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a sqlite-backed store at path. Use
// ":memory:" for an ephemeral store; callers sharing a single process must
// reuse the same *Graph rather than opening multiple in-memory stores.
func NewSQLiteStore(path string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if strings.Contains(path, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	s := &sqliteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory_nodes (
		node_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		task_context TEXT NOT NULL,
		result_kind TEXT NOT NULL,
		result_data TEXT NOT NULL,
		metadata TEXT,
		links TEXT,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_nodes_context_ts ON memory_nodes(task_context, timestamp);
	CREATE INDEX IF NOT EXISTS idx_memory_nodes_agent ON memory_nodes(agent_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteStore) Put(n *MemoryNode) error {
	dataJSON, err := json.Marshal(n.Result.Data)
	if err != nil {
		return fmt.Errorf("marshal result data: %w", err)
	}
	var metaJSON, linksJSON []byte
	if n.Metadata != nil {
		if metaJSON, err = json.Marshal(n.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}
	if linksJSON, err = json.Marshal(n.Links); err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO memory_nodes (node_id, agent_id, task_context, result_kind, result_data, metadata, links, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(node_id) DO UPDATE SET agent_id = excluded.agent_id, task_context = excluded.task_context,
		   result_kind = excluded.result_kind, result_data = excluded.result_data, metadata = excluded.metadata,
		   links = excluded.links, timestamp = excluded.timestamp`,
		n.NodeID, n.AgentID, n.TaskContext, string(n.Result.Kind), dataJSON, metaJSON, linksJSON, n.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert memory node: %w", err)
	}
	return nil
}

func (s *sqliteStore) Get(id string) (*MemoryNode, error) {
	row := s.db.QueryRow(
		`SELECT node_id, agent_id, task_context, result_kind, result_data, metadata, links, timestamp
		 FROM memory_nodes WHERE node_id = ?`, id)
	return scanNode(row)
}

func (s *sqliteStore) Delete(ids []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM memory_nodes WHERE node_id = ?`, id); err != nil {
			return fmt.Errorf("delete node %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) All() ([]*MemoryNode, error) {
	rows, err := s.db.Query(
		`SELECT node_id, agent_id, task_context, result_kind, result_data, metadata, links, timestamp
		 FROM memory_nodes ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("query all nodes: %w", err)
	}
	defer rows.Close()

	var out []*MemoryNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Count() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memory_nodes`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count nodes: %w", err)
	}
	return count, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanNode(row scannable) (*MemoryNode, error) {
	var (
		n                            MemoryNode
		kind                         string
		dataJSON, metaJSON, linksJSON []byte
		ts                           int64
	)
	if err := row.Scan(&n.NodeID, &n.AgentID, &n.TaskContext, &kind, &dataJSON, &metaJSON, &linksJSON, &ts); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUnknownNode
		}
		return nil, fmt.Errorf("scan node: %w", err)
	}

	n.Result.Kind = PayloadKind(kind)
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &n.Result.Data); err != nil {
			return nil, fmt.Errorf("unmarshal result data: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &n.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(linksJSON) > 0 {
		if err := json.Unmarshal(linksJSON, &n.Links); err != nil {
			return nil, fmt.Errorf("unmarshal links: %w", err)
		}
	}
	n.Timestamp = time.Unix(0, ts).UTC()
	return &n, nil
}
