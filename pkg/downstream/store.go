package downstream

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/oteldemo/pkg/observability"
)

// TableName is the demo table queried on every request.
const TableName = "oteldemo"

// NamesQuery is the fixed read issued per request.
const NamesQuery = "SELECT Name FROM " + TableName

// NameStore reads the demo names from the backing store.
type NameStore struct {
	db *sql.DB
}

// NewNameStore creates a store over db. Pooling is left to database/sql.
func NewNameStore(db *sql.DB) *NameStore {
	return &NameStore{db: db}
}

// Names acquires a dedicated connection, reads every name in result order,
// releases the connection, and records the result as the JSON attribute
// "Names" on the span in ctx.
func (s *NameStore) Names(ctx context.Context) ([]string, error) {
	names, err := s.query(ctx)
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("encode names: %w", err)
	}
	observability.SetSpanAttributes(ctx, observability.AttrNames.String(string(b)))

	return names, nil
}

func (s *NameStore) query(ctx context.Context) ([]string, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	rows, err := conn.QueryContext(ctx, NamesQuery)
	if err != nil {
		return nil, fmt.Errorf("query names: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read names: %w", err)
	}
	return names, nil
}
