package schema

import (
	"context"
	"fmt"
	"sync"
)

// Describer loads the schema of a table from a warehouse.
type Describer interface {
	Describe(ctx context.Context, table string) (*TableSchema, error)
}

// Manager caches table schemas by table name.
type Manager struct {
	describer Describer
	schemas   map[string]*TableSchema
	mu        sync.RWMutex
}

func NewSchemaManager(describer Describer) *Manager {
	return &Manager{
		describer: describer,
		schemas:   make(map[string]*TableSchema),
	}
}

// GetSchema returns schema by table name, loading it if necessary
func (m *Manager) GetSchema(ctx context.Context, table string) (*TableSchema, error) {
	m.mu.RLock()
	schema, exists := m.schemas[table]
	m.mu.RUnlock()

	if exists {
		return schema, nil
	}

	schema, err := m.describer.Describe(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", table, err)
	}

	m.mu.Lock()
	m.schemas[table] = schema
	m.mu.Unlock()

	return schema, nil
}

// Invalidate drops the cached schema of table.
func (m *Manager) Invalidate(table string) {
	m.mu.Lock()
	delete(m.schemas, table)
	m.mu.Unlock()
}
