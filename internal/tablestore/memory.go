package tablestore

import (
	"context"
	"sync"
)

// Memory is an in-process TableStore used by tests and local development.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*memTable
}

type memTable struct {
	headers []string
	rows    [][]any
}

func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*memTable)}
}

func (m *Memory) EnsureTable(_ context.Context, table string, headers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table]; !ok {
		m.tables[table] = &memTable{headers: append([]string(nil), headers...)}
	}
	return nil
}

func (m *Memory) ListRows(_ context.Context, table string) (TableData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return TableData{}, ErrTableNotFound
	}
	data := TableData{Headers: append([]string(nil), t.headers...)}
	for _, r := range t.rows {
		data.Rows = append(data.Rows, append([]any(nil), r...))
	}
	return data, nil
}

func (m *Memory) AppendRow(_ context.Context, table string, values []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return ErrTableNotFound
	}
	t.rows = append(t.rows, append([]any(nil), values...))
	return nil
}

func (m *Memory) UpdateRow(_ context.Context, table string, rowIndex int, values []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return ErrTableNotFound
	}
	if rowIndex < 1 || rowIndex > len(t.rows) {
		return ErrRowNotFound
	}
	t.rows[rowIndex-1] = append([]any(nil), values...)
	return nil
}

func (m *Memory) DeleteRow(_ context.Context, table string, rowIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return ErrTableNotFound
	}
	if rowIndex < 1 || rowIndex > len(t.rows) {
		return ErrRowNotFound
	}
	t.rows = append(t.rows[:rowIndex-1], t.rows[rowIndex:]...)
	return nil
}
