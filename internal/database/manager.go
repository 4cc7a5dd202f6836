package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Factory builds an unconnected Connector for an engine name.
type Factory func(engine string) (Connector, error)

// Info describes a registered connection.
type Info struct {
	ID        string `json:"id"`
	Engine    string `json:"engine"`
	Host      string `json:"host,omitempty"`
	Database  string `json:"database,omitempty"`
	Connected bool   `json:"connected"`
}

type entry struct {
	id     string
	host   string
	conn   Connector
	active sync.Mutex
}

// Manager is the registry of named connections shared by concurrent agent
// runs. Create and Remove are serialized per id; the map lock is never held
// while connecting or closing.
type Manager struct {
	factory Factory

	mu      sync.Mutex
	entries map[string]*entry
	locks   map[string]*sync.Mutex
}

func NewManager(factory Factory) *Manager {
	return &Manager{
		factory: factory,
		entries: map[string]*entry{},
		locks:   map[string]*sync.Mutex{},
	}
}

// Create connects a new connector and registers it under id, closing any
// connector it replaces.
func (m *Manager) Create(ctx context.Context, id, engine string, cfg ConnectionConfig) (Connector, error) {
	if id == "" {
		return nil, fmt.Errorf("connection id is required")
	}
	if m.factory == nil {
		return nil, fmt.Errorf("connector factory is required")
	}
	lock := m.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	conn, err := m.factory(engine)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx, cfg); err != nil {
		return nil, err
	}

	m.mu.Lock()
	old := m.entries[id]
	m.entries[id] = &entry{id: id, host: hostPort(cfg), conn: conn}
	m.mu.Unlock()

	if old != nil {
		_ = old.conn.Close()
	}
	return conn, nil
}

// Register adds an already connected connector.
func (m *Manager) Register(id string, conn Connector) {
	lock := m.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	old := m.entries[id]
	m.entries[id] = &entry{id: id, conn: conn}
	m.mu.Unlock()
	if old != nil && old.conn != conn {
		_ = old.conn.Close()
	}
}

func (m *Manager) Get(id string) (Connector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("connection %q %w", id, ErrConnectionNotFound)
	}
	return e.conn, nil
}

// Acquire hands out exclusive use of a connection for one agent run. The
// returned release func must be called when the run ends.
func (m *Manager) Acquire(id string) (Connector, func(), error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("connection %q %w", id, ErrConnectionNotFound)
	}
	if !e.active.TryLock() {
		return nil, nil, fmt.Errorf("connection %q: %w", id, ErrConnectionBusy)
	}
	var once sync.Once
	return e.conn, func() { once.Do(e.active.Unlock) }, nil
}

func (m *Manager) Remove(id string) error {
	lock := m.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	e, ok := m.entries[id]
	delete(m.entries, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("connection %q %w", id, ErrConnectionNotFound)
	}
	return e.conn.Close()
}

func (m *Manager) IDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (m *Manager) List() []Info {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, Info{
			ID:        e.id,
			Engine:    e.conn.Engine(),
			Host:      e.host,
			Database:  e.conn.CurrentDatabase(),
			Connected: e.conn.IsConnected(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (m *Manager) CloseAll() error {
	m.mu.Lock()
	entries := m.entries
	m.entries = map[string]*entry{}
	m.mu.Unlock()

	var errs []error
	for id, e := range entries {
		if err := e.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) idLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}
