package disk

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"mercator-hq/tabula/pkg/config"
	"mercator-hq/tabula/pkg/export"
)

// ErrUnknownDisk is returned when a disk identifier is not registered.
var ErrUnknownDisk = errors.New("unknown disk")

// Manager resolves disk identifiers. It implements export.Disks.
type Manager struct {
	mu          sync.RWMutex
	defaultName string
	disks       map[string]export.Disk
}

// NewManager creates a manager with the given default disk identifier.
func NewManager(defaultName string, disks ...export.Disk) *Manager {
	m := &Manager{
		defaultName: defaultName,
		disks:       make(map[string]export.Disk),
	}
	for _, d := range disks {
		m.disks[d.Name()] = d
	}
	return m
}

// NewManagerFromConfig opens every disk declared in cfg.Disks.
func NewManagerFromConfig(cfg *config.Config) (*Manager, error) {
	m := NewManager(cfg.Export.DefaultDisk)

	names := make([]string, 0, len(cfg.Disks))
	for name := range cfg.Disks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d, err := Open(name, cfg.Disks[name], cfg.Queue.Status.BusyTimeout)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.Add(d)
	}

	if _, err := m.Disk(""); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// Open creates the backend described by dc.
func Open(name string, dc config.DiskConfig, busyTimeout time.Duration) (export.Disk, error) {
	switch dc.Driver {
	case "local", "":
		return NewLocalDisk(name, dc.Root, dc.Visibility)
	case "memory":
		d := NewMemoryDisk(name)
		if dc.Visibility != "" {
			d.visibility = dc.Visibility
		}
		return d, nil
	case "sqlite":
		return NewSQLiteDisk(name, &SQLiteConfig{
			Path:        dc.Path,
			Visibility:  dc.Visibility,
			BusyTimeout: busyTimeout,
		})
	default:
		return nil, fmt.Errorf("disk %q: unsupported driver %q", name, dc.Driver)
	}
}

// Add registers d under its name, replacing any previous disk.
func (m *Manager) Add(d export.Disk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disks[d.Name()] = d
}

// Disk returns the disk registered under name. An empty name selects the
// default disk.
func (m *Manager) Disk(name string) (export.Disk, error) {
	if name == "" {
		name = m.defaultName
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDisk, name)
	}
	return d, nil
}

// Names returns the registered disk identifiers in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.disks))
	for name := range m.disks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every disk that holds resources.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, d := range m.disks {
		if c, ok := d.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("disk %q: %w", d.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
