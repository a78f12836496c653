package config

import "log/slog"

// WithLogger is an option to set the logger for the Manager.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.Logger = l
	}
}

// Snapshot returns the current catalog.
func (cm *Manager) Snapshot() Catalog {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return cm.catalog
}
