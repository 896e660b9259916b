package service

import (
	"github.com/okian/tabulator/internal/adapters/notify"
	"github.com/okian/tabulator/internal/domain/gate"
	"github.com/okian/tabulator/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithNotifier sets where state change events go.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMarker sets the change marker touched on every band transition.
func WithMarker(m gate.Marker) Option {
	return func(s *Service) { s.marker = m }
}

// WithTopN sets the default leaderboard cut.
func WithTopN(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.topN = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
