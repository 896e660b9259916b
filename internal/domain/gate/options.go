package gate

import "github.com/okian/tabulator/pkg/logger"

// Option configures a Gate.
type Option func(*Gate)

// WithMarker sets the change marker touched on every transition.
func WithMarker(m Marker) Option {
	return func(g *Gate) { g.marker = m }
}

// WithNotifier sets the transition event sink.
func WithNotifier(n Notifier) Option {
	return func(g *Gate) { g.notifier = n }
}

// WithLogger sets the gate logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}
