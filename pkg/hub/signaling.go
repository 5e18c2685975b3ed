package hub

import (
	"log/slog"

	"github.com/NicolasHaas/walkie/pkg/protocol"
)

// Router delivers point-to-point messages to exactly one named connection.
type Router struct {
	registry  *Registry
	metrics   *Metrics
	logger    *slog.Logger
	onFailure failureFunc
}

// NewRouter creates a Router over registry.
func NewRouter(registry *Registry, metrics *Metrics, logger *slog.Logger, onFailure failureFunc) *Router {
	return &Router{registry: registry, metrics: metrics, logger: logger, onFailure: onFailure}
}

// SendTo delivers msg to username if it is online. It reports whether the
// message was handed to the connection.
func (r *Router) SendTo(username string, msg []byte) bool {
	conn, ok := r.registry.Lookup(username)
	if !ok {
		return false
	}
	return deliver(username, conn, msg, r.onFailure)
}

// RouteRing delivers one ring from from to to. A ring for an offline user is
// dropped without notifying the caller.
func (r *Router) RouteRing(from, to string) bool {
	if r.SendTo(to, protocol.MustEncode(protocol.Ring(from, to))) {
		r.metrics.RingsDelivered.Add(1)
		r.logger.Debug("ring delivered", "from", from, "to", to)
		return true
	}
	r.metrics.RingsDropped.Add(1)
	r.logger.Info("ring target not connected", "from", from, "to", to)
	return false
}
