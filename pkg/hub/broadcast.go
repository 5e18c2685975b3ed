package hub

// failureFunc is told about a recipient whose Send failed.
type failureFunc func(username string, conn Conn, err error)

// Broadcaster fans messages out to registered connections. Sends happen
// outside the registry lock and never block; a failed recipient is reported
// through onFailure and skipped.
type Broadcaster struct {
	registry  *Registry
	onFailure failureFunc
}

// NewBroadcaster creates a Broadcaster over registry. onFailure may be nil.
func NewBroadcaster(registry *Registry, onFailure failureFunc) *Broadcaster {
	return &Broadcaster{registry: registry, onFailure: onFailure}
}

// Broadcast delivers msg to every open registered connection except the one
// registered as exclude (empty excludes nobody). It returns the number of
// successful deliveries.
func (b *Broadcaster) Broadcast(msg []byte, exclude string) int {
	delivered := 0
	for _, p := range b.registry.peers(exclude) {
		if deliver(p.name, p.conn, msg, b.onFailure) {
			delivered++
		}
	}
	return delivered
}

func deliver(username string, conn Conn, msg []byte, onFailure failureFunc) bool {
	if conn.Closed() {
		return false
	}
	if err := conn.Send(msg); err != nil {
		if onFailure != nil {
			onFailure(username, conn, err)
		}
		return false
	}
	return true
}
