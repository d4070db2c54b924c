package chat

import (
	"fmt"

	"github.com/cyberinferno/go-chatroom/insult"
	"github.com/cyberinferno/go-chatroom/logger"
	"github.com/cyberinferno/go-chatroom/metrics"
	"github.com/cyberinferno/go-chatroom/protocol"
	"github.com/cyberinferno/go-chatroom/registry"
)

// Router kinds used for metrics labels and log fields.
const (
	kindBroadcast = "broadcast"
	kindDirect    = "direct"
	kindInsult    = "insult"
)

// Router delivers chat frames to registered members. It holds no lock while
// sending and never waits on a recipient that can refuse a frame, so a failure
// or a full outbox on one recipient never keeps the frame from the rest.
type Router struct {
	registry *registry.Registry
	insults  *insult.Pool
	metrics  *metrics.Metrics
	logger   logger.Logger
}

// queuer is implemented by members that can refuse a frame rather than wait
// for room, as *Session does.
type queuer interface {
	TrySend(data []byte) error
}

// NewRouter creates a Router over reg. A nil pool uses insult.Default.
func NewRouter(reg *registry.Registry, pool *insult.Pool, m *metrics.Metrics, l logger.Logger) *Router {
	if pool == nil {
		pool = insult.Default()
	}

	if l == nil {
		l = logger.NewNopLogger()
	}

	return &Router{
		registry: reg,
		insults:  pool,
		metrics:  m,
		logger:   l.With(logger.Field{Key: "component", Value: "router"}),
	}
}

// Broadcast sends Broadcast{sender, text} to every registered member, the
// sender included.
//
// Returns:
//   - The number of members the frame was queued for
//   - ErrMessageTooLong if the frame cannot be encoded; nobody receives it
func (r *Router) Broadcast(sender, text string) (int, error) {
	return r.fanOut(kindBroadcast, protocol.Broadcast{Sender: sender, Message: text})
}

// Direct sends Direct{sender, recipient, text} to the member registered as
// recipient. When there is none, the sender (if still registered) gets
// Failed{"User not found: <recipient>"} instead.
//
// Returns:
//   - nil when the frame was queued, ErrRoutingMiss when the recipient is not
//     registered, ErrMessageTooLong when the frame cannot be encoded, or the
//     recipient's send error
func (r *Router) Direct(sender, recipient, text string) error {
	target, ok := r.registry.Lookup(recipient)
	if !ok {
		r.logger.Info("direct message recipient not found",
			logger.Field{Key: "sender", Value: sender},
			logger.Field{Key: "recipient", Value: recipient},
		)
		r.notifySender(sender, protocol.Failed{Message: fmt.Sprintf(msgUserNotFound, recipient)})
		return fmt.Errorf("%w: %s", ErrRoutingMiss, recipient)
	}

	data, err := protocol.Encode(protocol.Direct{Sender: sender, Recipient: recipient, Message: text})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMessageTooLong, err)
	}

	if err := deliver(target, data); err != nil {
		r.deliveryFailed(kindDirect, recipient, err)
		return fmt.Errorf("direct to %s: %w", recipient, err)
	}

	r.metrics.RecordRouted(kindDirect, 1)
	return nil
}

// Insult broadcasts Broadcast{sender, "<sender> -> <recipient>: <phrase>"} to
// every registered member. recipient need not be registered.
//
// Returns:
//   - The number of members the frame was queued for
//   - ErrMessageTooLong if the formatted line does not fit in one string field
func (r *Router) Insult(sender, recipient string) (int, error) {
	line := fmt.Sprintf(insultFormat, sender, recipient, r.insults.Pick())
	return r.fanOut(kindInsult, protocol.Broadcast{Sender: sender, Message: line})
}

// ForceLogoff unregisters username and closes its session if the member
// supports closing. The session's own cleanup finishes the teardown.
//
// Returns:
//   - true if a member was registered under username
func (r *Router) ForceLogoff(username string) bool {
	m, ok := r.registry.Lookup(username)
	if !ok {
		return false
	}

	if !r.registry.Remove(username, m) {
		return false
	}

	r.metrics.UserLeft()
	r.logger.Info("forced logoff", logger.Field{Key: "username", Value: username})

	if c, ok := m.(interface{ Close() error }); ok {
		_ = c.Close()
	}

	return true
}

func (r *Router) fanOut(kind string, f protocol.Frame) (int, error) {
	data, err := protocol.Encode(f)
	if err != nil {
		r.logger.Warn("frame not routable", logger.Field{Key: "kind", Value: kind}, logger.Err(err))
		return 0, fmt.Errorf("%w: %w", ErrMessageTooLong, err)
	}

	delivered := 0
	for _, m := range r.registry.Members() {
		if err := deliver(m, data); err != nil {
			r.deliveryFailed(kind, m.Username(), err)
			continue
		}
		delivered++
	}

	r.metrics.RecordRouted(kind, delivered)
	return delivered, nil
}

// deliver hands data to m without waiting when m supports it.
func deliver(m registry.Member, data []byte) error {
	if q, ok := m.(queuer); ok {
		return q.TrySend(data)
	}

	return m.Send(data)
}

// notifySender answers the sender on its own session; Send may wait for room
// because the caller is that session's read loop.
func (r *Router) notifySender(sender string, f protocol.Frame) {
	m, ok := r.registry.Lookup(sender)
	if !ok {
		return
	}

	data, err := protocol.Encode(f)
	if err != nil {
		r.logger.Warn("reply not encodable", logger.Field{Key: "sender", Value: sender}, logger.Err(err))
		return
	}

	if err := m.Send(data); err != nil {
		r.deliveryFailed(kindDirect, sender, err)
	}
}

func (r *Router) deliveryFailed(kind, recipient string, err error) {
	r.metrics.RecordDeliveryFailure()
	r.logger.Warn("delivery failed",
		logger.Field{Key: "kind", Value: kind},
		logger.Field{Key: "recipient", Value: recipient},
		logger.Err(err),
	)
}
