package relay

const (
	// Heartbeat is the reserved liveness payload. It is never fanned out.
	Heartbeat = "heart"
	// Separator terminates every message inside a batched frame.
	Separator = "\n"

	DefaultBatchSize  = 100
	DefaultAckMessage = "connected"
)

// Options tunes the fan-out engine.
type Options struct {
	// BatchSize caps how many queued messages one outbound frame carries.
	BatchSize int
	// MailboxLimit bounds each subscriber's backlog; 0 means unbounded.
	MailboxLimit int
	// Heartbeat overrides the sentinel payload filtered from fan-out.
	Heartbeat string
	// AckMessage is sent directly to a subscriber once it registers. Empty
	// disables the acknowledgement.
	AckMessage string
}

// DefaultOptions returns the stock engine settings.
func DefaultOptions() Options {
	return Options{
		BatchSize:  DefaultBatchSize,
		Heartbeat:  Heartbeat,
		AckMessage: DefaultAckMessage,
	}
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MailboxLimit < 0 {
		o.MailboxLimit = 0
	}
	if o.Heartbeat == "" {
		o.Heartbeat = Heartbeat
	}
	return o
}
