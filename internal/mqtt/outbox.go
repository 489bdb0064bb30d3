package mqtt

// outMsg is a serialized message held for replay after reconnection.
type outMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while offline, oldest first, up to a
// fixed capacity. When full it evicts the oldest QoS 0 message (telemetry)
// so lifecycle events survive a long outage; only when every held message
// is QoS 1 does it evict the oldest of those.
//
// Not safe for concurrent use; RealPublisher guards it with its mutex.
type outbox struct {
	msgs     []outMsg
	capacity int
	dropped  int // evictions since the last drain
}

func newOutbox(capacity int) *outbox {
	return &outbox{
		msgs:     make([]outMsg, 0, capacity),
		capacity: capacity,
	}
}

// push appends msg, evicting one message when full. It reports true on the
// first eviction since the last drain.
func (o *outbox) push(msg outMsg) (firstDrop bool) {
	if len(o.msgs) == o.capacity {
		o.evict()
		o.dropped++
		firstDrop = o.dropped == 1
	}
	o.msgs = append(o.msgs, msg)
	return firstDrop
}

func (o *outbox) evict() {
	victim := 0
	for i, m := range o.msgs {
		if m.qos == 0 {
			victim = i
			break
		}
	}
	o.msgs = append(o.msgs[:victim], o.msgs[victim+1:]...)
}

// drain returns every held message, oldest first, and how many were evicted
// while they waited. The outbox is empty afterwards.
func (o *outbox) drain() ([]outMsg, int) {
	if len(o.msgs) == 0 {
		d := o.dropped
		o.dropped = 0
		return nil, d
	}
	out := make([]outMsg, len(o.msgs))
	copy(out, o.msgs)
	d := o.dropped
	o.msgs = o.msgs[:0]
	o.dropped = 0
	return out, d
}

func (o *outbox) len() int {
	return len(o.msgs)
}
