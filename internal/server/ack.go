package server

// Ack is the optional acknowledgment attached to an inbound event. It has two
// arms: NoAck, where the client registered no callback, and AckWith, which
// carries a sink that must be invoked at most once.
//
// An Ack belongs to a single dispatch and is not safe for concurrent use.
type Ack struct {
	sink func(AckResponse)
	sent bool
}

// NoAck returns an Ack for an event without a completion callback.
func NoAck() *Ack {
	return &Ack{}
}

// AckWith returns an Ack that delivers its response to sink.
func AckWith(sink func(AckResponse)) *Ack {
	return &Ack{sink: sink}
}

// Requested reports whether the client asked for an acknowledgment.
func (a *Ack) Requested() bool {
	return a != nil && a.sink != nil
}

// Send delivers resp if an acknowledgment was requested and none has been
// sent yet. It reports whether resp was delivered.
func (a *Ack) Send(resp AckResponse) bool {
	if !a.Requested() || a.sent {
		return false
	}
	a.sent = true
	a.sink(resp)
	return true
}
