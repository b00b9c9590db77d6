package server

import "testing"

func TestNoAck(t *testing.T) {
	ack := NoAck()
	if ack.Requested() {
		t.Error("NoAck().Requested() = true")
	}
	if ack.Send(AckResponse{Success: true}) {
		t.Error("NoAck().Send() reported delivery")
	}

	var nilAck *Ack
	if nilAck.Requested() {
		t.Error("nil Ack reports Requested")
	}
}

func TestAckWithDeliversOnce(t *testing.T) {
	var got []AckResponse
	ack := AckWith(func(resp AckResponse) { got = append(got, resp) })

	if !ack.Requested() {
		t.Fatal("AckWith().Requested() = false")
	}
	if !ack.Send(AckResponse{Success: true, Message: "first"}) {
		t.Error("first Send() not delivered")
	}
	if ack.Send(AckResponse{Success: false, Message: "second"}) {
		t.Error("second Send() delivered")
	}

	if len(got) != 1 || got[0].Message != "first" {
		t.Errorf("sink received %+v, want only the first response", got)
	}
}
