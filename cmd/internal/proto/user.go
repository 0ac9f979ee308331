package proto

import (
	"encoding/json"
	"errors"
)

// UserMessage is a client-to-server frame. Exactly one field is non-nil.
type UserMessage struct {
	// RequestForBoard asks the broker for an idle board. The string payload
	// is ignored; it exists for wire compatibility with deployed clients.
	RequestForBoard *string
	// ToBoard relays a command to the caller's bound board.
	ToBoard *BoardCommand
	// ProgramBitstream names a finished build job whose artifact should be
	// programmed onto the bound board.
	ProgramBitstream *int64
}

// MarshalJSON encodes the set variant in externally-tagged form.
func (m UserMessage) MarshalJSON() ([]byte, error) {
	switch {
	case m.RequestForBoard != nil:
		return encodeTagged("RequestForBoard", *m.RequestForBoard)
	case m.ToBoard != nil:
		return encodeTagged("ToBoard", m.ToBoard)
	case m.ProgramBitstream != nil:
		return encodeTagged("ProgramBitstream", *m.ProgramBitstream)
	}
	return nil, errors.New("proto: empty UserMessage")
}

// UnmarshalJSON decodes an externally-tagged user frame.
func (m *UserMessage) UnmarshalJSON(data []byte) error {
	tag, payload, err := decodeTagged(data)
	if err != nil {
		return err
	}

	*m = UserMessage{}
	switch tag {
	case "RequestForBoard":
		m.RequestForBoard = new(string)
		return json.Unmarshal(payload, m.RequestForBoard)
	case "ToBoard":
		m.ToBoard = new(BoardCommand)
		return json.Unmarshal(payload, m.ToBoard)
	case "ProgramBitstream":
		m.ProgramBitstream = new(int64)
		return json.Unmarshal(payload, m.ProgramBitstream)
	}
	return unknownVariant("UserMessage", tag)
}

// AllocateResult is the payload of BoardAllocateResult. Remote is the bound
// board's remote identity on success and nil when no board was available.
type AllocateResult struct {
	Remote *string
}

// UserEvent is a server-to-client frame. Exactly one field is non-nil.
type UserEvent struct {
	BoardAllocateResult    *AllocateResult
	ReportIOChange         *IOSetting
	BoardDisconnected      *string
	ProgramBitstreamFinish *bool
}

// MarshalJSON encodes the set variant in externally-tagged form.
// BoardAllocateResult carries a nullable string, so a miss encodes as
// {"BoardAllocateResult":null}.
func (e UserEvent) MarshalJSON() ([]byte, error) {
	switch {
	case e.BoardAllocateResult != nil:
		return encodeTagged("BoardAllocateResult", e.BoardAllocateResult.Remote)
	case e.ReportIOChange != nil:
		return encodeTagged("ReportIOChange", e.ReportIOChange)
	case e.BoardDisconnected != nil:
		return encodeTagged("BoardDisconnected", *e.BoardDisconnected)
	case e.ProgramBitstreamFinish != nil:
		return encodeTagged("ProgramBitstreamFinish", *e.ProgramBitstreamFinish)
	}
	return nil, errors.New("proto: empty UserEvent")
}

// UnmarshalJSON decodes an externally-tagged user event frame.
func (e *UserEvent) UnmarshalJSON(data []byte) error {
	tag, payload, err := decodeTagged(data)
	if err != nil {
		return err
	}

	*e = UserEvent{}
	switch tag {
	case "BoardAllocateResult":
		res := new(AllocateResult)
		if err := json.Unmarshal(payload, &res.Remote); err != nil {
			return err
		}
		e.BoardAllocateResult = res
		return nil
	case "ReportIOChange":
		e.ReportIOChange = new(IOSetting)
		return json.Unmarshal(payload, e.ReportIOChange)
	case "BoardDisconnected":
		e.BoardDisconnected = new(string)
		return json.Unmarshal(payload, e.BoardDisconnected)
	case "ProgramBitstreamFinish":
		e.ProgramBitstreamFinish = new(bool)
		return json.Unmarshal(payload, e.ProgramBitstreamFinish)
	}
	return unknownVariant("UserEvent", tag)
}
