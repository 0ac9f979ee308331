package proto

import (
	"encoding/json"
	"errors"
)

// BoardMessage is a device-to-server frame. Exactly one field is non-nil.
//
// Before authentication only Authenticate is legal; the board session closes
// the connection on anything else.
type BoardMessage struct {
	Authenticate           *AuthenticateArgs
	ProgramBitstreamFinish *bool
	ReportIOChange         *IOSetting
}

// MarshalJSON encodes the set variant in externally-tagged form.
func (m BoardMessage) MarshalJSON() ([]byte, error) {
	switch {
	case m.Authenticate != nil:
		return encodeTagged("Authenticate", m.Authenticate)
	case m.ProgramBitstreamFinish != nil:
		return encodeTagged("ProgramBitstreamFinish", *m.ProgramBitstreamFinish)
	case m.ReportIOChange != nil:
		return encodeTagged("ReportIOChange", m.ReportIOChange)
	}
	return nil, errors.New("proto: empty BoardMessage")
}

// UnmarshalJSON decodes an externally-tagged board frame.
func (m *BoardMessage) UnmarshalJSON(data []byte) error {
	tag, payload, err := decodeTagged(data)
	if err != nil {
		return err
	}

	*m = BoardMessage{}
	switch tag {
	case "Authenticate":
		m.Authenticate = new(AuthenticateArgs)
		return json.Unmarshal(payload, m.Authenticate)
	case "ProgramBitstreamFinish":
		m.ProgramBitstreamFinish = new(bool)
		return json.Unmarshal(payload, m.ProgramBitstreamFinish)
	case "ReportIOChange":
		m.ReportIOChange = new(IOSetting)
		return json.Unmarshal(payload, m.ReportIOChange)
	}
	return unknownVariant("BoardMessage", tag)
}

// BoardCommand is a server-to-device frame: the command vocabulary users may
// issue against their bound board, relayed verbatim by the broker. Bitstream
// payloads travel as raw binary frames, never inside a BoardCommand.
type BoardCommand struct {
	SetIOOutput         *IOSetting
	SetIODirection      *IOSetting
	SubscribeIOChange   bool
	UnsubscribeIOChange bool
	Ident               *bool
}

// MarshalJSON encodes the set variant in externally-tagged form.
func (c BoardCommand) MarshalJSON() ([]byte, error) {
	switch {
	case c.SetIOOutput != nil:
		return encodeTagged("SetIOOutput", c.SetIOOutput)
	case c.SetIODirection != nil:
		return encodeTagged("SetIODirection", c.SetIODirection)
	case c.SubscribeIOChange:
		return encodeUnit("SubscribeIOChange")
	case c.UnsubscribeIOChange:
		return encodeUnit("UnsubscribeIOChange")
	case c.Ident != nil:
		return encodeTagged("Ident", *c.Ident)
	}
	return nil, errors.New("proto: empty BoardCommand")
}

// UnmarshalJSON decodes an externally-tagged command frame.
func (c *BoardCommand) UnmarshalJSON(data []byte) error {
	tag, payload, err := decodeTagged(data)
	if err != nil {
		return err
	}

	*c = BoardCommand{}
	switch tag {
	case "SetIOOutput":
		c.SetIOOutput = new(IOSetting)
		return json.Unmarshal(payload, c.SetIOOutput)
	case "SetIODirection":
		c.SetIODirection = new(IOSetting)
		return json.Unmarshal(payload, c.SetIODirection)
	case "SubscribeIOChange":
		if payload != nil {
			return errors.New("proto: SubscribeIOChange takes no payload")
		}
		c.SubscribeIOChange = true
		return nil
	case "UnsubscribeIOChange":
		if payload != nil {
			return errors.New("proto: UnsubscribeIOChange takes no payload")
		}
		c.UnsubscribeIOChange = true
		return nil
	case "Ident":
		c.Ident = new(bool)
		return json.Unmarshal(payload, c.Ident)
	}
	return unknownVariant("BoardCommand", tag)
}
