// Package proto defines the wire vocabulary spoken over the board and user
// websocket channels.
//
// Messages are JSON tagged unions: struct and newtype variants encode as a
// single-key object ({"SetIOOutput":{...}}), unit variants encode as a bare
// string ("SubscribeIOChange"). This matches the frames the deployed boards
// and the web client already speak.
package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// IOSetting carries a variable-width I/O bit vector. Mask selects the pins
// the operation applies to, Data holds their values. Both are hex-encoded
// bit strings; nil means "not specified" and leaves the side untouched.
type IOSetting struct {
	Mask *string `json:"mask"`
	Data *string `json:"data"`
}

// BoardInfo is the device identity a board declares at authentication time.
// It is a display/equality key for the admin surface, not the binding key.
type BoardInfo struct {
	Remote          string `json:"remote"`
	SoftwareVersion string `json:"software_version"`
	HardwareVersion string `json:"hardware_version"`
}

// AuthenticateArgs is the payload of the board Authenticate variant.
type AuthenticateArgs struct {
	Password        string `json:"password"`
	SoftwareVersion string `json:"software_version"`
	HardwareVersion string `json:"hardware_version"`
}

var errNotOneVariant = errors.New("proto: frame must carry exactly one variant")

// encodeTagged renders {"Tag":payload}.
func encodeTagged(tag string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(tag) + len(raw) + 4)
	buf.WriteByte('{')
	buf.WriteByte('"')
	buf.WriteString(tag)
	buf.WriteByte('"')
	buf.WriteByte(':')
	buf.Write(raw)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// encodeUnit renders "Tag".
func encodeUnit(tag string) ([]byte, error) {
	return json.Marshal(tag)
}

// decodeTagged splits a frame into its variant tag and raw payload.
// Unit variants yield a nil payload.
func decodeTagged(data []byte) (string, json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", nil, errors.New("proto: empty frame")
	}

	if trimmed[0] == '"' {
		var tag string
		if err := json.Unmarshal(trimmed, &tag); err != nil {
			return "", nil, err
		}
		return tag, nil, nil
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return "", nil, err
	}
	if len(m) != 1 {
		return "", nil, errNotOneVariant
	}
	for tag, payload := range m {
		return tag, payload, nil
	}
	return "", nil, errNotOneVariant
}

func unknownVariant(union, tag string) error {
	return fmt.Errorf("proto: unknown %s variant %q", union, tag)
}
