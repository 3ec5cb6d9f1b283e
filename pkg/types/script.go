package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Script is a raw output script (scriptPubKey). It is kept opaque: the
// sync core only carries scripts between the engine and the block source.
//
// Script is a string so that watch entries containing it stay comparable
// and can be used directly as map keys.
type Script string

// ScriptFromBytes wraps raw script bytes.
func ScriptFromBytes(b []byte) Script {
	return Script(b)
}

// Bytes returns a copy of the raw script.
func (s Script) Bytes() []byte {
	return []byte(s)
}

// Len returns the script length in bytes.
func (s Script) Len() int {
	return len(s)
}

// String returns the hex encoding of the script.
func (s Script) String() string {
	return hex.EncodeToString([]byte(s))
}

// MarshalJSON encodes the script as hex.
func (s Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a hex script.
func (s *Script) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return fmt.Errorf("invalid script hex: %w", err)
	}
	*s = Script(b)
	return nil
}
