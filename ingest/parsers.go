package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"argus/core"

	"github.com/vmihailenco/msgpack/v5"
)

// ParseJSON decodes a JSON record and normalizes it.
func ParseJSON(raw []byte) (*core.Event, error) {
	var record map[string]interface{}
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("invalid JSON record: %w", err)
	}
	return Normalize(record)
}

// ParseMsgpack decodes a MessagePack-encoded record map and normalizes it.
// Agents using the fluent-forward encoding send the record as a string-keyed
// map with a Unix-seconds or string timestamp.
func ParseMsgpack(data []byte) (*core.Event, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	record, err := dec.DecodeMap()
	if err != nil {
		return nil, fmt.Errorf("invalid msgpack record: %w", err)
	}
	return Normalize(record)
}
