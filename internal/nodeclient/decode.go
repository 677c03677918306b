package nodeclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// shape is the top-level form of a node agent response body.
type shape int

const (
	shapeEmpty shape = iota
	shapeItem
	shapeItems
)

func (s shape) String() string {
	switch s {
	case shapeEmpty:
		return "empty"
	case shapeItem:
		return "item"
	case shapeItems:
		return "items"
	default:
		return "unknown"
	}
}

// decoded is a response body normalised to a list of raw VM records.
type decoded struct {
	shape   shape
	records []json.RawMessage
}

var errUnexpectedBody = errors.New("unexpected response body")

// decodeRecords accepts an empty body, JSON null, a single object or an array.
// Records are kept byte-for-byte so the aggregator relays them untouched.
func decodeRecords(body []byte) (decoded, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return decoded{shape: shapeEmpty}, nil
	}
	switch trimmed[0] {
	case '{':
		if !json.Valid(trimmed) {
			return decoded{}, fmt.Errorf("%w: invalid json object", errUnexpectedBody)
		}
		return decoded{shape: shapeItem, records: []json.RawMessage{json.RawMessage(trimmed)}}, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return decoded{}, fmt.Errorf("%w: %v", errUnexpectedBody, err)
		}
		out := make([]json.RawMessage, 0, len(items))
		for _, it := range items {
			if t := bytes.TrimSpace(it); len(t) > 0 && !bytes.Equal(t, []byte("null")) {
				out = append(out, it)
			}
		}
		return decoded{shape: shapeItems, records: out}, nil
	default:
		return decoded{}, fmt.Errorf("%w: starts with %q", errUnexpectedBody, trimmed[0])
	}
}
