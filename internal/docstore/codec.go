package docstore

import (
	"encoding/json"
	"fmt"
)

// Encode serializes document data.
func Encode(data map[string]interface{}) ([]byte, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return b, nil
}

// Decode parses stored document data. Anything that is not a JSON object
// decodes to an empty document.
func Decode(b []byte) map[string]interface{} {
	out := map[string]interface{}{}
	if len(b) == 0 {
		return out
	}
	if err := json.Unmarshal(b, &out); err != nil || out == nil {
		return map[string]interface{}{}
	}
	return out
}

// Apply computes the stored bytes after writing patch onto existing.
// With merge, top-level fields of patch replace those of existing and all
// other fields are kept; without it the document is replaced.
func Apply(existing []byte, patch map[string]interface{}, merge bool) ([]byte, error) {
	if !merge {
		return Encode(patch)
	}
	doc := Decode(existing)
	for k, v := range patch {
		doc[k] = v
	}
	return Encode(doc)
}
