package annotation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Decode parses a stored dense annotation set.
//
// Keys beginning with "_" are metadata and are skipped. Every other key must
// hold an object with a "codes" array and an "annotations" object; anything
// else yields ErrStructuralCorruption, and the caller is expected to discard
// the payload and regenerate from the codebook.
func Decode(raw []byte) (Set, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructuralCorruption, err)
	}

	set := make(Set, len(top))
	for name, body := range top {
		if strings.HasPrefix(name, "_") {
			continue
		}

		var shape struct {
			Codes       json.RawMessage `json:"codes"`
			Annotations json.RawMessage `json:"annotations"`
		}
		if err := json.Unmarshal(body, &shape); err != nil {
			return nil, fmt.Errorf("%w: category %q: %v", ErrStructuralCorruption, name, err)
		}
		if !isJSONKind(shape.Codes, '[') {
			return nil, fmt.Errorf("%w: category %q: codes is not a list", ErrStructuralCorruption, name)
		}
		if !isJSONKind(shape.Annotations, '{') {
			return nil, fmt.Errorf("%w: category %q: annotations is not an object", ErrStructuralCorruption, name)
		}

		var cat Category
		if err := json.Unmarshal(body, &cat); err != nil {
			return nil, fmt.Errorf("%w: category %q: %v", ErrStructuralCorruption, name, err)
		}
		set[name] = &cat
	}
	return set, nil
}

func isJSONKind(raw json.RawMessage, open byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == open
}
