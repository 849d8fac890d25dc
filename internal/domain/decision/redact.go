package decision

import "encoding/json"

// Redactor reduces a free-form raw payload to an allow-listed, size-capped
// subset. Purely functional.
type Redactor struct {
	allowKeys map[string]struct{}
	maxBytes  int
}

func NewRedactor(allowKeys []string, maxBytes int) *Redactor {
	allowed := make(map[string]struct{}, len(allowKeys))
	for _, k := range allowKeys {
		allowed[k] = struct{}{}
	}
	return &Redactor{allowKeys: allowed, maxBytes: maxBytes}
}

// Redact keeps only allow-listed top-level keys. If the allow-listed subset
// still serializes above the byte cap the payload is dropped entirely rather
// than truncated mid-structure.
func (r *Redactor) Redact(payload map[string]any) map[string]any {
	if len(payload) == 0 {
		return nil
	}

	kept := make(map[string]any, len(r.allowKeys))
	for k, v := range payload {
		if _, ok := r.allowKeys[k]; ok {
			kept[k] = v
		}
	}
	if len(kept) == 0 {
		return nil
	}

	serialized, err := json.Marshal(kept)
	if err != nil || len(serialized) > r.maxBytes {
		return nil
	}
	return kept
}
