package redact

import (
	"encoding/json"
	"log/slog"
	"strings"
)

const RedactedPlaceholder = "[REDACTED]"

// Redactor masks credential fields in JSON documents before they leave the
// admin API. Field names match case-insensitively at any depth.
type Redactor struct {
	fieldsToRedact map[string]struct{}
	logger         *slog.Logger
}

func NewRedactor(fields []string, logger *slog.Logger) *Redactor {
	fieldSet := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if f := strings.ToLower(strings.TrimSpace(field)); f != "" {
			fieldSet[f] = struct{}{}
		}
	}
	return &Redactor{
		fieldsToRedact: fieldSet,
		logger:         logger.With("component", "redactor"),
	}
}

// Redact returns raw with every configured field masked, and whether anything
// was masked. Empty values are left alone so callers can still tell a missing
// credential from a set one.
func (r *Redactor) Redact(raw []byte) ([]byte, bool, error) {
	if len(r.fieldsToRedact) == 0 || len(raw) == 0 {
		return raw, false, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		r.logger.Warn("failed to unmarshal document for redaction", "error", err)
		return nil, false, err
	}
	if !r.walk(doc) {
		return raw, false, nil
	}

	out, err := json.Marshal(doc)
	if err != nil {
		r.logger.Error("failed to marshal redacted document", "error", err)
		return nil, false, err
	}
	return out, true, nil
}

// Value marshals v and redacts the result.
func (r *Redactor) Value(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out, _, err := r.Redact(raw)
	return out, err
}

func (r *Redactor) walk(node any) bool {
	redacted := false
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			if _, ok := r.fieldsToRedact[strings.ToLower(k)]; ok && !isEmpty(v) {
				n[k] = RedactedPlaceholder
				redacted = true
				continue
			}
			if r.walk(v) {
				redacted = true
			}
		}
	case []any:
		for _, v := range n {
			if r.walk(v) {
				redacted = true
			}
		}
	}
	return redacted
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	}
	return false
}
