package intent

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"wattsup/internal/domain"
)

//go:embed responses.yaml
var defaultResponses []byte

// ResponseTable maps each intent onto its canned reply. It is read-only once
// built.
type ResponseTable struct {
	replies map[domain.Intent]string
}

// DefaultResponseTable returns the embedded reply table.
func DefaultResponseTable() (ResponseTable, error) {
	return ParseResponseTable(defaultResponses)
}

// ParseResponseTable decodes a YAML label -> reply document and checks that
// it covers exactly the known intents.
func ParseResponseTable(data []byte) (ResponseTable, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return ResponseTable{}, fmt.Errorf("intent: decode response table: %w", err)
	}

	replies := make(map[domain.Intent]string, len(raw))
	for label, text := range raw {
		in, err := domain.ParseIntent(label)
		if err != nil {
			return ResponseTable{}, fmt.Errorf("intent: response table: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			return ResponseTable{}, fmt.Errorf("intent: response table: empty reply for %q", label)
		}
		replies[in] = text
	}

	var missing []string
	for _, in := range domain.Intents() {
		if _, ok := replies[in]; !ok {
			missing = append(missing, string(in))
		}
	}
	if len(missing) > 0 {
		return ResponseTable{}, errors.New("intent: response table missing replies for " + strings.Join(missing, ", "))
	}
	return ResponseTable{replies: replies}, nil
}

// Lookup returns the canned reply for in.
func (t ResponseTable) Lookup(in domain.Intent) (string, bool) {
	text, ok := t.replies[in]
	return text, ok
}

// Covers reports whether every label in labels has a reply.
func (t ResponseTable) Covers(labels []domain.Intent) error {
	for _, in := range labels {
		if _, ok := t.replies[in]; !ok {
			return fmt.Errorf("%w: %q", ErrLabelTableMismatch, in)
		}
	}
	return nil
}
