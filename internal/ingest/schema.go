package ingest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaViolation wraps payloads rejected by a source schema.
var ErrSchemaViolation = errors.New("payload does not match schema")

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*gojsonschema.Schema{}
)

func loadSchema(name string) (*gojsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if s, ok := schemaCache[name]; ok {
		return s, nil
	}
	raw, err := configFS.ReadFile("config/schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q: %w", name, err)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", name, err)
	}
	schemaCache[name] = s
	return s, nil
}

// ValidatePayload checks body against the named embedded JSON schema.
// An empty name accepts everything.
func ValidatePayload(name string, body []byte) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	s, err := loadSchema(name)
	if err != nil {
		return err
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if res.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(res.Errors()))
	for i, e := range res.Errors() {
		if i == 3 {
			msgs = append(msgs, "...")
			break
		}
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w %s: %s", ErrSchemaViolation, name, strings.Join(msgs, "; "))
}
