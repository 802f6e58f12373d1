package event

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var embeddedSchemas embed.FS

// SchemaSet validates events against the envelope rules and one compiled
// JSON Schema per domain payload.
type SchemaSet struct {
	schemas map[Domain]*jsonschema.Schema
}

var defaultSchemas = sync.OnceValue(func() *SchemaSet {
	sub, err := fs.Sub(embeddedSchemas, "schemas")
	if err != nil {
		panic(err)
	}
	set, err := NewSchemaSet(sub)
	if err != nil {
		panic(fmt.Sprintf("event: embedded schemas: %v", err))
	}
	return set
})

// DefaultSchemas returns the schema set compiled from the schemas shipped
// with this package.
func DefaultSchemas() *SchemaSet {
	return defaultSchemas()
}

// NewSchemaSet compiles "<domain>.json" from fsys for every domain.
// A missing file for any domain is an error.
func NewSchemaSet(fsys fs.FS) (*SchemaSet, error) {
	c := jsonschema.NewCompiler()
	set := &SchemaSet{schemas: make(map[Domain]*jsonschema.Schema, len(domainActions))}

	for _, d := range Domains() {
		name := string(d) + ".json"
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		url := "mem://orchestra/" + name
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		set.schemas[d] = compiled
	}
	return set, nil
}

// Validate checks the envelope and the payload of evt. It returns a
// *ValidationError describing the first violation found.
func (s *SchemaSet) Validate(evt Event) error {
	fail := func(field, msg string, err error) error {
		return &ValidationError{EventType: evt.Type, Field: field, Message: msg, Err: err}
	}

	switch {
	case evt.ID == "":
		return fail("/id", "id is required", nil)
	case evt.Timestamp <= 0:
		return fail("/timestamp", "timestamp must be positive", nil)
	case evt.SessionID == "":
		return fail("/sessionId", "sessionId is required", nil)
	case evt.TenantID == "":
		return fail("/tenantId", "tenantId is required", nil)
	case !evt.Domain.Valid():
		return fail("/domain", fmt.Sprintf("unknown domain %q", evt.Domain), ErrUnknownDomain)
	case !evt.Domain.Allows(evt.Action):
		return fail("/action", fmt.Sprintf("action %q not allowed in domain %s", evt.Action, evt.Domain), ErrUnknownAction)
	case evt.Type != TypeOf(evt.Domain, evt.Action):
		return fail("/type", fmt.Sprintf("type must be %q", TypeOf(evt.Domain, evt.Action)), nil)
	case evt.Payload == nil:
		return fail("/payload", "payload is required", nil)
	case evt.Payload.Domain() != evt.Domain:
		return fail("/payload", fmt.Sprintf("%s payload on %s event", evt.Payload.Domain(), evt.Domain), nil)
	}

	if err := s.ValidatePayload(evt.Payload); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.EventType = evt.Type
		}
		return err
	}
	return nil
}

// ValidatePayload checks p against its domain schema.
func (s *SchemaSet) ValidatePayload(p Payload) error {
	schema, ok := s.schemas[p.Domain()]
	if !ok {
		return &ValidationError{Field: "/payload", Message: "no schema for domain " + string(p.Domain()), Err: ErrUnknownDomain}
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return &ValidationError{Field: "/payload", Message: "payload is not serializable", Err: err}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &ValidationError{Field: "/payload", Message: "payload is not valid JSON", Err: err}
	}

	if err := schema.Validate(inst); err != nil {
		field := "/payload"
		var serr *jsonschema.ValidationError
		if errors.As(err, &serr) && len(serr.InstanceLocation) > 0 {
			field += "/" + strings.Join(serr.InstanceLocation, "/")
		}
		return &ValidationError{Field: field, Message: "payload does not match schema", Err: err}
	}
	return nil
}
