package engine

import (
	"encoding/json"
	"errors"

	"github.com/getkin/kin-openapi/openapi3"
)

// Document schemas for designs, actions and activities. These mirror the
// persisted document shape that collaborators must honor; validation runs
// at design load and before every persistence call.

func stateTagSchema() *openapi3.Schema {
	return openapi3.NewStringSchema().WithPattern(`^\w+$`)
}

func statesSchema() *openapi3.Schema {
	s := openapi3.NewArraySchema().WithItems(stateTagSchema())
	s.UniqueItems = true
	return s
}

func statesRequiredSchema() *openapi3.Schema {
	return statesSchema().WithMinItems(1)
}

// A behavior fragment: statements without enclosing function(){} surrounds.
func fragmentSchema() *openapi3.Schema {
	return openapi3.NewStringSchema().WithMinLength(1)
}

func actionSchema(requireID bool, requireTo bool) *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewStringSchema().WithPattern(`^\w+$`)).
		WithProperty("name", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("from", statesSchema()).
		WithProperty("notfrom", statesSchema()).
		WithProperty("allowed", &openapi3.Schema{}). // null, role name, role list, {all,any} or a fragment
		WithProperty("prepare", fragmentSchema()).
		WithProperty("fire", fragmentSchema())
	if requireTo {
		s = s.WithProperty("to", statesRequiredSchema())
		s.Required = append(s.Required, "to")
	} else {
		s = s.WithProperty("to", statesSchema())
	}
	if requireID {
		s.Required = append(s.Required, "id")
	}
	return s
}

func designSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewStringSchema().WithPattern(`^\w+$`)).
		WithProperty("name", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("version", openapi3.NewIntegerSchema().WithMin(1)).
		WithProperty("states", statesRequiredSchema()).
		WithProperty("create", actionSchema(false, true)).
		WithProperty("actions", openapi3.NewArraySchema().WithItems(actionSchema(true, false))).
		WithProperty("allowed", openapi3.NewObjectSchema().WithAnyAdditionalProperties())
	s.Required = []string{"id", "name", "version", "states", "create", "actions"}
	return s
}

func historyEntrySchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("when", openapi3.NewStringSchema().WithFormat("date-time")).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("action", openapi3.NewStringSchema()).
		WithProperty("who", openapi3.NewStringSchema())
	s.Required = []string{"when", "message", "action"}
	return s
}

func activitySchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewStringSchema()).
		WithProperty("revisionToken", openapi3.NewStringSchema()).
		WithProperty("design", openapi3.NewStringSchema()).
		WithProperty("state", statesRequiredSchema()).
		WithProperty("data", openapi3.NewObjectSchema().WithAnyAdditionalProperties()).
		WithProperty("roles", openapi3.NewObjectSchema().
			WithAdditionalProperties(openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()))).
		WithProperty("links", openapi3.NewObjectSchema().WithAnyAdditionalProperties()).
		WithProperty("history", openapi3.NewArraySchema().WithItems(historyEntrySchema()))
	s.Required = []string{"design", "state"}
	return s
}

// schemaValidator pairs a built schema with its validation call.
type schemaValidator struct {
	schema *openapi3.Schema
}

func newSchemaValidator(schema *openapi3.Schema) *schemaValidator {
	return &schemaValidator{schema: schema}
}

func (v *schemaValidator) validate(value any) []string {
	return validateJSON(v.schema, value)
}

// validateJSON runs a schema over a decoded JSON value and flattens every
// violation into a message list.
func validateJSON(schema *openapi3.Schema, value any) []string {
	err := schema.VisitJSON(value, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		msgs := make([]string, 0, len(multi))
		for _, e := range multi {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}

func decodeJSON(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
