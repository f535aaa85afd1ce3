package protocol

import "testing"

func TestSchemaMap(t *testing.T) {
	schema := ToolSchema{
		Type: "object",
		Properties: map[string]ToolProperty{
			"location": {Type: "string", Description: "City name"},
			"unit":     {Type: "string", Enum: []any{"celsius", "fahrenheit"}},
		},
		Required: []string{"location"},
	}

	m := schema.SchemaMap()
	if m["type"] != "object" {
		t.Errorf("type = %v", m["type"])
	}
	props, ok := m["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties missing: %v", m)
	}
	loc := props["location"].(map[string]any)
	if loc["type"] != "string" || loc["description"] != "City name" {
		t.Errorf("unexpected location property: %v", loc)
	}
	unit := props["unit"].(map[string]any)
	if enum, ok := unit["enum"].([]any); !ok || len(enum) != 2 {
		t.Errorf("enum not carried: %v", unit)
	}
	req := m["required"].([]string)
	if len(req) != 1 || req[0] != "location" {
		t.Errorf("required = %v", req)
	}
}

func TestSchemaMapDefaultsToObject(t *testing.T) {
	m := ToolSchema{}.SchemaMap()
	if m["type"] != "object" {
		t.Errorf("empty type must default to object, got %v", m["type"])
	}
	if _, ok := m["properties"]; ok {
		t.Error("empty properties must be omitted")
	}
}

func TestIsRequired(t *testing.T) {
	s := ToolSchema{Required: []string{"a", "b"}}
	if !s.IsRequired("a") || !s.IsRequired("b") {
		t.Error("required parameters not detected")
	}
	if s.IsRequired("c") {
		t.Error("unlisted parameter reported required")
	}
}
