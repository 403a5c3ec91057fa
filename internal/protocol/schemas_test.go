package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	pushSchema := compile("push.schema.json")
	stateSchema := compile("state.schema.json")
	eventSchema := compile("event.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "client_name":"bot1",
	  "selector":{"session":"chat_42","namespace":"MC"}
	}`), &hello)
	validate(helloSchema, hello)

	var push any
	_ = json.Unmarshal([]byte(`{
	  "type":"PUSH",
	  "protocol_version":"1.0",
	  "id":"p1",
	  "selector":{"session":"chat_42","namespace":"MC"},
	  "tree":{"MC":{"资源":{"金币":150}}}
	}`), &push)
	validate(pushSchema, push)

	var state any
	_ = json.Unmarshal([]byte(`{
	  "type":"STATE",
	  "protocol_version":"1.0",
	  "id":"q1",
	  "selector":{"session":"chat_42","namespace":"MC"},
	  "revision":7,
	  "tree":{"MC":{"系统":{"状态":"运行中"}}}
	}`), &state)
	validate(stateSchema, state)

	var event any
	_ = json.Unmarshal([]byte(`{
	  "type":"EVENT",
	  "protocol_version":"1.0",
	  "event":"single_updated",
	  "selector":{"session":"chat_42","namespace":"MC"},
	  "revision":8,
	  "path":"MC.资源.金币",
	  "old":100,
	  "new":150
	}`), &event)
	validate(eventSchema, event)

	var badEvent any
	_ = json.Unmarshal([]byte(`{
	  "type":"EVENT",
	  "protocol_version":"1.0",
	  "event":"not_a_thing",
	  "selector":{"session":"chat_42","namespace":"MC"},
	  "revision":1
	}`), &badEvent)
	if err := eventSchema.Validate(badEvent); err == nil {
		t.Fatalf("expected unknown event name to fail validation")
	}
}
