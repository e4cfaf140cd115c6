package protocol

import (
	"errors"
	"reflect"
	"testing"
)

func TestDecodeRoundTrip(t *testing.T) {
	envelopes := []Envelope{
		{
			Category: CategoryUser,
			Action:   "place_model",
			APIKey:   "secret",
			Payload: Payload{
				"model_name": "Cube",
				"position":   map[string]any{"x": 1.0, "y": 2.0, "z": 3.0},
				"rotation":   map[string]any{"x": 0.0, "y": 0.0, "z": 0.0},
			},
		},
		{
			Category:  CategorySystem,
			Action:    "handshake",
			APIKey:    "secret",
			Timestamp: "2026-01-02T15:04:05Z",
			Payload:   Payload{},
		},
		{
			Category: CategoryUser,
			Action:   "analyze_environment",
			Payload:  Payload{},
		},
	}

	for _, want := range envelopes {
		data, err := Encode(want)
		if err != nil {
			t.Fatalf("encode %q: %v", want.Action, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("decode %q: %v", want.Action, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("round trip mismatch for %q:\n got %#v\nwant %#v", want.Action, got, want)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", "{nope"},
		{"not an object", `[1,2,3]`},
		{"missing action", `{"category":"user"}`},
		{"empty action", `{"category":"user","action":""}`},
		{"action wrong type", `{"category":"user","action":42}`},
	}
	for _, tc := range cases {
		_, err := Decode([]byte(tc.data))
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
}

func TestDecodeUnknownActionSucceeds(t *testing.T) {
	env, err := Decode([]byte(`{"category":"user","action":"totally_new","foo":"bar"}`))
	if err != nil {
		t.Fatalf("unknown action must decode cleanly, got %v", err)
	}
	if env.Action != "totally_new" {
		t.Fatalf("action = %q", env.Action)
	}
	if v, _ := env.Payload.String("foo"); v != "bar" {
		t.Fatalf("payload foo = %q", v)
	}
}

func TestDecodeReservedActionFields(t *testing.T) {
	cases := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"import missing path", `{"action":"import_model"}`, true},
		{"import ok", `{"action":"import_model","model_path":"models/tree.fbx"}`, false},
		{"place missing name", `{"action":"place_model","position":{"x":0,"y":0,"z":0},"rotation":{"x":0,"y":0,"z":0}}`, true},
		{"place missing rotation", `{"action":"place_model","model_name":"Cube","position":{"x":0,"y":0,"z":0}}`, true},
		{"place with coordinates", `{"action":"place_model","model_name":"Cube","coordinates":{"x":1,"y":2,"z":3}}`, false},
		{"place with pose", `{"action":"place_model","model_name":"Cube","position":{"x":1,"y":2,"z":3},"rotation":{"x":0,"y":0,"z":0}}`, false},
		{"analyze bare", `{"action":"analyze_environment"}`, false},
	}
	for _, tc := range cases {
		_, err := Decode([]byte(tc.data))
		if tc.wantErr {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
			}
		} else if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestDecodeDefaultsToUserCategory(t *testing.T) {
	env, err := Decode([]byte(`{"action":"analyze_environment"}`))
	if err != nil {
		t.Fatal(err)
	}
	if env.Category != CategoryUser {
		t.Fatalf("category = %q, want user", env.Category)
	}
}

func TestPayloadVec3Forms(t *testing.T) {
	p := Payload{
		"object": map[string]any{"x": 1.0, "y": 2.0, "z": 3.0},
		"array":  []any{1.0, 2.0, 3.0},
		"short":  []any{1.0, 2.0},
		"mixed":  map[string]any{"x": 1.0, "y": "two", "z": 3.0},
	}

	want := Vec3{X: 1, Y: 2, Z: 3}
	if v, ok := p.Vec3("object"); !ok || v != want {
		t.Fatalf("object form: %v %v", v, ok)
	}
	if v, ok := p.Vec3("array"); !ok || v != want {
		t.Fatalf("array form: %v %v", v, ok)
	}
	if _, ok := p.Vec3("short"); ok {
		t.Fatal("short array must not parse")
	}
	if _, ok := p.Vec3("mixed"); ok {
		t.Fatal("non-numeric component must not parse")
	}
	if _, ok := p.Vec3("absent"); ok {
		t.Fatal("absent key must not parse")
	}
}

func TestActionResultConstructors(t *testing.T) {
	ok := OK(map[string]any{"instance_id": "a1"})
	if !ok.Success || ok.Error != "" {
		t.Fatalf("OK result malformed: %#v", ok)
	}
	fail := Fail("boom")
	if fail.Success || fail.Error != "boom" || fail.Data != nil {
		t.Fatalf("Fail result malformed: %#v", fail)
	}
}
