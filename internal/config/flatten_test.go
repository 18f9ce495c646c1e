package config

import (
	"reflect"
	"testing"
)

func TestFlatten(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want map[string]any
	}{
		{
			name: "flat",
			in:   map[string]any{"worker": "http://w", "pull_limit": 200.0},
			want: map[string]any{"worker": "http://w", "pull_limit": 200.0},
		},
		{
			name: "nested",
			in: map[string]any{
				"http":      map[string]any{"enabled": true, "listen": ":8765"},
				"log_level": "info",
			},
			want: map[string]any{"http.enabled": true, "http.listen": ":8765", "log_level": "info"},
		},
		{
			name: "deep",
			in:   map[string]any{"a": map[string]any{"b": map[string]any{"c": "x"}}},
			want: map[string]any{"a.b.c": "x"},
		},
		{
			name: "empty nested map",
			in:   map[string]any{"http": map[string]any{}},
			want: map[string]any{},
		},
		{
			name: "empty",
			in:   map[string]any{},
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Flatten(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestUnflattenRoundTrip(t *testing.T) {
	original := map[string]any{
		"base_dir": "/home/test/.wa-hub",
		"worker":   "https://worker.example",
		"http": map[string]any{
			"enabled": true,
			"listen":  "127.0.0.1:8765",
		},
		"a": map[string]any{"b": map[string]any{"c": 1.0}},
	}

	restored := Unflatten(Flatten(original))
	if !reflect.DeepEqual(restored, original) {
		t.Errorf("round trip mismatch:\n got  %v\n want %v", restored, original)
	}
}

func TestUnflattenReplacesScalarParent(t *testing.T) {
	got := Unflatten(map[string]any{"http": "x", "http.listen": ":1"})
	// Map iteration order decides which write wins; the nested key must
	// survive either way or be overwritten by the scalar.
	switch v := got["http"].(type) {
	case map[string]any:
		if v["listen"] != ":1" {
			t.Errorf("expected http.listen=:1, got %v", v["listen"])
		}
	case string:
		if v != "x" {
			t.Errorf("expected http=x, got %v", v)
		}
	default:
		t.Fatalf("unexpected http value %T", v)
	}
}

func TestMaskSecrets(t *testing.T) {
	tests := []struct {
		value any
		want  any
	}{
		{value: "tok-123456789", want: "***6789"},
		{value: "abcd", want: "***abcd"},
		{value: "ab", want: "***ab"},
		{value: "", want: ""},
		{value: 42.0, want: 42.0},
	}

	for _, tt := range tests {
		got := MaskSecrets(map[string]any{"worker_token": tt.value, "worker": "http://w"})
		if got["worker_token"] != tt.want {
			t.Errorf("value %v: expected %v, got %v", tt.value, tt.want, got["worker_token"])
		}
		if got["worker"] != "http://w" {
			t.Errorf("non-secret changed: %v", got["worker"])
		}
	}
	if !IsSecretKey("worker_token") || IsSecretKey("phone_id") {
		t.Error("unexpected secret key set")
	}
}

func TestSortedKeys(t *testing.T) {
	got := SortedKeys(map[string]any{"worker": 1, "http.listen": 2, "base_dir": 3})
	want := []string{"base_dir", "http.listen", "worker"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
