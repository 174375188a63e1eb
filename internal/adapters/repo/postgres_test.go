package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsConcurrentDDL(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"unique violation on pg_type", &pgconn.PgError{Code: "23505"}, true},
		{"duplicate table", &pgconn.PgError{Code: "42P07"}, true},
		{"duplicate object", &pgconn.PgError{Code: "42710"}, true},
		{"wrapped duplicate table", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "42P07"}), true},
		{"permission denied", &pgconn.PgError{Code: "42501"}, false},
		{"check violation", &pgconn.PgError{Code: "23514"}, false},
		{"plain error", errors.New("connection refused"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		if got := isConcurrentDDL(tc.err); got != tc.want {
			t.Fatalf("%s: ожидали %v, получили %v", tc.name, tc.want, got)
		}
	}
}

func TestMetadataCodecRoundTrip(t *testing.T) {
	raw, err := encodeMetadata(map[string]any{
		"n":      json.Number("9007199254740993"),
		"source": "widget",
		"tags":   []any{"a", json.Number("1")},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	meta, err := decodeMetadata(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if meta["n"] != json.Number("9007199254740993") {
		t.Fatalf("большое целое изменилось: %v (%T)", meta["n"], meta["n"])
	}
	if meta["source"] != "widget" {
		t.Fatalf("unexpected source %v", meta["source"])
	}
	again, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(again) != string(raw) {
		t.Fatalf("round trip changed metadata: %s != %s", again, raw)
	}
}

func TestMetadataCodecEmpty(t *testing.T) {
	raw, err := encodeMetadata(nil)
	if err != nil || raw != nil {
		t.Fatalf("empty metadata must be stored as NULL, got %q, %v", raw, err)
	}
	for _, in := range [][]byte{nil, []byte("null")} {
		meta, err := decodeMetadata(in)
		if err != nil || meta != nil {
			t.Fatalf("decode %q: got %v, %v", in, meta, err)
		}
	}
}
