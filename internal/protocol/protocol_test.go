package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeBase(t *testing.T) {
	m, err := DecodeBase([]byte(`{"type":"HELLO","protocol_version":"1","client_name":"web"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type != TypeHello || m.ProtocolVersion != Version {
		t.Fatalf("base=%+v", m)
	}
	if _, err := DecodeBase([]byte(`not json`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWelcome_NullConfigBeforeFirstBuild(t *testing.T) {
	b, err := json.Marshal(WelcomeMsg{Type: TypeWelcome, ProtocolVersion: Version, SessionID: "S1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"WELCOME","protocol_version":"1","session_id":"S1","config":null}`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}
}

func TestIsKnownCode(t *testing.T) {
	for _, c := range []string{"", ErrProtoBadRequest, ErrProtoVersion, ErrBuildFailed} {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}
