package relay

import (
	"testing"

	"github.com/corbin-hayes/coderelay/internal/gateway"
)

func ref(channel, message string) gateway.MessageRef {
	return gateway.MessageRef{ChannelID: channel, MessageID: message}
}

func TestSessionStoreRecordOverwrites(t *testing.T) {
	s := NewSessionStore()
	s.Record(Session{Owner: "u1", Input: ref("c", "in-1"), Output: ref("c", "out-1")})
	s.Record(Session{Owner: "u1", Input: ref("c", "in-2"), Output: ref("c", "out-2")})

	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
	sess, ok := s.Lookup("u1")
	if !ok {
		t.Fatal("lookup failed")
	}
	if sess.Input.MessageID != "in-2" {
		t.Errorf("input = %s, want in-2", sess.Input.MessageID)
	}
}

func TestSessionStoreForgetIdempotent(t *testing.T) {
	s := NewSessionStore()
	s.Record(Session{Owner: "u1", Input: ref("c", "in-1"), Output: ref("c", "out-1")})

	s.Forget("u1")
	s.Forget("u1")
	s.Forget("never-existed")

	if _, ok := s.Lookup("u1"); ok {
		t.Error("session should be gone")
	}
}

func TestSessionStoreFindByInput(t *testing.T) {
	s := NewSessionStore()
	s.Record(Session{Owner: "u1", Input: ref("c", "in-1"), Output: ref("c", "out-1")})
	s.Record(Session{Owner: "u2", Input: ref("c", "in-2"), Output: ref("c", "out-2")})

	sess, ok := s.FindByInput(ref("c", "in-2"))
	if !ok {
		t.Fatal("find failed")
	}
	if sess.Owner != "u2" {
		t.Errorf("owner = %s, want u2", sess.Owner)
	}

	if _, ok := s.FindByInput(ref("c", "in-9")); ok {
		t.Error("unexpected match")
	}
}
