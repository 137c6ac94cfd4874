package subscription

import (
	"bytes"
	"testing"

	"github.com/reactorlink/reactorlink/internal/transport"
)

func TestReassembleSingleFragment(t *testing.T) {
	a := NewAssembler(nil)
	payload, ready := a.Reassemble([]byte("hello"), transport.Header{
		SessionID: 1,
		Flags:     transport.FlagBegin | transport.FlagEnd,
	})
	if !ready {
		t.Fatal("expected ready=true for a BEGIN+END fragment")
	}
	if !bytes.Equal(payload, []byte("hello")) {
		t.Fatalf("payload = %q", payload)
	}
}

func TestReassembleMultiFragment(t *testing.T) {
	a := NewAssembler(nil)

	if _, ready := a.Reassemble([]byte("he"), transport.Header{SessionID: 1, Flags: transport.FlagBegin}); ready {
		t.Fatal("expected ready=false after BEGIN")
	}
	if _, ready := a.Reassemble([]byte("ll"), transport.Header{SessionID: 1}); ready {
		t.Fatal("expected ready=false for a middle fragment")
	}
	payload, ready := a.Reassemble([]byte("o"), transport.Header{SessionID: 1, Flags: transport.FlagEnd})
	if !ready {
		t.Fatal("expected ready=true after END")
	}
	if !bytes.Equal(payload, []byte("hello")) {
		t.Fatalf("payload = %q, want hello", payload)
	}
}

func TestReassembleDropsOrphanMiddle(t *testing.T) {
	a := NewAssembler(nil)
	payload, ready := a.Reassemble([]byte("oops"), transport.Header{SessionID: 9})
	if ready || payload != nil {
		t.Fatalf("expected a MIDDLE fragment with no BEGIN to be dropped, got ready=%v payload=%q", ready, payload)
	}
}

func TestReassembleKeepsSessionsIndependent(t *testing.T) {
	a := NewAssembler(nil)
	a.Reassemble([]byte("A"), transport.Header{SessionID: 1, Flags: transport.FlagBegin})
	a.Reassemble([]byte("B"), transport.Header{SessionID: 2, Flags: transport.FlagBegin})

	p1, ready1 := a.Reassemble([]byte("1"), transport.Header{SessionID: 1, Flags: transport.FlagEnd})
	p2, ready2 := a.Reassemble([]byte("2"), transport.Header{SessionID: 2, Flags: transport.FlagEnd})

	if !ready1 || !bytes.Equal(p1, []byte("A1")) {
		t.Fatalf("session 1 payload = %q ready=%v", p1, ready1)
	}
	if !ready2 || !bytes.Equal(p2, []byte("B2")) {
		t.Fatalf("session 2 payload = %q ready=%v", p2, ready2)
	}
}

func TestForgetDiscardsPartialState(t *testing.T) {
	a := NewAssembler(nil)
	a.Reassemble([]byte("partial"), transport.Header{SessionID: 5, Flags: transport.FlagBegin})
	a.Forget(5)

	payload, ready := a.Reassemble([]byte("end"), transport.Header{SessionID: 5, Flags: transport.FlagEnd})
	if ready || payload != nil {
		t.Fatalf("expected forgotten session to drop a trailing END, got ready=%v payload=%q", ready, payload)
	}
}
