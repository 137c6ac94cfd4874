package channel

import "testing"

func TestParseRoundTrip(t *testing.T) {
	u, err := Parse("aeron:udp?endpoint=127.0.0.1:9000|session-id=42")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Media() != "udp" {
		t.Fatalf("Media() = %q, want udp", u.Media())
	}
	if got := u.Endpoint(); got != "127.0.0.1:9000" {
		t.Fatalf("Endpoint() = %q", got)
	}
	sid, ok := u.SessionID()
	if !ok || sid != 42 {
		t.Fatalf("SessionID() = %d,%v, want 42,true", sid, ok)
	}
}

func TestParseMissingScheme(t *testing.T) {
	if _, err := Parse("udp?endpoint=127.0.0.1:9000"); err == nil {
		t.Fatal("expected error for missing scheme")
	}
}

func TestParseMalformedParam(t *testing.T) {
	if _, err := Parse("aeron:udp?endpoint"); err == nil {
		t.Fatal("expected error for malformed parameter")
	}
}

func TestWithSessionIDImmutable(t *testing.T) {
	base := MustParse("aeron:udp?endpoint=127.0.0.1:9000")
	tagged := base.WithSessionID(7)

	if _, ok := base.SessionID(); ok {
		t.Fatal("base URI mutated by WithSessionID")
	}
	sid, ok := tagged.SessionID()
	if !ok || sid != 7 {
		t.Fatalf("tagged SessionID() = %d,%v", sid, ok)
	}
}

func TestWithControlEndpointSetsMDC(t *testing.T) {
	u := MustParse("aeron:udp").WithControlEndpoint("127.0.0.1:9001")
	if !u.IsMDC() {
		t.Fatal("expected control-mode=dynamic after WithControlEndpoint")
	}
	if u.Control() != "127.0.0.1:9001" {
		t.Fatalf("Control() = %q", u.Control())
	}
}

func TestStringNormalizesParamOrder(t *testing.T) {
	a := Build("udp", map[string]string{"endpoint": "h:1", "session-id": "5"})
	b := Build("udp", map[string]string{"session-id": "5", "endpoint": "h:1"})
	if !a.Equal(b) {
		t.Fatalf("expected equal normalized forms, got %q vs %q", a.String(), b.String())
	}
}
