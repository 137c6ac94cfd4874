package channel

import (
	"testing"
	"time"
)

func TestNewOptionsDefaults(t *testing.T) {
	o := NewOptions()
	if o.ConnectTimeout != 5*time.Second {
		t.Fatalf("ConnectTimeout = %v", o.ConnectTimeout)
	}
	if o.SessionRetry != 3 {
		t.Fatalf("SessionRetry = %d, want 3", o.SessionRetry)
	}
	if o.FairnessPerTick != 8 {
		t.Fatalf("FairnessPerTick = %d, want 8", o.FairnessPerTick)
	}
}

func TestOptionsOverride(t *testing.T) {
	o := NewOptions(
		WithConnectTimeout(time.Second),
		WithSessionRetry(1),
		WithMTULength(512),
	)
	if o.ConnectTimeout != time.Second {
		t.Fatalf("ConnectTimeout override failed: %v", o.ConnectTimeout)
	}
	if o.SessionRetry != 1 {
		t.Fatalf("SessionRetry override failed: %d", o.SessionRetry)
	}
	if o.MTULength != 512 {
		t.Fatalf("MTULength override failed: %d", o.MTULength)
	}
	// untouched fields keep their defaults
	if o.FragmentLimit != 8 {
		t.Fatalf("FragmentLimit should be untouched default: %d", o.FragmentLimit)
	}
}
