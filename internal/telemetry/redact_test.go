package telemetry

import (
	"strings"
	"testing"
)

func TestHashID(t *testing.T) {
	got := HashID("573001112233")
	if len(got) != 16 {
		t.Fatalf("len = %d, want 16", len(got))
	}
	if strings.Contains(got, "573001112233") {
		t.Errorf("hash %q leaks the id", got)
	}
	if HashID("573001112233") != got {
		t.Error("hash is not stable")
	}
	if HashID("573009998877") == got {
		t.Error("distinct ids share a hash")
	}
	if HashID("") != "" {
		t.Error("empty id should hash to empty")
	}
}
