package ws

import "testing"

func TestCapabilityHas(t *testing.T) {
	if !DefaultCapabilities.Has(Read) || !DefaultCapabilities.Has(Write) {
		t.Error("defaults lack read or write")
	}
	if !DefaultCapabilities.Has(Read | Write) {
		t.Error("Has fails on a combined mask")
	}
	if DefaultCapabilities.Has(Discovery) {
		t.Error("defaults include discovery")
	}
	if !AllCapabilities.Has(Discovery | Gossip) {
		t.Error("all-capabilities misses a bit")
	}
}

func TestCapabilityString(t *testing.T) {
	if got := (Read | Write).String(); got != "read|write" {
		t.Errorf("string %q, want read|write", got)
	}
	if got := Capability(0).String(); got != "none" {
		t.Errorf("empty set prints %q", got)
	}
}
