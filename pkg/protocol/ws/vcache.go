package ws

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"relaypool.dev/pkg/encoders/event"
	"relaypool.dev/pkg/interfaces/verifier"
	"relaypool.dev/pkg/utils/chk"
)

// DefaultVerifyCacheSize bounds the id-keyed verification cache.
const DefaultVerifyCacheSize = 4096

// eventVerifier is the default verifier: recompute the canonical id and
// check the schnorr signature.
type eventVerifier struct{}

func (eventVerifier) Verify(ev *event.E) (ok bool, err error) {
	return ev.Verify()
}

// verifyCache wraps a verifier with a bounded LRU keyed by event id, so an
// event seen from several relays is verified once. Both outcomes are
// cached; verifier errors are not.
type verifyCache struct {
	v   verifier.I
	lru *lru.Cache[string, bool]
}

func newVerifyCache(v verifier.I, size int) *verifyCache {
	if v == nil {
		v = eventVerifier{}
	}
	if size <= 0 {
		size = DefaultVerifyCacheSize
	}
	c, err := lru.New[string, bool](size)
	chk.E(err)
	return &verifyCache{v: v, lru: c}
}

func (vc *verifyCache) Verify(ev *event.E) (ok bool, err error) {
	key := string(ev.ID)
	if ok, hit := vc.lru.Get(key); hit {
		return ok, nil
	}
	if ok, err = vc.v.Verify(ev); err != nil {
		return
	}
	vc.lru.Add(key, ok)
	return
}
