package event

import (
	"bytes"
	"sort"
	"strings"
	"testing"

	"relaypool.dev/pkg/crypto/p256k"
	"relaypool.dev/pkg/encoders/kind"
	"relaypool.dev/pkg/encoders/tag"
	"relaypool.dev/pkg/encoders/tags"
	"relaypool.dev/pkg/encoders/timestamp"
	"relaypool.dev/pkg/utils/chk"
)

func newSigner(t *testing.T) *p256k.Signer {
	t.Helper()
	sign := &p256k.Signer{}
	if err := sign.Generate(); chk.E(err) {
		t.Fatal(err)
	}
	return sign
}

func TestSignVerify(t *testing.T) {
	sign := newSigner(t)
	ev := &E{
		CreatedAt: timestamp.FromUnix(1700000000),
		Kind:      kind.TextNote,
		Tags:      tags.New(tag.New("t", "test")),
		Content:   []byte("a signed note"),
	}
	if err := ev.Sign(sign); chk.E(err) {
		t.Fatal(err)
	}
	if len(ev.ID) != 32 || len(ev.Sig) != 64 || len(ev.Pubkey) != 32 {
		t.Fatalf(
			"id %d sig %d pubkey %d bytes", len(ev.ID), len(ev.Sig),
			len(ev.Pubkey),
		)
	}
	valid, err := ev.Verify()
	if chk.E(err) {
		t.Fatal(err)
	}
	if !valid {
		t.Fatal("freshly signed event does not verify")
	}
	// content change breaks the id binding
	tampered := ev.Clone()
	tampered.Content = []byte("a different note")
	if tampered.CheckID() {
		t.Error("id still matches after the content changed")
	}
	if valid, err = tampered.Verify(); chk.E(err) {
		t.Fatal(err)
	}
	if valid {
		t.Error("tampered event verifies")
	}
	// signature corruption fails verification without an error
	forged := ev.Clone()
	forged.Sig[0] ^= 0xff
	if valid, _ = forged.Verify(); valid {
		t.Error("event with a corrupted signature verifies")
	}
}

func TestCanonicalForm(t *testing.T) {
	ev := &E{
		Pubkey:    bytes.Repeat([]byte{0x02}, 32),
		CreatedAt: timestamp.FromUnix(1609459200),
		Kind:      kind.TextNote,
		Tags:      tags.New(),
		Content:   []byte("hello"),
	}
	want := `[0,"` + strings.Repeat("02", 32) + `",1609459200,1,[],"hello"]`
	if got := string(ev.ToCanonical(nil)); got != want {
		t.Errorf("canonical form\n got %s\nwant %s", got, want)
	}
	if !bytes.Equal(ev.GetIDBytes(), Hash(ev.ToCanonical(nil))) {
		t.Error("id is not the digest of the canonical form")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	sign := newSigner(t)
	ev := &E{
		CreatedAt: timestamp.FromUnix(1700000001),
		Kind:      kind.TextNote,
		Tags: tags.New(
			tag.New("e", strings.Repeat("ab", 32)),
			tag.New("j", `{"nested":"json \"quoted\""}`),
		),
		Content: []byte("line one\nline two\t\"quoted\""),
	}
	if err := ev.Sign(sign); chk.E(err) {
		t.Fatal(err)
	}
	b := ev.Marshal(nil)
	back := &E{}
	rem, err := back.Unmarshal(b)
	if chk.E(err) {
		t.Fatalf("unmarshal: %v\ninput: %s", err, b)
	}
	if len(rem) != 0 {
		t.Errorf("unmarshal left %d bytes behind", len(rem))
	}
	if !bytes.Equal(back.ID, ev.ID) || !bytes.Equal(back.Sig, ev.Sig) ||
		!bytes.Equal(back.Pubkey, ev.Pubkey) {
		t.Error("binary fields did not survive the round trip")
	}
	if back.CreatedAt.I64() != ev.CreatedAt.I64() ||
		back.Kind.K != ev.Kind.K {
		t.Error("timestamp or kind did not survive the round trip")
	}
	if !bytes.Equal(back.Content, ev.Content) {
		t.Errorf("content %q, want %q", back.Content, ev.Content)
	}
	wantTags := ev.Tags.ToStringsSlice()
	gotTags := back.Tags.ToStringsSlice()
	if len(gotTags) != len(wantTags) {
		t.Fatalf("%d tags, want %d", len(gotTags), len(wantTags))
	}
	for i := range wantTags {
		for j := range wantTags[i] {
			if gotTags[i][j] != wantTags[i][j] {
				t.Errorf(
					"tag[%d][%d] = %q, want %q",
					i, j, gotTags[i][j], wantTags[i][j],
				)
			}
		}
	}
	// the decoded event still verifies, so escaping preserved the digest
	valid, err := back.Verify()
	if chk.E(err) {
		t.Fatal(err)
	}
	if !valid {
		t.Error("round-tripped event does not verify")
	}
}

func TestSortNewestFirst(t *testing.T) {
	mk := func(at int64, id byte) *E {
		return &E{
			ID:        bytes.Repeat([]byte{id}, 32),
			CreatedAt: timestamp.FromUnix(at),
		}
	}
	evs := S{mk(1000, 0x03), mk(3000, 0x01), mk(1000, 0x02)}
	sort.Sort(evs)
	if evs[0].CreatedAt.I64() != 3000 {
		t.Fatal("newest event is not first")
	}
	// equal timestamps order by id so the result is stable across relays
	if evs[1].ID[0] != 0x02 || evs[2].ID[0] != 0x03 {
		t.Errorf(
			"tie broken as %0x then %0x, want ascending ids",
			evs[1].ID[0], evs[2].ID[0],
		)
	}
}

func TestCloneIndependence(t *testing.T) {
	sign := newSigner(t)
	ev, err := GenerateRandomTextNoteEvent(sign, 256)
	if chk.E(err) {
		t.Fatal(err)
	}
	c := ev.Clone()
	c.ID[0] ^= 0xff
	c.Content = append(c.Content, '!')
	c.Tags.Append(tag.New("mut", "ated"))
	if ev.ID[0] == c.ID[0] {
		t.Error("clone shares the id buffer")
	}
	if bytes.Equal(ev.Content, c.Content) {
		t.Error("clone shares the content")
	}
	if ev.Tags.Len() == c.Tags.Len() {
		t.Error("clone shares the tag list")
	}
	valid, err := ev.Verify()
	if chk.E(err) {
		t.Fatal(err)
	}
	if !valid {
		t.Error("original stopped verifying after the clone was mutated")
	}
}
