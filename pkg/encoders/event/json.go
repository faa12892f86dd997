package event

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"relaypool.dev/pkg/crypto/sha256"
	"relaypool.dev/pkg/encoders/hex"
	"relaypool.dev/pkg/encoders/kind"
	"relaypool.dev/pkg/encoders/tags"
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/encoders/timestamp"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

var (
	jID        = []byte("id")
	jPubkey    = []byte("pubkey")
	jCreatedAt = []byte("created_at")
	jKind      = []byte("kind")
	jTags      = []byte("tags")
	jContent   = []byte("content")
	jSig       = []byte("sig")
)

// Marshal appends the event as minified JSON to dst.
func (ev *E) Marshal(dst []byte) (b []byte) {
	b = append(dst, '{')
	b = text.JSONKey(b, jID)
	b = text.AppendQuote(b, ev.ID, hex.EncAppend)
	b = append(b, ',')
	b = text.JSONKey(b, jPubkey)
	b = text.AppendQuote(b, ev.Pubkey, hex.EncAppend)
	b = append(b, ',')
	b = text.JSONKey(b, jCreatedAt)
	b = ev.CreatedAt.Marshal(b)
	b = append(b, ',')
	b = text.JSONKey(b, jKind)
	b = ev.Kind.Marshal(b)
	b = append(b, ',')
	b = text.JSONKey(b, jTags)
	b = ev.Tags.Marshal(b)
	b = append(b, ',')
	b = text.JSONKey(b, jContent)
	b = text.AppendQuote(b, ev.Content, text.NostrEscape)
	b = append(b, ',')
	b = text.JSONKey(b, jSig)
	b = text.AppendQuote(b, ev.Sig, hex.EncAppend)
	b = append(b, '}')
	return
}

// Unmarshal parses an event object, minified or whitespace-formatted,
// leaving the remainder after the closing brace in r.
func (ev *E) Unmarshal(b []byte) (r []byte, err error) {
	key := make([]byte, 0, 10)
	r = b
	for ; len(r) > 0; r = r[1:] {
		if isWhitespace(r[0]) {
			continue
		}
		if r[0] == '{' {
			r = r[1:]
			goto BetweenKeys
		}
	}
	goto eof
BetweenKeys:
	for ; len(r) > 0; r = r[1:] {
		if isWhitespace(r[0]) {
			continue
		}
		if r[0] == '"' {
			r = r[1:]
			goto InKey
		}
	}
	goto eof
InKey:
	for ; len(r) > 0; r = r[1:] {
		if r[0] == '"' {
			r = r[1:]
			goto InKV
		}
		key = append(key, r[0])
	}
	goto eof
InKV:
	for ; len(r) > 0; r = r[1:] {
		if isWhitespace(r[0]) {
			continue
		}
		if r[0] == ':' {
			r = r[1:]
			goto InVal
		}
	}
	goto eof
InVal:
	for len(r) > 0 && isWhitespace(r[0]) {
		r = r[1:]
	}
	switch key[0] {
	case jID[0]:
		if !bytes.Equal(jID, key) {
			goto invalid
		}
		var id []byte
		if id, r, err = text.UnmarshalHex(r); chk.E(err) {
			return
		}
		if len(id) != sha256.Size {
			err = errorf.E(
				"invalid id, require %d bytes got %d", sha256.Size,
				len(id),
			)
			return
		}
		ev.ID = id
		goto BetweenKV
	case jPubkey[0]:
		if !bytes.Equal(jPubkey, key) {
			goto invalid
		}
		var pk []byte
		if pk, r, err = text.UnmarshalHex(r); chk.E(err) {
			return
		}
		if len(pk) != schnorr.PubKeyBytesLen {
			err = errorf.E(
				"invalid pubkey, require %d bytes got %d",
				schnorr.PubKeyBytesLen, len(pk),
			)
			return
		}
		ev.Pubkey = pk
		goto BetweenKV
	case jKind[0]:
		if !bytes.Equal(jKind, key) {
			goto invalid
		}
		ev.Kind = kind.New(0)
		if r, err = ev.Kind.Unmarshal(r); chk.E(err) {
			return
		}
		goto BetweenKV
	case jTags[0]:
		if !bytes.Equal(jTags, key) {
			goto invalid
		}
		ev.Tags = tags.New()
		if r, err = ev.Tags.Unmarshal(r); chk.E(err) {
			return
		}
		goto BetweenKV
	case jSig[0]:
		if !bytes.Equal(jSig, key) {
			goto invalid
		}
		var sig []byte
		if sig, r, err = text.UnmarshalHex(r); chk.E(err) {
			return
		}
		if len(sig) != schnorr.SignatureSize {
			err = errorf.E(
				"invalid sig, require %d bytes got %d",
				schnorr.SignatureSize, len(sig),
			)
			return
		}
		ev.Sig = sig
		goto BetweenKV
	case jContent[0]:
		// content and created_at share a first letter
		if len(key) < 2 {
			goto invalid
		}
		if key[1] == jContent[1] {
			if !bytes.Equal(jContent, key) {
				goto invalid
			}
			if ev.Content, r, err = text.UnmarshalQuoted(r); chk.T(err) {
				return
			}
			goto BetweenKV
		} else if key[1] == jCreatedAt[1] {
			if !bytes.Equal(jCreatedAt, key) {
				goto invalid
			}
			ev.CreatedAt = timestamp.New(int64(0))
			if r, err = ev.CreatedAt.Unmarshal(r); chk.T(err) {
				return
			}
			goto BetweenKV
		}
		goto invalid
	default:
		goto invalid
	}
BetweenKV:
	key = key[:0]
	for ; len(r) > 0; r = r[1:] {
		if isWhitespace(r[0]) {
			continue
		}
		switch {
		case r[0] == '}':
			r = r[1:]
			goto AfterClose
		case r[0] == ',':
			r = r[1:]
			goto BetweenKeys
		case r[0] == '"':
			r = r[1:]
			goto InKey
		}
	}
	goto eof
AfterClose:
	for len(r) > 0 && isWhitespace(r[0]) {
		r = r[1:]
	}
	return
invalid:
	err = errorf.E(
		"invalid key '%s' in event '%s'", key, firstChunk(b),
	)
	return
eof:
	err = io.EOF
	return
}

func isWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func firstChunk(b []byte) []byte {
	if len(b) > 48 {
		return b[:48]
	}
	return b
}
