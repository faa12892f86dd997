package relayinfo

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/context"
	"relaypool.dev/pkg/utils/errorf"
	"relaypool.dev/pkg/utils/normalize"
	"relaypool.dev/pkg/utils/units"
)

// maxDocumentSize caps how much of a response body is read; documents are
// a few kilobytes in the wild.
const maxDocumentSize = 1 * units.Mb

// HTTPURL converts a relay websocket url to the http url the document is
// served on.
func HTTPURL(url string) (h string, err error) {
	if url, err = normalize.Canonical(url); chk.D(err) {
		return
	}
	switch {
	case strings.HasPrefix(url, "wss://"):
		h = "https://" + url[len("wss://"):]
	case strings.HasPrefix(url, "ws://"):
		h = "http://" + url[len("ws://"):]
	default:
		err = errorf.D("relay url %q has no websocket scheme", url)
	}
	return
}

// Fetch retrieves the information document of the relay at url using the
// given client, which carries the caller's proxy mode. A nil client uses
// http.DefaultClient.
func Fetch(c context.T, client *http.Client, url string) (
	info *T, err error,
) {
	if client == nil {
		client = http.DefaultClient
	}
	var httpURL string
	if httpURL, err = HTTPURL(url); chk.D(err) {
		return
	}
	var req *http.Request
	if req, err = http.NewRequestWithContext(
		c, http.MethodGet, httpURL, nil,
	); chk.E(err) {
		return
	}
	req.Header.Set("Accept", "application/nostr+json")
	var resp *http.Response
	if resp, err = client.Do(req); err != nil {
		err = errorf.D("relay info fetch %s: %s", httpURL, err.Error())
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err = errorf.D(
			"relay info fetch %s: status %d", httpURL, resp.StatusCode,
		)
		return
	}
	var body []byte
	if body, err = io.ReadAll(
		io.LimitReader(resp.Body, maxDocumentSize),
	); chk.D(err) {
		return
	}
	info = &T{}
	if err = json.Unmarshal(body, info); err != nil {
		info = nil
		err = errorf.D(
			"relay info fetch %s: malformed document: %s", httpURL,
			err.Error(),
		)
	}
	return
}
