// Package relayinfo models the relay information document relays serve
// over HTTP when asked with `Accept: application/nostr+json`, and fetches
// it. The document is advisory: absent or malformed documents never fail a
// connection, but auth_required and restricted_writes inform client
// behavior before the first rejection would.
package relayinfo

import "sort"

// T is the relay information document. Every field is optional; relays
// serve whatever subset they maintain.
type T struct {
	Name           string   `json:"name,omitempty"`
	Description    string   `json:"description,omitempty"`
	Pubkey         string   `json:"pubkey,omitempty"`
	Contact        string   `json:"contact,omitempty"`
	Nips           N        `json:"supported_nips,omitempty"`
	Software       string   `json:"software,omitempty"`
	Version        string   `json:"version,omitempty"`
	Limitation     Limits   `json:"limitation,omitempty"`
	RelayCountries []string `json:"relay_countries,omitempty"`
	LanguageTags   []string `json:"language_tags,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	PostingPolicy  string   `json:"posting_policy,omitempty"`
	PaymentsURL    string   `json:"payments_url,omitempty"`
	Icon           string   `json:"icon,omitempty"`
}

// Limits is the limitation object of the document.
type Limits struct {
	MaxMessageLength    int   `json:"max_message_length,omitempty"`
	MaxSubscriptions    int   `json:"max_subscriptions,omitempty"`
	MaxFilters          int   `json:"max_filters,omitempty"`
	MaxLimit            int   `json:"max_limit,omitempty"`
	MaxSubidLength      int   `json:"max_subid_length,omitempty"`
	MaxEventTags        int   `json:"max_event_tags,omitempty"`
	MaxContentLength    int   `json:"max_content_length,omitempty"`
	MinPowDifficulty    int   `json:"min_pow_difficulty,omitempty"`
	AuthRequired        bool  `json:"auth_required,omitempty"`
	PaymentRequired     bool  `json:"payment_required,omitempty"`
	RestrictedWrites    bool  `json:"restricted_writes,omitempty"`
	CreatedAtLowerLimit int64 `json:"created_at_lower_limit,omitempty"`
	CreatedAtUpperLimit int64 `json:"created_at_upper_limit,omitempty"`
}

// Supports reports whether the document lists the given NIP. A nil
// document from a relay that serves none is handled by the caller.
func (t *T) Supports(nip NIP) bool {
	for _, n := range t.Nips {
		if n == nip.Number {
			return true
		}
	}
	return false
}

// NIP pairs a protocol extension number with its name for readable
// declarations.
type NIP struct {
	Name   string
	Number int
}

// The extensions this module interacts with.
var (
	BasicProtocol            = NIP{"basic protocol flow description", 1}
	FollowList               = NIP{"follow list", 2}
	EncryptedDirectMessage   = NIP{"encrypted direct message", 4}
	EventDeletion            = NIP{"event deletion", 9}
	RelayInformationDocument = NIP{"relay information document", 11}
	GenericTagQueries        = NIP{"generic tag queries", 12}
	PrivateDirectMessages    = NIP{"private direct messages", 17}
	EventTreatment           = NIP{"event treatment", 16}
	CommandResults           = NIP{"command results", 20}
	Authentication           = NIP{"authentication of clients to relays", 42}
	CountingResults          = NIP{"counting results", 45}
	RelayListMetadata        = NIP{"relay list metadata", 65}
	NegentropySyncing        = NIP{"negentropy syncing", 77}
)

// N is the supported_nips array: a sortable list of NIP numbers.
type N []int

func (n N) Len() int           { return len(n) }
func (n N) Less(i, j int) bool { return n[i] < n[j] }
func (n N) Swap(i, j int)      { n[i], n[j] = n[j], n[i] }

// GetList collects the numbers of the given NIPs.
func GetList(items ...NIP) (list N) {
	for _, it := range items {
		list = append(list, it.Number)
	}
	sort.Sort(list)
	return
}
