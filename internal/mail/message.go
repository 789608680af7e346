// Package mail defines the canonical in-memory email record and the
// normalizer that produces it from raw fetched messages.
package mail

import "time"

// RawMessage is a message exactly as the fetch layer delivered it:
// a provider-assigned identifier, the provider's coarse labels, and the
// full RFC 822 payload. No interpretation has happened yet.
type RawMessage struct {
	ID     string
	Labels []string
	Raw    []byte
}

// Message is the canonical, normalized form of one email. It is immutable
// once created within a session and owned exclusively by the corpus.
type Message struct {
	ID      string
	From    string
	To      []string
	Subject string
	Date    time.Time
	Body    string
	Labels  []string

	// Degraded marks a message whose content could not be fully
	// recovered (MIME parse failure, undecodable part). The message is
	// still admitted; Notes records what went wrong.
	Degraded bool
	Notes    []string
}
