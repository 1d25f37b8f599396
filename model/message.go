package model

import (
	"fmt"
	"path/filepath"
	"time"
)

// Address is a decoded mailbox from a sender or recipient header.
type Address struct {
	Name  string
	Email string
}

// Message represents a single decoded email message extracted from an mbox archive.
type Message struct {
	Index      int
	Archive    string
	ID         string
	Hash       string
	Header     map[string][]string
	From       []Address
	ReplyTo    []Address
	To         []Address
	Cc         []Address
	Subject    string
	ReceivedAt time.Time
	Body       string
	Charset    string
	// Recovered is set when the body or a header needed a charset fallback.
	Recovered bool
	Size      int64
}

// Ref returns the provenance reference for the message: its Message-Id when
// present, otherwise the archive name and index.
func (m Message) Ref() string {
	if m.ID != "" {
		return m.ID
	}
	return fmt.Sprintf("%s#%d", filepath.Base(m.Archive), m.Index)
}

// Envelope wraps a message alongside an optional error encountered while decoding.
type Envelope struct {
	Message Message
	Err     error
}
