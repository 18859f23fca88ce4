// File: internal/ledger/fingerprint.go

// Package ledger is the durable dedup store: it fingerprints logical units of
// work, decides whether a unit may proceed, and records every outcome
// append-only in PostgreSQL.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/coordops/caerun/api/schemas"
)

// Key is the identity of one logical unit of work. Two work items with the
// same key are the same submission, however their fields were typed.
type Key struct {
	Platform     string
	Coordination string
	DocumentType string
	Element      string
	Company      string
	WorkCenter   string
	Worker       string
}

// KeyFor extracts the identity fields from a work item.
func KeyFor(item schemas.WorkItem) Key {
	return Key{
		Platform:     item.Platform,
		Coordination: item.Coordination,
		DocumentType: item.DocumentType,
		Element:      item.Element,
		Company:      item.Company,
		WorkCenter:   item.WorkCenter,
		Worker:       item.Worker,
	}
}

// Canonical renders the key in its normalized wire form: each field
// lowercased, trimmed, internal whitespace collapsed, then joined with "|" in
// fixed field order. The field order is part of the format and never changes.
func (k Key) Canonical() string {
	fields := []string{
		k.Platform,
		k.Coordination,
		k.DocumentType,
		k.Element,
		k.Company,
		k.WorkCenter,
		k.Worker,
	}
	for i, f := range fields {
		fields[i] = canonicalField(f)
	}
	return strings.Join(fields, "|")
}

// Fingerprint is the SHA-256 of the canonical form, hex encoded.
func (k Key) Fingerprint() string {
	sum := sha256.Sum256([]byte(k.Canonical()))
	return hex.EncodeToString(sum[:])
}

func canonicalField(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
