// File: internal/ledger/fingerprint_test.go
package ledger

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coordops/caerun/api/schemas"
)

func TestCanonicalFixedFieldOrder(t *testing.T) {
	k := Key{
		Platform:     "egestiona",
		Coordination: "Kern",
		DocumentType: "Recibo SS",
		Element:      "Doe, Jane (12345678A)",
		Company:      "ACME",
		WorkCenter:   "Planta Norte",
		Worker:       "Doe, Jane (12345678A)",
	}
	assert.Equal(t,
		"egestiona|kern|recibo ss|doe, jane (12345678a)|acme|planta norte|doe, jane (12345678a)",
		k.Canonical())
}

func TestFingerprintIgnoresCaseAndWhitespace(t *testing.T) {
	a := Key{
		Platform:     "eGestiona",
		Coordination: " Kern ",
		DocumentType: "Recibo  SS",
		Element:      "Doe,  Jane (12345678A)",
		Company:      "ACME",
	}
	b := Key{
		Platform:     "EGESTIONA",
		Coordination: "kern",
		DocumentType: "recibo ss",
		Element:      "doe, jane (12345678a)",
		Company:      "acme",
	}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)
}

func TestFingerprintDistinguishesFields(t *testing.T) {
	base := Key{Platform: "egestiona", Coordination: "kern", DocumentType: "recibo ss", Company: "acme"}

	other := base
	other.DocumentType = "certificado its"
	assert.NotEqual(t, base.Fingerprint(), other.Fingerprint())

	// A value moving between adjacent fields must change the fingerprint; the
	// separator prevents field-boundary collisions.
	x := Key{Platform: "a|b", Coordination: "c"}
	y := Key{Platform: "a", Coordination: "b|c"}
	assert.NotEqual(t, x.Fingerprint(), y.Fingerprint())
}

func TestKeyForUsesIdentityFieldsOnly(t *testing.T) {
	item := schemas.WorkItem{
		Platform:     "egestiona",
		Coordination: "Kern",
		DocumentType: "Recibo SS",
		Element:      "Doe, Jane (12345678A)",
		Company:      "ACME",
		Worker:       "Doe, Jane (12345678A)",
		PeriodKey:    "2026-08",
		Script:       []schemas.ActionSpec{{ID: "a"}},
	}
	withScript := KeyFor(item).Fingerprint()

	item.Script = nil
	item.PeriodKey = "2026-09"
	assert.Equal(t, withScript, KeyFor(item).Fingerprint(),
		"script and period do not participate in identity")
}

func FuzzFingerprintDeterminism(f *testing.F) {
	f.Add([]byte("egestiona|kern|recibo ss"))
	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)
		var k Key
		if err := c.GenerateStruct(&k); err != nil {
			return
		}
		first := k.Fingerprint()
		require.Equal(t, first, k.Fingerprint())
		require.Len(t, first, 64)

		// Canonicalization must be idempotent: feeding the canonical form
		// back through produces the same fingerprint.
		again := Key{
			Platform:     canonicalField(k.Platform),
			Coordination: canonicalField(k.Coordination),
			DocumentType: canonicalField(k.DocumentType),
			Element:      canonicalField(k.Element),
			Company:      canonicalField(k.Company),
			WorkCenter:   canonicalField(k.WorkCenter),
			Worker:       canonicalField(k.Worker),
		}
		require.Equal(t, first, again.Fingerprint())
	})
}
