// File: internal/evidence/digest.go
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// StructuralDigest hashes the shape of a document: element names, nesting and
// the identity-bearing attributes, ignoring text content and volatile
// attribute values. Two renders of the same screen produce the same digest
// even when timestamps or row data differ.
func StructuralDigest(markup string) string {
	h := sha256.New()
	z := html.NewTokenizer(strings.NewReader(markup))

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() == io.EOF {
				break
			}
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			io.WriteString(h, "<"+tok.Data)
			for _, a := range tok.Attr {
				switch a.Key {
				case "id", "name", "role", "type", "data-testid":
					io.WriteString(h, " "+a.Key+"="+a.Val)
				case "class":
					io.WriteString(h, " class="+a.Val)
				}
			}
			io.WriteString(h, ">")
		case html.EndTagToken:
			tok := z.Token()
			io.WriteString(h, "</"+tok.Data+">")
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
