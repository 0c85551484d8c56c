package core

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/edvin/dbaas/internal/model"
)

// DigestAlgorithm is the only algorithm accepted in digest headers.
const DigestAlgorithm = "SHA-256"

// Digest returns the header value "SHA-256=<base64>" over the JSON encoding
// of the status document.
func Digest(doc *model.Operation) (string, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode status document: %w", err)
	}
	sum := sha256.Sum256(b)
	return DigestAlgorithm + "=" + base64.StdEncoding.EncodeToString(sum[:]), nil
}

// VerifyDigest recomputes the digest of doc and compares it with header.
func VerifyDigest(doc *model.Operation, header string) error {
	alg, value, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok || alg == "" || value == "" {
		return validationError("malformed digest header %q", header)
	}
	if !strings.EqualFold(alg, DigestAlgorithm) {
		return validationError("unsupported digest algorithm %q", alg)
	}

	want, err := Digest(doc)
	if err != nil {
		return err
	}
	got := DigestAlgorithm + "=" + value
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return newError(KindValidation, CodeDigestMismatch, "digest of backup %q does not match the document", doc.Name)
	}
	return nil
}

// rebuildImported prepares a verified document for persistence: missing ids
// are generated and back-links are pointed at the document's own records.
func rebuildImported(doc *model.Operation, newID func() string) {
	doc.Kind = model.KindBackup
	for i := range doc.Units {
		u := &doc.Units[i]
		if u.ID == "" {
			u.ID = newID()
		}
		u.OperationName = doc.Name
		for j := range u.Items {
			it := &u.Items[j]
			if it.ID == "" {
				it.ID = newID()
			}
			it.UnitID = u.ID
		}
	}
}
