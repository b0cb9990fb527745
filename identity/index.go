package identity

import "strings"

// IndexKey is one unique lookup entry owned by an identity.
type IndexKey struct {
	Field Field
	Key   string
}

// IndexKeys returns the unique lookup keys ident currently owns. Empty values
// own nothing.
func IndexKeys(ident *Identity) []IndexKey {
	keys := make([]IndexKey, 0, 5)
	add := func(field Field, key string) {
		if key != "" {
			keys = append(keys, IndexKey{Field: field, Key: key})
		}
	}
	add(FieldEmail, LookupKey(FieldEmail, ident.Email))
	add(FieldHandle, LookupKey(FieldHandle, ident.Handle))
	add(FieldSubject, LookupKey(FieldSubject, ident.SubjectKey()))
	add(FieldProof, ProofLookupKey(ProofEmailVerification, ident.EmailVerification.Digest))
	add(FieldProof, ProofLookupKey(ProofPasswordReset, ident.PasswordReset.Digest))
	return keys
}

// LookupKey returns the index key for field=value, or "" when value is empty.
// Emails are folded to lower case.
func LookupKey(field Field, value string) string {
	if value == "" {
		return ""
	}
	if field == FieldEmail {
		value = strings.ToLower(value)
	}
	return string(field) + ":" + value
}

// ProofLookupKey returns the index key for a proof digest of kind.
func ProofLookupKey(kind ProofKind, digest string) string {
	if digest == "" {
		return ""
	}
	return "proof:" + string(kind) + ":" + digest
}
