package filestore

import (
	"strings"

	"github.com/koustreak/pistas/internal/errs"
)

// CredentialSeparator joins the key id and the secret in a combined credential.
const CredentialSeparator = "_"

// SplitCredential splits a combined "<keyID>_<secret>" credential at the
// first separator. The secret may itself contain separators.
func SplitCredential(credential string) (keyID, secret string, err error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", "", errs.New(errs.ErrKindConfig, "application key is not configured")
	}
	keyID, secret, ok := strings.Cut(credential, CredentialSeparator)
	if !ok {
		return "", "", errs.New(errs.ErrKindConfig, "application key must have the form <keyID>_<secret>")
	}
	if keyID == "" || secret == "" {
		return "", "", errs.New(errs.ErrKindConfig, "application key has an empty key id or secret")
	}
	return keyID, secret, nil
}
