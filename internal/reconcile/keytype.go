package reconcile

import "strings"

const (
	rsaPrivateKeyMarker = "BEGIN RSA PRIVATE KEY"
	rsaPublicKeyMarker  = "ssh-rsa"
)

// PrivateKeyType picks the id_<type> file name of a private key blob. Any
// blob without the RSA PEM header is treated as dsa.
func PrivateKeyType(blob string) string {
	if strings.Contains(blob, rsaPrivateKeyMarker) {
		return "rsa"
	}
	return "dsa"
}

// PublicKeyType picks the id_<type>.pub file name of a public key.
func PublicKeyType(blob string) string {
	if strings.Contains(blob, rsaPublicKeyMarker) {
		return "rsa"
	}
	return "dsa"
}
