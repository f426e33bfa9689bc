package reconcile

import (
	"strings"

	"github.com/GehirnInc/crypt"
	_ "github.com/GehirnInc/crypt/md5_crypt"
	_ "github.com/GehirnInc/crypt/sha256_crypt"
	_ "github.com/GehirnInc/crypt/sha512_crypt"
)

// looksHashed reports whether a password field holds a crypt(3) hash or a
// locked/disabled marker rather than a clear text password.
func looksHashed(p string) bool {
	if p == "" || strings.HasPrefix(p, "!") || strings.HasPrefix(p, "*") {
		return true
	}
	if crypt.IsHashSupported(p) {
		return true
	}
	// yescrypt and bcrypt are valid in shadow but unknown to the crypt package
	return strings.HasPrefix(p, "$y$") || strings.HasPrefix(p, "$2")
}
