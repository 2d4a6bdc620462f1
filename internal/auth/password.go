package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

var bcryptCost = 12

// bcrypt ignores input past 72 bytes, so longer passwords are refused
// rather than silently truncated.
const maxPasswordBytes = 72

func HashPassword(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", xerrors.Newf("password longer than %d bytes", maxPasswordBytes)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", xerrors.Wrap(err, "hash password")
	}
	return string(h), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// dummyHash is compared against when the user does not exist so both
// branches of a login cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("tradedesk-timing-equalizer"), bcryptCost)
