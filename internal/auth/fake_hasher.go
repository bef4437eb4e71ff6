package auth

import "strings"

const fakeHashPrefix = "$fake$"

// FakeInsecureHasher stores passwords as "$fake$<plaintext>". Tests only.
type FakeInsecureHasher struct{}

func (FakeInsecureHasher) HashPassword(password string) (string, error) {
	return fakeHashPrefix + password, nil
}

func (FakeInsecureHasher) VerifyPassword(password, encodedHash string) bool {
	return strings.HasPrefix(encodedHash, fakeHashPrefix) &&
		strings.TrimPrefix(encodedHash, fakeHashPrefix) == password
}
