// Package passwordhash wraps bcrypt the same way controllers/auth_controller.go
// did in the teacher, just pulled out of the handler into a reusable unit.
package passwordhash

import "golang.org/x/crypto/bcrypt"

// Cost targets roughly 100ms per verification on reference hardware, per
// the spec; bcrypt.DefaultCost (10) is what the teacher used and lands in
// that neighborhood on commodity server hardware.
const Cost = bcrypt.DefaultCost

// Hash returns a self-describing digest that Verify can later parse.
func Hash(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether password matches digest. bcrypt.CompareHashAndPassword
// already runs in constant time with respect to the candidate password.
func Verify(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}
