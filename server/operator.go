package server

import "golang.org/x/crypto/bcrypt"

// authenticateOperator checks an OPER attempt against the configured
// operator table. Credentials are stored as bcrypt hashes, never
// plaintext.
func (srv *Server) authenticateOperator(username, password string) bool {
	hash, ok := srv.operators[username]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashOperatorPassword produces a bcrypt hash suitable for the
// operators section of the configuration file.
func HashOperatorPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
