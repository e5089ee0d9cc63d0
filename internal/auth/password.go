package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
)

const (
	bcryptCost = 12

	minPasswordLength = 6
	maxPasswordLength = 50
)

// PasswordService handles password hashing and validation.
type PasswordService struct {
	cost   int
	logger *logging.LoggerV2
}

// NewPasswordService creates a password service with the production cost.
func NewPasswordService() *PasswordService {
	return NewPasswordServiceWithCost(bcryptCost)
}

// NewPasswordServiceWithCost is NewPasswordService with an explicit bcrypt cost.
// Tests pass bcrypt.MinCost.
func NewPasswordServiceWithCost(cost int) *PasswordService {
	return &PasswordService{
		cost:   cost,
		logger: logging.NewLoggerV2("password-service"),
	}
}

// HashPassword validates and hashes a password with bcrypt.
func (s *PasswordService) HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		s.logger.Error("bcrypt hashing failed", logging.Fields{"error": err.Error()})
		return "", err
	}

	return string(hash), nil
}

// CheckPassword verifies a password against a bcrypt hash.
func (s *PasswordService) CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil && err != bcrypt.ErrMismatchedHashAndPassword {
		s.logger.Warn("stored password hash is unusable", logging.Fields{
			"error":       err.Error(),
			"hash_length": len(hash),
		})
	}
	return err == nil
}

// ValidatePassword enforces the account password length rules.
func ValidatePassword(password string) error {
	if password == "" {
		return ErrPasswordEmpty
	}
	if len(password) < minPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > maxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}
