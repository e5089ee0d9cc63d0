package service

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tm-acme-shop/acme-ops-portal/internal/auth"
	"github.com/tm-acme-shop/acme-ops-portal/internal/errors"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
)

const (
	usernameMinLen   = 2
	usernameMaxLen   = 50
	systemNameMaxLen = 100
	maxGrantBatch    = 500
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errors.ErrValidation, fmt.Sprintf(format, args...))
}

// ValidateLoginRequest validates a login request.
func ValidateLoginRequest(req *LoginRequest) error {
	if req.Username == "" || req.Password == "" {
		return invalid("username and password are required")
	}
	return nil
}

// ValidateCreateUserRequest validates a user creation request and fills in
// the default role and status.
func ValidateCreateUserRequest(req *CreateUserRequest) error {
	req.Username = SanitizeUsername(req.Username)
	req.Email = SanitizeEmail(req.Email)

	if err := validateUsername(req.Username); err != nil {
		return err
	}

	if err := auth.ValidatePassword(req.Password); err != nil {
		return invalid("%v", err)
	}

	if req.Email != "" && !emailRegex.MatchString(req.Email) {
		logging.Warnf("invalid email format: %s", req.Email)
		return invalid("invalid email address")
	}

	if req.Role == "" {
		req.Role = models.RoleUser
	}
	if !req.Role.Valid() {
		return invalid("role must be one of admin, user, auditor")
	}

	if req.Status == "" {
		req.Status = models.StatusActive
	}
	if !isValidStatus(req.Status) {
		return invalid("status must be active or disabled")
	}

	return nil
}

// ValidateUpdateUserRequest validates a user update request. At least one
// field must be present.
func ValidateUpdateUserRequest(req *models.UpdateUserRequest) error {
	if req.Email == nil && req.FullName == nil && req.Role == nil && req.Status == nil && req.Password == nil {
		return invalid("no fields to update")
	}

	if req.Email != nil {
		email := SanitizeEmail(*req.Email)
		if email != "" && !emailRegex.MatchString(email) {
			return invalid("invalid email address")
		}
		req.Email = &email
	}

	if req.Role != nil && !req.Role.Valid() {
		return invalid("role must be one of admin, user, auditor")
	}

	if req.Status != nil && !isValidStatus(*req.Status) {
		return invalid("status must be active or disabled")
	}

	if req.Password != nil {
		if err := auth.ValidatePassword(*req.Password); err != nil {
			return invalid("%v", err)
		}
	}

	return nil
}

// ValidateGenerateSSOURLRequest validates an outbound link request.
func ValidateGenerateSSOURLRequest(req *GenerateSSOURLRequest) error {
	req.TargetURL = strings.TrimSpace(req.TargetURL)
	req.Username = SanitizeUsername(req.Username)
	if req.TargetURL == "" || req.Username == "" {
		return invalid("target_url and username are required")
	}
	return nil
}

// ValidateSystemRequest validates a system create or update and fills in the
// default icon and status.
func ValidateSystemRequest(req *models.SystemRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.URL = strings.TrimSpace(req.URL)
	req.Icon = strings.TrimSpace(req.Icon)
	req.Description = strings.TrimSpace(req.Description)

	if req.Name == "" || req.URL == "" {
		return invalid("name and url are required")
	}
	if utf8.RuneCountInString(req.Name) > systemNameMaxLen {
		return invalid("name must be at most %d characters", systemNameMaxLen)
	}

	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return invalid("url must be an absolute http or https URL")
	}

	if req.Icon == "" {
		req.Icon = models.DefaultSystemIcon
	}
	if req.Status == "" {
		req.Status = models.SystemActive
	}
	if !req.Status.Valid() {
		return invalid("status must be active or inactive")
	}
	return nil
}

// ValidateGrantAccessRequest requires at least one positive system ID and
// drops duplicates, keeping the first occurrence.
func ValidateGrantAccessRequest(req *GrantAccessRequest) error {
	if len(req.SystemIDs) == 0 {
		return invalid("system_ids must be a non-empty array")
	}
	if len(req.SystemIDs) > maxGrantBatch {
		return invalid("at most %d system_ids per request", maxGrantBatch)
	}

	seen := make(map[int64]bool, len(req.SystemIDs))
	ids := make([]int64, 0, len(req.SystemIDs))
	for _, id := range req.SystemIDs {
		if id <= 0 {
			return invalid("system_ids must be positive integers")
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	req.SystemIDs = ids
	return nil
}

// ValidateEmail validates an email address format.
func ValidateEmail(email string) bool {
	return emailRegex.MatchString(email)
}

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < usernameMinLen || n > usernameMaxLen {
		return invalid("username must be %d-%d characters", usernameMinLen, usernameMaxLen)
	}
	return nil
}

func isValidStatus(status models.UserStatus) bool {
	switch status {
	case models.StatusActive, models.StatusDisabled:
		return true
	default:
		return false
	}
}

// SanitizeEmail normalizes an email address.
func SanitizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SanitizeUsername trims surrounding whitespace. Usernames are case sensitive
// because the legacy peer compares them byte for byte.
func SanitizeUsername(username string) string {
	return strings.TrimSpace(username)
}
