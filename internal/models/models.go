package models

import (
	"encoding/json"
	"time"
)

// UserRole is the RBAC role of a portal account.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleAuditor UserRole = "auditor"
	RoleUser    UserRole = "user"
)

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleAuditor, RoleUser:
		return true
	}
	return false
}

// UserStatus is the account state. Only active accounts may log in.
type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

// User is a portal account. The password hash never leaves the repository layer.
type User struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name"`
	Role        UserRole   `json:"role"`
	Status      UserStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_time,omitempty"`
}

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

// CreateUserRequest carries the fields for a new account. Password is the
// already-hashed value once it reaches the repository.
type CreateUserRequest struct {
	Username string
	Email    string
	FullName string
	Password string
	Role     UserRole
	Status   UserStatus
}

// UpdateUserRequest carries optional changes to an account.
type UpdateUserRequest struct {
	Email    *string     `json:"email,omitempty"`
	FullName *string     `json:"full_name,omitempty"`
	Role     *UserRole   `json:"role,omitempty"`
	Status   *UserStatus `json:"status,omitempty"`
	Password *string     `json:"password,omitempty"`
}

// UserListFilter narrows a user listing.
type UserListFilter struct {
	Limit  int
	Offset int
	Search string
	Role   *UserRole
	Status *UserStatus
}

// AuditLog is one entry of the audit trail.
type AuditLog struct {
	ID           int64           `json:"id"`
	UserID       *int64          `json:"user_id"`
	Username     string          `json:"username"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Details      json.RawMessage `json:"details"`
	IPAddress    string          `json:"ip_address"`
	UserAgent    string          `json:"user_agent"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AuditLogFilter narrows an audit listing.
type AuditLogFilter struct {
	Limit  int
	Offset int
	UserID *int64
	Action string
}

// SystemStatus controls whether a registered system is shown and polled.
type SystemStatus string

const (
	SystemActive   SystemStatus = "active"
	SystemInactive SystemStatus = "inactive"
)

// Valid reports whether s is a known system status.
func (s SystemStatus) Valid() bool {
	return s == SystemActive || s == SystemInactive
}

// HealthStatus is the last observed reachability of a system.
type HealthStatus string

const (
	HealthUnknown HealthStatus = "unknown"
	HealthOnline  HealthStatus = "online"
	HealthOffline HealthStatus = "offline"
)

// DefaultSystemIcon is the icon stored when a system is created without one.
const DefaultSystemIcon = "Monitor"

// System is an entry of the ops systems registry shown on the portal home
// page. ResponseTimeMs and LastCheckAt stay nil until the first health check.
type System struct {
	ID             int64        `json:"id"`
	Name           string       `json:"name"`
	URL            string       `json:"url"`
	Icon           string       `json:"icon"`
	Description    string       `json:"description"`
	OrderNum       int          `json:"order_num"`
	Status         SystemStatus `json:"status"`
	HealthStatus   HealthStatus `json:"health_status"`
	ResponseTimeMs *int64       `json:"response_time"`
	LastCheckAt    *time.Time   `json:"last_check_time"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// SystemRequest carries every editable field of a system. Create and update
// both replace the full record.
type SystemRequest struct {
	Name        string       `json:"name"`
	URL         string       `json:"url"`
	Icon        string       `json:"icon"`
	Description string       `json:"description"`
	OrderNum    int          `json:"order_num"`
	Status      SystemStatus `json:"status"`
}

// HealthResult is the outcome of probing one system.
type HealthResult struct {
	SystemID       int64        `json:"id"`
	Name           string       `json:"name"`
	HealthStatus   HealthStatus `json:"health_status"`
	ResponseTimeMs int64        `json:"response_time"`
	StatusCode     int          `json:"status_code,omitempty"`
	Error          string       `json:"error,omitempty"`
	CheckedAt      time.Time    `json:"last_check_time"`
}

// SystemGrant is one row of user_system_access joined with the system name
// and the granting admin.
type SystemGrant struct {
	SystemID      int64     `json:"id"`
	Name          string    `json:"name"`
	GrantedAt     time.Time `json:"granted_at"`
	GrantedByName string    `json:"granted_by_name"`
}
