package models

import "time"

type AuditAction string

const (
	ActionLogin         AuditAction = "login"
	ActionLogout        AuditAction = "logout"
	ActionSignup        AuditAction = "signup"
	ActionPasswordReset AuditAction = "password_reset"
)

// AuditEntry is append-only. Entries are read back newest first.
type AuditEntry struct {
	ID        string            `json:"id" dynamodbav:"id"`
	Username  string            `json:"username" dynamodbav:"username"`
	Role      Role              `json:"role" dynamodbav:"role"`
	Action    AuditAction       `json:"action" dynamodbav:"action"`
	Timestamp time.Time         `json:"ts" dynamodbav:"ts"`
	Extra     map[string]string `json:"extra,omitempty" dynamodbav:"extra,omitempty"`
}
