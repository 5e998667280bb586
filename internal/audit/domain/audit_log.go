package domain

import "time"

// AuditLog represents an audit event of the login step.
type AuditLog struct {
	ID        string
	Realm     string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
