package models

import "time"

// Base carries the identity and audit-timestamp fields shared by every
// catalog entity. Unlike the GORM-backed Base this is descended from, there
// is no soft-delete column: the catalog tables this backs are either hard
// deleted by the Artifact Installer/Catalog or never deleted at all (raw and
// transformed events are immutable history).
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}
