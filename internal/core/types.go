package core

import (
	"time"
)

// Role is the privilege level of an Actor.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Actor is the authenticated caller of a Service operation.
// Identity is established by an external gateway.
type Actor struct {
	ID    string
	Label string
	Role  Role
}

// IsAdmin reports whether the actor has administrator privileges.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Holder identifies the owner of a reservation.
type Holder struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Reservation is an exclusive claim on one template row.
type Reservation struct {
	FormatID    string    `json:"formatId"`
	RowIndex    int       `json:"rowIndex"`
	HolderID    string    `json:"holderId"`
	HolderLabel string    `json:"holderLabel"`
	ReservedAt  time.Time `json:"reservedAt"`
}

// PickStatus is the outcome of a pick attempt.
type PickStatus string

const (
	PickOK       PickStatus = "ok"
	PickConflict PickStatus = "conflict"
)

// PickResult is returned by Pick. A conflict is an expected outcome, not an error.
type PickResult struct {
	Status      PickStatus `json:"status"`
	FormatID    string     `json:"formatId"`
	RowIndex    int        `json:"rowIndex"`
	HolderLabel string     `json:"holderLabel"`
}

// ReservationView is the public view of a reservation. HolderID is only
// filled in for administrators.
type ReservationView struct {
	RowIndex    int    `json:"rowIndex"`
	HolderID    string `json:"holderId,omitempty"`
	HolderLabel string `json:"holderLabel"`
	Mine        bool   `json:"mine"`
}

// TemplateRowView is one template row as shown to a holder.
type TemplateRowView struct {
	RowIndex    int    `json:"rowIndex"`
	Row         Row    `json:"row"`
	Locked      bool   `json:"locked"`
	Mine        bool   `json:"mine"`
	HolderLabel string `json:"holderLabel,omitempty"`
}

// Page selects a window of template rows. Page is 1-based.
type Page struct {
	Page     int
	PageSize int
}

// TemplatePage is a window of template rows plus the total count.
type TemplatePage struct {
	FormatID string            `json:"formatId"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
	Total    int               `json:"total"`
	Rows     []TemplateRowView `json:"rows"`
}

// CreatedFile is a user-owned saved row set. When FormatID and
// PickedRowIndices are both set the file is a live projection of the
// template rows at those indices and Rows is resolved on read.
type CreatedFile struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	OwnerID           string    `json:"ownerId"`
	OwnerLabel        string    `json:"ownerLabel"`
	FormatID          string    `json:"formatId,omitempty"`
	PickedRowIndices  []int     `json:"pickedRowIndices,omitempty"`
	Rows              []Row     `json:"rows"`
	IsMerged          bool      `json:"isMerged"`
	MergedFromFileIDs []string  `json:"mergedFromFileIds,omitempty"`
	MergeCount        int       `json:"mergeCount"`
	CreatedAt         time.Time `json:"createdAt"`
	LastEditedAt      time.Time `json:"lastEditedAt"`
	LastEditedBy      string    `json:"lastEditedBy"`
	Version           int       `json:"version"`
}

// IsProjection reports whether the file mirrors reserved template rows.
func (f *CreatedFile) IsProjection() bool {
	return f.FormatID != "" && f.PickedRowIndices != nil
}

// Entity is a canonical reference record (an employee) maintained by ingestion.
type Entity struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Site         string    `json:"site"`
	SiteCategory string    `json:"siteCategory"`
	Designation  string    `json:"designation"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AttendanceRecord is keyed by (EntityID, Date).
type AttendanceRecord struct {
	EntityID string            `json:"entityId"`
	Date     time.Time         `json:"date"`
	Status   string            `json:"status"`
	Site     string            `json:"site"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Key returns the natural key of the record.
func (r AttendanceRecord) Key() string {
	return r.EntityID + "|" + r.Date.Format(DateLayout)
}
