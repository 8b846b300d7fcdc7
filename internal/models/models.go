package models

import (
	"time"
)

// DocumentStatus is the lifecycle state of a document
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "pending"
	DocumentSigned   DocumentStatus = "signed"
	DocumentArchived DocumentStatus = "archived"
)

// User represents an uploader account
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	Password  string    `db:"password" json:"-"` // Password hash, not returned in JSON
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Document represents an uploaded document going through the signing workflow.
// File always points at the current artifact: the original upload while pending,
// the last countersigned file once signed.
type Document struct {
	ID         string         `db:"id" json:"id"`
	Name       string         `db:"name" json:"name"`
	Comment    string         `db:"comment" json:"comment"`
	File       string         `db:"file" json:"-"`
	Status     DocumentStatus `db:"status" json:"status"`
	UploadedBy string         `db:"uploaded_by" json:"uploadedBy"`
	UploadedAt time.Time      `db:"uploaded_at" json:"uploadedAt"`
}

// Signee is a person who can be asked to sign documents
type Signee struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Signature is one signee's obligation within a document's ledger
type Signature struct {
	ID               string     `db:"id" json:"id"`
	DocumentID       string     `db:"document_id" json:"documentId"`
	SigneeID         string     `db:"signee_id" json:"signeeId"`
	Position         int        `db:"position" json:"position"`
	Signed           bool       `db:"signed" json:"signed"`
	SignedAt         *time.Time `db:"signed_at" json:"signedAt,omitempty"`
	Token            string     `db:"token" json:"-"` // bearer credential, only ever sent by mail
	SignedFile       *string    `db:"signed_file" json:"-"`
	LastInviteSentAt *time.Time `db:"last_invite_sent_at" json:"lastInviteSentAt,omitempty"`
}

// SignatureDetail is a ledger entry joined with its signee
type SignatureDetail struct {
	Signature
	SigneeName  string `db:"signee_name" json:"signeeName"`
	SigneeEmail string `db:"signee_email" json:"signeeEmail"`
}

// SigneeSummary is a signee annotated with how many ledgers it appears in
type SigneeSummary struct {
	Signee
	SignatureCount int `db:"signature_count" json:"signatureCount"`
}
