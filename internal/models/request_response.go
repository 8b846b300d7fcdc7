package models

// Request models
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type CreateSigneeRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

// SigneeSelection is one row of the signee picker submitted with a new document.
// Position is nil when the uploader left the position empty.
type SigneeSelection struct {
	SigneeID      string `json:"signeeId" binding:"required"`
	Included      bool   `json:"included"`
	AlreadySigned bool   `json:"alreadySigned"`
	Position      *int   `json:"position,omitempty"`
}

// CreateDocumentRequest is the parsed form of a document upload
type CreateDocumentRequest struct {
	Name       string
	Comment    string
	Filename   string
	Size       int64
	Selections []SigneeSelection
}

// Response models
type AuthResponse struct {
	Status    string `json:"status"`
	UserID    string `json:"userId,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresIn int    `json:"expiresIn,omitempty"`
}

type SigneeResponse struct {
	Status string `json:"status"`
	Signee Signee `json:"signee"`
}

type ListSigneesResponse struct {
	Status  string          `json:"status"`
	Signees []SigneeSummary `json:"signees"`
}

type DocumentResponse struct {
	Status     string            `json:"status"`
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message,omitempty"`
	Document   Document          `json:"document"`
	Signatures []SignatureDetail `json:"signatures"`
}

type ListDocumentsResponse struct {
	Status    string     `json:"status"`
	Documents []Document `json:"documents"`
}

type SignPageResponse struct {
	Status       string `json:"status"`
	DocumentID   string `json:"documentId"`
	DocumentName string `json:"documentName"`
	Comment      string `json:"comment"`
	SigneeName   string `json:"signeeName"`
	Position     int    `json:"position"`
	Signed       bool   `json:"signed"`
}

type SignResponse struct {
	Status         string         `json:"status"`
	Code           string         `json:"code,omitempty"`
	Message        string         `json:"message"`
	DocumentID     string         `json:"documentId"`
	DocumentStatus DocumentStatus `json:"documentStatus"`
}

type ErrorResponse struct {
	Status  string   `json:"status"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}
