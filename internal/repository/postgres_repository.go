package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rongwang/countersign-server/internal/models"
)

var (
	// ErrAlreadySigned is returned by MarkSigned when the entry was signed before
	// the update could claim it.
	ErrAlreadySigned = errors.New("signature already signed")
	// ErrDuplicate is returned when a unique constraint (email, token, position) is violated.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound is returned by MarkSigned for an unknown token.
	ErrNotFound = errors.New("record not found")
)

// SignOutcome is the state of a document right after one of its entries was signed
type SignOutcome struct {
	Document  models.Document
	Signature models.Signature
	AllSigned bool
}

// Repository interface defines the methods that any repository implementation must satisfy.
// Single-record getters return nil, nil when nothing matches.
type Repository interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// Signee operations
	CreateSignee(ctx context.Context, signee *models.Signee) error
	GetSigneesByIDs(ctx context.Context, ids []string) ([]models.Signee, error)
	ListSignees(ctx context.Context) ([]models.SigneeSummary, error)

	// Document operations
	CreateDocumentWithLedger(ctx context.Context, doc *models.Document, signatures []models.Signature) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context) ([]models.Document, error)

	// Ledger operations
	GetLedger(ctx context.Context, documentID string) ([]models.SignatureDetail, error)
	GetSignatureByToken(ctx context.Context, token string) (*models.SignatureDetail, error)
	GetUnsignedSignatures(ctx context.Context, documentID string) ([]models.SignatureDetail, error)
	GetSignatureByPosition(ctx context.Context, documentID string, position int) (*models.SignatureDetail, error)
	MarkSigned(ctx context.Context, token, signedFile string, signedAt time.Time) (*SignOutcome, error)
	TouchInviteSent(ctx context.Context, signatureID string, sentAt time.Time) error
}

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// GetDB returns the underlying database connection
func (r *PostgresRepository) GetDB() *sqlx.DB {
	return r.db
}

const signatureDetailSelect = `
	SELECT s.*, se.name AS signee_name, se.email AS signee_email
	FROM signatures s
	JOIN signees se ON se.id = s.signee_id
`

// User repository methods
func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, name, password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.Password, user.CreatedAt, user.UpdatedAt)

	return translateError(err)
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email = $1`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &user, nil
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &user, nil
}

// Signee repository methods
func (r *PostgresRepository) CreateSignee(ctx context.Context, signee *models.Signee) error {
	if signee.ID == "" {
		signee.ID = uuid.New().String()
	}
	signee.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO signees (id, name, email, created_at) VALUES ($1, $2, $3, $4)`,
		signee.ID, signee.Name, signee.Email, signee.CreatedAt)

	return translateError(err)
}

func (r *PostgresRepository) GetSigneesByIDs(ctx context.Context, ids []string) ([]models.Signee, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM signees WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}

	var signees []models.Signee
	if err := r.db.SelectContext(ctx, &signees, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	return signees, nil
}

// ListSignees returns signees, the most used first
func (r *PostgresRepository) ListSignees(ctx context.Context) ([]models.SigneeSummary, error) {
	query := `
		SELECT se.*, COUNT(s.id) AS signature_count
		FROM signees se
		LEFT JOIN signatures s ON s.signee_id = se.id
		GROUP BY se.id
		ORDER BY signature_count DESC, se.name ASC
	`

	var signees []models.SigneeSummary
	if err := r.db.SelectContext(ctx, &signees, query); err != nil {
		return nil, err
	}

	return signees, nil
}

// Document repository methods

// CreateDocumentWithLedger inserts the document and its whole ledger in one
// transaction, so a reader never sees a document without its signatures.
func (r *PostgresRepository) CreateDocumentWithLedger(
	ctx context.Context,
	doc *models.Document,
	signatures []models.Signature,
) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentPending
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, name, comment, file, status, uploaded_by, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, doc.ID, doc.Name, doc.Comment, doc.File, doc.Status, doc.UploadedBy, doc.UploadedAt)
	if err != nil {
		err = translateError(err)
		return err
	}

	for i := range signatures {
		sig := &signatures[i]
		if sig.ID == "" {
			sig.ID = uuid.New().String()
		}
		sig.DocumentID = doc.ID

		_, err = tx.ExecContext(ctx, `
			INSERT INTO signatures (id, document_id, signee_id, position, signed, signed_at, token, signed_file, last_invite_sent_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, sig.ID, sig.DocumentID, sig.SigneeID, sig.Position, sig.Signed, sig.SignedAt,
			sig.Token, sig.SignedFile, sig.LastInviteSentAt)
		if err != nil {
			err = translateError(err)
			return err
		}
	}

	err = tx.Commit()
	return err
}

func (r *PostgresRepository) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := r.db.GetContext(ctx, &doc, `SELECT * FROM documents WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &doc, nil
}

// ListDocuments returns all documents, newest first
func (r *PostgresRepository) ListDocuments(ctx context.Context) ([]models.Document, error) {
	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, `SELECT * FROM documents ORDER BY uploaded_at DESC`); err != nil {
		return nil, err
	}

	return docs, nil
}

// Ledger repository methods
func (r *PostgresRepository) GetLedger(ctx context.Context, documentID string) ([]models.SignatureDetail, error) {
	var entries []models.SignatureDetail
	err := r.db.SelectContext(ctx, &entries,
		signatureDetailSelect+` WHERE s.document_id = $1 ORDER BY s.position ASC`, documentID)
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *PostgresRepository) GetSignatureByToken(ctx context.Context, token string) (*models.SignatureDetail, error) {
	var entry models.SignatureDetail
	err := r.db.GetContext(ctx, &entry, signatureDetailSelect+` WHERE s.token = $1`, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &entry, nil
}

// GetUnsignedSignatures returns the pending entries of a document by ascending position
func (r *PostgresRepository) GetUnsignedSignatures(ctx context.Context, documentID string) ([]models.SignatureDetail, error) {
	var entries []models.SignatureDetail
	err := r.db.SelectContext(ctx, &entries,
		signatureDetailSelect+` WHERE s.document_id = $1 AND s.signed = FALSE ORDER BY s.position ASC`, documentID)
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *PostgresRepository) GetSignatureByPosition(
	ctx context.Context,
	documentID string,
	position int,
) (*models.SignatureDetail, error) {
	var entry models.SignatureDetail
	err := r.db.GetContext(ctx, &entry,
		signatureDetailSelect+` WHERE s.document_id = $1 AND s.position = $2`, documentID, position)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &entry, nil
}

// MarkSigned claims the entry with a conditional update and recomputes the
// document's completion in the same transaction. The document row is locked
// first so two last signers of one document cannot both miss completion.
func (r *PostgresRepository) MarkSigned(
	ctx context.Context,
	token string,
	signedFile string,
	signedAt time.Time,
) (*SignOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	var documentID string
	err = tx.GetContext(ctx, &documentID, `
		SELECT d.id FROM documents d
		JOIN signatures s ON s.document_id = d.id
		WHERE s.token = $1
		FOR UPDATE OF d
	`, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
		}
		return nil, err
	}

	var sig models.Signature
	err = tx.GetContext(ctx, &sig, `
		UPDATE signatures
		SET signed = TRUE, signed_at = $1, signed_file = $2
		WHERE token = $3 AND signed = FALSE
		RETURNING *
	`, signedAt, signedFile, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrAlreadySigned
		}
		return nil, err
	}

	var pending int
	err = tx.GetContext(ctx, &pending,
		`SELECT COUNT(*) FROM signatures WHERE document_id = $1 AND signed = FALSE`, documentID)
	if err != nil {
		return nil, err
	}

	var doc models.Document
	if pending == 0 {
		err = tx.GetContext(ctx, &doc,
			`UPDATE documents SET status = $1, file = $2 WHERE id = $3 RETURNING *`,
			models.DocumentSigned, signedFile, documentID)
	} else {
		err = tx.GetContext(ctx, &doc, `SELECT * FROM documents WHERE id = $1`, documentID)
	}
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return &SignOutcome{
		Document:  doc,
		Signature: sig,
		AllSigned: pending == 0,
	}, nil
}

func (r *PostgresRepository) TouchInviteSent(ctx context.Context, signatureID string, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE signatures SET last_invite_sent_at = $1 WHERE id = $2`, sentAt, signatureID)
	return err
}

// translateError maps unique violations to ErrDuplicate
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
