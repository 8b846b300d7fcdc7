package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/countersign-server/internal/models"
)

// MemoryRepository keeps everything in-process. It backs the API tests and
// local runs without Postgres; the mutex gives it the same all-or-nothing and
// single-winner guarantees as the SQL transactions.
type MemoryRepository struct {
	mu         sync.RWMutex
	users      map[string]models.User
	signees    map[string]models.Signee
	documents  map[string]models.Document
	signatures map[string]models.Signature // key: signature ID
	tokens     map[string]string           // token -> signature ID
}

// NewMemoryRepository initializes an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:      make(map[string]models.User),
		signees:    make(map[string]models.Signee),
		documents:  make(map[string]models.Document),
		signatures: make(map[string]models.Signature),
		tokens:     make(map[string]string),
	}
}

func (m *MemoryRepository) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.ID] = *user
	return nil
}

func (m *MemoryRepository) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			user := u
			return &user, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) GetUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryRepository) CreateSignee(_ context.Context, signee *models.Signee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.signees {
		if s.Email == signee.Email {
			return ErrDuplicate
		}
	}
	if signee.ID == "" {
		signee.ID = uuid.New().String()
	}
	signee.CreatedAt = time.Now().UTC()
	m.signees[signee.ID] = *signee
	return nil
}

func (m *MemoryRepository) GetSigneesByIDs(_ context.Context, ids []string) ([]models.Signee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]models.Signee, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if s, ok := m.signees[id]; ok && !seen[id] {
			seen[id] = true
			res = append(res, s)
		}
	}
	return res, nil
}

// ListSignees returns signees, the most used first
func (m *MemoryRepository) ListSignees(_ context.Context) ([]models.SigneeSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, sig := range m.signatures {
		counts[sig.SigneeID]++
	}
	res := make([]models.SigneeSummary, 0, len(m.signees))
	for _, s := range m.signees {
		res = append(res, models.SigneeSummary{Signee: s, SignatureCount: counts[s.ID]})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].SignatureCount != res[j].SignatureCount {
			return res[i].SignatureCount > res[j].SignatureCount
		}
		return res[i].Name < res[j].Name
	})
	return res, nil
}

// CreateDocumentWithLedger checks every constraint before writing anything,
// so a rejected ledger leaves no trace.
func (m *MemoryRepository) CreateDocumentWithLedger(
	_ context.Context,
	doc *models.Document,
	signatures []models.Signature,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	positions := make(map[int]bool, len(signatures))
	for _, sig := range signatures {
		if _, taken := m.tokens[sig.Token]; taken || positions[sig.Position] {
			return ErrDuplicate
		}
		positions[sig.Position] = true
	}

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentPending
	}
	m.documents[doc.ID] = *doc

	for i := range signatures {
		sig := &signatures[i]
		if sig.ID == "" {
			sig.ID = uuid.New().String()
		}
		sig.DocumentID = doc.ID
		m.signatures[sig.ID] = *sig
		m.tokens[sig.Token] = sig.ID
	}
	return nil
}

func (m *MemoryRepository) GetDocument(_ context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

// ListDocuments returns all documents, newest first
func (m *MemoryRepository) ListDocuments(_ context.Context) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]models.Document, 0, len(m.documents))
	for _, d := range m.documents {
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].UploadedAt.After(res[j].UploadedAt)
	})
	return res, nil
}

func (m *MemoryRepository) GetLedger(_ context.Context, documentID string) ([]models.SignatureDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger(documentID, func(models.Signature) bool { return true }), nil
}

func (m *MemoryRepository) GetSignatureByToken(_ context.Context, token string) (*models.SignatureDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.tokens[token]
	if !ok {
		return nil, nil
	}
	entry := m.detail(m.signatures[id])
	return &entry, nil
}

func (m *MemoryRepository) GetUnsignedSignatures(_ context.Context, documentID string) ([]models.SignatureDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger(documentID, func(s models.Signature) bool { return !s.Signed }), nil
}

func (m *MemoryRepository) GetSignatureByPosition(
	_ context.Context,
	documentID string,
	position int,
) (*models.SignatureDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.ledger(documentID, func(s models.Signature) bool { return s.Position == position })
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (m *MemoryRepository) MarkSigned(
	_ context.Context,
	token string,
	signedFile string,
	signedAt time.Time,
) (*SignOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	sig := m.signatures[id]
	if sig.Signed {
		return nil, ErrAlreadySigned
	}

	at := signedAt
	file := signedFile
	sig.Signed = true
	sig.SignedAt = &at
	sig.SignedFile = &file
	m.signatures[id] = sig

	allSigned := true
	for _, other := range m.signatures {
		if other.DocumentID == sig.DocumentID && !other.Signed {
			allSigned = false
			break
		}
	}

	doc := m.documents[sig.DocumentID]
	if allSigned {
		doc.Status = models.DocumentSigned
		doc.File = signedFile
		m.documents[doc.ID] = doc
	}

	return &SignOutcome{Document: doc, Signature: sig, AllSigned: allSigned}, nil
}

func (m *MemoryRepository) TouchInviteSent(_ context.Context, signatureID string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig, ok := m.signatures[signatureID]
	if !ok {
		return ErrNotFound
	}
	at := sentAt
	sig.LastInviteSentAt = &at
	m.signatures[signatureID] = sig
	return nil
}

// ledger returns the matching entries of a document ordered by position; callers hold the lock.
func (m *MemoryRepository) ledger(documentID string, keep func(models.Signature) bool) []models.SignatureDetail {
	res := make([]models.SignatureDetail, 0)
	for _, sig := range m.signatures {
		if sig.DocumentID == documentID && keep(sig) {
			res = append(res, m.detail(sig))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Position < res[j].Position })
	return res
}

func (m *MemoryRepository) detail(sig models.Signature) models.SignatureDetail {
	signee := m.signees[sig.SigneeID]
	return models.SignatureDetail{
		Signature:   sig,
		SigneeName:  signee.Name,
		SigneeEmail: signee.Email,
	}
}
