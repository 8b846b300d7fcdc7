package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rongwang/countersign-server/internal/models"
	"github.com/rongwang/countersign-server/internal/repository"
	"github.com/rongwang/countersign-server/internal/storage"
	"github.com/rongwang/countersign-server/internal/utils"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Service defines all the business logic operations
type Service interface {
	// Authentication
	SignUp(ctx context.Context, req models.SignUpRequest) (*models.AuthResponse, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error)

	// Signee directory
	CreateSignee(ctx context.Context, req models.CreateSigneeRequest) (*models.SigneeResponse, error)
	ListSignees(ctx context.Context) (*models.ListSigneesResponse, error)

	// Documents
	CreateDocument(ctx context.Context, userID string, req models.CreateDocumentRequest, file io.Reader) (*models.DocumentResponse, error)
	ListDocuments(ctx context.Context) (*models.ListDocumentsResponse, error)
	GetDocument(ctx context.Context, documentID string) (*models.DocumentResponse, error)
	OpenDocumentFile(ctx context.Context, documentID string) (io.ReadCloser, string, error)
	SendReminder(ctx context.Context, documentID string) (*models.DocumentResponse, error)

	// Signing
	GetSignPage(ctx context.Context, token string) (*models.SignPageResponse, error)
	SignDocument(ctx context.Context, token, filename string, size int64, file io.Reader) (*models.SignResponse, error)
}

// Notifier sends the workflow's mails. notify.Dispatcher implements it.
type Notifier interface {
	SendInvite(ctx context.Context, doc models.Document, uploadedBy string, entry models.SignatureDetail, attachmentKey string) error
	SendCompletion(ctx context.Context, doc models.Document, uploadedBy string) error
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo          repository.Repository
	files         storage.FileStore
	notifier      Notifier
	logger        *zap.Logger
	jwtSecret     []byte
	tokenDuration time.Duration
	now           func() time.Time
}

// NewDefaultService creates a new DefaultService
func NewDefaultService(
	repo repository.Repository,
	files storage.FileStore,
	notifier Notifier,
	logger *zap.Logger,
	jwtSecret string,
) *DefaultService {
	return &DefaultService{
		repo:          repo,
		files:         files,
		notifier:      notifier,
		logger:        logger.With(zap.String("component", "service")),
		jwtSecret:     []byte(jwtSecret),
		tokenDuration: 24 * time.Hour,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Authentication methods
func (s *DefaultService) SignUp(ctx context.Context, req models.SignUpRequest) (*models.AuthResponse, error) {
	existingUser, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("error checking user existence: %w", err)
	}
	if existingUser != nil {
		return nil, ErrEmailTaken
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &models.User{
		ID:       uuid.New().String(),
		Email:    req.Email,
		Name:     req.Name,
		Password: string(hashedPassword),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	return &models.AuthResponse{
		Status: "success",
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	}, nil
}

func (s *DefaultService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.generateJWT(user)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	return &models.AuthResponse{
		Status:    "success",
		UserID:    user.ID,
		Token:     token,
		ExpiresIn: int(s.tokenDuration.Seconds()),
	}, nil
}

// Signee directory
func (s *DefaultService) CreateSignee(ctx context.Context, req models.CreateSigneeRequest) (*models.SigneeResponse, error) {
	signee := &models.Signee{
		ID:    uuid.New().String(),
		Name:  strings.TrimSpace(req.Name),
		Email: strings.ToLower(strings.TrimSpace(req.Email)),
	}
	if err := s.repo.CreateSignee(ctx, signee); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("error creating signee: %w", err)
	}
	return &models.SigneeResponse{Status: "success", Signee: *signee}, nil
}

func (s *DefaultService) ListSignees(ctx context.Context) (*models.ListSigneesResponse, error) {
	signees, err := s.repo.ListSignees(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing signees: %w", err)
	}
	return &models.ListSigneesResponse{Status: "success", Signees: signees}, nil
}

// CreateDocument validates the signee selection, stores the original file and
// persists the document with its ledger in one transaction. The first pending
// signee is invited right after. When that invite fails the document stays
// created and the response is returned along with the error.
func (s *DefaultService) CreateDocument(
	ctx context.Context,
	userID string,
	req models.CreateDocumentRequest,
	file io.Reader,
) (*models.DocumentResponse, error) {
	entries, problems := resolveLedger(req.Selections)
	if strings.TrimSpace(req.Name) == "" {
		problems = append(problems, ValidationProblem{Code: CodeNameRequired, Message: "The document needs a name."})
	}
	if file == nil || req.Filename == "" {
		problems = append(problems, ValidationProblem{Code: CodeFileRequired, Message: "A file must be uploaded."})
	}
	unknown, err := s.unknownSignees(ctx, req.Selections)
	if err != nil {
		return nil, err
	}
	for _, id := range unknown {
		problems = append(problems, ValidationProblem{
			Code:    CodeUnknownSignee,
			Message: fmt.Sprintf("Signee %s does not exist.", id),
		})
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	now := s.now()
	doc := &models.Document{
		ID:         uuid.New().String(),
		Name:       strings.TrimSpace(req.Name),
		Comment:    req.Comment,
		Status:     models.DocumentPending,
		UploadedBy: userID,
		UploadedAt: now,
	}
	normalized := utils.NormalizeFilename(req.Filename, doc.Name, false)
	doc.File = path.Join("originals", doc.ID, normalized)

	if err := s.files.Put(ctx, doc.File, file, req.Size, storage.ContentType(normalized)); err != nil {
		return nil, fmt.Errorf("error storing document file: %w", err)
	}

	signatures := make([]models.Signature, 0, len(entries))
	for _, entry := range entries {
		token, err := newSigningToken()
		if err != nil {
			return nil, fmt.Errorf("error generating signing token: %w", err)
		}
		sig := models.Signature{
			ID:       uuid.New().String(),
			SigneeID: entry.SigneeID,
			Position: entry.Position,
			Token:    token,
		}
		if entry.AlreadySigned {
			signedAt := now
			signedFile := doc.File
			sig.Signed = true
			sig.SignedAt = &signedAt
			sig.SignedFile = &signedFile
		}
		signatures = append(signatures, sig)
	}

	if err := s.repo.CreateDocumentWithLedger(ctx, doc, signatures); err != nil {
		if delErr := s.files.Delete(ctx, doc.File); delErr != nil {
			s.logger.Warn("Failed to remove orphaned upload", zap.String("key", doc.File), zap.Error(delErr))
		}
		return nil, fmt.Errorf("error creating document: %w", err)
	}

	s.logger.Info("Document created",
		zap.String("document_id", doc.ID),
		zap.String("uploaded_by", userID),
		zap.Int("signees", len(signatures)),
	)

	advanceErr := s.advance(ctx, *doc)
	resp, err := s.documentResponse(ctx, *doc, "Document created")
	if err != nil {
		return nil, err
	}
	if advanceErr != nil {
		resp.Message = "Document created but the invite could not be sent"
		return resp, advanceErr
	}
	return resp, nil
}

func (s *DefaultService) ListDocuments(ctx context.Context) (*models.ListDocumentsResponse, error) {
	docs, err := s.repo.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing documents: %w", err)
	}
	return &models.ListDocumentsResponse{Status: "success", Documents: docs}, nil
}

func (s *DefaultService) GetDocument(ctx context.Context, documentID string) (*models.DocumentResponse, error) {
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return s.documentResponse(ctx, *doc, "")
}

// OpenDocumentFile returns the current file of a document and the name it is
// served under. Completed documents get the signed-mode name.
func (s *DefaultService) OpenDocumentFile(ctx context.Context, documentID string) (io.ReadCloser, string, error) {
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return nil, "", err
	}
	rc, err := s.files.Open(ctx, doc.File)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("error opening document file: %w", err)
	}
	filename := utils.NormalizeFilename(doc.File, doc.Name, doc.Status == models.DocumentSigned)
	return rc, filename, nil
}

// SendReminder re-sends the invite of the current pending signee
func (s *DefaultService) SendReminder(ctx context.Context, documentID string) (*models.DocumentResponse, error) {
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.DocumentPending {
		return nil, ErrNothingToSend
	}
	if err := s.advance(ctx, *doc); err != nil {
		return nil, err
	}
	return s.documentResponse(ctx, *doc, "Reminder sent")
}

// Signing
func (s *DefaultService) GetSignPage(ctx context.Context, token string) (*models.SignPageResponse, error) {
	entry, err := s.repo.GetSignatureByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("error getting signature: %w", err)
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	doc, err := s.loadDocument(ctx, entry.DocumentID)
	if err != nil {
		return nil, err
	}
	return &models.SignPageResponse{
		Status:       "success",
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		Comment:      doc.Comment,
		SigneeName:   entry.SigneeName,
		Position:     entry.Position,
		Signed:       entry.Signed,
	}, nil
}

// SignDocument records a signee's countersigned upload. The ledger update,
// and the document completion when it was the last pending entry, happen
// atomically; concurrent attempts on one token have a single winner. The
// follow-up mail is sent after the state change, so a DispatchError leaves
// the signature recorded.
func (s *DefaultService) SignDocument(
	ctx context.Context,
	token, filename string,
	size int64,
	file io.Reader,
) (*models.SignResponse, error) {
	entry, err := s.repo.GetSignatureByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("error getting signature: %w", err)
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	if entry.Signed {
		return nil, ErrAlreadySigned
	}
	doc, err := s.loadDocument(ctx, entry.DocumentID)
	if err != nil {
		return nil, err
	}

	normalized := utils.NormalizeFilename(filename, doc.Name, false)
	key := path.Join("signatures", entry.ID, uuid.New().String(),
		fmt.Sprintf("doc%s_signee%s_%s", doc.ID, entry.SigneeID, normalized))
	if err := s.files.Put(ctx, key, file, size, storage.ContentType(normalized)); err != nil {
		return nil, fmt.Errorf("error storing signed file: %w", err)
	}

	outcome, err := s.repo.MarkSigned(ctx, token, key, s.now())
	if err != nil {
		if delErr := s.files.Delete(ctx, key); delErr != nil {
			s.logger.Warn("Failed to remove rejected upload", zap.String("key", key), zap.Error(delErr))
		}
		switch {
		case errors.Is(err, repository.ErrAlreadySigned):
			return nil, ErrAlreadySigned
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error recording signature: %w", err)
	}

	s.logger.Info("Document signed",
		zap.String("document_id", doc.ID),
		zap.String("signature_id", entry.ID),
		zap.Int("position", entry.Position),
		zap.Bool("completed", outcome.AllSigned),
	)

	resp := &models.SignResponse{
		Status:         "success",
		Message:        "Thank you, your signature was recorded",
		DocumentID:     outcome.Document.ID,
		DocumentStatus: outcome.Document.Status,
	}

	if outcome.AllSigned {
		err = s.complete(ctx, outcome.Document)
	} else {
		err = s.advance(ctx, outcome.Document)
	}
	return resp, err
}

// advance invites the lowest-position unsigned signee of doc. Nothing is sent
// when the ledger has no pending entry.
func (s *DefaultService) advance(ctx context.Context, doc models.Document) error {
	unsigned, err := s.repo.GetUnsignedSignatures(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("error getting unsigned signatures: %w", err)
	}
	next, ok := nextPending(unsigned)
	if !ok {
		return nil
	}

	var previous *models.SignatureDetail
	if next.Position > 1 {
		previous, err = s.repo.GetSignatureByPosition(ctx, doc.ID, next.Position-1)
		if err != nil {
			return fmt.Errorf("error getting previous signature: %w", err)
		}
	}
	attachment, err := inviteAttachment(doc, next, previous)
	if err != nil {
		s.logger.Error("Ledger has no file for the next invite",
			zap.String("document_id", doc.ID),
			zap.Int("position", next.Position),
			zap.Error(err),
		)
		return err
	}

	uploadedBy, err := s.uploaderName(ctx, doc.UploadedBy)
	if err != nil {
		return err
	}
	if err := s.notifier.SendInvite(ctx, doc, uploadedBy, next, attachment); err != nil {
		s.logger.Error("Failed to send invite",
			zap.String("document_id", doc.ID),
			zap.String("signature_id", next.ID),
			zap.Error(err),
		)
		return &DispatchError{DocumentID: doc.ID, Err: err}
	}

	if err := s.repo.TouchInviteSent(ctx, next.ID, s.now()); err != nil {
		s.logger.Warn("Failed to record invite time", zap.String("signature_id", next.ID), zap.Error(err))
	}
	return nil
}

func (s *DefaultService) complete(ctx context.Context, doc models.Document) error {
	uploadedBy, err := s.uploaderName(ctx, doc.UploadedBy)
	if err != nil {
		return err
	}
	if err := s.notifier.SendCompletion(ctx, doc, uploadedBy); err != nil {
		s.logger.Error("Failed to send completion notice", zap.String("document_id", doc.ID), zap.Error(err))
		return &DispatchError{DocumentID: doc.ID, Err: err}
	}
	return nil
}

func (s *DefaultService) loadDocument(ctx context.Context, documentID string) (*models.Document, error) {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("error getting document: %w", err)
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (s *DefaultService) documentResponse(ctx context.Context, doc models.Document, message string) (*models.DocumentResponse, error) {
	ledger, err := s.repo.GetLedger(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("error getting ledger: %w", err)
	}
	return &models.DocumentResponse{
		Status:     "success",
		Message:    message,
		Document:   doc,
		Signatures: ledger,
	}, nil
}

// uploaderName formats the uploading user the way mails show them
func (s *DefaultService) uploaderName(ctx context.Context, userID string) (string, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("error getting uploader: %w", err)
	}
	if user == nil {
		return userID, nil
	}
	return fmt.Sprintf("%s <%s>", user.Name, user.Email), nil
}

// unknownSignees returns the included signee IDs missing from the directory
func (s *DefaultService) unknownSignees(ctx context.Context, selections []models.SigneeSelection) ([]string, error) {
	ids := make([]string, 0, len(selections))
	for _, sel := range selections {
		if sel.Included {
			ids = append(ids, sel.SigneeID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := s.repo.GetSigneesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("error getting signees: %w", err)
	}
	known := make(map[string]bool, len(found))
	for _, signee := range found {
		known[signee.ID] = true
	}
	var unknown []string
	reported := make(map[string]bool)
	for _, id := range ids {
		if !known[id] && !reported[id] {
			reported[id] = true
			unknown = append(unknown, id)
		}
	}
	return unknown, nil
}

func (s *DefaultService) generateJWT(user *models.User) (string, error) {
	expirationTime := time.Now().Add(s.tokenDuration)

	claims := jwt.MapClaims{
		"sub": user.ID,
		"exp": expirationTime.Unix(),
		"iat": time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// newSigningToken returns 128 random bits as lowercase hex
func newSigningToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
