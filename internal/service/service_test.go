package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/rongwang/countersign-server/internal/models"
	"github.com/rongwang/countersign-server/internal/notify"
	"github.com/rongwang/countersign-server/internal/repository"
	"github.com/rongwang/countersign-server/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	svc    *DefaultService
	repo   *repository.MemoryRepository
	files  *storage.MemoryStore
	sender *notify.MemorySender
	owner  *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := repository.NewMemoryRepository()
	files := storage.NewMemoryStore()
	sender := notify.NewMemorySender()
	dispatcher := notify.NewDispatcher(sender, files, "https://sign.example.com", "office@example.com", zap.NewNop())

	owner := &models.User{Email: "owner@example.com", Name: "Owner", Password: "x"}
	require.NoError(t, repo.CreateUser(context.Background(), owner))

	return &testEnv{
		svc:    NewDefaultService(repo, files, dispatcher, zap.NewNop(), "secret"),
		repo:   repo,
		files:  files,
		sender: sender,
		owner:  owner,
	}
}

func (e *testEnv) signee(t *testing.T, name string) string {
	t.Helper()
	resp, err := e.svc.CreateSignee(context.Background(), models.CreateSigneeRequest{
		Name:  name,
		Email: strings.ToLower(name) + "@example.com",
	})
	require.NoError(t, err)
	return resp.Signee.ID
}

func (e *testEnv) createDocument(t *testing.T, selections ...models.SigneeSelection) *models.DocumentResponse {
	t.Helper()
	resp, err := e.svc.CreateDocument(context.Background(), e.owner.ID, models.CreateDocumentRequest{
		Name:       "Q3 Report",
		Comment:    "please sign",
		Filename:   "scan.pdf",
		Size:       8,
		Selections: selections,
	}, strings.NewReader("original"))
	require.NoError(t, err)
	return resp
}

func tokenOf(t *testing.T, resp *models.DocumentResponse, position int) string {
	t.Helper()
	for _, entry := range resp.Signatures {
		if entry.Position == position {
			return entry.Token
		}
	}
	t.Fatalf("no ledger entry at position %d", position)
	return ""
}

func TestSignUpAndLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.SignUp(ctx, models.SignUpRequest{Email: "new@example.com", Password: "password123", Name: "New"})
	require.NoError(t, err)

	_, err = env.svc.SignUp(ctx, models.SignUpRequest{Email: "new@example.com", Password: "password123", Name: "Again"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	resp, err := env.svc.Login(ctx, models.LoginRequest{Email: "new@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	_, err = env.svc.Login(ctx, models.LoginRequest{Email: "new@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateDocumentInvitesFirstPendingSignee(t *testing.T) {
	env := newTestEnv(t)
	a := env.signee(t, "Alice")
	b := env.signee(t, "Bob")
	c := env.signee(t, "Carol")

	resp := env.createDocument(t,
		models.SigneeSelection{SigneeID: a, Included: true, AlreadySigned: true},
		models.SigneeSelection{SigneeID: b, Included: true},
		models.SigneeSelection{SigneeID: c, Included: true},
	)

	assert.Equal(t, models.DocumentPending, resp.Document.Status)
	assert.Equal(t, "originals/"+resp.Document.ID+"/q3-report.pdf", resp.Document.File)
	require.Len(t, resp.Signatures, 3)
	assert.True(t, resp.Signatures[0].Signed)
	require.NotNil(t, resp.Signatures[0].SignedFile)
	assert.Equal(t, resp.Document.File, *resp.Signatures[0].SignedFile)
	assert.Len(t, resp.Signatures[1].Token, 32)
	assert.NotEqual(t, resp.Signatures[1].Token, resp.Signatures[2].Token)

	msgs := env.sender.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "bob@example.com", msgs[0].To)
	assert.Equal(t, "Request to sign the document Q3 Report", msgs[0].Subject)
	assert.Contains(t, msgs[0].HTMLBody, "https://sign.example.com/sign/"+tokenOf(t, resp, 2))
	assert.Contains(t, msgs[0].HTMLBody, "Owner &lt;owner@example.com&gt;")
	require.NotNil(t, msgs[0].Attachment)
	assert.Equal(t, "original", string(msgs[0].Attachment.Data))

	bob, err := env.repo.GetSignatureByPosition(context.Background(), resp.Document.ID, 2)
	require.NoError(t, err)
	assert.NotNil(t, bob.LastInviteSentAt)
}

func TestCreateDocumentRejectsInvalidSelection(t *testing.T) {
	env := newTestEnv(t)
	a := env.signee(t, "Alice")

	_, err := env.svc.CreateDocument(context.Background(), env.owner.ID, models.CreateDocumentRequest{
		Name:     "Contract",
		Filename: "contract.pdf",
		Selections: []models.SigneeSelection{
			{SigneeID: a, Included: true, AlreadySigned: true},
			{SigneeID: "ghost", Included: true, AlreadySigned: true},
		},
	}, strings.NewReader("x"))

	assert.ElementsMatch(t, []string{CodeNoPendingSignee, CodeUnknownSignee}, problemCodes(t, err))
	docs, err := env.repo.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, env.files.Keys())
	assert.Empty(t, env.sender.Messages())
}

func TestSequentialSigningToCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.signee(t, "Alice")
	b := env.signee(t, "Bob")
	c := env.signee(t, "Carol")

	resp := env.createDocument(t,
		models.SigneeSelection{SigneeID: a, Included: true, Position: pos(1)},
		models.SigneeSelection{SigneeID: b, Included: true, Position: pos(2)},
		models.SigneeSelection{SigneeID: c, Included: true, Position: pos(3)},
	)
	docID := resp.Document.ID

	signed, err := env.svc.SignDocument(ctx, tokenOf(t, resp, 1), "alice.PDF", 5, strings.NewReader("by-a"))
	require.NoError(t, err)
	assert.Equal(t, models.DocumentPending, signed.DocumentStatus)

	msgs := env.sender.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "bob@example.com", msgs[1].To)
	require.NotNil(t, msgs[1].Attachment)
	assert.Equal(t, "by-a", string(msgs[1].Attachment.Data))
	assert.True(t, strings.HasSuffix(msgs[1].Attachment.Filename, "_q3-report.PDF"))

	_, err = env.svc.SignDocument(ctx, tokenOf(t, resp, 2), "b.pdf", 4, strings.NewReader("by-b"))
	require.NoError(t, err)
	msgs = env.sender.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "carol@example.com", msgs[2].To)
	assert.Equal(t, "by-b", string(msgs[2].Attachment.Data))

	signed, err = env.svc.SignDocument(ctx, tokenOf(t, resp, 3), "c.pdf", 4, strings.NewReader("by-c"))
	require.NoError(t, err)
	assert.Equal(t, models.DocumentSigned, signed.DocumentStatus)

	msgs = env.sender.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "office@example.com", msgs[3].To)
	assert.Equal(t, "Document Q3 Report was signed", msgs[3].Subject)

	rc, filename, err := env.svc.OpenDocumentFile(ctx, docID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "by-c", string(data))
	assert.Equal(t, "q3-report_signed.pdf", filename)

	_, err = env.svc.SendReminder(ctx, docID)
	assert.ErrorIs(t, err, ErrNothingToSend)
}

func TestSigningOutOfOrderInvitesLowestPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.signee(t, "Alice")
	b := env.signee(t, "Bob")
	c := env.signee(t, "Carol")

	resp := env.createDocument(t,
		models.SigneeSelection{SigneeID: a, Included: true},
		models.SigneeSelection{SigneeID: b, Included: true},
		models.SigneeSelection{SigneeID: c, Included: true},
	)

	signed, err := env.svc.SignDocument(ctx, tokenOf(t, resp, 2), "b.pdf", 4, strings.NewReader("by-b"))
	require.NoError(t, err)
	assert.Equal(t, models.DocumentPending, signed.DocumentStatus)

	msgs := env.sender.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "alice@example.com", msgs[1].To)
	assert.Equal(t, "original", string(msgs[1].Attachment.Data))

	signed, err = env.svc.SignDocument(ctx, tokenOf(t, resp, 1), "a.pdf", 4, strings.NewReader("by-a"))
	require.NoError(t, err)
	assert.Equal(t, models.DocumentPending, signed.DocumentStatus)

	msgs = env.sender.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "carol@example.com", msgs[2].To)
	assert.Equal(t, "by-b", string(msgs[2].Attachment.Data))
}

func TestSignDocumentTwiceIsRejectedWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.signee(t, "Alice")
	b := env.signee(t, "Bob")

	resp := env.createDocument(t,
		models.SigneeSelection{SigneeID: a, Included: true},
		models.SigneeSelection{SigneeID: b, Included: true},
	)
	token := tokenOf(t, resp, 1)

	_, err := env.svc.SignDocument(ctx, token, "a.pdf", 1, strings.NewReader("a"))
	require.NoError(t, err)
	keys := len(env.files.Keys())
	sent := len(env.sender.Messages())

	_, err = env.svc.SignDocument(ctx, token, "again.pdf", 1, strings.NewReader("again"))
	assert.ErrorIs(t, err, ErrAlreadySigned)
	assert.Len(t, env.files.Keys(), keys)
	assert.Len(t, env.sender.Messages(), sent)

	page, err := env.svc.GetSignPage(ctx, token)
	require.NoError(t, err)
	assert.True(t, page.Signed)
	assert.Equal(t, "Alice", page.SigneeName)

	_, err = env.svc.SignDocument(ctx, "unknown", "x.pdf", 1, strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentSignaturesCompleteOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.signee(t, "Alice")
	b := env.signee(t, "Bob")

	resp := env.createDocument(t,
		models.SigneeSelection{SigneeID: a, Included: true},
		models.SigneeSelection{SigneeID: b, Included: true},
	)
	_, err := env.svc.SignDocument(ctx, tokenOf(t, resp, 1), "a.pdf", 1, strings.NewReader("a"))
	require.NoError(t, err)

	token := tokenOf(t, resp, 2)
	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.SignDocument(ctx, token, "b.pdf", 1, strings.NewReader("b"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadySigned)
	}
	assert.Equal(t, 1, wins)

	completions := 0
	for _, msg := range env.sender.Messages() {
		if msg.To == "office@example.com" {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
}

func TestDispatchFailureKeepsState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.signee(t, "Alice")
	b := env.signee(t, "Bob")
	env.sender.SetErr(errors.New("smtp unavailable"))

	resp, err := env.svc.CreateDocument(ctx, env.owner.ID, models.CreateDocumentRequest{
		Name:     "Lease",
		Filename: "lease.pdf",
		Selections: []models.SigneeSelection{
			{SigneeID: a, Included: true},
			{SigneeID: b, Included: true},
		},
	}, strings.NewReader("lease"))
	assert.ErrorIs(t, err, ErrDispatchFailure)
	require.NotNil(t, resp)

	stored, err := env.svc.GetDocument(ctx, resp.Document.ID)
	require.NoError(t, err)
	require.Len(t, stored.Signatures, 2)
	assert.Nil(t, stored.Signatures[0].LastInviteSentAt)

	signed, err := env.svc.SignDocument(ctx, tokenOf(t, resp, 1), "a.pdf", 1, strings.NewReader("a"))
	assert.ErrorIs(t, err, ErrDispatchFailure)
	require.NotNil(t, signed)

	page, err := env.svc.GetSignPage(ctx, tokenOf(t, resp, 1))
	require.NoError(t, err)
	assert.True(t, page.Signed)

	env.sender.SetErr(nil)
	_, err = env.svc.SendReminder(ctx, resp.Document.ID)
	require.NoError(t, err)
	msgs := env.sender.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "bob@example.com", msgs[0].To)
}

func TestMissingAttachmentStopsAdvance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.signee(t, "Alice")

	// position 1 is missing, so position 2 has no previous signed file
	doc := &models.Document{Name: "Broken", File: "originals/broken.pdf", UploadedBy: env.owner.ID}
	require.NoError(t, env.repo.CreateDocumentWithLedger(ctx, doc, []models.Signature{
		{SigneeID: a, Position: 2, Token: "tok-2"},
	}))

	err := env.svc.advance(ctx, *doc)
	assert.ErrorIs(t, err, ErrMissingAttachment)
	assert.Empty(t, env.sender.Messages())
}
