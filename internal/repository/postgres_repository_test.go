package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/countersign-server/internal/config"
	"github.com/rongwang/countersign-server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupPostgres connects to the test database named by TEST_DB_NAME and skips
// the test when no server is reachable.
func setupPostgres(t *testing.T) *PostgresRepository {
	t.Helper()
	dbCfg := config.LoadDatabaseConfig(config.DatabaseConfig{})
	dbCfg.DBName = dbCfg.TestDBName

	db, err := config.SetupDatabase(&config.Config{Database: dbCfg}, zap.NewNop())
	if err != nil {
		t.Skipf("test database %s not reachable: %v", dbCfg.DBName, err)
	}

	repo := NewPostgresRepository(db)
	cleanupPostgres(t, repo)
	t.Cleanup(func() {
		cleanupPostgres(t, repo)
		db.Close()
	})
	return repo
}

func cleanupPostgres(t *testing.T, repo *PostgresRepository) {
	if _, err := repo.GetDB().Exec(`TRUNCATE signatures, documents, signees, users CASCADE`); err != nil {
		t.Logf("Warning: Failed to clean test tables: %v", err)
	}
}

func seedPostgresLedger(t *testing.T, repo *PostgresRepository, n int) (*models.Document, []models.Signature) {
	t.Helper()
	ctx := context.Background()

	owner := &models.User{Email: "owner@example.com", Name: "Owner", Password: "hash"}
	require.NoError(t, repo.CreateUser(ctx, owner))

	sigs := make([]models.Signature, 0, n)
	for i := 1; i <= n; i++ {
		signee := &models.Signee{Name: fmt.Sprintf("Signee %d", i), Email: fmt.Sprintf("signee%d@example.com", i)}
		require.NoError(t, repo.CreateSignee(ctx, signee))
		sigs = append(sigs, models.Signature{
			SigneeID: signee.ID,
			Position: i,
			Token:    uuid.New().String(),
		})
	}

	doc := &models.Document{Name: "Contract", File: "originals/contract.pdf", UploadedBy: owner.ID}
	require.NoError(t, repo.CreateDocumentWithLedger(ctx, doc, sigs))
	return doc, sigs
}

func TestPostgresLedgerOrdering(t *testing.T) {
	repo := setupPostgres(t)
	doc, sigs := seedPostgresLedger(t, repo, 3)
	ctx := context.Background()

	unsigned, err := repo.GetUnsignedSignatures(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, unsigned, 3)
	for i, entry := range unsigned {
		assert.Equal(t, i+1, entry.Position)
		assert.Equal(t, fmt.Sprintf("signee%d@example.com", i+1), entry.SigneeEmail)
	}

	entry, err := repo.GetSignatureByToken(ctx, sigs[1].Token)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.Position)

	missing, err := repo.GetSignatureByPosition(ctx, doc.ID, 4)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPostgresMarkSignedCompletesDocument(t *testing.T) {
	repo := setupPostgres(t)
	doc, sigs := seedPostgresLedger(t, repo, 2)
	ctx := context.Background()
	now := time.Now().UTC()

	outcome, err := repo.MarkSigned(ctx, sigs[0].Token, "signatures/first.pdf", now)
	require.NoError(t, err)
	assert.False(t, outcome.AllSigned)
	assert.Equal(t, models.DocumentPending, outcome.Document.Status)
	assert.Equal(t, "originals/contract.pdf", outcome.Document.File)
	require.NotNil(t, outcome.Signature.SignedFile)
	assert.Equal(t, "signatures/first.pdf", *outcome.Signature.SignedFile)

	outcome, err = repo.MarkSigned(ctx, sigs[1].Token, "signatures/second.pdf", now)
	require.NoError(t, err)
	assert.True(t, outcome.AllSigned)
	assert.Equal(t, models.DocumentSigned, outcome.Document.Status)
	assert.Equal(t, "signatures/second.pdf", outcome.Document.File)

	stored, err := repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentSigned, stored.Status)
	assert.Equal(t, "signatures/second.pdf", stored.File)

	_, err = repo.MarkSigned(ctx, sigs[1].Token, "signatures/again.pdf", now)
	assert.ErrorIs(t, err, ErrAlreadySigned)

	ledger, err := repo.GetLedger(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	require.NotNil(t, ledger[1].SignedFile)
	assert.Equal(t, "signatures/second.pdf", *ledger[1].SignedFile)

	_, err = repo.MarkSigned(ctx, "no-such-token", "x", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresConcurrentMarkSignedSingleWinner(t *testing.T) {
	repo := setupPostgres(t)
	_, sigs := seedPostgresLedger(t, repo, 2)
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.MarkSigned(ctx, sigs[0].Token, "signatures/file.pdf", time.Now().UTC())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadySigned)
	}
	assert.Equal(t, 1, wins)
}

func TestPostgresConcurrentLastSignersCompleteOnce(t *testing.T) {
	repo := setupPostgres(t)
	doc, sigs := seedPostgresLedger(t, repo, 2)
	ctx := context.Background()

	var wg sync.WaitGroup
	outcomes := make(chan *SignOutcome, len(sigs))
	for _, sig := range sigs {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			outcome, err := repo.MarkSigned(ctx, token, "signatures/"+token+".pdf", time.Now().UTC())
			assert.NoError(t, err)
			outcomes <- outcome
		}(sig.Token)
	}
	wg.Wait()
	close(outcomes)

	completions := 0
	for outcome := range outcomes {
		if outcome != nil && outcome.AllSigned {
			completions++
		}
	}
	assert.Equal(t, 1, completions)

	stored, err := repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentSigned, stored.Status)
}

func TestPostgresRejectsDuplicatePositionAtomically(t *testing.T) {
	repo := setupPostgres(t)
	_, sigs := seedPostgresLedger(t, repo, 2)
	ctx := context.Background()

	owner, err := repo.GetUserByEmail(ctx, "owner@example.com")
	require.NoError(t, err)

	first, second := uuid.New().String(), uuid.New().String()
	doc := &models.Document{Name: "Broken", File: "originals/broken.pdf", UploadedBy: owner.ID}
	err = repo.CreateDocumentWithLedger(ctx, doc, []models.Signature{
		{SigneeID: sigs[0].SigneeID, Position: 1, Token: first},
		{SigneeID: sigs[1].SigneeID, Position: 1, Token: second},
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	stored, err := repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
	entry, err := repo.GetSignatureByToken(ctx, first)
	require.NoError(t, err)
	assert.Nil(t, entry)

	docs, err := repo.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestPostgresListSigneesByUsage(t *testing.T) {
	repo := setupPostgres(t)
	_, sigs := seedPostgresLedger(t, repo, 2)
	ctx := context.Background()

	assert.ErrorIs(t, repo.CreateSignee(ctx, &models.Signee{Name: "Dup", Email: "signee1@example.com"}), ErrDuplicate)

	owner, err := repo.GetUserByEmail(ctx, "owner@example.com")
	require.NoError(t, err)
	require.NoError(t, repo.CreateDocumentWithLedger(ctx,
		&models.Document{Name: "Other", File: "originals/other.pdf", UploadedBy: owner.ID},
		[]models.Signature{{SigneeID: sigs[1].SigneeID, Position: 1, Token: uuid.New().String()}},
	))

	signees, err := repo.ListSignees(ctx)
	require.NoError(t, err)
	require.Len(t, signees, 2)
	assert.Equal(t, sigs[1].SigneeID, signees[0].ID)
	assert.Equal(t, 2, signees[0].SignatureCount)
	assert.Equal(t, 1, signees[1].SignatureCount)
}
