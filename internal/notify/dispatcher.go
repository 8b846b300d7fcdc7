package notify

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/rongwang/countersign-server/internal/models"
	"github.com/rongwang/countersign-server/internal/storage"
	"go.uber.org/zap"
)

// Dispatcher turns workflow decisions into messages for the sender
type Dispatcher struct {
	sender     Sender
	files      storage.FileStore
	siteURL    string
	adminEmail string
	logger     *zap.Logger
}

// NewDispatcher creates a dispatcher. siteURL is the public base of signing links.
func NewDispatcher(sender Sender, files storage.FileStore, siteURL, adminEmail string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sender:     sender,
		files:      files,
		siteURL:    strings.TrimRight(siteURL, "/"),
		adminEmail: adminEmail,
		logger:     logger.With(zap.String("component", "dispatcher")),
	}
}

// SignLink returns the public URL a signee uses to upload the countersigned file
func (d *Dispatcher) SignLink(token string) string {
	return d.siteURL + "/sign/" + token
}

// SendInvite mails entry's signee the signing link with attachmentKey attached
func (d *Dispatcher) SendInvite(
	ctx context.Context,
	doc models.Document,
	uploadedBy string,
	entry models.SignatureDetail,
	attachmentKey string,
) error {
	attachment, err := d.loadAttachment(ctx, attachmentKey)
	if err != nil {
		return err
	}

	body, err := render(inviteTemplate, d.mailContext(doc, uploadedBy, d.SignLink(entry.Token)))
	if err != nil {
		return fmt.Errorf("render invite: %w", err)
	}

	msg := Message{
		To:         entry.SigneeEmail,
		Subject:    fmt.Sprintf("Request to sign the document %s", doc.Name),
		HTMLBody:   body,
		Attachment: attachment,
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		return err
	}

	d.logger.Info("Invite sent",
		zap.String("document_id", doc.ID),
		zap.String("signature_id", entry.ID),
		zap.Int("position", entry.Position),
	)
	return nil
}

// SendCompletion tells the administrative recipient that every signee has signed
func (d *Dispatcher) SendCompletion(ctx context.Context, doc models.Document, uploadedBy string) error {
	body, err := render(completionTemplate, d.mailContext(doc, uploadedBy, ""))
	if err != nil {
		return fmt.Errorf("render completion: %w", err)
	}

	msg := Message{
		To:       d.adminEmail,
		Subject:  fmt.Sprintf("Document %s was signed", doc.Name),
		HTMLBody: body,
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		return err
	}

	d.logger.Info("Completion notice sent", zap.String("document_id", doc.ID))
	return nil
}

func (d *Dispatcher) mailContext(doc models.Document, uploadedBy, link string) mailContext {
	comment := doc.Comment
	if strings.TrimSpace(comment) == "" {
		comment = "none"
	}
	return mailContext{
		Name:       doc.Name,
		Number:     doc.ID,
		Comment:    comment,
		UploadedBy: uploadedBy,
		SignLink:   link,
	}
}

func (d *Dispatcher) loadAttachment(ctx context.Context, key string) (*Attachment, error) {
	rc, err := d.files.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open attachment %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", key, err)
	}

	name := path.Base(key)
	return &Attachment{
		Filename:    name,
		ContentType: storage.ContentType(name),
		Data:        data,
	}, nil
}
