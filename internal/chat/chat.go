// Package chat stores the per-order conversation between a customer and
// the shop, including optional image attachments.
package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/metrics"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/store"
)

const MaxImageBytes = 5 << 20

var allowedExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Attachment is an uploaded file as received from the form.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Service struct {
	Store *store.Store
	// MediaDir is the root images are written under; ImagePath values are
	// relative to it.
	MediaDir string
	Now      func() time.Time
}

func NewService(s *store.Store, mediaDir string) *Service {
	return &Service{Store: s, MediaDir: mediaDir}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Post stores a message on the order's thread. An attachment that is not an
// acceptable image is dropped silently. When nothing is left to store (no
// text and no image) Post returns nil, nil. Messages from the shop are
// created already read.
func (s *Service) Post(ctx context.Context, orderID int64, sender, text string, att *Attachment) (*models.ChatMessage, error) {
	if sender != models.SenderCustomer && sender != models.SenderAdmin {
		return nil, fmt.Errorf("unknown sender %q", sender)
	}
	text = strings.TrimSpace(text)

	var imagePath string
	if att != nil {
		if reason := rejectReason(att); reason != "" {
			metrics.ChatAttachmentsRejectedTotal.WithLabelValues(reason).Inc()
			slog.Info("Dropping chat attachment", "order_id", orderID, "filename", att.Filename, "reason", reason)
		} else {
			p, err := s.saveImage(att)
			if err != nil {
				return nil, err
			}
			imagePath = p
		}
	}
	if text == "" && imagePath == "" {
		return nil, nil
	}

	msg := &models.ChatMessage{
		OrderID:   orderID,
		Sender:    sender,
		Body:      text,
		ImagePath: imagePath,
		Read:      sender == models.SenderAdmin,
		CreatedAt: s.now(),
	}
	if err := s.Store.InsertChatMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.ChatMessagesTotal.WithLabelValues(sender).Inc()
	return msg, nil
}

// CustomerThread lists the order's messages oldest first.
func (s *Service) CustomerThread(ctx context.Context, orderID int64) ([]models.ChatMessage, error) {
	return s.Store.GetChatMessages(ctx, orderID)
}

// StaffThread lists the order's messages and marks the customer's as read.
// The returned messages still show which ones were unread before the call.
func (s *Service) StaffThread(ctx context.Context, orderID int64) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.Store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		msgs, err = tx.GetChatMessages(ctx, orderID)
		if err != nil {
			return err
		}
		_, err = tx.MarkCustomerMessagesRead(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func rejectReason(att *Attachment) string {
	if !strings.HasPrefix(strings.ToLower(att.ContentType), "image/") {
		return "content_type"
	}
	if att.Size > MaxImageBytes {
		return "size"
	}
	if !allowedExt[strings.ToLower(filepath.Ext(att.Filename))] {
		return "extension"
	}
	return ""
}

// saveImage writes the attachment to chat/YYYY/MM/DD/<uuid><ext> under the
// media root and returns that relative, slash-separated path.
func (s *Service) saveImage(att *Attachment) (string, error) {
	now := s.now()
	rel := path.Join("chat", now.Format("2006"), now.Format("01"), now.Format("02"),
		uuid.New().String()+strings.ToLower(filepath.Ext(att.Filename)))
	full := filepath.Join(s.MediaDir, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create chat media dir: %w", err)
	}
	out, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create chat image: %w", err)
	}
	defer out.Close()

	// Size comes from the multipart header; never write past the limit.
	n, err := io.Copy(out, io.LimitReader(att.Body, MaxImageBytes+1))
	if err == nil && n > MaxImageBytes {
		err = fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
	}
	if err != nil {
		out.Close()
		os.Remove(full)
		return "", fmt.Errorf("write chat image: %w", err)
	}
	return rel, nil
}
