package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/nexport/freightd/internal/model"
	"github.com/nexport/freightd/internal/repository"
)

// ErrConversationUnavailable is returned when the booking or its container
// lack the data needed to open a conversation (e.g. no provider assigned).
var ErrConversationUnavailable = errors.New("conversation participants unavailable")

// ─── ConversationStore / lookup ports ───────────────────────

// ConversationStore is the persistence port for conversations and messages.
type ConversationStore interface {
	FindByBooking(ctx context.Context, bookingID string) (*model.Conversation, error)
	// CreateIfAbsent must be a compare-and-create: concurrent calls for the
	// same booking yield exactly one stored conversation.
	CreateIfAbsent(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error)
	AppendMessage(ctx context.Context, m *model.Message) error
}

// ContainerReader resolves a container's provider for the conversation.
type ContainerReader interface {
	GetByID(ctx context.Context, id string) (*model.Container, error)
}

// ─── ConversationService ────────────────────────────────────

// ConversationService opens the exporter↔provider channel after a booking is
// paid. Creation is idempotent per booking, enforced by the store's
// compare-and-create, so it is safe to call from retried payment webhooks.
type ConversationService struct {
	conversations ConversationStore
	containers    ContainerReader
}

// NewConversationService creates a conversation service.
func NewConversationService(conversations ConversationStore, containers ContainerReader) *ConversationService {
	return &ConversationService{conversations: conversations, containers: containers}
}

// EnsureConversation returns the conversation id for a booking, creating the
// conversation (plus one system message announcing the booking) on first call.
//
// Idempotency: an existing conversation short-circuits; otherwise the insert
// is keyed by booking id at the persistence layer, so two concurrent calls
// produce one row and both return its id. Only the call that actually
// created the row appends the announcement message.
func (s *ConversationService) EnsureConversation(ctx context.Context, booking *model.Booking) (string, error) {
	if existing, err := s.conversations.FindByBooking(ctx, booking.ID); err == nil {
		return existing.ID, nil
	} else if !errors.Is(err, repository.ErrConversationNotFound) {
		return "", fmt.Errorf("ensure conversation: %w", err)
	}

	if booking.ContainerID == nil {
		return "", fmt.Errorf("%w: booking %s has no container", ErrConversationUnavailable, booking.ID)
	}
	container, err := s.containers.GetByID(ctx, *booking.ContainerID)
	if err != nil {
		return "", fmt.Errorf("ensure conversation: resolve container: %w", err)
	}
	if container.ProviderID == nil {
		return "", fmt.Errorf("%w: container %s has no provider", ErrConversationUnavailable, container.ID)
	}

	conv, created, err := s.conversations.CreateIfAbsent(ctx, &model.Conversation{
		BookingID:   booking.ID,
		ContainerID: container.ID,
		ExporterID:  booking.ExporterID,
		ProviderID:  *container.ProviderID,
	})
	if err != nil {
		return "", fmt.Errorf("ensure conversation: %w", err)
	}

	if created {
		msg := &model.Message{
			ConversationID: conv.ID,
			SenderID:       booking.ExporterID,
			SenderRole:     "system",
			Content: fmt.Sprintf(
				"Booking %s has been paid. You can coordinate shipment details here.",
				shortBookingRef(booking.ID)),
		}
		if err := s.conversations.AppendMessage(ctx, msg); err != nil {
			// The conversation exists; a missing announcement is cosmetic.
			log.Printf("[conv] WARNING: announcement message for booking %s failed: %v", booking.ID, err)
		}
	}

	return conv.ID, nil
}

// shortBookingRef renders the human-facing booking reference (first 8 chars
// of the uuid, upper-cased).
func shortBookingRef(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}
