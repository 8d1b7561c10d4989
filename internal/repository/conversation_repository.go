package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexport/freightd/internal/model"
)

// ErrConversationNotFound is returned when no conversation exists for a booking.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository handles the exporter↔provider conversation created
// after a booking is paid, and its message log.
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository.
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// FindByBooking returns the conversation for a booking, if one exists.
func (r *ConversationRepository) FindByBooking(ctx context.Context, bookingID string) (*model.Conversation, error) {
	c := &model.Conversation{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, booking_id, container_id, exporter_id, provider_id, created_at
		FROM conversations
		WHERE booking_id = $1
	`, bookingID).Scan(&c.ID, &c.BookingID, &c.ContainerID, &c.ExporterID, &c.ProviderID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation for booking %s: %w", bookingID, err)
	}
	return c, nil
}

// CreateIfAbsent inserts a conversation keyed by booking id, relying on the
// UNIQUE(booking_id) constraint for idempotency. If a concurrent call got
// there first, the insert affects zero rows and the existing conversation is
// returned with created=false. This compare-and-create is what guarantees
// at most one conversation per booking even under concurrent confirmations.
func (r *ConversationRepository) CreateIfAbsent(
	ctx context.Context,
	conv *model.Conversation,
) (out *model.Conversation, created bool, err error) {

	conv.ID = uuid.NewString()
	err = r.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, booking_id, container_id, exporter_id, provider_id)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (booking_id) DO NOTHING
		RETURNING created_at
	`, conv.ID, conv.BookingID, conv.ContainerID, conv.ExporterID, conv.ProviderID).Scan(&conv.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the create race; fetch the winner's row.
		existing, findErr := r.FindByBooking(ctx, conv.BookingID)
		if findErr != nil {
			return nil, false, fmt.Errorf("conversation conflict refetch: %w", findErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create conversation for booking %s: %w", conv.BookingID, err)
	}
	return conv, true, nil
}

// AppendMessage appends a message to a conversation.
func (r *ConversationRepository) AppendMessage(ctx context.Context, m *model.Message) error {
	m.ID = uuid.NewString()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_role, content)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, m.ID, m.ConversationID, m.SenderID, m.SenderRole, m.Content).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message to conversation %s: %w", m.ConversationID, err)
	}
	return nil
}
