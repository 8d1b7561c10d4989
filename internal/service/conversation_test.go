package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nexport/freightd/internal/model"
	"github.com/nexport/freightd/internal/repository"
)

// fakeConversationStore mirrors the repository's compare-and-create: at most
// one conversation per booking, enforced under a lock.
type fakeConversationStore struct {
	mu            sync.Mutex
	conversations map[string]*model.Conversation // keyed by booking id
	messages      []model.Message
	seq           int
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{conversations: make(map[string]*model.Conversation)}
}

func (s *fakeConversationStore) FindByBooking(_ context.Context, bookingID string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[bookingID]
	if !ok {
		return nil, repository.ErrConversationNotFound
	}
	out := *c
	return &out, nil
}

func (s *fakeConversationStore) CreateIfAbsent(_ context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.conversations[conv.BookingID]; ok {
		out := *existing
		return &out, false, nil
	}
	s.seq++
	conv.ID = "conv-" + conv.BookingID
	stored := *conv
	s.conversations[conv.BookingID] = &stored
	return conv, true, nil
}

func (s *fakeConversationStore) AppendMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *m)
	return nil
}

func (s *fakeConversationStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

func (s *fakeConversationStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// GetByID lets fakeContainerStore double as the ContainerReader port.
func (s *fakeContainerStore) GetByID(_ context.Context, id string) (*model.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[id]
	if !ok {
		return nil, repository.ErrContainerNotFound
	}
	out := *c
	return &out, nil
}

func paidBooking(id, containerID string) *model.Booking {
	return &model.Booking{
		ID:          id,
		ExporterID:  "exp-1",
		ContainerID: &containerID,
		Status:      model.BookingPaid,
	}
}

func TestEnsureConversation_CreatesOnce(t *testing.T) {
	store := newFakeConversationStore()
	containers := newFakeContainerStore(ownedContainer("c1", 20, 12))
	svc := NewConversationService(store, containers)

	booking := paidBooking("bk-1", "c1")

	id1, err := svc.EnsureConversation(context.Background(), booking)
	if err != nil {
		t.Fatalf("first EnsureConversation: %v", err)
	}
	id2, err := svc.EnsureConversation(context.Background(), booking)
	if err != nil {
		t.Fatalf("second EnsureConversation: %v", err)
	}

	if id1 != id2 {
		t.Errorf("conversation ids differ: %s vs %s", id1, id2)
	}
	if store.count() != 1 {
		t.Errorf("conversations = %d, want 1", store.count())
	}
	if store.messageCount() != 1 {
		t.Errorf("announcement messages = %d, want 1 (only the creating call announces)", store.messageCount())
	}
}

func TestEnsureConversation_ConcurrentCallsOneRow(t *testing.T) {
	store := newFakeConversationStore()
	containers := newFakeContainerStore(ownedContainer("c1", 20, 12))
	svc := NewConversationService(store, containers)

	booking := paidBooking("bk-1", "c1")

	const callers = 10
	var wg sync.WaitGroup
	ids := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := svc.EnsureConversation(context.Background(), booking)
			if err != nil {
				t.Errorf("EnsureConversation: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	var first string
	for id := range ids {
		if first == "" {
			first = id
		} else if id != first {
			t.Errorf("divergent conversation ids: %s vs %s", first, id)
		}
	}
	if store.count() != 1 {
		t.Errorf("conversations = %d, want exactly 1 under concurrency", store.count())
	}
	if store.messageCount() != 1 {
		t.Errorf("announcement messages = %d, want exactly 1", store.messageCount())
	}
}

func TestEnsureConversation_AnnouncementContent(t *testing.T) {
	store := newFakeConversationStore()
	containers := newFakeContainerStore(ownedContainer("c1", 20, 12))
	svc := NewConversationService(store, containers)

	booking := paidBooking("a1b2c3d4-0000-0000-0000-000000000000", "c1")
	if _, err := svc.EnsureConversation(context.Background(), booking); err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}

	msg := store.messages[0]
	if msg.SenderRole != "system" {
		t.Errorf("sender role = %s, want system", msg.SenderRole)
	}
	if !strings.Contains(msg.Content, "A1B2C3D4") {
		t.Errorf("announcement %q should contain the short booking ref A1B2C3D4", msg.Content)
	}
}

func TestEnsureConversation_NoProvider(t *testing.T) {
	store := newFakeConversationStore()
	containers := newFakeContainerStore(testContainer("c1", 20, 12)) // no provider
	svc := NewConversationService(store, containers)

	_, err := svc.EnsureConversation(context.Background(), paidBooking("bk-1", "c1"))
	if !errors.Is(err, ErrConversationUnavailable) {
		t.Fatalf("err = %v, want ErrConversationUnavailable", err)
	}
	if store.count() != 0 {
		t.Errorf("conversations = %d, want 0", store.count())
	}
}

func TestEnsureConversation_NoContainer(t *testing.T) {
	store := newFakeConversationStore()
	containers := newFakeContainerStore()
	svc := NewConversationService(store, containers)

	booking := &model.Booking{ID: "bk-1", ExporterID: "exp-1", Status: model.BookingPaid}
	if _, err := svc.EnsureConversation(context.Background(), booking); !errors.Is(err, ErrConversationUnavailable) {
		t.Fatalf("err = %v, want ErrConversationUnavailable", err)
	}
}
