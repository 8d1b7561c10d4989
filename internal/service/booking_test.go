package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nexport/freightd/internal/events"
	"github.com/nexport/freightd/internal/model"
	"github.com/nexport/freightd/internal/repository"
)

// ─── In-memory fakes for the booking ports ──────────────────

type fakeBookingStore struct {
	mu       sync.Mutex
	bookings map[string]*model.Booking
	seq      int
	failNext bool
}

func newFakeBookingStore() *fakeBookingStore {
	return &fakeBookingStore{bookings: make(map[string]*model.Booking)}
}

func (s *fakeBookingStore) Create(_ context.Context, b *model.Booking) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return nil, errors.New("simulated insert failure")
	}
	s.seq++
	b.ID = fmt.Sprintf("bk-%d", s.seq)
	stored := *b
	s.bookings[b.ID] = &stored
	return b, nil
}

func (s *fakeBookingStore) GetByID(_ context.Context, id string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	out := *b
	return &out, nil
}

func (s *fakeBookingStore) TransitionStatus(_ context.Context, id string, from []model.BookingStatus, to model.BookingStatus) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	for _, f := range from {
		if b.Status == f {
			b.Status = to
			out := *b
			return &out, nil
		}
	}
	return nil, repository.ErrConcurrentUpdate
}

type fakePaymentStore struct {
	mu       sync.Mutex
	payments []model.Payment
}

func (s *fakePaymentStore) Record(_ context.Context, p *model.Payment) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = fmt.Sprintf("pay-%d", len(s.payments)+1)
	s.payments = append(s.payments, *p)
	return p, nil
}

type fakeTrackingStore struct {
	mu     sync.Mutex
	events []model.TrackingEvent
	fail   bool
}

func (s *fakeTrackingStore) Append(_ context.Context, e *model.TrackingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("simulated tracking failure")
	}
	s.events = append(s.events, *e)
	return nil
}

type fakePublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *fakePublisher) Emit(eventType, _ string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
}

func (p *fakePublisher) emitted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

// bookingFixture bundles a fully wired BookingService with all its fakes.
type bookingFixture struct {
	svc        *BookingService
	store      *fakeContainerStore
	bookings   *fakeBookingStore
	payments   *fakePaymentStore
	tracking   *fakeTrackingStore
	convs      *fakeConversationStore
	publisher  *fakePublisher
}

func newBookingFixture(containers ...*model.Container) *bookingFixture {
	f := &bookingFixture{
		store:     newFakeContainerStore(containers...),
		bookings:  newFakeBookingStore(),
		payments:  &fakePaymentStore{},
		tracking:  &fakeTrackingStore{},
		convs:     newFakeConversationStore(),
		publisher: &fakePublisher{},
	}
	f.svc = NewBookingService(
		f.bookings, f.payments, f.tracking,
		NewAllocationService(f.store),
		NewPricingService(DefaultRateConfig()),
		NewConversationService(f.convs, f.store),
		f.publisher,
	)
	return f
}

func ownedContainer(id string, total, available float64) *model.Container {
	c := testContainer(id, total, available)
	provider := "prov-1"
	c.ProviderID = &provider
	return c
}

func bookingInput(mode model.BookingMode, cbm float64) CreateBookingInput {
	return CreateBookingInput{
		ExporterID:    "exp-1",
		Origin:        "Mumbai",
		Destination:   "Rotterdam",
		TransportMode: model.TransportSea,
		CargoType:     "textiles",
		ContainerType: model.ContainerDry,
		ContainerSize: model.Size20ft,
		BookingMode:   mode,
		RequestedCBM:  cbm,
	}
}

func confirmation() PaymentConfirmation {
	return PaymentConfirmation{
		Amount:         23240,
		Currency:       "INR",
		Provider:       "razorpay",
		PaymentMethod:  "upi",
		TransactionRef: "txn-001",
		Status:         "captured",
	}
}

// ─── Creation ───────────────────────────────────────────────

func TestCreateBooking_HoldsCapacityAtCreation(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 20, 20))

	b, err := f.svc.CreateBooking(context.Background(), bookingInput(model.ModePartial, 8))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	if b.Status != model.BookingPendingPayment {
		t.Errorf("status = %s, want pending_payment", b.Status)
	}
	if b.ContainerID == nil || *b.ContainerID != "c1" {
		t.Errorf("container id = %v, want c1", b.ContainerID)
	}
	if b.AllocatedCBM == nil || *b.AllocatedCBM != 8 {
		t.Errorf("allocated CBM = %v, want 8", b.AllocatedCBM)
	}
	if want := 8 * 35 * 83; b.PriceINR != want {
		t.Errorf("price = %d, want %d", b.PriceINR, want)
	}
	if got := f.store.available("c1"); got != 12 {
		t.Errorf("available after creation = %v, want 12 (hold taken at creation)", got)
	}
	if got := f.publisher.emitted(); len(got) != 1 || got[0] != events.TypeBookingCreated {
		t.Errorf("emitted events = %v, want [%s]", got, events.TypeBookingCreated)
	}
}

func TestCreateBooking_FullMode(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 33, 33))

	b, err := f.svc.CreateBooking(context.Background(), bookingInput(model.ModeFull, 0))
	if err != nil {
		t.Fatalf("CreateBooking full: %v", err)
	}
	if b.AllocatedCBM != nil {
		t.Errorf("allocated CBM = %v, want nil for full bookings", *b.AllocatedCBM)
	}
	if want := 1200 * 83; b.PriceINR != want {
		t.Errorf("price = %d, want flat FCL rate %d", b.PriceINR, want)
	}
	if got := f.store.available("c1"); got != 0 {
		t.Errorf("available = %v, want 0 (whole container held)", got)
	}
}

func TestCreateBooking_NoCapacity(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 20, 5))

	_, err := f.svc.CreateBooking(context.Background(), bookingInput(model.ModePartial, 8))
	if !errors.Is(err, ErrNoCapacity) {
		t.Fatalf("err = %v, want ErrNoCapacity", err)
	}
	if len(f.bookings.bookings) != 0 {
		t.Errorf("booking rows = %d, want 0 when allocation fails", len(f.bookings.bookings))
	}
	if got := f.store.available("c1"); got != 5 {
		t.Errorf("available = %v, want untouched 5", got)
	}
}

func TestCreateBooking_Validation(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 20, 20))

	cases := []func(*CreateBookingInput){
		func(in *CreateBookingInput) { in.ExporterID = "" },
		func(in *CreateBookingInput) { in.Origin = "" },
		func(in *CreateBookingInput) { in.Destination = "" },
		func(in *CreateBookingInput) { in.Destination = in.Origin },
		func(in *CreateBookingInput) { in.CargoType = "" },
		func(in *CreateBookingInput) { w := -10.0; in.CargoWeightKg = &w },
	}
	for i, mutate := range cases {
		in := bookingInput(model.ModePartial, 8)
		mutate(&in)
		if _, err := f.svc.CreateBooking(context.Background(), in); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("case %d: err = %v, want ErrInvalidRequest", i, err)
		}
	}
	if got := f.store.available("c1"); got != 20 {
		t.Errorf("available = %v, want 20 (no hold on rejected input)", got)
	}
}

func TestCreateBooking_ReleasesHoldWhenPersistFails(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 20, 20))
	f.bookings.failNext = true

	_, err := f.svc.CreateBooking(context.Background(), bookingInput(model.ModePartial, 8))
	if err == nil {
		t.Fatal("CreateBooking should fail when the store insert fails")
	}
	if got := f.store.available("c1"); got != 20 {
		t.Errorf("available = %v, want 20 (orphaned hold must be released)", got)
	}
}

// ─── Payment ────────────────────────────────────────────────

func TestConfirmPayment_TransitionsAndBootstraps(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 20, 20))

	b, err := f.svc.CreateBooking(context.Background(), bookingInput(model.ModePartial, 8))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	paid, err := f.svc.ConfirmPayment(context.Background(), b.ID, confirmation())
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if paid.Status != model.BookingPaid {
		t.Errorf("status = %s, want paid", paid.Status)
	}

	// Capacity is untouched by payment: the hold already exists.
	if got := f.store.available("c1"); got != 12 {
		t.Errorf("available after payment = %v, want 12", got)
	}

	if len(f.payments.payments) != 1 {
		t.Fatalf("payment rows = %d, want 1", len(f.payments.payments))
	}
	if f.payments.payments[0].TransactionRef != "txn-001" {
		t.Errorf("transaction ref = %s, want txn-001", f.payments.payments[0].TransactionRef)
	}

	// Conversation bootstrap.
	if f.convs.count() != 1 {
		t.Errorf("conversations = %d, want 1", f.convs.count())
	}
	if got := f.convs.messageCount(); got != 1 {
		t.Errorf("announcement messages = %d, want 1", got)
	}

	// Initial timeline entries.
	if len(f.tracking.events) != 2 {
		t.Fatalf("tracking events = %d, want 2", len(f.tracking.events))
	}
	if f.tracking.events[0].Title != "Booking Confirmed" || f.tracking.events[1].Title != "Container Assigned" {
		t.Errorf("timeline titles = [%s, %s], want [Booking Confirmed, Container Assigned]",
			f.tracking.events[0].Title, f.tracking.events[1].Title)
	}

	want := []string{events.TypeBookingCreated, events.TypeBookingPaid}
	if got := f.publisher.emitted(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("emitted events = %v, want %v", got, want)
	}
}

func TestConfirmPayment_RejectsNonPending(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 20, 20))

	b, _ := f.svc.CreateBooking(context.Background(), bookingInput(model.ModePartial, 8))
	if _, err := f.svc.ConfirmPayment(context.Background(), b.ID, confirmation()); err != nil {
		t.Fatalf("first ConfirmPayment: %v", err)
	}

	_, err := f.svc.ConfirmPayment(context.Background(), b.ID, confirmation())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second confirmation: err = %v, want ErrInvalidTransition", err)
	}
	if len(f.payments.payments) != 1 {
		t.Errorf("payment rows = %d, want 1 (rejected signal not recorded)", len(f.payments.payments))
	}
}

func TestConfirmPayment_UnknownBooking(t *testing.T) {
	f := newBookingFixture()

	_, err := f.svc.ConfirmPayment(context.Background(), "bk-999", confirmation())
	if !errors.Is(err, repository.ErrBookingNotFound) {
		t.Errorf("err = %v, want ErrBookingNotFound", err)
	}
}

func TestConfirmPayment_SurvivesBootstrapFailure(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 20, 20))
	f.tracking.fail = true

	b, _ := f.svc.CreateBooking(context.Background(), bookingInput(model.ModePartial, 8))
	paid, err := f.svc.ConfirmPayment(context.Background(), b.ID, confirmation())
	if err != nil {
		t.Fatalf("ConfirmPayment must not fail on best-effort bootstrap: %v", err)
	}
	if paid.Status != model.BookingPaid {
		t.Errorf("status = %s, want paid despite tracking failure", paid.Status)
	}
}

// ─── Cancellation ───────────────────────────────────────────

func TestCancelBooking_ReleasesHold(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 20, 20))

	b, _ := f.svc.CreateBooking(context.Background(), bookingInput(model.ModePartial, 8))
	if got := f.store.available("c1"); got != 12 {
		t.Fatalf("available after booking = %v, want 12", got)
	}

	cancelled, err := f.svc.CancelBooking(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("CancelBooking: %v", err)
	}
	if cancelled.Status != model.BookingCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if got := f.store.available("c1"); got != 20 {
		t.Errorf("available after cancel = %v, want 20 (release is the inverse of the hold)", got)
	}
}

func TestCancelBooking_FullModeRestoresWholeContainer(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 33, 33))

	b, _ := f.svc.CreateBooking(context.Background(), bookingInput(model.ModeFull, 0))
	if got := f.store.available("c1"); got != 0 {
		t.Fatalf("available after full booking = %v, want 0", got)
	}

	if _, err := f.svc.CancelBooking(context.Background(), b.ID); err != nil {
		t.Fatalf("CancelBooking: %v", err)
	}
	if got := f.store.available("c1"); got != 33 {
		t.Errorf("available after cancel = %v, want 33", got)
	}
}

func TestCancelBooking_RejectsPaid(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 20, 20))

	b, _ := f.svc.CreateBooking(context.Background(), bookingInput(model.ModePartial, 8))
	if _, err := f.svc.ConfirmPayment(context.Background(), b.ID, confirmation()); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}

	_, err := f.svc.CancelBooking(context.Background(), b.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel paid booking: err = %v, want ErrInvalidTransition", err)
	}
	if got := f.store.available("c1"); got != 12 {
		t.Errorf("available = %v, want 12 (paid booking keeps its hold)", got)
	}
}

func TestCancelBooking_ConcurrentCancelsReleaseOnce(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 20, 20))

	b, _ := f.svc.CreateBooking(context.Background(), bookingInput(model.ModePartial, 8))

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CancelBooking(context.Background(), b.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected cancel error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("successful cancels = %d, want exactly 1", wins)
	}
	// The clamp makes even a double release safe, but the status flip should
	// have prevented it outright: exactly one release of 8 CBM.
	if got := f.store.available("c1"); got != 20 {
		t.Errorf("available = %v, want 20 after exactly one release", got)
	}
}

// ─── Shipment stages ────────────────────────────────────────

func TestAdvanceShipmentStatus(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 20, 20))

	b, _ := f.svc.CreateBooking(context.Background(), bookingInput(model.ModePartial, 8))
	if _, err := f.svc.ConfirmPayment(context.Background(), b.ID, confirmation()); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}

	updated, err := f.svc.AdvanceShipmentStatus(context.Background(), b.ID, model.BookingInTransit, "departed port", "Mumbai Port")
	if err != nil {
		t.Fatalf("AdvanceShipmentStatus: %v", err)
	}
	if updated.Status != model.BookingInTransit {
		t.Errorf("status = %s, want in_transit", updated.Status)
	}

	updated, err = f.svc.AdvanceShipmentStatus(context.Background(), b.ID, model.BookingAtCustoms, "", "Rotterdam")
	if err != nil {
		t.Fatalf("AdvanceShipmentStatus (second stage): %v", err)
	}
	if updated.Status != model.BookingAtCustoms {
		t.Errorf("status = %s, want at_customs", updated.Status)
	}

	// Two bootstrap events plus two stage events.
	if len(f.tracking.events) != 4 {
		t.Errorf("tracking events = %d, want 4", len(f.tracking.events))
	}
	last := f.tracking.events[len(f.tracking.events)-1]
	if last.Title != "At Customs" || last.Location != "Rotterdam" {
		t.Errorf("last timeline entry = %q at %q, want At Customs at Rotterdam", last.Title, last.Location)
	}

	// Capacity never moves during shipment progression.
	if got := f.store.available("c1"); got != 12 {
		t.Errorf("available = %v, want 12", got)
	}
}

func TestAdvanceShipmentStatus_RejectsNonStages(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 20, 20))
	b, _ := f.svc.CreateBooking(context.Background(), bookingInput(model.ModePartial, 8))

	for _, target := range []model.BookingStatus{model.BookingPendingPayment, model.BookingPaid, model.BookingCancelled, "teleported"} {
		_, err := f.svc.AdvanceShipmentStatus(context.Background(), b.ID, target, "", "")
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("target %q: err = %v, want ErrInvalidRequest", target, err)
		}
	}
}

func TestAdvanceShipmentStatus_RequiresPaidBooking(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 20, 20))
	b, _ := f.svc.CreateBooking(context.Background(), bookingInput(model.ModePartial, 8))

	// Still pending payment.
	if _, err := f.svc.AdvanceShipmentStatus(context.Background(), b.ID, model.BookingInTransit, "", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending booking: err = %v, want ErrInvalidTransition", err)
	}

	// Cancelled bookings never progress.
	if _, err := f.svc.CancelBooking(context.Background(), b.ID); err != nil {
		t.Fatalf("CancelBooking: %v", err)
	}
	if _, err := f.svc.AdvanceShipmentStatus(context.Background(), b.ID, model.BookingInTransit, "", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancelled booking: err = %v, want ErrInvalidTransition", err)
	}
}

// ─── End to end ─────────────────────────────────────────────

// TestBookingLifecycle_EndToEnd walks the whole capacity story on a single
// 20 CBM container: hold at creation, payment leaves the hold alone, a too
// large follow-up booking is refused, cancellation restores the space.
func TestBookingLifecycle_EndToEnd(t *testing.T) {
	f := newBookingFixture(ownedContainer("c1", 20, 20))
	ctx := context.Background()

	first, err := f.svc.CreateBooking(ctx, bookingInput(model.ModePartial, 8))
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if got := f.store.available("c1"); got != 12 {
		t.Fatalf("after first booking: available = %v, want 12", got)
	}

	second, err := f.svc.CreateBooking(ctx, bookingInput(model.ModePartial, 10))
	if err != nil {
		t.Fatalf("second booking: %v", err)
	}
	if got := f.store.available("c1"); got != 2 {
		t.Fatalf("after second booking: available = %v, want 2", got)
	}

	// 15 CBM does not fit anymore.
	if _, err := f.svc.CreateBooking(ctx, bookingInput(model.ModePartial, 15)); !errors.Is(err, ErrNoCapacity) {
		t.Fatalf("oversized booking: err = %v, want ErrNoCapacity", err)
	}

	// Paying the first booking changes nothing about capacity.
	if _, err := f.svc.ConfirmPayment(ctx, first.ID, confirmation()); err != nil {
		t.Fatalf("pay first: %v", err)
	}
	if got := f.store.available("c1"); got != 2 {
		t.Fatalf("after payment: available = %v, want 2", got)
	}

	// Cancelling the still pending second booking frees its 10 CBM.
	if _, err := f.svc.CancelBooking(ctx, second.ID); err != nil {
		t.Fatalf("cancel second: %v", err)
	}
	if got := f.store.available("c1"); got != 12 {
		t.Fatalf("after cancel: available = %v, want 12", got)
	}

	// Now the 12 CBM booking fits.
	third, err := f.svc.CreateBooking(ctx, bookingInput(model.ModePartial, 12))
	if err != nil {
		t.Fatalf("third booking: %v", err)
	}
	if got := f.store.available("c1"); got != 0 {
		t.Fatalf("after third booking: available = %v, want 0", got)
	}
	if third.Status != model.BookingPendingPayment {
		t.Fatalf("third booking status = %s, want pending_payment", third.Status)
	}

	// The paid booking cannot be cancelled through this flow.
	if _, err := f.svc.CancelBooking(ctx, first.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel paid: err = %v, want ErrInvalidTransition", err)
	}
}
