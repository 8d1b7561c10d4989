package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/nexport/freightd/internal/model"
	"github.com/nexport/freightd/internal/repository"
)

// ─── Allocation Errors ──────────────────────────────────────

var (
	// ErrInvalidRequest is returned for malformed capacity requests
	// (e.g. non-positive CBM on a partial booking). Rejected before any
	// store access.
	ErrInvalidRequest = errors.New("invalid capacity request")

	// ErrNoCapacity is returned when no container satisfies the request, or
	// every candidate lost its reservation race. The caller may retry with a
	// fresh Allocate call; the engine never retries internally.
	ErrNoCapacity = errors.New("no container capacity available")
)

// ─── ContainerStore port ────────────────────────────────────

// ContainerStore is the persistence port the allocation engine needs. The
// production implementation is repository.ContainerRepository; tests inject
// an in-memory store with the same conditional-update semantics.
type ContainerStore interface {
	FindCandidates(ctx context.Context, req model.CapacityRequest) ([]model.Container, error)
	// Reserve must be atomic: check and decrement in one step, returning
	// repository.ErrConcurrentUpdate when the capacity predicate no longer
	// holds at commit time.
	Reserve(ctx context.Context, containerID string, mode model.BookingMode, amountCBM float64) (float64, model.ContainerStatus, error)
	Release(ctx context.Context, containerID string, mode model.BookingMode, amountCBM float64) error
}

// ─── AllocationService ──────────────────────────────────────

// AllocationService selects a best-fit container for a capacity request and
// reserves space on it.
//
// Concurrency model:
//   - No locks. Correctness rests entirely on the store's conditional
//     reservation: whichever request commits first wins, the loser sees
//     ErrConcurrentUpdate and tries the next candidate.
//   - The window between the candidate query and the reserve attempt is
//     benign: a stale candidate just loses its conditional update.
//   - When every candidate is lost to races the engine reports ErrNoCapacity
//     rather than retrying forever; bounded retry policy belongs to callers.
type AllocationService struct {
	containers ContainerStore
}

// NewAllocationService creates an allocation service over the given store.
func NewAllocationService(containers ContainerStore) *AllocationService {
	return &AllocationService{containers: containers}
}

// Allocate finds and reserves capacity for the request.
//
// Flow:
//  1. Validate the request shape.
//  2. Query candidates for the lane.
//  3. Rank best-fit (see RankCandidates).
//  4. Try to reserve in rank order; first success wins.
func (s *AllocationService) Allocate(ctx context.Context, req model.CapacityRequest) (*model.Allocation, error) {
	if err := validateCapacityRequest(req); err != nil {
		return nil, err
	}

	candidates, err := s.containers.FindCandidates(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("allocate: find candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, ErrNoCapacity
	}

	requiredCBM := req.RequestedCBM
	if req.BookingMode == model.ModeFull {
		// A full booking consumes whatever the container holds; rank against
		// the first candidate's capacity so all untouched containers of the
		// lane tie at distance zero.
		requiredCBM = candidates[0].TotalSpaceCBM
	}
	RankCandidates(candidates, requiredCBM)

	for i := range candidates {
		c := &candidates[i]

		amount := req.RequestedCBM
		if req.BookingMode == model.ModeFull {
			amount = c.TotalSpaceCBM
		}

		newAvailable, newStatus, err := s.containers.Reserve(ctx, c.ID, req.BookingMode, amount)
		if errors.Is(err, repository.ErrConcurrentUpdate) {
			// Lost the race on this container; the next candidate may still
			// have room.
			log.Printf("[alloc] container %s taken concurrently, trying next candidate", c.ID)
			continue
		}
		if errors.Is(err, repository.ErrContainerNotFound) {
			log.Printf("[alloc] container %s disappeared between query and reserve", c.ID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("allocate: reserve container %s: %w", c.ID, err)
		}

		log.Printf("[alloc] ✓ reserved %.1f CBM on container %s (%s), %.1f CBM remaining",
			amount, c.ContainerNumber, c.ID, newAvailable)

		return &model.Allocation{
			ContainerID:     c.ID,
			ContainerNumber: c.ContainerNumber,
			AllocatedCBM:    amount,
			NewAvailableCBM: newAvailable,
			NewStatus:       newStatus,
		}, nil
	}

	// Every candidate was consumed by concurrent requests.
	return nil, ErrNoCapacity
}

// Release returns previously reserved capacity to a container. The engine
// does not track hold ownership: callers (the booking lifecycle) must check
// booking state before releasing, otherwise a double release would be
// possible. Partial releases are clamped at the container's total by the
// store, so even a stray release cannot break the capacity invariant.
func (s *AllocationService) Release(
	ctx context.Context,
	containerID string,
	mode model.BookingMode,
	amountCBM float64,
) error {
	return s.containers.Release(ctx, containerID, mode, amountCBM)
}

// ─── Best-fit ranking ───────────────────────────────────────

// RankCandidates sorts containers best-fit first for the required CBM:
// ascending by |available - required| (closest fit wins), ties broken by
// descending available/total ratio (the container with proportionally more
// remaining space wins). The closest-fit rule keeps partial bookings from
// fragmenting capacity across many half-used containers.
//
// The sort is stable, so candidates identical on both keys keep their query
// order. Ordering beyond the two keys is deliberately unspecified.
func RankCandidates(containers []model.Container, requiredCBM float64) {
	sort.SliceStable(containers, func(i, j int) bool {
		a, b := &containers[i], &containers[j]
		distA := math.Abs(a.AvailableSpaceCBM - requiredCBM)
		distB := math.Abs(b.AvailableSpaceCBM - requiredCBM)
		if distA != distB {
			return distA < distB
		}
		return efficiencyRatio(a) > efficiencyRatio(b)
	})
}

func efficiencyRatio(c *model.Container) float64 {
	if c.TotalSpaceCBM <= 0 {
		return 0
	}
	return c.AvailableSpaceCBM / c.TotalSpaceCBM
}

// validateCapacityRequest rejects malformed requests before touching the store.
func validateCapacityRequest(req model.CapacityRequest) error {
	if req.Origin == "" {
		return fmt.Errorf("%w: origin is required", ErrInvalidRequest)
	}
	if !model.ValidTransportMode(req.TransportMode) {
		return fmt.Errorf("%w: unknown transport mode %q", ErrInvalidRequest, req.TransportMode)
	}
	if !model.ValidContainerType(req.ContainerType) {
		return fmt.Errorf("%w: unknown container type %q", ErrInvalidRequest, req.ContainerType)
	}
	if !model.ValidContainerSize(req.ContainerSize) {
		return fmt.Errorf("%w: unknown container size %q", ErrInvalidRequest, req.ContainerSize)
	}
	switch req.BookingMode {
	case model.ModePartial:
		if req.RequestedCBM <= 0 {
			return fmt.Errorf("%w: partial booking requires requested_cbm > 0", ErrInvalidRequest)
		}
	case model.ModeFull:
		// Full-mode requests ignore RequestedCBM.
	default:
		return fmt.Errorf("%w: unknown booking mode %q", ErrInvalidRequest, req.BookingMode)
	}
	return nil
}
