// Package repository provides database access for the freight booking system.
//
// ContainerRepository owns the capacity bookkeeping. All mutations of
// available_space_cbm go through Reserve/Release, which use conditional
// UPDATEs (optimistic concurrency) so a container can never be over-committed
// even under concurrent booking attempts.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nexport/freightd/internal/model"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	// ErrConcurrentUpdate is returned when a conditional capacity update
	// affected zero rows: another request reserved the space between our
	// candidate query and our UPDATE. Callers treat it as "lost the race"
	// and move on to the next candidate.
	ErrConcurrentUpdate = errors.New("container capacity changed concurrently")

	// ErrContainerNotFound is returned when the container row does not exist.
	ErrContainerNotFound = errors.New("container not found")
)

// ─── ContainerRepository ────────────────────────────────────

// ContainerRepository handles container rows and their capacity bookkeeping.
// The redis client is optional (may be nil); it only backs the advisory
// lane-availability cache used for quote previews.
type ContainerRepository struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewContainerRepository creates a new container repository.
func NewContainerRepository(pool *pgxpool.Pool, redisClient *redis.Client) *ContainerRepository {
	return &ContainerRepository{pool: pool, redis: redisClient}
}

const containerColumns = `
	id, container_number, provider_id, type, size,
	total_space_cbm, available_space_cbm, current_location,
	transport_mode, status, created_at, updated_at`

func scanContainer(row pgx.Row) (*model.Container, error) {
	c := &model.Container{}
	err := row.Scan(
		&c.ID, &c.ContainerNumber, &c.ProviderID, &c.Type, &c.Size,
		&c.TotalSpaceCBM, &c.AvailableSpaceCBM, &c.CurrentLocation,
		&c.TransportMode, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ─── Candidate search ───────────────────────────────────────

// FindCandidates returns containers that can serve the given capacity request.
//
// Filters:
//   - lane: current_location = origin, same transport mode, type and size
//   - status = 'available'
//   - partial mode: available_space_cbm >= requested CBM
//   - full mode: available_space_cbm = total_space_cbm (untouched containers only)
//
// The result is unranked; best-fit ordering is the allocation engine's job.
func (r *ContainerRepository) FindCandidates(
	ctx context.Context,
	req model.CapacityRequest,
) ([]model.Container, error) {

	query := `
		SELECT ` + containerColumns + `
		FROM containers
		WHERE current_location = $1
		  AND transport_mode = $2
		  AND type = $3
		  AND size = $4
		  AND status = 'available'`

	args := []any{req.Origin, req.TransportMode, req.ContainerType, req.ContainerSize}

	if req.BookingMode == model.ModePartial {
		if req.RequestedCBM > 0 {
			query += ` AND available_space_cbm >= $5`
			args = append(args, req.RequestedCBM)
		} else {
			query += ` AND available_space_cbm > 0`
		}
	} else {
		// Full bookings need an untouched container.
		query += ` AND available_space_cbm = total_space_cbm`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	defer rows.Close()

	var out []model.Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ─── The Core Conditional Updates ───────────────────────────

// Reserve atomically deducts capacity from a container.
//
// Concurrency strategy: OPTIMISTIC CONDITIONAL UPDATE
//
//	Scenario: Two exporters try to book the last 8 CBM at the same millisecond.
//
//	Timeline:
//	  T1: UPDATE ... WHERE id=X AND available_space_cbm >= 8 → 1 row (wins)
//	  T2: UPDATE ... WHERE id=X AND available_space_cbm >= 8 → 0 rows (loses)
//	  T2: receives ErrConcurrentUpdate; the allocation engine advances to
//	      the next candidate (or reports no capacity).
//
// The predicate re-checks the capacity inside the UPDATE itself, so the
// decrement and the check are a single row-atomic operation. There is no
// window in which both requests can observe the same free space and both
// commit. Status is recomputed in the same statement: 'full' exactly when
// the new available space is zero.
func (r *ContainerRepository) Reserve(
	ctx context.Context,
	containerID string,
	mode model.BookingMode,
	amountCBM float64,
) (newAvailable float64, newStatus model.ContainerStatus, err error) {

	var row pgx.Row
	if mode == model.ModeFull {
		// Full booking: take the whole container, but only if untouched.
		row = r.pool.QueryRow(ctx, `
			UPDATE containers
			SET available_space_cbm = 0,
			    status = 'full',
			    updated_at = now()
			WHERE id = $1
			  AND status = 'available'
			  AND available_space_cbm = total_space_cbm
			RETURNING available_space_cbm, status
		`, containerID)
	} else {
		row = r.pool.QueryRow(ctx, `
			UPDATE containers
			SET available_space_cbm = available_space_cbm - $2,
			    status = CASE WHEN available_space_cbm - $2 <= 0 THEN 'full' ELSE 'available' END,
			    updated_at = now()
			WHERE id = $1
			  AND status = 'available'
			  AND available_space_cbm >= $2
			RETURNING available_space_cbm, status
		`, containerID, amountCBM)
	}

	err = row.Scan(&newAvailable, &newStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		// Zero rows matched the predicate: either the container vanished or
		// a concurrent reservation consumed the space first. Distinguish so
		// callers can log bookkeeping problems separately from lost races.
		exists, checkErr := r.exists(ctx, containerID)
		if checkErr == nil && !exists {
			return 0, "", ErrContainerNotFound
		}
		return 0, "", ErrConcurrentUpdate
	}
	if err != nil {
		return 0, "", fmt.Errorf("reserve container %s: %w", containerID, err)
	}

	r.invalidateLaneCache(ctx, containerID)
	return newAvailable, newStatus, nil
}

// Release restores previously reserved capacity.
//
// Partial releases are clamped at total_space_cbm so a stray double release
// can never push available space above the physical capacity. Full releases
// restore the whole container. Status is recomputed the same way as Reserve.
func (r *ContainerRepository) Release(
	ctx context.Context,
	containerID string,
	mode model.BookingMode,
	amountCBM float64,
) error {

	query := `
		UPDATE containers
		SET available_space_cbm = total_space_cbm,
		    status = 'available',
		    updated_at = now()
		WHERE id = $1`
	args := []any{containerID}

	if mode == model.ModePartial {
		query = `
			UPDATE containers
			SET available_space_cbm = LEAST(total_space_cbm, available_space_cbm + $2),
			    status = CASE
			        WHEN LEAST(total_space_cbm, available_space_cbm + $2) <= 0 THEN 'full'
			        ELSE 'available'
			    END,
			    updated_at = now()
			WHERE id = $1`
		args = append(args, amountCBM)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("release hold on container %s: %w", containerID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrContainerNotFound
	}

	r.invalidateLaneCache(ctx, containerID)
	return nil
}

func (r *ContainerRepository) exists(ctx context.Context, containerID string) (bool, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM containers WHERE id = $1`, containerID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ─── CRUD (provider container management) ───────────────────

// GetByID fetches a single container.
func (r *ContainerRepository) GetByID(ctx context.Context, id string) (*model.Container, error) {
	c, err := scanContainer(r.pool.QueryRow(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrContainerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get container %s: %w", id, err)
	}
	return c, nil
}

// Create inserts a new container owned by a provider. The caller is expected
// to have validated 0 <= available <= total; the DB CHECK enforces it again.
func (r *ContainerRepository) Create(ctx context.Context, c *model.Container) (*model.Container, error) {
	c.ID = uuid.NewString()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO containers (
			id, container_number, provider_id, type, size,
			total_space_cbm, available_space_cbm, current_location,
			transport_mode, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at
	`,
		c.ID, c.ContainerNumber, c.ProviderID, c.Type, c.Size,
		c.TotalSpaceCBM, c.AvailableSpaceCBM, c.CurrentLocation,
		c.TransportMode, c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	r.invalidateLane(ctx, c.CurrentLocation, c.TransportMode, c.Type, c.Size)
	return c, nil
}

// ListByProvider returns a provider's containers plus unassigned pool
// containers, newest first.
func (r *ContainerRepository) ListByProvider(ctx context.Context, providerID string) ([]model.Container, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+containerColumns+`
		FROM containers
		WHERE provider_id = $1 OR provider_id IS NULL
		ORDER BY created_at DESC
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("list containers for provider %s: %w", providerID, err)
	}
	defer rows.Close()

	var out []model.Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan container: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateLocation moves a container to a new location and optionally flips its
// status (e.g. provider marks it in_transit). Capacity columns are not touched
// here — those only move through Reserve/Release.
func (r *ContainerRepository) UpdateLocation(
	ctx context.Context,
	id, location string,
	status model.ContainerStatus,
) (*model.Container, error) {
	c, err := scanContainer(r.pool.QueryRow(ctx, `
		UPDATE containers
		SET current_location = $2, status = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+containerColumns, id, location, status))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrContainerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update container %s: %w", id, err)
	}
	return c, nil
}

// ─── Container numbers ──────────────────────────────────────

// maxNumberAttempts bounds the uniqueness probe for generated container numbers.
const maxNumberAttempts = 5

// generateContainerNumber returns a display number like CNT-48213.
func generateContainerNumber() string {
	return fmt.Sprintf("CNT-%05d", 10000+rand.Intn(90000))
}

// UniqueContainerNumber generates a container number not yet present in the
// table. The 5-digit space is sparse enough that collisions are rare; after
// maxNumberAttempts collisions we give up rather than loop forever.
func (r *ContainerRepository) UniqueContainerNumber(ctx context.Context) (string, error) {
	for i := 0; i < maxNumberAttempts; i++ {
		candidate := generateContainerNumber()
		var n int
		err := r.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM containers WHERE container_number = $1`, candidate).Scan(&n)
		if err != nil {
			return "", fmt.Errorf("check container number: %w", err)
		}
		if n == 0 {
			return candidate, nil
		}
	}
	return "", errors.New("unable to generate unique container number")
}

// ─── Lane availability cache (Redis fast path) ──────────────

const (
	laneKeyPrefix = "lane:avail:"
	laneCacheTTL  = 30 * time.Second // short TTL: advisory data only
)

func laneKey(origin string, tm model.TransportMode, ct model.ContainerType, cs model.ContainerSize) string {
	return fmt.Sprintf("%s%s|%s|%s|%s", laneKeyPrefix, origin, tm, ct, cs)
}

// LaneAvailability returns a snapshot of open capacity on a lane for quote
// previews.
//
// Strategy (mirrors the booking hot path's read patterns):
//  1. Try Redis first (fast path, <1ms).
//  2. On cache miss, aggregate from PostgreSQL and cache with a short TTL.
//
// The snapshot is advisory: allocation always re-queries and reserves via
// conditional update, so staleness here can never cause over-allocation.
func (r *ContainerRepository) LaneAvailability(
	ctx context.Context,
	origin string,
	tm model.TransportMode,
	ct model.ContainerType,
	cs model.ContainerSize,
) (*model.LaneAvailability, error) {

	key := laneKey(origin, tm, ct, cs)

	if r.redis != nil {
		if raw, err := r.redis.Get(ctx, key).Bytes(); err == nil {
			la := &model.LaneAvailability{}
			if err := json.Unmarshal(raw, la); err == nil {
				return la, nil
			}
		}
	}

	la := &model.LaneAvailability{}
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)::int, COALESCE(MAX(available_space_cbm), 0)
		FROM containers
		WHERE current_location = $1
		  AND transport_mode = $2
		  AND type = $3
		  AND size = $4
		  AND status = 'available'
	`, origin, tm, ct, cs).Scan(&la.Candidates, &la.MaxAvailable)
	if err != nil {
		return nil, fmt.Errorf("lane availability: %w", err)
	}

	if r.redis != nil {
		if raw, err := json.Marshal(la); err == nil {
			// Fire-and-forget; a failed cache write just means a DB hit next time.
			_ = r.redis.Set(ctx, key, raw, laneCacheTTL).Err()
		}
	}
	return la, nil
}

// invalidateLaneCache drops the cached snapshot for the lane a container sits
// on. Called after every reserve/release so quotes see capacity changes fast.
func (r *ContainerRepository) invalidateLaneCache(ctx context.Context, containerID string) {
	if r.redis == nil {
		return
	}
	c, err := r.GetByID(ctx, containerID)
	if err != nil {
		log.Printf("[repo] WARNING: lane cache invalidation skipped for container %s: %v", containerID, err)
		return
	}
	r.invalidateLane(ctx, c.CurrentLocation, c.TransportMode, c.Type, c.Size)
}

func (r *ContainerRepository) invalidateLane(
	ctx context.Context,
	origin string,
	tm model.TransportMode,
	ct model.ContainerType,
	cs model.ContainerSize,
) {
	if r.redis == nil {
		return
	}
	_ = r.redis.Del(ctx, laneKey(origin, tm, ct, cs)).Err()
}
