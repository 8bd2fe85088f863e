package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/fuelqueue/internal/booking/domain"
)

// Redis implements the store adapter on top of Redis documents. Station
// transactions use WATCH-based optimistic concurrency: every committing
// transaction bumps a per-station sequence key, so two interleaved
// read-then-write sequences for the same station can never both commit.
// Change notification rides on pub/sub, one channel per station.
type Redis struct {
	client *redis.Client
}

// NewRedis constructs the Redis-backed store.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func stationKey(id string) string        { return "station:" + id }
func stationSeqKey(id string) string     { return "station:" + id + ":seq" }
func stationActiveKey(id string) string  { return "station:" + id + ":active" }
func stationChannel(id string) string    { return "station:" + id + ":events" }
func bookingKey(id uuid.UUID) string     { return "booking:" + id.String() }
func vehicleActiveKey(vid string) string { return "vehicle:" + vid + ":active" }

// SeedStation inserts or replaces a station document.
func (r *Redis) SeedStation(ctx context.Context, st domain.Station) error {
	if st.Version == 0 {
		st.Version = 1
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal station: %w", err)
	}
	return r.client.Set(ctx, stationKey(st.ID), payload, 0).Err()
}

// GetStation retrieves a station document.
func (r *Redis) GetStation(ctx context.Context, id string) (domain.Station, error) {
	return getStation(ctx, r.client, id)
}

func getStation(ctx context.Context, c redis.Cmdable, id string) (domain.Station, error) {
	payload, err := c.Get(ctx, stationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Station{}, domain.ErrStationNotFound
	}
	if err != nil {
		return domain.Station{}, fmt.Errorf("get station: %w", err)
	}
	var st domain.Station
	if err := json.Unmarshal(payload, &st); err != nil {
		return domain.Station{}, fmt.Errorf("decode station: %w", err)
	}
	return st, nil
}

// GetBooking retrieves a booking document.
func (r *Redis) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return getBooking(ctx, r.client, id)
}

func getBooking(ctx context.Context, c redis.Cmdable, id uuid.UUID) (domain.Booking, error) {
	payload, err := c.Get(ctx, bookingKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	if err != nil {
		return domain.Booking{}, fmt.Errorf("get booking: %w", err)
	}
	var b domain.Booking
	if err := json.Unmarshal(payload, &b); err != nil {
		return domain.Booking{}, fmt.Errorf("decode booking: %w", err)
	}
	return b, nil
}

// ActiveByStation returns the station's active bookings ordered by position.
func (r *Redis) ActiveByStation(ctx context.Context, stationID string) ([]domain.Booking, error) {
	return activeByStation(ctx, r.client, stationID)
}

func activeByStation(ctx context.Context, c redis.Cmdable, stationID string) ([]domain.Booking, error) {
	ids, err := c.ZRange(ctx, stationActiveKey(stationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("range active set: %w", err)
	}
	bookings := make([]domain.Booking, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse active member %q: %w", raw, err)
		}
		b, err := getBooking(ctx, c, id)
		if errors.Is(err, domain.ErrBookingNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	// The ZSET breaks score ties lexicographically by member id; reapply
	// the creation-time tiebreaker so tied positions keep arrival order.
	sortActive(bookings)
	return bookings, nil
}

// ActiveByVehicle resolves the vehicle's active booking through the global
// vehicle index.
func (r *Redis) ActiveByVehicle(ctx context.Context, vehicleID string) (domain.Booking, bool, error) {
	return activeByVehicle(ctx, r.client, vehicleID)
}

func activeByVehicle(ctx context.Context, c redis.Cmdable, vehicleID string) (domain.Booking, bool, error) {
	raw, err := c.Get(ctx, vehicleActiveKey(vehicleID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Booking{}, false, nil
	}
	if err != nil {
		return domain.Booking{}, false, fmt.Errorf("get vehicle index: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return domain.Booking{}, false, fmt.Errorf("parse vehicle index %q: %w", raw, err)
	}
	b, err := getBooking(ctx, c, id)
	if errors.Is(err, domain.ErrBookingNotFound) {
		return domain.Booking{}, false, nil
	}
	if err != nil {
		return domain.Booking{}, false, err
	}
	return b, true, nil
}

type redisTx struct {
	ctx       context.Context
	tx        *redis.Tx
	stationID string
	created   []domain.Booking
	updated   []domain.Booking
	station   *domain.Station
}

func (t *redisTx) Station() (domain.Station, error) {
	if t.station != nil {
		return *t.station, nil
	}
	return getStation(t.ctx, t.tx, t.stationID)
}

func (t *redisTx) ActiveBookings() ([]domain.Booking, error) {
	return activeByStation(t.ctx, t.tx, t.stationID)
}

func (t *redisTx) ActiveByVehicle(vehicleID string) (domain.Booking, bool, error) {
	// The index is global, so guard the cross-station uniqueness check
	// against a concurrent create at another station.
	if err := t.tx.Watch(t.ctx, vehicleActiveKey(vehicleID)).Err(); err != nil {
		return domain.Booking{}, false, fmt.Errorf("watch vehicle index: %w", err)
	}
	return activeByVehicle(t.ctx, t.tx, vehicleID)
}

func (t *redisTx) CreateBooking(b domain.Booking) { t.created = append(t.created, b) }
func (t *redisTx) UpdateBooking(b domain.Booking) { t.updated = append(t.updated, b) }
func (t *redisTx) PutStation(st domain.Station)   { t.station = &st }

// StationTx runs fn against one station and commits staged writes in a
// single MULTI/EXEC guarded by the station's sequence key.
func (r *Redis) StationTx(ctx context.Context, stationID string, fn func(tx domain.StationTx) error) error {
	txf := func(tx *redis.Tx) error {
		if _, err := getStation(ctx, tx, stationID); err != nil {
			return err
		}

		view := &redisTx{ctx: ctx, tx: tx, stationID: stationID}
		if err := fn(view); err != nil {
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, b := range view.created {
				b.Version = 1
				if err := writeBooking(ctx, pipe, b); err != nil {
					return err
				}
			}
			for _, b := range view.updated {
				b.Version++
				if err := writeBooking(ctx, pipe, b); err != nil {
					return err
				}
			}
			if view.station != nil {
				st := *view.station
				st.Version++
				payload, err := json.Marshal(st)
				if err != nil {
					return fmt.Errorf("marshal station: %w", err)
				}
				pipe.Set(ctx, stationKey(stationID), payload, 0)
			}
			pipe.Incr(ctx, stationSeqKey(stationID))
			pipe.Publish(ctx, stationChannel(stationID), "commit")
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txf, stationSeqKey(stationID))
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrTransactionConflict
	}
	return err
}

func writeBooking(ctx context.Context, pipe redis.Pipeliner, b domain.Booking) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal booking: %w", err)
	}
	pipe.Set(ctx, bookingKey(b.ID), payload, 0)
	if b.Active() {
		pipe.ZAdd(ctx, stationActiveKey(b.StationID), redis.Z{Score: float64(b.Position), Member: b.ID.String()})
		pipe.Set(ctx, vehicleActiveKey(b.VehicleID), b.ID.String(), 0)
	} else {
		pipe.ZRem(ctx, stationActiveKey(b.StationID), b.ID.String())
		pipe.Del(ctx, vehicleActiveKey(b.VehicleID))
	}
	return nil
}

// UpdateBooking applies a single-booking mutation guarded by the booking
// document itself. The station sequence key is still bumped so a concurrent
// station-wide renumbering cannot interleave with the write.
func (r *Redis) UpdateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	var committed domain.Booking
	txf := func(tx *redis.Tx) error {
		existing, err := getBooking(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if existing.Version != b.Version {
			return domain.ErrTransactionConflict
		}
		next := b
		next.Version = existing.Version + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			payload, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("marshal booking: %w", err)
			}
			pipe.Set(ctx, bookingKey(next.ID), payload, 0)
			if next.Active() {
				pipe.ZAdd(ctx, stationActiveKey(next.StationID), redis.Z{Score: float64(next.Position), Member: next.ID.String()})
			} else {
				pipe.ZRem(ctx, stationActiveKey(next.StationID), next.ID.String())
				pipe.Del(ctx, vehicleActiveKey(next.VehicleID))
			}
			pipe.Incr(ctx, stationSeqKey(next.StationID))
			pipe.Publish(ctx, stationChannel(next.StationID), "commit")
			return nil
		})
		if err == nil {
			committed = next
		}
		return err
	}

	err := r.client.Watch(ctx, txf, bookingKey(b.ID))
	if errors.Is(err, redis.TxFailedErr) {
		return domain.Booking{}, domain.ErrTransactionConflict
	}
	if err != nil {
		return domain.Booking{}, err
	}
	return committed, nil
}

// Subscribe streams ordered active-set snapshots driven by the station's
// pub/sub channel. Each commit marker triggers a fresh read, so a slow
// consumer observes a monotone sequence of states.
func (r *Redis) Subscribe(ctx context.Context, stationID string) (<-chan []domain.Booking, func(), error) {
	pubsub := r.client.Subscribe(ctx, stationChannel(stationID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe station channel: %w", err)
	}

	out := make(chan []domain.Booking, snapshotBuffer)
	subCtx, cancelCtx := context.WithCancel(ctx)

	go func() {
		defer close(out)
		if snapshot, err := r.ActiveByStation(subCtx, stationID); err == nil {
			out <- snapshot
		}
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				snapshot, err := r.ActiveByStation(subCtx, stationID)
				if err != nil {
					continue
				}
				select {
				case out <- snapshot:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	cancel := func() {
		cancelCtx()
		_ = pubsub.Close()
	}
	return out, cancel, nil
}
