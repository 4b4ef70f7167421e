package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/tkv/lib/kv"
)

// Hash stores the records as fields of one hash: key -> {id -> record}.
// Point reads and writes are single commands, GetAll fetches the whole hash.
type Hash[T any, P Record[T]] struct {
	core[T, P]
}

// errSkip stops a read-modify-write without writing
var errSkip = errors.New("skip")

// set returns the commands writing the fields and maintaining the expiry
func (h *Hash[T, P]) set(fields []string, values [][]byte) []kv.Command {
	return append([]kv.Command{kv.NewHSet(h.key, fields, values)}, h.expiry(h.key)...)
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// Insert stores the record in the field of its id, an existing record is replaced
func (h *Hash[T, P]) Insert(ctx context.Context, item P) error {
	return h.InsertAs(ctx, item.GetID(), item)
}

// InsertAs stores the record in the field id
func (h *Hash[T, P]) InsertAs(ctx context.Context, id string, item P) error {
	return h.put(ctx, "insert "+id, id, item)
}

func (h *Hash[T, P]) put(ctx context.Context, label, id string, item P) error {
	h.track(item)
	data, err := h.encode(item)
	if err != nil {
		return err
	}
	return h.add(ctx, label, h.set([]string{id}, [][]byte{data})...)
}

func (h *Hash[T, P]) InsertMany(ctx context.Context, items []P) error {
	return h.InsertManyBy(ctx, items, idOf[T, P])
}

// InsertManyBy stores the records in the fields returned by id.
// Every chunk of Policy.ChunkSize records is one operation.
func (h *Hash[T, P]) InsertManyBy(ctx context.Context, items []P, id func(P) string) error {
	values, err := h.encodeAll(items)
	if err != nil {
		return err
	}

	offset := 0
	for i, batch := range chunk(items, h.policy.ChunkSize) {
		fields := make([]string, len(batch))
		for j, item := range batch {
			fields[j] = id(item)
		}
		label := fmt.Sprintf("insert chunk %d (%d records)", i, len(batch))
		if err := h.add(ctx, label, h.set(fields, values[offset:offset+len(batch)])...); err != nil {
			return err
		}
		offset += len(batch)
	}
	return nil
}

// Update writes the record to the field of its id
func (h *Hash[T, P]) Update(ctx context.Context, item P) error {
	return h.UpdateAs(ctx, item.GetID(), item)
}

// UpdateAs writes the record to the field id
func (h *Hash[T, P]) UpdateAs(ctx context.Context, id string, item P) error {
	return h.put(ctx, "update "+id, id, item)
}

func (h *Hash[T, P]) UpdateMany(ctx context.Context, items []P) error {
	return h.InsertManyBy(ctx, items, idOf[T, P])
}

// Upsert stores the record immediately and returns true if it was created (false if it was replaced)
func (h *Hash[T, P]) Upsert(ctx context.Context, item P) (bool, error) {
	h.track(item)
	data, err := h.encode(item)
	if err != nil {
		return false, err
	}
	res, err := h.roundTrip(ctx, 1, h.set([]string{item.GetID()}, [][]byte{data})...)
	if err != nil {
		return false, err
	}
	return res[0].Int > 0, nil
}

func (h *Hash[T, P]) Mutate(ctx context.Context, id string, fn func(item P) error) (bool, error) {
	return h.mutate(ctx, h.key+":"+id, id, h.Get, h.Update, fn)
}

func (h *Hash[T, P]) UpdateProperty(ctx context.Context, id, name string, value any) (bool, error) {
	return h.Mutate(ctx, id, setProperty[T, P](name, value))
}

// Increment adds delta to the numeric property of the record.
// Returns false if the record does not exist.
func (h *Hash[T, P]) Increment(ctx context.Context, id, property string, delta int64) (bool, error) {
	return h.Mutate(ctx, id, increment[T, P](property, delta))
}

// UpdateIf applies fn only if cond returns true for the current record.
// Returns true if the record was updated.
func (h *Hash[T, P]) UpdateIf(ctx context.Context, id string, cond func(item P) bool, fn func(item P) error) (bool, error) {
	found, err := h.Mutate(ctx, id, func(item P) error {
		if !cond(item) {
			return errSkip
		}
		return fn(item)
	})
	if errors.Is(err, errSkip) {
		return false, nil
	}
	return found, err
}

func (h *Hash[T, P]) Delete(ctx context.Context, id string) error {
	return h.add(ctx, "delete "+id, append([]kv.Command{kv.NewHDel(h.key, id)}, h.expiry(h.key)...)...)
}

func (h *Hash[T, P]) DeleteMany(ctx context.Context, ids []string) error {
	for i, batch := range chunk(ids, h.policy.ChunkSize) {
		label := fmt.Sprintf("delete chunk %d (%d records)", i, len(batch))
		if err := h.add(ctx, label, append([]kv.Command{kv.NewHDel(h.key, batch...)}, h.expiry(h.key)...)...); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes the hash
func (h *Hash[T, P]) Clear(ctx context.Context) error {
	return h.add(ctx, "clear", kv.NewDel(h.key))
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

func (h *Hash[T, P]) Get(ctx context.Context, id string) (P, error) {
	res, err := h.read(ctx, []string{h.key}, kv.NewHGet(h.key, id))
	if err != nil || !res[0].Ok || len(res[0].Value) == 0 {
		return nil, err
	}
	return h.decode(res[0].Value), nil
}

// GetAll returns all records ordered by id
func (h *Hash[T, P]) GetAll(ctx context.Context) ([]P, error) {
	res, err := h.read(ctx, []string{h.key}, kv.NewHGetAll(h.key))
	if err != nil {
		return nil, err
	}
	return h.decodeAll(res[0].Values), nil
}

func (h *Hash[T, P]) Exists(ctx context.Context, id string) (bool, error) {
	res, err := h.read(ctx, []string{h.key}, kv.NewHExists(h.key, id))
	if err != nil {
		return false, err
	}
	return res[0].Ok, nil
}

func (h *Hash[T, P]) Count(ctx context.Context) (int, error) {
	res, err := h.read(ctx, []string{h.key}, kv.NewHLen(h.key))
	if err != nil {
		return 0, err
	}
	return int(res[0].Int), nil
}

// Keys returns the ids of all records (sorted)
func (h *Hash[T, P]) Keys(ctx context.Context) ([]string, error) {
	res, err := h.read(ctx, []string{h.key}, kv.NewHKeys(h.key))
	if err != nil {
		return nil, err
	}
	return res[0].Strings, nil
}

func (h *Hash[T, P]) Where(ctx context.Context, pred func(item P) bool) ([]P, error) {
	items, err := h.GetAll(ctx)
	return where(items, err, pred)
}

func (h *Hash[T, P]) FirstOrDefault(ctx context.Context, pred func(item P) bool) (P, error) {
	items, err := h.GetAll(ctx)
	return firstOrDefault(items, err, pred)
}
