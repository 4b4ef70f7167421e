package storage

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/tkv/lib/kv"
)

// Blob stores a single record or a list of records as the value of one key.
// Which of both is stored is found out on read: the value is decoded as a single record first,
// then as a list. Every collection operation reads and rewrites the whole value, concurrent
// writers overwrite each others changes unless the policy enables locking.
type Blob[T any, P Record[T]] struct {
	core[T, P]
}

// decodeBlob returns the records of the value and true if it is a single record
func (b *Blob[T, P]) decodeBlob(data []byte) ([]P, bool) {
	single := P(new(T))
	if err := b.svc.codec.Unmarshal(data, single); err == nil {
		return []P{single}, true
	}

	var list []T
	if err := b.svc.codec.Unmarshal(data, &list); err != nil {
		log.Warningf("%s: value is neither a record nor a list of records: %v", b.key, err)
		return nil, false
	}
	items := make([]P, len(list))
	for i := range list {
		items[i] = P(&list[i])
	}
	return items, false
}

// load returns all stored records
func (b *Blob[T, P]) load(ctx context.Context) ([]P, bool, error) {
	res, err := b.read(ctx, []string{b.key}, kv.NewGet(b.key))
	if err != nil || !res[0].Ok || len(res[0].Value) == 0 {
		return nil, false, err
	}
	items, single := b.decodeBlob(res[0].Value)
	return items, single, nil
}

// set queues the write of a single record
func (b *Blob[T, P]) set(ctx context.Context, label string, item P) error {
	b.track(item)
	data, err := b.encode(item)
	if err != nil {
		return err
	}
	return b.add(ctx, label, kv.NewSet(b.key, data, b.ttl()))
}

// setAll queues the write of a list (an empty list removes the key).
// Items are written as they are, callers stamp the records they changed.
func (b *Blob[T, P]) setAll(ctx context.Context, label string, items []P) error {
	if len(items) == 0 {
		return b.add(ctx, label, kv.NewDel(b.key))
	}
	data, err := b.svc.codec.Marshal(items)
	if err != nil {
		return serializationError(b.key, err)
	}
	return b.add(ctx, label, kv.NewSet(b.key, data, b.ttl()))
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// Insert overwrites the value with the single record
func (b *Blob[T, P]) Insert(ctx context.Context, item P) error {
	return b.set(ctx, "insert "+item.GetID(), item)
}

// InsertMany overwrites the value with the list of records
func (b *Blob[T, P]) InsertMany(ctx context.Context, items []P) error {
	for _, item := range items {
		b.track(item)
	}
	return b.setAll(ctx, fmt.Sprintf("insert %d records", len(items)), items)
}

// Update overwrites the value with the single record
func (b *Blob[T, P]) Update(ctx context.Context, item P) error {
	return b.set(ctx, "update "+item.GetID(), item)
}

// UpdateMany overwrites the value with the list of records
func (b *Blob[T, P]) UpdateMany(ctx context.Context, items []P) error {
	for _, item := range items {
		b.track(item)
	}
	return b.setAll(ctx, fmt.Sprintf("update %d records", len(items)), items)
}

// Append adds the record to the stored collection. A stored single record becomes a list.
func (b *Blob[T, P]) Append(ctx context.Context, item P) error {
	return b.guard(ctx, b.key, func() error {
		items, _, err := b.load(ctx)
		if err != nil {
			return err
		}
		b.track(item)
		return b.setAll(ctx, "append "+item.GetID(), append(items, item))
	})
}

// Mutate applies fn to the record with the given id within the stored single record or collection
func (b *Blob[T, P]) Mutate(ctx context.Context, id string, fn func(item P) error) (bool, error) {
	found := false
	err := b.guard(ctx, b.key, func() error {
		items, single, err := b.load(ctx)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.GetID() != id {
				continue
			}
			if err := fn(item); err != nil {
				return err
			}
			found = true
			if single {
				return b.set(ctx, "update "+id, item)
			}
			b.track(item)
			return b.setAll(ctx, "update "+id+" in collection", items)
		}
		return nil
	})
	return found, err
}

func (b *Blob[T, P]) UpdateProperty(ctx context.Context, id, name string, value any) (bool, error) {
	return b.Mutate(ctx, id, setProperty[T, P](name, value))
}

// DeleteFromCollection removes all records matching pred and returns their number
func (b *Blob[T, P]) DeleteFromCollection(ctx context.Context, pred func(item P) bool) (int, error) {
	removed := 0
	err := b.guard(ctx, b.key, func() error {
		items, _, err := b.load(ctx)
		if err != nil {
			return err
		}
		kept := make([]P, 0, len(items))
		for _, item := range items {
			if pred(item) {
				removed++
			} else {
				kept = append(kept, item)
			}
		}
		if removed == 0 {
			return nil
		}
		return b.setAll(ctx, fmt.Sprintf("delete %d records", removed), kept)
	})
	return removed, err
}

// Delete removes the record with the given id (the key is removed with the last record)
func (b *Blob[T, P]) Delete(ctx context.Context, id string) error {
	_, err := b.DeleteFromCollection(ctx, func(item P) bool { return item.GetID() == id })
	return err
}

func (b *Blob[T, P]) DeleteMany(ctx context.Context, ids []string) error {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	_, err := b.DeleteFromCollection(ctx, func(item P) bool { return wanted[item.GetID()] })
	return err
}

// Clear removes the key
func (b *Blob[T, P]) Clear(ctx context.Context) error {
	return b.add(ctx, "clear", kv.NewDel(b.key))
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// GetSingle returns the stored single record or the first record of the stored collection
func (b *Blob[T, P]) GetSingle(ctx context.Context) (P, error) {
	items, _, err := b.load(ctx)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// GetFromCollection returns the record at the given position of the collection or nil
func (b *Blob[T, P]) GetFromCollection(ctx context.Context, index int) (P, error) {
	items, _, err := b.load(ctx)
	if err != nil || index < 0 || index >= len(items) {
		return nil, err
	}
	return items[index], nil
}

// Get returns the record with the given id
func (b *Blob[T, P]) Get(ctx context.Context, id string) (P, error) {
	items, _, err := b.load(ctx)
	return firstOrDefault(items, err, func(item P) bool { return item.GetID() == id })
}

// GetAll returns the stored records, a single record is returned as a list of one
func (b *Blob[T, P]) GetAll(ctx context.Context) ([]P, error) {
	items, _, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []P{}
	}
	return items, nil
}

func (b *Blob[T, P]) Exists(ctx context.Context, id string) (bool, error) {
	item, err := b.Get(ctx, id)
	return item != nil, err
}

// Count reads the whole value
func (b *Blob[T, P]) Count(ctx context.Context) (int, error) {
	items, _, err := b.load(ctx)
	return len(items), err
}

func (b *Blob[T, P]) Where(ctx context.Context, pred func(item P) bool) ([]P, error) {
	items, _, err := b.load(ctx)
	return where(items, err, pred)
}

func (b *Blob[T, P]) FirstOrDefault(ctx context.Context, pred func(item P) bool) (P, error) {
	items, _, err := b.load(ctx)
	return firstOrDefault(items, err, pred)
}
