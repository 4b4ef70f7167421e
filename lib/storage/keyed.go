package storage

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
)

// Keyed stores every record under its own key prefix:id.
// Point operations touch a single key. GetAll, Count, Keys and ClearAll scan the keyspace for prefix:*,
// which is expensive on large keyspaces. Handle wide expiry applies to every record key, TTL and
// HasExpiry are not supported (use TTLKey).
//
// Ids must not contain ':', writes of such records fail with ErrInvalidID. Keys of nested prefixes
// (users:admin:1 for the prefix users) are therefore never records of the handle and are ignored
// by the scanning operations.
type Keyed[T any, P Record[T]] struct {
	core[T, P]
}

// ItemKey returns the key of the record with the given id
func (k *Keyed[T, P]) ItemKey(id string) string {
	return k.key + ":" + id
}

func (k *Keyed[T, P]) itemKeys(ids []string) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = k.ItemKey(id)
	}
	return keys
}

// scan returns the keys of all records
func (k *Keyed[T, P]) scan(ctx context.Context) ([]string, error) {
	res, err := k.read(ctx, nil, kv.NewScan(escapeGlob(k.key)+":*"))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(res[0].Strings))
	for _, key := range res[0].Strings {
		if !strings.Contains(key[len(k.key)+1:], ":") {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// load returns the records stored under keys, missing keys are skipped
func (k *Keyed[T, P]) load(ctx context.Context, keys []string) ([]P, error) {
	if len(keys) == 0 {
		return []P{}, nil
	}
	res, err := k.read(ctx, keys, kv.NewMGet(keys...))
	if err != nil {
		return nil, err
	}
	return k.decodeAll(res[0].Values), nil
}

// escapeGlob escapes the glob meta characters of s
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

func (k *Keyed[T, P]) Insert(ctx context.Context, item P) error {
	return k.InsertAs(ctx, item.GetID(), item)
}

// InsertAs stores the record under prefix:id
func (k *Keyed[T, P]) InsertAs(ctx context.Context, id string, item P) error {
	cmd, err := k.set(id, item)
	if err != nil {
		return err
	}
	return k.add(ctx, "insert "+id, cmd)
}

func (k *Keyed[T, P]) set(id string, item P) (kv.Command, error) {
	if strings.Contains(id, ":") {
		return kv.Command{}, fmt.Errorf("%w: %q contains ':'", ErrInvalidID, id)
	}
	k.track(item)
	data, err := k.encode(item)
	if err != nil {
		return kv.Command{}, err
	}
	return kv.NewSet(k.ItemKey(id), data, k.ttl()), nil
}

func (k *Keyed[T, P]) InsertMany(ctx context.Context, items []P) error {
	return k.InsertManyBy(ctx, items, idOf[T, P])
}

// InsertManyBy stores the records under the ids returned by id.
// Every chunk of Policy.ChunkSize records is one operation.
func (k *Keyed[T, P]) InsertManyBy(ctx context.Context, items []P, id func(P) string) error {
	cmds := make([]kv.Command, len(items))
	for i, item := range items {
		cmd, err := k.set(id(item), item)
		if err != nil {
			return err
		}
		cmds[i] = cmd
	}
	for i, batch := range chunk(cmds, k.policy.ChunkSize) {
		if err := k.add(ctx, fmt.Sprintf("insert chunk %d (%d records)", i, len(batch)), batch...); err != nil {
			return err
		}
	}
	return nil
}

func (k *Keyed[T, P]) Update(ctx context.Context, item P) error {
	cmd, err := k.set(item.GetID(), item)
	if err != nil {
		return err
	}
	return k.add(ctx, "update "+item.GetID(), cmd)
}

func (k *Keyed[T, P]) UpdateMany(ctx context.Context, items []P) error {
	return k.InsertManyBy(ctx, items, idOf[T, P])
}

// Upsert stores the record immediately and returns true if it was created (false if it was replaced)
func (k *Keyed[T, P]) Upsert(ctx context.Context, item P) (bool, error) {
	cmd, err := k.set(item.GetID(), item)
	if err != nil {
		return false, err
	}
	res, err := k.roundTrip(ctx, 2, kv.NewExists(cmd.Key), cmd)
	if err != nil {
		return false, err
	}
	return res[0].Int == 0, nil
}

func (k *Keyed[T, P]) Mutate(ctx context.Context, id string, fn func(item P) error) (bool, error) {
	return k.mutate(ctx, k.ItemKey(id), id, k.Get, k.Update, fn)
}

func (k *Keyed[T, P]) UpdateProperty(ctx context.Context, id, name string, value any) (bool, error) {
	return k.Mutate(ctx, id, setProperty[T, P](name, value))
}

// BulkUpdateProperties sets the properties of all records with the given ids.
// Every record is read and written separately. Returns the number of updated records.
func (k *Keyed[T, P]) BulkUpdateProperties(ctx context.Context, ids []string, properties map[string]any) (int, error) {
	updated := 0
	for _, id := range ids {
		found, err := k.Mutate(ctx, id, func(item P) error {
			for name, value := range properties {
				if err := setProperty[T, P](name, value)(item); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return updated, err
		}
		if found {
			updated++
		}
	}
	return updated, nil
}

func (k *Keyed[T, P]) Delete(ctx context.Context, id string) error {
	return k.add(ctx, "delete "+id, kv.NewDel(k.ItemKey(id)))
}

func (k *Keyed[T, P]) DeleteMany(ctx context.Context, ids []string) error {
	for i, batch := range chunk(ids, k.policy.ChunkSize) {
		if err := k.add(ctx, fmt.Sprintf("delete chunk %d (%d records)", i, len(batch)), kv.NewDel(k.itemKeys(batch)...)); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll removes the keys of all records and returns their number
func (k *Keyed[T, P]) ClearAll(ctx context.Context) (int, error) {
	keys, err := k.scan(ctx)
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	return len(keys), k.add(ctx, fmt.Sprintf("clear %d records", len(keys)), kv.NewDel(keys...))
}

func (k *Keyed[T, P]) Clear(ctx context.Context) error {
	_, err := k.ClearAll(ctx)
	return err
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

func (k *Keyed[T, P]) Get(ctx context.Context, id string) (P, error) {
	key := k.ItemKey(id)
	res, err := k.read(ctx, []string{key}, kv.NewGet(key))
	if err != nil || !res[0].Ok {
		return nil, err
	}
	return k.decode(res[0].Value), nil
}

// GetMany returns the records with the given ids, missing records are skipped
func (k *Keyed[T, P]) GetMany(ctx context.Context, ids []string) ([]P, error) {
	return k.load(ctx, k.itemKeys(ids))
}

// GetAll returns all records ordered by key
func (k *Keyed[T, P]) GetAll(ctx context.Context) ([]P, error) {
	keys, err := k.scan(ctx)
	if err != nil {
		return nil, err
	}
	return k.load(ctx, keys)
}

// Keys returns the ids of all records (sorted)
func (k *Keyed[T, P]) Keys(ctx context.Context) ([]string, error) {
	keys, err := k.scan(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = strings.TrimPrefix(key, k.key+":")
	}
	return ids, nil
}

func (k *Keyed[T, P]) Exists(ctx context.Context, id string) (bool, error) {
	key := k.ItemKey(id)
	res, err := k.read(ctx, []string{key}, kv.NewExists(key))
	if err != nil {
		return false, err
	}
	return res[0].Int > 0, nil
}

// Count scans the keyspace
func (k *Keyed[T, P]) Count(ctx context.Context) (int, error) {
	keys, err := k.scan(ctx)
	return len(keys), err
}

// SearchByProperty returns all records whose property equals value (compared with reflect.DeepEqual).
// It reads all records.
func (k *Keyed[T, P]) SearchByProperty(ctx context.Context, name string, value any) ([]P, error) {
	items, err := k.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]P, 0)
	for _, item := range items {
		pa, err := accessor[T](item)
		if err != nil {
			return nil, err
		}
		if v, ok := pa.GetProperty(name); ok && reflect.DeepEqual(v, value) {
			matches = append(matches, item)
		}
	}
	return matches, nil
}

func (k *Keyed[T, P]) Where(ctx context.Context, pred func(item P) bool) ([]P, error) {
	items, err := k.GetAll(ctx)
	return where(items, err, pred)
}

func (k *Keyed[T, P]) FirstOrDefault(ctx context.Context, pred func(item P) bool) (P, error) {
	items, err := k.GetAll(ctx)
	return firstOrDefault(items, err, pred)
}

// --------------------------------------------------------------------------
// Expiry
// --------------------------------------------------------------------------

// ExpireKey sets the time to live of a single record
func (k *Keyed[T, P]) ExpireKey(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	res, err := k.roundTrip(ctx, 1, kv.NewExpire(k.ItemKey(id), ttl))
	if err != nil {
		return false, err
	}
	return res[0].Ok, nil
}

// TTLKey returns the remaining time to live of a single record (kv.TTLNoExpiry, kv.TTLMissing)
func (k *Keyed[T, P]) TTLKey(ctx context.Context, id string) (time.Duration, error) {
	res, err := k.roundTrip(ctx, 1, kv.NewTTL(k.ItemKey(id)))
	if err != nil {
		return 0, err
	}
	return res[0].TTL, nil
}

// Expire sets the time to live of every record. Returns false if there are no records.
func (k *Keyed[T, P]) Expire(ctx context.Context, ttl time.Duration) (bool, error) {
	return k.forEachKey(ctx, func(key string) kv.Command { return kv.NewExpire(key, ttl) })
}

// ExpireAt sets the expiry time of every record. Returns false if there are no records.
func (k *Keyed[T, P]) ExpireAt(ctx context.Context, at time.Time) (bool, error) {
	return k.forEachKey(ctx, func(key string) kv.Command { return kv.NewExpireAt(key, at) })
}

// Persist removes the expiry of every record. Returns true if an expiry was removed.
func (k *Keyed[T, P]) Persist(ctx context.Context) (bool, error) {
	return k.forEachKey(ctx, kv.NewPersist)
}

// TTL is not supported, every record has its own expiry (see TTLKey)
func (k *Keyed[T, P]) TTL(context.Context) (time.Duration, error) {
	return 0, fmt.Errorf("%w: TTL of keyed records %s:*, use TTLKey", ErrUnsupported, k.key)
}

// HasExpiry is not supported, every record has its own expiry (see TTLKey)
func (k *Keyed[T, P]) HasExpiry(ctx context.Context) (bool, error) {
	_, err := k.TTL(ctx)
	return false, err
}

// forEachKey executes cmd for every record key and returns true if any command reported Ok
func (k *Keyed[T, P]) forEachKey(ctx context.Context, cmd func(key string) kv.Command) (bool, error) {
	keys, err := k.scan(ctx)
	if err != nil || len(keys) == 0 {
		return false, err
	}
	cmds := make([]kv.Command, len(keys))
	for i, key := range keys {
		cmds[i] = cmd(key)
	}
	res, err := k.roundTrip(ctx, len(cmds), cmds...)
	if err != nil {
		return false, err
	}
	for i := range res {
		if res[i].Ok {
			return true, nil
		}
	}
	return false, nil
}
