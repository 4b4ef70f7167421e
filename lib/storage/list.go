package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/google/uuid"
)

// List stores the records as elements of one list.
// Index based operations are single commands. Operations by id read the whole list to find the
// index of the record first, concurrent writers can move the record in between (see Policy.LockTTL).
// Elements are removed by value, of two records with the same encoding any one may be removed.
type List[T any, P Record[T]] struct {
	core[T, P]
}

// with appends the expiry maintenance to cmds
func (l *List[T, P]) with(cmds ...kv.Command) []kv.Command {
	return append(cmds, l.expiry(l.key)...)
}

// raw returns all encoded elements
func (l *List[T, P]) raw(ctx context.Context) ([][]byte, error) {
	res, err := l.read(ctx, []string{l.key}, kv.NewLRange(l.key, 0, -1))
	if err != nil {
		return nil, err
	}
	return res[0].Values, nil
}

// find returns the index of the first element with the given id or -1
func (l *List[T, P]) find(raw [][]byte, id string) int {
	for i, data := range raw {
		if item := l.decode(data); item != nil && item.GetID() == id {
			return i
		}
	}
	return -1
}

// rewrite returns the commands replacing the whole list with values
func (l *List[T, P]) rewrite(values [][]byte) []kv.Command {
	if len(values) == 0 {
		return []kv.Command{kv.NewDel(l.key)}
	}
	return l.with(kv.NewDel(l.key), kv.NewRPush(l.key, values...))
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// Insert appends the record to the tail of the list
func (l *List[T, P]) Insert(ctx context.Context, item P) error {
	l.track(item)
	data, err := l.encode(item)
	if err != nil {
		return err
	}
	return l.add(ctx, "insert "+item.GetID(), l.with(kv.NewRPush(l.key, data))...)
}

// InsertLeft prepends the record to the head of the list
func (l *List[T, P]) InsertLeft(ctx context.Context, item P) error {
	l.track(item)
	data, err := l.encode(item)
	if err != nil {
		return err
	}
	return l.add(ctx, "insert left "+item.GetID(), l.with(kv.NewLPush(l.key, data))...)
}

// InsertMany appends the records, every chunk is pushed with one command
func (l *List[T, P]) InsertMany(ctx context.Context, items []P) error {
	values, err := l.encodeAll(items)
	if err != nil {
		return err
	}
	for i, batch := range chunk(values, l.policy.ChunkSize) {
		label := fmt.Sprintf("insert chunk %d (%d records)", i, len(batch))
		if err := l.add(ctx, label, l.with(kv.NewRPush(l.key, batch...))...); err != nil {
			return err
		}
	}
	return nil
}

// InsertAt inserts the record before the element at index (index = length appends).
// The list is rewritten.
func (l *List[T, P]) InsertAt(ctx context.Context, index int, item P) error {
	return l.guard(ctx, l.key, func() error {
		raw, err := l.raw(ctx)
		if err != nil {
			return err
		}
		if index < 0 || index > len(raw) {
			return fmt.Errorf("%w: insert at %d into list %s of length %d", ErrOutOfRange, index, l.key, len(raw))
		}
		l.track(item)
		data, err := l.encode(item)
		if err != nil {
			return err
		}
		values := make([][]byte, 0, len(raw)+1)
		values = append(values, raw[:index]...)
		values = append(values, data)
		values = append(values, raw[index:]...)
		return l.add(ctx, fmt.Sprintf("insert %s at %d", item.GetID(), index), l.rewrite(values)...)
	})
}

// Update replaces the first element with the id of the record. Nothing happens if there is none.
func (l *List[T, P]) Update(ctx context.Context, item P) error {
	return l.guard(ctx, l.key, func() error {
		raw, err := l.raw(ctx)
		if err != nil {
			return err
		}
		index := l.find(raw, item.GetID())
		if index < 0 {
			log.Debugf("%s: update of missing record %s ignored", l.key, item.GetID())
			return nil
		}
		l.track(item)
		data, err := l.encode(item)
		if err != nil {
			return err
		}
		return l.add(ctx, "update "+item.GetID(), l.with(kv.NewLSet(l.key, int64(index), data))...)
	})
}

// UpdateMany replaces the elements with the ids of the records, records that are not in the list are ignored
func (l *List[T, P]) UpdateMany(ctx context.Context, items []P) error {
	return l.guard(ctx, l.key, func() error {
		raw, err := l.raw(ctx)
		if err != nil {
			return err
		}
		index := make(map[string]int64, len(raw))
		for i := len(raw) - 1; i >= 0; i-- {
			if item := l.decode(raw[i]); item != nil {
				index[item.GetID()] = int64(i)
			}
		}

		var cmds []kv.Command
		for _, item := range items {
			i, ok := index[item.GetID()]
			if !ok {
				continue
			}
			l.track(item)
			data, err := l.encode(item)
			if err != nil {
				return err
			}
			cmds = append(cmds, kv.NewLSet(l.key, i, data))
		}
		for i, batch := range chunk(cmds, l.policy.ChunkSize) {
			label := fmt.Sprintf("update chunk %d (%d records)", i, len(batch))
			if err := l.add(ctx, label, l.with(batch...)...); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateAll replaces the whole list with items
func (l *List[T, P]) UpdateAll(ctx context.Context, items []P) error {
	values, err := l.encodeAll(items)
	if err != nil {
		return err
	}
	return l.add(ctx, fmt.Sprintf("replace (%d records)", len(items)), l.rewrite(values)...)
}

// UpdateAt replaces the element at index, negative indexes count from the tail
func (l *List[T, P]) UpdateAt(ctx context.Context, index int64, item P) error {
	l.track(item)
	data, err := l.encode(item)
	if err != nil {
		return err
	}
	return l.add(ctx, fmt.Sprintf("update at %d", index), l.with(kv.NewLSet(l.key, index, data))...)
}

func (l *List[T, P]) Mutate(ctx context.Context, id string, fn func(item P) error) (bool, error) {
	return l.mutate(ctx, l.key+":"+id, id, l.Get, l.Update, fn)
}

func (l *List[T, P]) UpdateProperty(ctx context.Context, id, name string, value any) (bool, error) {
	return l.Mutate(ctx, id, setProperty[T, P](name, value))
}

// Delete removes the first element with the given id
func (l *List[T, P]) Delete(ctx context.Context, id string) error {
	return l.DeleteMany(ctx, []string{id})
}

// DeleteMany removes the first element of each id
func (l *List[T, P]) DeleteMany(ctx context.Context, ids []string) error {
	return l.guard(ctx, l.key, func() error {
		raw, err := l.raw(ctx)
		if err != nil {
			return err
		}
		wanted := make(map[string]bool, len(ids))
		for _, id := range ids {
			wanted[id] = true
		}

		var cmds []kv.Command
		for _, data := range raw {
			if item := l.decode(data); item != nil && wanted[item.GetID()] {
				delete(wanted, item.GetID())
				cmds = append(cmds, kv.NewLRem(l.key, 1, data))
			}
		}
		if len(cmds) == 0 {
			return nil
		}
		return l.add(ctx, fmt.Sprintf("delete %d records", len(cmds)), l.with(cmds...)...)
	})
}

// DeleteAt removes the element at index, negative indexes count from the tail.
// The element is replaced by a unique tombstone which is then removed by value.
func (l *List[T, P]) DeleteAt(ctx context.Context, index int64) error {
	tombstone := []byte("__tombstone__" + uuid.NewString())
	return l.add(ctx, fmt.Sprintf("delete at %d", index), l.with(
		kv.NewLSet(l.key, index, tombstone),
		kv.NewLRem(l.key, 1, tombstone),
	)...)
}

// DeleteRange removes the elements start..stop (inclusive, negative indexes count from the tail).
// The list is rewritten.
func (l *List[T, P]) DeleteRange(ctx context.Context, start, stop int64) error {
	return l.guard(ctx, l.key, func() error {
		raw, err := l.raw(ctx)
		if err != nil {
			return err
		}
		n := int64(len(raw))
		if start < 0 {
			start = max(n+start, 0)
		}
		if stop < 0 {
			stop = n + stop
		}
		stop = min(stop, n-1)
		if start > stop {
			return nil
		}
		values := append(raw[:start:start], raw[stop+1:]...)
		return l.add(ctx, fmt.Sprintf("delete range %d..%d", start, stop), l.rewrite(values)...)
	})
}

// Trim keeps only the elements start..stop (inclusive, negative indexes count from the tail)
func (l *List[T, P]) Trim(ctx context.Context, start, stop int64) error {
	return l.add(ctx, fmt.Sprintf("trim %d..%d", start, stop), l.with(kv.NewLTrim(l.key, start, stop))...)
}

// Clear removes the list
func (l *List[T, P]) Clear(ctx context.Context) error {
	return l.add(ctx, "clear", kv.NewDel(l.key))
}

// PopLeft removes and returns the first record (nil if the list is empty).
// It is executed immediately, also while a pipeline is active.
func (l *List[T, P]) PopLeft(ctx context.Context) (P, error) {
	return l.pop(ctx, kv.NewLPop(l.key))
}

// PopRight removes and returns the last record (nil if the list is empty).
// It is executed immediately, also while a pipeline is active.
func (l *List[T, P]) PopRight(ctx context.Context) (P, error) {
	return l.pop(ctx, kv.NewRPop(l.key))
}

func (l *List[T, P]) pop(ctx context.Context, cmd kv.Command) (P, error) {
	res, err := l.roundTrip(ctx, 1, l.with(cmd)...)
	if err != nil || !res[0].Ok {
		return nil, err
	}
	return l.decode(res[0].Value), nil
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// Get returns the first record with the given id
func (l *List[T, P]) Get(ctx context.Context, id string) (P, error) {
	raw, err := l.raw(ctx)
	if err != nil {
		return nil, err
	}
	if i := l.find(raw, id); i >= 0 {
		return l.decode(raw[i]), nil
	}
	return nil, nil
}

// GetAll returns all records in list order
func (l *List[T, P]) GetAll(ctx context.Context) ([]P, error) {
	raw, err := l.raw(ctx)
	if err != nil {
		return nil, err
	}
	return l.decodeAll(raw), nil
}

// GetAt returns the record at index (negative indexes count from the tail) or nil
func (l *List[T, P]) GetAt(ctx context.Context, index int64) (P, error) {
	res, err := l.read(ctx, []string{l.key}, kv.NewLIndex(l.key, index))
	if err != nil || !res[0].Ok {
		return nil, err
	}
	return l.decode(res[0].Value), nil
}

// GetRange returns the records start..stop (inclusive, negative indexes count from the tail)
func (l *List[T, P]) GetRange(ctx context.Context, start, stop int64) ([]P, error) {
	res, err := l.read(ctx, []string{l.key}, kv.NewLRange(l.key, start, stop))
	if err != nil {
		return nil, err
	}
	return l.decodeAll(res[0].Values), nil
}

// Count returns the length of the list
func (l *List[T, P]) Count(ctx context.Context) (int, error) {
	res, err := l.read(ctx, []string{l.key}, kv.NewLLen(l.key))
	if err != nil {
		return 0, err
	}
	return int(res[0].Int), nil
}

// IndexOf returns the index of the first record with the given id or -1
func (l *List[T, P]) IndexOf(ctx context.Context, id string) (int, error) {
	raw, err := l.raw(ctx)
	if err != nil {
		return -1, err
	}
	return l.find(raw, id), nil
}

func (l *List[T, P]) Exists(ctx context.Context, id string) (bool, error) {
	i, err := l.IndexOf(ctx, id)
	return i >= 0, err
}

// Contains returns true if the list contains an element with the same encoding as item
func (l *List[T, P]) Contains(ctx context.Context, item P) (bool, error) {
	data, err := l.encode(item)
	if err != nil {
		return false, err
	}
	raw, err := l.raw(ctx)
	if err != nil {
		return false, err
	}
	for _, v := range raw {
		if bytes.Equal(v, data) {
			return true, nil
		}
	}
	return false, nil
}

func (l *List[T, P]) Where(ctx context.Context, pred func(item P) bool) ([]P, error) {
	items, err := l.GetAll(ctx)
	return where(items, err, pred)
}

func (l *List[T, P]) FirstOrDefault(ctx context.Context, pred func(item P) bool) (P, error) {
	items, err := l.GetAll(ctx)
	return firstOrDefault(items, err, pred)
}
