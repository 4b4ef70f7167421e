package storage

import (
	"context"
	"errors"
	"testing"
)

func TestListPop(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	l := NewList[user](svc, "queue")

	for _, id := range []string{"a", "b", "c"} {
		if err := l.Insert(ctx, &user{ID: id}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	first, err := l.PopLeft(ctx)
	if err != nil || first == nil || first.ID != "a" {
		t.Fatalf("Expected a, got %v (err: %v)", first, err)
	}
	all, _ := l.GetAll(ctx)
	assertIDs(t, all, "b", "c")

	last, err := l.PopRight(ctx)
	if err != nil || last == nil || last.ID != "c" {
		t.Fatalf("Expected c, got %v (err: %v)", last, err)
	}
	_, _ = l.PopLeft(ctx)
	if empty, err := l.PopLeft(ctx); err != nil || empty != nil {
		t.Fatalf("Expected nil from empty list, got %v (err: %v)", empty, err)
	}
}

func TestListIndexOperations(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	setup := func(t *testing.T) *List[user, *user] {
		l := NewList[user](svc, "index-"+t.Name())
		for _, id := range []string{"a", "b", "c", "d"} {
			_ = l.Insert(ctx, &user{ID: id})
		}
		return l
	}

	tests := []struct {
		name string
		op   func(l *List[user, *user]) error
		want []string
	}{
		{name: "InsertLeft", op: func(l *List[user, *user]) error { return l.InsertLeft(ctx, &user{ID: "x"}) }, want: []string{"x", "a", "b", "c", "d"}},
		{name: "InsertAtHead", op: func(l *List[user, *user]) error { return l.InsertAt(ctx, 0, &user{ID: "x"}) }, want: []string{"x", "a", "b", "c", "d"}},
		{name: "InsertAtMiddle", op: func(l *List[user, *user]) error { return l.InsertAt(ctx, 2, &user{ID: "x"}) }, want: []string{"a", "b", "x", "c", "d"}},
		{name: "InsertAtTail", op: func(l *List[user, *user]) error { return l.InsertAt(ctx, 4, &user{ID: "x"}) }, want: []string{"a", "b", "c", "d", "x"}},
		{name: "UpdateAt", op: func(l *List[user, *user]) error { return l.UpdateAt(ctx, 1, &user{ID: "x"}) }, want: []string{"a", "x", "c", "d"}},
		{name: "UpdateAtNegative", op: func(l *List[user, *user]) error { return l.UpdateAt(ctx, -1, &user{ID: "x"}) }, want: []string{"a", "b", "c", "x"}},
		{name: "DeleteAt", op: func(l *List[user, *user]) error { return l.DeleteAt(ctx, 1) }, want: []string{"a", "c", "d"}},
		{name: "DeleteRange", op: func(l *List[user, *user]) error { return l.DeleteRange(ctx, 1, 2) }, want: []string{"a", "d"}},
		{name: "DeleteRangeNegative", op: func(l *List[user, *user]) error { return l.DeleteRange(ctx, -2, -1) }, want: []string{"a", "b"}},
		{name: "DeleteRangeEmpty", op: func(l *List[user, *user]) error { return l.DeleteRange(ctx, 3, 1) }, want: []string{"a", "b", "c", "d"}},
		{name: "DeleteRangeAll", op: func(l *List[user, *user]) error { return l.DeleteRange(ctx, 0, 100) }, want: []string{}},
		{name: "Trim", op: func(l *List[user, *user]) error { return l.Trim(ctx, 0, 1) }, want: []string{"a", "b"}},
		{name: "UpdateAll", op: func(l *List[user, *user]) error { return l.UpdateAll(ctx, []*user{{ID: "y"}, {ID: "z"}}) }, want: []string{"y", "z"}},
		{name: "UpdateMissing", op: func(l *List[user, *user]) error { return l.Update(ctx, &user{ID: "missing"}) }, want: []string{"a", "b", "c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := setup(t)
			if err := tt.op(l); err != nil {
				t.Fatalf("Operation failed: %v", err)
			}
			all, err := l.GetAll(ctx)
			if err != nil {
				t.Fatalf("GetAll failed: %v", err)
			}
			assertIDs(t, all, tt.want...)
		})
	}

	t.Run("Errors", func(t *testing.T) {
		l := setup(t)
		if err := l.InsertAt(ctx, 10, &user{ID: "x"}); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("Expected ErrOutOfRange, got %v", err)
		}
		if err := l.DeleteAt(ctx, 10); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("Expected ErrOutOfRange, got %v", err)
		}
		all, _ := l.GetAll(ctx)
		assertIDs(t, all, "a", "b", "c", "d")
	})

	t.Run("Reads", func(t *testing.T) {
		l := setup(t)

		if got, _ := l.GetAt(ctx, 2); got == nil || got.ID != "c" {
			t.Fatalf("Expected c at index 2, got %v", got)
		}
		if got, _ := l.GetAt(ctx, 10); got != nil {
			t.Fatalf("Expected nil at index 10, got %v", got)
		}
		rng, _ := l.GetRange(ctx, 1, -2)
		assertIDs(t, rng, "b", "c")

		if i, _ := l.IndexOf(ctx, "d"); i != 3 {
			t.Fatalf("Expected index 3, got %d", i)
		}
		if i, _ := l.IndexOf(ctx, "missing"); i != -1 {
			t.Fatalf("Expected index -1, got %d", i)
		}
		if ok, _ := l.Contains(ctx, &user{ID: "b"}); !ok {
			t.Fatalf("Expected list to contain b")
		}
		if ok, _ := l.Contains(ctx, &user{ID: "b", Name: "other"}); ok {
			t.Fatalf("Expected list not to contain a different encoding of b")
		}
	})

	t.Run("UpdateMany", func(t *testing.T) {
		l := setup(t)
		err := l.UpdateMany(ctx, []*user{{ID: "b", Name: "B"}, {ID: "d", Name: "D"}, {ID: "missing"}})
		if err != nil {
			t.Fatalf("UpdateMany failed: %v", err)
		}
		all, _ := l.GetAll(ctx)
		assertIDs(t, all, "a", "b", "c", "d")
		if all[1].Name != "B" || all[3].Name != "D" {
			t.Fatalf("Expected updated names, got %+v %+v", all[1], all[3])
		}
	})
}

func TestListDuplicates(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	l := NewList[user](svc, "duplicates")

	_ = l.Insert(ctx, &user{ID: "a"})
	_ = l.Insert(ctx, &user{ID: "a"})
	_ = l.Insert(ctx, &user{ID: "b"})

	if err := l.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	all, _ := l.GetAll(ctx)
	assertIDs(t, all, "a", "b")
}
