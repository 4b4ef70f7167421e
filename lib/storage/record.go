package storage

import (
	"fmt"
	"time"
)

// Record is the constraint for the records stored by a handle: a pointer to T that knows its identity.
//
//	type User struct {
//		ID   string
//		Name string
//	}
//
//	func (u *User) GetID() string { return u.ID }
//
//	users := storage.NewHash[User](svc, "users")
type Record[T any] interface {
	*T
	// GetID returns the identity of the record, it addresses the record within its collection
	GetID() string
}

// Timestamped records receive the current time on every write if tracking is enabled.
// field is the tracking field of the policy (default "UpdatedAt").
type Timestamped interface {
	SetTimestamp(field string, t time.Time)
}

// PropertyAccessor gives access to the properties of a record by name.
// It is required by UpdateProperty, Increment, SearchByProperty and BulkUpdateProperties.
type PropertyAccessor interface {
	// GetProperty returns the value of the property and false if the record has no such property
	GetProperty(name string) (any, bool)
	// SetProperty sets the property, an error is returned for unknown properties or wrong value types
	SetProperty(name string, value any) error
}

// stamp sets the tracking timestamp of item
func stamp[T any, P Record[T]](item P, field string, now time.Time) {
	if ts, ok := any(item).(Timestamped); ok {
		ts.SetTimestamp(field, now)
	}
}

// accessor returns the PropertyAccessor of item or ErrUnsupported
func accessor[T any, P Record[T]](item P) (PropertyAccessor, error) {
	pa, ok := any(item).(PropertyAccessor)
	if !ok {
		return nil, fmt.Errorf("%w: %T does not implement PropertyAccessor", ErrUnsupported, item)
	}
	return pa, nil
}

// setProperty returns a mutator that sets a single property
func setProperty[T any, P Record[T]](name string, value any) func(P) error {
	return func(item P) error {
		pa, err := accessor[T](item)
		if err != nil {
			return err
		}
		return pa.SetProperty(name, value)
	}
}

// increment adds delta to a numeric property
func increment[T any, P Record[T]](name string, delta int64) func(P) error {
	return func(item P) error {
		pa, err := accessor[T](item)
		if err != nil {
			return err
		}
		current, ok := pa.GetProperty(name)
		if !ok {
			return fmt.Errorf("%w: unknown property %q", ErrUnsupported, name)
		}

		var next any
		switch v := current.(type) {
		case int:
			next = v + int(delta)
		case int8:
			next = v + int8(delta)
		case int16:
			next = v + int16(delta)
		case int32:
			next = v + int32(delta)
		case int64:
			next = v + delta
		case uint:
			next = uint(int64(v) + delta)
		case uint32:
			next = uint32(int64(v) + delta)
		case uint64:
			next = uint64(int64(v) + delta)
		case float32:
			next = v + float32(delta)
		case float64:
			next = v + float64(delta)
		case nil:
			next = delta
		default:
			return fmt.Errorf("%w: property %q is not numeric (%T)", ErrUnsupported, name, current)
		}
		return pa.SetProperty(name, next)
	}
}
