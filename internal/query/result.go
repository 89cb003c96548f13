package query

import (
	"encoding/json"
	"time"
)

type Status int

const (
	// StatusIdle is a disabled query that has never fetched.
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Result is a point-in-time snapshot of a query.
type Result[T any] struct {
	Data T
	Err  error

	Status Status
	// IsLoading is true while the first fetch is in flight and no data exists.
	IsLoading bool
	// IsFetching is true whenever a fetch is in flight, including background
	// refetches of cached data.
	IsFetching bool
	UpdatedAt  time.Time
}

// HasData reports whether Data holds a fetched value.
func (r Result[T]) HasData() bool {
	return !r.UpdatedAt.IsZero()
}

type resultJSON[T any] struct {
	Data      *T      `json:"data"`
	IsLoading bool    `json:"isLoading"`
	Error     *string `json:"error"`
	Status    Status  `json:"status"`
}

// MarshalJSON renders {data, isLoading, error, status}; data and error are
// null when absent.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	out := resultJSON[T]{IsLoading: r.IsLoading, Status: r.Status}
	if r.HasData() {
		d := r.Data
		out.Data = &d
	}
	if r.Err != nil {
		msg := r.Err.Error()
		out.Error = &msg
	}
	return json.Marshal(out)
}
