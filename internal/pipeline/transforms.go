package pipeline

import (
	"context"

	"github.com/ajitpratap0/hubble/pkg/pool"
)

// RenameFields returns a transform that renames record fields according to
// mapping. Fields not in the mapping pass through unchanged.
func RenameFields(mapping map[string]string) Transform {
	return func(_ context.Context, record *pool.Record) (*pool.Record, error) {
		for from, to := range mapping {
			if value, ok := record.Data[from]; ok {
				delete(record.Data, from)
				record.Data[to] = value
			}
		}
		return record, nil
	}
}

// Filter returns a transform that drops records the predicate rejects.
func Filter(keep func(*pool.Record) bool) Transform {
	return func(_ context.Context, record *pool.Record) (*pool.Record, error) {
		if keep(record) {
			return record, nil
		}
		return nil, nil
	}
}

// DropFields returns a transform that removes the named fields from every
// record, for excluding large or sensitive payload fields from the load.
func DropFields(fields ...string) Transform {
	return func(_ context.Context, record *pool.Record) (*pool.Record, error) {
		for _, field := range fields {
			delete(record.Data, field)
		}
		return record, nil
	}
}
