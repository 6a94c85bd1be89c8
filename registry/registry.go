// Package registry resolves the node identity of a generator from an external
// store of static assignments.
//
// An assignment maps a (service, instance) pair to a data center and worker id.
// Assignments are provisioned by the operator; sources only read them, so two
// instances never end up with the same ids unless the store says so.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lzww0608/gflake"
)

var (
	// ErrNotAssigned indicates that the store has no assignment for the instance
	ErrNotAssigned = errors.New("registry: no node assignment")

	// ErrInvalidAssignment indicates a stored assignment that cannot be decoded
	// or has negative ids
	ErrInvalidAssignment = errors.New("registry: invalid node assignment")
)

// Assignment is the data center and worker id stored for one instance
type Assignment struct {
	DataCenter int64 `json:"data_center"`
	Worker     int64 `json:"worker"`
}

// Validate rejects negative ids. Range checks against a layout happen in
// gflake.NewNodeIdentity.
func (a Assignment) Validate() error {
	if a.DataCenter < 0 || a.Worker < 0 {
		return fmt.Errorf("%w: negative id in %+v", ErrInvalidAssignment, a)
	}
	return nil
}

// Source looks up assignments
type Source interface {
	Lookup(ctx context.Context, service, instance string) (Assignment, error)
}

// Identity looks up the assignment of service/instance in src and builds a
// node identity for layout.
func Identity(ctx context.Context, src Source, layout gflake.BitLayout, service, instance string, policy gflake.OverflowPolicy) (gflake.NodeIdentity, error) {
	a, err := src.Lookup(ctx, service, instance)
	if err != nil {
		return gflake.NodeIdentity{}, err
	}
	if err := a.Validate(); err != nil {
		return gflake.NodeIdentity{}, err
	}
	return gflake.NewNodeIdentity(layout, a.DataCenter, a.Worker, policy)
}
