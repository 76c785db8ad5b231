// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package resowner implements the resource-ownership tree. An Owner
// remembers resources (locks, pins, open relations) acquired within a
// scope: a transaction, a subtransaction or a portal. Owners form a tree
// that mirrors the scopes; releasing an owner releases its children first
// and then its own resources, one phase at a time.
//
// An Owner is not safe for concurrent use. It is confined to the session
// goroutine, like the transaction that drives it.
package resowner

import (
	"context"

	"github.com/Arenadata-Labs/gpdb/pkg/util/log"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Phase is one of the ordered stages of releasing an owner.
type Phase int

const (
	// BeforeLocks releases resources that must go before locks, e.g. buffer
	// pins and executor state visible to other backends.
	BeforeLocks Phase = iota
	// Locks releases locks. On a subtransaction commit they are handed to
	// the parent owner instead.
	Locks
	// AfterLocks releases resources that must outlive the locks, e.g.
	// catalog cache references.
	AfterLocks

	numPhases
)

// Phases lists every phase in release order.
var Phases = [...]Phase{BeforeLocks, Locks, AfterLocks}

var phaseNames = [...]string{
	BeforeLocks: "before-locks",
	Locks:       "locks",
	AfterLocks:  "after-locks",
}

// String implements fmt.Stringer.
func (p Phase) String() string {
	if p < 0 || p >= numPhases {
		return "unknown"
	}
	return phaseNames[p]
}

// SafeValue implements redact.SafeValue.
func (Phase) SafeValue() {}

// Resource is anything an Owner can release.
type Resource interface {
	// Release frees the resource. isCommit is false when the releasing scope
	// aborted.
	Release(ctx context.Context, isCommit bool) error
}

// ResourceFunc adapts a function to the Resource interface.
type ResourceFunc func(ctx context.Context, isCommit bool) error

// Release implements Resource.
func (f ResourceFunc) Release(ctx context.Context, isCommit bool) error {
	return f(ctx, isCommit)
}

// Owner is a node of the resource-ownership tree.
type Owner struct {
	name      redact.SafeString
	parent    *Owner
	children  []*Owner
	resources [numPhases][]Resource
	released  [numPhases]bool
	deleted   bool
}

// NewOwner creates an owner as the last child of parent. A nil parent
// creates a root.
func NewOwner(parent *Owner, name redact.SafeString) *Owner {
	o := &Owner{name: name}
	if parent != nil {
		parent.children = append(parent.children, o)
		o.parent = parent
	}
	return o
}

// Name returns the name given to NewOwner.
func (o *Owner) Name() redact.SafeString {
	return o.name
}

// Parent returns the parent owner, or nil for a root.
func (o *Owner) Parent() *Owner {
	return o.parent
}

// NumChildren returns the number of children of o.
func (o *Owner) NumChildren() int {
	return len(o.children)
}

// NumResources returns the number of resources remembered for phase.
func (o *Owner) NumResources(phase Phase) int {
	return len(o.resources[phase])
}

// Deleted returns true once Delete has been called.
func (o *Owner) Deleted() bool {
	return o.deleted
}

// Released returns true if phase has been released.
func (o *Owner) Released(phase Phase) bool {
	return o.released[phase]
}

// SafeFormat implements redact.SafeFormatter.
func (o *Owner) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("owner %s", o.name)
}

// String implements fmt.Stringer.
func (o *Owner) String() string {
	return redact.StringWithoutMarkers(o)
}

// Remember records a resource to be released in phase.
func (o *Owner) Remember(phase Phase, r Resource) error {
	if o.deleted {
		return errors.AssertionFailedf("%s: remembering a resource in a deleted owner", o)
	}
	if o.released[phase] {
		return errors.AssertionFailedf("%s: phase %s already released", o, phase)
	}
	o.resources[phase] = append(o.resources[phase], r)
	return nil
}

// Release releases the resources of phase held by o and its descendants.
// Children are released first. When a subtransaction commits (isCommit and
// !isTopLevel), lock resources are reassigned to the parent owner instead
// of being released.
//
// Every resource is released even if an earlier one fails; the errors are
// combined.
func (o *Owner) Release(ctx context.Context, phase Phase, isCommit, isTopLevel bool) error {
	if o.deleted {
		return errors.AssertionFailedf("%s: releasing a deleted owner", o)
	}
	if o.released[phase] {
		return errors.AssertionFailedf("%s: phase %s released twice", o, phase)
	}
	var retErr error
	for _, c := range o.children {
		if c.released[phase] {
			// Children reparented here after their own release.
			continue
		}
		retErr = errors.CombineErrors(retErr, c.Release(ctx, phase, isCommit, isTopLevel))
	}
	o.released[phase] = true

	resources := o.resources[phase]
	o.resources[phase] = nil
	if phase == Locks && isCommit && !isTopLevel && o.parent != nil {
		o.parent.resources[Locks] = append(o.parent.resources[Locks], resources...)
		log.VEventf(ctx, 2, "%s: reassigned %d locks to %s", o, len(resources), o.parent)
		return retErr
	}
	// Release in reverse acquisition order.
	for i := len(resources) - 1; i >= 0; i-- {
		retErr = errors.CombineErrors(retErr, resources[i].Release(ctx, isCommit))
	}
	return retErr
}

// ReleaseAll releases every phase in order.
func (o *Owner) ReleaseAll(ctx context.Context, isCommit, isTopLevel bool) error {
	for _, phase := range Phases {
		if err := o.Release(ctx, phase, isCommit, isTopLevel); err != nil {
			return err
		}
	}
	return nil
}

// NewParent moves o, with its whole subtree, under newParent. A nil
// newParent makes o a root.
func (o *Owner) NewParent(newParent *Owner) error {
	if o.deleted {
		return errors.AssertionFailedf("%s: reparenting a deleted owner", o)
	}
	if newParent != nil && newParent.deleted {
		return errors.AssertionFailedf("%s: reparenting under deleted %s", o, newParent)
	}
	for p := newParent; p != nil; p = p.parent {
		if p == o {
			return errors.AssertionFailedf("%s: reparenting under its own descendant", o)
		}
	}
	if o.parent != nil {
		o.parent.removeChild(o)
	}
	o.parent = newParent
	if newParent != nil {
		newParent.children = append(newParent.children, o)
	}
	return nil
}

func (o *Owner) removeChild(c *Owner) {
	for i, child := range o.children {
		if child == c {
			o.children = append(o.children[:i], o.children[i+1:]...)
			return
		}
	}
}

// Delete destroys o and its subtree. Every resource must have been released
// or handed off.
func (o *Owner) Delete() error {
	if o.deleted {
		return errors.AssertionFailedf("%s: deleted twice", o)
	}
	for _, phase := range Phases {
		if n := len(o.resources[phase]); n > 0 {
			return errors.AssertionFailedf("%s: deleting with %d unreleased %s resources", o, n, phase)
		}
	}
	for len(o.children) > 0 {
		if err := o.children[0].Delete(); err != nil {
			return err
		}
	}
	if o.parent != nil {
		o.parent.removeChild(o)
		o.parent = nil
	}
	o.deleted = true
	return nil
}
