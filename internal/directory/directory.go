// Package directory is the narrow port to the external org directory.
//
// The engine never manages departments or users; it only resolves a
// department to its head at fan-out time. Keeping the port minimal lets the
// fan-out logic be tested without any directory backend.
package directory

import (
	"context"
	"sync"

	id "attest/pkg/domain"
	"attest/pkg/platform/sentinel"
)

// Head is the resolved department head, with just enough identity for
// notification and reporting.
type Head struct {
	UserID         id.UserID
	Name           string
	Email          string
	DepartmentName string
}

// Directory resolves departments to their heads.
type Directory interface {
	// HeadOf returns the department's head. Returns sentinel.ErrNotFound
	// (possibly wrapped) when the department exists but has no head
	// assigned, or does not exist at all.
	HeadOf(ctx context.Context, departmentID id.DepartmentID) (*Head, error)
}

// Static is a seedable in-memory Directory for development and tests.
type Static struct {
	mu    sync.RWMutex
	heads map[id.DepartmentID]Head
}

func NewStatic() *Static {
	return &Static{heads: make(map[id.DepartmentID]Head)}
}

// Assign sets the head for a department.
func (s *Static) Assign(departmentID id.DepartmentID, head Head) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heads[departmentID] = head
}

// Unassign removes a department's head.
func (s *Static) Unassign(departmentID id.DepartmentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.heads, departmentID)
}

func (s *Static) HeadOf(_ context.Context, departmentID id.DepartmentID) (*Head, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	head, ok := s.heads[departmentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &head, nil
}
