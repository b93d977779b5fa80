// Package domain holds identifier primitives shared across modules.
//
// Each aggregate gets its own UUID-backed type so a RunID can never be passed
// where a RecipientID is expected. Parse functions validate at the boundary;
// everything past the boundary works with typed values.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type (
	// RunID identifies a compliance run definition.
	RunID uuid.UUID
	// QuestionID identifies a question within a run.
	QuestionID uuid.UUID
	// DepartmentID identifies a department in the external directory.
	DepartmentID uuid.UUID
	// UserID identifies a user in the external directory.
	UserID uuid.UUID
	// RecipientID identifies one department head's survey assignment.
	RecipientID uuid.UUID
	// ResponseID identifies a stored answer.
	ResponseID uuid.UUID
)

// NewRunID returns a fresh random run identifier.
func NewRunID() RunID { return RunID(uuid.New()) }

// NewQuestionID returns a fresh random question identifier.
func NewQuestionID() QuestionID { return QuestionID(uuid.New()) }

// NewRecipientID returns a fresh random recipient identifier.
func NewRecipientID() RecipientID { return RecipientID(uuid.New()) }

// NewResponseID returns a fresh random response identifier.
func NewResponseID() ResponseID { return ResponseID(uuid.New()) }

// NewDepartmentID returns a fresh random department identifier. Department
// ids normally originate in the external directory; minting is for tests
// and seeded development directories.
func NewDepartmentID() DepartmentID { return DepartmentID(uuid.New()) }

// NewUserID returns a fresh random user identifier. See NewDepartmentID.
func NewUserID() UserID { return UserID(uuid.New()) }

func (id RunID) String() string        { return uuid.UUID(id).String() }
func (id QuestionID) String() string   { return uuid.UUID(id).String() }
func (id DepartmentID) String() string { return uuid.UUID(id).String() }
func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id RecipientID) String() string  { return uuid.UUID(id).String() }
func (id ResponseID) String() string   { return uuid.UUID(id).String() }

func (id RunID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id QuestionID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id DepartmentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id RecipientID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ResponseID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// MarshalText implementations keep JSON payloads and URL parameters on the
// canonical UUID string form.
func (id RunID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id QuestionID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id DepartmentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id UserID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id RecipientID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id ResponseID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }

func (id *RunID) UnmarshalText(b []byte) error        { return unmarshalID((*uuid.UUID)(id), b) }
func (id *QuestionID) UnmarshalText(b []byte) error   { return unmarshalID((*uuid.UUID)(id), b) }
func (id *DepartmentID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(id), b) }
func (id *UserID) UnmarshalText(b []byte) error       { return unmarshalID((*uuid.UUID)(id), b) }
func (id *RecipientID) UnmarshalText(b []byte) error  { return unmarshalID((*uuid.UUID)(id), b) }
func (id *ResponseID) UnmarshalText(b []byte) error   { return unmarshalID((*uuid.UUID)(id), b) }

func unmarshalID(dst *uuid.UUID, b []byte) error {
	parsed, err := uuid.Parse(string(b))
	if err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	*dst = parsed
	return nil
}

// ParseRunID validates and converts a string into a RunID.
func ParseRunID(s string) (RunID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RunID{}, fmt.Errorf("invalid run id: %w", err)
	}
	return RunID(u), nil
}

// ParseQuestionID validates and converts a string into a QuestionID.
func ParseQuestionID(s string) (QuestionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return QuestionID{}, fmt.Errorf("invalid question id: %w", err)
	}
	return QuestionID(u), nil
}

// ParseDepartmentID validates and converts a string into a DepartmentID.
func ParseDepartmentID(s string) (DepartmentID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return DepartmentID{}, fmt.Errorf("invalid department id: %w", err)
	}
	return DepartmentID(u), nil
}

// ParseUserID validates and converts a string into a UserID.
func ParseUserID(s string) (UserID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, fmt.Errorf("invalid user id: %w", err)
	}
	return UserID(u), nil
}

// ParseResponseID validates and converts a string into a ResponseID.
func ParseResponseID(s string) (ResponseID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ResponseID{}, fmt.Errorf("invalid response id: %w", err)
	}
	return ResponseID(u), nil
}

// ParseRecipientID validates and converts a string into a RecipientID.
func ParseRecipientID(s string) (RecipientID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RecipientID{}, fmt.Errorf("invalid recipient id: %w", err)
	}
	return RecipientID(u), nil
}
