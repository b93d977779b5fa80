package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	id "attest/pkg/domain"
	"attest/pkg/email"
)

// fileEntry is one seeded department head assignment.
type fileEntry struct {
	DepartmentID   string `json:"department_id"`
	DepartmentName string `json:"department_name"`
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
}

// LoadFile builds a Static directory from a JSON seed file. The file holds an
// array of head assignments; a missing name is derived from the email address.
func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}

	var entries []fileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse directory file %s: %w", path, err)
	}

	dir := NewStatic()
	for i, entry := range entries {
		deptID, err := id.ParseDepartmentID(entry.DepartmentID)
		if err != nil {
			return nil, fmt.Errorf("directory file entry %d: department_id: %w", i, err)
		}
		userID, err := id.ParseUserID(entry.UserID)
		if err != nil {
			return nil, fmt.Errorf("directory file entry %d: user_id: %w", i, err)
		}
		if entry.Email == "" {
			return nil, fmt.Errorf("directory file entry %d: email is required", i)
		}
		name := entry.Name
		if name == "" {
			first, last := email.DeriveNameFromEmail(entry.Email)
			name = strings.TrimSpace(first + " " + last)
		}
		dir.Assign(deptID, Head{
			UserID:         userID,
			Name:           name,
			Email:          entry.Email,
			DepartmentName: entry.DepartmentName,
		})
	}
	return dir, nil
}
