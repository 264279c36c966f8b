package render

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrQuotaExceeded means the requester's email already owns the maximum
// number of rendered artifacts.
var ErrQuotaExceeded = errors.New("render: quota exceeded")

// Quota counts previously rendered artifacts under an email's output
// directory. The count is a plain directory listing taken once before the
// render starts, not a reservation: two concurrent requests for the same
// email can both pass the check. Accepted for a low-traffic service.
type Quota struct {
	outputRoot string
	limit      int
}

func NewQuota(outputRoot string, limit int) *Quota {
	return &Quota{outputRoot: outputRoot, limit: limit}
}

// Check returns ErrQuotaExceeded when the email's directory already holds
// the ceiling of artifacts. A directory that does not exist yet counts as
// zero prior artifacts.
func (q *Quota) Check(email string) error {
	count, err := q.Count(email)
	if err != nil {
		return err
	}
	if count >= q.limit {
		return ErrQuotaExceeded
	}
	return nil
}

// Count reports how many artifacts the email's directory holds.
func (q *Quota) Count(email string) (int, error) {
	entries, err := os.ReadDir(filepath.Join(q.outputRoot, email))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("list output directory: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), artifactExt) {
			count++
		}
	}
	return count, nil
}
