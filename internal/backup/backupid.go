// Package backup orchestrates backup, restore, list and delete against an
// object store, encrypting and decrypting archives in transit.
package backup

import (
	"fmt"
	"regexp"
	"time"
)

// backupIDLayout is the timestamp layout backup identifiers are built from.
// Fixed-width digits make lexical order equal chronological order.
const backupIDLayout = "20060102150405"

var backupIDPattern = regexp.MustCompile(`^\d{14}$`)

// NewBackupID derives a backup identifier from the given time in UTC.
func NewBackupID(t time.Time) string {
	return t.UTC().Format(backupIDLayout)
}

// ParseBackupID returns the creation time encoded in a backup identifier.
func ParseBackupID(id string) (time.Time, error) {
	if !backupIDPattern.MatchString(id) {
		return time.Time{}, fmt.Errorf("invalid backup id %q", id)
	}
	t, err := time.ParseInLocation(backupIDLayout, id, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid backup id %q: %w", id, err)
	}
	return t, nil
}
