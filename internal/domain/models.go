// Package domain defines the plain data shared between the storage layer,
// the session host and the CLI.
package domain

import (
	"strings"
	"time"
)

// RecordExt is the file extension of a stored vault record.
const RecordExt = ".ANCRYPT"

// VaultInfo describes a stored vault without opening it.
type VaultInfo struct {
	Name       string    `json:"name" yaml:"name"`
	Location   string    `json:"location" yaml:"location"`
	Size       int64     `json:"size" yaml:"size"`
	ModifiedAt time.Time `json:"modified_at" yaml:"modified_at"`
}

// FileName returns the record file name for a vault name.
func FileName(name string) string {
	return name + RecordExt
}

// VaultName strips RecordExt from a record file name. ok is false when the
// file is not a vault record.
func VaultName(fileName string) (name string, ok bool) {
	name, ok = strings.CutSuffix(fileName, RecordExt)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
