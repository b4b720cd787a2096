// Package storage archives raw purchase receipts. R2 is used in production;
// the local backend serves development and tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("object not found")

// Storage is the archive contract shared by the R2 and local backends.
// Receipts are write-once, so there is no delete.
type Storage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// ReceiptKey builds the archive key for a purchase receipt.
// Keys are grouped by platform so lifecycle rules can target one store.
func ReceiptKey(platform, transactionID string) (string, error) {
	platform = strings.TrimSpace(platform)
	transactionID = strings.TrimSpace(transactionID)
	if platform == "" || transactionID == "" {
		return "", fmt.Errorf("receipt key: platform and transaction id are required")
	}
	if strings.ContainsAny(transactionID, `/\`) || strings.Contains(transactionID, "..") {
		return "", fmt.Errorf("receipt key: invalid transaction id %q", transactionID)
	}
	return path.Join("receipts", platform, transactionID+".txt"), nil
}
