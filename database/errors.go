package database

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicateOperation is returned when (roomId, opId) already exists.
	ErrDuplicateOperation = errors.New("duplicate operation")
	// ErrDuplicateKey is returned for other unique index violations.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrStorageUnavailable is returned when MongoDB cannot be reached in time.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrMemberExists is returned when adding a user who already has access.
	ErrMemberExists = errors.New("user already has access to room")
)

// classify maps driver errors onto the package sentinels. dup is used for
// unique index violations.
func classify(err, dup error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return dup
	case isUnavailable(err):
		return errors.Join(ErrStorageUnavailable, err)
	}
	return err
}

func isUnavailable(err error) bool {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}
	var sse topology.ServerSelectionError
	return errors.As(err, &sse)
}
