package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Snapshot is a rendered image of a room's canvas, numbered per room.
type Snapshot struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RoomID      primitive.ObjectID `bson:"roomId" json:"roomId"`
	Version     int                `bson:"version" json:"version"`
	ImageData   string             `bson:"imageData" json:"imageData"`
	Thumbnail   string             `bson:"thumbnail,omitempty" json:"thumbnail,omitempty"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	CreatedBy   primitive.ObjectID `bson:"createdBy" json:"createdBy"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
}

// CreateSnapshotRequest is the body of POST /api/canvas/{roomId}/snapshots.
type CreateSnapshotRequest struct {
	ImageData     string `json:"imageData"`
	ThumbnailData string `json:"thumbnailData"`
	Description   string `json:"description"`
}
