package vod

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	DefaultMetadataID = "source"

	FastifySegment   = "fastify.mp4"
	PreviewSegment   = "preview.mp4"
	ThumbnailSegment = "thumbnail.jpg"

	containerMPEGTS = "mpegts"
)

// SegmentID addresses one object of a VOD in its bucket.
type SegmentID struct {
	VideoUUID uuid.UUID
	Quality   string
	Segment   string
}

func NewSegmentID(videoUUID uuid.UUID, segment string) SegmentID {
	return SegmentID{VideoUUID: videoUUID, Quality: DefaultMetadataID, Segment: segment}
}

// Key is the object key: <video_uuid>/<quality>/<segment>.
func (s SegmentID) Key() string {
	return fmt.Sprintf("%s/%s/%s", s.VideoUUID, s.Quality, s.Segment)
}

func (s SegmentID) String() string {
	return s.Key()
}

// SourceSegment is the name of the raw upload for a container format.
func SourceSegment(container string) string {
	return "video." + containerExtension(container)
}

func containerExtension(container string) string {
	if container == containerMPEGTS {
		return "ts"
	}
	return "mp4"
}

func ContainerMIME(container string) string {
	if container == containerMPEGTS {
		return "video/mp2t"
	}
	return "video/mp4"
}
