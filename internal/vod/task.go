// Package vod implements the video processing pipeline: fastify, preview,
// thumbnail, staged clip and delete stages driven by broker tasks.
package vod

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	TypeProcess            = "Process"
	TypeGeneratePreview    = "GeneratePreview"
	TypeGenerateThumbnail  = "GenerateThumbnail"
	TypeGenerateStagedClip = "GenerateStagedClip"
	TypeDelete             = "Delete"
)

var ErrUnknownTask = errors.New("vod: unknown task type")

// Task is one unit of pipeline work. The set of implementations is closed.
type Task interface {
	Type() string
	task()
}

type ProcessTask struct {
	VodUUID   uuid.UUID `json:"vod_uuid"`
	SessionID *string   `json:"session_id,omitempty"`
	ID        *string   `json:"id,omitempty"`
}

type GeneratePreviewTask struct {
	VodUUID uuid.UUID `json:"vod_uuid"`
}

type GenerateThumbnailTask struct {
	VodUUID uuid.UUID `json:"vod_uuid"`
}

type GenerateStagedClipTask struct {
	ClipID int64 `json:"clip_id"`
}

type DeleteTask struct {
	VodUUIDs []uuid.UUID `json:"vod_uuids"`
}

func (ProcessTask) Type() string            { return TypeProcess }
func (GeneratePreviewTask) Type() string    { return TypeGeneratePreview }
func (GenerateThumbnailTask) Type() string  { return TypeGenerateThumbnail }
func (GenerateStagedClipTask) Type() string { return TypeGenerateStagedClip }
func (DeleteTask) Type() string             { return TypeDelete }

func (ProcessTask) task()            {}
func (GeneratePreviewTask) task()    {}
func (GenerateThumbnailTask) task()  {}
func (GenerateStagedClipTask) task() {}
func (DeleteTask) task()             {}

// MetadataID is the quality id the task targets.
func (t ProcessTask) MetadataID() string {
	if t.ID == nil || *t.ID == "" {
		return DefaultMetadataID
	}
	return *t.ID
}

func (t ProcessTask) Session() string {
	if t.SessionID == nil {
		return ""
	}
	return *t.SessionID
}

// EncodeTask produces the wire form: the task's fields plus a "type" key.
func EncodeTask(t Task) ([]byte, error) {
	fields, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t.Type(), err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(fields, &m); err != nil {
		return nil, fmt.Errorf("encode %s: %w", t.Type(), err)
	}
	typ, _ := json.Marshal(t.Type())
	m["type"] = typ
	return json.Marshal(m)
}

// DecodeTask maps the "type" discriminant straight to a concrete task.
func DecodeTask(data []byte) (Task, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}

	var (
		t   Task
		err error
	)
	switch envelope.Type {
	case TypeProcess:
		var v ProcessTask
		err = json.Unmarshal(data, &v)
		t = v
	case TypeGeneratePreview:
		var v GeneratePreviewTask
		err = json.Unmarshal(data, &v)
		t = v
	case TypeGenerateThumbnail:
		var v GenerateThumbnailTask
		err = json.Unmarshal(data, &v)
		t = v
	case TypeGenerateStagedClip:
		var v GenerateStagedClipTask
		err = json.Unmarshal(data, &v)
		t = v
	case TypeDelete:
		var v DeleteTask
		err = json.Unmarshal(data, &v)
		t = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, envelope.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
	}
	return t, nil
}
