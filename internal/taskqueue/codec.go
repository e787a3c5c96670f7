package taskqueue

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
)

var errMalformedTask = errors.New("malformed task")

// EncodeTask serializes t for the queues that store opaque payloads
// (Redis, Postgres, MongoDB).
func EncodeTask(t Task) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(t); err != nil {
		return nil, fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return buf.Bytes(), nil
}

// DecodeTask is the inverse of EncodeTask. A run-instance task without an
// instance ID is rejected.
func DecodeTask(data []byte) (*Task, error) {
	t := new(Task)
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	if t.Type == TaskTypeRunInstance && t.InstanceID == "" {
		return nil, fmt.Errorf("%w: %s has no instance id", errMalformedTask, t.ID)
	}
	return t, nil
}
