package persistence

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/petrijr/orderflow/pkg/api"
)

// EncodePayload serializes a value for storage in a history event.
// json.RawMessage and []byte values are taken as already-encoded JSON.
func EncodePayload(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return compact(t)
	case []byte:
		return compact(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// DecodePayload decodes a stored payload into T. An empty payload yields
// the zero value.
func DecodePayload[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	err := json.Unmarshal(raw, &out)
	return out, err
}

// SamePayload reports whether two encoded payloads are equal ignoring
// insignificant whitespace.
func SamePayload(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	ca, errA := compact(a)
	cb, errB := compact(b)
	if errA != nil || errB != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca, cb)
}

func compact(raw []byte) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}

// eventRecord is the serialized form of a history event in document and
// key-value stores.
type eventRecord struct {
	InstanceID   string `json:"instance_id" bson:"instance_id"`
	Seq          int64  `json:"seq" bson:"seq"`
	Type         string `json:"type" bson:"type"`
	At           int64  `json:"at" bson:"at"`
	Workflow     string `json:"workflow,omitempty" bson:"workflow,omitempty"`
	ActivityName string `json:"activity_name,omitempty" bson:"activity_name,omitempty"`
	ActivityCall int    `json:"activity_call" bson:"activity_call"`
	Payload      []byte `json:"payload,omitempty" bson:"payload,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty" bson:"error_kind,omitempty"`
	Error        string `json:"error,omitempty" bson:"error,omitempty"`
}

func toEventRecord(ev api.HistoryEvent) eventRecord {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return eventRecord{
		InstanceID:   ev.InstanceID,
		Seq:          ev.Seq,
		Type:         string(ev.Type),
		At:           at.UnixNano(),
		Workflow:     ev.Workflow,
		ActivityName: ev.ActivityName,
		ActivityCall: ev.ActivityCall,
		Payload:      append([]byte(nil), ev.Payload...),
		ErrorKind:    string(ev.ErrorKind),
		Error:        ev.Error,
	}
}

func (r eventRecord) event() api.HistoryEvent {
	ev := api.HistoryEvent{
		InstanceID:   r.InstanceID,
		Seq:          r.Seq,
		Type:         api.EventType(r.Type),
		At:           time.Unix(0, r.At).UTC(),
		Workflow:     r.Workflow,
		ActivityName: r.ActivityName,
		ActivityCall: r.ActivityCall,
		ErrorKind:    api.ErrorKind(r.ErrorKind),
		Error:        r.Error,
	}
	if len(r.Payload) > 0 {
		ev.Payload = json.RawMessage(r.Payload)
	}
	return ev
}

// instanceRecord is the serialized form of a status index entry.
type instanceRecord struct {
	ID        string `json:"id" bson:"_id"`
	Workflow  string `json:"workflow" bson:"workflow"`
	Status    string `json:"status" bson:"status"`
	Input     []byte `json:"input,omitempty" bson:"input,omitempty"`
	Result    []byte `json:"result,omitempty" bson:"result,omitempty"`
	Error     string `json:"error,omitempty" bson:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty" bson:"error_kind,omitempty"`
	LastSeq   int64  `json:"last_seq" bson:"last_seq"`
	CreatedAt int64  `json:"created_at" bson:"created_at"`
	UpdatedAt int64  `json:"updated_at" bson:"updated_at"`
}

func toInstanceRecord(inst *api.WorkflowInstance) instanceRecord {
	return instanceRecord{
		ID:        inst.ID,
		Workflow:  inst.Workflow,
		Status:    string(inst.Status),
		Input:     []byte(inst.Input),
		Result:    []byte(inst.Result),
		Error:     inst.Error,
		ErrorKind: string(inst.ErrorKind),
		LastSeq:   inst.LastSeq,
		CreatedAt: unixNanos(inst.CreatedAt),
		UpdatedAt: unixNanos(inst.UpdatedAt),
	}
}

func (r instanceRecord) instance() *api.WorkflowInstance {
	inst := &api.WorkflowInstance{
		ID:        r.ID,
		Workflow:  r.Workflow,
		Status:    api.Status(r.Status),
		Error:     r.Error,
		ErrorKind: api.ErrorKind(r.ErrorKind),
		LastSeq:   r.LastSeq,
		CreatedAt: fromUnixNanos(r.CreatedAt),
		UpdatedAt: fromUnixNanos(r.UpdatedAt),
	}
	if len(r.Input) > 0 {
		inst.Input = json.RawMessage(r.Input)
	}
	if len(r.Result) > 0 {
		inst.Result = json.RawMessage(r.Result)
	}
	return inst
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const instanceColumns = `id, workflow, status, input, result, error, error_kind, last_seq, created_at, updated_at`

func scanInstance(row rowScanner) (*api.WorkflowInstance, error) {
	var r instanceRecord
	if err := row.Scan(&r.ID, &r.Workflow, &r.Status, &r.Input, &r.Result, &r.Error, &r.ErrorKind, &r.LastSeq, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return r.instance(), nil
}

const eventColumns = `instance_id, seq, type, at, workflow, activity_name, activity_call, payload, error_kind, error`

func scanEvent(row rowScanner) (api.HistoryEvent, error) {
	var r eventRecord
	if err := row.Scan(&r.InstanceID, &r.Seq, &r.Type, &r.At, &r.Workflow, &r.ActivityName, &r.ActivityCall, &r.Payload, &r.ErrorKind, &r.Error); err != nil {
		return api.HistoryEvent{}, err
	}
	return r.event(), nil
}
