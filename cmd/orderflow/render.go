package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/petrijr/orderflow/pkg/api"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func validFormat(f string) bool {
	return f == formatText || f == formatJSON
}

func errInvalidFormat(f string) error {
	return fmt.Errorf("invalid format %q: must be one of [%s %s]", f, formatText, formatJSON)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderStatus(w io.Writer, inst *api.WorkflowInstance, format string) error {
	if format == formatJSON {
		return writeJSON(w, inst)
	}

	line := func(label, value string) {
		fmt.Fprintf(w, "%-9s %s\n", label, value)
	}
	line("instance", inst.ID)
	line("workflow", inst.Workflow)
	line("status", string(inst.Status))
	if inst.Status.IsTerminal() && len(inst.Result) > 0 {
		line("result", string(inst.Result))
	}
	if inst.Status == api.StatusFailed {
		line("error", fmt.Sprintf("%s: %s", inst.ErrorKind, inst.Error))
	}
	line("events", fmt.Sprint(inst.LastSeq))
	line("created", inst.CreatedAt.UTC().Format(time.RFC3339))
	line("updated", inst.UpdatedAt.UTC().Format(time.RFC3339))
	return nil
}

// renderHistory prints one line per event in log order.
func renderHistory(w io.Writer, events []api.HistoryEvent, format string) error {
	if format == formatJSON {
		return writeJSON(w, events)
	}
	for _, ev := range events {
		fmt.Fprintf(w, "%4d  %s  %-17s  %s\n",
			ev.Seq,
			ev.At.UTC().Format(time.RFC3339),
			ev.Type,
			eventDetail(ev),
		)
	}
	return nil
}

func eventDetail(ev api.HistoryEvent) string {
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+value)
		}
	}

	switch ev.Type {
	case api.EventInstanceCreated:
		add("workflow", ev.Workflow)
		add("input", string(ev.Payload))
	case api.EventActivityScheduled:
		add("call", fmt.Sprint(ev.ActivityCall))
		add("activity", ev.ActivityName)
		add("request", string(ev.Payload))
	case api.EventActivityCompleted:
		add("call", fmt.Sprint(ev.ActivityCall))
		add("activity", ev.ActivityName)
		add("result", string(ev.Payload))
	case api.EventActivityFailed:
		add("call", fmt.Sprint(ev.ActivityCall))
		add("activity", ev.ActivityName)
		add("kind", string(ev.ErrorKind))
		add("error", fmt.Sprintf("%q", ev.Error))
	case api.EventInstanceCompleted:
		add("result", string(ev.Payload))
	case api.EventInstanceFailed:
		add("kind", string(ev.ErrorKind))
		add("error", fmt.Sprintf("%q", ev.Error))
		add("result", string(ev.Payload))
	}
	return strings.Join(parts, " ")
}
