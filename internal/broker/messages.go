package broker

import (
	"encoding/json"
	"strconv"

	"github.com/go-faster/errors"

	"github.com/penguinwhisk/controller/internal/entity"
)

// Stream names and their consumer groups. Streams may additionally be
// prefixed per deployment (STREAM_PREFIX).
const (
	StreamInvocations = "invocations"
	StreamResults     = "activations_results"
	StreamHeartbeats  = "heartbeats"

	GroupInvokers    = "invokers"
	GroupControllers = "controllers"
	GroupMonitors    = "monitors"
)

// CodeRef locates an action's code blob in the object store.
type CodeRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Hash   string `json:"hash"`
}

// ActionSpec is the action descriptor carried inside an invocation
// message. It gives the invoker everything needed to run the action
// without a round-trip back to the controller.
type ActionSpec struct {
	Name       string        `json:"name"` // fully qualified
	Namespace  string        `json:"namespace"`
	Version    string        `json:"version"`
	Kind       string        `json:"kind"`
	Image      string        `json:"image,omitempty"`
	Main       string        `json:"main,omitempty"`
	Binary     bool          `json:"binary,omitempty"`
	Code       CodeRef       `json:"code"`
	Limits     entity.Limits `json:"limits"`
	Parameters entity.Params `json:"parameters,omitempty"`
}

// Invocation is the message appended to the invocations stream.
type Invocation struct {
	ActivationID    string
	Action          ActionSpec
	Params          entity.Params
	Blocking        bool
	ResponseChannel string
	Deadline        int64 // epoch ms
	Namespace       string
	Subject         string
	AuthKey         string
	Cause           string
	Timestamp       int64 // epoch ms
}

// Fields encodes the invocation as flat string fields for XADD.
func (m Invocation) Fields() (map[string]any, error) {
	action, err := json.Marshal(m.Action)
	if err != nil {
		return nil, errors.Wrap(err, "marshal action spec")
	}
	params, err := json.Marshal(m.Params)
	if err != nil {
		return nil, errors.Wrap(err, "marshal params")
	}
	fields := map[string]any{
		"activation_id":    m.ActivationID,
		"action":           m.Action.Name,
		"action_spec":      string(action),
		"params":           string(params),
		"blocking":         strconv.FormatBool(m.Blocking),
		"response_channel": m.ResponseChannel,
		"deadline":         strconv.FormatInt(m.Deadline, 10),
		"namespace":        m.Namespace,
		"subject":          m.Subject,
		"timestamp":        strconv.FormatInt(m.Timestamp, 10),
	}
	if m.AuthKey != "" {
		fields["auth_key"] = m.AuthKey
	}
	if m.Cause != "" {
		fields["cause"] = m.Cause
	}
	return fields, nil
}

// ParseInvocation decodes stream fields back into an Invocation.
func ParseInvocation(fields map[string]string) (Invocation, error) {
	var m Invocation
	m.ActivationID = fields["activation_id"]
	if m.ActivationID == "" {
		return m, errors.New("invocation message missing activation_id")
	}
	if raw := fields["action_spec"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Action); err != nil {
			return m, errors.Wrap(err, "unmarshal action spec")
		}
	}
	if raw := fields["params"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Params); err != nil {
			return m, errors.Wrap(err, "unmarshal params")
		}
	}
	m.Blocking = fields["blocking"] == "true"
	m.ResponseChannel = fields["response_channel"]
	m.Deadline, _ = strconv.ParseInt(fields["deadline"], 10, 64)
	m.Namespace = fields["namespace"]
	m.Subject = fields["subject"]
	m.AuthKey = fields["auth_key"]
	m.Cause = fields["cause"]
	m.Timestamp, _ = strconv.ParseInt(fields["timestamp"], 10, 64)
	return m, nil
}

// Result is the message invokers append to the results stream after an
// execution attempt.
type Result struct {
	ActivationID string
	StatusCode   int
	Response     entity.Response
	Logs         []string
	Duration     int64 // ms
	End          int64 // epoch ms, optional
	InvokerID    string
	Annotations  entity.Params
}

// Fields encodes the result for XADD.
func (m Result) Fields() (map[string]any, error) {
	response, err := json.Marshal(m.Response)
	if err != nil {
		return nil, errors.Wrap(err, "marshal response")
	}
	logs, err := json.Marshal(m.Logs)
	if err != nil {
		return nil, errors.Wrap(err, "marshal logs")
	}
	fields := map[string]any{
		"activation_id": m.ActivationID,
		"status_code":   strconv.Itoa(m.StatusCode),
		"response":      string(response),
		"logs":          string(logs),
		"duration":      strconv.FormatInt(m.Duration, 10),
		"invoker_id":    m.InvokerID,
	}
	if m.End != 0 {
		fields["end"] = strconv.FormatInt(m.End, 10)
	}
	if len(m.Annotations) > 0 {
		annotations, err := json.Marshal(m.Annotations)
		if err != nil {
			return nil, errors.Wrap(err, "marshal annotations")
		}
		fields["annotations"] = string(annotations)
	}
	return fields, nil
}

// ParseResult decodes stream fields back into a Result.
func ParseResult(fields map[string]string) (Result, error) {
	var m Result
	m.ActivationID = fields["activation_id"]
	if m.ActivationID == "" {
		return m, errors.New("result message missing activation_id")
	}
	m.StatusCode, _ = strconv.Atoi(fields["status_code"])
	if raw := fields["response"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Response); err != nil {
			return m, errors.Wrap(err, "unmarshal response")
		}
	}
	if raw := fields["logs"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Logs); err != nil {
			return m, errors.Wrap(err, "unmarshal logs")
		}
	}
	m.Duration, _ = strconv.ParseInt(fields["duration"], 10, 64)
	m.End, _ = strconv.ParseInt(fields["end"], 10, 64)
	m.InvokerID = fields["invoker_id"]
	if raw := fields["annotations"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Annotations); err != nil {
			return m, errors.Wrap(err, "unmarshal annotations")
		}
	}
	return m, nil
}

// Capacity describes an invoker's resources as reported in heartbeats.
type Capacity struct {
	TotalMemory       int      `json:"total_memory"`
	AvailableMemory   int      `json:"available_memory"`
	WarmContainers    int      `json:"warm"`
	BusyContainers    int      `json:"busy"`
	PrewarmContainers int      `json:"prewarm"`
	SupportedRuntimes []string `json:"supported_runtimes"`
}

// Heartbeat is the liveness message invokers publish every few seconds.
type Heartbeat struct {
	InvokerID string
	Timestamp int64 // epoch ms
	Capacity  Capacity
	Status    string // healthy, unhealthy, draining
}

// Fields encodes the heartbeat for XADD.
func (m Heartbeat) Fields() (map[string]any, error) {
	capacity, err := json.Marshal(m.Capacity)
	if err != nil {
		return nil, errors.Wrap(err, "marshal capacity")
	}
	return map[string]any{
		"invoker_id": m.InvokerID,
		"timestamp":  strconv.FormatInt(m.Timestamp, 10),
		"capacity":   string(capacity),
		"status":     m.Status,
	}, nil
}

// ParseHeartbeat decodes stream fields back into a Heartbeat.
func ParseHeartbeat(fields map[string]string) (Heartbeat, error) {
	var m Heartbeat
	m.InvokerID = fields["invoker_id"]
	if m.InvokerID == "" {
		return m, errors.New("heartbeat message missing invoker_id")
	}
	m.Timestamp, _ = strconv.ParseInt(fields["timestamp"], 10, 64)
	if raw := fields["capacity"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Capacity); err != nil {
			return m, errors.Wrap(err, "unmarshal capacity")
		}
	}
	m.Status = fields["status"]
	if m.Status == "" {
		m.Status = "healthy"
	}
	return m, nil
}
