// Package entity holds the OpenWhisk-compatible data model shared by the
// store, the orchestrator and the HTTP façade.
package entity

import "time"

// Rule status values.
const (
	RuleActive   = "active"
	RuleInactive = "inactive"
)

// DefaultVersion is assigned to entities created without one.
const DefaultVersion = "0.0.1"

// ExecKindSequence marks an action whose execution is the ordered
// composition of other actions. It carries no code blob.
const ExecKindSequence = "sequence"

// Exec describes how an action executes. Either Kind names a supported
// runtime (code-bearing) or Kind is "sequence" and Components lists the
// fully-qualified component paths.
type Exec struct {
	Kind       string   `json:"kind"`
	Main       string   `json:"main,omitempty"`
	Binary     bool     `json:"binary,omitempty"`
	Image      string   `json:"image,omitempty"`
	Components []string `json:"components,omitempty"`
}

// IsSequence reports whether the descriptor is the sequence variant.
func (e Exec) IsSequence() bool { return e.Kind == ExecKindSequence }

// Limits are the per-action resource limits.
type Limits struct {
	Timeout     int `json:"timeout"`     // milliseconds
	Memory      int `json:"memory"`      // megabytes
	Logs        int `json:"logs"`        // megabytes
	Concurrency int `json:"concurrency"` // max concurrent activations
}

// DefaultLimits returns the limits applied when a PUT omits them.
func DefaultLimits() Limits {
	return Limits{Timeout: 60000, Memory: 256, Logs: 10, Concurrency: 1}
}

// Subject is an authenticated identity. Credentials are the UUID plus
// the secret key, presented as Basic uuid:key.
type Subject struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	UUID      string    `db:"uuid"`
	Key       string    `db:"key"`
	CreatedAt time.Time `db:"created_at"`
}

// Namespace is the unit of tenancy. Name is globally unique and
// immutable after creation.
type Namespace struct {
	ID          int64     `db:"id"`
	Name        string    `db:"name"`
	UUID        string    `db:"uuid"`
	OwnerID     int64     `db:"owner_id"`
	Description string    `db:"description"`
	Limits      Params    `db:"limits"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Binding points a package at another package whose content it exposes.
type Binding struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// Package groups actions under a namespace. A non-nil Binding makes the
// package a view onto the bound package; parameter inheritance is
// resolved lazily on read.
type Package struct {
	ID          int64
	NamespaceID int64
	Name        string
	Version     string
	Publish     bool
	Parameters  Params
	Annotations Params
	Binding     *Binding
	UpdatedAt   time.Time
}

// Action is the invocable unit.
type Action struct {
	ID          int64
	NamespaceID int64
	PackageID   *int64
	Name        string
	Version     string
	Publish     bool
	Exec        Exec
	Limits      Limits
	Parameters  Params
	Annotations Params
	CodeHash    string
	UpdatedAt   time.Time

	// Denormalized on resolve for FQN construction.
	Namespace   string
	PackageName string
}

// FQN returns the action's fully-qualified name.
func (a *Action) FQN() string {
	var pkg *string
	if a.PackageName != "" {
		pkg = &a.PackageName
	}
	return BuildFQN(a.Namespace, pkg, a.Name)
}

// Trigger is a named event channel. Firing it never blocks the caller
// on action completion.
type Trigger struct {
	ID          int64
	NamespaceID int64
	Name        string
	Version     string
	Publish     bool
	Parameters  Params
	Annotations Params
	Feed        string
	UpdatedAt   time.Time
}

// Rule binds a trigger to an action within one namespace.
type Rule struct {
	ID          int64
	NamespaceID int64
	TriggerID   int64
	ActionID    int64
	Name        string
	Version     string
	Status      string
	UpdatedAt   time.Time

	// Denormalized names for serialization.
	TriggerName string
	ActionName  string
}

// Response is the activation result envelope. Result carries whatever
// JSON value the action returned; it is not restricted to an object.
type Response struct {
	Success bool `json:"success"`
	Result  any  `json:"result"`
}

// Activation records one execution attempt. End and Duration are nil
// while the activation is pending; they are set exactly once on
// finalize with Duration = End - Start.
type Activation struct {
	ActivationID string
	NamespaceID  int64
	Namespace    string
	Name         string
	Version      string
	Subject      string
	Start        int64
	End          *int64
	Duration     *int64
	StatusCode   int
	Response     Response
	Logs         []string
	Annotations  Params
	Cause        string
	Publish      bool
}

// Finalized reports whether the activation has reached a terminal state.
func (a *Activation) Finalized() bool { return a.End != nil }
