// Package activation owns the activation record lifecycle: open a
// pending record before an invocation is published, finalize it exactly
// once when a result arrives, and let blocking callers await the result
// off the results stream.
package activation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/penguinwhisk/controller/internal/broker"
	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/store"
	"github.com/penguinwhisk/controller/internal/werr"
)

// Manager opens, finalizes and awaits activations.
type Manager struct {
	store  *store.Store
	broker *broker.Client
	log    *zap.Logger
}

// New builds a Manager.
func New(st *store.Store, br *broker.Client, log *zap.Logger) *Manager {
	return &Manager{store: st, broker: br, log: log}
}

// OpenSpec describes the activation to record.
type OpenSpec struct {
	NamespaceID int64
	Namespace   string
	Name        string // fully qualified entity path within the namespace
	Version     string
	Subject     string
	Cause       string
	Annotations entity.Params
}

// Open writes a pending activation record and returns it. The record
// is durable before any invocation message referencing it exists, so a
// crash in between leaves a pending activation, never a dangling
// message.
func (m *Manager) Open(ctx context.Context, spec OpenSpec) (*entity.Activation, error) {
	act := &entity.Activation{
		ActivationID: uuid.NewString(),
		NamespaceID:  spec.NamespaceID,
		Namespace:    spec.Namespace,
		Name:         spec.Name,
		Version:      spec.Version,
		Subject:      spec.Subject,
		Start:        time.Now().UnixMilli(),
		Logs:         []string{},
		Annotations:  spec.Annotations,
		Cause:        spec.Cause,
	}
	if act.Version == "" {
		act.Version = entity.DefaultVersion
	}
	if act.Annotations == nil {
		act.Annotations = entity.Params{}
	}
	if err := m.store.CreateActivation(ctx, act); err != nil {
		return nil, err
	}
	return act, nil
}

// Finalize records a result against a pending activation. Repeat calls
// for the same activation are no-ops; the first writer wins.
func (m *Manager) Finalize(ctx context.Context, activationID string, res broker.Result) (bool, error) {
	end := res.End
	if end == 0 {
		end = time.Now().UnixMilli()
	}
	updated, err := m.store.FinalizeActivation(ctx, activationID, end, res.StatusCode, &res.Response, res.Logs, res.Annotations)
	if err != nil {
		return false, err
	}
	if !updated {
		m.log.Debug("activation already finalized", zap.String("activation", activationID))
	}
	return updated, nil
}

// FinalizeError closes an activation with a synthesized error result,
// used when the controller itself fails the invocation (no invoker,
// publish failure, timeout).
func (m *Manager) FinalizeError(ctx context.Context, activationID string, statusCode int, message string) {
	res := broker.Result{
		ActivationID: activationID,
		StatusCode:   statusCode,
		Response: entity.Response{
			Success: false,
			Result:  map[string]any{"error": message},
		},
	}
	if _, err := m.Finalize(ctx, activationID, res); err != nil {
		m.log.Error("finalize failed activation",
			zap.String("activation", activationID), zap.Error(err))
	}
}

// Waiter is a bookmark into the results stream. Create it before
// publishing the invocation so the matching result cannot slip past
// between publish and the first read.
type Waiter struct {
	m      *Manager
	lastID string
}

// Subscribe captures the current tail of the results stream.
func (m *Manager) Subscribe(ctx context.Context) (*Waiter, error) {
	lastID := "0"
	msgs, err := m.broker.ReadRecent(ctx, broker.StreamResults, 1)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		lastID = msgs[0].ID
	}
	return &Waiter{m: m, lastID: lastID}, nil
}

// Await blocks until the result for activationID appears on the stream
// or the deadline passes. On timeout it returns KindTimeout without
// finalizing; the caller decides how to close the record.
func (w *Waiter) Await(ctx context.Context, activationID string, deadline time.Time) (broker.Result, error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return broker.Result{}, werr.New(werr.KindTimeout, "activation "+activationID+" timed out")
		}
		block := remaining
		if block > 100*time.Millisecond {
			block = 100 * time.Millisecond
		}
		msgs, err := w.m.broker.ReadBlocking(ctx, broker.StreamResults, w.lastID, block, 50)
		if err != nil {
			if ctx.Err() != nil {
				return broker.Result{}, werr.Wrap(ctx.Err(), werr.KindTimeout, "await "+activationID)
			}
			return broker.Result{}, err
		}
		for _, msg := range msgs {
			w.lastID = msg.ID
			res, err := broker.ParseResult(msg.Fields)
			if err != nil {
				w.m.log.Warn("malformed result message", zap.String("id", msg.ID), zap.Error(err))
				continue
			}
			if res.ActivationID == activationID {
				return res, nil
			}
		}
	}
}
