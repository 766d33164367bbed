// Package orchestrator drives the invocation pipeline: resolve, record,
// place, publish, and for blocking callers await the result. Triggers
// fan out through their active rules here as well.
package orchestrator

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/penguinwhisk/controller/internal/activation"
	"github.com/penguinwhisk/controller/internal/blob"
	"github.com/penguinwhisk/controller/internal/broker"
	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/metrics"
	"github.com/penguinwhisk/controller/internal/scheduler"
	"github.com/penguinwhisk/controller/internal/store"
	"github.com/penguinwhisk/controller/internal/werr"
)

// CodeStore is the slice of the blob store the orchestrator needs to
// reference code blobs in invocation messages.
type CodeStore interface {
	Bucket() string
}

// Orchestrator coordinates the invocation path across the store, the
// blob store, the broker and the scheduler.
type Orchestrator struct {
	store   *store.Store
	blob    CodeStore
	broker  *broker.Client
	sched   *scheduler.Scheduler
	acts    *activation.Manager
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New wires an Orchestrator.
func New(st *store.Store, bl CodeStore, br *broker.Client, sc *scheduler.Scheduler, am *activation.Manager, m *metrics.Metrics, log *zap.Logger) *Orchestrator {
	return &Orchestrator{store: st, blob: bl, broker: br, sched: sc, acts: am, metrics: m, log: log}
}

// InvokeOptions qualify an invocation request.
type InvokeOptions struct {
	Blocking bool
	Subject  string
	AuthKey  string
	Cause    string
}

// InvokeAction runs the full invocation pipeline for an action at
// namespace/path. For blocking calls the returned Result is the
// invoker's response; for non-blocking calls it is nil and only the
// pending activation is returned.
func (o *Orchestrator) InvokeAction(ctx context.Context, namespace, path string, params entity.Params, opts InvokeOptions) (*entity.Activation, *broker.Result, error) {
	action, err := o.store.ResolveAction(ctx, namespace, path)
	if err != nil {
		return nil, nil, err
	}
	if action.Exec.IsSequence() {
		return o.invokeSequence(ctx, action, params, opts)
	}

	merged := entity.Merge(action.Parameters, params)
	timeout := o.clampTimeout(action)

	act, err := o.acts.Open(ctx, activation.OpenSpec{
		NamespaceID: action.NamespaceID,
		Namespace:   action.Namespace,
		Name:        action.Name,
		Version:     action.Version,
		Subject:     opts.Subject,
		Cause:       opts.Cause,
		Annotations: actionAnnotations(action, timeout),
	})
	if err != nil {
		return nil, nil, err
	}

	// Subscribe before publish so the result cannot arrive unseen.
	var waiter *activation.Waiter
	if opts.Blocking {
		waiter, err = o.acts.Subscribe(ctx)
		if err != nil {
			return act, nil, err
		}
	}

	invoker, err := o.sched.Select(action.Exec.Kind, action.Limits.Memory)
	if err != nil {
		o.acts.FinalizeError(ctx, act.ActivationID, http.StatusServiceUnavailable, "no invoker available")
		o.count(action.Exec.Kind, opts.Blocking, "no_invoker")
		return act, nil, err
	}

	now := time.Now()
	msg := broker.Invocation{
		ActivationID: act.ActivationID,
		Action: broker.ActionSpec{
			Name:      action.FQN(),
			Namespace: action.Namespace,
			Version:   action.Version,
			Kind:      action.Exec.Kind,
			Image:     action.Exec.Image,
			Main:      action.Exec.Main,
			Binary:    action.Exec.Binary,
			Code: broker.CodeRef{
				Bucket: o.blob.Bucket(),
				Key:    blob.ObjectKey(action.Namespace, action.Name, action.CodeHash),
				Hash:   action.CodeHash,
			},
			Limits: action.Limits,
		},
		Params:          merged,
		Blocking:        opts.Blocking,
		ResponseChannel: broker.StreamResults,
		Deadline:        now.Add(time.Duration(timeout) * time.Millisecond).UnixMilli(),
		Namespace:       action.Namespace,
		Subject:         opts.Subject,
		AuthKey:         opts.AuthKey,
		Cause:           opts.Cause,
		Timestamp:       now.UnixMilli(),
	}
	fields, err := msg.Fields()
	if err != nil {
		o.acts.FinalizeError(ctx, act.ActivationID, http.StatusBadGateway, "invocation dispatch failed")
		return act, nil, werr.Wrap(err, werr.KindBadGateway, "encode invocation")
	}
	if _, err := o.broker.Publish(ctx, broker.StreamInvocations, fields); err != nil {
		o.acts.FinalizeError(ctx, act.ActivationID, http.StatusBadGateway, "invocation dispatch failed")
		o.count(action.Exec.Kind, opts.Blocking, "publish_failed")
		return act, nil, werr.Wrap(err, werr.KindBadGateway, "publish invocation")
	}

	o.log.Info("invocation dispatched",
		zap.String("activation", act.ActivationID),
		zap.String("action", action.FQN()),
		zap.String("invoker", invoker.ID),
		zap.Bool("blocking", opts.Blocking))

	if !opts.Blocking {
		o.count(action.Exec.Kind, false, "accepted")
		return act, nil, nil
	}

	waitStart := time.Now()
	res, err := waiter.Await(ctx, act.ActivationID, now.Add(time.Duration(timeout)*time.Millisecond))
	o.metrics.BlockingWaitSecs.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		if werr.IsKind(err, werr.KindTimeout) {
			o.acts.FinalizeError(ctx, act.ActivationID, http.StatusGatewayTimeout, "timeout")
			o.count(action.Exec.Kind, true, "timeout")
		}
		return act, nil, err
	}

	if _, err := o.acts.Finalize(ctx, act.ActivationID, res); err != nil {
		o.log.Error("finalize activation", zap.String("activation", act.ActivationID), zap.Error(err))
	}
	outcome := "success"
	if !res.Response.Success {
		outcome = "error"
	}
	o.count(action.Exec.Kind, true, outcome)
	o.metrics.ActivationSeconds.WithLabelValues(action.Exec.Kind).
		Observe(float64(res.Duration) / 1000)
	return act, &res, nil
}

// invokeSequence runs a sequence action: each component is invoked
// blocking with the parent activation as its cause, chaining the
// previous result into the next component's input. The first failing
// component ends the chain and the parent adopts its response.
func (o *Orchestrator) invokeSequence(ctx context.Context, action *entity.Action, params entity.Params, opts InvokeOptions) (*entity.Activation, *broker.Result, error) {
	merged := entity.Merge(action.Parameters, params)

	parent, err := o.acts.Open(ctx, activation.OpenSpec{
		NamespaceID: action.NamespaceID,
		Namespace:   action.Namespace,
		Name:        action.Name,
		Version:     action.Version,
		Subject:     opts.Subject,
		Cause:       opts.Cause,
		Annotations: entity.Params{
			"path": action.FQN(),
			"kind": entity.ExecKindSequence,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	input := merged
	final := broker.Result{
		ActivationID: parent.ActivationID,
		StatusCode:   http.StatusOK,
		Response:     entity.Response{Success: true, Result: map[string]any{}},
	}
	for _, component := range action.Exec.Components {
		ns, pkg, name, err := entity.ParseFQN(component)
		if err != nil {
			o.acts.FinalizeError(ctx, parent.ActivationID, http.StatusBadRequest, "invalid sequence component "+component)
			return parent, nil, err
		}
		path := name
		if pkg != nil {
			path = *pkg + "/" + name
		}

		_, res, err := o.InvokeAction(ctx, ns, path, input, InvokeOptions{
			Blocking: true,
			Subject:  opts.Subject,
			AuthKey:  opts.AuthKey,
			Cause:    parent.ActivationID,
		})
		if err != nil {
			o.acts.FinalizeError(ctx, parent.ActivationID, werr.KindOf(err).HTTPStatus(),
				"sequence component failed: "+component)
			o.count(entity.ExecKindSequence, opts.Blocking, "error")
			return parent, nil, err
		}
		if !res.Response.Success {
			final = *res
			final.ActivationID = parent.ActivationID
			break
		}
		final.Response = res.Response
		final.StatusCode = res.StatusCode
		input = entity.ResultParams(res.Response.Result)
	}

	// Parent duration is wall clock across components, not the sum of
	// component durations.
	final.End = time.Now().UnixMilli()
	final.Duration = time.Since(start).Milliseconds()
	if _, err := o.acts.Finalize(ctx, parent.ActivationID, final); err != nil {
		o.log.Error("finalize sequence", zap.String("activation", parent.ActivationID), zap.Error(err))
	}
	outcome := "success"
	if !final.Response.Success {
		outcome = "error"
	}
	o.count(entity.ExecKindSequence, opts.Blocking, outcome)
	if !opts.Blocking {
		return parent, nil, nil
	}
	return parent, &final, nil
}

// FireTrigger records a trigger activation and fans out non-blocking
// invocations through the trigger's active rules, in rule-name order.
// A failing rule is logged and skipped; the fan-out never blocks on
// action completion.
func (o *Orchestrator) FireTrigger(ctx context.Context, namespace, name string, params entity.Params, opts InvokeOptions) (*entity.Activation, []string, error) {
	trigger, err := o.store.GetTrigger(ctx, namespace, name)
	if err != nil {
		return nil, nil, err
	}
	merged := entity.Merge(trigger.Parameters, params)

	act, err := o.acts.Open(ctx, activation.OpenSpec{
		NamespaceID: trigger.NamespaceID,
		Namespace:   namespace,
		Name:        trigger.Name,
		Version:     trigger.Version,
		Subject:     opts.Subject,
		Annotations: entity.Params{"kind": "trigger"},
	})
	if err != nil {
		return nil, nil, err
	}
	// The trigger activation completes immediately; its result is the
	// event payload delivered to the rules.
	o.finalizeTrigger(ctx, act.ActivationID, merged)
	o.metrics.TriggerFiresTotal.Inc()

	rules, err := o.store.ActiveRulesForTrigger(ctx, trigger.ID)
	if err != nil {
		return act, nil, err
	}
	var fired []string
	for _, rule := range rules {
		target, err := o.store.GetActionByID(ctx, rule.ActionID)
		if err != nil {
			o.log.Warn("rule action vanished",
				zap.String("rule", rule.Name), zap.Error(err))
			continue
		}
		path := target.Name
		if target.PackageName != "" {
			path = target.PackageName + "/" + target.Name
		}
		ruleAct, _, err := o.InvokeAction(ctx, namespace, path, merged, InvokeOptions{
			Subject: opts.Subject,
			AuthKey: opts.AuthKey,
			Cause:   act.ActivationID,
		})
		if err != nil {
			o.log.Warn("rule fan-out failed",
				zap.String("trigger", trigger.Name),
				zap.String("rule", rule.Name),
				zap.Error(err))
			continue
		}
		fired = append(fired, ruleAct.ActivationID)
	}
	return act, fired, nil
}

func (o *Orchestrator) finalizeTrigger(ctx context.Context, activationID string, payload entity.Params) {
	res := broker.Result{
		ActivationID: activationID,
		StatusCode:   http.StatusOK,
		Response:     entity.Response{Success: true, Result: payload},
	}
	if _, err := o.acts.Finalize(ctx, activationID, res); err != nil {
		o.log.Error("finalize trigger activation",
			zap.String("activation", activationID), zap.Error(err))
	}
}

// clampTimeout bounds the action timeout to the allowed range. Out of
// range values are clamped with a warning rather than rejected, since
// the record may predate a limit change.
func (o *Orchestrator) clampTimeout(action *entity.Action) int {
	timeout := action.Limits.Timeout
	if timeout < entity.MinTimeoutMs {
		o.log.Warn("clamping action timeout",
			zap.String("action", action.FQN()), zap.Int("timeout", timeout))
		return entity.MinTimeoutMs
	}
	if timeout > entity.MaxTimeoutMs {
		o.log.Warn("clamping action timeout",
			zap.String("action", action.FQN()), zap.Int("timeout", timeout))
		return entity.MaxTimeoutMs
	}
	return timeout
}

func (o *Orchestrator) count(kind string, blocking bool, outcome string) {
	mode := "false"
	if blocking {
		mode = "true"
	}
	o.metrics.InvocationsTotal.WithLabelValues(kind, mode, outcome).Inc()
}

func actionAnnotations(action *entity.Action, timeout int) entity.Params {
	return entity.Params{
		"path": action.FQN(),
		"kind": action.Exec.Kind,
		"limits": map[string]any{
			"timeout":     timeout,
			"memory":      action.Limits.Memory,
			"logs":        action.Limits.Logs,
			"concurrency": action.Limits.Concurrency,
		},
	}
}
