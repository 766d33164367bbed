package api

import (
	"github.com/penguinwhisk/controller/internal/entity"
)

// External document shapes. Parameters and annotations travel as
// [{"key": k, "value": v}] lists; internally they are maps.

type execDoc struct {
	Kind       string   `json:"kind"`
	Code       *string  `json:"code,omitempty"`
	Main       string   `json:"main,omitempty"`
	Image      string   `json:"image,omitempty"`
	Binary     bool     `json:"binary,omitempty"`
	Components []string `json:"components,omitempty"`
}

type limitsDoc struct {
	Timeout     *int `json:"timeout,omitempty"`
	Memory      *int `json:"memory,omitempty"`
	Logs        *int `json:"logs,omitempty"`
	Concurrency *int `json:"concurrency,omitempty"`
}

func (d limitsDoc) toLimits() entity.Limits {
	l := entity.DefaultLimits()
	if d.Timeout != nil {
		l.Timeout = *d.Timeout
	}
	if d.Memory != nil {
		l.Memory = *d.Memory
	}
	if d.Logs != nil {
		l.Logs = *d.Logs
	}
	if d.Concurrency != nil {
		l.Concurrency = *d.Concurrency
	}
	return l
}

type namespaceDoc struct {
	Name        string            `json:"name"`
	UUID        string            `json:"uuid,omitempty"`
	Description string            `json:"description,omitempty"`
	Limits      []entity.KeyValue `json:"limits"`
}

func namespaceToDoc(ns *entity.Namespace) namespaceDoc {
	return namespaceDoc{
		Name:        ns.Name,
		UUID:        ns.UUID,
		Description: ns.Description,
		Limits:      ns.Limits.ToList(),
	}
}

type bindingDoc struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

type packageDoc struct {
	Namespace   string            `json:"namespace"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Publish     bool              `json:"publish"`
	Parameters  []entity.KeyValue `json:"parameters"`
	Annotations []entity.KeyValue `json:"annotations"`
	Binding     *bindingDoc       `json:"binding,omitempty"`
}

func packageToDoc(namespace string, pkg *entity.Package) packageDoc {
	doc := packageDoc{
		Namespace:   namespace,
		Name:        pkg.Name,
		Version:     pkg.Version,
		Publish:     pkg.Publish,
		Parameters:  pkg.Parameters.ToList(),
		Annotations: pkg.Annotations.ToList(),
	}
	if pkg.Binding != nil {
		doc.Binding = &bindingDoc{Namespace: pkg.Binding.Namespace, Name: pkg.Binding.Name}
	}
	return doc
}

type actionDoc struct {
	Namespace   string            `json:"namespace"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Publish     bool              `json:"publish"`
	Exec        execDoc           `json:"exec"`
	Limits      entity.Limits     `json:"limits"`
	Parameters  []entity.KeyValue `json:"parameters"`
	Annotations []entity.KeyValue `json:"annotations"`
}

func actionToDoc(action *entity.Action, code *string) actionDoc {
	ns := action.Namespace
	if action.PackageName != "" {
		ns = ns + "/" + action.PackageName
	}
	return actionDoc{
		Namespace: ns,
		Name:      action.Name,
		Version:   action.Version,
		Publish:   action.Publish,
		Exec: execDoc{
			Kind:       action.Exec.Kind,
			Code:       code,
			Main:       action.Exec.Main,
			Image:      action.Exec.Image,
			Binary:     action.Exec.Binary,
			Components: action.Exec.Components,
		},
		Limits:      action.Limits,
		Parameters:  action.Parameters.ToList(),
		Annotations: action.Annotations.ToList(),
	}
}

type triggerDoc struct {
	Namespace   string            `json:"namespace"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Publish     bool              `json:"publish"`
	Parameters  []entity.KeyValue `json:"parameters"`
	Annotations []entity.KeyValue `json:"annotations"`
	Feed        string            `json:"feed,omitempty"`
}

func triggerToDoc(namespace string, t *entity.Trigger) triggerDoc {
	return triggerDoc{
		Namespace:   namespace,
		Name:        t.Name,
		Version:     t.Version,
		Publish:     t.Publish,
		Parameters:  t.Parameters.ToList(),
		Annotations: t.Annotations.ToList(),
		Feed:        t.Feed,
	}
}

type ruleDoc struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	Status    string `json:"status"`
	Trigger   string `json:"trigger"`
	Action    string `json:"action"`
}

func ruleToDoc(namespace string, rule *entity.Rule) ruleDoc {
	return ruleDoc{
		Namespace: namespace,
		Name:      rule.Name,
		Version:   rule.Version,
		Status:    rule.Status,
		Trigger:   rule.TriggerName,
		Action:    rule.ActionName,
	}
}

type activationDoc struct {
	ActivationID string            `json:"activationId"`
	Namespace    string            `json:"namespace"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Subject      string            `json:"subject,omitempty"`
	Start        int64             `json:"start"`
	End          *int64            `json:"end,omitempty"`
	Duration     *int64            `json:"duration,omitempty"`
	StatusCode   int               `json:"statusCode"`
	Response     *entity.Response  `json:"response,omitempty"`
	Logs         []string          `json:"logs"`
	Annotations  []entity.KeyValue `json:"annotations"`
	Cause        string            `json:"cause,omitempty"`
	Publish      bool              `json:"publish"`
}

// activationToDoc renders an activation; withDetail includes the
// response body and logs, the summary form omits them.
func activationToDoc(act *entity.Activation, withDetail bool) activationDoc {
	doc := activationDoc{
		ActivationID: act.ActivationID,
		Namespace:    act.Namespace,
		Name:         act.Name,
		Version:      act.Version,
		Subject:      act.Subject,
		Start:        act.Start,
		End:          act.End,
		Duration:     act.Duration,
		StatusCode:   act.StatusCode,
		Logs:         []string{},
		Annotations:  act.Annotations.ToList(),
		Cause:        act.Cause,
		Publish:      act.Publish,
	}
	if withDetail {
		response := act.Response
		doc.Response = &response
		doc.Logs = act.Logs
	}
	return doc
}
