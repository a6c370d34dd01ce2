package automation

import (
	"regexp"
	"strings"

	"github.com/automatonhq/automaton/event"
)

// placeholderPattern matches {event.<dot.path>} template placeholders.
var placeholderPattern = regexp.MustCompile(`\{event\.([^{}]+)\}`)

// ResolveParams turns a rule's parameter mappings and an event into the
// flat string map handed to skill execution. Resolution runs in three
// layered passes with later passes overwriting earlier keys:
//
//  1. static_params copied verbatim
//  2. event_params resolved by dot-path into event data; non-string values
//     are JSON-serialized; unresolvable paths leave the key absent
//  3. template_params with every {event.<path>} placeholder substituted;
//     placeholders whose path does not resolve are rewritten to drop the
//     "event." segment but keep the braces ({event.missing} → {missing})
//
// Missing fields never raise an error at any stage.
func ResolveParams(r *Rule, ev event.Event) map[string]string {
	params := make(map[string]string, len(r.StaticParams)+len(r.EventParams)+len(r.TemplateParams))

	for name, value := range r.StaticParams {
		params[name] = value
	}

	for name, path := range r.EventParams {
		if value, ok := ev.Lookup(path); ok {
			params[name] = event.Stringify(value)
		}
	}

	for name, template := range r.TemplateParams {
		params[name] = expandTemplate(template, ev)
	}

	return params
}

// expandTemplate substitutes {event.<path>} placeholders in a template.
// Unresolvable placeholders soft-fail: the braces are kept and only the
// leading "event." segment is dropped, leaving a visible {path} marker in
// the rendered string.
func expandTemplate(template string, ev event.Event) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		path := strings.TrimSuffix(strings.TrimPrefix(match, "{event."), "}")
		if value, ok := ev.Lookup(path); ok {
			return event.Stringify(value)
		}
		return "{" + path + "}"
	})
}
