// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package store

import (
	"reflect"
	"strings"
)

// Predicate filters decoded documents. Field names are the JSON keys of the
// stored record; nested fields use dotted paths ("progress_data.total_count").
type Predicate interface {
	match(doc map[string]interface{}) bool
}

type opKind int

const (
	opEq opKind = iota
	opNotEq
	opGt
	opGte
	opLt
	opLte
	opOneOf
	opNotIn
)

// Op is a comparison applied to one field by Where.
type Op struct {
	kind   opKind
	value  interface{}
	values []interface{}
}

func Eq(v interface{}) Op    { return Op{kind: opEq, value: v} }
func NotEq(v interface{}) Op { return Op{kind: opNotEq, value: v} }
func Gt(v interface{}) Op    { return Op{kind: opGt, value: v} }
func Gte(v interface{}) Op   { return Op{kind: opGte, value: v} }
func Lt(v interface{}) Op    { return Op{kind: opLt, value: v} }
func Lte(v interface{}) Op   { return Op{kind: opLte, value: v} }

// OneOf matches when the field equals any of values. An empty list matches nothing.
func OneOf[V any](values ...V) Op {
	vs := make([]interface{}, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Op{kind: opOneOf, values: vs}
}

// NotIn matches when the field equals none of values.
func NotIn[V any](values ...V) Op {
	op := OneOf(values...)
	op.kind = opNotIn
	return op
}

type fieldPredicate struct {
	path []string
	op   Op
}

// Where compares field against cond. A plain value means equality; pass an
// Op (Gt, OneOf, ...) for anything else. A nil value matches missing or null fields.
func Where(field string, cond interface{}) Predicate {
	op, ok := cond.(Op)
	if !ok {
		op = Eq(cond)
	}
	return fieldPredicate{path: splitPath(field), op: op}
}

func splitPath(field string) []string {
	return strings.Split(field, ".")
}

func (p fieldPredicate) match(doc map[string]interface{}) bool {
	got := lookup(doc, p.path)
	switch p.op.kind {
	case opEq:
		return equal(got, p.op.value)
	case opNotEq:
		return !equal(got, p.op.value)
	case opGt:
		c, ok := compare(got, p.op.value)
		return ok && c > 0
	case opGte:
		c, ok := compare(got, p.op.value)
		return ok && c >= 0
	case opLt:
		c, ok := compare(got, p.op.value)
		return ok && c < 0
	case opLte:
		c, ok := compare(got, p.op.value)
		return ok && c <= 0
	case opOneOf, opNotIn:
		found := false
		for _, v := range p.op.values {
			if equal(got, v) {
				found = true
				break
			}
		}
		return found == (p.op.kind == opOneOf)
	}
	return false
}

type andPredicate []Predicate

// And matches when every predicate matches. And() matches everything.
func And(preds ...Predicate) Predicate { return andPredicate(preds) }

func (a andPredicate) match(doc map[string]interface{}) bool {
	for _, p := range a {
		if !p.match(doc) {
			return false
		}
	}
	return true
}

type orPredicate []Predicate

// Or matches when any predicate matches. Or() matches nothing.
func Or(preds ...Predicate) Predicate { return orPredicate(preds) }

func (o orPredicate) match(doc map[string]interface{}) bool {
	for _, p := range o {
		if p.match(doc) {
			return true
		}
	}
	return false
}

func lookup(doc map[string]interface{}, path []string) interface{} {
	var cur interface{} = doc
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// normalize maps Go values onto the shapes produced by JSON decoding:
// every number becomes float64, every string-kinded type a string.
func normalize(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	default:
		return rv.Interface()
	}
}

func equal(a, b interface{}) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

// compare orders numbers and strings. ok is false for mismatched or
// unordered types, which makes range predicates fail closed.
func compare(a, b interface{}) (int, bool) {
	a, b = normalize(a), normalize(b)
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	}
	return 0, false
}
