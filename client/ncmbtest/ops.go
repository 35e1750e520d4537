package ncmbtest

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// applyAll writes body into doc, interpreting {"__op": ...} values.
func applyAll(doc, body map[string]any) error {
	for k, v := range body {
		switch k {
		case "objectId", "createDate", "updateDate":
			continue
		}
		if err := apply(doc, k, v); err != nil {
			return err
		}
	}
	return nil
}

func apply(doc map[string]any, key string, v any) error {
	op, ok := v.(map[string]any)
	if !ok {
		doc[key] = v
		return nil
	}
	name, ok := op["__op"].(string)
	if !ok {
		doc[key] = v
		return nil
	}
	switch name {
	case "Delete":
		delete(doc, key)
	case "Increment":
		amount, ok := op["amount"].(float64)
		if !ok {
			return fmt.Errorf("%s: Increment amount must be a number", key)
		}
		cur, _ := doc[key].(float64)
		doc[key] = cur + amount
	case "Add", "AddUnique", "Remove":
		objs, ok := op["objects"].([]any)
		if !ok {
			return fmt.Errorf("%s: %s needs objects", key, name)
		}
		cur, _ := doc[key].([]any)
		doc[key] = applyList(name, cur, objs)
	case "AddRelation", "RemoveRelation":
		objs, _ := op["objects"].([]any)
		className := ""
		if len(objs) > 0 {
			if p, ok := objs[0].(map[string]any); ok {
				className, _ = p["className"].(string)
			}
		}
		if _, exists := doc[key]; !exists || name == "AddRelation" {
			doc[key] = map[string]any{"__type": "Relation", "className": className}
		}
	default:
		return fmt.Errorf("%s: unknown operation %q", key, name)
	}
	return nil
}

func applyList(op string, cur, objs []any) []any {
	out := append([]any{}, cur...)
	switch op {
	case "Add":
		return append(out, objs...)
	case "AddUnique":
		for _, o := range objs {
			if indexOf(out, o) < 0 {
				out = append(out, o)
			}
		}
		return out
	default:
		kept := out[:0]
		for _, c := range out {
			if indexOf(objs, c) < 0 {
				kept = append(kept, c)
			}
		}
		return kept
	}
}

func indexOf(list []any, v any) int {
	for i, e := range list {
		if reflect.DeepEqual(e, v) {
			return i
		}
	}
	return -1
}

// matches reports whether doc satisfies a where clause.
func matches(doc, where map[string]any) (bool, error) {
	for key, cond := range where {
		if key == "$or" {
			alts, ok := cond.([]any)
			if !ok {
				return false, fmt.Errorf("$or needs an array")
			}
			hit := false
			for _, a := range alts {
				sub, ok := a.(map[string]any)
				if !ok {
					return false, fmt.Errorf("$or entries must be objects")
				}
				m, err := matches(doc, sub)
				if err != nil {
					return false, err
				}
				if m {
					hit = true
					break
				}
			}
			if !hit {
				return false, nil
			}
			continue
		}
		ok, err := matchField(doc, key, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchField(doc map[string]any, key string, cond any) (bool, error) {
	val, present := doc[key]
	ops, isOps := cond.(map[string]any)
	if !isOps || !hasOperator(ops) {
		if list, ok := val.([]any); ok {
			if _, condList := cond.([]any); !condList {
				return indexOf(list, cond) >= 0, nil
			}
		}
		return present && reflect.DeepEqual(val, cond), nil
	}
	for op, arg := range ops {
		ok, err := matchOp(val, present, op, arg)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func hasOperator(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func matchOp(val any, present bool, op string, arg any) (bool, error) {
	switch op {
	case "$ne":
		return !present || !reflect.DeepEqual(val, arg), nil
	case "$gt", "$gte", "$lt", "$lte":
		if !present {
			return false, nil
		}
		c, ok := compare(val, arg)
		if !ok {
			return false, nil
		}
		switch op {
		case "$gt":
			return c > 0, nil
		case "$gte":
			return c >= 0, nil
		case "$lt":
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case "$in", "$nin":
		list, ok := arg.([]any)
		if !ok {
			return false, fmt.Errorf("%s needs an array", op)
		}
		in := present && indexOf(list, val) >= 0
		if op == "$in" {
			return in, nil
		}
		return !in, nil
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return false, fmt.Errorf("$exists needs a boolean")
		}
		return present == want, nil
	case "$regex":
		pattern, ok := arg.(string)
		if !ok {
			return false, fmt.Errorf("$regex needs a string")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("$regex: %v", err)
		}
		s, ok := val.(string)
		return ok && re.MatchString(s), nil
	case "$inArray", "$ninArray", "$all":
		want, ok := arg.([]any)
		if !ok {
			return false, fmt.Errorf("%s needs an array", op)
		}
		have, _ := val.([]any)
		hits := 0
		for _, w := range want {
			if indexOf(have, w) >= 0 {
				hits++
			}
		}
		switch op {
		case "$inArray":
			return hits > 0, nil
		case "$ninArray":
			return hits == 0, nil
		default:
			return hits == len(want), nil
		}
	}
	return false, fmt.Errorf("unsupported operator %s", op)
}

// compare orders numbers, strings and dates. ok is false for other kinds.
func compare(a, b any) (int, bool) {
	a, b = unwrapDate(a), unwrapDate(b)
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}

func unwrapDate(v any) any {
	if m, ok := v.(map[string]any); ok && m["__type"] == "Date" {
		return m["iso"]
	}
	return v
}
