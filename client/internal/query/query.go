// Package query builds NCMB search conditions and the query parameters that
// carry them.
//
// Conditions form an ordered tree keyed by field name. Operator conditions on
// one field merge into a single object, so GreaterThan and LessThan on "k"
// produce {"k":{"$gt":..,"$lt":..}}. EqualTo replaces whatever was set for
// the field. The first invalid argument is remembered and reported by Err and
// Params; later calls are still recorded.
package query

import (
	"net/url"
	"strconv"
	"strings"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

const (
	MaxLimit = 1000

	opNotEqual       = "$ne"
	opLess           = "$lt"
	opGreater        = "$gt"
	opLessOrEqual    = "$lte"
	opGreaterOrEqual = "$gte"
	opIn             = "$in"
	opNotIn          = "$nin"
	opExists         = "$exists"
	opInArray        = "$inArray"
	opNotInArray     = "$ninArray"
	opAll            = "$all"
	opRegex          = "$regex"
	opNearSphere     = "$nearSphere"
	opMaxKilometers  = "$maxDistanceInKilometers"
	opMaxMiles       = "$maxDistanceInMiles"
	opMaxRadians     = "$maxDistanceInRadians"
	opWithin         = "$within"
	opBox            = "$box"
	opSelect         = "$select"
	opInQuery        = "$inQuery"
	opRelatedTo      = "$relatedTo"
	opOr             = "$or"
)

// Query is a condition tree for one class. It is not safe for concurrent
// mutation.
type Query struct {
	className string
	where     *types.Object
	order     []string
	limit     int
	skip      int
	include   []string
	err       error
}

func New(className string) *Query {
	return &Query{className: className, where: types.NewObject()}
}

func (q *Query) ClassName() string { return q.className }

// Err returns the first argument error recorded by a builder call.
func (q *Query) Err() error { return q.err }

func (q *Query) fail(err error) *Query {
	if q.err == nil {
		q.err = err
	}
	return q
}

// WhereEqualTo matches key == value, replacing any condition already set for
// key.
func (q *Query) WhereEqualTo(key string, value any) *Query {
	v, err := types.FromAny(value)
	if err != nil {
		return q.fail(err)
	}
	q.where.Set(key, v)
	return q
}

func (q *Query) WhereNotEqualTo(key string, value any) *Query {
	return q.addCondition(key, opNotEqual, value)
}

func (q *Query) WhereGreaterThan(key string, value any) *Query {
	return q.addCondition(key, opGreater, value)
}

func (q *Query) WhereGreaterThanOrEqualTo(key string, value any) *Query {
	return q.addCondition(key, opGreaterOrEqual, value)
}

func (q *Query) WhereLessThan(key string, value any) *Query {
	return q.addCondition(key, opLess, value)
}

func (q *Query) WhereLessThanOrEqualTo(key string, value any) *Query {
	return q.addCondition(key, opLessOrEqual, value)
}

// WhereContainedIn matches when key's value is one of values.
func (q *Query) WhereContainedIn(key string, values []any) *Query {
	return q.addCondition(key, opIn, values)
}

func (q *Query) WhereNotContainedIn(key string, values []any) *Query {
	return q.addCondition(key, opNotIn, values)
}

// WhereContainedInArray matches array fields sharing any member with values.
func (q *Query) WhereContainedInArray(key string, values []any) *Query {
	return q.addCondition(key, opInArray, values)
}

func (q *Query) WhereNotContainedInArray(key string, values []any) *Query {
	return q.addCondition(key, opNotInArray, values)
}

// WhereContainsAll matches array fields holding every member of values.
func (q *Query) WhereContainsAll(key string, values []any) *Query {
	return q.addCondition(key, opAll, values)
}

func (q *Query) WhereExists(key string) *Query {
	return q.addCondition(key, opExists, true)
}

func (q *Query) WhereDoesNotExist(key string) *Query {
	return q.addCondition(key, opExists, false)
}

// WhereMatches applies a regular expression to a string field.
func (q *Query) WhereMatches(key, pattern string) *Query {
	return q.addCondition(key, opRegex, pattern)
}

// WhereNearSphere orders results by distance from point.
func (q *Query) WhereNearSphere(key string, point types.GeoPoint) *Query {
	return q.addCondition(key, opNearSphere, point)
}

func (q *Query) WhereWithinKilometers(key string, point types.GeoPoint, distance float64) *Query {
	return q.within(key, point, opMaxKilometers, distance)
}

func (q *Query) WhereWithinMiles(key string, point types.GeoPoint, distance float64) *Query {
	return q.within(key, point, opMaxMiles, distance)
}

func (q *Query) WhereWithinRadians(key string, point types.GeoPoint, distance float64) *Query {
	return q.within(key, point, opMaxRadians, distance)
}

func (q *Query) within(key string, point types.GeoPoint, op string, distance float64) *Query {
	if distance < 0 {
		return q.fail(ncmberrors.New(ncmberrors.CodeGeneric, "distance must not be negative"))
	}
	q.addCondition(key, opNearSphere, point)
	return q.addCondition(key, op, distance)
}

// WhereWithinGeoBox matches points inside the box spanned by southwest and
// northeast corners.
func (q *Query) WhereWithinGeoBox(key string, southwest, northeast types.GeoPoint) *Query {
	box := types.NewObject()
	box.Set(opBox, types.ArrayValue([]types.Value{types.GeoValue(southwest), types.GeoValue(northeast)}))
	return q.addConditionValue(key, opWithin, types.ObjectValue(box))
}

// WhereMatchesKeyInQuery matches when key equals the value of subKey in any
// result of sub.
func (q *Query) WhereMatchesKeyInQuery(key, subKey string, sub *Query) *Query {
	if err := q.checkSub(sub); err != nil {
		return q.fail(err)
	}
	inner := types.NewObject()
	inner.Set("className", types.StringValue(sub.className))
	inner.Set("where", types.ObjectValue(sub.where.Clone()))
	sel := types.NewObject()
	sel.Set("query", types.ObjectValue(inner))
	sel.Set("key", types.StringValue(subKey))
	return q.addConditionValue(key, opSelect, types.ObjectValue(sel))
}

// WhereMatchesQuery matches when the pointer stored in key refers to a result
// of sub.
func (q *Query) WhereMatchesQuery(key string, sub *Query) *Query {
	if err := q.checkSub(sub); err != nil {
		return q.fail(err)
	}
	inner := types.NewObject()
	inner.Set("where", types.ObjectValue(sub.where.Clone()))
	inner.Set("className", types.StringValue(sub.className))
	return q.addConditionValue(key, opInQuery, types.ObjectValue(inner))
}

func (q *Query) checkSub(sub *Query) error {
	if sub == nil {
		return ncmberrors.New(ncmberrors.CodeGeneric, "sub query is nil")
	}
	if sub.err != nil {
		return sub.err
	}
	if sub.className == "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "sub query needs a class name")
	}
	return nil
}

// WhereRelatedTo matches objects listed in target's relation field key.
func (q *Query) WhereRelatedTo(target types.PointerTarget, key string) *Query {
	p, err := types.PointerTo(target)
	if err != nil {
		return q.fail(err)
	}
	rel := types.NewObject()
	rel.Set("object", types.PointerValue(p))
	rel.Set("key", types.StringValue(key))
	q.where.Set(opRelatedTo, types.ObjectValue(rel))
	return q
}

// Or matches objects satisfying any of subs. It replaces a previous Or.
func (q *Query) Or(subs ...*Query) *Query {
	if len(subs) == 0 {
		return q.fail(ncmberrors.New(ncmberrors.CodeGeneric, "$or needs at least one query"))
	}
	arr := make([]types.Value, 0, len(subs))
	for _, s := range subs {
		if s == nil {
			return q.fail(ncmberrors.New(ncmberrors.CodeGeneric, "sub query is nil"))
		}
		if s.err != nil {
			return q.fail(s.err)
		}
		arr = append(arr, types.ObjectValue(s.where.Clone()))
	}
	q.where.Set(opOr, types.ArrayValue(arr))
	return q
}

func (q *Query) addCondition(key, op string, value any) *Query {
	v, err := types.FromAny(value)
	if err != nil {
		return q.fail(err)
	}
	return q.addConditionValue(key, op, v)
}

// addConditionValue merges op into key's operator object. A bare value set by
// WhereEqualTo is discarded.
func (q *Query) addConditionValue(key, op string, v types.Value) *Query {
	cur, ok := q.where.Get(key)
	var cond *types.Object
	if ok && isOperatorObject(cur) {
		cond = cur.AsObject()
	} else {
		cond = types.NewObject()
		q.where.Set(key, types.ObjectValue(cond))
	}
	cond.Set(op, v)
	return q
}

func isOperatorObject(v types.Value) bool {
	obj := v.AsObject()
	if obj == nil || obj.Len() == 0 {
		return false
	}
	for _, k := range obj.Keys() {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// Where returns a copy of the condition tree.
func (q *Query) Where() *types.Object { return q.where.Clone() }

// SetWhere replaces the condition tree with a decoded JSON condition.
func (q *Query) SetWhere(data []byte) *Query {
	obj, err := types.ParseObject(data)
	if err != nil {
		return q.fail(ncmberrors.Wrap(ncmberrors.CodeGeneric, err, "invalid where condition"))
	}
	q.where = obj
	return q
}

// AddOrderByAscending appends key to the sort order. A key already in the
// order is moved to the end.
func (q *Query) AddOrderByAscending(key string) *Query {
	q.DeleteOrder(key)
	q.order = append(q.order, key)
	return q
}

func (q *Query) AddOrderByDescending(key string) *Query {
	q.DeleteOrder(key)
	q.order = append(q.order, "-"+key)
	return q
}

// OrderByAscending and OrderByDescending replace the sort order.
func (q *Query) OrderByAscending(key string) *Query {
	q.order = nil
	return q.AddOrderByAscending(key)
}

func (q *Query) OrderByDescending(key string) *Query {
	q.order = nil
	return q.AddOrderByDescending(key)
}

// DeleteOrder removes key from the sort order in either direction.
func (q *Query) DeleteOrder(key string) *Query {
	kept := q.order[:0]
	for _, o := range q.order {
		if o != key && o != "-"+key {
			kept = append(kept, o)
		}
	}
	q.order = kept
	return q
}

// Order returns the comma-joined sort order.
func (q *Query) Order() string { return strings.Join(q.order, ",") }

// SetLimit bounds the result count to 1..MaxLimit.
func (q *Query) SetLimit(n int) *Query {
	if n < 1 || n > MaxLimit {
		return q.fail(ncmberrors.New(ncmberrors.CodeGeneric, "limit must be between 1 and %d, got %d", MaxLimit, n))
	}
	q.limit = n
	return q
}

func (q *Query) SetSkip(n int) *Query {
	if n < 0 {
		return q.fail(ncmberrors.New(ncmberrors.CodeGeneric, "skip must not be negative, got %d", n))
	}
	q.skip = n
	return q
}

// SetIncludeKey asks the server to inline the pointers stored under keys.
func (q *Query) SetIncludeKey(keys ...string) *Query {
	q.include = append([]string(nil), keys...)
	return q
}

func (q *Query) Limit() int { return q.limit }
func (q *Query) Skip() int  { return q.skip }

// Params renders the search query string. count adds count=1.
func (q *Query) Params(count bool) (url.Values, error) {
	if q.err != nil {
		return nil, q.err
	}
	p := url.Values{}
	if q.where.Len() > 0 {
		b, err := q.where.MarshalJSON()
		if err != nil {
			return nil, ncmberrors.Wrap(ncmberrors.CodeGeneric, err, "encode where")
		}
		p.Set("where", string(b))
	}
	if len(q.order) > 0 {
		p.Set("order", q.Order())
	}
	if q.limit > 0 {
		p.Set("limit", strconv.Itoa(q.limit))
	}
	if q.skip > 0 {
		p.Set("skip", strconv.Itoa(q.skip))
	}
	if len(q.include) > 0 {
		p.Set("include", strings.Join(q.include, ","))
	}
	if count {
		p.Set("count", "1")
	}
	return p, nil
}

// Clone deep-copies q.
func (q *Query) Clone() *Query {
	return &Query{
		className: q.className,
		where:     q.where.Clone(),
		order:     append([]string(nil), q.order...),
		limit:     q.limit,
		skip:      q.skip,
		include:   append([]string(nil), q.include...),
		err:       q.err,
	}
}
