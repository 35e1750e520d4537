package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

type target struct{ class, id string }

func (t target) ClassName() string { return t.class }
func (t target) ObjectID() string  { return t.id }

func whereJSON(t *testing.T, q *Query) string {
	t.Helper()
	p, err := q.Params(false)
	require.NoError(t, err)
	return p.Get("where")
}

func TestQuery_OperatorsOnOneFieldMerge(t *testing.T) {
	q := New("TestClass").WhereGreaterThan("k", 0).WhereLessThan("k", 10)
	assert.JSONEq(t, `{"k":{"$gt":0,"$lt":10}}`, whereJSON(t, q))
}

func TestQuery_EqualToReplacesOperators(t *testing.T) {
	q := New("TestClass").WhereGreaterThan("k", 0).WhereEqualTo("k", 5)
	assert.JSONEq(t, `{"k":5}`, whereJSON(t, q))

	q.WhereNotEqualTo("k", 6)
	assert.JSONEq(t, `{"k":{"$ne":6}}`, whereJSON(t, q))

	q = New("TestClass").WhereEqualTo("obj", map[string]any{"a": 1}).WhereExists("obj")
	assert.JSONEq(t, `{"obj":{"$exists":true}}`, whereJSON(t, q))
}

func TestQuery_ValueOperators(t *testing.T) {
	when := time.Date(2014, 6, 3, 11, 28, 30, 348000000, time.UTC)
	q := New("TestClass").
		WhereContainedIn("a", []any{1, 2}).
		WhereNotContainedIn("b", []any{"x"}).
		WhereContainedInArray("c", []any{"t"}).
		WhereNotContainedInArray("d", []any{"u"}).
		WhereContainsAll("e", []any{"v", "w"}).
		WhereDoesNotExist("f").
		WhereGreaterThanOrEqualTo("g", when).
		WhereLessThanOrEqualTo("g", 1.5).
		WhereMatches("h", "^ab")
	assert.JSONEq(t, `{
		"a":{"$in":[1,2]},
		"b":{"$nin":["x"]},
		"c":{"$inArray":["t"]},
		"d":{"$ninArray":["u"]},
		"e":{"$all":["v","w"]},
		"f":{"$exists":false},
		"g":{"$gte":{"__type":"Date","iso":"2014-06-03T11:28:30.348Z"},"$lte":1.5},
		"h":{"$regex":"^ab"}
	}`, whereJSON(t, q))
}

func TestQuery_GeoOperators(t *testing.T) {
	p := types.GeoPoint{Latitude: 35, Longitude: 139}
	q := New("Shop").WhereWithinKilometers("loc", p, 5)
	assert.JSONEq(t, `{"loc":{"$nearSphere":{"__type":"GeoPoint","latitude":35,"longitude":139},"$maxDistanceInKilometers":5}}`, whereJSON(t, q))

	q = New("Shop").WhereWithinGeoBox("loc", types.GeoPoint{Latitude: 1, Longitude: 2}, types.GeoPoint{Latitude: 3, Longitude: 4})
	assert.JSONEq(t, `{"loc":{"$within":{"$box":[
		{"__type":"GeoPoint","latitude":1,"longitude":2},
		{"__type":"GeoPoint","latitude":3,"longitude":4}]}}}`, whereJSON(t, q))

	q = New("Shop").WhereWithinMiles("loc", p, -1)
	assert.Error(t, q.Err())
}

func TestQuery_SubQueries(t *testing.T) {
	sub := New("Team").WhereEqualTo("city", "Tokyo")

	q := New("Player").WhereMatchesKeyInQuery("hometown", "city", sub)
	assert.JSONEq(t, `{"hometown":{"$select":{"query":{"className":"Team","where":{"city":"Tokyo"}},"key":"city"}}}`, whereJSON(t, q))

	q = New("Player").WhereMatchesQuery("team", sub)
	assert.JSONEq(t, `{"team":{"$inQuery":{"where":{"city":"Tokyo"},"className":"Team"}}}`, whereJSON(t, q))

	q = New("Player").WhereRelatedTo(target{"Team", "t1"}, "members")
	assert.JSONEq(t, `{"$relatedTo":{"object":{"__type":"Pointer","className":"Team","objectId":"t1"},"key":"members"}}`, whereJSON(t, q))

	q = New("Player").Or(New("Player").WhereEqualTo("a", 1), New("Player").WhereLessThan("b", 2))
	assert.JSONEq(t, `{"$or":[{"a":1},{"b":{"$lt":2}}]}`, whereJSON(t, q))
}

func TestQuery_SubQueryErrorsPropagate(t *testing.T) {
	bad := New("Team").SetLimit(0)
	q := New("Player").WhereMatchesQuery("team", bad)
	assert.Equal(t, bad.Err(), q.Err())

	q = New("Player").WhereRelatedTo(target{"Team", ""}, "members")
	_, err := q.Params(false)
	assert.True(t, ncmberrors.IsCode(err, ncmberrors.CodeGeneric))
}

func TestQuery_OrderLimitSkipInclude(t *testing.T) {
	q := New("TestClass").
		AddOrderByAscending("a").
		AddOrderByDescending("b").
		AddOrderByAscending("c").
		SetLimit(50).
		SetSkip(10).
		SetIncludeKey("owner", "team")
	assert.Equal(t, "a,-b,c", q.Order())

	q.DeleteOrder("b")
	assert.Equal(t, "a,c", q.Order())
	q.AddOrderByDescending("a")
	assert.Equal(t, "c,-a", q.Order())

	p, err := q.Params(true)
	require.NoError(t, err)
	assert.Equal(t, "c,-a", p.Get("order"))
	assert.Equal(t, "50", p.Get("limit"))
	assert.Equal(t, "10", p.Get("skip"))
	assert.Equal(t, "owner,team", p.Get("include"))
	assert.Equal(t, "1", p.Get("count"))
	assert.Empty(t, p.Get("where"))

	q.OrderByDescending("z")
	assert.Equal(t, "-z", q.Order())
}

func TestQuery_LimitBounds(t *testing.T) {
	for _, n := range []int{0, -1, MaxLimit + 1} {
		q := New("TestClass").SetLimit(n)
		assert.Truef(t, ncmberrors.IsCode(q.Err(), ncmberrors.CodeGeneric), "limit %d", n)
	}
	assert.NoError(t, New("TestClass").SetLimit(MaxLimit).Err())
	assert.Error(t, New("TestClass").SetSkip(-1).Err())
}

func TestQuery_SetWhereAndClone(t *testing.T) {
	q := New("TestClass").SetWhere([]byte(`{"testKey":"testValue"}`))
	assert.Equal(t, `{"testKey":"testValue"}`, whereJSON(t, q))

	c := q.Clone()
	c.WhereEqualTo("other", 1)
	assert.Equal(t, `{"testKey":"testValue"}`, whereJSON(t, q))

	bad := New("TestClass").SetWhere([]byte(`{"a":`))
	assert.True(t, ncmberrors.IsCode(bad.Err(), ncmberrors.CodeGeneric))
}

func TestQuery_FirstErrorWins(t *testing.T) {
	q := New("TestClass").WhereEqualTo("k", struct{}{}).SetLimit(0)
	assert.True(t, ncmberrors.IsCode(q.Err(), ncmberrors.CodeInvalidType))
}
