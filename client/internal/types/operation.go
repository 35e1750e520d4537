package types

import (
	"bytes"
	"encoding/json"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
)

// OpKind names a server-side atomic mutation.
type OpKind string

const (
	OpIncrement      OpKind = "Increment"
	OpAdd            OpKind = "Add"
	OpAddUnique      OpKind = "AddUnique"
	OpRemove         OpKind = "Remove"
	OpAddRelation    OpKind = "AddRelation"
	OpRemoveRelation OpKind = "RemoveRelation"
)

// Operation is a pending mutation sent in place of a plain value.
type Operation struct {
	Kind    OpKind
	Amount  Value   // Increment only
	Objects []Value // list and relation operations
}

// NewIncrement validates that amount is numeric.
func NewIncrement(amount any) (*Operation, error) {
	v, err := FromAny(amount)
	if err != nil {
		return nil, err
	}
	if !isNumber(v) {
		return nil, ncmberrors.New(ncmberrors.CodeInvalidType, "increment amount must be numeric, got %s", v.kind)
	}
	return &Operation{Kind: OpIncrement, Amount: v}, nil
}

// NewListOperation builds Add, AddUnique or Remove over values.
func NewListOperation(kind OpKind, values []any) (*Operation, error) {
	switch kind {
	case OpAdd, OpAddUnique, OpRemove:
	default:
		return nil, ncmberrors.New(ncmberrors.CodeGeneric, "%s is not a list operation", kind)
	}
	objs := make([]Value, 0, len(values))
	for _, x := range values {
		v, err := FromAny(x)
		if err != nil {
			return nil, err
		}
		objs = append(objs, v)
	}
	return &Operation{Kind: kind, Objects: objs}, nil
}

// NewRelationOperation builds AddRelation or RemoveRelation. Every target must
// already have an objectId.
func NewRelationOperation(kind OpKind, targets []PointerTarget) (*Operation, error) {
	if kind != OpAddRelation && kind != OpRemoveRelation {
		return nil, ncmberrors.New(ncmberrors.CodeGeneric, "%s is not a relation operation", kind)
	}
	if len(targets) == 0 {
		return nil, ncmberrors.New(ncmberrors.CodeGeneric, "relation operation needs at least one object")
	}
	objs := make([]Value, 0, len(targets))
	for _, t := range targets {
		p, err := PointerTo(t)
		if err != nil {
			return nil, err
		}
		objs = append(objs, PointerValue(p))
	}
	return &Operation{Kind: kind, Objects: objs}, nil
}

// mergeIncrement folds next into o when both are increments. The sum stays
// integral unless either amount is fractional.
func (o *Operation) mergeIncrement(next *Operation) *Operation {
	if o == nil || o.Kind != OpIncrement || next.Kind != OpIncrement {
		return next
	}
	if o.Amount.kind == KindInt && next.Amount.kind == KindInt {
		return &Operation{Kind: OpIncrement, Amount: IntValue(o.Amount.i + next.Amount.i)}
	}
	return &Operation{Kind: OpIncrement, Amount: FloatValue(o.Amount.AsFloat64() + next.Amount.AsFloat64())}
}

// withoutIncrement is o less an amount already applied by the server.
func (o *Operation) withoutIncrement(applied *Operation) *Operation {
	if applied == nil || applied.Kind != OpIncrement {
		return o
	}
	if o.Amount.kind == KindInt && applied.Amount.kind == KindInt {
		return &Operation{Kind: OpIncrement, Amount: IntValue(o.Amount.i - applied.Amount.i)}
	}
	return &Operation{Kind: OpIncrement, Amount: FloatValue(o.Amount.AsFloat64() - applied.Amount.AsFloat64())}
}

func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	c := &Operation{Kind: o.Kind, Amount: o.Amount.Clone()}
	if o.Objects != nil {
		c.Objects = make([]Value, len(o.Objects))
		for i, v := range o.Objects {
			c.Objects[i] = v.Clone()
		}
	}
	return c
}

// MarshalJSON renders {"__op":"Increment","amount":n} or
// {"__op":"Add","objects":[...]}.
func (o *Operation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"__op":`)
	kb, err := json.Marshal(string(o.Kind))
	if err != nil {
		return nil, err
	}
	buf.Write(kb)
	if o.Kind == OpIncrement {
		buf.WriteString(`,"amount":`)
		ab, err := o.Amount.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(ab)
	} else {
		buf.WriteString(`,"objects":`)
		ob, err := marshalArray(o.Objects)
		if err != nil {
			return nil, err
		}
		buf.Write(ob)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeOperation recognises operation documents, including the Delete marker.
func decodeOperation(kind string, obj *Object) (Value, bool) {
	switch OpKind(kind) {
	case "Delete":
		return deleteMarker(), true
	case OpIncrement:
		amount, ok := obj.Get("amount")
		if !ok || !isNumber(amount) {
			return Null(), false
		}
		return OperationValue(&Operation{Kind: OpIncrement, Amount: amount}), true
	case OpAdd, OpAddUnique, OpRemove, OpAddRelation, OpRemoveRelation:
		objs, ok := obj.Get("objects")
		if !ok || objs.kind != KindArray {
			return Null(), false
		}
		return OperationValue(&Operation{Kind: OpKind(kind), Objects: objs.arr}), true
	}
	return Null(), false
}
