package session

import (
	"encoding/json"
	"strings"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

// Fixed document names.
const (
	CurrentUser         = "currentUser"
	CurrentInstallation = "currentInstallation"
)

// FormatVersion is written into every saved document. Documents without it are
// read with the legacy flat layout.
const FormatVersion = 2

const (
	keySessionToken = "sessionToken"
	keyDeviceToken  = "deviceToken"
	keyChannels     = "channels"
	legacyClassKey  = "classname"
)

// Document is the persisted snapshot of the current user or installation.
type Document struct {
	ClassName    string
	Data         *types.Object
	SessionToken string
	DeviceToken  string
}

type wireDocument struct {
	FormatVersion int             `json:"formatVersion"`
	ClassName     string          `json:"className"`
	Data          json.RawMessage `json:"data"`
	SessionToken  string          `json:"sessionToken,omitempty"`
	DeviceToken   string          `json:"deviceToken,omitempty"`
}

// Encode renders d in the current format.
func (d Document) Encode() ([]byte, error) {
	data, err := d.Data.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireDocument{
		FormatVersion: FormatVersion,
		ClassName:     d.ClassName,
		Data:          data,
		SessionToken:  d.SessionToken,
		DeviceToken:   d.DeviceToken,
	})
}

// Decode reads either format. defaultClass names the class when a legacy
// document does not carry one.
func Decode(raw []byte, defaultClass string) (Document, error) {
	obj, err := types.ParseObject(raw)
	if err != nil {
		return Document{}, ncmberrors.Wrap(ncmberrors.CodeInvalidJSON, err, "corrupt session document")
	}
	if v, ok := obj.Get("formatVersion"); ok {
		switch ver := v.AsInt64(); {
		case ver > FormatVersion:
			return Document{}, ncmberrors.Wrap(ncmberrors.CodeGeneric, ErrNewerFormat, "session document version %d", ver)
		case ver != FormatVersion:
			return Document{}, ncmberrors.New(ncmberrors.CodeGeneric, "unsupported session document version %d", ver)
		}
		return decodeCurrent(obj, defaultClass), nil
	}
	return decodeLegacy(obj, defaultClass), nil
}

func decodeCurrent(obj *types.Object, defaultClass string) Document {
	d := Document{ClassName: stringField(obj, "className"), Data: types.NewObject()}
	if data, ok := obj.Get("data"); ok && data.AsObject() != nil {
		d.Data = data.AsObject()
	}
	d.SessionToken = stringField(obj, keySessionToken)
	d.DeviceToken = stringField(obj, keyDeviceToken)
	if d.DeviceToken == "" {
		d.DeviceToken = stringField(d.Data, keyDeviceToken)
	}
	if d.ClassName == "" {
		d.ClassName = defaultClass
	}
	return d
}

// decodeLegacy handles the flat layout: fields at top level, an optional
// "classname" key, the session token among the fields and channels stored as
// a string.
func decodeLegacy(obj *types.Object, defaultClass string) Document {
	d := Document{ClassName: defaultClass, Data: obj}
	if cls := stringField(obj, legacyClassKey); cls != "" {
		d.ClassName = cls
	}
	obj.Delete(legacyClassKey)
	d.SessionToken = stringField(obj, keySessionToken)
	obj.Delete(keySessionToken)
	d.DeviceToken = stringField(obj, keyDeviceToken)

	if ch, ok := obj.Get(keyChannels); ok && ch.Kind() == types.KindString {
		obj.Set(keyChannels, legacyChannels(ch.AsString()))
	}
	return d
}

// legacyChannels accepts "[\"a\",\"b\"]" as well as "a,b".
func legacyChannels(s string) types.Value {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		if v, err := types.ParseValue([]byte(s)); err == nil && v.Kind() == types.KindArray {
			return v
		}
	}
	out := []types.Value{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, types.StringValue(p))
		}
	}
	return types.ArrayValue(out)
}

func stringField(obj *types.Object, key string) string {
	v, _ := obj.Get(key)
	return v.AsString()
}
