package client

import (
	"context"
	"time"

	"github.com/ncmb/ncmb-go/client/internal/api"
	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

// Push is a notification registered for delivery. Delivery options are
// validated by the server.
type Push struct {
	*record
}

// NewPush returns an unsent push.
func (c *Client) NewPush() *Push {
	return c.pushFrom(types.NewContainer(ClassPush))
}

// NewPushWithID references an existing push.
func (c *Client) NewPushWithID(objectID string) *Push {
	p := c.NewPush()
	p.fields.SetObjectID(objectID)
	return p
}

func (c *Client) pushFrom(fields *types.Container) *Push {
	p := &Push{record: newRecord(c, fields, api.PushPath)}
	p.self = p
	return p
}

func (p *Push) setString(key, v string)    { p.fields.PutValue(key, types.StringValue(v)) }
func (p *Push) setBool(key string, v bool) { p.fields.PutValue(key, types.BoolValue(v)) }

func (p *Push) Message() string             { return p.String("message") }
func (p *Push) SetMessage(m string)         { p.setString("message", m) }
func (p *Push) Title() string               { return p.String("title") }
func (p *Push) SetTitle(t string)           { p.setString("title", t) }
func (p *Push) SetSound(s string)           { p.setString("sound", s) }
func (p *Push) SetRichURL(u string)         { p.setString("richUrl", u) }
func (p *Push) SetAction(a string)          { p.setString("action", a) }
func (p *Push) SetCategory(c string)        { p.setString("category", c) }
func (p *Push) SetDialog(on bool)           { p.setBool("dialog", on) }
func (p *Push) SetContentAvailable(on bool) { p.setBool("contentAvailable", on) }
func (p *Push) SetBadgeIncrement(on bool)   { p.setBool("badgeIncrementFlag", on) }

// SetTarget restricts delivery to device types (android, ios).
func (p *Push) SetTarget(deviceTypes ...string) error {
	return p.Put("target", deviceTypes)
}

// SetImmediateDelivery sends as soon as the push is saved.
func (p *Push) SetImmediateDelivery(on bool) { p.setBool("immediateDeliveryFlag", on) }

// SetDeliveryTime schedules delivery.
func (p *Push) SetDeliveryTime(t time.Time) {
	p.fields.PutValue("deliveryTime", types.DateValue(t))
}

// SetDeliveryExpirationDate and SetDeliveryExpirationTime are mutually
// exclusive on the server; the latter takes a duration such as "3 day".
func (p *Push) SetDeliveryExpirationDate(t time.Time) {
	p.fields.PutValue("deliveryExpirationDate", types.DateValue(t))
}

func (p *Push) SetDeliveryExpirationTime(d string) { p.setString("deliveryExpirationTime", d) }

func (p *Push) SetBadgeSetting(n int) {
	p.fields.PutValue("badgeSetting", types.IntValue(int64(n)))
}

// SetUserSettingValue attaches arbitrary payload data.
func (p *Push) SetUserSettingValue(v map[string]any) error {
	return p.Put("userSettingValue", v)
}

// SetSearchCondition restricts delivery to installations matching q.
func (p *Push) SetSearchCondition(q *Query[*Installation]) error {
	if err := q.Err(); err != nil {
		return err
	}
	p.fields.PutValue("searchCondition", types.ObjectValue(q.Where()))
	return nil
}

// Send registers the push; it is the same as Save.
func (p *Push) Send(ctx context.Context) error { return p.Save(ctx) }

// SendInBackground runs Send on the executor.
func (p *Push) SendInBackground(ctx context.Context, cb func(error)) *Task[struct{}] {
	return p.SaveInBackground(ctx, cb)
}

func (p *Push) Save(ctx context.Context) error   { return p.saveFields(ctx) }
func (p *Push) Fetch(ctx context.Context) error  { return p.fetchFields(ctx, nil) }
func (p *Push) Delete(ctx context.Context) error { return p.deleteFields(ctx) }

// NewPushQuery searches registered pushes.
func (c *Client) NewPushQuery() *Query[*Push] {
	return newQuery(c, ClassPush, api.PushPath(""), func(obj *types.Object) *Push {
		return c.pushFrom(types.NewContainerFromObject(ClassPush, obj))
	})
}

// TrackAppOpened records that the app was opened from pushID, reporting the
// current installation's device.
func (c *Client) TrackAppOpened(ctx context.Context, pushID string) error {
	if pushID == "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "push id is required")
	}
	in := c.CurrentInstallation()
	if in.DeviceToken() == "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "current installation has no device token")
	}
	body := types.NewObject()
	body.Set(keyDeviceType, types.StringValue(in.DeviceType()))
	body.Set(keyDeviceToken, types.StringValue(in.DeviceToken()))
	_, err := c.conn.Create(ctx, api.PushPath(pushID)+"/openNumber", body)
	return err
}
