package client

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/ncmb/ncmb-go/client/internal/api"
	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/session"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

const (
	keyDeviceToken     = "deviceToken"
	keyDeviceType      = "deviceType"
	keyChannels        = "channels"
	keyApplicationName = "applicationName"
	keyAppVersion      = "appVersion"
	keySDKVersion      = "sdkVersion"
	keyTimeZone        = "timeZone"
	keyBadge           = "badge"
)

// Device types the server accepts.
const (
	DeviceTypeAndroid = "android"
	DeviceTypeIOS     = "ios"
)

// AppInfo pre-fills new installations.
type AppInfo struct {
	ApplicationName string
	AppVersion      string
	DeviceType      string // android or ios; defaults to android
	TimeZone        string // IANA name; defaults to the local zone
}

func defaultAppInfo() AppInfo {
	tz := time.Local.String()
	if tz == "Local" {
		tz = "UTC"
	}
	return AppInfo{DeviceType: DeviceTypeAndroid, TimeZone: tz}
}

// Installation is a device registered for push delivery. The Client tracks one
// current installation and persists it in its Store.
type Installation struct {
	*record
	current bool
}

// NewInstallation returns an unsaved installation pre-filled from AppInfo.
func (c *Client) NewInstallation() *Installation {
	in := c.installationFrom(types.NewContainer(ClassInstallation))
	in.fields.PutValue(keyDeviceType, types.StringValue(c.app.DeviceType))
	in.fields.PutValue(keySDKVersion, types.StringValue(Version))
	in.fields.PutValue(keyTimeZone, types.StringValue(c.app.TimeZone))
	if c.app.ApplicationName != "" {
		in.fields.PutValue(keyApplicationName, types.StringValue(c.app.ApplicationName))
	}
	if c.app.AppVersion != "" {
		in.fields.PutValue(keyAppVersion, types.StringValue(c.app.AppVersion))
	}
	return in
}

// NewInstallationWithID references an existing installation.
func (c *Client) NewInstallationWithID(objectID string) *Installation {
	in := c.installationFrom(types.NewContainer(ClassInstallation))
	in.fields.SetObjectID(objectID)
	return in
}

func (c *Client) installationFrom(fields *types.Container) *Installation {
	in := &Installation{record: newRecord(c, fields, api.InstallationPath)}
	in.self = in
	return in
}

// CurrentInstallation returns this device's installation: the stored one,
// or a new pre-filled one that becomes current once saved.
func (c *Client) CurrentInstallation() *Installation {
	doc, ok := c.session.CurrentInstallation()
	var in *Installation
	if ok {
		in = c.installationFrom(types.NewContainerFromObject(ClassInstallation, doc.Data))
		if doc.DeviceToken != "" && in.DeviceToken() == "" {
			in.fields.Merge(objectWith(keyDeviceToken, doc.DeviceToken))
		}
	} else {
		in = c.NewInstallation()
	}
	in.current = true
	return in
}

func (in *Installation) DeviceToken() string { return in.String(keyDeviceToken) }

func (in *Installation) SetDeviceToken(token string) {
	in.fields.PutValue(keyDeviceToken, types.StringValue(token))
}

func (in *Installation) DeviceType() string { return in.String(keyDeviceType) }

func (in *Installation) Channels() []string { return in.StringList(keyChannels) }

// SetChannels replaces the channel list.
func (in *Installation) SetChannels(channels ...string) error {
	return in.Put(keyChannels, channels)
}

// SubscribeChannels adds channels without duplicates on the next save.
func (in *Installation) SubscribeChannels(channels ...string) error {
	return in.AddUniqueToList(keyChannels, toAny(channels)...)
}

// UnsubscribeChannels removes channels on the next save.
func (in *Installation) UnsubscribeChannels(channels ...string) error {
	return in.RemoveFromList(keyChannels, toAny(channels)...)
}

func (in *Installation) Badge() int { return in.Int(keyBadge) }

func (in *Installation) SetBadge(n int) { in.fields.PutValue(keyBadge, types.IntValue(int64(n))) }

// Save registers or updates the installation. A device token is required.
// When the token is already registered the existing installation is looked
// up and updated instead, once.
func (in *Installation) Save(ctx context.Context) error {
	if in.DeviceToken() == "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "device token is required")
	}
	if in.ObjectID() != "" {
		if err := in.updateFields(ctx, api.InstallationPath(in.ObjectID())); err != nil {
			return err
		}
		return in.persistIfCurrent(ctx)
	}

	err := in.createFields(ctx, api.InstallationPath(""))
	if ncmberrors.IsCode(err, ncmberrors.CodeDuplicateValue) {
		id, lookupErr := in.client.installationIDByToken(ctx, in.DeviceToken())
		if lookupErr != nil {
			return lookupErr
		}
		if id == "" {
			return err
		}
		in.client.log.Debug().Str("installation", id).Msg("device token already registered, updating existing installation")
		// Every local field goes out as an update.
		body, sent := in.fields.CreatePayload()
		resp, updErr := in.client.conn.Update(ctx, api.InstallationPath(id), body)
		if updErr != nil {
			return updErr
		}
		in.fields.CommitSave(sent, resp)
		in.fields.SetObjectID(id)
		err = nil
	}
	if err != nil {
		return err
	}
	return in.persistIfCurrent(ctx)
}

func (in *Installation) Fetch(ctx context.Context) error {
	if err := in.fetchFields(ctx, nil); err != nil {
		return err
	}
	return in.persistIfCurrent(ctx)
}

// Delete unregisters the installation; deleting the current one forgets it
// locally.
func (in *Installation) Delete(ctx context.Context) error {
	current := in.isCurrent()
	if err := in.deleteFields(ctx); err != nil {
		return err
	}
	if current {
		return in.client.session.ClearCurrentInstallation(ctx)
	}
	return nil
}

func (in *Installation) isCurrent() bool {
	if in.current {
		return true
	}
	id := in.ObjectID()
	return id != "" && id == in.client.session.CurrentInstallationID()
}

func (in *Installation) persistIfCurrent(ctx context.Context) error {
	if !in.isCurrent() {
		return nil
	}
	in.current = true
	return in.client.session.SetCurrentInstallation(ctx, session.Document{
		ClassName:   ClassInstallation,
		Data:        in.fields.Snapshot(),
		DeviceToken: in.DeviceToken(),
	})
}

// installationIDByToken returns the objectId registered for token, or "".
func (c *Client) installationIDByToken(ctx context.Context, token string) (string, error) {
	where, err := json.Marshal(map[string]string{keyDeviceToken: token})
	if err != nil {
		return "", ncmberrors.Wrap(ncmberrors.CodeInvalidType, err, "encode where")
	}
	res, err := c.conn.Search(ctx, api.InstallationPath(""), url.Values{"where": {string(where)}, "limit": {"1"}})
	if err != nil {
		return "", err
	}
	if len(res.Results) == 0 {
		return "", nil
	}
	v, _ := res.Results[0].Get(types.KeyObjectID)
	return v.AsString(), nil
}

// NewInstallationQuery searches installations.
func (c *Client) NewInstallationQuery() *Query[*Installation] {
	return newQuery(c, ClassInstallation, api.InstallationPath(""), func(obj *types.Object) *Installation {
		return c.installationFrom(types.NewContainerFromObject(ClassInstallation, obj))
	})
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
