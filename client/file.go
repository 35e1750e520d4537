package client

import (
	"context"
	"sync"

	"github.com/ncmb/ncmb-go/client/internal/api"
	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

const (
	keyFileName = "fileName"
	keyMimeType = "mimeType"
)

// File is a named blob in file storage. The name is its identity; there is
// no objectId in the path.
type File struct {
	*record

	name        string
	mu          sync.Mutex
	data        []byte
	contentType string
}

// NewFile returns a file that Save uploads.
func (c *Client) NewFile(name string, data []byte) *File {
	f := c.fileFrom(name, types.NewContainer(ClassFile))
	f.data = data
	return f
}

func (c *Client) fileFrom(name string, fields *types.Container) *File {
	f := &File{name: name}
	f.record = newRecord(c, fields, func(string) string { return api.FilePath(f.name) })
	f.self = f
	return f
}

func (f *File) FileName() string { return f.name }

// Data returns the bytes given to NewFile or read by Fetch.
func (f *File) Data() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data
}

// SetContentType overrides content sniffing on upload.
func (f *File) SetContentType(ct string) {
	f.mu.Lock()
	f.contentType = ct
	f.mu.Unlock()
}

// executorKey uses the file name, the file's identity.
func (f *File) executorKey() string { return ClassFile + "/" + f.name }

func (f *File) uploaded() bool { return !f.CreateDate().IsZero() }

// Save uploads the file the first time, afterwards it only updates the ACL.
func (f *File) Save(ctx context.Context) error {
	if f.name == "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "file name is required")
	}
	if f.uploaded() {
		return f.updateFields(ctx, api.FilePath(f.name))
	}
	f.mu.Lock()
	data, ct := f.data, f.contentType
	f.mu.Unlock()
	if data == nil {
		return ncmberrors.New(ncmberrors.CodeGeneric, "file %q has no data", f.name)
	}
	_, sent := f.fields.DirtyPayload()
	resp, err := f.client.conn.UploadFile(ctx, f.name, ct, data, f.ACL())
	if err != nil {
		return err
	}
	f.fields.CommitSave(sent, resp)
	return nil
}

// Fetch downloads the file's bytes.
func (f *File) Fetch(ctx context.Context) error {
	if f.name == "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "file name is required")
	}
	data, err := f.client.conn.DownloadFile(ctx, f.name)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.data = data
	f.mu.Unlock()
	return nil
}

// Delete removes the file from storage and drops the local bytes.
func (f *File) Delete(ctx context.Context) error {
	if f.name == "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "file name is required")
	}
	if err := f.client.conn.Delete(ctx, api.FilePath(f.name)); err != nil {
		return err
	}
	f.fields.Reset()
	f.mu.Lock()
	f.data = nil
	f.mu.Unlock()
	return nil
}

// SaveInBackground and the other background variants queue by file name.
func (f *File) SaveInBackground(ctx context.Context, cb func(error)) *Task[struct{}] {
	return submitErr(ctx, f.client, f.executorKey(), f.Save, cb)
}

func (f *File) FetchInBackground(ctx context.Context, cb func(error)) *Task[struct{}] {
	return submitErr(ctx, f.client, f.executorKey(), f.Fetch, cb)
}

func (f *File) DeleteInBackground(ctx context.Context, cb func(error)) *Task[struct{}] {
	return submitErr(ctx, f.client, f.executorKey(), f.Delete, cb)
}

// MimeType is the type recorded by the server, available on query results.
func (f *File) MimeType() string { return f.String(keyMimeType) }

// NewFileQuery searches file metadata. Results carry no bytes until fetched.
func (c *Client) NewFileQuery() *Query[*File] {
	return newQuery(c, ClassFile, api.FilePath(""), func(obj *types.Object) *File {
		name := ""
		if v, ok := obj.Get(keyFileName); ok {
			name = v.AsString()
		}
		return c.fileFrom(name, types.NewContainerFromObject(ClassFile, obj))
	})
}
