package client

import (
	"context"

	"github.com/ncmb/ncmb-go/client/internal/shardqueue"
)

// executor abstracts the internal async job runner used by the InBackground
// variants.
type executor interface {
	Submit(context.Context, string, shardqueue.Job) error
	Barrier(context.Context, string) error
	Stop()
}
