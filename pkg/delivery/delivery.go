// Package delivery routes proactive messages produced by background work
// (task notifications, scheduled reminders) to their destination channel.
package delivery

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/store"
)

// Deliverer sends a proactive assistant message to a channel.
type Deliverer interface {
	// Deliver sends content to channelID.
	Deliver(ctx context.Context, channelID, content string) error
}

// StoreDeliverer appends proactive messages to the channel's persisted
// transcript, where the next client poll picks them up.
type StoreDeliverer struct {
	store store.Store
	node  *snowflake.Node
	log   *zap.Logger
}

// NewStoreDeliverer creates a transcript-backed deliverer.
func NewStoreDeliverer(st store.Store, node *snowflake.Node, log *zap.Logger) *StoreDeliverer {
	return &StoreDeliverer{
		store: st,
		node:  node,
		log:   log,
	}
}

// Deliver appends content as an assistant message on channelID. A message
// with no channel has nowhere to go; it is logged and dropped rather than
// failing the producing task.
func (d *StoreDeliverer) Deliver(ctx context.Context, channelID, content string) error {
	if channelID == "" {
		d.log.Warn("notification without a channel dropped",
			zap.String("content", content))
		return nil
	}

	return d.store.AppendMessage(ctx, &store.ChannelMessage{
		ID:        d.node.Generate().Int64(),
		ChannelID: channelID,
		Role:      "assistant",
		Content:   content,
	})
}
