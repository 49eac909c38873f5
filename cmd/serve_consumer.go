package cmd

import (
	"context"
	"log/slog"

	"github.com/syneagent/syne/internal/agent"
	"github.com/syneagent/syne/internal/bus"
	"github.com/syneagent/syne/internal/comm"
	"github.com/syneagent/syne/internal/identity"
	"github.com/syneagent/syne/internal/store"
)

// consumeInbound is the single Conversation Manager re-entry point: every
// channel adapter publishes inbound messages onto the shared bus, and this
// loop resolves the sender's identity, rebuilds the channel-agnostic
// InboundContext the channel layer flattened into InboundMessage.Metadata,
// runs one turn through the Loop, and publishes the result back out.
// Grounded on the teacher's cmd/gateway_consumer.go dispatch idea,
// generalized from its multi-agent Router lookup down to the one shared
// Loop this system runs.
func consumeInbound(ctx context.Context, msgBus *bus.MessageBus, resolver *identity.Resolver, loop *agent.Loop) {
	slog.Info("inbound message consumer started")
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		go handleInbound(ctx, msgBus, resolver, loop, msg)
	}
}

func handleInbound(ctx context.Context, msgBus *bus.MessageBus, resolver *identity.Resolver, loop *agent.Loop, msg bus.InboundMessage) {
	displayName := msg.Metadata["first_name"]
	if displayName == "" {
		displayName = msg.Metadata["user_name"]
	}
	if displayName == "" {
		displayName = msg.SenderID
	}

	user, err := resolver.Resolve(ctx, msg.Channel, msg.UserID, displayName)
	if err != nil {
		slog.Error("inbound: identity resolution failed", "channel", msg.Channel, "error", err)
		return
	}
	if user.AccessLevel == store.AccessBlocked {
		return
	}
	if user.AccessLevel == store.AccessPending {
		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: "Your access request is pending owner approval.",
		})
		return
	}

	isGroup := msg.PeerKind == "group" || msg.Metadata["is_group"] == "true"
	chatType := comm.ChatDirect
	if isGroup {
		chatType = comm.ChatGroup
	}

	turn := agent.Turn{
		Platform:          msg.Channel,
		ChatID:            msg.ChatID,
		UserID:            user.ID,
		CallerAccess:      user.AccessLevel,
		IsGroup:           isGroup,
		Text:              msg.Content,
		IncomingMessageID: msg.Metadata["message_id"],
		Inbound: comm.InboundContext{
			Channel:        msg.Channel,
			Platform:       msg.Channel,
			ChatType:       chatType,
			ChatID:         msg.ChatID,
			SenderName:     displayName,
			SenderID:       msg.SenderID,
			SenderUsername: msg.Metadata["username"],
			WasMentioned:   true,
		},
	}

	result, err := loop.Run(ctx, turn)
	if err != nil {
		slog.Error("inbound: turn failed", "channel", msg.Channel, "chat", msg.ChatID, "error", err)
		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: "Something went wrong processing that message.",
		})
		return
	}
	if result == nil || result.Text == "" {
		return
	}

	out := bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: result.Text,
	}
	if result.MediaPath != "" {
		out.Media = []bus.MediaAttachment{{URL: result.MediaPath}}
	}
	if result.ReplyToMessageID != "" || len(result.Reactions) > 0 {
		out.Metadata = map[string]string{}
		if result.ReplyToMessageID != "" {
			out.Metadata["reply_to_message_id"] = result.ReplyToMessageID
		}
		if len(result.Reactions) > 0 {
			out.Metadata["reactions"] = result.Reactions[0]
		}
	}
	msgBus.PublishOutbound(out)
}
