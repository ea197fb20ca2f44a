// Package channel implements the channel service: validated channel and
// message operations over the store, each publishing its bus event on the
// success path. Minion replies re-enter through PostMessage too, so every
// message in the system flows through one append-then-publish path.
package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"legion/pkg/bus"
	"legion/pkg/entity"
	"legion/pkg/store"
)

// Service exposes channel and message operations.
type Service struct {
	bus *bus.Bus
	st  *store.Store

	// nowFunc allows tests to control timestamps.
	nowFunc func() time.Time
}

// NewService creates a channel Service.
func NewService(b *bus.Bus, st *store.Store) *Service {
	return &Service{bus: b, st: st, nowFunc: time.Now}
}

// CreateParams describes a new channel.
type CreateParams struct {
	Name      string
	Type      entity.ChannelType
	Members   []string
	CreatedBy string
}

// Create validates and persists a channel, then publishes
// channel.created.
func (s *Service) Create(ctx context.Context, p CreateParams) (*entity.Channel, error) {
	if p.Name == "" {
		return nil, &entity.ValidationError{Field: "name", Reason: "empty"}
	}
	switch p.Type {
	case entity.ChannelPublic, entity.ChannelPrivate, entity.ChannelDirect:
	case "":
		p.Type = entity.ChannelPublic
	default:
		return nil, &entity.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown channel type %q", p.Type)}
	}

	ch := entity.Channel{
		ID:        uuid.NewString(),
		Name:      p.Name,
		Type:      p.Type,
		Members:   p.Members,
		CreatedBy: p.CreatedBy,
		CreatedAt: s.nowFunc(),
	}
	if err := s.st.CreateChannel(ctx, ch); err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}

	s.bus.Publish(bus.ChannelCreated, map[string]any{
		"channel_id": ch.ID,
		"name":       ch.Name,
		"type":       string(ch.Type),
	}, p.CreatedBy)
	return &ch, nil
}

// Get returns one channel with its member set.
func (s *Service) Get(ctx context.Context, id string) (*entity.Channel, error) {
	return s.st.GetChannel(ctx, id)
}

// List returns all channels.
func (s *Service) List(ctx context.Context) ([]entity.Channel, error) {
	return s.st.ListChannels(ctx)
}

// Delete removes a channel and its membership rows, then publishes
// channel.deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.st.DeleteChannel(ctx, id); err != nil {
		return err
	}
	s.bus.Publish(bus.ChannelDeleted, map[string]any{"channel_id": id}, "channel-service")
	return nil
}

// AddMember adds a member to a channel and publishes
// channel.member_added. Membership is what makes a minion eligible to
// react in the channel.
func (s *Service) AddMember(ctx context.Context, channelID, memberID string) error {
	if memberID == "" {
		return &entity.ValidationError{Field: "member_id", Reason: "empty"}
	}
	if err := s.st.AddMember(ctx, channelID, memberID); err != nil {
		return err
	}
	s.bus.Publish(bus.ChannelMemberAdded, map[string]any{
		"channel_id": channelID,
		"member_id":  memberID,
	}, "channel-service")
	return nil
}

// RemoveMember removes a member and publishes channel.member_removed.
func (s *Service) RemoveMember(ctx context.Context, channelID, memberID string) error {
	if err := s.st.RemoveMember(ctx, channelID, memberID); err != nil {
		return err
	}
	s.bus.Publish(bus.ChannelMemberRemoved, map[string]any{
		"channel_id": channelID,
		"member_id":  memberID,
	}, "channel-service")
	return nil
}

// PostParams describes one inbound message.
type PostParams struct {
	ChannelID  string
	SenderID   string
	SenderType entity.SenderType
	Content    string
	Metadata   map[string]string
}

// PostMessage validates, appends, and publishes a message. The returned
// message confirms acceptance only; downstream effects such as minion
// replies surface later as further channel.message events.
func (s *Service) PostMessage(ctx context.Context, p PostParams) (*entity.Message, error) {
	if p.Content == "" {
		return nil, &entity.ValidationError{Field: "content", Reason: "empty"}
	}
	if p.SenderID == "" {
		return nil, &entity.ValidationError{Field: "sender_id", Reason: "empty"}
	}
	switch p.SenderType {
	case entity.SenderUser, entity.SenderMinion, entity.SenderSystem:
	case "":
		p.SenderType = entity.SenderUser
	default:
		return nil, &entity.ValidationError{Field: "sender_type", Reason: fmt.Sprintf("unknown sender type %q", p.SenderType)}
	}
	if _, err := s.st.GetChannel(ctx, p.ChannelID); err != nil {
		return nil, err
	}

	m := entity.Message{
		ID:         uuid.NewString(),
		ChannelID:  p.ChannelID,
		SenderID:   p.SenderID,
		SenderType: p.SenderType,
		Content:    p.Content,
		Metadata:   p.Metadata,
		Timestamp:  s.nowFunc(),
	}
	if err := s.st.AppendMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}

	s.bus.Publish(bus.ChannelMessage, map[string]any{
		"channel_id":  m.ChannelID,
		"message_id":  m.ID,
		"sender_id":   m.SenderID,
		"sender_type": string(m.SenderType),
		"content":     m.Content,
	}, m.SenderID)
	return &m, nil
}

// Messages returns a channel's message history in append order; a
// positive limit returns the most recent messages.
func (s *Service) Messages(ctx context.Context, channelID string, limit int) ([]entity.Message, error) {
	if _, err := s.st.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	return s.st.ListMessages(ctx, channelID, limit)
}
