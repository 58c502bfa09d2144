package embedstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mcbagz/ladchat/ai/internal/strutil"
	"github.com/mcbagz/ladchat/store"
)

const (
	groupMessageLimit = 50
	groupSnapLimit    = 20
	groupPartLimit    = 100
	// groupPartRunes caps the length of a single message.
	groupPartRunes = 500
)

// UserProfileText is the embedder input for a user.
func UserProfileText(user *store.User) string {
	bio := strings.TrimSpace(user.Bio)
	if bio == "" {
		bio = "No bio provided"
	}
	interests := strings.Join(user.Interests, ", ")
	if len(user.Interests) == 0 {
		interests = "No interests listed"
	}
	return fmt.Sprintf("User Profile:\nBio: %s\nInterests: %s\n\n"+
		"This person is looking to make friends and connect with others who share similar interests and values.",
		bio, interests)
}

// EventText is the embedder input for an event.
func EventText(event *store.Event) string {
	title := event.Title
	if title == "" {
		title = "Event"
	}
	return fmt.Sprintf("Event: %s\n\nLocation: %s\n\nDescription: %s\n\nStory: %s\n\n"+
		"This is a social event where people can meet, connect, and enjoy activities together.",
		title, event.LocationName, event.Description, event.Story)
}

// GroupText is the embedder input for a group. parts holds message and snap content, newest first.
func GroupText(group *store.Group, parts []string) string {
	if len(parts) == 0 && strings.TrimSpace(group.Description) == "" {
		return fmt.Sprintf("This is a group chat named '%s'. The group is just getting started and looking to build community.", group.Name)
	}

	content := []string{"Group name: " + group.Name}
	if group.Description != "" {
		content = append(content, "Group description: "+group.Description)
	}
	content = append(content, parts...)
	if len(content) > groupPartLimit {
		content = content[:groupPartLimit]
	}
	return fmt.Sprintf("Group Chat Analysis for '%s':\n\n%s\n\n"+
		"This represents the collective interests, communication style, and activities of this group.",
		group.Name, strings.Join(content, " "))
}

// ImageDescriber describes images for snap content.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, url string) (string, error)
}

// SnapText summarises a snap, or returns "" when it carries nothing useful.
// A failed image description drops only the image part.
func SnapText(ctx context.Context, describer ImageDescriber, snap *store.Snap) string {
	parts := []string{}
	if snap.Caption != "" {
		parts = append(parts, "Caption: "+snap.Caption)
	}
	if strings.HasPrefix(snap.MediaType, "image") && snap.MediaURL != "" && describer != nil {
		description, err := describer.DescribeImage(ctx, snap.MediaURL)
		if err != nil {
			slog.Debug("failed to describe snap image", "snap_id", snap.ID, "error", err)
		} else if description != "" {
			parts = append(parts, "Image: "+description)
		}
	}
	if strings.HasPrefix(snap.MediaType, "video") && snap.Caption == "" {
		parts = append(parts, "Shared a video")
	}
	return strings.Join(parts, " ")
}

// ContentReader is the slice of the relational store needed to synthesise embedder input.
type ContentReader interface {
	DomainReader
	ListGroupMessages(ctx context.Context, find *store.FindGroupMessage) ([]*store.GroupMessage, error)
	ListSnaps(ctx context.Context, find *store.FindSnap) ([]*store.Snap, error)
}

// groupParts collects recent text messages and snaps for a group.
func groupParts(ctx context.Context, reader ContentReader, describer ImageDescriber, groupID int32) ([]string, error) {
	messageType := "text"
	messages, err := reader.ListGroupMessages(ctx, &store.FindGroupMessage{
		GroupID:     groupID,
		MessageType: &messageType,
		Limit:       groupMessageLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list group messages: %w", err)
	}
	snaps, err := reader.ListSnaps(ctx, &store.FindSnap{GroupID: &groupID, Limit: groupSnapLimit})
	if err != nil {
		return nil, fmt.Errorf("list snaps: %w", err)
	}

	parts := make([]string, 0, len(messages)+len(snaps))
	for _, message := range messages {
		if message.IsDeleted || strings.TrimSpace(message.Content) == "" {
			continue
		}
		parts = append(parts, strutil.Truncate(message.Content, groupPartRunes))
	}
	for _, snap := range snaps {
		if text := SnapText(ctx, describer, snap); text != "" {
			parts = append(parts, text)
		}
	}
	return parts, nil
}
