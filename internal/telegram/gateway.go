package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// The Bot is the access gateway and notifier for the reconciler and the
// lifecycle scheduler: invite links in, kicked members out, DMs to users.

// IssueSingleUseInvite creates a one-member, time-bounded invite link to
// the restricted group.
func (b *Bot) IssueSingleUseInvite(ctx context.Context, groupID int64, expireAt time.Time) (string, error) {
	link, err := b.bot.CreateChatInviteLink(ctx, &bot.CreateChatInviteLinkParams{
		ChatID:      groupID,
		MemberLimit: 1,
		ExpireDate:  int(expireAt.Unix()),
	})
	if err != nil {
		return "", fmt.Errorf("create invite link: %w", err)
	}

	return link.InviteLink, nil
}

// RemoveMember kicks a user from the group and immediately lifts the ban,
// so a later re-purchase can re-join through a fresh invite.
func (b *Bot) RemoveMember(ctx context.Context, groupID, userID int64) error {
	if _, err := b.bot.BanChatMember(ctx, &bot.BanChatMemberParams{
		ChatID: groupID,
		UserID: userID,
	}); err != nil {
		return fmt.Errorf("ban member: %w", err)
	}

	if _, err := b.bot.UnbanChatMember(ctx, &bot.UnbanChatMemberParams{
		ChatID:       groupID,
		UserID:       userID,
		OnlyIfBanned: true,
	}); err != nil {
		return fmt.Errorf("unban member: %w", err)
	}

	return nil
}

// SendDirectMessage sends a single best-effort DM to a user.
func (b *Bot) SendDirectMessage(ctx context.Context, userID int64, text string) error {
	disablePreview := true
	_, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    userID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
	return err
}
