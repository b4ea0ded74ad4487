package notify

import (
	"fmt"
	"time"
)

const (
	codeEmbedColor  = 5865242
	codeEmbedTitle  = "Dashboard Access Code"
	codeEmbedFooter = "Secure Dashboard Access System"

	announcementFooter = "Announcement Center"
)

type priorityStyle struct {
	color int
	emoji string
}

var priorityStyles = map[string]priorityStyle{
	"info":   {color: 4437377, emoji: "ℹ️"},
	"update": {color: 16426522, emoji: "🔔"},
	"alert":  {color: 15746887, emoji: "⚠️"},
}

// CodeMessage builds the embed that carries a freshly issued access code.
func CodeMessage(code string, ttl time.Duration, now time.Time) Message {
	now = now.UTC()
	return Message{Embeds: []Embed{{
		Title:       codeEmbedTitle,
		Color:       codeEmbedColor,
		Description: fmt.Sprintf("This code expires in %s and is single-use only.", humanDuration(ttl)),
		Fields: []Field{
			{Name: "Access Code", Value: "`" + code + "`", Inline: true},
			{Name: "Timestamp", Value: now.Format("15:04:05 MST"), Inline: true},
		},
		Footer:    &Footer{Text: codeEmbedFooter},
		Timestamp: now.Format(time.RFC3339),
	}}}
}

// AnnouncementMessage builds the embed for a published announcement.
// Unknown priorities are styled as info.
func AnnouncementMessage(title, content, priority string, at time.Time) Message {
	style, ok := priorityStyles[priority]
	if !ok {
		style = priorityStyles["info"]
	}
	return Message{Embeds: []Embed{{
		Title:       style.emoji + " " + title,
		Description: content,
		Color:       style.color,
		Footer:      &Footer{Text: announcementFooter},
		Timestamp:   at.UTC().Format(time.RFC3339),
	}}}
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		n := int(d / time.Minute)
		if n == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", n)
	case d >= time.Second && d%time.Second == 0:
		n := int(d / time.Second)
		if n == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", n)
	default:
		return d.String()
	}
}
