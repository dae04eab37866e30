package webhook

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/JakeFAU/questwatch/internal/quest"
)

// Style is the visual accent used for a reward category.
type Style struct {
	Glyph string
	Color int
	Label string
}

var styles = map[quest.RewardCategory]Style{
	quest.RewardOrbs:  {Glyph: "🔮", Color: 0x9B59B6, Label: "Orbs"},
	quest.RewardDecor: {Glyph: "✨", Color: 0xEB459E, Label: "Decor"},
	quest.RewardOther: {Glyph: "🎁", Color: 0x95A5A6, Label: "Other"},
}

// StyleFor returns the accent for category; unknown categories use RewardOther's.
func StyleFor(category quest.RewardCategory) Style {
	if s, ok := styles[category]; ok {
		return s
	}
	return styles[quest.RewardOther]
}

// Payload is the JSON body posted to a webhook.
type Payload struct {
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Embeds    []Embed `json:"embeds"`
}

// Embed is one rich message card.
type Embed struct {
	Title       string       `json:"title"`
	URL         string       `json:"url,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Image       *EmbedImage  `json:"image,omitempty"`
	Thumbnail   *EmbedImage  `json:"thumbnail,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField is a name/value row.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter is the small print under an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// EmbedImage is an image shown in the embed.
type EmbedImage struct {
	URL string `json:"url"`
}

// BuildEmbed renders q as an embed, with relative times computed from now.
func BuildEmbed(q quest.Quest, now time.Time) Embed {
	style := StyleFor(q.Category)
	embed := Embed{
		Title:     fmt.Sprintf("%s %s", style.Glyph, q.Name),
		URL:       q.Metadata["quest_url"],
		Color:     style.Color,
		Footer:    &EmbedFooter{Text: "Quest ID: " + q.ID},
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	if q.Publisher != "" {
		embed.Description = "by " + q.Publisher
	}

	game := q.Game
	if game == "" {
		game = "Unknown game"
	}
	embed.Fields = []EmbedField{
		{Name: "Game", Value: game, Inline: true},
		{Name: "Reward", Value: rewardText(q, style), Inline: true},
	}
	if q.Region != "" {
		embed.Fields = append(embed.Fields, EmbedField{Name: "Region", Value: q.Region, Inline: true})
	}
	embed.Fields = append(embed.Fields,
		EmbedField{Name: "Platforms", Value: PlatformList(q.Tasks), Inline: true},
		EmbedField{Name: "Expires", Value: ExpiryText(q.ExpiresAt, now)},
		EmbedField{Name: "Tasks", Value: TasksText(q.Tasks)},
	)
	if details := rewardDetails(q); details != "" {
		embed.Fields = append(embed.Fields, EmbedField{Name: "Reward Details", Value: details})
	}
	if len(q.Features) > 0 {
		embed.Fields = append(embed.Fields, EmbedField{Name: "Features", Value: featuresText(q.Features)})
	}

	if q.HeroURL != "" {
		embed.Image = &EmbedImage{URL: q.HeroURL}
	}
	if media := q.Metadata["reward_asset"]; media != "" {
		embed.Thumbnail = &EmbedImage{URL: media}
	}
	return embed
}

var platformLabels = map[string]string{
	"PLAY_ON_DESKTOP":       "🖥️ PC",
	"PLAY_ON_XBOX":          "🎮 Xbox",
	"PLAY_ON_PLAYSTATION":   "🎮 PlayStation",
	"WATCH_VIDEO":           "📺 Desktop",
	"WATCH_VIDEO_ON_MOBILE": "📱 Mobile",
}

var taskLabels = map[string]string{
	"PLAY_ON_DESKTOP":       "Play on desktop",
	"PLAY_ON_XBOX":          "Play on Xbox",
	"PLAY_ON_PLAYSTATION":   "Play on PlayStation",
	"WATCH_VIDEO":           "Watch video",
	"WATCH_VIDEO_ON_MOBILE": "Watch video on mobile",
}

// PlatformList names the platforms the tasks can be completed on, without
// repeats. Quests without task data are shown as cross platform.
func PlatformList(tasks []quest.Task) string {
	if len(tasks) == 0 {
		return "Cross Platform"
	}
	var platforms []string
	for _, t := range tasks {
		label, ok := platformLabels[t.Type]
		if !ok || slices.Contains(platforms, label) {
			continue
		}
		platforms = append(platforms, label)
	}
	if len(platforms) == 0 {
		return "Cross Platform"
	}
	return strings.Join(platforms, ", ")
}

// TasksText lists each task with its target rounded up to whole minutes.
func TasksText(tasks []quest.Task) string {
	if len(tasks) == 0 {
		return "N/A"
	}
	var b strings.Builder
	b.WriteString("Complete any of the following:")
	for _, t := range tasks {
		label, ok := taskLabels[t.Type]
		if !ok {
			label = t.Type
		}
		minutes := t.TargetMinutes()
		unit := "minutes"
		if minutes == 1 {
			unit = "minute"
		}
		fmt.Fprintf(&b, "\n- %s (%d %s)", label, minutes, unit)
	}
	return b.String()
}

func rewardDetails(q quest.Quest) string {
	var lines []string
	if kind := q.Metadata["reward_type"]; kind != "" {
		lines = append(lines, "**Type:** "+kind)
	}
	if sku := q.Metadata["reward_sku_id"]; sku != "" {
		lines = append(lines, "**SKU ID:** `"+sku+"`")
	}
	return strings.Join(lines, "\n")
}

func featuresText(features []string) string {
	quoted := make([]string, len(features))
	for i, f := range features {
		quoted[i] = "`" + f + "`"
	}
	return strings.Join(quoted, ", ")
}

func rewardText(q quest.Quest, style Style) string {
	if q.Category == quest.RewardOrbs && q.OrbAmount > 0 {
		return fmt.Sprintf("%s %s Orbs", style.Glyph, humanize.Comma(int64(q.OrbAmount)))
	}
	name := q.RewardName
	if name == "" {
		name = style.Label
	}
	return fmt.Sprintf("%s %s", style.Glyph, name)
}

// ExpiryText renders an expiry as a client-side relative timestamp followed by
// a server-side humanized one, e.g. "<t:1757977200:R> (3 days from now)".
func ExpiryText(expires, now time.Time) string {
	if expires.IsZero() {
		return "No expiry"
	}
	rel := humanize.RelTime(expires, now, "ago", "from now")
	return fmt.Sprintf("<t:%d:R> (%s)", expires.Unix(), rel)
}
