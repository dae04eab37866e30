package collyfetcher

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/questwatch/internal/quest"
)

// Upstream reward type codes.
const (
	rewardTypeCode    = 1
	rewardTypeProfile = 2
	rewardTypeDecor   = 3
	rewardTypeOrbs    = 4
)

var rewardTypeNames = map[int]string{
	rewardTypeCode:    "In-game Code",
	rewardTypeProfile: "Profile Decoration",
	rewardTypeDecor:   "Avatar Decoration",
	rewardTypeOrbs:    "Virtual Currency",
}

var featureNames = map[int]string{
	3:  "QUEST_BAR_V2",
	9:  "REWARD_HIGHLIGHTING",
	13: "DISMISSAL_SURVEY",
	14: "MOBILE_QUEST_DOCK",
	15: "QUESTS_CDN",
	16: "PACING_CONTROLLER",
	18: "VIDEO_QUEST_FORCE_HLS_VIDEO",
	19: "VIDEO_QUEST_FORCE_END_CARD_CTA_SWAP",
	23: "MOBILE_ONLY_QUEST_PUSH_TO_MOBILE",
	26: "QUEST_VIDEO_HERO",
}

type questsResponse struct {
	Quests []upstreamQuest `json:"quests"`
}

type upstreamQuest struct {
	ID     string      `json:"id"`
	Config questConfig `json:"config"`
}

type questConfig struct {
	ID          string `json:"id"`
	StartsAt    string `json:"starts_at"`
	ExpiresAt   string `json:"expires_at"`
	Application struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Link string `json:"link"`
	} `json:"application"`
	Assets struct {
		Hero string `json:"hero"`
	} `json:"assets"`
	Colors struct {
		Primary string `json:"primary"`
	} `json:"colors"`
	Messages struct {
		QuestName     string `json:"quest_name"`
		GameTitle     string `json:"game_title"`
		GamePublisher string `json:"game_publisher"`
	} `json:"messages"`
	RewardsConfig struct {
		Rewards []upstreamReward `json:"rewards"`
	} `json:"rewards_config"`
	TaskConfigV2 *struct {
		Tasks map[string]upstreamTask `json:"tasks"`
	} `json:"task_config_v2"`
	Features []int `json:"features"`
}

type upstreamTask struct {
	Type   string `json:"type"`
	Target int    `json:"target"`
}

type upstreamReward struct {
	Type     int    `json:"type"`
	SKUID    string `json:"sku_id"`
	Asset    string `json:"asset"`
	Messages struct {
		Name string `json:"name"`
	} `json:"messages"`
	OrbQuantity int `json:"orb_quantity"`
}

// decodeQuests maps an upstream response body onto quest records for region.
func decodeQuests(body []byte, region, questURLBase, assetBaseURL string) ([]quest.Quest, error) {
	var resp questsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode quests: %w", err)
	}
	out := make([]quest.Quest, 0, len(resp.Quests))
	for i, uq := range resp.Quests {
		id := uq.ID
		if id == "" {
			id = uq.Config.ID
		}
		if id == "" {
			return nil, fmt.Errorf("decode quests: entry %d has no id", i)
		}
		out = append(out, toQuest(id, uq.Config, region, questURLBase, assetBaseURL))
	}
	return out, nil
}

func toQuest(id string, cfg questConfig, region, questURLBase, assetBaseURL string) quest.Quest {
	q := quest.Quest{
		ID:        id,
		Region:    region,
		Name:      cfg.Messages.QuestName,
		Game:      cfg.Messages.GameTitle,
		Publisher: cfg.Messages.GamePublisher,
		Category:  quest.RewardOther,
		StartsAt:  parseTime(cfg.StartsAt),
		ExpiresAt: parseTime(cfg.ExpiresAt),
		HeroURL:   assetURL(assetBaseURL, cfg.Assets.Hero),
		Metadata:  map[string]string{},
	}
	if q.Name == "" {
		q.Name = "Quest " + id
	}
	if len(cfg.RewardsConfig.Rewards) > 0 {
		r := cfg.RewardsConfig.Rewards[0]
		q.Category = rewardCategory(r.Type)
		q.RewardName = r.Messages.Name
		q.OrbAmount = r.OrbQuantity
		setIf(q.Metadata, "reward_sku_id", r.SKUID)
		setIf(q.Metadata, "reward_type", rewardTypeNames[r.Type])
		setIf(q.Metadata, "reward_asset", rewardMediaURL(assetBaseURL, r.Asset))
	}
	q.Tasks = toTasks(cfg)
	q.Features = toFeatures(cfg.Features)
	if q.RewardName == "" {
		q.RewardName = "Unknown Reward"
	}
	setIf(q.Metadata, "application_id", cfg.Application.ID)
	setIf(q.Metadata, "application_name", cfg.Application.Name)
	setIf(q.Metadata, "application_link", cfg.Application.Link)
	setIf(q.Metadata, "color", cfg.Colors.Primary)
	if questURLBase != "" {
		q.Metadata["quest_url"] = strings.TrimRight(questURLBase, "/") + "/" + id
	}
	return q
}

// toTasks flattens task_config_v2 in type order. A missing config yields nil.
func toTasks(cfg questConfig) []quest.Task {
	if cfg.TaskConfigV2 == nil || len(cfg.TaskConfigV2.Tasks) == 0 {
		return nil
	}
	tasks := make([]quest.Task, 0, len(cfg.TaskConfigV2.Tasks))
	for _, key := range slices.Sorted(maps.Keys(cfg.TaskConfigV2.Tasks)) {
		t := cfg.TaskConfigV2.Tasks[key]
		taskType := t.Type
		if taskType == "" {
			taskType = key
		}
		tasks = append(tasks, quest.Task{Type: taskType, TargetSeconds: t.Target})
	}
	return tasks
}

func toFeatures(codes []int) []string {
	if len(codes) == 0 {
		return nil
	}
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		name, ok := featureNames[code]
		if !ok {
			name = "UNKNOWN"
		}
		out = append(out, name)
	}
	return out
}

// rewardMediaURL resolves the reward asset. CDN quest videos are requested as
// a still image.
func rewardMediaURL(base, asset string) string {
	resolved := assetURL(base, asset)
	if strings.HasPrefix(asset, "quests/") && resolved != asset {
		return resolved + "?format=png"
	}
	return resolved
}

func rewardCategory(code int) quest.RewardCategory {
	switch code {
	case rewardTypeOrbs:
		return quest.RewardOrbs
	case rewardTypeDecor:
		return quest.RewardDecor
	default:
		return quest.RewardOther
	}
}

// parseTime accepts RFC 3339 timestamps or unix seconds; anything else is zero.
func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC()
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}

func setIf(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// assetURL resolves a CDN-relative asset path against base.
func assetURL(base, asset string) string {
	if asset == "" || base == "" || strings.HasPrefix(asset, "http://") || strings.HasPrefix(asset, "https://") {
		return asset
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(asset, "/")
}
