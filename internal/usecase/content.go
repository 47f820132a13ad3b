package usecase

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/V4T54L/postbus/internal/domain"
)

const maxHashtags = 30

var eventHashtags = map[string][]string{
	"goal":      {"#Goal", "#GoalOfTheWeek", "#GOTW", "#Banger", "#Golazo"},
	"save":      {"#WorldClassSave", "#GoalkeeperSave", "#SaveOfTheDay"},
	"skill":     {"#Skills", "#Tekkers", "#FootballSkills"},
	"penalty":   {"#Penalty", "#PenaltyKick", "#SpotKick"},
	"freekick":  {"#FreeKick", "#SetPiece", "#Curler"},
	"result":    {"#FullTime", "#Result", "#MatchDay"},
	"fulltime":  {"#FullTime", "#Result", "#MatchDay"},
	"lineup":    {"#LineUp", "#TeamNews", "#StartingXI"},
	"highlight": {"#Highlights", "#MatchHighlights", "#WatchThis"},
}

var competitionHashtags = map[string][]string{
	"Premier League":   {"#PremierLeague", "#PL", "#EPL"},
	"La Liga":          {"#LaLiga", "#LaLigaSantander"},
	"Serie A":          {"#SerieA", "#ItalianFootball"},
	"Bundesliga":       {"#Bundesliga", "#BundesligaHighlights"},
	"Champions League": {"#UCL", "#ChampionsLeague", "#UEFA"},
	"FA Cup":           {"#FACup", "#EmiratesFACup"},
	"Local League":     {"#LocalFootball", "#Grassroots", "#AmateurFootball"},
}

var genericHashtags = []string{"#Football", "#Soccer", "#MatchHighlights", "#FootballHighlights", "#FootballFans", "#SoccerGoals"}

var captionTemplates = template.Must(template.New("captions").Option("missingkey=zero").Parse(`
{{define "goal"}}GOAL!{{with .player}} {{.}} scores{{end}}{{with .team}} for {{.}}{{end}}{{with .minute}} ({{.}}'){{end}}{{end}}
{{define "result"}}Full time: {{.home_team}} {{.home_score}}-{{.away_score}} {{.away_team}}{{end}}
{{define "fulltime"}}{{template "result" .}}{{end}}
{{define "highlight"}}Highlights{{with .home_team}}: {{.}}{{end}}{{with .away_team}} vs {{.}}{{end}}{{end}}
{{define "lineup"}}Team news{{with .team}} for {{.}}{{end}}{{with .opponent}} against {{.}}{{end}}{{end}}
{{define "generic"}}{{with .title}}{{.}}{{else}}Club update{{end}}{{end}}
`))

// ContentBuilder renders the caption and media reference an adapter publishes.
type ContentBuilder struct{}

// NewContentBuilder creates a ContentBuilder.
func NewContentBuilder() *ContentBuilder {
	return &ContentBuilder{}
}

// Build returns the request for one channel of job.
func (b *ContentBuilder) Build(job domain.Job, ch domain.Channel) domain.PublishRequest {
	caption := b.Caption(job.Template, job.Data)
	tags := Hashtags(job.Template, job.Data)
	return domain.PublishRequest{
		JobID:    job.ID,
		Channel:  ch,
		Template: job.Template,
		Caption:  FormatForChannel(ch, caption, tags),
		MediaURL: MediaURL(job.Data),
		Data:     job.Data,
	}
}

// Caption returns data.text when present, otherwise the rendered template.
func (b *ContentBuilder) Caption(name string, data map[string]any) string {
	if text, ok := data["text"].(string); ok && strings.TrimSpace(text) != "" {
		return text
	}
	if captionTemplates.Lookup(name) == nil {
		name = "generic"
	}
	var sb strings.Builder
	if err := captionTemplates.ExecuteTemplate(&sb, name, data); err != nil {
		return ""
	}
	return strings.ReplaceAll(sb.String(), "<no value>", "")
}

// MediaURL extracts the media reference from a job payload.
func MediaURL(data map[string]any) string {
	for _, k := range []string{"media_url", "mediaUrl"} {
		if v, ok := data[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Hashtags builds the ordered, case-insensitively unique tag list for a post.
func Hashtags(tmpl string, data map[string]any) []string {
	var tags []string
	tags = append(tags, top(eventHashtags[tmpl], 3)...)

	for _, k := range []string{"team", "home_team", "away_team"} {
		if v, ok := data[k].(string); ok && v != "" {
			tags = append(tags, "#"+cleanTag(v))
		}
	}
	if v, ok := data["player"].(string); ok && v != "" {
		tags = append(tags, "#"+strings.ReplaceAll(cleanTag(v), ".", ""))
	}

	comp, _ := data["competition"].(string)
	if comp == "" {
		comp = "Local League"
	}
	if compTags, ok := competitionHashtags[comp]; ok {
		tags = append(tags, top(compTags, 2)...)
	} else {
		tags = append(tags, "#"+cleanTag(comp))
	}
	tags = append(tags, top(genericHashtags, 5)...)

	seen := make(map[string]bool, len(tags))
	out := tags[:0]
	for _, t := range tags {
		k := strings.ToLower(t)
		if t == "#" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	return top(out, maxHashtags)
}

// FormatForChannel joins caption and tags the way each platform expects.
func FormatForChannel(ch domain.Channel, caption string, tags []string) string {
	if len(tags) == 0 {
		return caption
	}
	switch ch {
	case domain.ChannelInstagram:
		return fmt.Sprintf("%s\n\n%s", caption, strings.Join(tags, " "))
	case domain.ChannelTikTok:
		return fmt.Sprintf("%s\n%s", caption, strings.Join(tags, " "))
	case domain.ChannelYouTube:
		plain := make([]string, len(tags))
		for i, t := range tags {
			plain[i] = strings.TrimPrefix(t, "#")
		}
		return fmt.Sprintf("%s\n\n%s", caption, strings.Join(plain, ", "))
	case domain.ChannelX:
		return fmt.Sprintf("%s %s", caption, strings.Join(top(tags, 15), " "))
	default:
		return fmt.Sprintf("%s %s", caption, strings.Join(tags, " "))
	}
}

func cleanTag(s string) string {
	return strings.NewReplacer(" ", "", "'", "", "-", "").Replace(s)
}

func top(tags []string, n int) []string {
	if len(tags) > n {
		return tags[:n]
	}
	return tags
}
