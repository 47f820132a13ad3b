package usecase

import (
	"strings"
	"testing"

	"github.com/V4T54L/postbus/internal/domain"
)

func TestContentBuilder_Caption(t *testing.T) {
	b := NewContentBuilder()
	tests := []struct {
		name     string
		template string
		data     map[string]any
		want     string
	}{
		{"explicit text wins", "goal", map[string]any{"text": "What a strike!", "player": "Kerr"}, "What a strike!"},
		{"goal", "goal", map[string]any{"player": "Sam Kerr", "team": "Harbour FC", "minute": 77}, "GOAL! Sam Kerr scores for Harbour FC (77')"},
		{"goal without details", "goal", map[string]any{}, "GOAL!"},
		{"result", "result", map[string]any{"home_team": "Harbour FC", "away_team": "Rovers", "home_score": 2, "away_score": 1}, "Full time: Harbour FC 2-1 Rovers"},
		{"unknown template uses generic", "promo", map[string]any{"title": "Season tickets on sale"}, "Season tickets on sale"},
		{"generic default", "promo", map[string]any{}, "Club update"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Caption(tt.template, tt.data); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHashtags(t *testing.T) {
	tags := Hashtags("goal", map[string]any{
		"team":        "Harbour FC",
		"home_team":   "Harbour FC",
		"away_team":   "St. Mary's-Rovers",
		"player":      "J. O'Neil",
		"competition": "Premier League",
	})

	want := []string{"#Goal", "#GoalOfTheWeek", "#GOTW", "#HarbourFC", "#St.MarysRovers", "#JONeil", "#PremierLeague", "#PL", "#Football", "#Soccer", "#MatchHighlights", "#FootballHighlights", "#FootballFans"}
	if strings.Join(tags, " ") != strings.Join(want, " ") {
		t.Errorf("got %v\nwant %v", tags, want)
	}

	local := Hashtags("lineup", map[string]any{})
	if local[3] != "#LocalFootball" {
		t.Errorf("expected local league tags by default, got %v", local)
	}
	if len(local) > maxHashtags {
		t.Errorf("expected at most %d tags, got %d", maxHashtags, len(local))
	}
}

func TestFormatForChannel(t *testing.T) {
	tags := []string{"#Goal", "#Football"}
	tests := []struct {
		ch   domain.Channel
		want string
	}{
		{domain.ChannelInstagram, "Cap\n\n#Goal #Football"},
		{domain.ChannelTikTok, "Cap\n#Goal #Football"},
		{domain.ChannelYouTube, "Cap\n\nGoal, Football"},
		{domain.ChannelFacebook, "Cap #Goal #Football"},
		{domain.ChannelX, "Cap #Goal #Football"},
	}
	for _, tt := range tests {
		t.Run(string(tt.ch), func(t *testing.T) {
			if got := FormatForChannel(tt.ch, "Cap", tags); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	many := make([]string, 20)
	for i := range many {
		many[i] = "#t"
	}
	if got := strings.Count(FormatForChannel(domain.ChannelX, "Cap", many), "#t"); got != 15 {
		t.Errorf("expected x to carry 15 tags, got %d", got)
	}
}

func TestContentBuilder_Build(t *testing.T) {
	job := domain.Job{ID: "job-1", Template: "goal", Data: map[string]any{"text": "Goal!", "mediaUrl": "https://cdn.example.com/clip.mp4"}}
	req := NewContentBuilder().Build(job, domain.ChannelTikTok)

	if req.JobID != "job-1" || req.Channel != domain.ChannelTikTok {
		t.Errorf("unexpected request identity: %+v", req)
	}
	if req.MediaURL != "https://cdn.example.com/clip.mp4" {
		t.Errorf("unexpected media url %q", req.MediaURL)
	}
	if !strings.HasPrefix(req.Caption, "Goal!\n#Goal") {
		t.Errorf("unexpected caption %q", req.Caption)
	}
}
