package enrich

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

const (
	topicTopK      = 3
	topicTextChars = 2000
	// unclassifiedTopic is recorded when no category scores above zero.
	unclassifiedTopic = "unclassified"
)

// iptcTopLevel is the 17-category IPTC Media Topics top level, the
// canonical taxonomy for the feed_entry_topics table.
var iptcTopLevel = []string{
	"arts, culture, entertainment and media",
	"crime, law and justice",
	"disaster, accident and emergency incident",
	"economy, business and finance",
	"education",
	"environmental issue",
	"health",
	"human interest",
	"labour",
	"lifestyle and leisure",
	"politics",
	"religion",
	"science and technology",
	"society",
	"sport",
	"conflict, war and peace",
	"weather",
}

// TopicPrediction is one scored IPTC category.
type TopicPrediction struct {
	TopLevel   string
	Path       string
	Confidence float64
}

// TopicClassifier assigns IPTC top-level categories to article text.
type TopicClassifier interface {
	Classify(ctx context.Context, text string, topK int) ([]TopicPrediction, error)
}

// Topics is the optional enricher writing IPTC classifications for the
// feed_entry_topics table. Classification failures are non-fatal.
type Topics struct {
	classifier TopicClassifier
	logger     *slog.Logger
}

func NewTopics(classifier TopicClassifier, logger *slog.Logger) *Topics {
	return &Topics{
		classifier: classifier,
		logger:     logger.With("component", "enrich.topics"),
	}
}

func (t *Topics) Name() string { return "topics" }

func (t *Topics) Enrich(ctx context.Context, a *Article) error {
	text := a.Entry.BestTitle() + ". " + a.Text
	preds, err := t.classifier.Classify(ctx, truncateRunes(text, topicTextChars), topicTopK)
	if err != nil {
		return err
	}
	a.Topics = a.Topics[:0]
	for _, p := range preds {
		a.Topics = append(a.Topics, types.Topic{
			FeedEntryID: a.Entry.ID,
			TopLevel:    p.TopLevel,
			Path:        p.Path,
			Confidence:  math.Round(p.Confidence*10000) / 10000,
		})
	}
	return nil
}

// topicLexicon maps each IPTC category to cue words. Scoring counts
// distinct cue hits, so the lists favor words that rarely cross
// categories.
var topicLexicon = map[string][]string{
	"arts, culture, entertainment and media": {
		"film", "movie", "music", "concert", "festival", "museum",
		"artist", "actor", "theatre", "theater", "album", "celebrity",
		"exhibition", "documentary", "newspaper", "broadcaster",
	},
	"crime, law and justice": {
		"police", "arrest", "arrested", "court", "trial", "verdict",
		"prosecutor", "murder", "theft", "investigation", "sentenced",
		"prison", "lawsuit", "indicted", "judge", "criminal", "fraud",
	},
	"disaster, accident and emergency incident": {
		"earthquake", "flood", "wildfire", "hurricane", "crash",
		"explosion", "collapse", "rescue", "evacuation", "evacuated",
		"landslide", "tsunami", "derailment", "casualties", "emergency",
	},
	"economy, business and finance": {
		"economy", "inflation", "market", "markets", "stocks", "shares",
		"bank", "trade", "tariff", "tariffs", "gdp", "exports",
		"investment", "unemployment", "earnings", "recession", "currency",
	},
	"education": {
		"school", "schools", "university", "students", "teachers",
		"curriculum", "tuition", "exam", "education", "campus",
		"scholarship", "enrollment",
	},
	"environmental issue": {
		"climate", "emissions", "pollution", "deforestation",
		"biodiversity", "carbon", "renewable", "conservation",
		"ecosystem", "warming", "drought", "environmental",
	},
	"health": {
		"hospital", "patients", "vaccine", "outbreak", "virus",
		"disease", "doctors", "epidemic", "pandemic", "infection",
		"medical", "cancer", "medicine", "health",
	},
	"human interest": {
		"anniversary", "celebration", "reunion", "survivor", "charity",
		"volunteers", "community", "tribute", "memorial",
	},
	"labour": {
		"strike", "union", "unions", "workers", "wages", "layoffs",
		"employment", "pension", "bargaining", "walkout", "picket",
	},
	"lifestyle and leisure": {
		"travel", "tourism", "fashion", "recipe", "restaurant",
		"holiday", "leisure", "hobby", "cuisine", "wellness",
	},
	"politics": {
		"election", "elections", "parliament", "president", "minister",
		"government", "vote", "voters", "coalition", "legislation",
		"senate", "congress", "campaign", "policy", "referendum",
		"diplomatic", "diplomacy", "sanctions",
	},
	"religion": {
		"church", "mosque", "temple", "pope", "imam", "pilgrimage",
		"worship", "clergy", "faith", "religious", "synagogue",
	},
	"science and technology": {
		"research", "scientists", "satellite", "spacecraft", "software",
		"technology", "laboratory", "discovery", "quantum",
		"intelligence", "robotics", "telescope", "experiment",
	},
	"society": {
		"migration", "migrants", "refugees", "census", "poverty",
		"inequality", "discrimination", "demographics", "welfare",
		"homelessness", "rights",
	},
	"sport": {
		"match", "tournament", "championship", "league", "goal",
		"olympic", "olympics", "coach", "stadium", "player", "players",
		"football", "soccer", "cricket", "tennis", "athletes",
	},
	"conflict, war and peace": {
		"war", "military", "troops", "missile", "missiles", "ceasefire",
		"offensive", "airstrike", "airstrikes", "invasion", "frontline",
		"artillery", "drone", "drones", "insurgents", "peacekeeping",
		"armistice", "mobilization", "shelling", "combat",
	},
	"weather": {
		"forecast", "temperatures", "rainfall", "snowfall", "heatwave",
		"storm", "blizzard", "humidity", "meteorologists", "frost",
	},
}

var topicTokenRe = regexp.MustCompile(`[a-z][a-z'-]+`)

// LexiconClassifier is the default TopicClassifier: distinct cue-word
// hits per category, normalized over all hit categories. Deterministic
// and dependency-free, suitable for tiers without a model endpoint.
type LexiconClassifier struct{}

func NewLexiconClassifier() *LexiconClassifier { return &LexiconClassifier{} }

func (c *LexiconClassifier) Classify(_ context.Context, text string, topK int) ([]TopicPrediction, error) {
	tokens := topicTokenRe.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		seen[tok] = true
	}

	scores := make(map[string]int, len(iptcTopLevel))
	total := 0
	for _, label := range iptcTopLevel {
		hits := 0
		for _, cue := range topicLexicon[label] {
			if seen[cue] {
				hits++
			}
		}
		if hits > 0 {
			scores[label] = hits
			total += hits
		}
	}

	if total == 0 {
		return []TopicPrediction{{
			TopLevel:   unclassifiedTopic,
			Path:       unclassifiedTopic,
			Confidence: 0,
		}}, nil
	}

	preds := make([]TopicPrediction, 0, len(scores))
	for label, hits := range scores {
		preds = append(preds, TopicPrediction{
			TopLevel:   label,
			Path:       label,
			Confidence: float64(hits) / float64(total),
		})
	}
	sort.Slice(preds, func(i, j int) bool {
		if preds[i].Confidence != preds[j].Confidence {
			return preds[i].Confidence > preds[j].Confidence
		}
		return preds[i].TopLevel < preds[j].TopLevel
	})
	if len(preds) > topK {
		preds = preds[:topK]
	}
	return preds, nil
}
