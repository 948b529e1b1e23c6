package types

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry is one crawled news item from a date-partitioned feed_entries table.
// Nullable text columns are coalesced to "" at the query layer.
type Entry struct {
	ID            uuid.UUID  `db:"id"`
	FlashpointID  *uuid.UUID `db:"flashpoint_id"`
	URL           string     `db:"url"`
	Title         string     `db:"title"`
	TitleEN       string     `db:"title_en"`
	SeenDate      *time.Time `db:"seendate"`
	Domain        string     `db:"domain"`
	Language      string     `db:"language"`
	SourceCountry string     `db:"sourcecountry"`
	Description   string     `db:"description"`
	Image         string     `db:"image"`
	Hostname      string     `db:"hostname"`
	Content       string     `db:"content"`
	Summary       string     `db:"summary"`
}

// BestTitle prefers the translated title when present.
func (e *Entry) BestTitle() string {
	if e.TitleEN != "" {
		return e.TitleEN
	}
	return e.Title
}

// Flashpoint is one geopolitical topic row from a date-partitioned
// flash_point table. Entries reference it by id.
type Flashpoint struct {
	ID          uuid.UUID `db:"id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
}

// Enrichment carries the write-back fields produced by the ingest stage.
// Nil-valued fields are left untouched in the table. The compressed_content
// column is derived from Content by the storage layer's codec.
type Enrichment struct {
	Content     *string
	TitleEN     *string
	Hostname    *string
	Summary     *string
	Entities    *EntitySet
	GeoEntities []GeoEntity
	Images      []string
}

// EntityMention is one deduplicated surface form with its best score.
type EntityMention struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// EntityMeta describes how an entity set was produced.
type EntityMeta struct {
	Chars  int     `json:"chars"`
	Model  string  `json:"model"`
	Score  float64 `json:"score"`
	Chunks int     `json:"chunks"`
}

// EntitySet is the tagged-entity payload written to the entities column.
// It serializes flat: every category is a top-level key next to "meta".
type EntitySet struct {
	Categories map[string][]EntityMention
	Meta       EntityMeta
}

// EntityCategories is the fixed set of tag classes in the schema.
var EntityCategories = []string{
	"GPE", "LAW", "LOC", "ORG", "DATE",
	"NORP", "EVENT", "MONEY", "PERSON", "QUANTITY",
}

// MarshalJSON flattens categories and meta into one object.
func (s EntitySet) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(EntityCategories)+1)
	for _, cat := range EntityCategories {
		mentions := s.Categories[cat]
		if mentions == nil {
			mentions = []EntityMention{}
		}
		flat[cat] = mentions
	}
	flat["meta"] = s.Meta
	return json.Marshal(flat)
}

// UnmarshalJSON reverses MarshalJSON.
func (s *EntitySet) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	s.Categories = make(map[string][]EntityMention)
	for key, raw := range flat {
		if key == "meta" {
			if err := json.Unmarshal(raw, &s.Meta); err != nil {
				return err
			}
			continue
		}
		var mentions []EntityMention
		if err := json.Unmarshal(raw, &mentions); err != nil {
			return err
		}
		s.Categories[key] = mentions
	}
	return nil
}

// GeoEntity is one resolved country with its mention tally.
type GeoEntity struct {
	Name     string  `json:"name"`
	Count    int     `json:"count"`
	Alpha2   string  `json:"alpha2"`
	Alpha3   string  `json:"alpha3"`
	AvgScore float64 `json:"avg_score"`
}

// Topic is one IPTC top-level classification for an entry, persisted in
// feed_entry_topics.
type Topic struct {
	FeedEntryID uuid.UUID `db:"feed_entry_id"`
	TopLevel    string    `db:"iptc_top_level"`
	Path        string    `db:"iptc_path"`
	Confidence  float64   `db:"confidence"`
}

// HostOf returns the normalized host of a URL: lowercased, port stripped,
// leading "www." stripped. Returns "" when the URL cannot be parsed.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
