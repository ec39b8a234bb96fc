// Package collect drives fetches for due topics and hands the results to
// the ingestion service.
package collect

import (
	"github.com/hamychatgpt/Rasad-v2/internal/ingest"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

// Normalize maps a fetched post into an ingestion record associated with
// topics. Hashtags written in the body are merged with the fetched list.
func Normalize(raw models.RawPost, topics ...string) ingest.Record {
	post := models.Post{
		ExternalID:        raw.ID,
		AuthorExternalID:  raw.Author.ID,
		Body:              raw.Text,
		CreatedAt:         raw.CreatedAt.UTC(),
		ReplyCount:        raw.ReplyCount,
		LikeCount:         raw.LikeCount,
		RepostCount:       raw.RepostCount,
		QuoteCount:        raw.QuoteCount,
		Lang:              raw.Lang,
		IsRepost:          raw.IsRepost,
		IsReply:           raw.InReplyToID != "",
		InReplyToID:       optional(raw.InReplyToID),
		InReplyToAuthorID: optional(raw.InReplyToAuthorID),
		QuotedID:          optional(raw.QuotedID),
		Raw:               raw.Payload,
	}

	author := models.Author{
		ExternalID:      raw.Author.ID,
		Handle:          ingest.NormalizeHandle(raw.Author.Username),
		DisplayName:     raw.Author.DisplayName,
		Bio:             raw.Author.Bio,
		FollowersCount:  deref(raw.Author.FollowersCount),
		FollowingCount:  deref(raw.Author.FollowingCount),
		PostCount:       deref(raw.Author.PostCount),
		ProfileImageURL: raw.Author.ProfileImageURL,
		AccountCreated:  raw.Author.CreatedAt,
		Verified:        raw.Author.Verified,
	}

	tags := append(append([]string(nil), raw.Hashtags...), ingest.ExtractHashtags(raw.Text)...)

	return ingest.Record{
		Post:     post,
		Author:   author,
		Hashtags: tags,
		Mentions: raw.Mentions,
		Media:    raw.Media,
		Topics:   topics,
	}
}

// NormalizeAll normalizes a page of posts with the same topics.
func NormalizeAll(raws []models.RawPost, topics ...string) []ingest.Record {
	out := make([]ingest.Record, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Normalize(raw, topics...))
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
