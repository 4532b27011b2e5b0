package piwebapi

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// PostDataPoint writes one value to the tag's stream.
func (s *Session) PostDataPoint(ctx context.Context, tag *Tag, dp DataPoint) error {
	webID := tag.WebID()
	if webID == "" {
		return fmt.Errorf("post %s: %w", tag.Name, ErrNoWebID)
	}
	body, err := buildValueBody(dp)
	if err != nil {
		return fmt.Errorf("post %s: encode body: %w", tag.Name, err)
	}
	if _, err := s.exchange(ctx, "post", http.MethodPost, s.cfg.streamValueURL(webID), body, false); err != nil {
		s.logger.Error("failed to post value", "tag", tag.Name, "err", err)
		return err
	}
	return nil
}

// PostTag writes the tag's current value stamped with the current time.
func (s *Session) PostTag(ctx context.Context, tag *Tag) error {
	return s.PostDataPoint(ctx, tag, NewDataPoint(tag.Value(), s.now()))
}

// PostTagsLive posts the current value of every tag in one batch request.
// The body is built in its own buffer; the session batch is not touched.
func (s *Session) PostTagsLive(ctx context.Context, tags []*Tag) error {
	return s.PostTagsLiveAt(ctx, tags, s.now())
}

// PostTagsLiveAt is PostTagsLive with every value stamped at.
func (s *Session) PostTagsLiveAt(ctx context.Context, tags []*Tag, at time.Time) error {
	b := NewBatch(s.batch.Cap())
	b.Start()
	for _, t := range tags {
		if err := s.addEntry(b, t, NewDataPoint(t.Value(), at)); err != nil {
			return err
		}
	}
	if err := b.Finish(); err != nil {
		return err
	}
	return s.postBatchBody(ctx, "live", b)
}

// StartBatch resets the session batch.
func (s *Session) StartBatch() { s.batch.Start() }

// AddToBatch appends one value of tag to the session batch. On
// ErrBatchOverflow nothing was added and the caller should flush first.
func (s *Session) AddToBatch(tag *Tag, dp DataPoint) error {
	return s.addEntry(s.batch, tag, dp)
}

// EndBatch closes the session batch body.
func (s *Session) EndBatch() error { return s.batch.Finish() }

// BatchCount is the number of entries in the session batch.
func (s *Session) BatchCount() int { return s.batch.Count() }

// PostBatch sends the finished session batch. The buffer is kept as is;
// call StartBatch before building the next one. When the server rejects
// some entries the returned *Error lists them in Entries (see EntryKind).
func (s *Session) PostBatch(ctx context.Context) error {
	return s.postBatchBody(ctx, "batch", s.batch)
}

func (s *Session) postBatchBody(ctx context.Context, op string, b *Batch) error {
	if !b.Finished() {
		return fmt.Errorf("%s: %w: batch is not finished", op, ErrBatchState)
	}
	resp, err := s.exchange(ctx, op, http.MethodPost, s.cfg.batchURL(), b.Bytes(), true)
	if err != nil {
		s.logger.Error("failed to post tags", "entries", b.Count(), "err", err)
		return err
	}
	if perr := classifyBatch(s.logger, resp); perr != nil {
		perr.Op = op
		s.logger.Warn("PI rejected part of the batch", "entries", b.Count(), "rejected", len(perr.Entries))
		return perr
	}
	return nil
}

// addEntry encodes one sub-request. The inner value body travels as a JSON
// string, and the sub-request carries its own Authorization header because
// batch sub-requests do not inherit the outer request headers.
func (s *Session) addEntry(b *Batch, tag *Tag, dp DataPoint) error {
	webID := tag.WebID()
	if webID == "" {
		return fmt.Errorf("batch %s: %w", tag.Name, ErrNoWebID)
	}
	content, err := buildValueBody(dp)
	if err != nil {
		return fmt.Errorf("batch %s: encode body: %w", tag.Name, err)
	}
	return b.add(subRequest{
		Method:   http.MethodPost,
		Resource: s.cfg.streamValueURL(webID),
		Content:  string(content),
		Headers:  map[string]string{"Authorization": "Basic " + s.cfg.Credentials},
	})
}
