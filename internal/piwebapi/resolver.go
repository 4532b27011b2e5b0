package piwebapi

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

// Resolve looks up the PI Point of tag by its device-qualified name and
// stores its WebID on the tag. A missing point is created, looked up again
// (creation does not return the WebID) and marked with point source "HMS".
// Failing to set the point source is logged only; the WebID is usable.
func (s *Session) Resolve(ctx context.Context, tag *Tag) error {
	name := tag.PointName(s.cfg.DeviceName)

	webID, err := s.lookupPoint(ctx, name)
	if err != nil {
		s.logger.Error("point lookup failed", "tag", tag.Name, "point", name, "err", err)
		return err
	}
	if webID != "" {
		tag.SetWebID(webID)
		return nil
	}

	body, err := buildNewPointBody(name, tag.Type)
	if err != nil {
		s.logger.Error("invalid datatype for new PI point", "tag", tag.Name, "type", tag.Type.String())
		return err
	}
	if _, err := s.exchange(ctx, "create", http.MethodPost, s.cfg.pointsURL(), body, true); err != nil {
		s.logger.Error("error in creating PI point", "tag", tag.Name, "point", name, "err", err)
		return err
	}

	webID, err = s.lookupPoint(ctx, name)
	if err != nil {
		s.logger.Error("point lookup after creation failed", "tag", tag.Name, "point", name, "err", err)
		return err
	}
	if webID == "" {
		err := &Error{Kind: KindCreationFailed, Op: "create", Messages: []string{"point " + name + " not found after creation"}}
		s.logger.Error("PI point creation failed", "tag", tag.Name, "point", name)
		return err
	}
	tag.SetWebID(webID)
	s.logger.Info("created PI point", "tag", tag.Name, "point", name, "webid", webID)

	if _, err := s.exchange(ctx, "pointsource", http.MethodPut, s.cfg.pointSourceURL(webID), pointSourceBody, false); err != nil {
		s.logger.Warn("could not set point source", "tag", tag.Name, "err", err)
	}
	return nil
}

// ResolveAll resolves tags in order and stops at the first failure.
func (s *Session) ResolveAll(ctx context.Context, tags []*Tag) error {
	for _, t := range tags {
		if err := s.Resolve(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// lookupPoint returns the WebID of the first point named name, or "" when
// the server has none.
func (s *Session) lookupPoint(ctx context.Context, name string) (string, error) {
	u := s.cfg.pointsURL() + "?nameFilter=" + url.QueryEscape(name)
	body, err := s.exchange(ctx, "lookup", http.MethodGet, u, nil, true)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "Items.0.WebId").String(), nil
}
