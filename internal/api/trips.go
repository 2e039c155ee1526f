package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rickgao/tripsync/internal/model"
)

func tripPath(tripID string) string {
	return "/trips/" + url.PathEscape(tripID)
}

// GetTrip fetches a single trip.
func (c *Client) GetTrip(ctx context.Context, tripID string) (model.Trip, error) {
	var resp TripResponse
	if err := c.get(ctx, tripPath(tripID), nil, &resp); err != nil {
		return model.Trip{}, fmt.Errorf("get trip %s: %w", tripID, err)
	}
	return resp.Trip.ToModel(), nil
}

// UpdateTrip applies patch to the trip and returns the server's copy.
// baseVersion is the version the patch was made against.
func (c *Client) UpdateTrip(ctx context.Context, tripID string, patch model.TripPatch, baseVersion int64) (model.Trip, error) {
	var resp TripResponse
	err := c.call(ctx, request{
		method: http.MethodPatch,
		path:   tripPath(tripID),
		body:   UpdateTripRequest{TripPatch: patch, BaseVersion: baseVersion},
	}, &resp)
	if err != nil {
		return model.Trip{}, fmt.Errorf("update trip %s: %w", tripID, err)
	}
	return resp.Trip.ToModel(), nil
}

// GetMembers fetches a page of trip members.
func (c *Client) GetMembers(ctx context.Context, tripID string, opts ListOptions) (*MembersResponse, error) {
	var resp MembersResponse
	if err := c.get(ctx, tripPath(tripID)+"/members", listQuery(opts), &resp); err != nil {
		return nil, fmt.Errorf("get members %s: %w", tripID, err)
	}
	return &resp, nil
}

// ListMembers fetches every member of the trip by paginating through results.
func (c *Client) ListMembers(ctx context.Context, tripID string) ([]model.Member, error) {
	var members []model.Member
	opts := ListOptions{Limit: 200} // Max page size

	for {
		resp, err := c.GetMembers(ctx, tripID, opts)
		if err != nil {
			return nil, err
		}

		for i := range resp.Members {
			members = append(members, resp.Members[i].ToModel(tripID))
		}

		if resp.Cursor == "" {
			break
		}
		opts.Cursor = resp.Cursor
	}

	return members, nil
}

// GetMessages fetches a page of chat messages, newest first.
func (c *Client) GetMessages(ctx context.Context, tripID string, opts ListOptions) (*MessagesResponse, error) {
	var resp MessagesResponse
	if err := c.get(ctx, tripPath(tripID)+"/messages", listQuery(opts), &resp); err != nil {
		return nil, fmt.Errorf("get messages %s: %w", tripID, err)
	}
	return &resp, nil
}

// ListMessages fetches up to limit of the trip's most recent messages.
// A non-positive limit fetches every message.
func (c *Client) ListMessages(ctx context.Context, tripID string, limit int) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	opts := ListOptions{Limit: 100}

	for {
		if limit > 0 && limit-len(messages) < opts.Limit {
			opts.Limit = limit - len(messages)
		}

		resp, err := c.GetMessages(ctx, tripID, opts)
		if err != nil {
			return nil, err
		}

		for i := range resp.Messages {
			messages = append(messages, resp.Messages[i].ToModel(tripID))
		}

		if resp.Cursor == "" || (limit > 0 && len(messages) >= limit) {
			break
		}
		opts.Cursor = resp.Cursor
	}

	return messages, nil
}

func listQuery(opts ListOptions) url.Values {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}
	return query
}
