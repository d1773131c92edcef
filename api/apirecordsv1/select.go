package apirecordsv1

import (
	"context"
	"net/http"

	"github.com/go-json-experiment/json/jsontext"
)

type findInput struct {
	Filter map[string]any `json:"filter"`
}

// find accepts a raw Mongo style filter over the stored layout.
func find(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	s, collection, err := getStore(ctx)
	if err != nil {
		return err
	}

	input := &findInput{}
	if err := readBody(r, input); err != nil {
		return err
	}

	cursor, err := s.SelectRecordsFilter(collection, input.Filter)
	if err != nil {
		return err
	}
	return writeCursor(w, cursor)
}

type selectInput struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func selectRecords(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	s, collection, err := getStore(ctx)
	if err != nil {
		return err
	}

	input := &selectInput{}
	if err := readBody(r, input); err != nil {
		return err
	}

	cursor, err := s.SelectRecords(collection, input.Key, input.Value)
	if err != nil {
		return err
	}
	return writeCursor(w, cursor)
}

type selectWithinInput struct {
	Key string         `json:"key"`
	Box jsontext.Value `json:"box"` // [[x1,y1],[x2,y2]]
}

func selectWithin(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	s, collection, err := getStore(ctx)
	if err != nil {
		return err
	}

	input := &selectWithinInput{}
	if err := readBody(r, input); err != nil {
		return err
	}

	cursor, err := s.SelectRecordsWithin(collection, input.Key, string(input.Box))
	if err != nil {
		return err
	}
	return writeCursor(w, cursor)
}

type selectNearInput struct {
	Key   string         `json:"key"`
	Point jsontext.Value `json:"point"` // [x,y]

	// MaxDistance is in meters.
	MaxDistance float64 `json:"maxDistance"`
}

func selectNear(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	s, collection, err := getStore(ctx)
	if err != nil {
		return err
	}

	input := &selectNearInput{}
	if err := readBody(r, input); err != nil {
		return err
	}

	cursor, err := s.SelectRecordsNear(collection, input.Key, string(input.Point), input.MaxDistance)
	if err != nil {
		return err
	}
	return writeCursor(w, cursor)
}

type selectQueryInput struct {
	Query string `json:"query"`
}

func selectQuery(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	s, collection, err := getStore(ctx)
	if err != nil {
		return err
	}

	input := &selectQueryInput{}
	if err := readBody(r, input); err != nil {
		return err
	}

	cursor, err := s.SelectRecordsQuery(collection, input.Query)
	if err != nil {
		return err
	}
	return writeCursor(w, cursor)
}

func reset(ctx context.Context, w http.ResponseWriter) error {

	s, collection, err := getStore(ctx)
	if err != nil {
		return err
	}

	if err := s.Reset(collection); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
