// Package service is the CRUD facade over a repository: missing records
// become resource-named NotFound errors and models are projected into
// response resources.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/repokit/internal/ir"
	"github.com/roach88/repokit/internal/repoerr"
	"github.com/roach88/repokit/internal/repository"
)

// Resource is the projected form of a model.
type Resource map[string]any

// Projector turns a model into a Resource. A nil result is allowed for
// zero models.
type Projector[M any] func(M) (Resource, error)

// List is the projected result of FindAll.
type List struct {
	Data  []Resource        `json:"data"`
	Total int64             `json:"total"`
	Meta  *repository.Meta  `json:"meta,omitempty"`
	Links *repository.Links `json:"links,omitempty"`
}

// Service exposes one resource.
//
// Thread-safety: Service is safe for concurrent use if its repository is.
type Service[M any] struct {
	name    string
	repo    repository.Repository[M]
	project Projector[M]
	logger  *slog.Logger
}

// Option configures a Service.
type Option[M any] func(*Service[M])

// WithProjector replaces the default projection.
func WithProjector[M any](p Projector[M]) Option[M] {
	return func(s *Service[M]) { s.project = p }
}

// WithLogger sets the logger.
func WithLogger[M any](l *slog.Logger) Option[M] {
	return func(s *Service[M]) { s.logger = l }
}

// New creates a Service named name over repo. By default models project
// through their json tags with empty fields dropped.
func New[M any](name string, repo repository.Repository[M], opts ...Option[M]) *Service[M] {
	s := &Service[M]{
		name:    name,
		repo:    repo,
		project: Project[M],
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("service", name)
	return s
}

// Name returns the resource name.
func (s *Service[M]) Name() string {
	return s.name
}

// FindOneInstance returns the model itself. A miss is a NotFound error whose
// message is NOT_FOUND_<RESOURCE>.
func (s *Service[M]) FindOneInstance(ctx context.Context, id string, opts *ir.FilterContract) (M, error) {
	model, found, err := s.repo.GetOne(ctx, id, opts)
	if err != nil {
		return model, err
	}
	if !found {
		return model, &repoerr.Error{
			Code:    repoerr.CodeNotFound,
			Message: "NOT_FOUND_" + strings.ToUpper(s.name),
			Field:   id,
		}
	}
	return model, nil
}

// FindOne returns the projected model.
func (s *Service[M]) FindOne(ctx context.Context, id string, opts *ir.FilterContract) (Resource, error) {
	model, err := s.FindOneInstance(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	return s.project(model)
}

// FindAll returns every projected model matching opts, one page of them
// when pagination is set.
func (s *Service[M]) FindAll(ctx context.Context, pagination *repository.Pagination, opts *ir.FilterContract) (*List, error) {
	page, err := s.repo.GetAll(ctx, pagination, opts)
	if err != nil {
		return nil, err
	}

	data := make([]Resource, len(page.Data))
	for i, m := range page.Data {
		if data[i], err = s.project(m); err != nil {
			return nil, err
		}
	}
	return &List{Data: data, Total: page.Total, Meta: page.Meta, Links: page.Links}, nil
}

// CreateOne stores payload and returns the projected record.
func (s *Service[M]) CreateOne(ctx context.Context, payload repository.Payload) (Resource, error) {
	model, err := s.repo.StoreOne(ctx, payload)
	if err != nil {
		return nil, err
	}
	return s.project(model)
}

// UpdateOne loads the record by id and applies payload.
func (s *Service[M]) UpdateOne(ctx context.Context, id string, payload repository.Payload) (Resource, error) {
	model, err := s.FindOneInstance(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateOne(ctx, repository.ByModel(model), payload)
	if err != nil {
		return nil, err
	}
	return s.project(updated)
}

// DeleteOne loads the record by id and deletes it. A hard deletion
// projects to nil.
func (s *Service[M]) DeleteOne(ctx context.Context, id string, soft bool) (Resource, error) {
	model, err := s.FindOneInstance(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	deleted, err := s.repo.DeleteOne(ctx, repository.ByModel(model), soft)
	if err != nil {
		return nil, err
	}
	s.logger.Info("record deleted", "id", id, "soft", soft)
	if !soft {
		return nil, nil
	}
	return s.project(deleted)
}

// Project is the default projection: the model's JSON form, with unset
// top-level fields (null, zero, empty string, false) dropped. Integral
// numbers stay int64; times become RFC 3339 strings.
func Project[M any](model M) (Resource, error) {
	if !repository.IsSet(model) {
		return nil, nil
	}

	data, err := json.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("project model: %w", err)
	}
	fields, err := repository.DecodePayload(data)
	if err != nil {
		return nil, fmt.Errorf("project model: %w", err)
	}

	out := make(Resource, len(fields))
	for k, v := range fields {
		if repository.IsSet(v) {
			out[k] = v
		}
	}
	return out, nil
}
