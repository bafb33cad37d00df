package harness

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tenantcore/internal/model"
	"github.com/roach88/tenantcore/internal/repository"
	"github.com/roach88/tenantcore/internal/store"
)

// row is a record flattened for traces and expectations.
type row struct {
	ID      string
	Version int64
	Fields  map[string]any
}

// tableOps is the untyped face of a repository, so steps can address tables
// by name.
type tableOps interface {
	create(ctx context.Context, tenant, id string, fields map[string]any) (row, error)
	get(ctx context.Context, tenant, id string) (row, bool, error)
	update(ctx context.Context, tenant, id string, version int64, set map[string]any) (row, error)
	delete(ctx context.Context, tenant, id string) (bool, error)
	list(ctx context.Context, tenant string, opts repository.ListOptions) ([]row, string, error)
}

type binding[T any] struct {
	repo *repository.Repository[T]
}

func bind[T any](exec store.Executor, table repository.Table[T], opts []repository.Option) tableOps {
	return binding[T]{repo: repository.New(exec, table, opts...)}
}

// newTables binds every model table.
func newTables(exec store.Executor, opts ...repository.Option) map[string]tableOps {
	return map[string]tableOps{
		model.Conversations.Name: bind(exec, model.Conversations, opts),
		model.Messages.Name:      bind(exec, model.Messages, opts),
		model.Documents.Name:     bind(exec, model.Documents, opts),
	}
}

func (b binding[T]) create(ctx context.Context, tenant, id string, fields map[string]any) (row, error) {
	var f T
	if err := decodeFields(fields, &f); err != nil {
		return row{}, err
	}
	var opts []repository.CreateOption
	if id != "" {
		opts = append(opts, repository.WithID(id))
	}
	rec, err := b.repo.Create(ctx, tenant, f, opts...)
	if err != nil {
		return row{}, err
	}
	return toRow(rec)
}

func (b binding[T]) get(ctx context.Context, tenant, id string) (row, bool, error) {
	rec, ok, err := b.repo.Get(ctx, tenant, id)
	if err != nil || !ok {
		return row{}, ok, err
	}
	r, err := toRow(rec)
	return r, true, err
}

func (b binding[T]) update(ctx context.Context, tenant, id string, version int64, set map[string]any) (row, error) {
	cols := make([]string, 0, len(set))
	for c := range set {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	changes := make([]repository.Assignment, len(cols))
	for i, c := range cols {
		changes[i] = repository.Set(c, set[c])
	}
	rec, err := b.repo.Update(ctx, tenant, id, version, changes...)
	if err != nil {
		return row{}, err
	}
	return toRow(rec)
}

func (b binding[T]) delete(ctx context.Context, tenant, id string) (bool, error) {
	return b.repo.Delete(ctx, tenant, id)
}

func (b binding[T]) list(ctx context.Context, tenant string, opts repository.ListOptions) ([]row, string, error) {
	page, err := b.repo.List(ctx, tenant, opts)
	if err != nil {
		return nil, "", err
	}
	rows := make([]row, len(page.Items))
	for i, rec := range page.Items {
		if rows[i], err = toRow(rec); err != nil {
			return nil, "", err
		}
	}
	return rows, page.NextCursor, nil
}

// decodeFields maps scenario fields onto T through its yaml tags; unknown
// keys are an error.
func decodeFields(fields map[string]any, dst any) error {
	data, err := yaml.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}
	return nil
}

func toRow[T any](rec repository.Record[T]) (row, error) {
	data, err := yaml.Marshal(rec.Fields)
	if err != nil {
		return row{}, fmt.Errorf("encode record: %w", err)
	}
	var fields map[string]any
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return row{}, fmt.Errorf("decode record: %w", err)
	}
	for k, v := range fields {
		if n, ok := v.(int); ok {
			fields[k] = int64(n)
		}
	}
	return row{ID: rec.ID, Version: rec.Version, Fields: fields}, nil
}
