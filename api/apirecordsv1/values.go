package apirecordsv1

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/fulldump/box"

	"github.com/fulldump/recorddb/store"
	"github.com/fulldump/recorddb/update"
)

func replaceValues(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	s, collection, err := getStore(ctx)
	if err != nil {
		return err
	}

	values := map[string]any{}
	if err := readBody(r, &values); err != nil {
		return err
	}

	err = s.UpdateEntireRecord(collection, box.GetUrlParameter(ctx, "key"), values)
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type updateFieldsInput struct {
	Fields []fieldJSON `json:"fields"`
	Values []any       `json:"values"`
}

func updateFields(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	s, collection, err := getStore(ctx)
	if err != nil {
		return err
	}

	input := &updateFieldsInput{}
	if err := readBody(r, input); err != nil {
		return err
	}
	keys, err := fields(input.Fields)
	if err != nil {
		return err
	}

	err = s.UpdateFields(collection, box.GetUrlParameter(ctx, "key"), keys, input.Values)
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type applyUpdateInput struct {
	Operation string `json:"operation"`
	Field     string `json:"field"`
	NewValues []any  `json:"newValues"`
	OldValues []any  `json:"oldValues"`
	Argument  int    `json:"argument"`
}

type changedOutput struct {
	Changed bool `json:"changed"`
}

func applyUpdate(ctx context.Context, r *http.Request) (*changedOutput, error) {

	s, collection, err := getStore(ctx)
	if err != nil {
		return nil, err
	}

	input := &applyUpdateInput{}
	if err := readBody(r, input); err != nil {
		return nil, err
	}
	op, err := update.Parse(input.Operation)
	if err != nil {
		return nil, errors.Mark(err, store.ErrInvalidArgument)
	}

	changed, err := s.ApplyUpdate(collection, box.GetUrlParameter(ctx, "key"), op, input.Field, input.NewValues, input.OldValues, input.Argument)
	if err != nil {
		return nil, err
	}
	return &changedOutput{Changed: changed}, nil
}

type updateConditionalInput struct {
	Condition struct {
		Field fieldJSON `json:"field"`
		Value any       `json:"value"`
	} `json:"condition"`
	Fields          []fieldJSON `json:"fields"`
	Values          []any       `json:"values"`
	ValuesMapKeys   []fieldJSON `json:"valuesMapKeys"`
	ValuesMapValues []any       `json:"valuesMapValues"`
}

type updatedOutput struct {
	Updated bool `json:"updated"`
}

func updateConditional(ctx context.Context, r *http.Request) (*updatedOutput, error) {

	s, collection, err := getStore(ctx)
	if err != nil {
		return nil, err
	}

	input := &updateConditionalInput{}
	if err := readBody(r, input); err != nil {
		return nil, err
	}
	condition, err := fields([]fieldJSON{input.Condition.Field})
	if err != nil {
		return nil, err
	}
	systemFields, err := fields(input.Fields)
	if err != nil {
		return nil, err
	}
	valuesMapKeys, err := fields(input.ValuesMapKeys)
	if err != nil {
		return nil, err
	}

	updated, err := s.UpdateConditional(collection, box.GetUrlParameter(ctx, "key"),
		store.Condition{Field: condition[0], Value: input.Condition.Value},
		store.Update{
			Fields:          systemFields,
			Values:          input.Values,
			ValuesMapKeys:   valuesMapKeys,
			ValuesMapValues: input.ValuesMapValues,
		})
	if err != nil {
		return nil, err
	}
	return &updatedOutput{Updated: updated}, nil
}

type removeKeysInput struct {
	Keys []fieldJSON `json:"keys"`
}

func removeKeys(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	s, collection, err := getStore(ctx)
	if err != nil {
		return err
	}

	input := &removeKeysInput{}
	if err := readBody(r, input); err != nil {
		return err
	}
	keys, err := fields(input.Keys)
	if err != nil {
		return err
	}

	err = s.RemoveMapKeys(collection, box.GetUrlParameter(ctx, "key"), keys)
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
