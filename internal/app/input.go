package app

import (
	"encoding/json"
	"time"
)

// Optional distinguishes an absent JSON field from an explicit null, so
// partial updates can clear nullable references.
type Optional[T any] struct {
	Set   bool
	Value *T
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// apply overwrites target when the field was sent.
func (o Optional[T]) apply(target **T) {
	if o.Set {
		*target = o.Value
	}
}

func setIfPresent[T any](target *T, value *T) {
	if value != nil {
		*target = *value
	}
}

type WorkspaceInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsDefault   *bool   `json:"isDefault"`
}

type LabelInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	SortOrder   *int    `json:"sortOrder"`
}

type CategoryInput struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Parent      Optional[int64] `json:"parent"`
}

type CommentInput struct {
	Content *string         `json:"content"`
	Parent  Optional[int64] `json:"parent"`
}

type WorkItemInput struct {
	Title              *string           `json:"title"`
	Detail             *string           `json:"detail"`
	Parent             Optional[int64]   `json:"parent"`
	Project            Optional[int64]   `json:"project"`
	Status             Optional[int64]   `json:"status"`
	Priority           Optional[int64]   `json:"priority"`
	Tags               *[]int64          `json:"tags"`
	IsVisible          *bool             `json:"isVisible"`
	EstimatedStartDate Optional[string]  `json:"estimatedStartDate"`
	EstimatedEndDate   Optional[string]  `json:"estimatedEndDate"`
	ActualStartDate    Optional[string]  `json:"actualStartDate"`
	ActualEndDate      Optional[string]  `json:"actualEndDate"`
	EstimatedEffort    Optional[float64] `json:"estimatedEffort"`
	ActualEffort       Optional[float64] `json:"actualEffort"`
}

const dateLayout = "2006-01-02"

func applyDate(field string, in Optional[string], target **time.Time) error {
	if !in.Set {
		return nil
	}
	if in.Value == nil || *in.Value == "" {
		*target = nil
		return nil
	}
	parsed, err := time.Parse(dateLayout, *in.Value)
	if err != nil {
		return fieldError(field, "Date has wrong format. Use YYYY-MM-DD.")
	}
	*target = &parsed
	return nil
}

func applyEffort(field string, in Optional[float64], target **float64) error {
	if !in.Set {
		return nil
	}
	if in.Value != nil && *in.Value < 0 {
		return fieldError(field, "Ensure this value is greater than or equal to 0.")
	}
	*target = in.Value
	return nil
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}
