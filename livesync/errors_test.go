package livesync

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestFlattenPlainString(t *testing.T) {
	assert.Equal(t, "something broke", flattenErrorBody([]byte("something broke")))
	assert.Equal(t, "something broke", flattenErrorBody([]byte("  something broke \n")))
	assert.Equal(t, "quoted failure", flattenErrorBody([]byte(`"quoted failure"`)))
	assert.Equal(t, "request failed", flattenErrorBody([]byte("   ")))
}

func TestFlattenStringArray(t *testing.T) {
	body := []byte(`["first problem", "second problem"]`)
	assert.Equal(t, "first problem; second problem", flattenErrorBody(body))
}

func TestFlattenProblemObject(t *testing.T) {
	body := []byte(`{
		"title": "Validation failed",
		"detail": "2 fields are invalid",
		"errors": {
			"title": ["required"],
			"price": ["must be positive", "too low"]
		}
	}`)
	assert.Equal(
		t,
		"Validation failed; 2 fields are invalid; price: must be positive; too low; title: required",
		flattenErrorBody(body),
	)
}

func TestFlattenProblemObjectPartial(t *testing.T) {
	assert.Equal(t, "Conflict", flattenErrorBody([]byte(`{"title": "Conflict"}`)))
	assert.Equal(t, "price: required", flattenErrorBody([]byte(`{"errors": {"price": ["required"]}}`)))
}

func TestFlattenMalformedJsonFallsBack(t *testing.T) {
	assert.Equal(t, "{not json", flattenErrorBody([]byte("{not json")))
	assert.Equal(t, "[broken", flattenErrorBody([]byte("[broken")))
}

func TestFieldErrorsError(t *testing.T) {
	fieldErrors := FieldErrors{
		{Field: "title", Message: "required"},
		{Field: "price", Message: "must be positive"},
	}
	assert.Equal(t, "title: required; price: must be positive", fieldErrors.Error())
}
