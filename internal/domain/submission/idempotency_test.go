package submission

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyStableAcrossFieldOrder(t *testing.T) {
	a := json.RawMessage(`{"name":"Acme Co","city":"Austin","phone":"555-0100"}`)
	b := json.RawMessage(`{"phone":"555-0100","name":"Acme Co","city":"Austin"}`)

	keyA, err := DeriveKey("job-1", "yelp", a)
	require.NoError(t, err)
	keyB, err := DeriveKey("job-1", "yelp", b)
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB)
	assert.Len(t, keyA, 64)
}

func TestDeriveKeyStableAcrossNesting(t *testing.T) {
	a := json.RawMessage(`{"address":{"zip":"78701","street":"1 Main St"},"name":"Acme"}`)
	b := json.RawMessage(`{"name":"Acme","address":{"street":"1 Main St","zip":"78701"}}`)

	keyA, err := DeriveKey("job-1", "yelp", a)
	require.NoError(t, err)
	keyB, err := DeriveKey("job-1", "yelp", b)
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB)
}

func TestDeriveKeyDistinguishesInputs(t *testing.T) {
	payload := json.RawMessage(`{"name":"Acme"}`)

	base, err := DeriveKey("job-1", "yelp", payload)
	require.NoError(t, err)

	otherJob, err := DeriveKey("job-2", "yelp", payload)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherJob)

	otherTarget, err := DeriveKey("job-1", "gmb", payload)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherTarget)

	otherPayload, err := DeriveKey("job-1", "yelp", json.RawMessage(`{"name":"Other"}`))
	require.NoError(t, err)
	assert.NotEqual(t, base, otherPayload)
}

func TestDeriveKeyPreservesNumberPrecision(t *testing.T) {
	// json.Number round-trips large integers without float truncation.
	a := json.RawMessage(`{"external_id":9007199254740993}`)
	b := json.RawMessage(`{"external_id":9007199254740992}`)

	keyA, err := DeriveKey("job-1", "yelp", a)
	require.NoError(t, err)
	keyB, err := DeriveKey("job-1", "yelp", b)
	require.NoError(t, err)

	assert.NotEqual(t, keyA, keyB)
}

func TestDeriveKeyRejectsInvalidInput(t *testing.T) {
	payload := json.RawMessage(`{"name":"Acme"}`)

	_, err := DeriveKey("", "yelp", payload)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = DeriveKey("job-1", "  ", payload)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = DeriveKey("job-1", "yelp", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = DeriveKey("job-1", "yelp", json.RawMessage(`{"name":`))
	assert.ErrorIs(t, err, ErrInvalidInput)
}
