package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terifai/terifai/internal/clone"
)

type fakeVoices struct {
	voices  []clone.Voice
	listErr error
	failOn  string
	deleted []string
}

func (f *fakeVoices) List(context.Context) ([]clone.Voice, error) { return f.voices, f.listErr }

func (f *fakeVoices) Delete(_ context.Context, id string) error {
	if id == f.failOn {
		return errors.New("boom")
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func sample() *fakeVoices {
	return &fakeVoices{voices: []clone.Voice{
		{ID: "1", Name: "terifai-0a1b2c3d"},
		{ID: "2", Name: "Stock Narrator"},
		{ID: "3", Name: "terifai-deadbeef"},
	}}
}

func TestDeleteManagedOnly(t *testing.T) {
	f := sample()
	res, err := deleteVoices(context.Background(), f, false, false)
	require.NoError(t, err)
	assert.Equal(t, result{Deleted: 2, Skipped: 1}, res)
	assert.Equal(t, []string{"1", "3"}, f.deleted)
}

func TestDeleteAll(t *testing.T) {
	f := sample()
	f.failOn = "2"
	res, err := deleteVoices(context.Background(), f, true, false)
	require.NoError(t, err)
	assert.Equal(t, result{Deleted: 2, Failed: 1}, res)
	assert.Equal(t, []string{"1", "3"}, f.deleted)
}

func TestDryRunDeletesNothing(t *testing.T) {
	f := sample()
	res, err := deleteVoices(context.Background(), f, false, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Empty(t, f.deleted)
}

func TestListError(t *testing.T) {
	f := &fakeVoices{listErr: errors.New("unauthorized")}
	_, err := deleteVoices(context.Background(), f, false, false)
	assert.EqualError(t, err, "unauthorized")
}
