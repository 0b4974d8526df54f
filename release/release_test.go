package release

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/boosty-companion/backend"
	"github.com/wolfeidau/boosty-companion/store"
)

type recordingNotifier struct {
	sent []Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.sent = append(r.sent, n)
	return r.err
}

func newLocal(t *testing.T) *store.Store {
	t.Helper()
	return store.New(store.Local, backend.NewMemory())
}

func TestCheck_InstallThenNothing(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)
	n := &recordingNotifier{}

	c, err := NewChecker(local, "1.0.2", n)
	require.NoError(t, err)

	event, err := c.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, Install, event)
	require.Len(t, n.sent, 1)
	assert.Equal(t, "Restart required", n.sent[0].Title)
	assert.Equal(t, Install, n.sent[0].Event)

	stored, ok, err := store.Lookup[string](ctx, local, KeyVersion)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1.0.2", stored)

	event, err = c.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, None, event)
	assert.Len(t, n.sent, 1, "the same version notifies once")
}

func TestCheck_UpdateWithNotes(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)
	require.NoError(t, local.Write(ctx, KeyVersion, "1.0.0"))
	n := &recordingNotifier{}

	c, err := NewChecker(local, "v1.0.2", n, WithLocale("ru_RU.UTF-8"))
	require.NoError(t, err)

	event, err := c.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, Update, event)
	require.Len(t, n.sent, 1)
	assert.Equal(t, "Обновление 1.0.2", n.sent[0].Title)
	assert.Equal(t, "Исправлена проблема обновления настроек, Доработаны нотификации о новых версиях", n.sent[0].Message)
	assert.Contains(t, n.sent[0].Link, "v1.0.2")
	assert.Equal(t, "1.0.2", n.sent[0].Version)
}

func TestCheck_UpdateWithoutNotes(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)
	require.NoError(t, local.Write(ctx, KeyVersion, "1.0.2"))
	n := &recordingNotifier{}

	c, err := NewChecker(local, "1.1.0", n)
	require.NoError(t, err)

	event, err := c.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, Update, event)
	assert.Empty(t, n.sent)

	stored, _, err := store.Lookup[string](ctx, local, KeyVersion)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", stored)
}

func TestCheck_EquivalentVersionStrings(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)
	require.NoError(t, local.Write(ctx, KeyVersion, "v1.0.0"))

	c, err := NewChecker(local, "1.0", &recordingNotifier{})
	require.NoError(t, err)

	event, err := c.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, None, event)
}

func TestCheck_UnreadableStoredVersion(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)
	require.NoError(t, local.Write(ctx, KeyVersion, "not-a-version"))

	c, err := NewChecker(local, "1.0.0", &recordingNotifier{})
	require.NoError(t, err)

	event, err := c.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, Update, event)
}

func TestCheck_NotifierFailureStillRecordsVersion(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)
	n := &recordingNotifier{err: errors.New("no display")}

	c, err := NewChecker(local, "1.0.0", n)
	require.NoError(t, err)

	event, err := c.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, Install, event)

	_, ok, err := store.Lookup[string](ctx, local, KeyVersion)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewChecker_InvalidVersion(t *testing.T) {
	_, err := NewChecker(newLocal(t), "latest", &recordingNotifier{})
	require.Error(t, err)
}

func TestMatchLocale(t *testing.T) {
	tests := map[string]string{
		"":            "en",
		"en_US.UTF-8": "en",
		"ru_RU.UTF-8": "ru",
		"ru":          "ru",
		"de-DE":       "en",
		"C":           "en",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, MatchLocale(in))
		})
	}
}

func TestLoadNotes(t *testing.T) {
	_, err := LoadNotes([]byte(`{"versions":{"next":{}}}`))
	require.Error(t, err)

	_, err = LoadNotes([]byte(`{`))
	require.Error(t, err)

	notes, err := LoadNotes([]byte(`{"versions":{"2.0":{"title":{"en":"Two"},"message":{"en":["a","b"]}}}}`))
	require.NoError(t, err)

	c, err := NewChecker(newLocal(t), "2.0.0", &recordingNotifier{}, WithNotes(notes), WithLocale("ru"))
	require.NoError(t, err)
	got, ok := notes.forVersion(c.current)
	require.True(t, ok)

	title, message := got.render("ru")
	assert.Equal(t, "Two", title, "falls back to English")
	assert.Equal(t, "a, b", message)
}

func TestDefaultNotesParse(t *testing.T) {
	assert.NotPanics(t, func() { DefaultNotes() })
}
