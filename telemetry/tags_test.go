package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTaggedRequest() *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/messages", nil)
	return InjectTags(r)
}

func TestInjectTags_DefaultsResultToBypass(t *testing.T) {
	r := newTaggedRequest()
	tags := GetTags(r)
	require.NotNil(t, tags)
	require.Equal(t, DispatchBypass, tags.Result)
	require.Empty(t, tags.MessageType)
}

func TestGetTags_NilWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	require.Nil(t, GetTags(r))
}

func TestSetMessage(t *testing.T) {
	r := newTaggedRequest()
	SetMessage(r, "background", "saveTimestamp")
	require.Equal(t, "background", GetTags(r).Target)
	require.Equal(t, "saveTimestamp", GetTags(r).MessageType)
}

func TestSetters_NoopWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	SetMessage(r, "background", "requestTheme")
	SetResult(r, DispatchHandled)
}

func TestSetResult_OverridesDefault(t *testing.T) {
	r := newTaggedRequest()
	SetResult(r, DispatchIgnored)
	require.Equal(t, DispatchIgnored, GetTags(r).Result)
}

func TestTagsMutationVisibleThroughPointer(t *testing.T) {
	r := newTaggedRequest()
	tags := GetTags(r)

	SetMessage(r, "content", "timestampInfo")
	SetResult(r, DispatchHandled)

	require.Equal(t, "content", tags.Target)
	require.Equal(t, "timestampInfo", tags.MessageType)
	require.Equal(t, DispatchHandled, tags.Result)
}

func TestMessageTypeFromContext(t *testing.T) {
	require.Empty(t, MessageTypeFromContext(context.Background()))

	ctx := WithMessageType(context.Background(), "requestOptions")
	require.Equal(t, "requestOptions", MessageTypeFromContext(ctx))

	r := newTaggedRequest()
	SetMessage(r, "background", "toggleTheme")
	require.Equal(t, "toggleTheme", MessageTypeFromContext(r.Context()))

	// An explicit handler value wins over request tags.
	ctx = WithMessageType(r.Context(), "requestTheme")
	require.Equal(t, "requestTheme", MessageTypeFromContext(ctx))
}
