package memdom

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbot/pkg/dom"
)

func TestParseSelector(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    selector
		wantErr bool
	}{
		{raw: "body", want: selector{tag: "body"}},
		{raw: "#yDmH0d", want: selector{id: "yDmH0d"}},
		{raw: `[jsname="x2XZJc"]`, want: selector{attrs: []attrMatch{{name: "jsname", value: "x2XZJc", hasValue: true}}}},
		{raw: "div[jscontroller]", want: selector{tag: "div", attrs: []attrMatch{{name: "jscontroller"}}}},
		{raw: "span.name.host", want: selector{tag: "span", classes: []string{"name", "host"}}},
		{raw: "div > span", wantErr: true},
		{raw: "[broken", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()

			got, err := parseSelector(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFirstVisibleSkipsHiddenMatches(t *testing.T) {
	doc := New("https://meet.google.com/abc-defg-hij")
	ctx := context.Background()

	hidden := doc.Append(nil, &Element{Tag: "div", Attrs: map[string]string{"role": "main"}, Width: 100, Height: 100})
	doc.SetStyle(hidden, "display", "none")
	doc.Append(nil, &Element{Tag: "div", Attrs: map[string]string{"role": "main"}, Width: 100, Height: 100})

	ref, ok, err := doc.FirstVisible(ctx, `[role="main"]`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, ref.Index)
}

func TestVisibilityInheritsFromAncestors(t *testing.T) {
	doc := New("")
	ctx := context.Background()

	wrapper := doc.Append(nil, &Element{Tag: "section", Width: 100, Height: 100})
	doc.Append(wrapper, &Element{Tag: "div", Attrs: map[string]string{"jsname": "Tmb7Fd"}, Width: 10, Height: 10})
	doc.SetStyle(wrapper, "visibility", "hidden")

	_, ok, err := doc.FirstVisible(ctx, `[jsname="Tmb7Fd"]`)
	require.NoError(t, err)
	assert.False(t, ok)

	doc.SetStyle(wrapper, "visibility", "visible")
	_, ok, err = doc.FirstVisible(ctx, `[jsname="Tmb7Fd"]`)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMountRenderRemove(t *testing.T) {
	doc := New("")
	ctx := context.Background()

	mount := dom.MountSpec{ID: "panel", Style: "p{}", ClassName: "auth", HTML: "<p>a</p>"}
	require.NoError(t, doc.Mount(ctx, dom.Body(), mount))
	require.ErrorIs(t, doc.Mount(ctx, dom.Body(), mount), dom.ErrExists)

	exists, err := doc.Exists(ctx, "panel")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, doc.Render(ctx, "panel", "control", "<p>b</p>"))
	shadow, ok := doc.MountPoint("panel")
	require.True(t, ok)
	assert.Equal(t, Shadow{Style: "p{}", ClassName: "control", HTML: "<p>b</p>"}, shadow)

	require.NoError(t, doc.Dispatch(ctx, "panel", "bot-status-update", map[string]any{"status": "joined"}))
	require.Len(t, doc.Dispatched(), 1)

	require.NoError(t, doc.Remove(ctx, "panel"))
	require.NoError(t, doc.Remove(ctx, "panel"))
	assert.Zero(t, doc.Count("#panel"))
	assert.ErrorIs(t, doc.Render(ctx, "panel", "", ""), dom.ErrNotFound)
	assert.ErrorIs(t, doc.Dispatch(ctx, "panel", "x", nil), dom.ErrNotFound)
}

func TestMountIntoMissingContainer(t *testing.T) {
	doc := New("")

	err := doc.Mount(context.Background(), dom.ElementRef{Selector: "#gone"}, dom.MountSpec{ID: "panel"})
	require.ErrorIs(t, err, dom.ErrNotFound)
}

func TestObserveBatchesMutations(t *testing.T) {
	doc := New("")
	ctx, cancel := context.WithCancel(context.Background())

	changes := doc.Observe(ctx)
	for i := 0; i < 10; i++ {
		doc.Append(nil, &Element{Tag: "div"})
	}

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("expected a change signal")
	}
	select {
	case <-changes:
		t.Fatal("burst of mutations should coalesce into one signal")
	default:
	}

	cancel()
	select {
	case _, ok := <-changes:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected channel to close with the context")
	}
}

func TestQueryAllCollectsText(t *testing.T) {
	doc := New("")
	tile := doc.Append(nil, &Element{Tag: "div", Attrs: map[string]string{"data-participant-id": "1"}})
	doc.Append(tile, &Element{Tag: "span", Text: "Ada Lovelace"})
	doc.Append(tile, &Element{Tag: "span", Text: "(You)"})

	nodes, err := doc.QueryAll(context.Background(), "[data-participant-id]")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Ada Lovelace (You)", nodes[0].Text)
	assert.Equal(t, "1", nodes[0].Attrs["data-participant-id"])
}

func TestClickDeliversActions(t *testing.T) {
	doc := New("")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	actions := doc.Actions(ctx)
	doc.Click("login", map[string]string{"email": "a@b.c"})

	select {
	case action := <-actions:
		assert.Equal(t, "login", action.Name)
		assert.Equal(t, "a@b.c", action.Fields["email"])
	case <-time.After(time.Second):
		t.Fatal("expected action")
	}
}

func TestClearWipesBody(t *testing.T) {
	doc := New("")
	doc.Append(nil, &Element{Tag: "div", Attrs: map[string]string{"jsname": "x2XZJc"}})
	doc.Clear()
	assert.Zero(t, doc.Count(`[jsname="x2XZJc"]`))
	assert.Equal(t, 1, doc.Count("body"))
}
