package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbot/pkg/dom"
	"meetbot/pkg/dom/memdom"
	"meetbot/pkg/logger"
)

func TestIsActiveRequiresVisibleMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*memdom.Document, *memdom.Element)
		want   bool
	}{
		{name: "visible", mutate: func(*memdom.Document, *memdom.Element) {}, want: true},
		{name: "zero size", mutate: func(d *memdom.Document, el *memdom.Element) { d.SetSize(el, 0, 0) }, want: false},
		{name: "zero width", mutate: func(d *memdom.Document, el *memdom.Element) { d.SetSize(el, 0, 40) }, want: false},
		{name: "display none", mutate: func(d *memdom.Document, el *memdom.Element) { d.SetStyle(el, "display", "none") }, want: false},
		{name: "visibility hidden", mutate: func(d *memdom.Document, el *memdom.Element) { d.SetStyle(el, "visibility", "hidden") }, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			doc := memdom.New("https://meet.google.com/abc-defg-hij")
			el := doc.Append(nil, &memdom.Element{Tag: "div", Attrs: map[string]string{"jsname": "EaZ7Cc"}, Width: 400, Height: 60})
			tt.mutate(doc, el)

			assert.Equal(t, tt.want, New(doc, nil, logger.Discard()).IsActive(context.Background()))
		})
	}
}

func TestHiddenElementBecomesVisible(t *testing.T) {
	doc := memdom.New("")
	el := doc.Append(nil, &memdom.Element{Tag: "div", Attrs: map[string]string{"data-allocation-index": "0"}})
	d := New(doc, nil, logger.Discard())

	assert.False(t, d.IsActive(context.Background()))

	doc.SetSize(el, 200, 120)
	doc.SetStyle(el, "display", "none")
	assert.False(t, d.IsActive(context.Background()))

	doc.SetStyle(el, "display", "block")
	verdict := d.Evaluate(context.Background())
	assert.True(t, verdict.Active)
	assert.Equal(t, `[data-allocation-index]`, verdict.Selector)
}

func TestEvaluateReturnsFirstVisibleInPriorityOrder(t *testing.T) {
	doc := memdom.New("")
	doc.Append(nil, &memdom.Element{Tag: "div", Attrs: map[string]string{"data-is-call-started": "true"}, Width: 1, Height: 1})
	doc.Append(nil, &memdom.Element{Tag: "div", Attrs: map[string]string{"jsname": "Tmb7Fd"}, Width: 1, Height: 1})

	verdict := New(doc, nil, logger.Discard()).Evaluate(context.Background())
	assert.Equal(t, `[jsname="Tmb7Fd"]`, verdict.Selector)
}

type failingDoc struct {
	dom.Document
	calls int
}

func (f *failingDoc) FirstVisible(context.Context, string) (dom.ElementRef, bool, error) {
	f.calls++
	return dom.ElementRef{}, false, errors.New("page crashed")
}

func TestQueryErrorsReadAsInactive(t *testing.T) {
	doc := &failingDoc{}
	assert.False(t, New(doc, []string{"a", "b"}, logger.Discard()).IsActive(context.Background()))
	assert.Equal(t, 2, doc.calls)
}

func TestWatchReportsTransitions(t *testing.T) {
	doc := memdom.New("")
	d := New(doc, nil, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	verdicts := make(chan bool, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Watch(ctx, func(_ context.Context, v Verdict) { verdicts <- v.Active })
	}()

	next := func() bool {
		t.Helper()
		select {
		case v := <-verdicts:
			return v
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for verdict")
			return false
		}
	}

	require.False(t, next())

	el := doc.Append(nil, &memdom.Element{Tag: "div", Attrs: map[string]string{"jsname": "x2XZJc"}, Width: 10, Height: 10})
	require.True(t, next())

	doc.RemoveNode(el)
	require.False(t, next())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestNewNormalizesSelectors(t *testing.T) {
	t.Parallel()

	doc := memdom.New("")
	d := New(doc, []string{` [role="main"] `, "", `[role="main"]`, "[data-allocation-index]"}, logger.Discard())
	assert.Equal(t, []string{`[role="main"]`, "[data-allocation-index]"}, d.selectors)

	assert.Equal(t, DefaultSelectors, New(doc, []string{" ", ""}, logger.Discard()).selectors)
}
