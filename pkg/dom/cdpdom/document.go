// Package cdpdom drives a real host page in a running Chrome over the
// DevTools protocol. Mutations and panel actions flow back through a page
// binding installed on every document the tab loads.
package cdpdom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"meetbot/pkg/dom"
	"meetbot/pkg/logger"
)

const (
	bindingName   = "__meetbotEvent"
	evalTimeout   = 10 * time.Second
	detachTimeout = 2 * time.Second
)

// ErrNoTarget is returned by Attach when no open tab matches.
var ErrNoTarget = errors.New("no matching page target")

type bindingPayload struct {
	Kind   string            `json:"kind"`
	Name   string            `json:"name,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Document is a dom.Document backed by one Chrome tab.
type Document struct {
	ctx context.Context
	log *slog.Logger

	mu        sync.Mutex
	observers map[int]chan struct{}
	actions   map[int]chan dom.Action
	nextID    int
}

var _ dom.Document = (*Document)(nil)

// Attach connects to the browser at cdpURL, selects the first page whose URL
// contains urlPart and installs the observer script. The tab context outlives
// ctx so the panel can still be removed on shutdown. The returned func
// detaches the DevTools session and leaves the tab open in the browser.
func Attach(ctx context.Context, cdpURL, urlPart string, log *slog.Logger) (*Document, func(), error) {
	log = logger.Component(log, "dom.cdp")

	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), cdpURL)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	release := func() {
		cancelBrowser()
		cancelAlloc()
	}
	stopEarly := context.AfterFunc(ctx, release)

	fail := func(err error) (*Document, func(), error) {
		stopEarly()
		release()
		return nil, nil, err
	}

	// Targets allocates the browser connection without opening a tab of its own.
	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		return fail(fmt.Errorf("connect to browser at %s: %w", cdpURL, err))
	}

	var targetURL string
	var tabCtx context.Context
	for _, info := range targets {
		if info.Type == "page" && strings.Contains(info.URL, urlPart) {
			targetURL = info.URL
			// Cancelling a chromedp tab context closes the tab, so this one is never cancelled.
			tabCtx, _ = chromedp.NewContext(context.WithoutCancel(browserCtx), chromedp.WithTargetID(info.TargetID))
			break
		}
	}
	if tabCtx == nil {
		return fail(fmt.Errorf("%w: url contains %q", ErrNoTarget, urlPart))
	}

	d := newDocument(tabCtx, log)
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if called, ok := ev.(*runtime.EventBindingCalled); ok && called.Name == bindingName {
			d.handleBinding(called.Payload)
		}
	})

	err = chromedp.Run(tabCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return runtime.AddBinding(bindingName).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(observerScript).Do(ctx)
			return err
		}),
		chromedp.Evaluate(observerScript, nil),
	)
	if err != nil {
		return fail(fmt.Errorf("install page observer: %w", err))
	}
	if !stopEarly() {
		release()
		return nil, nil, ctx.Err()
	}

	log.Info("Attached to host page", "url", targetURL)

	c := chromedp.FromContext(tabCtx)
	return d, detacher(c.Browser, c.Target.SessionID, release, log), nil
}

// detacher ends the DevTools session on the tab, then drops the browser
// connection. Target.closeTarget is never sent.
func detacher(exec cdp.Executor, session target.SessionID, release func(), log *slog.Logger) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
			defer cancel()

			if err := target.DetachFromTarget().WithSessionID(session).Do(cdp.WithExecutor(ctx, exec)); err != nil {
				log.Debug("Detach from host page failed", "error", err)
			}
			release()
			log.Info("Detached from host page")
		})
	}
}

func newDocument(ctx context.Context, log *slog.Logger) *Document {
	return &Document{
		ctx:       ctx,
		log:       log,
		observers: make(map[int]chan struct{}),
		actions:   make(map[int]chan dom.Action),
	}
}

func (d *Document) URL(ctx context.Context) (string, error) {
	var url string
	err := d.eval(ctx, "location.href", &url)
	return url, err
}

func (d *Document) FirstVisible(ctx context.Context, selector string) (dom.ElementRef, bool, error) {
	var index int
	if err := d.eval(ctx, call(firstVisibleFn, selector), &index); err != nil {
		return dom.ElementRef{}, false, err
	}
	if index < 0 {
		return dom.ElementRef{}, false, nil
	}
	return dom.ElementRef{Selector: selector, Index: index}, true, nil
}

func (d *Document) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := d.eval(ctx, call("(id) => document.getElementById(id) !== null", id), &exists)
	return exists, err
}

func (d *Document) Mount(ctx context.Context, container dom.ElementRef, mount dom.MountSpec) error {
	var result string
	script := call(mountFn, mount.ID, container.Selector, container.Index, mount.Style, mount.ClassName, mount.HTML, bindingName)
	if err := d.eval(ctx, script, &result); err != nil {
		return err
	}

	switch result {
	case "ok":
		return nil
	case "exists":
		return dom.ErrExists
	default:
		return fmt.Errorf("container %s[%d]: %w", container.Selector, container.Index, dom.ErrNotFound)
	}
}

func (d *Document) Render(ctx context.Context, id, className, html string) error {
	var ok bool
	if err := d.eval(ctx, call(renderFn, id, className, html), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mount %s: %w", id, dom.ErrNotFound)
	}
	return nil
}

func (d *Document) Remove(ctx context.Context, id string) error {
	return d.eval(ctx, call("(id) => { const el = document.getElementById(id); if (el) el.remove(); return true; }", id), nil)
}

func (d *Document) Dispatch(ctx context.Context, id, event string, detail map[string]any) error {
	var ok bool
	script := call("(id, name, detail) => { const el = document.getElementById(id); if (!el) return false; el.dispatchEvent(new CustomEvent(name, { detail })); return true; }", id, event, detail)
	if err := d.eval(ctx, script, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("dispatch %s on %s: %w", event, id, dom.ErrNotFound)
	}
	return nil
}

func (d *Document) QueryAll(ctx context.Context, selector string) ([]dom.Node, error) {
	var raw []struct {
		Text  string            `json:"text"`
		Attrs map[string]string `json:"attrs"`
	}
	if err := d.eval(ctx, call(queryAllFn, selector), &raw); err != nil {
		return nil, err
	}

	nodes := make([]dom.Node, 0, len(raw))
	for _, node := range raw {
		nodes = append(nodes, dom.Node{Text: node.Text, Attrs: node.Attrs})
	}
	return nodes, nil
}

func (d *Document) Observe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	id := d.register(func(id int) { d.observers[id] = ch })

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.observers, id)
		close(ch)
		d.mu.Unlock()
	}()
	return ch
}

func (d *Document) Actions(ctx context.Context) <-chan dom.Action {
	ch := make(chan dom.Action, 16)
	id := d.register(func(id int) { d.actions[id] = ch })

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.actions, id)
		close(ch)
		d.mu.Unlock()
	}()
	return ch
}

func (d *Document) register(add func(int)) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	add(id)
	return id
}

// handleBinding runs on the CDP event goroutine and must not block.
func (d *Document) handleBinding(payload string) {
	var msg bindingPayload
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		d.log.Debug("Ignoring malformed binding payload", "error", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch msg.Kind {
	case "mutation":
		for _, ch := range d.observers {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	case "action":
		action := dom.Action{Name: msg.Name, Fields: msg.Fields}
		for _, ch := range d.actions {
			select {
			case ch <- action:
			default:
				d.log.Warn("Dropping panel action", "action", msg.Name)
			}
		}
	}
}

func (d *Document) eval(ctx context.Context, script string, out any) error {
	runCtx, cancel := context.WithTimeout(d.ctx, evalTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate in host page: %w", err)
	}
	return nil
}

// call renders an invocation of the JS function literal fn with JSON-encoded args.
func call(fn string, args ...any) string {
	encoded := make([]string, 0, len(args))
	for _, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			raw = []byte("null")
		}
		encoded = append(encoded, string(raw))
	}
	return "(" + fn + ")(" + strings.Join(encoded, ", ") + ")"
}
