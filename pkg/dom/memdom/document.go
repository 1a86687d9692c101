// Package memdom is an in-memory dom.Document. It models layout size,
// display and visibility, shadow-scoped mount points and batched mutation
// notification, which is enough to drive the agent without a browser.
package memdom

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"meetbot/pkg/dom"
)

// Element is one node of the tree. Attrs["id"] and Attrs["class"] carry the
// id and class list.
type Element struct {
	Tag    string
	Attrs  map[string]string
	Text   string
	Width  float64
	Height float64
	Style  map[string]string

	parent   *Element
	children []*Element
	shadow   *Shadow
}

// Shadow is the isolated content of a mount point.
type Shadow struct {
	Style     string
	ClassName string
	HTML      string
}

// Dispatched records one custom event fired on the document.
type Dispatched struct {
	ID     string
	Event  string
	Detail map[string]any
}

// Document is safe for concurrent use.
type Document struct {
	mu        sync.Mutex
	url       string
	root      *Element
	body      *Element
	observers map[int]chan struct{}
	actions   map[int]chan dom.Action
	nextID    int
	events    []Dispatched
}

var _ dom.Document = (*Document)(nil)

// New returns a document at url with an empty, visible body.
func New(url string) *Document {
	body := &Element{Tag: "body", Width: 1280, Height: 720}
	root := &Element{Tag: "html", Width: 1280, Height: 720}
	body.parent = root
	root.children = []*Element{body}

	return &Document{
		url:       url,
		root:      root,
		body:      body,
		observers: make(map[int]chan struct{}),
		actions:   make(map[int]chan dom.Action),
	}
}

func (d *Document) Body() *Element {
	return d.body
}

func (d *Document) URL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *Document) FirstVisible(_ context.Context, raw string) (dom.ElementRef, bool, error) {
	sel, err := parseSelector(raw)
	if err != nil {
		return dom.ElementRef{}, false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i, el := range d.query(sel) {
		if visible(el) {
			return dom.ElementRef{Selector: raw, Index: i}, true, nil
		}
	}
	return dom.ElementRef{}, false, nil
}

func (d *Document) Exists(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byID(id) != nil, nil
}

func (d *Document) Mount(_ context.Context, container dom.ElementRef, mount dom.MountSpec) error {
	if mount.ID == "" {
		return fmt.Errorf("mount id is required")
	}
	sel, err := parseSelector(container.Selector)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.byID(mount.ID) != nil {
		return dom.ErrExists
	}

	matches := d.query(sel)
	if container.Index < 0 || container.Index >= len(matches) {
		return fmt.Errorf("container %s[%d]: %w", container.Selector, container.Index, dom.ErrNotFound)
	}

	host := &Element{
		Tag:    "div",
		Attrs:  map[string]string{"id": mount.ID},
		Width:  320,
		Height: 200,
		shadow: &Shadow{Style: mount.Style, ClassName: mount.ClassName, HTML: mount.HTML},
	}
	d.appendLocked(matches[container.Index], host)
	return nil
}

func (d *Document) Render(_ context.Context, id, className, html string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	el := d.byID(id)
	if el == nil || el.shadow == nil {
		return fmt.Errorf("mount %s: %w", id, dom.ErrNotFound)
	}
	el.shadow.ClassName = className
	el.shadow.HTML = html
	return nil
}

func (d *Document) Remove(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el := d.byID(id); el != nil {
		d.detachLocked(el)
	}
	return nil
}

func (d *Document) Dispatch(_ context.Context, id, event string, detail map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.byID(id) == nil {
		return fmt.Errorf("dispatch %s on %s: %w", event, id, dom.ErrNotFound)
	}
	d.events = append(d.events, Dispatched{ID: id, Event: event, Detail: maps.Clone(detail)})
	return nil
}

func (d *Document) QueryAll(_ context.Context, raw string) ([]dom.Node, error) {
	sel, err := parseSelector(raw)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	matches := d.query(sel)
	nodes := make([]dom.Node, 0, len(matches))
	for _, el := range matches {
		nodes = append(nodes, dom.Node{Text: textContent(el), Attrs: maps.Clone(el.Attrs)})
	}
	return nodes, nil
}

func (d *Document) Observe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.observers[id] = ch
	d.mu.Unlock()

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

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.actions[id] = ch
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.actions, id)
		close(ch)
		d.mu.Unlock()
	}()

	return ch
}

// Append adds child under parent, or under the body when parent is nil.
func (d *Document) Append(parent, child *Element) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()

	if parent == nil {
		parent = d.body
	}
	d.appendLocked(parent, child)
	return child
}

func (d *Document) SetStyle(el *Element, property, value string) {
	d.mutate(func() {
		if el.Style == nil {
			el.Style = make(map[string]string)
		}
		el.Style[property] = value
	})
}

func (d *Document) SetSize(el *Element, width, height float64) {
	d.mutate(func() {
		el.Width = width
		el.Height = height
	})
}

func (d *Document) SetAttr(el *Element, name, value string) {
	d.mutate(func() {
		if el.Attrs == nil {
			el.Attrs = make(map[string]string)
		}
		el.Attrs[name] = value
	})
}

// RemoveNode detaches el and its subtree.
func (d *Document) RemoveNode(el *Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detachLocked(el)
}

// Clear wipes the body, the way a single-page app rebuilds its view.
func (d *Document) Clear() {
	d.mutate(func() {
		for _, child := range d.body.children {
			child.parent = nil
		}
		d.body.children = nil
	})
}

// Navigate changes the URL without touching the tree.
func (d *Document) Navigate(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

// Click raises an action as if a control inside a mount point was pressed.
func (d *Document) Click(name string, fields map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	action := dom.Action{Name: name, Fields: maps.Clone(fields)}
	for _, ch := range d.actions {
		select {
		case ch <- action:
		default:
		}
	}
}

// Count returns the number of elements matching selector.
func (d *Document) Count(raw string) int {
	sel, err := parseSelector(raw)
	if err != nil {
		return 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.query(sel))
}

// MountPoint returns the shadow content of the mount with id.
func (d *Document) MountPoint(id string) (Shadow, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	el := d.byID(id)
	if el == nil || el.shadow == nil {
		return Shadow{}, false
	}
	return *el.shadow, true
}

// ParentOf returns the parent of the element with id, or nil.
func (d *Document) ParentOf(id string) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el := d.byID(id); el != nil {
		return el.parent
	}
	return nil
}

// Dispatched returns every custom event fired so far.
func (d *Document) Dispatched() []Dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Dispatched(nil), d.events...)
}

func (d *Document) mutate(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
	d.notifyLocked()
}

func (d *Document) appendLocked(parent, child *Element) {
	if child.parent != nil {
		child.parent.children = removeChild(child.parent.children, child)
	}
	child.parent = parent
	parent.children = append(parent.children, child)
	d.notifyLocked()
}

func (d *Document) detachLocked(el *Element) {
	if el.parent == nil {
		return
	}
	el.parent.children = removeChild(el.parent.children, el)
	el.parent = nil
	d.notifyLocked()
}

// notifyLocked records a mutation. Observers with a pending signal absorb it,
// which batches bursts of changes into one wakeup.
func (d *Document) notifyLocked() {
	for _, ch := range d.observers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (d *Document) query(sel selector) []*Element {
	var out []*Element
	var walk func(*Element)
	walk = func(el *Element) {
		if sel.matches(el) {
			out = append(out, el)
		}
		for _, child := range el.children {
			walk(child)
		}
	}
	walk(d.root)
	return out
}

func (d *Document) byID(id string) *Element {
	if id == "" {
		return nil
	}
	matches := d.query(selector{id: id})
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

func visible(el *Element) bool {
	if el.Width <= 0 || el.Height <= 0 {
		return false
	}
	for node := el; node != nil; node = node.parent {
		if node.Style["display"] == "none" || node.Style["visibility"] == "hidden" {
			return false
		}
	}
	return true
}

func textContent(el *Element) string {
	var b strings.Builder
	var walk func(*Element)
	walk = func(node *Element) {
		if node.Text != "" {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(node.Text)
		}
		for _, child := range node.children {
			walk(child)
		}
	}
	walk(el)
	return b.String()
}

func removeChild(children []*Element, target *Element) []*Element {
	out := children[:0]
	for _, child := range children {
		if child != target {
			out = append(out, child)
		}
	}
	return out
}
