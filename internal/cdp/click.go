package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/relaypilot/agentbridge/internal/coreerr"
	"github.com/relaypilot/agentbridge/internal/model"
)

// invalidSelectorPattern matches the jQuery-style constructs the browser's
// native CSS engine cannot resolve (spec §4.A step 1). It is intentionally
// a heuristic, not a CSS parser — per spec §9's open question, behavior on
// exotic-but-valid selectors containing these substrings is undefined.
var invalidSelectorPattern = regexp.MustCompile(`:contains\(|:has\(|\$\(`)

// containsTextPattern extracts the quoted text argument of a :contains(...)
// pseudo-selector.
var containsTextPattern = regexp.MustCompile(`:contains\(\s*['"]([^'"]*)['"]\s*\)`)

type clickRect struct {
	X, Y, Width, Height float64
	Error               string
}

// ClickElement is the centerpiece clickElement algorithm (spec §4.A). method
// is one of "" (auto), "js", or "focus"; "js" skips directly to the
// JavaScript fallback and "focus" skips to the focus-and-Enter fallback.
func (d *Driver) ClickElement(ctx context.Context, selector string, method model.ClickMethod) error {
	if invalidSelectorPattern.MatchString(selector) {
		return d.clickTextFallback(ctx, selector)
	}

	switch method {
	case model.ClickJS:
		return d.clickJS(ctx, selector)
	case model.ClickFocus:
		return d.clickFocusEnter(ctx, selector)
	}

	if err := d.clickCoordinate(ctx, selector); err == nil {
		return nil
	}
	if err := d.clickJS(ctx, selector); err == nil {
		return nil
	}
	if err := d.clickFocusEnter(ctx, selector); err == nil {
		return nil
	}
	return fmt.Errorf("%w: all click fallbacks exhausted for selector %q", coreerr.ErrSelector, selector)
}

// clickTextFallback extracts the quoted text of a :contains(...) selector,
// scrolls the first matching anchor or button into view, and clicks its
// center. This path never reaches clickCoordinate (spec §8 boundary).
func (d *Driver) clickTextFallback(ctx context.Context, selector string) error {
	m := containsTextPattern.FindStringSubmatch(selector)
	if m == nil {
		return fmt.Errorf("%w: invalid selector %q", coreerr.ErrSelector, selector)
	}
	text := m[1]

	script := fmt.Sprintf(`(() => {
		const needle = %s;
		const candidates = Array.from(document.querySelectorAll('a, button'));
		const el = candidates.find(e => (e.innerText || e.textContent || '').includes(needle));
		if (!el) return {error: 'no element with text ' + needle};
		el.scrollIntoView({block: 'center'});
		const r = el.getBoundingClientRect();
		return {x: r.x + r.width/2, y: r.y + r.height/2, width: r.width, height: r.height};
	})()`, jsStringLiteral(text))

	rect, err := d.evalRect(ctx, script)
	if err != nil {
		return err
	}
	if rect.Error != "" {
		return fmt.Errorf("%w: %s", coreerr.ErrSelector, rect.Error)
	}
	return d.settleClick(ctx, rect.X, rect.Y)
}

// clickCoordinate resolves selector, scrolls it to viewport center, and
// dispatches a synthetic click at its center point after a 100ms settle.
func (d *Driver) clickCoordinate(ctx context.Context, selector string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return {error: 'no element matched selector'};
		el.scrollIntoView({block: 'center'});
		const r = el.getBoundingClientRect();
		if (r.width <= 0 || r.height <= 0) return {error: 'element has zero size'};
		return {x: r.x + r.width/2, y: r.y + r.height/2, width: r.width, height: r.height};
	})()`, jsStringLiteral(selector))

	rect, err := d.evalRect(ctx, script)
	if err != nil {
		return err
	}
	if rect.Error != "" {
		return fmt.Errorf("%w: %s", coreerr.ErrSelector, rect.Error)
	}
	if rect.X < 0 || rect.Y < 0 {
		return fmt.Errorf("%w: element off-screen", coreerr.ErrSelector)
	}
	return d.settleClick(ctx, rect.X, rect.Y)
}

func (d *Driver) settleClick(ctx context.Context, x, y float64) error {
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := d.Click(ctx, x, y); err != nil {
		return err
	}
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// clickJS is the JavaScript fallback: element.click().
func (d *Driver) clickJS(ctx context.Context, selector string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return {error: 'no element matched selector'};
		el.click();
		return {};
	})()`, jsStringLiteral(selector))

	var out struct {
		Error string `json:"error"`
	}
	raw, err := d.Evaluate(ctx, script)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &out); err == nil && out.Error != "" {
		return fmt.Errorf("%w: %s", coreerr.ErrSelector, out.Error)
	}
	return nil
}

// clickFocusEnter focuses the element and dispatches Enter keyDown/keyUp.
func (d *Driver) clickFocusEnter(ctx context.Context, selector string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return {error: 'no element matched selector'};
		el.focus();
		return {};
	})()`, jsStringLiteral(selector))

	var out struct {
		Error string `json:"error"`
	}
	raw, err := d.Evaluate(ctx, script)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &out); err == nil && out.Error != "" {
		return fmt.Errorf("%w: %s", coreerr.ErrSelector, out.Error)
	}
	return d.pressEnter(ctx)
}

func (d *Driver) evalRect(ctx context.Context, script string) (clickRect, error) {
	raw, err := d.Evaluate(ctx, script)
	if err != nil {
		return clickRect{}, err
	}
	var rect clickRect
	if err := json.Unmarshal(raw, &rect); err != nil {
		return clickRect{}, fmt.Errorf("%w: decoding rect: %v", coreerr.ErrProtocol, err)
	}
	return rect, nil
}

// TypeInElement clicks to focus, performs a triple-clear, then inserts
// text (spec §4.A).
func (d *Driver) TypeInElement(ctx context.Context, selector, text string) error {
	if err := d.ClickElement(ctx, selector, model.ClickAuto); err != nil {
		return err
	}

	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := d.clearField(ctx, selector); err != nil {
		return err
	}

	return d.Type(ctx, text)
}

// clearField implements the triple-clear: (1) JS value reset with
// input/change events, (2) platform-agnostic select-all + backspace,
// (3) verify-and-force-clear.
func (d *Driver) clearField(ctx context.Context, selector string) error {
	jsClear := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return {error: 'no element matched selector'};
		el.value = '';
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return {};
	})()`, jsStringLiteral(selector))
	if _, err := d.Evaluate(ctx, jsClear); err != nil {
		return err
	}

	if err := d.selectAllAndBackspace(ctx); err != nil {
		return err
	}

	empty, err := d.fieldIsEmpty(ctx, selector)
	if err != nil {
		return err
	}
	if !empty {
		forceClear := fmt.Sprintf(`(() => {
			const el = document.querySelector(%s);
			if (el) { el.value = ''; el.dispatchEvent(new Event('input', {bubbles: true})); }
			return {};
		})()`, jsStringLiteral(selector))
		if _, err := d.Evaluate(ctx, forceClear); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) selectAllAndBackspace(ctx context.Context) error {
	// Dispatch both Meta+A (macOS) and Control+A (everywhere else); only
	// the platform-matching one has any effect.
	if err := d.keyCombo(ctx, "a", 4); err != nil {
		return err
	}
	if err := d.keyCombo(ctx, "a", 2); err != nil {
		return err
	}
	return d.keyPress(ctx, "Backspace", 8)
}

func (d *Driver) keyCombo(ctx context.Context, key string, modifiers int64) error {
	return d.dispatchKeySequence(ctx, key, key, modifiers, 0)
}

func (d *Driver) keyPress(ctx context.Context, key string, vk int64) error {
	return d.dispatchKeySequence(ctx, key, key, 0, vk)
}

func (d *Driver) fieldIsEmpty(ctx context.Context, selector string) (bool, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return true;
		return (el.value || '') === '';
	})()`, jsStringLiteral(selector))
	raw, err := d.Evaluate(ctx, script)
	if err != nil {
		return false, err
	}
	var empty bool
	if err := json.Unmarshal(raw, &empty); err != nil {
		return false, fmt.Errorf("%w: decoding empty check: %v", coreerr.ErrProtocol, err)
	}
	return empty, nil
}

// jsStringLiteral renders s as a double-quoted JavaScript string literal
// safe to splice into generated script bodies.
func jsStringLiteral(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// dispatchKeySequence dispatches a keyDown/keyUp pair for key, optionally
// with modifiers (2=Control, 4=Meta per spec §6) or a windowsVirtualKeyCode.
func (d *Driver) dispatchKeySequence(ctx context.Context, key, code string, modifiers, vk int64) error {
	down := &input.DispatchKeyEventParams{
		Type:                  input.KeyDown,
		Key:                   key,
		Code:                  code,
		Modifiers:             input.Modifier(modifiers),
		WindowsVirtualKeyCode: vk,
	}
	if _, err := d.Send(ctx, "Input.dispatchKeyEvent", down); err != nil {
		return err
	}
	up := &input.DispatchKeyEventParams{
		Type:                  input.KeyUp,
		Key:                   key,
		Code:                  code,
		Modifiers:             input.Modifier(modifiers),
		WindowsVirtualKeyCode: vk,
	}
	_, err := d.Send(ctx, "Input.dispatchKeyEvent", up)
	return err
}
