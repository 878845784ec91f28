package cdp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaypilot/agentbridge/internal/coreerr"
	"github.com/relaypilot/agentbridge/internal/model"
)

// clickableSelectors is the fixed selector set from spec §4.A.
const clickableSelectors = `input:not([type=hidden]), textarea, select, [contenteditable=true], ` +
	`a[href], button, input[type=button], input[type=submit], [onclick], ` +
	`[role=button], [role=link], [role=textbox]`

// getClickableElementsScript runs entirely in page context: it queries the
// fixed selector set, de-duplicates by node identity (a Set keyed by
// element reference), filters to on-screen visible elements, synthesizes a
// best-effort selector per element, and extracts visible text. It returns
// at most model.MaxClickableCandidates entries, matching the corpus's
// pattern of doing DOM-heavy work in one JS round trip rather than many
// small CDP calls (grounded on ChatClaw's getSnapshot single-script idiom).
const getClickableElementsScript = `(() => {
	const seen = new Set();
	const out = [];
	const nodes = document.querySelectorAll(%s);
	for (const el of nodes) {
		if (seen.has(el)) continue;
		seen.add(el);

		const r = el.getBoundingClientRect();
		if (r.width <= 0 || r.height <= 0) continue;
		if (r.x < 0 || r.y < 0 || r.x > 2000 || r.y > 2000) continue;

		let selector = '';
		if (el.id) {
			selector = '#' + el.id;
		} else if (el.getAttribute('name')) {
			selector = el.tagName.toLowerCase() + '[name="' + el.getAttribute('name') + '"]';
		} else if (el.getAttribute('data-testid')) {
			selector = '[data-testid="' + el.getAttribute('data-testid') + '"]';
		} else if (el.getAttribute('aria-label')) {
			selector = '[aria-label="' + el.getAttribute('aria-label') + '"]';
		} else if (el.className && typeof el.className === 'string' && el.className.trim()) {
			selector = el.tagName.toLowerCase() + '.' + el.className.trim().split(/\s+/)[0];
		} else {
			selector = el.tagName.toLowerCase();
		}

		let text = (el.innerText || el.textContent || '').trim();
		if (!text) text = el.getAttribute('placeholder') || '';
		if (!text) text = el.value || '';
		text = text.slice(0, 50);

		out.push({tag: el.tagName.toLowerCase(), selector: selector, text: text});
		if (out.length >= %d) break;
	}
	return out;
})()`

type jsClickable struct {
	Tag      string `json:"tag"`
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// GetClickableElements queries the page for interactive elements per spec
// §4.A and returns them with stable 1-based ordinals, capped at
// model.MaxClickableCandidates.
func (d *Driver) GetClickableElements(ctx context.Context) ([]model.Element, error) {
	script := fmt.Sprintf(getClickableElementsScript, jsStringLiteral(clickableSelectors), model.MaxClickableCandidates)

	raw, err := d.Evaluate(ctx, script)
	if err != nil {
		return nil, err
	}

	var items []jsClickable
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: decoding clickable elements: %v", coreerr.ErrProtocol, err)
	}

	elements := make([]model.Element, 0, len(items))
	for i, it := range items {
		elements = append(elements, model.Element{
			Index:    i + 1,
			Type:     classifyTag(it.Tag),
			Selector: it.Selector,
			Tag:      it.Tag,
			Text:     it.Text,
		})
	}
	return elements, nil
}

func classifyTag(tag string) model.ElementType {
	switch tag {
	case "a":
		return model.ElementLink
	case "button":
		return model.ElementButton
	case "input", "textarea":
		return model.ElementInput
	case "select":
		return model.ElementSelect
	default:
		return model.ElementGeneric
	}
}
