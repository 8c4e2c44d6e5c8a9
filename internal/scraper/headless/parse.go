package headless

import (
	"regexp"
	"strings"
	"time"
)

// The remote client renders the full timestamp in the title attribute using
// one of these two layouts, depending on version.
var timestampLayouts = []string{
	"Jan 2, 2006 3:04 PM",
	"3:04 PM, January 2, 2006",
}

// parseTimestamp attempts the known title-attribute layouts; nil means the
// raw text is kept without a parsed time.
func parseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts
		}
	}
	return nil
}

var originRe = regexp.MustCompile(`^(https?://[^/]+)`)

// baseURL derives the scheme://host origin for resolving sidebar hrefs,
// preferring the browser's post-login location over the submitted URL.
func baseURL(location, fallback string) string {
	if m := originRe.FindString(location); m != "" {
		return m
	}
	if m := originRe.FindString(fallback); m != "" {
		return m
	}
	return strings.TrimRight(fallback, "/")
}

// absoluteChannelID turns a sidebar href into the absolute navigation target
// used as the channel's opaque id.
func absoluteChannelID(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return base + href
}

// JavaScript snippets evaluated inside the page. Results unmarshal into the
// raw* structs.
const (
	channelListJS = `Array.from(document.querySelectorAll('a.rcx-sidebar-item')).map((a) => {
		const title = a.querySelector('.rcx-sidebar-item__title');
		return {
			name: title ? title.innerText.trim() : '',
			href: a.getAttribute('href') || ''
		};
	})`

	loginOutcomeJS = `(() => {
		const errEl = document.querySelector('.rcx-toastbar--error, div[role="alert"]');
		return {
			success: document.querySelector('.rcx-sidebar') !== null,
			errorText: errEl ? errEl.innerText.trim() : ''
		};
	})()`

	messageListJS = `Array.from(document.querySelectorAll('div.rcx-message[role="listitem"]')).map((m) => {
		const sender = m.querySelector('.rcx-message-header__name[data-qa-type="username"]');
		const body = m.querySelector('div.rcx-message-body');
		const ts = m.querySelector('.rcx-message-header__time');
		return {
			id: m.id || '',
			sender: sender ? sender.innerText.trim() : 'Unknown Sender',
			text: body ? body.innerText.trim() : '',
			title: ts ? (ts.getAttribute('title') || '') : ''
		};
	})`

	scrollToTopJS = `(() => {
		const box = document.querySelector('.messages-box .rc-scrollbars-view');
		if (box) { box.scrollTop = 0; }
		return true;
	})()`
)
