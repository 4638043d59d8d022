package browserdrv

// elementsJS summarizes visible interactive elements with stable
// selectors: #id when present, then tag[name=...], then an nth-of-type
// path. Capped at 100 elements so pathological pages cannot flood the
// oracle prompt.
const elementsJS = `(() => {
	const out = [];
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		if (r.width <= 0 || r.height <= 0) return false;
		const s = getComputedStyle(el);
		return s.visibility !== 'hidden' && s.display !== 'none';
	};
	const esc = (v) => (window.CSS && CSS.escape) ? CSS.escape(v) : v.replace(/["\\]/g, '\\$&');
	const selectorFor = (el) => {
		if (el.id) return '#' + esc(el.id);
		const tag = el.tagName.toLowerCase();
		const name = el.getAttribute('name');
		if (name) return tag + '[name="' + esc(name) + '"]';
		const parts = [];
		let node = el;
		while (node && node.nodeType === 1 && parts.length < 5) {
			let part = node.tagName.toLowerCase();
			const parent = node.parentElement;
			if (parent) {
				const same = Array.from(parent.children).filter((c) => c.tagName === node.tagName);
				if (same.length > 1) part += ':nth-of-type(' + (same.indexOf(node) + 1) + ')';
			}
			if (node.id) {
				parts.unshift('#' + esc(node.id));
				break;
			}
			parts.unshift(part);
			node = parent;
		}
		return parts.join(' > ');
	};
	for (const el of document.querySelectorAll('a[href], button, input, select, textarea, [role="button"], [onclick]')) {
		if (!visible(el)) continue;
		out.push({
			selector: selectorFor(el),
			tag: el.tagName.toLowerCase(),
			type: el.getAttribute('type') || '',
			name: el.getAttribute('name') || '',
			text: (el.innerText || el.value || el.getAttribute('placeholder') || '').trim().slice(0, 120),
			href: el.getAttribute('href') || '',
		});
		if (out.length >= 100) break;
	}
	return out;
})()`

// inspectMarkerJS reports where a marker string surfaced in the live DOM.
// innerText only carries rendered text, so script and style bodies never
// count as a text sighting. Attribute hits name their location tag@attr.
const inspectMarkerJS = `((marker) => {
	const res = { inText: false, inAttribute: false, attribute: '' };
	if (document.body && document.body.innerText.includes(marker)) {
		res.inText = true;
	}
	const walker = document.createTreeWalker(document.documentElement, NodeFilter.SHOW_ELEMENT);
	let node = walker.currentNode;
	while (node) {
		if (node.attributes) {
			for (const attr of node.attributes) {
				if (attr.value.includes(marker)) {
					res.inAttribute = true;
					res.attribute = node.tagName.toLowerCase() + '@' + attr.name;
					return res;
				}
			}
		}
		node = walker.nextNode();
	}
	return res;
})(%s)`
