package auditor

// metricsInitScript runs in every new document before any page script.
// Buffered observers mean entries produced before the observer was
// registered still arrive, and the LCP value tracks the latest entry.
const metricsInitScript = `(() => {
  const m = { lcp: null, fcp: null, cls: 0 };
  window.__auditMetrics = m;
  try {
    new PerformanceObserver((list) => {
      const entries = list.getEntries();
      if (entries.length > 0) {
        m.lcp = entries[entries.length - 1].startTime;
      }
    }).observe({ type: 'largest-contentful-paint', buffered: true });
  } catch (e) {}
  try {
    new PerformanceObserver((list) => {
      for (const entry of list.getEntries()) {
        if (entry.name === 'first-contentful-paint' && m.fcp === null) {
          m.fcp = entry.startTime;
        }
      }
    }).observe({ type: 'paint', buffered: true });
  } catch (e) {}
  try {
    new PerformanceObserver((list) => {
      for (const entry of list.getEntries()) {
        if (!entry.hadRecentInput) {
          m.cls += entry.value;
        }
      }
    }).observe({ type: 'layout-shift', buffered: true });
  } catch (e) {}
})();`

// metricsReadExpr snapshots whatever the observers have collected.
const metricsReadExpr = `(() => {
  const m = window.__auditMetrics || { lcp: null, fcp: null, cls: 0 };
  return { lcp: m.lcp, fcp: m.fcp, cls: m.cls };
})()`

// domSnapshotExpr gathers every document-level check in one round trip.
const domSnapshotExpr = `(() => {
  const out = {
    title: (document.title || '').trim(),
    metaDescription: false,
    canonical: false,
    viewportMeta: false,
    h1Count: document.querySelectorAll('h1').length,
    headingJump: false,
    imagesMissingAlt: 0,
    https: location.protocol === 'https:',
    mixedContent: 0,
    blankTargetsWithoutRel: 0,
  };
  const desc = document.querySelector('meta[name="description"]');
  out.metaDescription = !!(desc && (desc.getAttribute('content') || '').trim());
  out.canonical = !!document.querySelector('link[rel="canonical"]');
  out.viewportMeta = !!document.querySelector('meta[name="viewport"]');
  let last = 0;
  for (const h of document.querySelectorAll('h1, h2, h3, h4, h5, h6')) {
    const level = Number(h.tagName[1]);
    if (last > 0 && level - last > 1) {
      out.headingJump = true;
    }
    last = level;
  }
  for (const img of document.querySelectorAll('img')) {
    const alt = img.getAttribute('alt');
    if (alt === null || !alt.trim()) {
      out.imagesMissingAlt += 1;
    }
  }
  if (out.https) {
    for (const el of document.querySelectorAll('img[src], script[src], iframe[src], audio[src], video[src]')) {
      if ((el.getAttribute('src') || '').startsWith('http://')) {
        out.mixedContent += 1;
      }
    }
    for (const link of document.querySelectorAll('link[rel="stylesheet"][href]')) {
      if ((link.getAttribute('href') || '').startsWith('http://')) {
        out.mixedContent += 1;
      }
    }
  }
  for (const a of document.querySelectorAll('a[target="_blank"]')) {
    const rel = (a.getAttribute('rel') || '').toLowerCase();
    if (!rel.includes('noopener') && !rel.includes('noreferrer')) {
      out.blankTargetsWithoutRel += 1;
    }
  }
  return out;
})()`

// layoutExpr measures horizontal overflow at the current viewport.
const layoutExpr = `({
  scrollWidth: document.documentElement.scrollWidth,
  clientWidth: document.documentElement.clientWidth,
})`
