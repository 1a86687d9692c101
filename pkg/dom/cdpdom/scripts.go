package cdpdom

// observerScript reports one "mutation" per microtask batch of DOM changes.
const observerScript = `(() => {
  if (window.__meetbotObserver) return true;
  const emit = (payload) => {
    try { window.__meetbotEvent(JSON.stringify(payload)); } catch (e) {}
  };
  let pending = false;
  window.__meetbotObserver = new MutationObserver(() => {
    if (pending) return;
    pending = true;
    queueMicrotask(() => { pending = false; emit({ kind: "mutation" }); });
  });
  window.__meetbotObserver.observe(document.documentElement || document, {
    childList: true, subtree: true, attributes: true,
  });
  return true;
})()`

const visibleFn = `(el) => {
  const rect = el.getBoundingClientRect();
  const style = window.getComputedStyle(el);
  return rect.width > 0 && rect.height > 0 && style.display !== "none" && style.visibility !== "hidden";
}`

const firstVisibleFn = `(selector) => {
  const visible = ` + visibleFn + `;
  const els = document.querySelectorAll(selector);
  for (let i = 0; i < els.length; i++) {
    if (visible(els[i])) return i;
  }
  return -1;
}`

const mountFn = `(id, selector, index, css, className, html, binding) => {
  if (document.getElementById(id)) return "exists";
  const container = document.querySelectorAll(selector)[index];
  if (!container) return "missing";

  const host = document.createElement("div");
  host.id = id;
  host.style.cssText = "position:fixed;left:20px;top:20px;z-index:999999;max-width:400px;overflow:hidden;background:transparent;border:none;pointer-events:auto;";
  const shadow = host.attachShadow({ mode: "open" });

  const style = document.createElement("style");
  style.textContent = css;
  shadow.appendChild(style);

  const app = document.createElement("div");
  app.setAttribute("data-meetbot-root", "");
  app.className = className;
  app.innerHTML = html;
  shadow.appendChild(app);

  shadow.addEventListener("submit", (ev) => ev.preventDefault());
  shadow.addEventListener("click", (ev) => {
    const trigger = ev.target.closest("[data-action]");
    if (!trigger || trigger.disabled) return;
    ev.preventDefault();
    const fields = {};
    const form = trigger.closest("form");
    if (form) {
      for (const el of form.elements) {
        if (el.name) fields[el.name] = el.value;
      }
    }
    try {
      window[binding](JSON.stringify({ kind: "action", name: trigger.dataset.action, fields }));
    } catch (e) {}
  });

  container.appendChild(host);
  return "ok";
}`

const renderFn = `(id, className, html) => {
  const host = document.getElementById(id);
  const app = host && host.shadowRoot && host.shadowRoot.querySelector("[data-meetbot-root]");
  if (!app) return false;
  app.className = className;
  app.innerHTML = html;
  return true;
}`

const queryAllFn = `(selector) => Array.from(document.querySelectorAll(selector)).map((el) => ({
  text: (el.innerText || el.textContent || "").trim(),
  attrs: Object.fromEntries(Array.from(el.attributes).map((a) => [a.name, a.value])),
}))`
