package panel

// Styles is the stylesheet placed inside the mount point's shadow scope.
func Styles() string {
	return stylesheet
}

const stylesheet = `
:host { all: initial; }
.mb-panel {
  font-family: "Google Sans", Roboto, Arial, sans-serif;
  width: 16rem;
  color: #fff;
  background: linear-gradient(145deg, #1f2125, #121316);
  border-radius: 0.75rem;
  box-shadow: 0 8px 24px rgba(0, 0, 0, 0.4);
  overflow: hidden;
  transition: width 0.5s ease-in-out;
}
.mb-panel.mb-collapsed { width: 3rem; }
.mb-header { display: flex; align-items: center; justify-content: space-between; padding: 0.75rem; background: rgba(255, 255, 255, 0.04); }
.mb-title { font-weight: 600; font-size: 1rem; }
.mb-toggle { width: 32px; height: 32px; border: none; border-radius: 50%; background: transparent; color: #fff; cursor: pointer; }
.mb-body { padding: 1rem; }
.mb-status-title { margin: 0; font-size: 1rem; font-weight: 600; }
.mb-status-text { margin-top: 0.25rem; font-size: 0.875rem; color: #9ca3af; }
.mb-status-awaiting .mb-status-title { color: #fbbf24; }
.mb-status-joined .mb-status-title { color: #00c6ae; }
.mb-status-stopped .mb-status-title { color: #f87171; }
.mb-card { margin-top: 1rem; padding: 0.75rem; border-radius: 0.5rem; background: rgba(255, 255, 255, 0.06); font-size: 0.875rem; }
.mb-error { color: #f87171; }
.mb-notice { color: #00c6ae; }
.mb-actions { display: flex; gap: 0.75rem; margin-top: 1rem; }
.mb-button { flex: 1; padding: 0.5rem; border: none; border-radius: 0.5rem; font-weight: 600; cursor: pointer; }
.mb-button:disabled { opacity: 0.5; cursor: not-allowed; }
.mb-primary { background: rgba(0, 198, 174, 0.8); color: #000; }
.mb-secondary { background: rgba(255, 255, 255, 0.1); color: #fff; }
.mb-profile { display: flex; align-items: center; justify-content: space-between; margin-top: 1rem; font-size: 0.8rem; }
.mb-profile-name { overflow: hidden; text-overflow: ellipsis; white-space: nowrap; }
.mb-link { border: none; background: transparent; color: #9ca3af; cursor: pointer; }
.mb-tabs { display: flex; }
.mb-tab { flex: 1; padding: 0.5rem; border: none; background: transparent; color: #fff; cursor: pointer; }
.mb-tab.mb-active { background: rgba(0, 198, 174, 0.8); color: #000; }
.mb-form { display: flex; flex-direction: column; gap: 0.5rem; padding: 1rem; }
.mb-form input { padding: 0.5rem; border-radius: 0.375rem; border: 1px solid #374151; background: #1f2937; color: #fff; }
`
