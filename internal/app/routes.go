package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"printfleet/dashboard-server/internal/apperr"
	"printfleet/dashboard-server/internal/escpos"
	"printfleet/dashboard-server/internal/feed/wsfeed"
	"printfleet/dashboard-server/internal/fleet"
	"printfleet/dashboard-server/internal/metrics"
	"printfleet/dashboard-server/internal/model"
	"printfleet/dashboard-server/internal/receipt"
	"printfleet/dashboard-server/internal/view"
)

const maxBodyBytes = 1 << 20

func (a *App) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(a.instrument)

	r.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.handleReadyz).Methods(http.MethodGet)
	r.Handle("/ws/feed", wsfeed.NewHandler(a.store, a.cfg.APIKey, fleet.Collections(), a.logger)).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(a.requireAPIKey)

	api.HandleFunc("/printers", a.handleListPrinters).Methods(http.MethodGet)
	api.Handle("/printers", a.limited(a.handleCreatePrinter)).Methods(http.MethodPost)
	api.Handle("/printers/{id}", a.limited(a.handleUpdatePrinter)).Methods(http.MethodPatch)
	api.Handle("/printers/{id}/test-print", a.limited(a.handleTestPrint)).Methods(http.MethodPost)

	api.HandleFunc("/logs", a.handleListLogs).Methods(http.MethodGet)
	api.Handle("/logs", a.limited(a.handleAppendLog)).Methods(http.MethodPost)

	api.HandleFunc("/templates", a.handleListTemplates).Methods(http.MethodGet)
	api.Handle("/templates", a.limited(a.handleCreateTemplate)).Methods(http.MethodPost)
	api.Handle("/templates/{id}", a.limited(a.handleDeleteTemplate)).Methods(http.MethodDelete)
	api.Handle("/templates/{id}/sections", a.limited(a.handleSaveSections)).Methods(http.MethodPut)
	api.Handle("/templates/{id}/sections/{section}", a.limited(a.handleSetSectionStyle)).Methods(http.MethodPatch)
	api.Handle("/templates/{id}/lines", a.limited(a.handleSaveLines)).Methods(http.MethodPut)
	api.Handle("/templates/{id}/lines", a.limited(a.handleAddLine)).Methods(http.MethodPost)
	api.Handle("/templates/{id}/lines/{lineId}", a.limited(a.handleEditLine)).Methods(http.MethodPatch)
	api.Handle("/templates/{id}/lines/{lineId}", a.limited(a.handleDeleteLine)).Methods(http.MethodDelete)
	api.HandleFunc("/templates/{id}/preview", a.handlePreview).Methods(http.MethodGet)

	api.HandleFunc("/stores/{name}/refresh", a.handleRefreshStore).Methods(http.MethodPost)

	return r
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorBody(code, message string) map[string]apiError {
	return map[string]apiError{"error": {Code: code, Message: message}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto its HTTP status. Uncoded errors are logged and reported generically.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	message := err.Error()
	if code == apperr.CodeUnknown {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	writeJSON(w, apperr.HTTPStatus(code), errorBody(string(code), message))
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation(fmt.Sprintf("invalid payload: %v", err))
	}
	return nil
}

// storeState is the loading/error part of a live store, rendered next to its items.
type storeState struct {
	Loading bool      `json:"loading"`
	Error   *apiError `json:"error,omitempty"`
}

func stateOf(loading bool, err *apperr.Error) storeState {
	st := storeState{Loading: loading}
	if err != nil {
		st.Error = &apiError{Code: string(err.Code), Message: err.Message}
	}
	return st
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.store == nil || a.broker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *App) handleListPrinters(w http.ResponseWriter, r *http.Request) {
	st := a.printers.State()
	writeJSON(w, http.StatusOK, struct {
		Printers []model.Printer   `json:"printers"`
		Summary  view.FleetSummary `json:"summary"`
		storeState
	}{
		Printers:   st.Items,
		Summary:    view.SummarizePrinters(st.Items),
		storeState: stateOf(st.Loading, st.Err),
	})
}

func (a *App) handleCreatePrinter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label    string `json:"label"`
		Location string `json:"location"`
	}
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	id, err := a.fleet.CreatePrinter(r.Context(), req.Label, req.Location)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *App) handleUpdatePrinter(w http.ResponseWriter, r *http.Request) {
	var patch fleet.PrinterPatch
	if err := decodeBody(r, &patch); err != nil {
		a.writeError(w, r, err)
		return
	}

	if err := a.fleet.UpdatePrinter(r.Context(), mux.Vars(r)["id"], patch); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// printerAddr turns a stored printer URL into a host:port. Scheme-qualified URLs keep their host.
func printerAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			if u.Port() == "" {
				return u.Hostname()
			}
			return u.Host
		}
	}
	return raw
}

func (a *App) handleTestPrint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TemplateID string `json:"templateId"`
		Scheme     string `json:"scheme"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
	}

	scheme, err := receipt.ParseScheme(req.Scheme)
	if err != nil {
		a.writeError(w, r, apperr.Validation(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	printer, err := a.loadPrinter(ctx, mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	addr := printerAddr(printer.URL)
	if addr == "" {
		a.writeError(w, r, apperr.Validation(fmt.Sprintf("printer %s has no url", printer.Label)))
		return
	}

	var styles receipt.StyleModel = receipt.Sectioned{Sections: model.DefaultSections()}
	if req.TemplateID != "" {
		tpl, err := a.loadTemplate(ctx, req.TemplateID)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		styles = receipt.ModelFor(tpl, scheme)
	}

	payload := escpos.Encode(receipt.Compose(receipt.SampleReceipt(), styles))
	if err := a.sendPrint(ctx, addr, payload); err != nil {
		metrics.PrintJob(false)
		a.logger.Warn("test print failed", "printer", printer.ID, "addr", addr, "error", err)
		if _, lerr := a.fleet.AppendLog(ctx, model.LevelError, fmt.Sprintf("Test print to %s failed: %v", printer.Label, err), time.Time{}); lerr != nil {
			a.logger.Error("failed to append print log", "error", lerr)
		}
		a.writeError(w, r, apperr.Wrap(apperr.CodeNetworkFailure, fmt.Sprintf("printer %s unreachable", printer.Label), err))
		return
	}

	metrics.PrintJob(true)
	if _, err := a.fleet.AppendLog(ctx, model.LevelSuccess, fmt.Sprintf("Test print sent to %s", printer.Label), time.Time{}); err != nil {
		a.logger.Error("failed to append print log", "error", err)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"printer": printer.ID, "bytes": len(payload), "scheme": scheme})
}

func (a *App) handleListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := view.LogFilter{Level: model.Level(q.Get("level")), Search: q.Get("q")}
	if filter.Level != "" && !filter.Level.Valid() {
		a.writeError(w, r, apperr.Validation(fmt.Sprintf("unknown log level %q", filter.Level)))
		return
	}

	st := a.logs.State()
	logs := view.FilterLogs(st.Items, filter)
	if v := q.Get("recent"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			a.writeError(w, r, apperr.Validation("recent must be a non-negative integer"))
			return
		}
		logs = view.RecentLogs(logs, n)
	}

	writeJSON(w, http.StatusOK, struct {
		Logs   []model.LogEntry `json:"logs"`
		Counts view.LogCounts   `json:"counts"`
		storeState
	}{
		Logs:       logs,
		Counts:     view.CountLogs(st.Items),
		storeState: stateOf(st.Loading, st.Err),
	})
}

func (a *App) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level   model.Level `json:"level"`
		Message string      `json:"message"`
	}
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	id, err := a.fleet.AppendLog(r.Context(), req.Level, req.Message, time.Time{})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *App) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	st := a.templates.State()
	writeJSON(w, http.StatusOK, struct {
		Templates []model.ReceiptTemplate `json:"templates"`
		storeState
	}{
		Templates:  st.Items,
		storeState: stateOf(st.Loading, st.Err),
	})
}

func (a *App) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	id, err := a.fleet.CreateTemplate(r.Context(), req.Name)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *App) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := a.fleet.DeleteTemplate(r.Context(), mux.Vars(r)["id"]); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) loadTemplate(ctx context.Context, id string) (model.ReceiptTemplate, error) {
	doc, err := a.store.GetDocument(ctx, fleet.CollectionTemplates, id)
	if err != nil {
		return model.ReceiptTemplate{}, err
	}
	return fleet.NormalizeTemplate(doc), nil
}

func (a *App) handleSaveSections(w http.ResponseWriter, r *http.Request) {
	var sections model.SectionStyleMap
	if err := decodeBody(r, &sections); err != nil {
		a.writeError(w, r, err)
		return
	}

	if err := a.fleet.SaveTemplateSections(r.Context(), mux.Vars(r)["id"], sections); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleSetSectionStyle(w http.ResponseWriter, r *http.Request) {
	var style model.TextStyle
	if err := decodeBody(r, &style); err != nil {
		a.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)

	a.templateMu.Lock()
	defer a.templateMu.Unlock()

	tpl, err := a.loadTemplate(r.Context(), vars["id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	sections := tpl.Sections
	if !sections.SetStyle(model.Section(vars["section"]), style) {
		a.writeError(w, r, apperr.New(apperr.CodeNotFound, fmt.Sprintf("unknown section %q", vars["section"])))
		return
	}
	if err := a.fleet.SaveTemplateSections(r.Context(), tpl.ID, sections); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sections)
}

func (a *App) handleSaveLines(w http.ResponseWriter, r *http.Request) {
	var lines []model.LineDecoration
	if err := decodeBody(r, &lines); err != nil {
		a.writeError(w, r, err)
		return
	}

	if err := a.fleet.SaveTemplateLines(r.Context(), mux.Vars(r)["id"], lines); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// editLines loads a template's decorations into a layout, applies edit and saves the result.
func (a *App) editLines(ctx context.Context, id string, edit func(*receipt.LineLayout) error) (*receipt.LineLayout, error) {
	a.templateMu.Lock()
	defer a.templateMu.Unlock()

	tpl, err := a.loadTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	layout := receipt.NewLineLayout(tpl.Lines, a.cfg.LineUniverse)
	if err := edit(layout); err != nil {
		return nil, err
	}
	if err := a.fleet.SaveTemplateLines(ctx, tpl.ID, layout.Decorations()); err != nil {
		return nil, err
	}
	return layout, nil
}

func (a *App) handleAddLine(w http.ResponseWriter, r *http.Request) {
	var added model.LineDecoration
	_, err := a.editLines(r.Context(), mux.Vars(r)["id"], func(l *receipt.LineLayout) error {
		d, err := l.Add()
		added = d
		return err
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (a *App) handleEditLine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Line      *int             `json:"line"`
		FontSize  *int             `json:"fontSize"`
		Alignment *model.Alignment `json:"alignment"`
	}
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	lineID := vars["lineId"]

	layout, err := a.editLines(r.Context(), vars["id"], func(l *receipt.LineLayout) error {
		if err := l.Select(lineID); err != nil {
			return err
		}
		if req.Line != nil {
			if err := l.SetLine(lineID, *req.Line); err != nil {
				return err
			}
		}
		if req.FontSize != nil || req.Alignment != nil {
			cur, _ := l.Selected()
			size, align := cur.FontSize, cur.Alignment
			if req.FontSize != nil {
				size = *req.FontSize
			}
			if req.Alignment != nil {
				align = *req.Alignment
			}
			return l.SetStyle(lineID, size, align)
		}
		return nil
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	d, _ := layout.Selected()
	writeJSON(w, http.StatusOK, d)
}

func (a *App) handleDeleteLine(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if _, err := a.editLines(r.Context(), vars["id"], func(l *receipt.LineLayout) error {
		return l.Delete(vars["lineId"])
	}); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handlePreview(w http.ResponseWriter, r *http.Request) {
	scheme, err := receipt.ParseScheme(r.URL.Query().Get("scheme"))
	if err != nil {
		a.writeError(w, r, apperr.Validation(err.Error()))
		return
	}

	tpl, err := a.loadTemplate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Template     string                `json:"template"`
		Scheme       receipt.Scheme        `json:"scheme"`
		Instructions []receipt.Instruction `json:"instructions"`
	}{
		Template:     tpl.ID,
		Scheme:       scheme,
		Instructions: receipt.Compose(receipt.SampleReceipt(), receipt.ModelFor(tpl, scheme)),
	})
}

func (a *App) handleRefreshStore(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	for _, s := range a.refreshers() {
		if s.Name() == name {
			s.Refresh()
			writeJSON(w, http.StatusAccepted, map[string]string{"store": name, "status": "refreshing"})
			return
		}
	}
	a.writeError(w, r, apperr.New(apperr.CodeNotFound, fmt.Sprintf("unknown store %q", name)))
}
