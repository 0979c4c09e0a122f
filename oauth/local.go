package oauth

import (
	"log/slog"
	"net/http"
	"net/url"
)

var _ Adapter = (*LocalAdapter)(nil)

// LocalAdapter approves every authorization attempt without
// authenticating an end user: it mints a code and redirects straight
// back to the client. Suitable for development and for deployments
// where possession of the client credentials is the whole trust model.
type LocalAdapter struct {
	Store  TokenStore
	Logger *slog.Logger
}

func (a *LocalAdapter) Authorize(w http.ResponseWriter, r *http.Request, req *AuthorizationRequest) {
	ctx := r.Context()
	log := a.Logger
	if log == nil {
		log = slog.Default()
	}

	code, err := a.Store.IssueCode(ctx, *req)
	if err != nil {
		log.ErrorContext(ctx, "store.code.issue.fail", slog.String("err", err.Error()))
		http.Error(w, "failed to issue authorization code", http.StatusInternalServerError)
		return
	}

	target, err := url.Parse(req.RedirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	q := target.Query()
	q.Set("code", code)
	if req.ClientState != "" {
		q.Set("state", req.ClientState)
	}
	target.RawQuery = q.Encode()

	log.InfoContext(ctx, "authorize.local.ok")
	http.Redirect(w, r, target.String(), http.StatusFound)
}
