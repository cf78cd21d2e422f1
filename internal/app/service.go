package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskhub/api/internal/auth"
	"taskhub/api/internal/authpw"
	"taskhub/api/internal/config"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
)

// Actor is the authenticated caller. It is passed explicitly into every
// use case and narrows every query through its Viewer.
type Actor struct {
	UserID   int64
	UserName string
	Admin    bool
}

func (a Actor) viewer() store.Viewer {
	return store.Viewer{UserID: a.UserID, Admin: a.Admin}
}

func (a Actor) role() rbac.Role {
	return rbac.For(a.Admin)
}

type Session struct {
	Actor
	Token        string
	RefreshToken string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(context.Context) error

	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByID(context.Context, int64) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	ListUsers(context.Context, store.Viewer) ([]store.User, error)

	ListWorkspaces(context.Context, store.Viewer) ([]store.Workspace, error)
	GetWorkspace(context.Context, store.Viewer, int64) (store.Workspace, error)
	CreateWorkspace(context.Context, store.Workspace) (store.Workspace, error)
	UpdateWorkspace(context.Context, store.Viewer, store.Workspace) (store.Workspace, error)
	DeleteWorkspace(context.Context, store.Viewer, int64) error

	ListLabels(context.Context, store.Viewer, store.LabelKind, int64) ([]store.Label, error)
	GetLabel(context.Context, store.Viewer, store.LabelKind, int64) (store.Label, error)
	CreateLabel(context.Context, store.Viewer, store.Label) (store.Label, error)
	UpdateLabel(context.Context, store.Viewer, store.Label) (store.Label, error)
	DeleteLabel(context.Context, store.Viewer, store.LabelKind, int64) error

	ListCategories(context.Context, store.Viewer, int64) ([]store.Category, error)
	GetCategory(context.Context, store.Viewer, int64) (store.Category, error)
	CreateCategory(context.Context, store.Viewer, store.Category) (store.Category, error)
	UpdateCategory(context.Context, store.Viewer, store.Category) (store.Category, error)
	DeleteCategory(context.Context, store.Viewer, int64) error

	ListComments(context.Context, store.Viewer, store.CommentKind, int64) ([]store.Comment, error)
	GetComment(context.Context, store.Viewer, store.CommentKind, int64) (store.Comment, error)
	CreateComment(context.Context, store.Viewer, store.CommentKind, store.Comment) (store.Comment, error)
	UpdateComment(context.Context, store.Viewer, store.CommentKind, store.Comment) (store.Comment, error)
	DeleteComment(context.Context, store.Viewer, store.CommentKind, int64) error

	ListWorkItems(context.Context, store.Viewer, store.ItemKind, store.ItemFilter) ([]store.WorkItem, error)
	GetWorkItem(context.Context, store.Viewer, store.ItemKind, int64) (store.WorkItem, error)
	CreateWorkItem(context.Context, store.Viewer, store.ItemKind, store.WorkItem) (store.WorkItem, error)
	UpdateWorkItem(context.Context, store.Viewer, store.ItemKind, store.WorkItem) (store.WorkItem, error)
	DeleteWorkItem(context.Context, store.Viewer, store.ItemKind, int64) error
}

// sessionStore keeps refresh sessions and the access token denylist. Both
// the Postgres store and session.RedisStore implement it.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, int64, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type searcher interface {
	Search(context.Context, search.Query) search.Response
	IndexItem(search.ResultType, search.ItemRecord)
	IndexComment(search.CommentRecord)
	Forget(search.ResultType, ...string)
	PrimaryStatus() string
}

type pinger interface {
	Ping(context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   searcher
	accounts *authpw.Service
	signer   *auth.Signer
	links    links
	logger   *zap.Logger
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore, searchService searcher, logger *zap.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		search:   searchService,
		accounts: authpw.NewService(dataStore),
		signer:   auth.NewSigner(cfg.JWTSecret),
		links:    links{base: strings.TrimRight(cfg.PublicURL, "/") + "/api"},
		logger:   logger,
	}
}

func (s *Service) SignUp(ctx context.Context, username, email, password string) (map[string]any, error) {
	user, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{Username: username, Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user signed up", zap.Int64("user_id", user.ID))
	return s.userPayload(user), nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token. The user is reloaded so changes to the
// admin flag apply from the next access token on.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := s.signer.Issue(auth.Claims{
		Sub:   strconv.FormatInt(user.ID, 10),
		Name:  user.Username,
		Admin: user.IsAdmin,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewSecret(16)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Actor:        Actor{UserID: user.ID, UserName: user.Username, Admin: user.IsAdmin},
		Token:        token,
		RefreshToken: refresh,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken verifies an access token. Identity comes from the
// signed claims; the denylist catches logged out tokens.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	userID, err := claims.UserID()
	if err != nil {
		return Session{}, err
	}
	return Session{
		Actor:     Actor{UserID: userID, UserName: claims.Name, Admin: claims.Admin},
		Token:     token,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	var errs []error
	if session.JTI != "" {
		errs = append(errs, s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt))
	}
	if refreshToken != "" {
		errs = append(errs, s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)))
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("logout incomplete", zap.Int64("user_id", session.UserID), zap.Error(err))
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context, actor Actor) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx, actor.viewer())
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, s.userPayload(user))
	}
	return items, nil
}

// GetUser only resolves other accounts for admins.
func (s *Service) GetUser(ctx context.Context, actor Actor, id int64) (map[string]any, error) {
	if id != actor.UserID && !rbac.Can(actor.role(), rbac.ActionManage) {
		return nil, notFoundError()
	}
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.userPayload(user), nil
}

func (s *Service) userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"username":  user.Username,
		"email":     user.Email,
		"isAdmin":   user.IsAdmin,
		"createdAt": user.CreatedAt,
		"url":       s.links.user(user.ID),
	}
}

// Search runs a full-text query limited to what actor can see.
func (s *Service) Search(ctx context.Context, actor Actor, text, kind string, workspaceID int64, limit int) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fieldError("q", "This field is required.")
	}
	rtyp := search.ResultType(strings.TrimSpace(kind))
	if !rtyp.Valid() {
		return nil, fieldError("type", fmt.Sprintf("%q is not a searchable type", kind))
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	resp := s.search.Search(ctx, search.Query{
		Text:        text,
		Type:        rtyp,
		WorkspaceID: workspaceID,
		UserID:      actor.UserID,
		Admin:       actor.Admin,
		Limit:       limit,
	})
	results := make([]map[string]any, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]any{
			"type":      r.Type,
			"id":        r.ID,
			"title":     r.Title,
			"snippet":   r.Snippet,
			"workspace": r.WorkspaceID,
			"url":       s.links.searchResult(r),
		})
	}
	return map[string]any{
		"results": results,
		"total":   resp.Total,
		"query":   resp.Query,
		"backend": resp.Backend,
	}, nil
}

// Ready reports per-dependency status for the readiness probe.
func (s *Service) Ready(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := map[string]any{}

	if err := s.store.Ping(ctx); err != nil {
		ready = false
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	} else {
		checks["database"] = map[string]any{"status": "ok"}
	}

	if p, ok := s.sessions.(pinger); ok && p != pinger(s.store) {
		if err := p.Ping(ctx); err != nil {
			ready = false
			checks["sessions"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["sessions"] = map[string]any{"status": "ok"}
		}
	}

	// Search degrades to Postgres, so it never fails readiness.
	checks["search"] = map[string]any{"status": s.search.PrimaryStatus()}
	return ready, checks
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func requireText(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fieldError(field, "This field is required.")
	}
	return value, nil
}

// authorize gates updates and deletes of an owned row.
func authorize(actor Actor, ownerID int64) error {
	if !rbac.CanMutate(actor.role(), actor.UserID, ownerID) {
		return forbidden()
	}
	return nil
}

var errUnsupported = domainError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
