package account

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const maxBodyBytes = 64 << 10

// Handler exposes the account REST surface: session login/whoami/logout and
// the admin user management endpoints.
type Handler struct {
	log *slog.Logger
	svc *Service

	// SecureCookie marks session cookies Secure; off for plain-HTTP dev.
	secureCookie bool
}

// NewHandler constructs the account HTTP handler.
func NewHandler(log *slog.Logger, svc *Service, secureCookie bool) *Handler {
	return &Handler{log: log, svc: svc, secureCookie: secureCookie}
}

// Register wires account routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session", h.handleLogin)
	mux.HandleFunc("GET /api/session", h.handleWhoami)
	mux.HandleFunc("DELETE /api/session", h.handleLogout)

	mux.HandleFunc("GET /api/user", h.handleUserList)
	mux.HandleFunc("GET /api/user/{name}", h.handleUserGet)
	mux.HandleFunc("POST /api/user/{name}", h.handleUserUpsert)
	mux.HandleFunc("DELETE /api/user/{name}", h.handleUserDelete)
}

type loginRequest struct {
	UserName string `json:"user_name"`
	Password string `json:"password"`
}

// userInfoResponse is the session payload. On a fresh login LastLogin shows
// the previous visit, which is why Login returns the pre-update row.
type userInfoResponse struct {
	Login     bool       `json:"login"`
	UserName  *string    `json:"user_name,omitempty"`
	RealName  *string    `json:"real_name,omitempty"`
	Class     *string    `json:"class,omitempty"`
	StudentID *string    `json:"student_id,omitempty"`
	Role      *string    `json:"role,omitempty"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

func userInfo(u User) userInfoResponse {
	return userInfoResponse{
		Login:     true,
		UserName:  &u.UserName,
		RealName:  u.RealName,
		Class:     u.Class,
		StudentID: u.StudentID,
		Role:      &u.Role,
		LastLogin: u.LastLogin,
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed login body")
		return
	}

	res, err := h.svc.Login(r.Context(), req.UserName, req.Password)
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			// Failed login is a normal outcome, not an HTTP error.
			writeJSON(w, http.StatusOK, userInfoResponse{})
			return
		}
		h.log.Error("account.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}

	http.SetCookie(w, h.sessionCookie(res.Token, int(h.svc.ttl/time.Second)))
	writeJSON(w, http.StatusOK, userInfo(res.User))
}

func (h *Handler) handleWhoami(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.UserFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusOK, userInfoResponse{})
		return
	}
	writeJSON(w, http.StatusOK, userInfo(u))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CookieName); err == nil {
		if err := h.svc.Logout(r.Context(), c.Value); err != nil {
			h.log.Warn("account.logout.fail", "err", err)
		}
	}
	http.SetCookie(w, h.sessionCookie("", -1))
	writeJSON(w, http.StatusOK, true)
}

type userListResponse struct {
	Offset int64              `json:"offset"`
	Limit  int64              `json:"limit"`
	Total  int64              `json:"total"`
	Users  []userInfoResponse `json:"users"`
}

func (h *Handler) handleUserList(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	offset := queryInt64(r, "offset", 0)
	limit := queryInt64(r, "limit", 20)

	users, err := h.svc.users.List(r.Context(), offset, limit)
	if err != nil {
		h.log.Error("account.user_list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "list failed")
		return
	}
	total, err := h.svc.users.Count(r.Context())
	if err != nil {
		h.log.Error("account.user_count.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "count failed")
		return
	}

	out := userListResponse{Offset: offset, Limit: limit, Total: total, Users: []userInfoResponse{}}
	for _, u := range users {
		out.Users = append(out.Users, userInfo(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleUserGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	u, err := h.svc.users.GetByName(r.Context(), r.PathValue("name"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such user")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, userInfo(u))
}

type userUpsertRequest struct {
	RealName  *string `json:"real_name"`
	Class     *string `json:"class"`
	StudentID *string `json:"student_id"`
	Role      *string `json:"role"`
	Password  *string `json:"password"`
}

// handleUserUpsert updates the named user, creating it first when missing.
func (h *Handler) handleUserUpsert(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	var req userUpsertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed user body")
		return
	}
	if req.Role != nil && *req.Role != RoleUser && *req.Role != RoleAdmin {
		writeError(w, http.StatusBadRequest, "bad_request", "unknown role")
		return
	}

	name := r.PathValue("name")
	u, err := h.svc.users.GetByName(r.Context(), name)
	if errors.Is(err, ErrNotFound) {
		u, err = h.svc.users.Create(r.Context(), NewUser{UserName: name})
	}
	if err != nil {
		h.log.Error("account.user_upsert.fail", "user", name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "upsert failed")
		return
	}

	if req.RealName != nil {
		u.RealName = req.RealName
	}
	if req.Class != nil {
		u.Class = req.Class
	}
	if req.StudentID != nil {
		u.StudentID = req.StudentID
	}
	if req.Role != nil {
		u.Role = *req.Role
	}
	if req.Password != nil {
		hash, err := h.svc.pass.Hash(*req.Password)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "password rejected by policy")
			return
		}
		u.PasswordHash = &hash
	}

	if err := h.svc.users.Update(r.Context(), u); err != nil {
		h.log.Error("account.user_upsert.fail", "user", name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "upsert failed")
		return
	}
	writeJSON(w, http.StatusOK, userInfo(u))
}

func (h *Handler) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	if admin, ok := h.requireAdmin(w, r); !ok {
		return
	} else if admin.UserName == NormalizeUserName(r.PathValue("name")) {
		writeError(w, http.StatusBadRequest, "bad_request", "cannot delete yourself")
		return
	}

	err := h.svc.users.Delete(r.Context(), r.PathValue("name"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such user")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, true)
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (User, bool) {
	u, err := h.svc.UserFromRequest(r)
	if err != nil || !u.IsAdmin() {
		writeError(w, http.StatusForbidden, "forbidden", "admin only")
		return User{}, false
	}
	return u, true
}

func (h *Handler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}

func queryInt64(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
